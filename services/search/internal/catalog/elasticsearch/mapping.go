package elasticsearch

import "fmt"

// DefaultIndexName is the default alias of the listings index. Suppliers
// live behind the same alias with a "_suppliers" suffix.
const DefaultIndexName = "velund_listings"

const indexSettings = `{
    "number_of_shards": 1,
    "number_of_replicas": 0,
    "analysis": {
      "analyzer": {
        "russian_analyzer": {
          "type": "custom",
          "tokenizer": "standard",
          "filter": ["lowercase", "russian_stop", "russian_stemmer"]
        }
      },
      "filter": {
        "russian_stop": {
          "type": "stop",
          "stopwords": "_russian_"
        },
        "russian_stemmer": {
          "type": "stemmer",
          "language": "russian"
        }
      }
    }
  }`

// Listing documents carry the normalized keys the ranking engine compares
// on, so term filters in the index agree with the in-process filter.
const listingMappings = `{
    "properties": {
      "id":            { "type": "long" },
      "supplier_id":   { "type": "long" },
      "name":          { "type": "text", "analyzer": "russian_analyzer", "fields": { "keyword": { "type": "keyword", "ignore_above": 512 } } },
      "name_norm":     { "type": "keyword", "ignore_above": 512 },
      "price":         { "type": "scaled_float", "scaling_factor": 100 },
      "unit":          { "type": "keyword" },
      "quantity":      { "type": "double" },
      "city":          { "type": "keyword" },
      "city_key":      { "type": "keyword" },
      "product_city":  { "type": "keyword" },
      "supplier_city": { "type": "keyword" },
      "category":      { "type": "keyword" },
      "category_key":  { "type": "keyword" },
      "company_name":  { "type": "text", "fields": { "keyword": { "type": "keyword" } } },
      "phone":         { "type": "keyword", "index": false },
      "email":         { "type": "keyword", "index": false },
      "rating":        { "type": "float" }
    }
  }`

const supplierMappings = `{
    "properties": {
      "id":           { "type": "long" },
      "company_name": { "type": "text", "fields": { "keyword": { "type": "keyword" } } },
      "city":         { "type": "keyword" },
      "phone":        { "type": "keyword", "index": false },
      "email":        { "type": "keyword", "index": false },
      "rating":       { "type": "float" },
      "updated_at":   { "type": "date" }
    }
  }`

// buildIndexBody returns the create-index body for a concrete index. A
// non-empty alias is attached on creation.
func buildIndexBody(mappings, alias string) string {
	if alias == "" {
		return fmt.Sprintf(`{"settings": %s, "mappings": %s}`, indexSettings, mappings)
	}
	return fmt.Sprintf(`{"settings": %s, "mappings": %s, "aliases": {%q: {}}}`, indexSettings, mappings, alias)
}
