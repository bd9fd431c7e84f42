package elasticsearch

import (
	"encoding/json"
	"regexp"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pr-poehali-dev/velund-ai-project/services/search/internal/catalog"
	"github.com/pr-poehali-dev/velund-ai-project/services/search/internal/domain"
	"github.com/pr-poehali-dev/velund-ai-project/services/search/internal/interpreter"
)

func newQueryStore() *Store {
	return &Store{dict: interpreter.DefaultDictionary(), limit: 100}
}

func TestBuildCandidatesQuery(t *testing.T) {
	price := decimal.NewFromInt(90000)
	q := domain.ParsedQuery{Product: "швеллер 14П", City: "Казани", MaxPrice: &price, Category: "швеллер"}

	data, err := json.Marshal(newQueryStore().buildCandidatesQuery(q))
	require.NoError(t, err)

	assert.JSONEq(t, `{
		"query": {"bool": {"filter": [
			{"range": {"price": {"lte": 90000}}},
			{"term": {"city_key": "Казань"}},
			{"term": {"category_key": "швеллеры"}},
			{"regexp": {"name_norm": {"value": "(.* )?швеллер.*"}}},
			{"regexp": {"name_norm": {"value": "(.* )?14п.*"}}}
		]}},
		"size": 100,
		"sort": [{"price": "asc"}, {"rating": "desc"}, {"id": "asc"}]
	}`, string(data))
}

func TestKeywordRegexp(t *testing.T) {
	assert.Equal(t, "(.* )?20([^0-9].*)?", keywordRegexp("20"))
	assert.Equal(t, `(.* )?1\.5([^0-9].*)?`, keywordRegexp("1.5"))

	tests := []struct {
		kw    string
		name  string
		match bool
	}{
		{"20", "круг 20 ст3", true},
		{"20", "круг 20х2", true},
		{"20", "круг 200", false},
		{"20", "круг 120", false},
		{"труб", "труба профильная", true},
		{"труб", "стальтруба", false},
	}
	for _, tt := range tests {
		t.Run(tt.kw+" in "+tt.name, func(t *testing.T) {
			// Lucene regexps match the whole value.
			re := regexp.MustCompile("^(?:" + keywordRegexp(tt.kw) + ")$")
			assert.Equal(t, tt.match, re.MatchString(tt.name))
		})
	}
}

func TestBuildCandidatesQuery_NoFilters(t *testing.T) {
	data, err := json.Marshal(newQueryStore().buildCandidatesQuery(domain.ParsedQuery{}))
	require.NoError(t, err)

	assert.JSONEq(t, `{
		"query": {"match_all": {}},
		"size": 100,
		"sort": [{"price": "asc"}, {"rating": "desc"}, {"id": "asc"}]
	}`, string(data))
}

func TestBuildCandidatesQuery_UnknownCity(t *testing.T) {
	data, err := json.Marshal(newQueryStore().buildCandidatesQuery(domain.ParsedQuery{City: " Урюпинск "}))
	require.NoError(t, err)
	assert.Contains(t, string(data), `{"term":{"city_key":"урюпинск"}}`)
}

func TestNewListingDoc(t *testing.T) {
	s := newQueryStore()
	sup := domain.Supplier{ID: 7, CompanyName: "Металлбаза", City: "СПб", Phone: "+7 812", Rating: 4.5}

	t.Run("supplier city applies", func(t *testing.T) {
		p := domain.Product{ID: 1, SupplierID: 7, Name: "Швеллер 14П ст3", Price: decimal.NewFromInt(85000), Unit: "т"}
		doc := s.newListingDoc(p, sup)

		assert.Equal(t, "СПб", doc.City)
		assert.Equal(t, "Санкт-Петербург", doc.CityKey)
		assert.Empty(t, doc.ProductCity)
		assert.Equal(t, "СПб", doc.SupplierCity)
		assert.Equal(t, "швеллеры", doc.CategoryKey)
		assert.Equal(t, "швеллер 14п ст3", doc.NameNorm)
		assert.Equal(t, "Металлбаза", doc.CompanyName)
	})

	t.Run("product city wins", func(t *testing.T) {
		p := domain.Product{ID: 2, SupplierID: 7, Name: "Лист 3мм", City: "Казань", Category: "Листы"}
		doc := s.newListingDoc(p, sup)

		assert.Equal(t, "Казань", doc.City)
		assert.Equal(t, "Казань", doc.CityKey)
		assert.Equal(t, "Казань", doc.ProductCity)
		assert.Equal(t, "листы", doc.CategoryKey)
	})

	t.Run("flattened json", func(t *testing.T) {
		p := domain.Product{ID: 3, SupplierID: 7, Name: "Заглушка", Price: decimal.RequireFromString("12.5")}
		data, err := json.Marshal(s.newListingDoc(p, sup))
		require.NoError(t, err)

		var raw map[string]any
		require.NoError(t, json.Unmarshal(data, &raw))
		assert.Equal(t, 12.5, raw["price"])
		assert.Equal(t, "заглушка", raw["name_norm"])
		assert.NotContains(t, raw, "category_key")
		assert.NotContains(t, raw, "Listing")

		var back listingDoc
		require.NoError(t, json.Unmarshal(data, &back))
		assert.True(t, back.Price.Equal(p.Price))
		assert.Equal(t, int64(3), back.ID)
	})
}

func TestStatsFromAggregations(t *testing.T) {
	var listings, suppliers esAggResponse
	require.NoError(t, json.Unmarshal([]byte(`{
		"hits": {"total": {"value": 5}},
		"aggregations": {"categories": {"buckets": [
			{"key": "швеллеры", "doc_count": 3, "avg_price": {"value": 86000.3333}},
			{"key": "прочее", "doc_count": 2, "avg_price": {"value": null}}
		]}}
	}`), &listings))
	require.NoError(t, json.Unmarshal([]byte(`{
		"hits": {"total": {"value": 4}},
		"aggregations": {"cities": {"buckets": [
			{"key": "Москва", "doc_count": 2},
			{"key": "", "doc_count": 1},
			{"key": "Казань", "doc_count": 1}
		]}}
	}`), &suppliers))

	stats := statsFromAggregations(listings, suppliers)

	assert.Equal(t, 5, stats.Products)
	assert.Equal(t, 4, stats.Suppliers)
	require.Len(t, stats.Categories, 2)
	assert.Equal(t, "швеллеры", stats.Categories[0].Category)
	assert.Equal(t, 3, stats.Categories[0].Count)
	assert.Equal(t, "86000.33", stats.Categories[0].AvgPrice.String())
	assert.Equal(t, catalog.OtherCategory, stats.Categories[1].Category)
	assert.True(t, stats.Categories[1].AvgPrice.IsZero())
	assert.Equal(t, []domain.CityStat{{City: "Москва", Suppliers: 2}, {City: "Казань", Suppliers: 1}}, stats.Cities)
}

func TestStatsFromAggregations_Empty(t *testing.T) {
	stats := statsFromAggregations(esAggResponse{}, esAggResponse{})
	assert.NotNil(t, stats.Categories)
	assert.NotNil(t, stats.Cities)
	assert.Zero(t, stats.Products)
}

func TestBuildIndexBody(t *testing.T) {
	for _, mappings := range []string{listingMappings, supplierMappings} {
		assert.True(t, json.Valid([]byte(buildIndexBody(mappings, ""))))

		var body map[string]json.RawMessage
		require.NoError(t, json.Unmarshal([]byte(buildIndexBody(mappings, DefaultIndexName)), &body))
		assert.JSONEq(t, `{"velund_listings": {}}`, string(body["aliases"]))
	}
}
