package elasticsearch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
	"github.com/shopspring/decimal"

	apperrors "github.com/pr-poehali-dev/velund-ai-project/pkg/errors"
	"github.com/pr-poehali-dev/velund-ai-project/services/search/internal/catalog"
	"github.com/pr-poehali-dev/velund-ai-project/services/search/internal/domain"
	"github.com/pr-poehali-dev/velund-ai-project/services/search/internal/interpreter"
)

// DefaultCandidateLimit bounds the documents a single search reads.
const DefaultCandidateLimit = 1000

// Config configures the Elasticsearch catalog.
type Config struct {
	URL            string
	Index          string
	CandidateLimit int
}

// Store implements catalog.Store on Elasticsearch. Listings and suppliers
// live in two indices reached through aliases; Replace fills fresh indices
// and swaps both aliases in one request.
type Store struct {
	client         *elasticsearch.Client
	listingsAlias  string
	suppliersAlias string
	dict           *interpreter.Dictionary
	limit          int
	logger         *slog.Logger
}

// listingDoc is the indexed form of a listing.
type listingDoc struct {
	domain.Listing
	NameNorm     string `json:"name_norm"`
	ProductCity  string `json:"product_city,omitempty"`
	SupplierCity string `json:"supplier_city"`
	CityKey      string `json:"city_key"`
	CategoryKey  string `json:"category_key,omitempty"`
}

type esSearchResponse struct {
	Hits struct {
		Total struct {
			Value int `json:"value"`
		} `json:"total"`
		Hits []struct {
			Source listingDoc `json:"_source"`
		} `json:"hits"`
	} `json:"hits"`
}

type esBucket struct {
	Key      string `json:"key"`
	DocCount int    `json:"doc_count"`
	AvgPrice struct {
		Value *float64 `json:"value"`
	} `json:"avg_price"`
}

type esAggResponse struct {
	Hits struct {
		Total struct {
			Value int `json:"value"`
		} `json:"total"`
	} `json:"hits"`
	Aggregations map[string]struct {
		Buckets []esBucket `json:"buckets"`
	} `json:"aggregations"`
}

type esGetResponse struct {
	Found  bool            `json:"found"`
	Source domain.Supplier `json:"_source"`
}

type esBulkResponse struct {
	Errors bool `json:"errors"`
	Items  []struct {
		Index struct {
			ID     string `json:"_id"`
			Status int    `json:"status"`
			Error  struct {
				Type   string `json:"type"`
				Reason string `json:"reason"`
			} `json:"error"`
		} `json:"index"`
	} `json:"items"`
}

type esErrorResponse struct {
	Error struct {
		Type   string `json:"type"`
		Reason string `json:"reason"`
	} `json:"error"`
	Status int `json:"status"`
}

// New connects to Elasticsearch and makes sure both indices exist. If
// cfg.Index is empty, DefaultIndexName is used.
func New(ctx context.Context, cfg Config, dict *interpreter.Dictionary, logger *slog.Logger) (*Store, error) {
	if cfg.Index == "" {
		cfg.Index = DefaultIndexName
	}
	if cfg.CandidateLimit <= 0 {
		cfg.CandidateLimit = DefaultCandidateLimit
	}

	client, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses: []string{cfg.URL},
	})
	if err != nil {
		return nil, fmt.Errorf("elasticsearch: failed to create client: %w", err)
	}

	s := &Store{
		client:         client,
		listingsAlias:  cfg.Index,
		suppliersAlias: cfg.Index + "_suppliers",
		dict:           dict,
		limit:          cfg.CandidateLimit,
		logger:         logger,
	}

	if err := s.ensureIndex(ctx, s.listingsAlias, listingMappings); err != nil {
		return nil, fmt.Errorf("elasticsearch: failed to ensure index: %w", err)
	}
	if err := s.ensureIndex(ctx, s.suppliersAlias, supplierMappings); err != nil {
		return nil, fmt.Errorf("elasticsearch: failed to ensure index: %w", err)
	}
	return s, nil
}

// Ping checks whether the Elasticsearch cluster is reachable.
func (s *Store) Ping(ctx context.Context) error {
	res, err := s.client.Ping(s.client.Ping.WithContext(ctx))
	if err != nil {
		return unavailable("ping", err)
	}
	defer func() { _ = res.Body.Close() }()

	if res.IsError() {
		return responseError("ping", res)
	}
	return nil
}

// ensureIndex creates a concrete index behind alias unless the alias
// already resolves.
func (s *Store) ensureIndex(ctx context.Context, alias, mappings string) error {
	res, err := s.client.Indices.Exists([]string{alias}, s.client.Indices.Exists.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("check index exists: %w", err)
	}
	defer func() { _ = res.Body.Close() }()

	if res.StatusCode == http.StatusOK {
		s.logger.Info("elasticsearch index already exists", "index", alias)
		return nil
	}

	name, err := s.createIndex(ctx, alias, mappings, true)
	if err != nil {
		return err
	}
	s.logger.Info("elasticsearch index created", "index", name, "alias", alias)
	return nil
}

// createIndex creates a new concrete index for alias and returns its name.
// The alias is attached at creation only when attach is set.
func (s *Store) createIndex(ctx context.Context, alias, mappings string, attach bool) (string, error) {
	name := alias + "_" + strconv.FormatInt(time.Now().UnixNano(), 10)
	body := buildIndexBody(mappings, "")
	if attach {
		body = buildIndexBody(mappings, alias)
	}

	res, err := s.client.Indices.Create(
		name,
		s.client.Indices.Create.WithBody(strings.NewReader(body)),
		s.client.Indices.Create.WithContext(ctx),
	)
	if err != nil {
		return "", unavailable("create index", err)
	}
	defer func() { _ = res.Body.Close() }()

	if res.IsError() {
		return "", responseError("create index", res)
	}
	return name, nil
}

// Candidates returns listings matching the price, city, category and keyword
// filters of q, cheapest first.
func (s *Store) Candidates(ctx context.Context, q domain.ParsedQuery) ([]domain.Listing, error) {
	var esResp esSearchResponse
	if err := s.search(ctx, "search", s.listingsAlias, s.buildCandidatesQuery(q), &esResp); err != nil {
		return nil, err
	}

	listings := make([]domain.Listing, 0, len(esResp.Hits.Hits))
	for _, hit := range esResp.Hits.Hits {
		listings = append(listings, hit.Source.Listing)
	}
	return listings, nil
}

// buildCandidatesQuery constructs the query DSL. Every clause is a filter:
// ordering is fixed and never depends on scoring.
func (s *Store) buildCandidatesQuery(q domain.ParsedQuery) map[string]any {
	var filters []any

	if q.MaxPrice != nil {
		filters = append(filters, map[string]any{
			"range": map[string]any{
				"price": map[string]any{"lte": *q.MaxPrice},
			},
		})
	}

	if q.City != "" {
		filters = append(filters, map[string]any{
			"term": map[string]any{"city_key": s.dict.CityKey(q.City)},
		})
	}

	if q.Category != "" {
		filters = append(filters, map[string]any{
			"term": map[string]any{"category_key": s.dict.CategoryKey(q.Category, "")},
		})
	}

	for _, kw := range interpreter.Keywords(q.Product) {
		filters = append(filters, map[string]any{
			"regexp": map[string]any{"name_norm": map[string]any{"value": keywordRegexp(kw)}},
		})
	}

	query := map[string]any{"match_all": map[string]any{}}
	if len(filters) > 0 {
		query = map[string]any{"bool": map[string]any{"filter": filters}}
	}

	return map[string]any{
		"query": query,
		"size":  s.limit,
		"sort": []any{
			map[string]any{"price": "asc"},
			map[string]any{"rating": "desc"},
			map[string]any{"id": "asc"},
		},
	}
}

// luceneReserved are the characters escaped in a Lucene regular expression.
const luceneReserved = `.?+*|{}[]()"\#@&<>~`

// keywordRegexp matches a whole name_norm value that has a token starting
// with kw. A numeric keyword must not run into another digit.
func keywordRegexp(kw string) string {
	var b strings.Builder
	b.WriteString("(.* )?")
	for _, r := range kw {
		if strings.ContainsRune(luceneReserved, r) {
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	if last, _ := utf8.DecodeLastRuneInString(kw); unicode.IsDigit(last) {
		b.WriteString("([^0-9].*)?")
	} else {
		b.WriteString(".*")
	}
	return b.String()
}

// Suggest returns distinct product names whose normalized form starts with
// prefix, cheapest first.
func (s *Store) Suggest(ctx context.Context, prefix string, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 10
	}
	want := interpreter.NormalizeText(prefix)
	if want == "" {
		return []string{}, nil
	}

	query := map[string]any{
		"size": 0,
		"query": map[string]any{
			"prefix": map[string]any{"name_norm": want},
		},
		"aggs": map[string]any{
			"names": map[string]any{
				"terms": map[string]any{
					"field": "name.keyword",
					"size":  limit,
					"order": []any{
						map[string]any{"min_price": "asc"},
						map[string]any{"_key": "asc"},
					},
				},
				"aggs": map[string]any{
					"min_price": map[string]any{"min": map[string]any{"field": "price"}},
				},
			},
		},
	}

	var esResp esAggResponse
	if err := s.search(ctx, "suggest", s.listingsAlias, query, &esResp); err != nil {
		return nil, err
	}

	buckets := esResp.Aggregations["names"].Buckets
	names := make([]string, 0, len(buckets))
	for _, b := range buckets {
		names = append(names, b.Key)
	}
	return names, nil
}

// Stats aggregates listings by category and suppliers by city.
func (s *Store) Stats(ctx context.Context) (*domain.MarketStats, error) {
	categoriesQuery := map[string]any{
		"size":             0,
		"track_total_hits": true,
		"aggs": map[string]any{
			"categories": map[string]any{
				"terms": map[string]any{
					"field":   "category_key",
					"missing": catalog.OtherCategory,
					"size":    catalog.StatsLimit,
					"order":   countOrder(),
				},
				"aggs": map[string]any{
					"avg_price": map[string]any{"avg": map[string]any{"field": "price"}},
				},
			},
		},
	}
	var listings esAggResponse
	if err := s.search(ctx, "stats", s.listingsAlias, categoriesQuery, &listings); err != nil {
		return nil, err
	}

	// One extra bucket in case suppliers without a city take a slot.
	citiesQuery := map[string]any{
		"size":             0,
		"track_total_hits": true,
		"aggs": map[string]any{
			"cities": map[string]any{
				"terms": map[string]any{
					"field": "city",
					"size":  catalog.StatsLimit + 1,
					"order": countOrder(),
				},
			},
		},
	}
	var suppliers esAggResponse
	if err := s.search(ctx, "stats", s.suppliersAlias, citiesQuery, &suppliers); err != nil {
		return nil, err
	}

	return statsFromAggregations(listings, suppliers), nil
}

func countOrder() []any {
	return []any{
		map[string]any{"_count": "desc"},
		map[string]any{"_key": "asc"},
	}
}

func statsFromAggregations(listings, suppliers esAggResponse) *domain.MarketStats {
	stats := &domain.MarketStats{
		Products:   listings.Hits.Total.Value,
		Suppliers:  suppliers.Hits.Total.Value,
		Categories: []domain.CategoryStat{},
		Cities:     []domain.CityStat{},
	}
	for _, b := range listings.Aggregations["categories"].Buckets {
		avg := decimal.Zero
		if b.AvgPrice.Value != nil {
			avg = decimal.NewFromFloat(*b.AvgPrice.Value).Round(2)
		}
		stats.Categories = append(stats.Categories, domain.CategoryStat{
			Category: b.Key,
			Count:    b.DocCount,
			AvgPrice: avg,
		})
	}
	for _, b := range suppliers.Aggregations["cities"].Buckets {
		if strings.TrimSpace(b.Key) == "" || len(stats.Cities) == catalog.StatsLimit {
			continue
		}
		stats.Cities = append(stats.Cities, domain.CityStat{City: b.Key, Suppliers: b.DocCount})
	}
	return stats
}

// UpsertSupplier indexes the supplier and rewrites the contact fields of its
// listings.
func (s *Store) UpsertSupplier(ctx context.Context, sup domain.Supplier) error {
	if sup.ID <= 0 {
		return apperrors.InvalidInput("supplier id must be positive")
	}
	if err := s.index(ctx, "index supplier", s.suppliersAlias, sup.ID, sup); err != nil {
		return err
	}

	body := map[string]any{
		"query": map[string]any{
			"term": map[string]any{"supplier_id": sup.ID},
		},
		"script": map[string]any{
			"lang":   "painless",
			"source": supplierScript,
			"params": map[string]any{
				"company_name": sup.CompanyName,
				"phone":        sup.Phone,
				"email":        sup.Email,
				"rating":       sup.Rating,
				"city":         sup.City,
				"city_key":     s.dict.CityKey(sup.City),
			},
		},
	}
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("elasticsearch update listings: marshal query: %w", err)
	}

	res, err := s.client.UpdateByQuery(
		[]string{s.listingsAlias},
		s.client.UpdateByQuery.WithBody(bytes.NewReader(data)),
		s.client.UpdateByQuery.WithConflicts("proceed"),
		s.client.UpdateByQuery.WithRefresh(true),
		s.client.UpdateByQuery.WithContext(ctx),
	)
	if err != nil {
		return unavailable("update listings", err)
	}
	defer func() { _ = res.Body.Close() }()

	if res.IsError() {
		return responseError("update listings", res)
	}

	s.logger.Debug("indexed supplier", "id", sup.ID)
	return nil
}

const supplierScript = `ctx._source.company_name = params.company_name;
ctx._source.phone = params.phone;
ctx._source.email = params.email;
ctx._source.rating = params.rating;
ctx._source.supplier_city = params.city;
if (ctx._source.product_city == null || ctx._source.product_city == '') {
  ctx._source.city = params.city;
  ctx._source.city_key = params.city_key;
}`

// UpsertProduct indexes the listing of p. The supplier must exist.
func (s *Store) UpsertProduct(ctx context.Context, p domain.Product) error {
	if err := catalog.ValidateProduct(p); err != nil {
		return err
	}
	sup, err := s.supplier(ctx, p.SupplierID)
	if err != nil {
		return err
	}
	if err := s.index(ctx, "index product", s.listingsAlias, p.ID, s.newListingDoc(p, sup)); err != nil {
		return err
	}

	s.logger.Debug("indexed product", "id", p.ID, "name", p.Name)
	return nil
}

func (s *Store) supplier(ctx context.Context, id int64) (domain.Supplier, error) {
	res, err := s.client.Get(
		s.suppliersAlias,
		strconv.FormatInt(id, 10),
		s.client.Get.WithContext(ctx),
	)
	if err != nil {
		return domain.Supplier{}, unavailable("get supplier", err)
	}
	defer func() { _ = res.Body.Close() }()

	if res.StatusCode == http.StatusNotFound {
		return domain.Supplier{}, apperrors.NotFound("supplier", strconv.FormatInt(id, 10))
	}
	if res.IsError() {
		return domain.Supplier{}, responseError("get supplier", res)
	}

	var doc esGetResponse
	if err := json.NewDecoder(res.Body).Decode(&doc); err != nil {
		return domain.Supplier{}, fmt.Errorf("elasticsearch get supplier: decode response: %w", err)
	}
	if !doc.Found {
		return domain.Supplier{}, apperrors.NotFound("supplier", strconv.FormatInt(id, 10))
	}
	return doc.Source, nil
}

// DeleteProduct removes a listing. A missing document is NotFound.
func (s *Store) DeleteProduct(ctx context.Context, id int64) error {
	res, err := s.client.Delete(
		s.listingsAlias,
		strconv.FormatInt(id, 10),
		s.client.Delete.WithRefresh("true"),
		s.client.Delete.WithContext(ctx),
	)
	if err != nil {
		return unavailable("delete", err)
	}
	defer func() { _ = res.Body.Close() }()

	if res.StatusCode == http.StatusNotFound {
		return apperrors.NotFound("product", strconv.FormatInt(id, 10))
	}
	if res.IsError() {
		return responseError("delete", res)
	}

	s.logger.Debug("deleted product", "id", id)
	return nil
}

// Replace indexes data into new indices and then points both aliases at
// them in one request, so searches see either the old or the new catalog.
func (s *Store) Replace(ctx context.Context, data catalog.Data) error {
	if err := data.Validate(); err != nil {
		return err
	}

	suppliersIndex, err := s.createIndex(ctx, s.suppliersAlias, supplierMappings, false)
	if err != nil {
		return err
	}
	listingsIndex, err := s.createIndex(ctx, s.listingsAlias, listingMappings, false)
	if err != nil {
		s.dropIndices(ctx, suppliersIndex)
		return err
	}

	if err := s.fill(ctx, suppliersIndex, listingsIndex, data); err != nil {
		s.dropIndices(ctx, suppliersIndex, listingsIndex)
		return err
	}

	previous, err := s.aliasedIndices(ctx, s.suppliersAlias, s.listingsAlias)
	if err != nil {
		s.dropIndices(ctx, suppliersIndex, listingsIndex)
		return err
	}
	if err := s.swapAliases(ctx, previous, map[string]string{
		s.suppliersAlias: suppliersIndex,
		s.listingsAlias:  listingsIndex,
	}); err != nil {
		s.dropIndices(ctx, suppliersIndex, listingsIndex)
		return err
	}

	old := make([]string, 0, len(previous))
	for index := range previous {
		old = append(old, index)
	}
	s.dropIndices(ctx, old...)

	s.logger.Info("catalog replaced",
		"suppliers", len(data.Suppliers),
		"products", len(data.Products),
		"index", listingsIndex,
	)
	return nil
}

func (s *Store) fill(ctx context.Context, suppliersIndex, listingsIndex string, data catalog.Data) error {
	suppliers := make(map[int64]domain.Supplier, len(data.Suppliers))
	var buf bytes.Buffer
	for _, sup := range data.Suppliers {
		suppliers[sup.ID] = sup
		if err := encodeBulk(&buf, suppliersIndex, sup.ID, sup); err != nil {
			return err
		}
	}
	if err := s.bulk(ctx, &buf); err != nil {
		return err
	}

	buf.Reset()
	for _, p := range data.Products {
		if err := encodeBulk(&buf, listingsIndex, p.ID, s.newListingDoc(p, suppliers[p.SupplierID])); err != nil {
			return err
		}
	}
	return s.bulk(ctx, &buf)
}

func encodeBulk(buf *bytes.Buffer, index string, id int64, doc any) error {
	action := map[string]any{
		"index": map[string]any{
			"_index": index,
			"_id":    strconv.FormatInt(id, 10),
		},
	}
	if err := json.NewEncoder(buf).Encode(action); err != nil {
		return fmt.Errorf("elasticsearch bulk index: encode action: %w", err)
	}
	if err := json.NewEncoder(buf).Encode(doc); err != nil {
		return fmt.Errorf("elasticsearch bulk index: encode document: %w", err)
	}
	return nil
}

func (s *Store) bulk(ctx context.Context, buf *bytes.Buffer) error {
	if buf.Len() == 0 {
		return nil
	}

	res, err := s.client.Bulk(
		bytes.NewReader(buf.Bytes()),
		s.client.Bulk.WithRefresh("true"),
		s.client.Bulk.WithContext(ctx),
	)
	if err != nil {
		return unavailable("bulk index", err)
	}
	defer func() { _ = res.Body.Close() }()

	if res.IsError() {
		return responseError("bulk index", res)
	}

	var bulkResp esBulkResponse
	if err := json.NewDecoder(res.Body).Decode(&bulkResp); err != nil {
		return fmt.Errorf("elasticsearch bulk index: decode response: %w", err)
	}

	if bulkResp.Errors {
		var errMsgs []string
		for _, item := range bulkResp.Items {
			if item.Index.Error.Type != "" {
				errMsgs = append(errMsgs, fmt.Sprintf("id=%s: %s: %s", item.Index.ID, item.Index.Error.Type, item.Index.Error.Reason))
			}
		}
		return fmt.Errorf("elasticsearch bulk index: partial errors: %s", strings.Join(errMsgs, "; "))
	}
	return nil
}

// aliasedIndices maps each concrete index currently behind one of the
// aliases to that alias.
func (s *Store) aliasedIndices(ctx context.Context, aliases ...string) (map[string]string, error) {
	res, err := s.client.Indices.GetAlias(
		s.client.Indices.GetAlias.WithName(aliases...),
		s.client.Indices.GetAlias.WithContext(ctx),
	)
	if err != nil {
		return nil, unavailable("get aliases", err)
	}
	defer func() { _ = res.Body.Close() }()

	out := make(map[string]string)
	if res.StatusCode == http.StatusNotFound {
		return out, nil
	}
	if res.IsError() {
		return nil, responseError("get aliases", res)
	}

	var resp map[string]struct {
		Aliases map[string]json.RawMessage `json:"aliases"`
	}
	if err := json.NewDecoder(res.Body).Decode(&resp); err != nil {
		return nil, fmt.Errorf("elasticsearch get aliases: decode response: %w", err)
	}
	for index, entry := range resp {
		for alias := range entry.Aliases {
			out[index] = alias
		}
	}
	return out, nil
}

func (s *Store) swapAliases(ctx context.Context, previous, next map[string]string) error {
	actions := make([]any, 0, len(previous)+len(next))
	for index, alias := range previous {
		actions = append(actions, map[string]any{
			"remove": map[string]any{"index": index, "alias": alias},
		})
	}
	for alias, index := range next {
		actions = append(actions, map[string]any{
			"add": map[string]any{"index": index, "alias": alias},
		})
	}

	data, err := json.Marshal(map[string]any{"actions": actions})
	if err != nil {
		return fmt.Errorf("elasticsearch update aliases: marshal actions: %w", err)
	}

	res, err := s.client.Indices.UpdateAliases(
		bytes.NewReader(data),
		s.client.Indices.UpdateAliases.WithContext(ctx),
	)
	if err != nil {
		return unavailable("update aliases", err)
	}
	defer func() { _ = res.Body.Close() }()

	if res.IsError() {
		return responseError("update aliases", res)
	}
	return nil
}

// dropIndices deletes indices, logging failures. A 404 counts as success.
func (s *Store) dropIndices(ctx context.Context, indices ...string) {
	if len(indices) == 0 {
		return
	}
	if err := s.deleteIndices(ctx, indices...); err != nil {
		s.logger.Warn("failed to delete elasticsearch indices",
			"indices", indices,
			"error", err,
		)
	}
}

// DeleteIndex removes both catalog indices and their aliases.
// It is intended for tests and administrative operations only.
func (s *Store) DeleteIndex(ctx context.Context) error {
	indices, err := s.aliasedIndices(ctx, s.suppliersAlias, s.listingsAlias)
	if err != nil {
		return err
	}
	names := make([]string, 0, len(indices))
	for index := range indices {
		names = append(names, index)
	}
	if len(names) == 0 {
		return nil
	}
	if err := s.deleteIndices(ctx, names...); err != nil {
		return err
	}

	s.logger.Info("elasticsearch index deleted", "index", s.listingsAlias)
	return nil
}

func (s *Store) deleteIndices(ctx context.Context, indices ...string) error {
	res, err := s.client.Indices.Delete(
		indices,
		s.client.Indices.Delete.WithContext(ctx),
	)
	if err != nil {
		return unavailable("delete index", err)
	}
	defer func() { _ = res.Body.Close() }()

	if res.IsError() && res.StatusCode != http.StatusNotFound {
		return responseError("delete index", res)
	}
	return nil
}

func (s *Store) index(ctx context.Context, op, alias string, id int64, doc any) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("elasticsearch %s: marshal document: %w", op, err)
	}

	res, err := s.client.Index(
		alias,
		bytes.NewReader(data),
		s.client.Index.WithDocumentID(strconv.FormatInt(id, 10)),
		s.client.Index.WithRefresh("true"),
		s.client.Index.WithContext(ctx),
	)
	if err != nil {
		return unavailable(op, err)
	}
	defer func() { _ = res.Body.Close() }()

	if res.IsError() {
		return responseError(op, res)
	}
	return nil
}

func (s *Store) search(ctx context.Context, op, index string, query map[string]any, out any) error {
	data, err := json.Marshal(query)
	if err != nil {
		return fmt.Errorf("elasticsearch %s: marshal query: %w", op, err)
	}

	res, err := s.client.Search(
		s.client.Search.WithIndex(index),
		s.client.Search.WithBody(bytes.NewReader(data)),
		s.client.Search.WithContext(ctx),
	)
	if err != nil {
		return unavailable(op, err)
	}
	defer func() { _ = res.Body.Close() }()

	if res.IsError() {
		return responseError(op, res)
	}

	if err := json.NewDecoder(res.Body).Decode(out); err != nil {
		return fmt.Errorf("elasticsearch %s: decode response: %w", op, err)
	}
	return nil
}

func (s *Store) newListingDoc(p domain.Product, sup domain.Supplier) listingDoc {
	l := domain.NewListing(p, sup)
	return listingDoc{
		Listing:      l,
		NameNorm:     interpreter.NormalizeText(p.Name),
		ProductCity:  p.City,
		SupplierCity: sup.City,
		CityKey:      s.dict.CityKey(l.City),
		CategoryKey:  s.dict.CategoryKey(p.Category, p.Name),
	}
}

// unavailable wraps a transport failure. The cluster could not be reached,
// so the read may be retried.
func unavailable(op string, err error) error {
	return fmt.Errorf("elasticsearch %s: %w: %w", op, catalog.ErrUnavailable, err)
}

// responseError turns an error response into an error. Server-side failures
// are marked as unavailable.
func responseError(op string, res *esapi.Response) error {
	msg := "unexpected status " + res.Status()
	var errResp esErrorResponse
	if decErr := json.NewDecoder(res.Body).Decode(&errResp); decErr == nil && errResp.Error.Type != "" {
		msg = errResp.Error.Type + ": " + errResp.Error.Reason
	}

	err := errors.New(msg)
	if res.StatusCode >= http.StatusInternalServerError {
		return fmt.Errorf("elasticsearch %s: %w: %w", op, catalog.ErrUnavailable, err)
	}
	return fmt.Errorf("elasticsearch %s: %w", op, err)
}
