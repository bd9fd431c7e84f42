package memory

import (
	"cmp"
	"context"
	"slices"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	apperrors "github.com/pr-poehali-dev/velund-ai-project/pkg/errors"
	"github.com/pr-poehali-dev/velund-ai-project/services/search/internal/catalog"
	"github.com/pr-poehali-dev/velund-ai-project/services/search/internal/domain"
	"github.com/pr-poehali-dev/velund-ai-project/services/search/internal/interpreter"
)

var catalogListings = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "velund_catalog_listings",
	Help: "Listings in the in-memory catalog snapshot.",
})

// snapshot is an immutable view of the catalog. Writers build a new one and
// swap it in; readers never lock.
type snapshot struct {
	listings []domain.Listing
	stats    *domain.MarketStats
}

// Store is an in-memory catalog. Writes are serialized and copy the catalog;
// reads load the current snapshot atomically.
type Store struct {
	dict *interpreter.Dictionary

	mu        sync.Mutex
	suppliers map[int64]domain.Supplier
	products  map[int64]domain.Product

	current atomic.Pointer[snapshot]
}

// New creates an empty store.
func New(dict *interpreter.Dictionary) *Store {
	s := &Store{
		dict:      dict,
		suppliers: make(map[int64]domain.Supplier),
		products:  make(map[int64]domain.Product),
	}
	s.publish()
	return s
}

// Candidates returns every listing of the current snapshot.
func (s *Store) Candidates(ctx context.Context, _ domain.ParsedQuery) ([]domain.Listing, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.current.Load().listings, nil
}

// Suggest returns product names whose normalized form starts with prefix.
func (s *Store) Suggest(ctx context.Context, prefix string, limit int) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 10
	}
	want := interpreter.NormalizeText(prefix)
	if want == "" {
		return []string{}, nil
	}

	seen := make(map[string]struct{})
	names := make([]string, 0, limit)
	for _, l := range s.current.Load().listings {
		if !strings.HasPrefix(interpreter.NormalizeText(l.Name), want) {
			continue
		}
		if _, ok := seen[l.Name]; ok {
			continue
		}
		seen[l.Name] = struct{}{}
		names = append(names, l.Name)
		if len(names) == limit {
			break
		}
	}
	return names, nil
}

// Stats returns the statistics of the current snapshot.
func (s *Store) Stats(ctx context.Context) (*domain.MarketStats, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.current.Load().stats, nil
}

// Ping always succeeds.
func (s *Store) Ping(context.Context) error { return nil }

// UpsertSupplier adds or replaces a supplier; its listings pick up the change.
func (s *Store) UpsertSupplier(_ context.Context, sup domain.Supplier) error {
	if sup.ID <= 0 {
		return apperrors.InvalidInput("supplier id must be positive")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.suppliers[sup.ID] = sup
	s.publish()
	return nil
}

// UpsertProduct adds or replaces a product of a known supplier.
func (s *Store) UpsertProduct(_ context.Context, p domain.Product) error {
	if err := catalog.ValidateProduct(p); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.suppliers[p.SupplierID]; !ok {
		return apperrors.NotFound("supplier", strconv.FormatInt(p.SupplierID, 10))
	}
	s.products[p.ID] = p
	s.publish()
	return nil
}

// DeleteProduct removes a product.
func (s *Store) DeleteProduct(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.products[id]; !ok {
		return apperrors.NotFound("product", strconv.FormatInt(id, 10))
	}
	delete(s.products, id)
	s.publish()
	return nil
}

// Replace swaps the whole catalog.
func (s *Store) Replace(_ context.Context, data catalog.Data) error {
	if err := data.Validate(); err != nil {
		return err
	}
	suppliers := make(map[int64]domain.Supplier, len(data.Suppliers))
	for _, sup := range data.Suppliers {
		suppliers[sup.ID] = sup
	}
	products := make(map[int64]domain.Product, len(data.Products))
	for _, p := range data.Products {
		products[p.ID] = p
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.suppliers = suppliers
	s.products = products
	s.publish()
	return nil
}

// Len returns the number of listings in the current snapshot.
func (s *Store) Len() int {
	return len(s.current.Load().listings)
}

// publish builds and swaps in a new snapshot. Callers hold s.mu, except New.
func (s *Store) publish() {
	data := catalog.Data{
		Suppliers: make([]domain.Supplier, 0, len(s.suppliers)),
		Products:  make([]domain.Product, 0, len(s.products)),
	}
	for _, sup := range s.suppliers {
		data.Suppliers = append(data.Suppliers, sup)
	}
	for _, p := range s.products {
		data.Products = append(data.Products, p)
	}
	slices.SortFunc(data.Suppliers, func(a, b domain.Supplier) int { return cmp.Compare(a.ID, b.ID) })
	slices.SortFunc(data.Products, func(a, b domain.Product) int { return cmp.Compare(a.ID, b.ID) })

	listings := data.Join()
	s.current.Store(&snapshot{
		listings: listings,
		stats:    catalog.ComputeStats(listings, data.Suppliers, s.dict),
	})
	catalogListings.Set(float64(len(listings)))
}
