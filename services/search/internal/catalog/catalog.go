// Package catalog defines the read and write sides of the supplier/product
// catalog and the helpers shared by its backends.
package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"

	apperrors "github.com/pr-poehali-dev/velund-ai-project/pkg/errors"
	"github.com/pr-poehali-dev/velund-ai-project/services/search/internal/domain"
)

// ErrUnavailable marks transient backend failures (lost connections,
// unreachable cluster). Only these are retried.
var ErrUnavailable = errors.New("catalog unavailable")

// Reader is the read side used by searches. Implementations return a
// consistent view: a search never observes a half-applied write.
type Reader interface {
	// Candidates returns listings that may match q. Backends may narrow the
	// set by the fields they index exactly, never beyond what q matches.
	// The returned slice must not be modified.
	Candidates(ctx context.Context, q domain.ParsedQuery) ([]domain.Listing, error)

	// Suggest returns up to limit distinct product names starting with prefix.
	Suggest(ctx context.Context, prefix string, limit int) ([]string, error)

	// Stats summarizes the catalog.
	Stats(ctx context.Context) (*domain.MarketStats, error)

	Ping(ctx context.Context) error
}

// Writer is the write side used by admin endpoints and catalog events.
type Writer interface {
	UpsertSupplier(ctx context.Context, s domain.Supplier) error
	// UpsertProduct fails with NotFound when the supplier is unknown.
	UpsertProduct(ctx context.Context, p domain.Product) error
	DeleteProduct(ctx context.Context, id int64) error
	// Replace swaps the whole catalog atomically.
	Replace(ctx context.Context, data Data) error
}

// Store is a readable and writable catalog.
type Store interface {
	Reader
	Writer
}

// Data is a complete catalog.
type Data struct {
	Suppliers []domain.Supplier `json:"suppliers"`
	Products  []domain.Product  `json:"products"`
}

// LoadData decodes a JSON catalog and validates it.
func LoadData(r io.Reader) (Data, error) {
	var d Data
	if err := json.NewDecoder(r).Decode(&d); err != nil {
		return Data{}, fmt.Errorf("decode catalog: %w", err)
	}
	if err := d.Validate(); err != nil {
		return Data{}, err
	}
	return d, nil
}

// Validate checks identifiers, references and prices.
func (d Data) Validate() error {
	suppliers := make(map[int64]bool, len(d.Suppliers))
	for _, s := range d.Suppliers {
		if s.ID <= 0 {
			return apperrors.InvalidInput("supplier id must be positive")
		}
		if suppliers[s.ID] {
			return apperrors.InvalidInput(fmt.Sprintf("duplicate supplier id %d", s.ID))
		}
		suppliers[s.ID] = true
	}

	products := make(map[int64]bool, len(d.Products))
	for _, p := range d.Products {
		if err := ValidateProduct(p); err != nil {
			return err
		}
		if products[p.ID] {
			return apperrors.InvalidInput(fmt.Sprintf("duplicate product id %d", p.ID))
		}
		products[p.ID] = true
		if !suppliers[p.SupplierID] {
			return apperrors.NotFound("supplier", strconv.FormatInt(p.SupplierID, 10))
		}
	}
	return nil
}

// ValidateProduct checks the invariants of a single product.
func ValidateProduct(p domain.Product) error {
	switch {
	case p.ID <= 0:
		return apperrors.InvalidInput("product id must be positive")
	case p.SupplierID <= 0:
		return apperrors.InvalidInput("product supplier_id must be positive")
	case p.Name == "":
		return apperrors.InvalidInput("product name is required")
	case p.Price.IsNegative():
		return apperrors.InvalidInput("product price must not be negative")
	case p.Quantity < 0:
		return apperrors.InvalidInput("product quantity must not be negative")
	}
	return nil
}

// Join builds the listings of d. Products of unknown suppliers are skipped.
func (d Data) Join() []domain.Listing {
	suppliers := make(map[int64]domain.Supplier, len(d.Suppliers))
	for _, s := range d.Suppliers {
		suppliers[s.ID] = s
	}
	listings := make([]domain.Listing, 0, len(d.Products))
	for _, p := range d.Products {
		s, ok := suppliers[p.SupplierID]
		if !ok {
			continue
		}
		listings = append(listings, domain.NewListing(p, s))
	}
	return listings
}
