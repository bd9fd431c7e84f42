package service

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/shopspring/decimal"

	apperrors "github.com/pr-poehali-dev/velund-ai-project/pkg/errors"
	"github.com/pr-poehali-dev/velund-ai-project/pkg/validator"
	"github.com/pr-poehali-dev/velund-ai-project/services/search/internal/catalog"
	"github.com/pr-poehali-dev/velund-ai-project/services/search/internal/domain"
)

// MaxBulkProducts caps one bulk upsert request.
const MaxBulkProducts = 1000

// SupplierInput holds the fields of a supplier upsert.
type SupplierInput struct {
	ID          int64   `json:"id" validate:"required,gt=0"`
	CompanyName string  `json:"company_name" validate:"required,max=255"`
	City        string  `json:"city" validate:"required,max=100"`
	Phone       string  `json:"phone" validate:"max=50"`
	Email       string  `json:"email" validate:"omitempty,email,max=255"`
	Rating      float64 `json:"rating" validate:"gte=0,lte=5"`
}

// ProductInput holds the fields of a product upsert. An empty City means the
// supplier's city applies; an empty Category is derived from the name.
type ProductInput struct {
	ID         int64           `json:"id" validate:"required,gt=0"`
	SupplierID int64           `json:"supplier_id" validate:"required,gt=0"`
	Name       string          `json:"name" validate:"required,max=500"`
	Price      decimal.Decimal `json:"price" validate:"gte=0"`
	Unit       string          `json:"unit" validate:"max=20"`
	Quantity   float64         `json:"quantity" validate:"gte=0"`
	City       string          `json:"city" validate:"max=100"`
	Category   string          `json:"category" validate:"max=100"`
}

// BulkProductsInput holds a batch of product upserts.
type BulkProductsInput struct {
	Products []ProductInput `json:"products" validate:"required,min=1,max=1000,dive"`
}

func (in SupplierInput) toDomain(now time.Time) domain.Supplier {
	return domain.Supplier{
		ID:          in.ID,
		CompanyName: in.CompanyName,
		City:        in.City,
		Phone:       in.Phone,
		Email:       in.Email,
		Rating:      in.Rating,
		UpdatedAt:   now,
	}
}

func (in ProductInput) toDomain(now time.Time) domain.Product {
	return domain.Product{
		ID:         in.ID,
		SupplierID: in.SupplierID,
		Name:       in.Name,
		Price:      in.Price,
		Unit:       domain.NormalizeUnit(in.Unit),
		Quantity:   in.Quantity,
		City:       in.City,
		Category:   in.Category,
		UpdatedAt:  now,
	}
}

func (s *SearchService) catalogWriter() (catalog.Writer, error) {
	if s.writer == nil {
		return nil, apperrors.NotSupported("the configured catalog is read-only")
	}
	return s.writer, nil
}

// UpsertSupplier creates or updates a supplier. Listings of the supplier pick
// up the new contact fields immediately.
func (s *SearchService) UpsertSupplier(ctx context.Context, input SupplierInput) error {
	w, err := s.catalogWriter()
	if err != nil {
		return err
	}
	if err := validator.Validate(input); err != nil {
		return err
	}

	if err := w.UpsertSupplier(ctx, input.toDomain(time.Now().UTC())); err != nil {
		return fmt.Errorf("upsert supplier: %w", err)
	}

	s.logger.InfoContext(ctx, "supplier upserted",
		slog.Int64("supplier_id", input.ID),
		slog.String("city", input.City),
	)
	return nil
}

// UpsertProduct creates or updates a product of a known supplier.
func (s *SearchService) UpsertProduct(ctx context.Context, input ProductInput) error {
	w, err := s.catalogWriter()
	if err != nil {
		return err
	}
	if err := validator.Validate(input); err != nil {
		return err
	}

	if err := w.UpsertProduct(ctx, input.toDomain(time.Now().UTC())); err != nil {
		return fmt.Errorf("upsert product: %w", err)
	}

	s.logger.InfoContext(ctx, "product upserted",
		slog.Int64("product_id", input.ID),
		slog.String("name", input.Name),
	)
	return nil
}

// BulkUpsertProducts upserts products in order and stops at the first
// failure. It returns the number of products written.
func (s *SearchService) BulkUpsertProducts(ctx context.Context, input BulkProductsInput) (int, error) {
	w, err := s.catalogWriter()
	if err != nil {
		return 0, err
	}
	if err := validator.Validate(input); err != nil {
		return 0, err
	}

	now := time.Now().UTC()
	for i, p := range input.Products {
		if err := w.UpsertProduct(ctx, p.toDomain(now)); err != nil {
			return i, fmt.Errorf("bulk upsert product %d: %w", p.ID, err)
		}
	}

	s.logger.InfoContext(ctx, "bulk upsert completed",
		slog.Int("count", len(input.Products)),
	)
	return len(input.Products), nil
}

// DeleteProduct removes a product from the catalog.
func (s *SearchService) DeleteProduct(ctx context.Context, id int64) error {
	w, err := s.catalogWriter()
	if err != nil {
		return err
	}
	if id <= 0 {
		return apperrors.InvalidInput("product id must be positive")
	}

	if err := w.DeleteProduct(ctx, id); err != nil {
		return fmt.Errorf("delete product: %w", err)
	}

	s.logger.InfoContext(ctx, "product deleted",
		slog.Int64("product_id", id),
	)
	return nil
}

// Reload replaces the whole catalog with the contents of the seed file.
// Searches running concurrently see either the old or the new catalog.
func (s *SearchService) Reload(ctx context.Context) (catalog.Data, error) {
	w, err := s.catalogWriter()
	if err != nil {
		return catalog.Data{}, err
	}
	if s.cfg.SeedFile == "" {
		return catalog.Data{}, apperrors.NotSupported("no catalog seed file is configured")
	}

	data, err := LoadSeedFile(s.cfg.SeedFile)
	if err != nil {
		return catalog.Data{}, err
	}
	if err := w.Replace(ctx, data); err != nil {
		return catalog.Data{}, fmt.Errorf("reload catalog: %w", err)
	}

	s.logger.InfoContext(ctx, "catalog reloaded",
		slog.String("file", s.cfg.SeedFile),
		slog.Int("suppliers", len(data.Suppliers)),
		slog.Int("products", len(data.Products)),
	)
	return data, nil
}

// LoadSeedFile reads and validates a catalog JSON file.
func LoadSeedFile(path string) (catalog.Data, error) {
	f, err := os.Open(path)
	if err != nil {
		return catalog.Data{}, fmt.Errorf("open catalog seed: %w", err)
	}
	defer f.Close()

	data, err := catalog.LoadData(f)
	if err != nil {
		return catalog.Data{}, fmt.Errorf("load catalog seed %s: %w", path, err)
	}
	return data, nil
}
