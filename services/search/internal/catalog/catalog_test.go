package catalog

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/pr-poehali-dev/velund-ai-project/pkg/errors"
	"github.com/pr-poehali-dev/velund-ai-project/services/search/internal/domain"
	"github.com/pr-poehali-dev/velund-ai-project/services/search/internal/interpreter"
)

func sampleData() Data {
	return Data{
		Suppliers: []domain.Supplier{
			{ID: 1, CompanyName: "Металлбаза Казань", City: "Казань", Phone: "+7 843 000-00-01", Rating: 4.8},
			{ID: 2, CompanyName: "СтальТорг", City: "Москва", Rating: 4.2},
			{ID: 3, CompanyName: "Профиль-М", City: "Москва", Rating: 4.5},
		},
		Products: []domain.Product{
			{ID: 10, SupplierID: 1, Name: "Швеллер 14П", Price: decimal.NewFromInt(85000), Unit: "т", Quantity: 12},
			{ID: 11, SupplierID: 1, Name: "Швеллер 16П", Price: decimal.NewFromInt(87000), Unit: "т", Quantity: 4},
			{ID: 12, SupplierID: 2, Name: "Труба профильная 40х40х2", Price: decimal.NewFromInt(95000), Unit: "т", City: "Тула"},
			{ID: 13, SupplierID: 3, Name: "Доставка по городу", Price: decimal.NewFromInt(5000), Unit: "рейс"},
		},
	}
}

func TestLoadData(t *testing.T) {
	d, err := LoadData(strings.NewReader(`{
		"suppliers": [{"id": 1, "company_name": "Металлбаза", "city": "Казань", "rating": 4.5}],
		"products":  [{"id": 7, "supplier_id": 1, "name": "Уголок 50х50", "price": 71000.5, "unit": "т", "quantity": 3}]
	}`))
	require.NoError(t, err)
	require.Len(t, d.Products, 1)
	assert.Equal(t, "71000.5", d.Products[0].Price.String())

	_, err = LoadData(strings.NewReader(`{`))
	assert.Error(t, err)
}

func TestData_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Data)
		want   error
	}{
		{"valid", func(*Data) {}, nil},
		{"unknown supplier", func(d *Data) { d.Products[0].SupplierID = 99 }, apperrors.ErrNotFound},
		{"duplicate product", func(d *Data) { d.Products[1].ID = d.Products[0].ID }, apperrors.ErrInvalidInput},
		{"duplicate supplier", func(d *Data) { d.Suppliers[1].ID = 1 }, apperrors.ErrInvalidInput},
		{"negative price", func(d *Data) { d.Products[0].Price = decimal.NewFromInt(-1) }, apperrors.ErrInvalidInput},
		{"empty name", func(d *Data) { d.Products[0].Name = "" }, apperrors.ErrInvalidInput},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := sampleData()
			tt.mutate(&d)
			err := d.Validate()
			if tt.want == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestData_Join(t *testing.T) {
	d := sampleData()
	d.Products = append(d.Products, domain.Product{ID: 99, SupplierID: 42, Name: "Сирота"})

	listings := d.Join()
	require.Len(t, listings, 4)
	assert.Equal(t, "Казань", listings[0].City, "supplier city applies")
	assert.Equal(t, "Металлбаза Казань", listings[0].CompanyName)
	assert.Equal(t, "Тула", listings[2].City, "product city wins")
}

func TestComputeStats(t *testing.T) {
	d := sampleData()
	stats := ComputeStats(d.Join(), d.Suppliers, interpreter.DefaultDictionary())

	assert.Equal(t, 4, stats.Products)
	assert.Equal(t, 3, stats.Suppliers)

	require.Len(t, stats.Categories, 3)
	assert.Equal(t, "швеллеры", stats.Categories[0].Category)
	assert.Equal(t, 2, stats.Categories[0].Count)
	assert.Equal(t, "86000", stats.Categories[0].AvgPrice.String())
	assert.ElementsMatch(t, []string{"трубы", OtherCategory},
		[]string{stats.Categories[1].Category, stats.Categories[2].Category})

	require.Len(t, stats.Cities, 2)
	assert.Equal(t, domain.CityStat{City: "Москва", Suppliers: 2}, stats.Cities[0])
	assert.Equal(t, domain.CityStat{City: "Казань", Suppliers: 1}, stats.Cities[1])
}

func TestComputeStats_Limits(t *testing.T) {
	var suppliers []domain.Supplier
	for i := range 15 {
		suppliers = append(suppliers, domain.Supplier{ID: int64(i + 1), City: fmt.Sprintf("Город %02d", i)})
	}
	stats := ComputeStats(nil, suppliers, interpreter.DefaultDictionary())
	assert.Len(t, stats.Cities, StatsLimit)
	assert.Empty(t, stats.Categories)
}

type flakyReader struct {
	Reader
	failures int
	err      error
	calls    int
}

func (f *flakyReader) Candidates(context.Context, domain.ParsedQuery) ([]domain.Listing, error) {
	f.calls++
	if f.calls <= f.failures {
		return nil, f.err
	}
	return []domain.Listing{{ID: 1}}, nil
}

func (f *flakyReader) Stats(context.Context) (*domain.MarketStats, error) {
	f.calls++
	if f.calls <= f.failures {
		return nil, f.err
	}
	return &domain.MarketStats{Products: 1}, nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRetrying_RetriesTransientOnce(t *testing.T) {
	inner := &flakyReader{failures: 1, err: fmt.Errorf("query: %w", ErrUnavailable)}
	r := NewRetrying(inner, time.Millisecond, discardLogger())

	listings, err := r.Candidates(context.Background(), domain.ParsedQuery{City: "Москва"})
	require.NoError(t, err)
	assert.Len(t, listings, 1)
	assert.Equal(t, 2, inner.calls)
}

func TestRetrying_GivesUpAfterSecondFailure(t *testing.T) {
	inner := &flakyReader{failures: 5, err: ErrUnavailable}
	r := NewRetrying(inner, time.Millisecond, discardLogger())

	_, err := r.Stats(context.Background())
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.Equal(t, 2, inner.calls)
}

func TestRetrying_DoesNotRetryPermanentErrors(t *testing.T) {
	inner := &flakyReader{failures: 1, err: errors.New("syntax error")}
	r := NewRetrying(inner, time.Millisecond, discardLogger())

	_, err := r.Candidates(context.Background(), domain.ParsedQuery{})
	assert.Error(t, err)
	assert.Equal(t, 1, inner.calls)
}

func TestRetrying_StopsOnCancelledContext(t *testing.T) {
	inner := &flakyReader{failures: 1, err: ErrUnavailable}
	r := NewRetrying(inner, time.Hour, discardLogger())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := r.Candidates(ctx, domain.ParsedQuery{})
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.Equal(t, 1, inner.calls)
}
