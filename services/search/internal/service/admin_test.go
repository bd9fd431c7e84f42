package service

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/pr-poehali-dev/velund-ai-project/pkg/errors"
	"github.com/pr-poehali-dev/velund-ai-project/pkg/validator"
	"github.com/pr-poehali-dev/velund-ai-project/services/search/internal/catalog"
	catalogmemory "github.com/pr-poehali-dev/velund-ai-project/services/search/internal/catalog/memory"
	"github.com/pr-poehali-dev/velund-ai-project/services/search/internal/domain"
	"github.com/pr-poehali-dev/velund-ai-project/services/search/internal/interpreter"
	"github.com/pr-poehali-dev/velund-ai-project/services/search/internal/ranking"
)

func TestSearchService_UpsertSupplierAndProduct(t *testing.T) {
	env := newTestEnv(t, 50)
	ctx := context.Background()

	require.NoError(t, env.svc.UpsertSupplier(ctx, SupplierInput{
		ID:          10,
		CompanyName: "УралСталь",
		City:        "Екатеринбург",
		Phone:       "+7 343 000-00-10",
		Rating:      4.9,
	}))
	require.NoError(t, env.svc.UpsertProduct(ctx, ProductInput{
		ID:         100,
		SupplierID: 10,
		Name:       "Арматура А500С 12мм",
		Price:      decimal.NewFromInt(61000),
		Unit:       "тонн",
		Quantity:   40,
	}))

	res, err := env.svc.Search(ctx, SearchInput{Query: "арматура 12мм в Екатеринбурге"})
	require.NoError(t, err)
	require.Len(t, res.Results, 1)
	got := res.Results[0]
	assert.Equal(t, int64(100), got.ID)
	assert.Equal(t, "Екатеринбург", got.City)
	assert.Equal(t, "УралСталь", got.CompanyName)
	assert.Equal(t, domain.UnitTonne, got.Unit)
}

func TestSearchService_UpsertSupplier_Validation(t *testing.T) {
	env := newTestEnv(t, 50)

	err := env.svc.UpsertSupplier(context.Background(), SupplierInput{ID: 11, Email: "not-an-email", Rating: 7})
	require.Error(t, err)

	var valErr *validator.ValidationError
	require.ErrorAs(t, err, &valErr)
	fields := valErr.Fields()
	assert.Contains(t, fields, "company_name")
	assert.Contains(t, fields, "city")
	assert.Contains(t, fields, "email")
	assert.Contains(t, fields, "rating")
}

func TestSearchService_UpsertProduct_NegativePrice(t *testing.T) {
	env := newTestEnv(t, 50)

	err := env.svc.UpsertProduct(context.Background(), ProductInput{
		ID: 101, SupplierID: 1, Name: "Лист 3мм", Price: decimal.NewFromInt(-1),
	})
	var valErr *validator.ValidationError
	require.ErrorAs(t, err, &valErr)
	assert.Contains(t, valErr.Fields(), "price")
}

func TestSearchService_UpsertProduct_UnknownSupplier(t *testing.T) {
	env := newTestEnv(t, 50)

	err := env.svc.UpsertProduct(context.Background(), ProductInput{
		ID: 101, SupplierID: 999, Name: "Лист 3мм", Price: decimal.NewFromInt(70000),
	})
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestSearchService_BulkUpsertProducts(t *testing.T) {
	env := newTestEnv(t, 50)
	ctx := context.Background()

	n, err := env.svc.BulkUpsertProducts(ctx, BulkProductsInput{Products: []ProductInput{
		{ID: 200, SupplierID: 1, Name: "Уголок 50х50", Price: decimal.NewFromInt(78000), Unit: "т"},
		{ID: 201, SupplierID: 2, Name: "Уголок 63х63", Price: decimal.NewFromInt(81000), Unit: "т"},
		{ID: 202, SupplierID: 404, Name: "Уголок 75х75", Price: decimal.NewFromInt(83000), Unit: "т"},
	}})
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
	assert.Equal(t, 2, n)
	assert.Equal(t, 7, env.store.Len())

	_, err = env.svc.BulkUpsertProducts(ctx, BulkProductsInput{})
	var valErr *validator.ValidationError
	assert.ErrorAs(t, err, &valErr)
}

func TestSearchService_DeleteProduct(t *testing.T) {
	env := newTestEnv(t, 50)
	ctx := context.Background()

	require.NoError(t, env.svc.DeleteProduct(ctx, 1))
	assert.ErrorIs(t, env.svc.DeleteProduct(ctx, 1), apperrors.ErrNotFound)
	assert.ErrorIs(t, env.svc.DeleteProduct(ctx, 0), apperrors.ErrInvalidInput)

	res, err := env.svc.Search(ctx, SearchInput{Query: "швеллер в Казани до 90000"})
	require.NoError(t, err)
	assert.Equal(t, []int64{2}, resultIDs(res))
}

func TestSearchService_ReadOnlyCatalog(t *testing.T) {
	dict := interpreter.DefaultDictionary()
	svc := NewSearchService(interpreter.NewRules(dict), catalogmemory.New(dict), ranking.New(dict, 50), Config{}, newTestLogger())
	ctx := context.Background()

	assert.ErrorIs(t, svc.UpsertSupplier(ctx, SupplierInput{ID: 1}), apperrors.ErrNotSupported)
	assert.ErrorIs(t, svc.UpsertProduct(ctx, ProductInput{ID: 1}), apperrors.ErrNotSupported)
	assert.ErrorIs(t, svc.DeleteProduct(ctx, 1), apperrors.ErrNotSupported)
	_, err := svc.Reload(ctx)
	assert.ErrorIs(t, err, apperrors.ErrNotSupported)
}

func writeSeed(t *testing.T, data catalog.Data) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "catalog.json")
	raw, err := json.Marshal(data)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, raw, 0o600))
	return path
}

func TestSearchService_Reload(t *testing.T) {
	seed := catalog.Data{
		Suppliers: []domain.Supplier{{ID: 7, CompanyName: "Сибметалл", City: "Новосибирск", Rating: 4.2}},
		Products: []domain.Product{
			{ID: 70, SupplierID: 7, Name: "Лист г/к 3мм", Price: decimal.NewFromInt(74000), Unit: "т", Quantity: 12},
		},
	}
	path := writeSeed(t, seed)

	dict := interpreter.DefaultDictionary()
	store := catalogmemory.New(dict)
	svc := NewSearchService(interpreter.NewRules(dict), store, ranking.New(dict, 50),
		Config{SeedFile: path}, newTestLogger(), WithWriter(store))

	data, err := svc.Reload(context.Background())
	require.NoError(t, err)
	assert.Len(t, data.Products, 1)
	assert.Equal(t, 1, store.Len())

	res, err := svc.Search(context.Background(), SearchInput{Query: "лист в Новосибирске"})
	require.NoError(t, err)
	assert.Equal(t, []int64{70}, resultIDs(res))
}

func TestSearchService_Reload_InvalidSeedKeepsCatalog(t *testing.T) {
	path := writeSeed(t, catalog.Data{
		Products: []domain.Product{{ID: 1, SupplierID: 99, Name: "Швеллер", Price: decimal.NewFromInt(1)}},
	})
	env := newTestEnv(t, 50)
	env.svc.cfg.SeedFile = path

	_, err := env.svc.Reload(context.Background())
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
	assert.Equal(t, 5, env.store.Len())
}

func TestSearchService_Reload_NoSeedFile(t *testing.T) {
	env := newTestEnv(t, 50)

	_, err := env.svc.Reload(context.Background())
	assert.ErrorIs(t, err, apperrors.ErrNotSupported)
}
