package postgres

import (
	"context"
	"errors"
	"regexp"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pr-poehali-dev/velund-ai-project/pkg/database"
	apperrors "github.com/pr-poehali-dev/velund-ai-project/pkg/errors"
	"github.com/pr-poehali-dev/velund-ai-project/services/search/internal/catalog"
	"github.com/pr-poehali-dev/velund-ai-project/services/search/internal/domain"
	"github.com/pr-poehali-dev/velund-ai-project/services/search/internal/interpreter"
)

func newMock(t *testing.T) pgxmock.PgxPoolIface {
	t.Helper()
	mock, err := database.NewMockPool()
	require.NoError(t, err)
	return mock
}

func newTestStore(mock pgxmock.PgxPoolIface) *Store {
	return New(mock, interpreter.DefaultDictionary(), 100)
}

var listingColumnNames = []string{
	"id", "supplier_id", "name", "price", "unit", "quantity",
	"city", "category", "company_name", "phone", "email", "rating",
}

func maxPrice(v int64) *decimal.Decimal {
	d := decimal.NewFromInt(v)
	return &d
}

func TestStore_Candidates(t *testing.T) {
	mock := newMock(t)
	defer mock.Close()
	store := newTestStore(mock)

	q := domain.ParsedQuery{Product: "швеллер 14П", City: "в Казани", MaxPrice: maxPrice(90000), Category: "швеллер"}

	mock.ExpectQuery("SELECT .+ FROM products p JOIN suppliers s ON s.id = p.supplier_id WHERE .+ ORDER BY p.price ASC, s.rating DESC, p.id ASC").
		WithArgs(pgxmock.AnyArg(), "Казань", "швеллеры", "(^| )швеллер", "(^| )14п", 100).
		WillReturnRows(pgxmock.NewRows(listingColumnNames).
			AddRow(int64(1), int64(7), "Швеллер 14П ст3", "85000.00", "т", 12.5, "Казань", "Швеллеры",
				"Металлбаза", "+7 843 000-00-01", "sales@metallbaza.ru", 4.8).
			AddRow(int64(2), int64(8), "Швеллер 14П", "88000.50", "т", 3.0, "Казань", "",
				"СтальТорг", "", "", 4.1))

	listings, err := store.Candidates(context.Background(), q)
	require.NoError(t, err)
	require.Len(t, listings, 2)
	assert.Equal(t, "85000", listings[0].Price.String())
	assert.Equal(t, "Металлбаза", listings[0].CompanyName)
	assert.Equal(t, 12.5, listings[0].Quantity)
	assert.Equal(t, "88000.5", listings[1].Price.String())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_Candidates_NumericKeywordBoundary(t *testing.T) {
	mock := newMock(t)
	defer mock.Close()
	store := newTestStore(mock)

	mock.ExpectQuery("SELECT .+ FROM products p JOIN suppliers s ON s.id = p.supplier_id WHERE p.name_norm ~ \\$1 AND p.name_norm ~ \\$2 ORDER BY").
		WithArgs("(^| )круг", "(^| )20($|[^0-9])", 100).
		WillReturnRows(pgxmock.NewRows(listingColumnNames))

	_, err := store.Candidates(context.Background(), domain.ParsedQuery{Product: "круг 20"})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestKeywordPattern(t *testing.T) {
	tests := []struct {
		kw    string
		name  string
		match bool
	}{
		{"20", "круг 20 ст3", true},
		{"20", "круг 20", true},
		{"20", "круг 20х2", true},
		{"20", "круг 200", false},
		{"20", "круг 120", false},
		{"14п", "швеллер 14п", true},
		{"14п", "швеллер 114п", false},
		{"труб", "труба профильная", true},
		{"труб", "стальтруба", false},
		{"1.5", "лист 1.5", true},
		{"1.5", "лист 105", false},
	}

	for _, tt := range tests {
		t.Run(tt.kw+" in "+tt.name, func(t *testing.T) {
			re := regexp.MustCompile(keywordPattern(tt.kw))
			assert.Equal(t, tt.match, re.MatchString(tt.name))
		})
	}
}

func TestStore_Candidates_NoFilters(t *testing.T) {
	mock := newMock(t)
	defer mock.Close()
	store := newTestStore(mock)

	mock.ExpectQuery("SELECT .+ FROM products p JOIN suppliers s").
		WithArgs(100).
		WillReturnRows(pgxmock.NewRows(listingColumnNames))

	listings, err := store.Candidates(context.Background(), domain.ParsedQuery{})
	require.NoError(t, err)
	assert.NotNil(t, listings)
	assert.Empty(t, listings)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_Candidates_ConnectionErrorIsTransient(t *testing.T) {
	mock := newMock(t)
	defer mock.Close()
	store := newTestStore(mock)

	mock.ExpectQuery("SELECT .+ FROM products p").
		WithArgs("Москва", 100).
		WillReturnError(errors.New("dial tcp 127.0.0.1:5432: connect: connection refused"))

	_, err := store.Candidates(context.Background(), domain.ParsedQuery{City: "Москва"})
	assert.ErrorIs(t, err, catalog.ErrUnavailable)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_Candidates_SQLErrorIsPermanent(t *testing.T) {
	mock := newMock(t)
	defer mock.Close()
	store := newTestStore(mock)

	mock.ExpectQuery("SELECT .+ FROM products p").
		WithArgs("Москва", 100).
		WillReturnError(&pgconn.PgError{Code: "42P01", Message: "relation \"products\" does not exist"})

	_, err := store.Candidates(context.Background(), domain.ParsedQuery{City: "Москва"})
	require.Error(t, err)
	assert.NotErrorIs(t, err, catalog.ErrUnavailable)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_Suggest(t *testing.T) {
	mock := newMock(t)
	defer mock.Close()
	store := newTestStore(mock)

	mock.ExpectQuery("SELECT name FROM products WHERE name_norm LIKE").
		WithArgs("швел%", 5).
		WillReturnRows(pgxmock.NewRows([]string{"name"}).AddRow("Швеллер 14П").AddRow("Швеллер 16П"))

	names, err := store.Suggest(context.Background(), "Швел", 5)
	require.NoError(t, err)
	assert.Equal(t, []string{"Швеллер 14П", "Швеллер 16П"}, names)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_Stats(t *testing.T) {
	mock := newMock(t)
	defer mock.Close()
	store := newTestStore(mock)

	mock.ExpectQuery("SELECT \\(SELECT COUNT\\(\\*\\) FROM products\\)").
		WillReturnRows(pgxmock.NewRows([]string{"products", "suppliers"}).AddRow(120, 14))
	mock.ExpectQuery("SELECT COALESCE\\(NULLIF\\(category_key").
		WithArgs(catalog.OtherCategory, catalog.StatsLimit).
		WillReturnRows(pgxmock.NewRows([]string{"category", "count", "avg"}).
			AddRow("трубы", 60, "91250.40").
			AddRow("швеллеры", 40, "86000.00"))
	mock.ExpectQuery("SELECT city, COUNT\\(\\*\\) FROM suppliers").
		WithArgs(catalog.StatsLimit).
		WillReturnRows(pgxmock.NewRows([]string{"city", "count"}).
			AddRow("Москва", 6).
			AddRow("Казань", 3))

	stats, err := store.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 120, stats.Products)
	assert.Equal(t, 14, stats.Suppliers)
	require.Len(t, stats.Categories, 2)
	assert.Equal(t, "91250.4", stats.Categories[0].AvgPrice.String())
	assert.Equal(t, domain.CityStat{City: "Москва", Suppliers: 6}, stats.Cities[0])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_UpsertSupplier(t *testing.T) {
	mock := newMock(t)
	defer mock.Close()
	store := newTestStore(mock)

	s := domain.Supplier{ID: 7, CompanyName: "Металлбаза", City: "СПб", Phone: "+7 812", Email: "a@b.ru", Rating: 4.5}
	mock.ExpectExec("INSERT INTO suppliers").
		WithArgs(s.ID, s.CompanyName, s.City, "Санкт-Петербург", s.Phone, s.Email, s.Rating).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.UpsertSupplier(context.Background(), s))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_UpsertProduct(t *testing.T) {
	mock := newMock(t)
	defer mock.Close()
	store := newTestStore(mock)

	p := domain.Product{
		ID: 1, SupplierID: 7, Name: "Труба профильная 40x40x2", Price: decimal.NewFromInt(95000),
		Unit: "т", Quantity: 5,
	}
	mock.ExpectExec("INSERT INTO products").
		WithArgs(p.ID, p.SupplierID, p.Name, "труба профильная 40х40х2", pgxmock.AnyArg(),
			p.Unit, p.Quantity, "", "", "", "трубы").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.UpsertProduct(context.Background(), p))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_UpsertProduct_UnknownSupplier(t *testing.T) {
	mock := newMock(t)
	defer mock.Close()
	store := newTestStore(mock)

	p := domain.Product{ID: 1, SupplierID: 99, Name: "Лист 3мм", Price: decimal.NewFromInt(75000)}
	mock.ExpectExec("INSERT INTO products").
		WillReturnError(&pgconn.PgError{Code: "23503", Message: "violates foreign key constraint"})

	err := store.UpsertProduct(context.Background(), p)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_UpsertProduct_Invalid(t *testing.T) {
	mock := newMock(t)
	defer mock.Close()

	err := newTestStore(mock).UpsertProduct(context.Background(), domain.Product{ID: 1, SupplierID: 1})
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_DeleteProduct(t *testing.T) {
	mock := newMock(t)
	defer mock.Close()
	store := newTestStore(mock)

	mock.ExpectExec("DELETE FROM products WHERE id").
		WithArgs(int64(5)).
		WillReturnResult(pgxmock.NewResult("DELETE", 1))
	mock.ExpectExec("DELETE FROM products WHERE id").
		WithArgs(int64(6)).
		WillReturnResult(pgxmock.NewResult("DELETE", 0))

	require.NoError(t, store.DeleteProduct(context.Background(), 5))
	assert.ErrorIs(t, store.DeleteProduct(context.Background(), 6), apperrors.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_Replace(t *testing.T) {
	mock := newMock(t)
	defer mock.Close()
	store := newTestStore(mock)

	data := catalog.Data{
		Suppliers: []domain.Supplier{{ID: 1, CompanyName: "Металлбаза", City: "Казань"}},
		Products: []domain.Product{
			{ID: 1, SupplierID: 1, Name: "Швеллер 14П", Price: decimal.NewFromInt(85000)},
			{ID: 2, SupplierID: 1, Name: "Уголок 50х50", Price: decimal.NewFromInt(70000)},
		},
	}

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM products").WillReturnResult(pgxmock.NewResult("DELETE", 3))
	mock.ExpectExec("DELETE FROM suppliers").WillReturnResult(pgxmock.NewResult("DELETE", 1))
	mock.ExpectCopyFrom(pgx.Identifier{"suppliers"}, supplierCopyColumns).WillReturnResult(1)
	mock.ExpectCopyFrom(pgx.Identifier{"products"}, productCopyColumns).WillReturnResult(2)
	mock.ExpectCommit()

	require.NoError(t, store.Replace(context.Background(), data))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_Replace_RollsBackOnCopyFailure(t *testing.T) {
	mock := newMock(t)
	defer mock.Close()
	store := newTestStore(mock)

	data := catalog.Data{Suppliers: []domain.Supplier{{ID: 1, CompanyName: "Металлбаза"}}}

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM products").WillReturnResult(pgxmock.NewResult("DELETE", 0))
	mock.ExpectExec("DELETE FROM suppliers").WillReturnResult(pgxmock.NewResult("DELETE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"suppliers"}, supplierCopyColumns).WillReturnError(errors.New("copy failed"))
	mock.ExpectRollback()

	require.Error(t, store.Replace(context.Background(), data))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_Ping(t *testing.T) {
	mock := newMock(t)
	defer mock.Close()

	mock.ExpectQuery("SELECT 1").WillReturnRows(pgxmock.NewRows([]string{"?column?"}).AddRow(1))
	require.NoError(t, newTestStore(mock).Ping(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}
