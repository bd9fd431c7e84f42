package postgres

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"

	"github.com/pr-poehali-dev/velund-ai-project/pkg/database"
	apperrors "github.com/pr-poehali-dev/velund-ai-project/pkg/errors"
	"github.com/pr-poehali-dev/velund-ai-project/services/search/internal/catalog"
	"github.com/pr-poehali-dev/velund-ai-project/services/search/internal/domain"
	"github.com/pr-poehali-dev/velund-ai-project/services/search/internal/interpreter"
)

// DefaultCandidateLimit bounds the rows a single search reads.
const DefaultCandidateLimit = 1000

const listingColumns = `p.id, p.supplier_id, p.name, p.price::text, p.unit, p.quantity::float8,
		COALESCE(NULLIF(p.city, ''), s.city), p.category,
		s.company_name, s.phone, s.email, s.rating::float8`

// Store implements catalog.Store on PostgreSQL. Normalized city, category
// and name keys are written alongside each row so searches can narrow the
// candidate set in SQL with the same comparison rules as the ranking engine.
type Store struct {
	db    database.DBTX
	dict  *interpreter.Dictionary
	limit int
}

// New creates a PostgreSQL-backed catalog.
func New(db database.DBTX, dict *interpreter.Dictionary, candidateLimit int) *Store {
	if candidateLimit <= 0 {
		candidateLimit = DefaultCandidateLimit
	}
	return &Store{db: db, dict: dict, limit: candidateLimit}
}

// Candidates returns listings matching the price, city, category and keyword
// filters of q, cheapest first.
func (s *Store) Candidates(ctx context.Context, q domain.ParsedQuery) (_ []domain.Listing, err error) {
	var (
		conditions []string
		args       []any
		argIndex   = 1
	)

	if q.MaxPrice != nil {
		conditions = append(conditions, fmt.Sprintf("p.price <= $%d", argIndex))
		args = append(args, *q.MaxPrice)
		argIndex++
	}

	if q.City != "" {
		conditions = append(conditions, fmt.Sprintf("COALESCE(NULLIF(p.city_key, ''), s.city_key) = $%d", argIndex))
		args = append(args, s.dict.CityKey(q.City))
		argIndex++
	}

	if q.Category != "" {
		conditions = append(conditions, fmt.Sprintf("p.category_key = $%d", argIndex))
		args = append(args, s.dict.CategoryKey(q.Category, ""))
		argIndex++
	}

	for _, kw := range interpreter.Keywords(q.Product) {
		conditions = append(conditions, fmt.Sprintf("p.name_norm ~ $%d", argIndex))
		args = append(args, keywordPattern(kw))
		argIndex++
	}

	whereClause := ""
	if len(conditions) > 0 {
		whereClause = "WHERE " + strings.Join(conditions, " AND ")
	}

	query := fmt.Sprintf(`
		SELECT %s
		FROM products p
		JOIN suppliers s ON s.id = p.supplier_id
		%s
		ORDER BY p.price ASC, s.rating DESC, p.id ASC
		LIMIT $%d`,
		listingColumns, whereClause, argIndex,
	)
	args = append(args, s.limit)

	ctx, end := database.TraceQuery(ctx, "catalog.candidates", query)
	defer func() { end(err) }()

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, wrap("query candidates", err)
	}
	defer rows.Close()

	listings := make([]domain.Listing, 0)
	for rows.Next() {
		var (
			l     domain.Listing
			price string
		)
		if err := rows.Scan(
			&l.ID,
			&l.SupplierID,
			&l.Name,
			&price,
			&l.Unit,
			&l.Quantity,
			&l.City,
			&l.Category,
			&l.CompanyName,
			&l.Phone,
			&l.Email,
			&l.Rating,
		); err != nil {
			return nil, fmt.Errorf("scan listing row: %w", err)
		}
		if l.Price, err = decimal.NewFromString(price); err != nil {
			return nil, fmt.Errorf("parse price of product %d: %w", l.ID, err)
		}
		listings = append(listings, l)
	}
	if err := rows.Err(); err != nil {
		return nil, wrap("iterate listing rows", err)
	}
	return listings, nil
}

// keywordPattern matches a name_norm token starting with kw. A numeric
// keyword must not run into another digit, so 20 does not select 200 or 120.
func keywordPattern(kw string) string {
	pattern := "(^| )" + regexp.QuoteMeta(kw)
	if last, _ := utf8.DecodeLastRuneInString(kw); unicode.IsDigit(last) {
		pattern += "($|[^0-9])"
	}
	return pattern
}

// Suggest returns distinct product names starting with prefix.
func (s *Store) Suggest(ctx context.Context, prefix string, limit int) (_ []string, err error) {
	if limit <= 0 {
		limit = 10
	}
	want := interpreter.NormalizeText(prefix)
	if want == "" {
		return []string{}, nil
	}

	query := `
		SELECT name FROM products
		WHERE name_norm LIKE $1
		GROUP BY name
		ORDER BY MIN(price) ASC, name ASC
		LIMIT $2`

	ctx, end := database.TraceQuery(ctx, "catalog.suggest", query)
	defer func() { end(err) }()

	rows, err := s.db.Query(ctx, query, want+"%", limit)
	if err != nil {
		return nil, wrap("query suggestions", err)
	}
	defer rows.Close()

	names := make([]string, 0, limit)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan suggestion: %w", err)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, wrap("iterate suggestions", err)
	}
	return names, nil
}

// Stats aggregates categories and cities in SQL.
func (s *Store) Stats(ctx context.Context) (_ *domain.MarketStats, err error) {
	ctx, end := database.TraceQuery(ctx, "catalog.stats", "market stats")
	defer func() { end(err) }()

	stats := &domain.MarketStats{
		Categories: make([]domain.CategoryStat, 0),
		Cities:     make([]domain.CityStat, 0),
	}

	if err := s.db.QueryRow(ctx,
		`SELECT (SELECT COUNT(*) FROM products), (SELECT COUNT(*) FROM suppliers)`,
	).Scan(&stats.Products, &stats.Suppliers); err != nil {
		return nil, wrap("count catalog", err)
	}

	rows, err := s.db.Query(ctx, `
		SELECT COALESCE(NULLIF(category_key, ''), $1) AS category, COUNT(*), ROUND(AVG(price), 2)::text
		FROM products
		GROUP BY 1
		ORDER BY 2 DESC, 1 ASC
		LIMIT $2`, catalog.OtherCategory, catalog.StatsLimit)
	if err != nil {
		return nil, wrap("query category stats", err)
	}
	for rows.Next() {
		var (
			c   domain.CategoryStat
			avg string
		)
		if err := rows.Scan(&c.Category, &c.Count, &avg); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan category stat: %w", err)
		}
		if c.AvgPrice, err = decimal.NewFromString(avg); err != nil {
			rows.Close()
			return nil, fmt.Errorf("parse average price: %w", err)
		}
		stats.Categories = append(stats.Categories, c)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, wrap("iterate category stats", err)
	}

	rows, err = s.db.Query(ctx, `
		SELECT city, COUNT(*)
		FROM suppliers
		WHERE city <> ''
		GROUP BY city
		ORDER BY 2 DESC, 1 ASC
		LIMIT $1`, catalog.StatsLimit)
	if err != nil {
		return nil, wrap("query city stats", err)
	}
	defer rows.Close()
	for rows.Next() {
		var c domain.CityStat
		if err := rows.Scan(&c.City, &c.Suppliers); err != nil {
			return nil, fmt.Errorf("scan city stat: %w", err)
		}
		stats.Cities = append(stats.Cities, c)
	}
	if err := rows.Err(); err != nil {
		return nil, wrap("iterate city stats", err)
	}
	return stats, nil
}

// Ping checks the connection.
func (s *Store) Ping(ctx context.Context) error {
	var one int
	if err := s.db.QueryRow(ctx, "SELECT 1").Scan(&one); err != nil {
		return wrap("ping catalog", err)
	}
	return nil
}

// UpsertSupplier inserts or updates a supplier.
func (s *Store) UpsertSupplier(ctx context.Context, sup domain.Supplier) (err error) {
	if sup.ID <= 0 {
		return apperrors.InvalidInput("supplier id must be positive")
	}
	query := `
		INSERT INTO suppliers (id, company_name, city, city_key, phone, email, rating, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())
		ON CONFLICT (id) DO UPDATE SET
			company_name = EXCLUDED.company_name,
			city = EXCLUDED.city,
			city_key = EXCLUDED.city_key,
			phone = EXCLUDED.phone,
			email = EXCLUDED.email,
			rating = EXCLUDED.rating,
			updated_at = NOW()`

	ctx, end := database.TraceQuery(ctx, "catalog.upsert_supplier", query)
	defer func() { end(err) }()

	_, err = s.db.Exec(ctx, query,
		sup.ID,
		sup.CompanyName,
		sup.City,
		s.dict.CityKey(sup.City),
		sup.Phone,
		sup.Email,
		sup.Rating,
	)
	if err != nil {
		return wrap("upsert supplier", err)
	}
	return nil
}

// UpsertProduct inserts or updates a product.
func (s *Store) UpsertProduct(ctx context.Context, p domain.Product) (err error) {
	if err := catalog.ValidateProduct(p); err != nil {
		return err
	}
	query := `
		INSERT INTO products (id, supplier_id, name, name_norm, price, unit, quantity, city, city_key, category, category_key, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, NOW())
		ON CONFLICT (id) DO UPDATE SET
			supplier_id = EXCLUDED.supplier_id,
			name = EXCLUDED.name,
			name_norm = EXCLUDED.name_norm,
			price = EXCLUDED.price,
			unit = EXCLUDED.unit,
			quantity = EXCLUDED.quantity,
			city = EXCLUDED.city,
			city_key = EXCLUDED.city_key,
			category = EXCLUDED.category,
			category_key = EXCLUDED.category_key,
			updated_at = NOW()`

	ctx, end := database.TraceQuery(ctx, "catalog.upsert_product", query)
	defer func() { end(err) }()

	_, err = s.db.Exec(ctx, query, s.productRow(p)...)
	if err != nil {
		if isForeignKeyViolation(err) {
			return apperrors.NotFound("supplier", strconv.FormatInt(p.SupplierID, 10))
		}
		return wrap("upsert product", err)
	}
	return nil
}

// DeleteProduct removes a product.
func (s *Store) DeleteProduct(ctx context.Context, id int64) (err error) {
	query := `DELETE FROM products WHERE id = $1`

	ctx, end := database.TraceQuery(ctx, "catalog.delete_product", query)
	defer func() { end(err) }()

	tag, err := s.db.Exec(ctx, query, id)
	if err != nil {
		return wrap("delete product", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.NotFound("product", strconv.FormatInt(id, 10))
	}
	return nil
}

var (
	supplierCopyColumns = []string{"id", "company_name", "city", "city_key", "phone", "email", "rating"}
	productCopyColumns  = []string{
		"id", "supplier_id", "name", "name_norm", "price", "unit", "quantity",
		"city", "city_key", "category", "category_key",
	}
)

// Replace swaps the catalog in one transaction using COPY.
func (s *Store) Replace(ctx context.Context, data catalog.Data) (err error) {
	if err := data.Validate(); err != nil {
		return err
	}

	ctx, end := database.TraceQuery(ctx, "catalog.replace", "replace catalog")
	defer func() { end(err) }()

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return wrap("begin replace", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, "DELETE FROM products"); err != nil {
		return wrap("clear products", err)
	}
	if _, err := tx.Exec(ctx, "DELETE FROM suppliers"); err != nil {
		return wrap("clear suppliers", err)
	}

	supplierRows := make([][]any, 0, len(data.Suppliers))
	for _, sup := range data.Suppliers {
		supplierRows = append(supplierRows, []any{
			sup.ID, sup.CompanyName, sup.City, s.dict.CityKey(sup.City), sup.Phone, sup.Email, sup.Rating,
		})
	}
	if _, err := tx.CopyFrom(ctx, pgx.Identifier{"suppliers"}, supplierCopyColumns, pgx.CopyFromRows(supplierRows)); err != nil {
		return wrap("copy suppliers", err)
	}

	productRows := make([][]any, 0, len(data.Products))
	for _, p := range data.Products {
		productRows = append(productRows, s.productRow(p))
	}
	if _, err := tx.CopyFrom(ctx, pgx.Identifier{"products"}, productCopyColumns, pgx.CopyFromRows(productRows)); err != nil {
		return wrap("copy products", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return wrap("commit replace", err)
	}
	return nil
}

// productRow returns the column values of p in productCopyColumns order.
func (s *Store) productRow(p domain.Product) []any {
	return []any{
		p.ID,
		p.SupplierID,
		p.Name,
		interpreter.NormalizeText(p.Name),
		numeric(p.Price),
		p.Unit,
		p.Quantity,
		p.City,
		cityKey(s.dict, p.City),
		p.Category,
		s.dict.CategoryKey(p.Category, p.Name),
	}
}

// cityKey leaves the key empty for products without their own city so the
// supplier's key applies.
func cityKey(dict *interpreter.Dictionary, city string) string {
	if strings.TrimSpace(city) == "" {
		return ""
	}
	return dict.CityKey(city)
}

func numeric(d decimal.Decimal) pgtype.Numeric {
	return pgtype.Numeric{Int: d.Coefficient(), Exp: d.Exponent(), Valid: true}
}

func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23503"
}

// wrap marks connection failures as catalog.ErrUnavailable.
func wrap(op string, err error) error {
	if database.IsConnectionError(err) {
		return fmt.Errorf("%s: %w", op, errors.Join(catalog.ErrUnavailable, err))
	}
	return fmt.Errorf("%s: %w", op, err)
}
