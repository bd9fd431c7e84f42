package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/pr-poehali-dev/velund-ai-project/pkg/database"
	"github.com/pr-poehali-dev/velund-ai-project/services/search/internal/domain"
	"github.com/pr-poehali-dev/velund-ai-project/services/search/internal/history"
)

// Store implements history.Store on the search_queries table.
type Store struct {
	db database.DBTX
}

// New creates a PostgreSQL-backed search history.
func New(db database.DBTX) *Store {
	return &Store{db: db}
}

// Record inserts a search record. An empty user id is stored as NULL.
func (s *Store) Record(ctx context.Context, rec domain.SearchRecord) (err error) {
	parsed, err := json.Marshal(rec.Parsed)
	if err != nil {
		return fmt.Errorf("marshal parsed query: %w", err)
	}

	query := `
		INSERT INTO search_queries (id, user_id, query, parsed, results_count, created_at)
		VALUES ($1, NULLIF($2, ''), $3, $4, $5, $6)`

	ctx, end := database.TraceQuery(ctx, "history.record", query)
	defer func() { end(err) }()

	_, err = s.db.Exec(ctx, query,
		rec.ID,
		rec.UserID,
		rec.Query,
		parsed,
		rec.ResultsCount,
		rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert search record: %w", err)
	}
	return nil
}

// ListByUser returns a user's searches, newest first.
func (s *Store) ListByUser(ctx context.Context, userID string, offset, limit int) (_ []domain.SearchRecord, _ int, err error) {
	query := `
		SELECT id::text, COALESCE(user_id, ''), query, parsed, results_count, created_at,
		       count(*) OVER() AS total_count
		FROM search_queries
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3`

	ctx, end := database.TraceQuery(ctx, "history.list_by_user", query)
	defer func() { end(err) }()

	rows, err := s.db.Query(ctx, query, userID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list search records: %w", err)
	}
	defer rows.Close()

	var totalCount int
	records := make([]domain.SearchRecord, 0)
	for rows.Next() {
		var (
			rec    domain.SearchRecord
			parsed []byte
		)
		if err := rows.Scan(
			&rec.ID,
			&rec.UserID,
			&rec.Query,
			&parsed,
			&rec.ResultsCount,
			&rec.CreatedAt,
			&totalCount,
		); err != nil {
			return nil, 0, fmt.Errorf("scan search record: %w", err)
		}
		if len(parsed) > 0 {
			if err := json.Unmarshal(parsed, &rec.Parsed); err != nil {
				return nil, 0, fmt.Errorf("unmarshal parsed query of %s: %w", rec.ID, err)
			}
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate search records: %w", err)
	}

	// The window count is absent when the page is past the end.
	if len(records) == 0 && offset > 0 {
		if err := s.db.QueryRow(ctx,
			`SELECT COUNT(*) FROM search_queries WHERE user_id = $1`, userID,
		).Scan(&totalCount); err != nil {
			return nil, 0, fmt.Errorf("count search records: %w", err)
		}
	}
	return records, totalCount, nil
}

// ZeroResultQueries groups queries that found nothing by their lower-cased
// text, most frequent first.
func (s *Store) ZeroResultQueries(ctx context.Context, limit int) (_ []domain.ZeroResultQuery, err error) {
	if limit <= 0 {
		limit = history.DefaultZeroResultsLimit
	}

	query := `
		SELECT lower(btrim(query)) AS q, COUNT(*), MAX(created_at)
		FROM search_queries
		WHERE results_count = 0
		GROUP BY 1
		ORDER BY 2 DESC, 3 DESC, 1 ASC
		LIMIT $1`

	ctx, end := database.TraceQuery(ctx, "history.zero_results", query)
	defer func() { end(err) }()

	rows, err := s.db.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("query zero-result searches: %w", err)
	}
	defer rows.Close()

	out := make([]domain.ZeroResultQuery, 0)
	for rows.Next() {
		var z domain.ZeroResultQuery
		if err := rows.Scan(&z.Query, &z.Count, &z.LastSeen); err != nil {
			return nil, fmt.Errorf("scan zero-result search: %w", err)
		}
		out = append(out, z)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate zero-result searches: %w", err)
	}
	return out, nil
}
