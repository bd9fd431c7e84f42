// Package history records performed searches for the search history page
// and catalog analytics.
package history

import (
	"context"
	"strings"

	"github.com/pr-poehali-dev/velund-ai-project/services/search/internal/domain"
)

// DefaultZeroResultsLimit is used when no positive limit is given.
const DefaultZeroResultsLimit = 20

// Store persists search records.
type Store interface {
	// Record stores one performed search.
	Record(ctx context.Context, rec domain.SearchRecord) error

	// ListByUser returns a user's searches, newest first, with the total count.
	ListByUser(ctx context.Context, userID string, offset, limit int) ([]domain.SearchRecord, int, error)

	// ZeroResultQueries returns the query texts that found nothing most often.
	ZeroResultQueries(ctx context.Context, limit int) ([]domain.ZeroResultQuery, error)
}

// QueryKey groups query texts that differ only in case and surrounding space.
func QueryKey(query string) string {
	return strings.ToLower(strings.TrimSpace(query))
}
