package memory

import (
	"cmp"
	"context"
	"slices"
	"sync"

	"github.com/pr-poehali-dev/velund-ai-project/services/search/internal/domain"
	"github.com/pr-poehali-dev/velund-ai-project/services/search/internal/history"
)

// DefaultCapacity is the number of records kept before the oldest are dropped.
const DefaultCapacity = 10_000

// Store is an in-memory history.Store bounded to a fixed number of records.
type Store struct {
	mu       sync.RWMutex
	records  []domain.SearchRecord
	capacity int
}

// New creates an in-memory history keeping at most capacity records.
func New(capacity int) *Store {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Store{capacity: capacity}
}

// Record implements history.Store.
func (s *Store) Record(ctx context.Context, rec domain.SearchRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.records) == s.capacity {
		s.records = slices.Delete(s.records, 0, 1)
	}
	s.records = append(s.records, rec)
	return nil
}

// ListByUser implements history.Store.
func (s *Store) ListByUser(ctx context.Context, userID string, offset, limit int) ([]domain.SearchRecord, int, error) {
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var mine []domain.SearchRecord
	for i := len(s.records) - 1; i >= 0; i-- {
		if s.records[i].UserID == userID {
			mine = append(mine, s.records[i])
		}
	}
	slices.SortStableFunc(mine, func(a, b domain.SearchRecord) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})

	total := len(mine)
	start := min(offset, total)
	end := min(start+limit, total)
	page := make([]domain.SearchRecord, end-start)
	copy(page, mine[start:end])
	return page, total, nil
}

// ZeroResultQueries implements history.Store.
func (s *Store) ZeroResultQueries(ctx context.Context, limit int) ([]domain.ZeroResultQuery, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = history.DefaultZeroResultsLimit
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	byKey := make(map[string]*domain.ZeroResultQuery)
	for _, rec := range s.records {
		if rec.ResultsCount != 0 {
			continue
		}
		key := history.QueryKey(rec.Query)
		z, ok := byKey[key]
		if !ok {
			z = &domain.ZeroResultQuery{Query: key}
			byKey[key] = z
		}
		z.Count++
		if rec.CreatedAt.After(z.LastSeen) {
			z.LastSeen = rec.CreatedAt
		}
	}

	out := make([]domain.ZeroResultQuery, 0, len(byKey))
	for _, z := range byKey {
		out = append(out, *z)
	}
	slices.SortFunc(out, func(a, b domain.ZeroResultQuery) int {
		if c := cmp.Compare(b.Count, a.Count); c != 0 {
			return c
		}
		if c := b.LastSeen.Compare(a.LastSeen); c != 0 {
			return c
		}
		return cmp.Compare(a.Query, b.Query)
	})
	return out[:min(len(out), limit)], nil
}

// Len returns the number of stored records.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}
