package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	apperrors "github.com/pr-poehali-dev/velund-ai-project/pkg/errors"
	"github.com/pr-poehali-dev/velund-ai-project/pkg/pagination"
	"github.com/pr-poehali-dev/velund-ai-project/services/search/internal/catalog"
	"github.com/pr-poehali-dev/velund-ai-project/services/search/internal/domain"
	"github.com/pr-poehali-dev/velund-ai-project/services/search/internal/history"
	"github.com/pr-poehali-dev/velund-ai-project/services/search/internal/interpreter"
	"github.com/pr-poehali-dev/velund-ai-project/services/search/internal/ranking"
)

// Defaults applied when Config leaves a field zero.
const (
	DefaultMaxQueryLength = 500
	DefaultTimeout        = 3 * time.Second
	DefaultHistoryTimeout = 2 * time.Second
	DefaultSuggestLimit   = 10
	MaxSuggestLimit       = 20
)

// Search outcomes reported in metrics.
const (
	outcomeOK          = "ok"
	outcomeEmpty       = "empty"
	outcomeNoResults   = "no_results"
	outcomeInvalid     = "invalid"
	outcomeUnavailable = "unavailable"
	outcomeError       = "error"
)

// interpretationEmptyMessage is shown when nothing could be extracted.
const interpretationEmptyMessage = "Не удалось распознать запрос. Укажите товар, город или цену, " +
	"например: «швеллер 14П в Казани до 90 000 ₽»."

var (
	searchRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "velund_search_requests_total",
			Help: "Search requests by outcome.",
		},
		[]string{"outcome"},
	)
	searchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "velund_search_duration_seconds",
		Help:    "Time spent interpreting, fetching and ranking a search.",
		Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
	})
	searchResults = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "velund_search_results",
		Help:    "Number of results returned per search.",
		Buckets: []float64{0, 1, 5, 10, 20, 50},
	})
)

// EventPublisher emits analytics events about performed searches.
type EventPublisher interface {
	PublishSearchPerformed(ctx context.Context, rec domain.SearchRecord) error
}

// Config tunes the search service.
type Config struct {
	MaxQueryLength int
	Timeout        time.Duration
	HistoryTimeout time.Duration
	// SeedFile is the catalog JSON reloaded by Reload.
	SeedFile string
}

func (c Config) withDefaults() Config {
	if c.MaxQueryLength <= 0 {
		c.MaxQueryLength = DefaultMaxQueryLength
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.HistoryTimeout <= 0 {
		c.HistoryTimeout = DefaultHistoryTimeout
	}
	return c
}

// Option configures optional collaborators of the service.
type Option func(*SearchService)

// WithWriter enables catalog administration through w.
func WithWriter(w catalog.Writer) Option {
	return func(s *SearchService) { s.writer = w }
}

// WithHistory records every search in h.
func WithHistory(h history.Store) Option {
	return func(s *SearchService) { s.history = h }
}

// WithEvents publishes a search.performed event after every search.
func WithEvents(p EventPublisher) Option {
	return func(s *SearchService) { s.events = p }
}

// SearchService implements the business logic for search operations.
type SearchService struct {
	interpreter interpreter.Interpreter
	catalog     catalog.Reader
	writer      catalog.Writer
	engine      *ranking.Engine
	history     history.Store
	events      EventPublisher
	cfg         Config
	logger      *slog.Logger

	// wg tracks background history and event writes.
	wg sync.WaitGroup
}

// NewSearchService creates a new search service.
func NewSearchService(
	interp interpreter.Interpreter,
	reader catalog.Reader,
	engine *ranking.Engine,
	cfg Config,
	logger *slog.Logger,
	opts ...Option,
) *SearchService {
	s := &SearchService{
		interpreter: interp,
		catalog:     reader,
		engine:      engine,
		cfg:         cfg.withDefaults(),
		logger:      logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SearchInput holds the parameters of a search.
type SearchInput struct {
	Query  string `json:"query"`
	UserID string `json:"user_id,omitempty"`
}

// Search interprets the query, filters the catalog and ranks the matches.
// Count always equals the number of returned results. A query nothing could
// be extracted from yields zero results and a notice, never the whole catalog.
func (s *SearchService) Search(ctx context.Context, input SearchInput) (*domain.SearchResult, error) {
	start := time.Now()

	text := strings.TrimSpace(input.Query)
	if text == "" {
		searchRequests.WithLabelValues(outcomeInvalid).Inc()
		return nil, apperrors.InvalidInput("query is required")
	}
	if utf8.RuneCountInString(text) > s.cfg.MaxQueryLength {
		searchRequests.WithLabelValues(outcomeInvalid).Inc()
		return nil, apperrors.InvalidInput(fmt.Sprintf("query must be at most %d characters", s.cfg.MaxQueryLength))
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	parsed, err := s.interpreter.Interpret(ctx, text)
	if err != nil {
		return nil, s.fail(ctx, "interpret query", err)
	}

	result := &domain.SearchResult{
		Query:   input.Query,
		Parsed:  parsed,
		Results: []domain.Listing{},
	}

	outcome := outcomeOK
	if parsed.IsEmpty() {
		outcome = outcomeEmpty
		result.Notice = &domain.Notice{
			Code:    domain.NoticeInterpretationEmpty,
			Message: interpretationEmptyMessage,
		}
	} else {
		listings, err := s.catalog.Candidates(ctx, parsed)
		if err != nil {
			return nil, s.fail(ctx, "load candidates", err)
		}
		ranked := s.engine.Search(parsed, listings)
		result.Results = ranked.Listings
		result.Truncated = ranked.Truncated
		if len(result.Results) == 0 {
			outcome = outcomeNoResults
		}
	}
	result.Count = len(result.Results)

	searchRequests.WithLabelValues(outcome).Inc()
	searchDuration.Observe(time.Since(start).Seconds())
	searchResults.Observe(float64(result.Count))

	s.logger.DebugContext(ctx, "search executed",
		slog.String("query", text),
		slog.Int("count", result.Count),
		slog.Bool("truncated", result.Truncated),
		slog.Duration("took", time.Since(start)),
	)

	s.record(ctx, domain.SearchRecord{
		ID:           uuid.NewString(),
		UserID:       input.UserID,
		Query:        text,
		Parsed:       parsed,
		ResultsCount: result.Count,
		CreatedAt:    time.Now().UTC(),
	})

	return result, nil
}

// fail maps an interpreter or catalog failure to UpstreamUnavailable.
// Timeouts and backend outages are both reported as unavailable.
func (s *SearchService) fail(ctx context.Context, op string, err error) error {
	if !upstreamFailure(ctx, err) {
		searchRequests.WithLabelValues(outcomeError).Inc()
		return apperrors.Internal(fmt.Errorf("%s: %w", op, err))
	}
	searchRequests.WithLabelValues(outcomeUnavailable).Inc()
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		err = fmt.Errorf("%s: timed out after %s: %w", op, s.cfg.Timeout, err)
	} else {
		err = fmt.Errorf("%s: %w", op, err)
	}
	return apperrors.UpstreamUnavailable(err)
}

// upstreamFailure reports whether err comes from an unreachable or slow
// dependency. Anything else is an internal error.
func upstreamFailure(ctx context.Context, err error) bool {
	return errors.Is(err, catalog.ErrUnavailable) ||
		errors.Is(err, apperrors.ErrUpstreamUnavailable) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(ctx.Err(), context.DeadlineExceeded)
}

// dependencyError wraps a failed catalog read for the caller.
func dependencyError(ctx context.Context, op string, err error) error {
	err = fmt.Errorf("%s: %w", op, err)
	if upstreamFailure(ctx, err) {
		return apperrors.UpstreamUnavailable(err)
	}
	return apperrors.Internal(err)
}

// record stores the search in history and publishes the analytics event
// without delaying the response. Failures are logged only.
func (s *SearchService) record(ctx context.Context, rec domain.SearchRecord) {
	if s.history == nil && s.events == nil {
		return
	}

	ctx = context.WithoutCancel(ctx)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ctx, cancel := context.WithTimeout(ctx, s.cfg.HistoryTimeout)
		defer cancel()

		if s.history != nil {
			if err := s.history.Record(ctx, rec); err != nil {
				s.logger.WarnContext(ctx, "failed to record search history",
					slog.String("search_id", rec.ID),
					slog.String("error", err.Error()),
				)
			}
		}
		if s.events != nil {
			if err := s.events.PublishSearchPerformed(ctx, rec); err != nil {
				s.logger.WarnContext(ctx, "failed to publish search event",
					slog.String("search_id", rec.ID),
					slog.String("error", err.Error()),
				)
			}
		}
	}()
}

// Wait blocks until background history and event writes have finished.
func (s *SearchService) Wait() {
	s.wg.Wait()
}

// Suggest returns product names starting with prefix, cheapest offer first.
func (s *SearchService) Suggest(ctx context.Context, prefix string, limit int) ([]string, error) {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		return []string{}, nil
	}
	if utf8.RuneCountInString(prefix) > s.cfg.MaxQueryLength {
		return nil, apperrors.InvalidInput(fmt.Sprintf("prefix must be at most %d characters", s.cfg.MaxQueryLength))
	}
	if limit <= 0 {
		limit = DefaultSuggestLimit
	}
	limit = min(limit, MaxSuggestLimit)

	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	names, err := s.catalog.Suggest(ctx, prefix, limit)
	if err != nil {
		return nil, dependencyError(ctx, "suggest", err)
	}
	if names == nil {
		names = []string{}
	}
	return names, nil
}

// Stats summarizes the catalog by category and supplier city.
func (s *SearchService) Stats(ctx context.Context) (*domain.MarketStats, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	stats, err := s.catalog.Stats(ctx)
	if err != nil {
		return nil, dependencyError(ctx, "catalog stats", err)
	}
	return stats, nil
}

// History returns a page of the user's past searches, newest first.
func (s *SearchService) History(ctx context.Context, userID string, params pagination.Params) (pagination.Result[domain.SearchRecord], error) {
	if s.history == nil {
		return pagination.Result[domain.SearchRecord]{}, apperrors.NotSupported("search history is disabled")
	}
	if userID == "" {
		return pagination.Result[domain.SearchRecord]{}, apperrors.Unauthorized("sign in to see search history")
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	records, total, err := s.history.ListByUser(ctx, userID, params.Offset(), params.PerPage)
	if err != nil {
		return pagination.Result[domain.SearchRecord]{}, apperrors.UpstreamUnavailable(fmt.Errorf("list history: %w", err))
	}
	return pagination.NewResult(records, total, params), nil
}

// ZeroResults returns the query texts that most often found nothing.
func (s *SearchService) ZeroResults(ctx context.Context, limit int) ([]domain.ZeroResultQuery, error) {
	if s.history == nil {
		return nil, apperrors.NotSupported("search history is disabled")
	}
	if limit <= 0 {
		limit = history.DefaultZeroResultsLimit
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	queries, err := s.history.ZeroResultQueries(ctx, min(limit, 100))
	if err != nil {
		return nil, apperrors.UpstreamUnavailable(fmt.Errorf("zero-result queries: %w", err))
	}
	if queries == nil {
		queries = []domain.ZeroResultQuery{}
	}
	return queries, nil
}

// Ready checks that the catalog backend answers.
func (s *SearchService) Ready(ctx context.Context) error {
	return s.catalog.Ping(ctx)
}
