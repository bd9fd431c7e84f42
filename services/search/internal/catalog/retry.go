package catalog

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/pr-poehali-dev/velund-ai-project/services/search/internal/domain"
)

// Retrying wraps a Reader and retries a read once after a transient failure.
type Retrying struct {
	Reader
	backoff time.Duration
	logger  *slog.Logger
}

// NewRetrying wraps r. backoff is the pause before the second attempt.
func NewRetrying(r Reader, backoff time.Duration, logger *slog.Logger) *Retrying {
	return &Retrying{Reader: r, backoff: backoff, logger: logger}
}

// Candidates implements Reader.
func (r *Retrying) Candidates(ctx context.Context, q domain.ParsedQuery) ([]domain.Listing, error) {
	var out []domain.Listing
	err := r.do(ctx, "candidates", func() error {
		var err error
		out, err = r.Reader.Candidates(ctx, q)
		return err
	})
	return out, err
}

// Stats implements Reader.
func (r *Retrying) Stats(ctx context.Context) (*domain.MarketStats, error) {
	var out *domain.MarketStats
	err := r.do(ctx, "stats", func() error {
		var err error
		out, err = r.Reader.Stats(ctx)
		return err
	})
	return out, err
}

func (r *Retrying) do(ctx context.Context, op string, fn func() error) error {
	err := fn()
	if err == nil || !errors.Is(err, ErrUnavailable) || ctx.Err() != nil {
		return err
	}

	r.logger.WarnContext(ctx, "catalog read failed, retrying",
		slog.String("operation", op),
		slog.String("error", err.Error()),
	)
	select {
	case <-ctx.Done():
		return errors.Join(err, ctx.Err())
	case <-time.After(r.backoff):
	}
	return fn()
}
