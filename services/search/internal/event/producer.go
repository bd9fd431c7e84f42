package event

import (
	"context"
	"fmt"
	"log/slog"

	pkgkafka "github.com/pr-poehali-dev/velund-ai-project/pkg/kafka"
	"github.com/pr-poehali-dev/velund-ai-project/services/search/internal/domain"
)

// Kafka topic of analytics events produced by the search service.
var TopicSearchPerformed = pkgkafka.Topic("search", "performed")

// Aggregate type and source of search events.
const (
	AggregateTypeSearch = "search"
	SourceSearchService = "search-service"
)

// SearchPerformedData is the payload of a search.performed event.
type SearchPerformedData struct {
	ID           string             `json:"id"`
	UserID       string             `json:"user_id,omitempty"`
	Query        string             `json:"query"`
	Parsed       domain.ParsedQuery `json:"parsed"`
	ResultsCount int                `json:"results_count"`
}

// Publisher sends an event to a topic. *pkgkafka.Producer implements it.
type Publisher interface {
	Publish(ctx context.Context, topic string, event *pkgkafka.Event) error
}

// Producer publishes search analytics events to Kafka.
type Producer struct {
	kafka  Publisher
	logger *slog.Logger
}

// NewProducer creates a new event producer for the search service.
func NewProducer(kafka Publisher, logger *slog.Logger) *Producer {
	return &Producer{
		kafka:  kafka,
		logger: logger,
	}
}

// PublishSearchPerformed publishes a search.performed event.
func (p *Producer) PublishSearchPerformed(ctx context.Context, rec domain.SearchRecord) error {
	data := SearchPerformedData{
		ID:           rec.ID,
		UserID:       rec.UserID,
		Query:        rec.Query,
		Parsed:       rec.Parsed,
		ResultsCount: rec.ResultsCount,
	}

	event, err := pkgkafka.NewEvent(TopicSearchPerformed, rec.ID, AggregateTypeSearch, SourceSearchService, data)
	if err != nil {
		return fmt.Errorf("create search.performed event: %w", err)
	}

	if err := p.kafka.Publish(ctx, TopicSearchPerformed, event); err != nil {
		return fmt.Errorf("publish search.performed event: %w", err)
	}

	p.logger.DebugContext(ctx, "published search.performed event",
		slog.String("search_id", rec.ID),
		slog.Int("results_count", rec.ResultsCount),
	)

	return nil
}
