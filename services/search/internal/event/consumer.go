package event

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	apperrors "github.com/pr-poehali-dev/velund-ai-project/pkg/errors"
	pkgkafka "github.com/pr-poehali-dev/velund-ai-project/pkg/kafka"
	"github.com/pr-poehali-dev/velund-ai-project/pkg/validator"
	"github.com/pr-poehali-dev/velund-ai-project/services/search/internal/service"
)

// Kafka topics of catalog events consumed by the search service.
var (
	TopicProductUpserted  = pkgkafka.Topic("catalog.product", "upserted")
	TopicProductDeleted   = pkgkafka.Topic("catalog.product", "deleted")
	TopicSupplierUpserted = pkgkafka.Topic("catalog.supplier", "upserted")
)

// Topics returns the topics the catalog consumer subscribes to.
func Topics() []string {
	return []string{TopicProductUpserted, TopicProductDeleted, TopicSupplierUpserted}
}

// ProductDeletedData represents the payload of a product.deleted event.
type ProductDeletedData struct {
	ID int64 `json:"id"`
}

// CatalogService is the part of the search service catalog events drive.
type CatalogService interface {
	UpsertSupplier(ctx context.Context, input service.SupplierInput) error
	UpsertProduct(ctx context.Context, input service.ProductInput) error
	DeleteProduct(ctx context.Context, id int64) error
}

// Consumer applies catalog change events to the writable catalog.
type Consumer struct {
	catalog CatalogService
	logger  *slog.Logger
}

// NewConsumer creates a new event consumer for the search service.
func NewConsumer(catalog CatalogService, logger *slog.Logger) *Consumer {
	return &Consumer{
		catalog: catalog,
		logger:  logger,
	}
}

// Handle processes a Kafka event based on its type.
func (c *Consumer) Handle(ctx context.Context, event *pkgkafka.Event) error {
	switch event.EventType {
	case TopicProductUpserted:
		return c.handleProductUpserted(ctx, event)
	case TopicProductDeleted:
		return c.handleProductDeleted(ctx, event)
	case TopicSupplierUpserted:
		return c.handleSupplierUpserted(ctx, event)
	default:
		c.logger.WarnContext(ctx, "unknown event type received",
			slog.String("event_type", event.EventType),
			slog.String("event_id", event.EventID),
		)
		return nil
	}
}

// handleProductUpserted writes a created or updated product.
func (c *Consumer) handleProductUpserted(ctx context.Context, event *pkgkafka.Event) error {
	var data service.ProductInput
	if err := event.UnmarshalData(&data); err != nil {
		return err
	}

	if err := c.catalog.UpsertProduct(ctx, data); err != nil {
		return classify(fmt.Errorf("upsert product from event: %w", err))
	}

	c.logger.InfoContext(ctx, "upserted product from event",
		slog.Int64("product_id", data.ID),
		slog.Int64("supplier_id", data.SupplierID),
	)

	return nil
}

// handleProductDeleted removes a product. Deleting a product that is already
// gone succeeds so redelivered events are harmless.
func (c *Consumer) handleProductDeleted(ctx context.Context, event *pkgkafka.Event) error {
	var data ProductDeletedData
	if err := event.UnmarshalData(&data); err != nil {
		return err
	}

	err := c.catalog.DeleteProduct(ctx, data.ID)
	switch {
	case errors.Is(err, apperrors.ErrNotFound):
		c.logger.DebugContext(ctx, "product from deleted event already absent",
			slog.String("product_id", strconv.FormatInt(data.ID, 10)),
		)
		return nil
	case err != nil:
		return classify(fmt.Errorf("delete product from event: %w", err))
	}

	c.logger.InfoContext(ctx, "deleted product from event",
		slog.Int64("product_id", data.ID),
	)

	return nil
}

// handleSupplierUpserted writes a supplier and refreshes its listings.
func (c *Consumer) handleSupplierUpserted(ctx context.Context, event *pkgkafka.Event) error {
	var data service.SupplierInput
	if err := event.UnmarshalData(&data); err != nil {
		return err
	}

	if err := c.catalog.UpsertSupplier(ctx, data); err != nil {
		return classify(fmt.Errorf("upsert supplier from event: %w", err))
	}

	c.logger.InfoContext(ctx, "upserted supplier from event",
		slog.Int64("supplier_id", data.ID),
		slog.String("city", data.City),
	)

	return nil
}

// classify marks payloads that can never be applied as malformed so the
// consumer dead-letters them instead of retrying.
func classify(err error) error {
	var valErr *validator.ValidationError
	if errors.As(err, &valErr) || errors.Is(err, apperrors.ErrInvalidInput) || errors.Is(err, apperrors.ErrNotSupported) {
		return fmt.Errorf("%w: %w", pkgkafka.ErrMalformedEvent, err)
	}
	return err
}
