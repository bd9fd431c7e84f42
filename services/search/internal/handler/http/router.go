package http

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/pr-poehali-dev/velund-ai-project/pkg/health"
	"github.com/pr-poehali-dev/velund-ai-project/pkg/middleware"
	"github.com/pr-poehali-dev/velund-ai-project/services/search/internal/service"
)

// RouterConfig holds the transport settings of the HTTP API.
type RouterConfig struct {
	ServiceName string
	CORS        middleware.CORSConfig
	Session     middleware.SessionConfig
	// RateLimitRPS of zero disables rate limiting.
	RateLimitRPS   float64
	RateLimitBurst int
	RequestTimeout time.Duration
}

// NewRouter creates a chi router with all search service routes registered.
// ctx bounds background work of the middleware (rate limiter eviction).
func NewRouter(
	ctx context.Context,
	cfg RouterConfig,
	searchService *service.SearchService,
	healthHandler *health.Handler,
	logger *slog.Logger,
) http.Handler {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}

	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.CORS(cfg.CORS))
	r.Use(middleware.Recovery(logger))
	r.Use(chimw.Compress(5))
	r.Use(chimw.Timeout(cfg.RequestTimeout))
	r.Use(middleware.RequestLogging(logger))
	r.Use(middleware.Tracing(cfg.ServiceName))
	r.Use(middleware.PrometheusMetrics(cfg.ServiceName))

	// Health check endpoints
	r.Get("/health/live", healthHandler.LivenessHandler())
	r.Get("/health/ready", healthHandler.ReadinessHandler())
	r.Handle("/metrics", promhttp.Handler())

	searchHandler := NewSearchHandler(searchService, logger)
	catalogHandler := NewCatalogHandler(searchService, logger)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.SessionMiddleware(cfg.Session, logger))
		r.Use(middleware.RequestLogger(logger))
		if cfg.RateLimitRPS > 0 {
			r.Use(middleware.RateLimit(ctx, cfg.RateLimitRPS, cfg.RateLimitBurst, logger))
		}

		r.Route("/search", func(r chi.Router) {
			r.Get("/", searchHandler.Search)
			r.With(ContentTypeJSON).Post("/", searchHandler.Search)
			r.Get("/suggest", searchHandler.Suggest)
			r.With(middleware.RequireToken).Get("/history", searchHandler.History)
			r.With(middleware.RequireRole(middleware.RoleAdmin)).
				Get("/history/zero-results", searchHandler.ZeroResults)
		})

		r.Route("/catalog", func(r chi.Router) {
			r.Get("/stats", catalogHandler.Stats)

			r.Group(func(r chi.Router) {
				r.Use(middleware.RequireRole(middleware.RoleAdmin))
				r.With(ContentTypeJSON).Post("/suppliers", catalogHandler.UpsertSupplier)
				r.With(ContentTypeJSON).Post("/products", catalogHandler.UpsertProduct)
				r.With(ContentTypeJSON).Post("/products/bulk", catalogHandler.BulkUpsertProducts)
				r.Delete("/products/{id}", catalogHandler.DeleteProduct)
				r.Post("/reload", catalogHandler.Reload)
			})
		})
	})

	return r
}

// ContentTypeJSON rejects request bodies that are not declared as JSON.
// Requests without a body are let through.
func ContentTypeJSON(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.ContentLength != 0 {
			ct := r.Header.Get("Content-Type")
			if ct != "" && !isJSON(ct) {
				writeUnsupportedMediaType(w, r)
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}
