package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/pr-poehali-dev/velund-ai-project/pkg/database"
	"github.com/pr-poehali-dev/velund-ai-project/pkg/health"
	"github.com/pr-poehali-dev/velund-ai-project/pkg/httpclient"
	pkgkafka "github.com/pr-poehali-dev/velund-ai-project/pkg/kafka"
	"github.com/pr-poehali-dev/velund-ai-project/pkg/middleware"
	"github.com/pr-poehali-dev/velund-ai-project/pkg/tracing"
	"github.com/pr-poehali-dev/velund-ai-project/services/search/internal/catalog"
	catalogelastic "github.com/pr-poehali-dev/velund-ai-project/services/search/internal/catalog/elasticsearch"
	catalogmemory "github.com/pr-poehali-dev/velund-ai-project/services/search/internal/catalog/memory"
	catalogpostgres "github.com/pr-poehali-dev/velund-ai-project/services/search/internal/catalog/postgres"
	"github.com/pr-poehali-dev/velund-ai-project/services/search/internal/config"
	"github.com/pr-poehali-dev/velund-ai-project/services/search/internal/event"
	handler "github.com/pr-poehali-dev/velund-ai-project/services/search/internal/handler/http"
	"github.com/pr-poehali-dev/velund-ai-project/services/search/internal/history"
	historymemory "github.com/pr-poehali-dev/velund-ai-project/services/search/internal/history/memory"
	historypostgres "github.com/pr-poehali-dev/velund-ai-project/services/search/internal/history/postgres"
	"github.com/pr-poehali-dev/velund-ai-project/services/search/internal/interpreter"
	"github.com/pr-poehali-dev/velund-ai-project/services/search/internal/ranking"
	"github.com/pr-poehali-dev/velund-ai-project/services/search/internal/service"
	"github.com/pr-poehali-dev/velund-ai-project/services/search/migrations"
)

// ServiceName identifies the search service in logs, metrics and traces.
const ServiceName = "search"

// catalogRetryBackoff is the pause before a read is retried once.
const catalogRetryBackoff = 100 * time.Millisecond

// Components are the wired search dependencies shared by the HTTP server and
// the Lambda function.
type Components struct {
	Service *service.SearchService
	Health  *health.Handler

	pool     *pgxpool.Pool
	producer *pkgkafka.Producer
	closers  []func() error
}

// Build connects the configured backends and assembles the search service.
// On error every connection opened so far is closed.
func Build(ctx context.Context, cfg *config.Config, logger *slog.Logger) (_ *Components, err error) {
	c := &Components{Health: health.NewHandler()}
	defer func() {
		if err != nil {
			_ = c.Close()
		}
	}()

	dict := interpreter.DefaultDictionary()

	// PostgreSQL backs the postgres catalog and, whenever configured, history.
	if cfg.DatabaseURL != "" {
		if err := c.connectPostgres(ctx, cfg, logger); err != nil {
			return nil, err
		}
	}

	store, err := c.newCatalog(ctx, cfg, dict, logger)
	if err != nil {
		return nil, err
	}
	c.Health.RegisterCritical("catalog", store.Ping)

	interp, err := c.newInterpreter(ctx, cfg, dict, logger)
	if err != nil {
		return nil, err
	}

	opts := []service.Option{service.WithWriter(store)}
	if cfg.HistoryEnabled {
		opts = append(opts, service.WithHistory(c.newHistory(logger)))
	}

	if len(cfg.KafkaBrokers) > 0 {
		c.producer = pkgkafka.NewProducer(pkgkafka.DefaultProducerConfig(cfg.KafkaBrokers), logger)
		c.closers = append(c.closers, c.producer.Close)
		if err := pingKafkaWithRetry(ctx, c.producer, logger); err != nil {
			logger.Warn("kafka producer ping failed after retries, continuing in degraded mode",
				slog.String("error", err.Error()),
			)
		} else {
			logger.Info("kafka producer initialized", slog.Any("brokers", cfg.KafkaBrokers))
		}
		c.Health.Register("kafka", c.producer.Ping)
		opts = append(opts, service.WithEvents(event.NewProducer(c.producer, logger)))
	}

	c.Service = service.NewSearchService(
		interp,
		catalog.NewRetrying(store, catalogRetryBackoff, logger),
		ranking.New(dict, cfg.MaxResults),
		service.Config{
			MaxQueryLength: cfg.MaxQueryLength,
			Timeout:        cfg.Timeout,
			HistoryTimeout: cfg.HistoryTimeout,
			SeedFile:       cfg.CatalogSeedFile,
		},
		logger,
		opts...,
	)
	return c, nil
}

func (c *Components) connectPostgres(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	pgCfg := cfg.Postgres()
	pool, err := database.NewPostgresPool(ctx, &pgCfg, logger)
	if err != nil {
		return fmt.Errorf("connect to postgres: %w", err)
	}
	c.pool = pool
	c.closers = append(c.closers, func() error { pool.Close(); return nil })
	logger.Info("connected to PostgreSQL")

	if err := database.RegisterPoolMetrics(prometheus.DefaultRegisterer, pool, ServiceName); err != nil {
		logger.Warn("pool metrics not registered", slog.String("error", err.Error()))
	}

	if cfg.RunMigrations {
		if err := database.RunMigrations(ctx, pool, migrations.FS, logger); err != nil {
			return fmt.Errorf("run migrations: %w", err)
		}
		logger.Info("database migrations completed")
	}

	if cfg.DBSlowQuery > 0 {
		database.SetSlowQueryLogging(cfg.DBSlowQuery, logger)
	}
	return nil
}

func (c *Components) newCatalog(ctx context.Context, cfg *config.Config, dict *interpreter.Dictionary, logger *slog.Logger) (catalog.Store, error) {
	switch cfg.CatalogBackend {
	case config.CatalogPostgres:
		logger.Info("postgres catalog initialized")
		return catalogpostgres.New(c.pool, dict, catalogpostgres.DefaultCandidateLimit), nil

	case config.CatalogElasticsearch:
		store, err := catalogelastic.New(ctx, catalogelastic.Config{
			URL:            cfg.ElasticsearchURL,
			Index:          cfg.ElasticsearchIndex,
			CandidateLimit: catalogelastic.DefaultCandidateLimit,
		}, dict, logger)
		if err != nil {
			return nil, fmt.Errorf("init elasticsearch catalog: %w", err)
		}
		logger.Info("elasticsearch catalog initialized",
			slog.String("url", cfg.ElasticsearchURL),
			slog.String("index", cfg.ElasticsearchIndex),
		)
		return store, nil

	default:
		store := catalogmemory.New(dict)
		if cfg.CatalogSeedFile != "" {
			data, err := service.LoadSeedFile(cfg.CatalogSeedFile)
			if err != nil {
				return nil, err
			}
			if err := store.Replace(ctx, data); err != nil {
				return nil, fmt.Errorf("load catalog seed: %w", err)
			}
		}
		logger.Info("in-memory catalog initialized", slog.Int("listings", store.Len()))
		return store, nil
	}
}

func (c *Components) newInterpreter(ctx context.Context, cfg *config.Config, dict *interpreter.Dictionary, logger *slog.Logger) (interpreter.Interpreter, error) {
	rules := interpreter.NewRules(dict)
	if !cfg.LLMEnabled {
		return rules, nil
	}

	var cache interpreter.Cache
	if cfg.RedisURL != "" {
		client, err := database.NewRedisClient(ctx, database.RedisConfig{URL: cfg.RedisURL})
		if err != nil {
			return nil, fmt.Errorf("connect to redis: %w", err)
		}
		c.closers = append(c.closers, client.Close)
		c.Health.Register("redis", func(ctx context.Context) error {
			return client.Ping(ctx).Err()
		})
		cache = interpreter.NewRedisCache(client)
		logger.Info("interpretation cache connected to redis")
	}

	httpCfg := httpclient.DefaultConfig()
	httpCfg.Timeout = cfg.LLMTimeout
	client := httpclient.NewCircuitBreakerClient(
		httpclient.New(httpCfg),
		httpclient.DefaultCircuitBreakerConfig("llm"),
		logger,
	)

	logger.Info("llm-assisted interpreter enabled", slog.String("model", cfg.LLMModel))
	return interpreter.NewLLM(client, interpreter.LLMConfig{
		URL:      cfg.LLMURL,
		APIKey:   cfg.LLMAPIKey,
		Model:    cfg.LLMModel,
		Timeout:  cfg.LLMTimeout,
		CacheTTL: cfg.LLMCacheTTL,
	}, rules, cache, logger), nil
}

func (c *Components) newHistory(logger *slog.Logger) history.Store {
	if c.pool != nil {
		logger.Info("search history stored in postgres")
		return historypostgres.New(c.pool)
	}
	logger.Info("search history kept in memory")
	return historymemory.New(historymemory.DefaultCapacity)
}

// Close waits for pending history writes and releases every connection.
func (c *Components) Close() error {
	if c.Service != nil {
		c.Service.Wait()
	}
	var errs []error
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	c.closers = nil
	return errors.Join(errs...)
}

// App wires together all dependencies and runs the search service.
type App struct {
	cfg            *config.Config
	logger         *slog.Logger
	components     *Components
	consumer       *pkgkafka.Consumer
	dlq            *pkgkafka.DLQProducer
	httpServer     *http.Server
	stopBackground context.CancelFunc
	tracerShutdown func(context.Context) error
}

// NewApp creates a new application instance, initializing all dependencies.
func NewApp(cfg *config.Config, logger *slog.Logger) (*App, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Initialize OpenTelemetry tracing.
	tracerShutdown, err := tracing.InitTracer(ctx, cfg.Tracing(ServiceName))
	if err != nil {
		return nil, fmt.Errorf("init tracer: %w", err)
	}

	components, err := Build(ctx, cfg, logger)
	if err != nil {
		_ = tracerShutdown(context.Background())
		return nil, err
	}

	a := &App{
		cfg:            cfg,
		logger:         logger,
		components:     components,
		tracerShutdown: tracerShutdown,
	}

	// Catalog change events keep the writable catalog in sync.
	if len(cfg.KafkaBrokers) > 0 {
		a.dlq = pkgkafka.NewDLQProducer(cfg.KafkaBrokers, logger)
		eventConsumer := event.NewConsumer(components.Service, logger)
		a.consumer = pkgkafka.NewConsumer(pkgkafka.ConsumerConfig{
			Brokers: cfg.KafkaBrokers,
			GroupID: cfg.KafkaGroupID,
			Topics:  event.Topics(),
		}, eventConsumer.Handle, logger,
			pkgkafka.WithDLQ(a.dlq),
			pkgkafka.WithIdempotency(pkgkafka.NewMemoryIdempotencyStore(24*time.Hour)),
		)
		logger.Info("kafka consumer initialized",
			slog.Any("brokers", cfg.KafkaBrokers),
			slog.Any("topics", event.Topics()),
		)
	}

	corsCfg := middleware.DefaultCORSConfig()
	corsCfg.AllowedOrigins = cfg.CORSAllowedOrigins

	// Middleware background work lives until Shutdown.
	bgCtx, stopBackground := context.WithCancel(context.Background())
	a.stopBackground = stopBackground

	router := handler.NewRouter(bgCtx, handler.RouterConfig{
		ServiceName:    ServiceName,
		CORS:           corsCfg,
		Session:        Session(cfg),
		RateLimitRPS:   cfg.RateLimitRPS,
		RateLimitBurst: cfg.RateLimitBurst,
		RequestTimeout: cfg.Timeout + 5*time.Second,
	}, components.Service, components.Health, logger)

	a.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:           router,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      cfg.Timeout + 15*time.Second,
		IdleTimeout:       60 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return a, nil
}

// Session returns the session settings shared by the HTTP and Lambda entry
// points.
func Session(cfg *config.Config) middleware.SessionConfig {
	return middleware.SessionConfig{
		Secret:          cfg.JWTSecret,
		TrustUserHeader: cfg.TrustUserHeader,
	}
}

// Run starts the HTTP server and the Kafka consumer, blocking until the context is canceled.
func (a *App) Run(ctx context.Context) error {
	errCh := make(chan error, 2)

	// Start HTTP server.
	go func() {
		a.logger.Info("starting HTTP server",
			slog.String("addr", a.httpServer.Addr),
		)
		if err := a.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	if a.consumer != nil {
		go func() {
			if err := a.consumer.Start(ctx); err != nil {
				errCh <- fmt.Errorf("catalog consumer: %w", err)
			}
		}()
	}

	select {
	case <-ctx.Done():
		a.logger.Info("shutdown signal received")
	case err := <-errCh:
		_ = a.Shutdown()
		return err
	}

	return a.Shutdown()
}

// Shutdown gracefully stops all components in order:
// 1. HTTP server (drain in-flight requests)
// 2. Kafka consumer and its DLQ producer
// 3. Pending history writes, then backend connections
// 4. Tracer (flush pending spans)
func (a *App) Shutdown() error {
	a.logger.Info("shutting down application...")

	var errs []error

	httpCtx, httpCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer httpCancel()
	if err := a.httpServer.Shutdown(httpCtx); err != nil {
		a.logger.Error("http server shutdown error", slog.String("error", err.Error()))
		errs = append(errs, err)
	}

	a.stopBackground()

	if a.consumer != nil {
		if err := a.consumer.Close(); err != nil {
			a.logger.Error("kafka consumer close error", slog.String("error", err.Error()))
			errs = append(errs, err)
		}
	}
	if a.dlq != nil {
		if err := a.dlq.Close(); err != nil {
			a.logger.Error("kafka dlq close error", slog.String("error", err.Error()))
			errs = append(errs, err)
		}
	}

	if err := a.components.Close(); err != nil {
		a.logger.Error("backend close error", slog.String("error", err.Error()))
		errs = append(errs, err)
	}

	if a.tracerShutdown != nil {
		tracerCtx, tracerCancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer tracerCancel()
		if err := a.tracerShutdown(tracerCtx); err != nil {
			a.logger.Error("tracer shutdown error", slog.String("error", err.Error()))
			errs = append(errs, err)
		}
	}

	a.logger.Info("application shutdown complete")
	return errors.Join(errs...)
}

// pingKafkaWithRetry attempts to ping the Kafka producer with exponential
// backoff (3 attempts, 1s/2s with ±25% jitter).
func pingKafkaWithRetry(ctx context.Context, producer *pkgkafka.Producer, logger *slog.Logger) error {
	var lastErr error
	for attempt := 0; attempt < 3; attempt++ {
		if lastErr = producer.Ping(ctx); lastErr == nil {
			return nil
		}
		if attempt < 2 {
			base := time.Duration(1<<uint(attempt)) * time.Second
			jitter := time.Duration(float64(base) * 0.25 * (2*rand.Float64() - 1)) // #nosec G404 -- non-cryptographic jitter for retry backoff
			wait := base + jitter
			logger.Warn("kafka producer ping failed, retrying",
				slog.Int("attempt", attempt+1),
				slog.Int("max_attempts", 3),
				slog.Duration("backoff", wait),
				slog.String("error", lastErr.Error()),
			)
			select {
			case <-ctx.Done():
				return fmt.Errorf("kafka ping: context canceled during retry: %w", ctx.Err())
			case <-time.After(wait):
			}
		}
	}
	return fmt.Errorf("kafka producer ping failed after 3 attempts: %w", lastErr)
}
