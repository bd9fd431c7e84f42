package config

import (
	"fmt"
	"slices"
	"time"

	pkgconfig "github.com/pr-poehali-dev/velund-ai-project/pkg/config"
	"github.com/pr-poehali-dev/velund-ai-project/pkg/database"
	"github.com/pr-poehali-dev/velund-ai-project/pkg/tracing"
)

// Catalog backends.
const (
	CatalogMemory        = "memory"
	CatalogPostgres      = "postgres"
	CatalogElasticsearch = "elasticsearch"
)

// Config holds all configuration for the search service.
type Config struct {
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`
	Version     string `env:"SERVICE_VERSION" envDefault:"dev"`

	// HTTP server
	HTTPPort int `env:"SEARCH_HTTP_PORT" envDefault:"8010"`

	// Search behaviour
	MaxQueryLength int           `env:"SEARCH_MAX_QUERY_LENGTH" envDefault:"500"`
	MaxResults     int           `env:"SEARCH_MAX_RESULTS" envDefault:"50"`
	Timeout        time.Duration `env:"SEARCH_TIMEOUT" envDefault:"3s"`

	// Catalog backend selection (memory, postgres or elasticsearch)
	CatalogBackend string `env:"CATALOG_BACKEND" envDefault:"memory"`
	// Price list loaded into the memory catalog at startup (optional)
	CatalogSeedFile string `env:"CATALOG_SEED_FILE"`

	// PostgreSQL
	DatabaseURL    string        `env:"DATABASE_URL"`
	DBMaxConns     int32         `env:"DB_MAX_CONNS" envDefault:"10"`
	DBMinConns     int32         `env:"DB_MIN_CONNS" envDefault:"1"`
	DBSlowQuery    time.Duration `env:"DB_SLOW_QUERY_THRESHOLD" envDefault:"200ms"`
	RunMigrations  bool          `env:"DB_RUN_MIGRATIONS" envDefault:"true"`
	HistoryEnabled bool          `env:"SEARCH_HISTORY_ENABLED" envDefault:"true"`
	HistoryTimeout time.Duration `env:"SEARCH_HISTORY_TIMEOUT" envDefault:"2s"`

	// Elasticsearch
	ElasticsearchURL   string `env:"ELASTICSEARCH_URL" envDefault:"http://localhost:9200"`
	ElasticsearchIndex string `env:"ELASTICSEARCH_INDEX" envDefault:"velund_listings"`

	// Redis cache for interpreted queries (optional)
	RedisURL string `env:"REDIS_URL"`

	// LLM-assisted interpretation
	LLMEnabled  bool          `env:"LLM_ENABLED" envDefault:"false"`
	LLMURL      string        `env:"LLM_URL" envDefault:"https://api.openai.com/v1/chat/completions"`
	LLMAPIKey   string        `env:"OPENAI_API_KEY"`
	LLMModel    string        `env:"LLM_MODEL" envDefault:"gpt-4"`
	LLMTimeout  time.Duration `env:"LLM_TIMEOUT" envDefault:"2s"`
	LLMCacheTTL time.Duration `env:"LLM_CACHE_TTL" envDefault:"24h"`

	// Kafka (empty disables consumers and analytics events)
	KafkaBrokers []string `env:"KAFKA_BROKERS" envSeparator:","`
	KafkaGroupID string   `env:"KAFKA_GROUP_ID" envDefault:"search-service"`

	// Sessions
	JWTSecret       string `env:"JWT_SECRET"`
	TrustUserHeader bool   `env:"TRUST_USER_HEADER" envDefault:"false"`

	// Rate limiting per client IP
	RateLimitRPS   float64 `env:"RATE_LIMIT_RPS" envDefault:"10"`
	RateLimitBurst int     `env:"RATE_LIMIT_BURST" envDefault:"20"`

	// CORS
	CORSAllowedOrigins []string `env:"CORS_ALLOWED_ORIGINS" envDefault:"*" envSeparator:","`

	// Tracing
	OTELEnabled    bool    `env:"OTEL_ENABLED" envDefault:"false"`
	OTELEndpoint   string  `env:"OTEL_EXPORTER_OTLP_ENDPOINT" envDefault:"localhost:4318"`
	OTELInsecure   bool    `env:"OTEL_EXPORTER_OTLP_INSECURE" envDefault:"true"`
	OTELSampleRate float64 `env:"OTEL_SAMPLE_RATE" envDefault:"1.0"`
}

// Load reads configuration from environment variables and an optional .env file.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := pkgconfig.LoadWithDotenv(cfg); err != nil {
		return nil, fmt.Errorf("load search config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// validate checks configuration invariants.
func (c *Config) validate() error {
	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		return fmt.Errorf("invalid HTTP port: %d", c.HTTPPort)
	}
	if c.MaxQueryLength < 1 {
		return fmt.Errorf("SEARCH_MAX_QUERY_LENGTH must be positive, got %d", c.MaxQueryLength)
	}
	if c.MaxResults < 1 {
		return fmt.Errorf("SEARCH_MAX_RESULTS must be positive, got %d", c.MaxResults)
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("SEARCH_TIMEOUT must be positive, got %s", c.Timeout)
	}
	if !slices.Contains([]string{CatalogMemory, CatalogPostgres, CatalogElasticsearch}, c.CatalogBackend) {
		return fmt.Errorf("CATALOG_BACKEND must be one of memory, postgres, elasticsearch, got %q", c.CatalogBackend)
	}
	if c.CatalogBackend == CatalogPostgres && c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required for the postgres catalog")
	}
	if c.LLMEnabled && c.LLMAPIKey == "" {
		return fmt.Errorf("OPENAI_API_KEY is required when LLM_ENABLED is set")
	}
	if c.OTELSampleRate < 0 || c.OTELSampleRate > 1 {
		return fmt.Errorf("OTEL_SAMPLE_RATE must be between 0.0 and 1.0, got %v", c.OTELSampleRate)
	}
	if c.RateLimitRPS < 0 {
		return fmt.Errorf("RATE_LIMIT_RPS must not be negative, got %v", c.RateLimitRPS)
	}
	return nil
}

// Postgres returns the connection settings for the shared pool.
func (c *Config) Postgres() database.PostgresConfig {
	pg := database.DefaultPostgresConfig()
	pg.URL = c.DatabaseURL
	pg.MaxConns = c.DBMaxConns
	pg.MinConns = c.DBMinConns
	return pg
}

// Tracing returns the OpenTelemetry settings.
func (c *Config) Tracing(serviceName string) tracing.Config {
	return tracing.Config{
		ServiceName:    serviceName,
		ServiceVersion: c.Version,
		Environment:    c.Environment,
		OTLPEndpoint:   c.OTELEndpoint,
		Insecure:       c.OTELInsecure,
		SampleRate:     c.OTELSampleRate,
		Enabled:        c.OTELEnabled,
	}
}
