// Command seed imports a supplier price list into the search catalog through
// the admin API of a running search service. Suppliers are upserted one by
// one, products in bulk batches.
//
//	SEED_FILE=prices.csv JWT_SECRET=... go run ./scripts/seed
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	pkgconfig "github.com/pr-poehali-dev/velund-ai-project/pkg/config"
	"github.com/pr-poehali-dev/velund-ai-project/pkg/httpclient"
	"github.com/pr-poehali-dev/velund-ai-project/pkg/logger"
	"github.com/pr-poehali-dev/velund-ai-project/pkg/middleware"
)

type config struct {
	SearchURL string `env:"SEARCH_URL" envDefault:"http://localhost:8010"`
	JWTSecret string `env:"JWT_SECRET,required"`
	File      string `env:"SEED_FILE,required"`
	// Encoding is cp1251 for spreadsheet exports, utf-8 otherwise.
	Encoding  string `env:"SEED_ENCODING" envDefault:"cp1251"`
	BatchSize int    `env:"SEED_BATCH_SIZE" envDefault:"500"`
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
}

func main() {
	var cfg config
	if err := pkgconfig.LoadWithDotenv(&cfg); err != nil {
		slog.Error("failed to load config", slog.String("error", err.Error()))
		os.Exit(1)
	}
	log := logger.New("seed", cfg.LogLevel)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("seed failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config, log *slog.Logger) error {
	f, err := os.Open(cfg.File)
	if err != nil {
		return fmt.Errorf("open price list: %w", err)
	}
	defer f.Close()

	list, err := parsePriceList(f, strings.EqualFold(cfg.Encoding, "cp1251"))
	if err != nil {
		return fmt.Errorf("parse %s: %w", cfg.File, err)
	}
	log.Info("price list parsed",
		slog.Int("suppliers", len(list.Suppliers)),
		slog.Int("products", len(list.Products)),
	)

	token, err := middleware.IssueToken(cfg.JWTSecret, "seed", middleware.RoleAdmin, time.Hour)
	if err != nil {
		return fmt.Errorf("issue admin token: %w", err)
	}

	imp := &importer{
		baseURL:   strings.TrimRight(cfg.SearchURL, "/"),
		token:     token,
		batchSize: cfg.BatchSize,
		client:    httpclient.New(httpclient.Config{Timeout: 30 * time.Second, MaxRetries: 3, RetryWaitMin: 500 * time.Millisecond, RetryWaitMax: 5 * time.Second, MaxConnsPerHost: 4}),
		logger:    log,
	}
	return imp.Import(ctx, list)
}

// importer posts a price list to the catalog admin API.
type importer struct {
	baseURL   string
	token     string
	batchSize int
	client    *httpclient.Client
	logger    *slog.Logger
}

// Import upserts every supplier before any product so products never
// reference an unknown supplier.
func (i *importer) Import(ctx context.Context, list *priceList) error {
	for _, s := range list.Suppliers {
		if err := i.post(ctx, "/api/v1/catalog/suppliers", s); err != nil {
			return fmt.Errorf("upsert supplier %d: %w", s.ID, err)
		}
	}
	i.logger.Info("suppliers imported", slog.Int("count", len(list.Suppliers)))

	size := i.batchSize
	if size <= 0 || size > 1000 {
		size = 1000
	}
	for start := 0; start < len(list.Products); start += size {
		end := min(start+size, len(list.Products))
		body := map[string]any{"products": list.Products[start:end]}
		if err := i.post(ctx, "/api/v1/catalog/products/bulk", body); err != nil {
			return fmt.Errorf("upsert products %d-%d: %w", start+1, end, err)
		}
		i.logger.Info("products imported", slog.Int("done", end), slog.Int("total", len(list.Products)))
	}
	return nil
}

func (i *importer) post(ctx context.Context, path string, body any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal body: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, i.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+i.token)

	resp, err := i.client.Do(ctx, req)
	if err != nil {
		return err
	}
	if resp.StatusCode >= 300 {
		return httpclient.ParseResponseError(resp, "search service")
	}
	return resp.Body.Close()
}
