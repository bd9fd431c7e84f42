package interpreter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/shopspring/decimal"

	"github.com/pr-poehali-dev/velund-ai-project/services/search/internal/domain"
)

// Interpretation outcomes.
const (
	OutcomeCacheHit = "cache_hit"
	OutcomeLLM      = "llm"
	OutcomeFallback = "fallback"
)

var interpretations = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "velund_interpreter_requests_total",
		Help: "Queries interpreted by the LLM-assisted interpreter, by outcome.",
	},
	[]string{"outcome"},
)

const extractionPrompt = `Ты разбираешь поисковые запросы покупателей металлопроката.
Извлеки из запроса поля и верни только JSON без пояснений:
{"product": "товар с размерами и маркой", "city": "город", "max_price": число или null,
 "min_quantity": число или null, "quantity_unit": "т" | "кг" | "шт" | "м" | null, "category": "категория"}
Неизвестные поля ставь null.`

// ChatClient posts a JSON request and decodes the JSON response.
// *httpclient.CircuitBreakerClient implements it.
type ChatClient interface {
	PostJSON(ctx context.Context, url string, headers map[string]string, in, out any) error
}

// LLMConfig configures the chat-completions endpoint.
type LLMConfig struct {
	URL      string
	APIKey   string
	Model    string
	Timeout  time.Duration
	CacheTTL time.Duration
}

// LLM asks an OpenAI-compatible model to extract the fields, checks the
// answer against the dictionary and falls back to the rules on any failure.
// Fields the model leaves empty are filled from the rule-based parse.
type LLM struct {
	client ChatClient
	cfg    LLMConfig
	rules  *Rules
	cache  Cache
	logger *slog.Logger
}

// NewLLM creates an LLM-assisted interpreter. cache may be nil.
func NewLLM(client ChatClient, cfg LLMConfig, rules *Rules, cache Cache, logger *slog.Logger) *LLM {
	return &LLM{client: client, cfg: cfg, rules: rules, cache: cache, logger: logger}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// flexNumber accepts a JSON number, a numeric string or null.
type flexNumber struct {
	value *decimal.Decimal
}

func (n *flexNumber) UnmarshalJSON(data []byte) error {
	s := strings.Trim(strings.TrimSpace(string(data)), `"`)
	s = strings.ReplaceAll(strings.ReplaceAll(s, " ", ""), ",", ".")
	if s == "" || s == "null" {
		return nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil
	}
	n.value = &d
	return nil
}

type extraction struct {
	Product      string     `json:"product"`
	City         string     `json:"city"`
	MaxPrice     flexNumber `json:"max_price"`
	MinQuantity  flexNumber `json:"min_quantity"`
	QuantityUnit string     `json:"quantity_unit"`
	Category     string     `json:"category"`
}

// Interpret implements Interpreter.
func (l *LLM) Interpret(ctx context.Context, text string) (domain.ParsedQuery, error) {
	key := CacheKey(text)
	if l.cache != nil {
		q, ok, err := l.cache.Get(ctx, key)
		switch {
		case err != nil:
			l.logger.WarnContext(ctx, "interpretation cache read failed", slog.String("error", err.Error()))
		case ok:
			interpretations.WithLabelValues(OutcomeCacheHit).Inc()
			return q, nil
		}
	}

	fallback := l.rules.Parse(text)

	answer, err := l.extract(ctx, text)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return domain.ParsedQuery{}, ctxErr
		}
		l.logger.WarnContext(ctx, "llm interpretation failed, using rules",
			slog.String("error", err.Error()),
		)
		interpretations.WithLabelValues(OutcomeFallback).Inc()
		return fallback, nil
	}

	q := merge(l.sanitize(answer), fallback)
	interpretations.WithLabelValues(OutcomeLLM).Inc()

	if l.cache != nil {
		if err := l.cache.Set(ctx, key, q, l.cfg.CacheTTL); err != nil {
			l.logger.WarnContext(ctx, "interpretation cache write failed", slog.String("error", err.Error()))
		}
	}
	return q, nil
}

func (l *LLM) extract(ctx context.Context, text string) (extraction, error) {
	if l.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.cfg.Timeout)
		defer cancel()
	}

	req := chatRequest{
		Model: l.cfg.Model,
		Messages: []chatMessage{
			{Role: "system", Content: extractionPrompt},
			{Role: "user", Content: text},
		},
		Temperature: 0,
	}
	headers := map[string]string{"Authorization": "Bearer " + l.cfg.APIKey}

	var resp chatResponse
	if err := l.client.PostJSON(ctx, l.cfg.URL, headers, req, &resp); err != nil {
		return extraction{}, fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return extraction{}, errors.New("chat completion: no choices")
	}

	var out extraction
	content := stripCodeFence(resp.Choices[0].Message.Content)
	if err := json.NewDecoder(bytes.NewReader([]byte(content))).Decode(&out); err != nil {
		return extraction{}, fmt.Errorf("decode extraction: %w", err)
	}
	return out, nil
}

// stripCodeFence removes a ```json fence some models wrap answers in.
func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimPrefix(s, "json")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

// sanitize keeps only answer fields the dictionary can vouch for.
func (l *LLM) sanitize(a extraction) domain.ParsedQuery {
	dict := l.rules.dict
	var q domain.ParsedQuery

	if a.Product != "" {
		// The product goes through the rules so cities, prices and stop words
		// the model left in are dropped and codes keep their typed form.
		p := l.rules.Parse(a.Product)
		q.Product = p.Product
		q.Category = p.Category
	}
	if a.City != "" {
		q.City = dict.Gazetteer.Canonical(a.City)
	}
	if a.Category != "" {
		if c := dict.Lexicon.CanonicalCategory(a.Category); c != "" {
			q.Category = c
		}
	}
	if v := a.MaxPrice.value; v != nil && v.IsPositive() {
		q.MaxPrice = v
	}
	if v := a.MinQuantity.value; v != nil && v.IsPositive() && domain.IsKnownUnit(a.QuantityUnit) {
		f := v.InexactFloat64()
		q.MinQuantity = &f
		q.QuantityUnit = domain.NormalizeUnit(a.QuantityUnit)
	}
	return q
}

// merge fills fields missing from primary with those of secondary.
func merge(primary, secondary domain.ParsedQuery) domain.ParsedQuery {
	if primary.Product == "" {
		primary.Product = secondary.Product
	}
	if primary.City == "" {
		primary.City = secondary.City
	}
	if primary.MaxPrice == nil {
		primary.MaxPrice = secondary.MaxPrice
	}
	if primary.Category == "" {
		primary.Category = secondary.Category
	}
	if primary.MinQuantity == nil {
		primary.MinQuantity = secondary.MinQuantity
		primary.QuantityUnit = secondary.QuantityUnit
	}
	return primary
}
