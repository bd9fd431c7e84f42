package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// ParsedQuery is the structured filter extracted from a free-text query.
// Every field is optional; an unset field never restricts results.
type ParsedQuery struct {
	Product      string           `json:"product,omitempty"`
	City         string           `json:"city,omitempty"`
	MaxPrice     *decimal.Decimal `json:"max_price,omitempty"`
	Category     string           `json:"category,omitempty"`
	MinQuantity  *float64         `json:"min_quantity,omitempty"`
	QuantityUnit string           `json:"quantity_unit,omitempty"`
}

// IsEmpty reports whether no field was extracted.
func (q ParsedQuery) IsEmpty() bool {
	return q.Product == "" && q.City == "" && q.MaxPrice == nil && q.Category == "" && q.MinQuantity == nil
}

// Notice codes attached to successful but degenerate results.
const (
	NoticeInterpretationEmpty = "INTERPRETATION_EMPTY"
)

// Notice is user guidance returned alongside a result.
type Notice struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// SearchResult is the response contract of the search endpoint.
// Count always equals len(Results).
type SearchResult struct {
	Query     string      `json:"query"`
	Parsed    ParsedQuery `json:"parsed"`
	Results   []Listing   `json:"results"`
	Count     int         `json:"count"`
	Truncated bool        `json:"truncated,omitempty"`
	Notice    *Notice     `json:"notice,omitempty"`
}

// SearchRecord is one entry of the search history.
type SearchRecord struct {
	ID           string      `json:"id"`
	UserID       string      `json:"user_id,omitempty"`
	Query        string      `json:"query"`
	Parsed       ParsedQuery `json:"parsed"`
	ResultsCount int         `json:"results_count"`
	CreatedAt    time.Time   `json:"created_at"`
}

// ZeroResultQuery is a query text that repeatedly found nothing.
type ZeroResultQuery struct {
	Query    string    `json:"query"`
	Count    int       `json:"count"`
	LastSeen time.Time `json:"last_seen"`
}
