package ranking

import (
	"cmp"
	"slices"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/pr-poehali-dev/velund-ai-project/services/search/internal/domain"
	"github.com/pr-poehali-dev/velund-ai-project/services/search/internal/interpreter"
)

// DefaultMaxResults bounds a result list when no limit is configured.
const DefaultMaxResults = 50

// Result is the ranked, truncated output of the engine.
type Result struct {
	Listings  []domain.Listing
	Truncated bool
}

// Engine filters listings by a ParsedQuery and orders them by price asc,
// supplier rating desc, then product id asc. It is pure: the same query over
// the same listings always yields the same result.
type Engine struct {
	dict       *interpreter.Dictionary
	maxResults int
}

// New creates an engine returning at most maxResults listings.
func New(dict *interpreter.Dictionary, maxResults int) *Engine {
	if maxResults <= 0 {
		maxResults = DefaultMaxResults
	}
	return &Engine{dict: dict, maxResults: maxResults}
}

// MaxResults returns the result limit.
func (e *Engine) MaxResults() int { return e.maxResults }

// Search applies q to listings. An empty query matches nothing.
func (e *Engine) Search(q domain.ParsedQuery, listings []domain.Listing) Result {
	if q.IsEmpty() {
		return Result{Listings: []domain.Listing{}}
	}

	m := e.compile(q)
	matched := make([]domain.Listing, 0)
	for _, l := range listings {
		if m.matches(l) {
			matched = append(matched, l)
		}
	}

	Sort(matched)

	res := Result{Listings: matched}
	if len(matched) > e.maxResults {
		res.Listings = matched[:e.maxResults:e.maxResults]
		res.Truncated = true
	}
	return res
}

// Sort orders listings by price asc, rating desc, id asc.
func Sort(listings []domain.Listing) {
	slices.SortFunc(listings, func(a, b domain.Listing) int {
		if c := a.Price.Cmp(b.Price); c != 0 {
			return c
		}
		if c := cmp.Compare(b.Rating, a.Rating); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
}

// matcher is a ParsedQuery prepared for repeated evaluation.
type matcher struct {
	engine   *Engine
	q        domain.ParsedQuery
	keywords []string
	city     string
	category string
	// cities memoizes listing city canonicalization within one search.
	cities map[string]string
}

func (e *Engine) compile(q domain.ParsedQuery) *matcher {
	m := &matcher{
		engine: e,
		q:      q,
		cities: make(map[string]string),
	}
	m.keywords = interpreter.Keywords(q.Product)
	if q.City != "" {
		m.city = e.dict.CityKey(q.City)
	}
	if q.Category != "" {
		m.category = e.dict.CategoryKey(q.Category, "")
	}
	return m
}

// matches checks the cheap fields first and the product name last.
func (m *matcher) matches(l domain.Listing) bool {
	if m.q.MaxPrice != nil && l.Price.GreaterThan(*m.q.MaxPrice) {
		return false
	}

	if m.q.MinQuantity != nil {
		have := l.Quantity
		if m.q.QuantityUnit != "" {
			v, ok := domain.ConvertQuantity(l.Quantity, l.Unit, m.q.QuantityUnit)
			if !ok {
				return false
			}
			have = v
		}
		if have < *m.q.MinQuantity {
			return false
		}
	}

	if m.city != "" && m.listingCity(l.City) != m.city {
		return false
	}

	if m.category != "" && m.engine.dict.CategoryKey(l.Category, l.Name) != m.category {
		return false
	}

	if len(m.keywords) > 0 {
		name := strings.Fields(interpreter.NormalizeText(l.Name))
		for _, kw := range m.keywords {
			if !containsKeyword(name, kw) {
				return false
			}
		}
	}
	return true
}

func (m *matcher) listingCity(city string) string {
	if c, ok := m.cities[city]; ok {
		return c
	}
	c := m.engine.dict.CityKey(city)
	m.cities[city] = c
	return c
}

// containsKeyword reports whether some name token starts with kw. A numeric
// keyword must not continue with another digit, so 20 does not match 200.
func containsKeyword(name []string, kw string) bool {
	for _, tok := range name {
		if !strings.HasPrefix(tok, kw) {
			continue
		}
		rest := tok[len(kw):]
		if rest == "" {
			return true
		}
		last, _ := utf8.DecodeLastRuneInString(kw)
		next, _ := utf8.DecodeRuneInString(rest)
		if unicode.IsDigit(last) && unicode.IsDigit(next) {
			continue
		}
		return true
	}
	return false
}
