package interpreter

import (
	"context"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/shopspring/decimal"

	"github.com/pr-poehali-dev/velund-ai-project/services/search/internal/domain"
)

// Interpreter turns free text into a structured filter.
type Interpreter interface {
	Interpret(ctx context.Context, text string) (domain.ParsedQuery, error)
}

// Price cue words. A number is a price only when one of these precedes it
// or a currency or multiplier follows it.
var (
	priceCues = map[string]bool{
		"до": true, "дешевле": true, "ниже": true, "меньше": true, "максимум": true,
		"бюджет": true, "бюджетом": true, "макс": true, "<": true, "≤": true,
	}
	// "не дороже" is a two-word cue.
	priceCueAfterNot = map[string]bool{"дороже": true, "более": true, "больше": true, "выше": true}
	// Lower-bound cues: a number after them is never a maximum price.
	lowerBoundCues = map[string]bool{
		"от": true, "свыше": true, "больше": true, "дороже": true, "выше": true, "более": true, "минимум": true, "менее": true,
	}
	currencies = map[string]bool{
		"₽": true, "р": true, "руб": true, "рублей": true, "рубля": true, "рубль": true, "rub": true,
	}
	multipliers = map[string]int64{
		"к": 1_000, "тыс": 1_000, "тысяч": 1_000, "тысячи": 1_000, "тысяча": 1_000,
		"млн": 1_000_000, "миллион": 1_000_000, "миллиона": 1_000_000, "миллионов": 1_000_000,
	}
	// prepositionMultipliers double as prepositions ("к пятнице") and count
	// as a multiplier only next to a cue or a currency.
	prepositionMultipliers = map[string]bool{"к": true}

	quantityCues = map[string]bool{"от": true, "минимум": true, "мин": true}
	// "не менее" and "не меньше" are two-word quantity cues.
	quantityCueAfterNot = map[string]bool{"менее": true, "меньше": true}

	// quantityUnits are mass, piece and length units that make a number a
	// quantity rather than a price.
	quantityUnits = map[string]bool{
		"т": true, "тн": true, "тонна": true, "тонны": true, "тонн": true, "тонну": true,
		"кг": true, "килограмм": true, "килограммов": true,
		"шт": true, "штук": true, "штуки": true, "штука": true,
		"м": true, "метр": true, "метра": true, "метров": true, "мп": true, "пм": true,
	}

	// Codes with a price suffix (90к, 90000р) or a quantity suffix (5т, 100м).
	pricedCode   = regexp.MustCompile(`^(\d+(?:[.,]\d+)?)(к|тыс|млн|р|руб)$`)
	quantityCode = regexp.MustCompile(`^(\d+(?:[.,]\d+)?)(т|тн|кг|шт|м)$`)
)

// Rules is the deterministic rule-based interpreter. It never fails: text
// with nothing recognizable yields an empty ParsedQuery.
type Rules struct {
	dict *Dictionary
}

// NewRules creates a rule-based interpreter over dict.
func NewRules(dict *Dictionary) *Rules {
	return &Rules{dict: dict}
}

// Interpret implements Interpreter.
func (r *Rules) Interpret(ctx context.Context, text string) (domain.ParsedQuery, error) {
	if err := ctx.Err(); err != nil {
		return domain.ParsedQuery{}, err
	}
	return r.Parse(text), nil
}

// parseState tracks which tokens were consumed by an extracted field.
type parseState struct {
	tokens   []Token
	consumed []bool
}

func (s *parseState) norm(i int) string {
	if i < 0 || i >= len(s.tokens) {
		return ""
	}
	return s.tokens[i].Norm
}

func (s *parseState) consume(from, to int) {
	for i := from; i < to && i < len(s.consumed); i++ {
		if i >= 0 {
			s.consumed[i] = true
		}
	}
}

// Parse extracts a ParsedQuery from text.
func (r *Rules) Parse(text string) domain.ParsedQuery {
	tokens := Tokenize(text)
	st := &parseState{tokens: tokens, consumed: make([]bool, len(tokens))}

	var q domain.ParsedQuery
	q.MaxPrice = r.extractPrice(st)
	q.MinQuantity, q.QuantityUnit = r.extractQuantity(st)
	q.City = r.extractCity(st)
	q.Product, q.Category = r.extractProduct(st)
	return q
}

type priceCandidate struct {
	value      decimal.Decimal
	score      int
	from, to   int
	lowerBound bool
}

// extractPrice picks the number with the strongest price evidence; a later
// candidate wins ties.
func (r *Rules) extractPrice(st *parseState) *decimal.Decimal {
	var best *priceCandidate
	for i, t := range st.tokens {
		c, ok := r.priceAt(st, i, t)
		if !ok {
			continue
		}
		if c.lowerBound {
			// Minimum prices are not supported; drop them from the keyword.
			st.consume(c.from, c.to)
			continue
		}
		if best == nil || c.score >= best.score {
			best = &c
		}
	}
	if best == nil {
		return nil
	}
	st.consume(best.from, best.to)
	return &best.value
}

func (r *Rules) priceAt(st *parseState, i int, t Token) (priceCandidate, bool) {
	var (
		value     decimal.Decimal
		suffixed  bool
		ambiguous bool
		end       = i + 1
	)
	switch t.Kind {
	case KindNumber:
		v, err := parseNumber(t.Norm)
		if err != nil {
			return priceCandidate{}, false
		}
		value = v
	case KindCode:
		m := pricedCode.FindStringSubmatch(t.Norm)
		if m == nil {
			return priceCandidate{}, false
		}
		v, err := parseNumber(m[1])
		if err != nil {
			return priceCandidate{}, false
		}
		value = v
		if mult, ok := multipliers[m[2]]; ok {
			value = value.Mul(decimal.NewFromInt(mult))
		}
		suffixed = true
	default:
		return priceCandidate{}, false
	}

	// Following multiplier and currency.
	if t.Kind == KindNumber {
		if mult, ok := multipliers[st.norm(end)]; ok {
			value = value.Mul(decimal.NewFromInt(mult))
			ambiguous = prepositionMultipliers[st.norm(end)]
			suffixed = !ambiguous
			end++
		}
		if quantityUnits[st.norm(end)] {
			return priceCandidate{}, false
		}
	}
	currency := currencies[st.norm(end)]
	if currency {
		suffixed = true
		end++
	}

	// Preceding cue, optionally followed by "чем": "дешевле чем 90000".
	from := i
	prev := i - 1
	if st.norm(prev) == "чем" {
		prev--
	}
	cued := false
	switch {
	case priceCues[st.norm(prev)]:
		cued = true
		from = prev
	case priceCueAfterNot[st.norm(prev)] && st.norm(prev-1) == "не":
		cued = true
		from = prev - 1
	case lowerBoundCues[st.norm(prev)]:
		return priceCandidate{from: prev, to: end, lowerBound: true}, true
	}

	if ambiguous && !cued && !currency {
		return priceCandidate{}, false
	}
	if !cued && !suffixed {
		return priceCandidate{}, false
	}
	if !value.IsPositive() {
		return priceCandidate{}, false
	}
	score := 0
	if cued {
		score++
	}
	if suffixed {
		score++
	}
	return priceCandidate{value: value, score: score, from: from, to: end}, true
}

// extractQuantity finds "от 5 тонн", "не менее 100 м", "минимум 2т" or an
// uncued mass or piece amount such as "10 тонн". The last match wins.
func (r *Rules) extractQuantity(st *parseState) (*float64, string) {
	var (
		qty  *float64
		unit string
	)
	for i, t := range st.tokens {
		if st.consumed[i] {
			continue
		}
		var (
			num string
			u   string
			end int
		)
		switch t.Kind {
		case KindNumber:
			next := st.norm(i + 1)
			if !quantityUnits[next] {
				continue
			}
			num, u, end = t.Norm, next, i+2
		case KindCode:
			m := quantityCode.FindStringSubmatch(t.Norm)
			if m == nil {
				continue
			}
			num, u, end = m[1], m[2], i+1
		default:
			continue
		}

		from := i
		cued := false
		switch {
		case quantityCues[st.norm(i-1)]:
			cued, from = true, i-1
		case quantityCueAfterNot[st.norm(i-1)] && st.norm(i-2) == "не":
			cued, from = true, i-2
		}
		canonical := domain.NormalizeUnit(u)
		// An uncued length is a dimension ("труба 6м"), not an amount.
		if !cued && canonical == domain.UnitMeter {
			continue
		}

		v, err := strconv.ParseFloat(strings.ReplaceAll(num, ",", "."), 64)
		if err != nil || v <= 0 {
			continue
		}
		qty, unit = &v, canonical
		st.consume(from, end)
	}
	return qty, unit
}

// extractCity matches gazetteer phrases on unconsumed word tokens, longest
// phrase first. The first city mentioned wins.
func (r *Rules) extractCity(st *parseState) string {
	for i := 0; i < len(st.tokens); i++ {
		if st.consumed[i] {
			continue
		}
		city, n := r.dict.Gazetteer.Match(st.tokens, i)
		if n == 0 {
			continue
		}
		st.consume(i, i+n)
		return city
	}
	return ""
}

// extractProduct joins the remaining significant tokens. The keyword is kept
// only when it contains a product term or a dimension/grade code.
func (r *Rules) extractProduct(st *parseState) (product, category string) {
	lex := r.dict.Lexicon
	var (
		parts      []string
		recognized bool
	)
	for i, t := range st.tokens {
		if st.consumed[i] || t.Kind == KindSymbol {
			continue
		}
		switch t.Kind {
		case KindWord:
			if lex.IsStopWord(t.Norm) || isCueWord(t.Norm) || utf8.RuneCountInString(t.Norm) < 2 {
				continue
			}
			if lex.IsProductTerm(t.Norm) {
				recognized = true
				if category == "" {
					category, _ = lex.CategoryOf(t.Norm)
				}
			}
			parts = append(parts, t.Norm)
		case KindCode:
			recognized = true
			parts = append(parts, t.Raw)
		case KindNumber:
			parts = append(parts, t.Norm)
		}
	}
	if !recognized {
		return "", ""
	}
	return strings.Join(parts, " "), category
}

// isCueWord reports whether word only qualifies a number.
func isCueWord(word string) bool {
	return priceCues[word] || priceCueAfterNot[word] || lowerBoundCues[word] || quantityCues[word] ||
		currencies[word] || multipliers[word] != 0 || quantityUnits[word]
}

func parseNumber(s string) (decimal.Decimal, error) {
	return decimal.NewFromString(strings.ReplaceAll(s, ",", "."))
}
