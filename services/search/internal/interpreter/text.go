package interpreter

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"
)

// TokenKind classifies a token.
type TokenKind int

const (
	// KindWord is a purely alphabetic token.
	KindWord TokenKind = iota
	// KindNumber is a number, possibly with a decimal separator.
	KindNumber
	// KindCode mixes letters and digits: dimensions and grades such as
	// 14П, ст3, 09г2с, 40х40 or 20мм.
	KindCode
	// KindSymbol is a single significant symbol (₽, <, ≤, ×, *).
	KindSymbol
)

// Token is one unit of a normalized query. Raw keeps the typed form (with
// dimension separators folded), Norm is lower-cased with ё folded to е.
type Token struct {
	Raw  string
	Norm string
	Kind TokenKind
}

// dimensionUnits are joined with a preceding number into one dimension token.
var dimensionUnits = map[string]bool{"мм": true, "см": true, "м": true}

func isSymbol(r rune) bool {
	switch r {
	case '₽', '<', '≤', '×', '*':
		return true
	}
	return false
}

// isDimensionSeparator reports whether r separates the sides of a dimension
// like 40x40 when it stands between digits.
func isDimensionSeparator(r rune) bool {
	switch r {
	case 'x', 'X', '×', '*', 'х', 'Х':
		return true
	}
	return false
}

// Tokenize splits text into normalized tokens. The text is NFC-normalized,
// lower-cased with Russian rules, dimension separators between digits are
// folded to the Cyrillic х, thousand groups are merged and a number followed
// by a length unit becomes a single dimension token.
func Tokenize(text string) []Token {
	text = foldDimensions(norm.NFC.String(text))
	lower := cases.Lower(language.Russian)

	var tokens []Token
	runes := []rune(text)
	for i := 0; i < len(runes); {
		r := runes[i]
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			start := i
			for i < len(runes) {
				c := runes[i]
				if unicode.IsLetter(c) || unicode.IsDigit(c) {
					i++
					continue
				}
				// Decimal separators stay inside numbers: 3.5, 99,5.
				if (c == '.' || c == ',') && i > start && i+1 < len(runes) &&
					unicode.IsDigit(runes[i-1]) && unicode.IsDigit(runes[i+1]) {
					i++
					continue
				}
				break
			}
			raw := string(runes[start:i])
			n := foldYo(lower.String(raw))
			tokens = append(tokens, Token{Raw: raw, Norm: n, Kind: classify(n)})
		case isSymbol(r):
			tokens = append(tokens, Token{Raw: string(r), Norm: string(r), Kind: KindSymbol})
			i++
		default:
			i++
		}
	}

	tokens = mergeThousands(tokens)
	return mergeUnits(tokens)
}

// NormalizeText returns the normalized form of text as space-separated
// tokens. Product names and queries normalized this way compare by substring.
func NormalizeText(text string) string {
	tokens := Tokenize(text)
	parts := make([]string, 0, len(tokens))
	for _, t := range tokens {
		if t.Kind == KindSymbol {
			continue
		}
		parts = append(parts, t.Norm)
	}
	return strings.Join(parts, " ")
}

// Keywords returns the match keys of a product keyword: one stemmed,
// normalized form per token.
func Keywords(product string) []string {
	var out []string
	for _, t := range Tokenize(product) {
		if t.Kind == KindSymbol {
			continue
		}
		out = append(out, Stem(t.Norm))
	}
	return out
}

func foldYo(s string) string {
	return strings.NewReplacer("ё", "е", "Ё", "Е").Replace(s)
}

// foldDimensions rewrites x, X, ×, * and Х between two digits (optionally
// separated by spaces) to the Cyrillic х, so 40x40, 40 × 40 and 40Х40 are
// the same token.
func foldDimensions(s string) string {
	runes := []rune(s)
	out := make([]rune, 0, len(runes))
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		if isDimensionSeparator(r) && len(out) > 0 {
			prev := len(out) - 1
			for prev >= 0 && out[prev] == ' ' {
				prev--
			}
			next := i + 1
			for next < len(runes) && runes[next] == ' ' {
				next++
			}
			if prev >= 0 && unicode.IsDigit(out[prev]) && next < len(runes) && unicode.IsDigit(runes[next]) {
				out = append(out[:prev+1], 'х')
				i = next - 1
				continue
			}
		}
		out = append(out, r)
	}
	return string(out)
}

func classify(s string) TokenKind {
	hasLetter, hasDigit := false, false
	for _, r := range s {
		switch {
		case unicode.IsLetter(r):
			hasLetter = true
		case unicode.IsDigit(r):
			hasDigit = true
		}
	}
	switch {
	case hasDigit && !hasLetter:
		return KindNumber
	case hasDigit && hasLetter:
		return KindCode
	default:
		return KindWord
	}
}

// mergeThousands joins digit groups written with spaces: 90 000 -> 90000.
// Groups are joined only when the number reads as a price or an amount: a
// cue precedes it or a currency or multiplier follows it. "уголок 50 100 шт"
// stays a dimension and a count.
func mergeThousands(tokens []Token) []Token {
	out := make([]Token, 0, len(tokens))
	for i := 0; i < len(tokens); i++ {
		t := tokens[i]
		if t.Kind == KindNumber && isDigits(t.Norm) && utf8.RuneCountInString(t.Norm) <= 3 {
			j := i + 1
			for j < len(tokens) && tokens[j].Kind == KindNumber && isDigits(tokens[j].Norm) &&
				utf8.RuneCountInString(tokens[j].Norm) == 3 {
				j++
			}
			if j > i+1 && groupedAmount(tokens, i, j) {
				for _, g := range tokens[i+1 : j] {
					t.Raw += g.Raw
					t.Norm += g.Norm
				}
				i = j - 1
			}
		}
		out = append(out, t)
	}
	return out
}

// groupedAmount reports whether the digit groups tokens[from:to] carry
// price or quantity evidence.
func groupedAmount(tokens []Token, from, to int) bool {
	if to < len(tokens) {
		next := tokens[to].Norm
		if currencies[next] || multipliers[next] != 0 {
			return true
		}
	}
	prev := from - 1
	if prev >= 0 && tokens[prev].Norm == "чем" {
		prev--
	}
	if prev < 0 {
		return false
	}
	cue := tokens[prev].Norm
	return priceCues[cue] || priceCueAfterNot[cue] || lowerBoundCues[cue] ||
		quantityCues[cue] || quantityCueAfterNot[cue]
}

// mergeUnits joins a number with a following length unit: 20 мм -> 20мм.
func mergeUnits(tokens []Token) []Token {
	out := make([]Token, 0, len(tokens))
	for i := 0; i < len(tokens); i++ {
		t := tokens[i]
		if t.Kind == KindNumber && i+1 < len(tokens) && dimensionUnits[tokens[i+1].Norm] {
			t = Token{
				Raw:  t.Raw + tokens[i+1].Raw,
				Norm: t.Norm + tokens[i+1].Norm,
				Kind: KindCode,
			}
			i++
		}
		out = append(out, t)
	}
	return out
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return true
}

// russianEndings are inflectional endings removed by Stem, longest first.
var russianEndings = []string{
	"ями", "ами", "ого", "его", "ому", "ему", "ыми", "ими", "ых", "их",
	"ая", "яя", "ое", "ее", "ые", "ие", "ой", "ей", "ый", "ий",
	"ом", "ем", "ам", "ям", "ах", "ях", "ов", "ев", "ую", "юю",
	"а", "я", "о", "е", "ы", "и", "у", "ю", "ь",
}

// Stem strips one inflectional ending from a lower-case Russian word,
// keeping at least three letters. Non-alphabetic tokens are returned as is.
func Stem(word string) string {
	if classify(word) != KindWord || utf8.RuneCountInString(word) <= 3 {
		return word
	}
	for _, end := range russianEndings {
		if strings.HasSuffix(word, end) {
			stem := strings.TrimSuffix(word, end)
			if utf8.RuneCountInString(stem) >= 3 {
				return stem
			}
		}
	}
	return word
}
