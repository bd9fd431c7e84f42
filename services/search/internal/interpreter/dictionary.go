package interpreter

import (
	"embed"
	"encoding/json"
	"fmt"
	"io/fs"
	"strings"
	"sync"
	"unicode/utf8"
)

//go:embed data/*.json
var dataFS embed.FS

// City is a gazetteer entry: the canonical name and extra spellings.
type City struct {
	Name    string   `json:"name"`
	Aliases []string `json:"aliases"`
}

// Gazetteer resolves city names, inflected forms and abbreviations to a
// canonical city name.
type Gazetteer struct {
	phrases  map[string]string
	maxWords int
	cities   []string
}

// NewGazetteer builds a gazetteer. Single-word names get their common case
// forms automatically; multi-word forms must be listed as aliases.
func NewGazetteer(cities []City) *Gazetteer {
	g := &Gazetteer{phrases: make(map[string]string)}
	for _, c := range cities {
		g.cities = append(g.cities, c.Name)
		g.add(c.Name, c.Name)
		for _, alias := range c.Aliases {
			g.add(alias, c.Name)
		}
		key := NormalizeText(c.Name)
		if !strings.Contains(key, " ") {
			for _, form := range inflections(key) {
				g.add(form, c.Name)
			}
		}
	}
	return g
}

func (g *Gazetteer) add(phrase, canonical string) {
	key := NormalizeText(phrase)
	if key == "" {
		return
	}
	if _, exists := g.phrases[key]; exists {
		return
	}
	g.phrases[key] = canonical
	g.maxWords = max(g.maxWords, strings.Count(key, " ")+1)
}

// Match returns the canonical city for the longest phrase starting at
// tokens[i] and the number of tokens it spans, or ("", 0).
func (g *Gazetteer) Match(tokens []Token, i int) (string, int) {
	for n := min(g.maxWords, len(tokens)-i); n >= 1; n-- {
		parts := make([]string, 0, n)
		for _, t := range tokens[i : i+n] {
			if t.Kind != KindWord {
				break
			}
			parts = append(parts, t.Norm)
		}
		if len(parts) != n {
			continue
		}
		if city, ok := g.phrases[strings.Join(parts, " ")]; ok {
			return city, n
		}
	}
	return "", 0
}

// Canonical returns the canonical name of the first city mentioned in s,
// or "" when s names no known city.
func (g *Gazetteer) Canonical(s string) string {
	tokens := Tokenize(s)
	for i := range tokens {
		if city, n := g.Match(tokens, i); n > 0 {
			return city
		}
	}
	return ""
}

// Cities returns the canonical names in gazetteer order.
func (g *Gazetteer) Cities() []string {
	return append([]string(nil), g.cities...)
}

// inflections returns genitive, dative, accusative, instrumental and
// prepositional forms of a single lower-case city name.
func inflections(name string) []string {
	if utf8.RuneCountInString(name) < 3 {
		return nil
	}
	last, size := utf8.DecodeLastRuneInString(name)
	base := name[:len(name)-size]
	switch last {
	case 'ь':
		return []string{base + "и", base + "ю", base + "ью"}
	case 'а':
		gen := "ы"
		if pre, _ := utf8.DecodeLastRuneInString(base); strings.ContainsRune("кгхжшчщ", pre) {
			gen = "и"
		}
		return []string{base + gen, base + "е", base + "у", base + "ой"}
	case 'я':
		return []string{base + "и", base + "е", base + "ю", base + "ей"}
	case 'о', 'и', 'е', 'у', 'ы', 'й':
		return nil
	default:
		return []string{name + "а", name + "е", name + "у", name + "ом"}
	}
}

// Category groups product terms under one canonical category name.
type Category struct {
	Name  string   `json:"name"`
	Terms []string `json:"terms"`
}

// Lexicon maps product terms to categories and lists stop words.
type Lexicon struct {
	categories []string
	byStem     map[string]string
	materials  map[string]bool
	stopWords  map[string]bool
}

// NewLexicon builds a lexicon. Terms and materials are matched by stem.
func NewLexicon(categories []Category, materials, stopWords []string) *Lexicon {
	l := &Lexicon{
		byStem:    make(map[string]string),
		materials: make(map[string]bool),
		stopWords: make(map[string]bool),
	}
	for _, c := range categories {
		name := NormalizeText(c.Name)
		l.categories = append(l.categories, name)
		for _, term := range append([]string{c.Name}, c.Terms...) {
			stem := Stem(NormalizeText(term))
			if _, exists := l.byStem[stem]; !exists {
				l.byStem[stem] = name
			}
		}
	}
	for _, m := range materials {
		l.materials[Stem(NormalizeText(m))] = true
	}
	for _, w := range stopWords {
		l.stopWords[NormalizeText(w)] = true
	}
	return l
}

// CategoryOf returns the category of a normalized word.
func (l *Lexicon) CategoryOf(word string) (string, bool) {
	c, ok := l.byStem[Stem(word)]
	return c, ok
}

// IsProductTerm reports whether a normalized word names a product or a
// material.
func (l *Lexicon) IsProductTerm(word string) bool {
	stem := Stem(word)
	if _, ok := l.byStem[stem]; ok {
		return true
	}
	return l.materials[stem]
}

// IsStopWord reports whether a normalized word carries no search meaning.
func (l *Lexicon) IsStopWord(word string) bool {
	return l.stopWords[word]
}

// DeriveCategory returns the category of the first product term in name.
func (l *Lexicon) DeriveCategory(name string) string {
	for _, t := range Tokenize(name) {
		if t.Kind != KindWord {
			continue
		}
		if c, ok := l.CategoryOf(t.Norm); ok {
			return c
		}
	}
	return ""
}

// CanonicalCategory maps a free-text category ("Трубы профильные",
// "швеллер") to a lexicon category, or "" when nothing matches.
func (l *Lexicon) CanonicalCategory(s string) string {
	key := NormalizeText(s)
	for _, c := range l.categories {
		if c == key {
			return c
		}
	}
	return l.DeriveCategory(s)
}

// ListingCategory returns the category a catalog position is filed under:
// its stored category when the lexicon knows it, otherwise the category
// derived from the name, otherwise the stored value lower-cased.
func (l *Lexicon) ListingCategory(stored, name string) string {
	if stored != "" {
		if c := l.CanonicalCategory(stored); c != "" {
			return c
		}
	}
	if c := l.DeriveCategory(name); c != "" {
		return c
	}
	return NormalizeText(stored)
}

// Categories returns the canonical category names.
func (l *Lexicon) Categories() []string {
	return append([]string(nil), l.categories...)
}

// Dictionary bundles the gazetteer and the lexicon.
type Dictionary struct {
	Gazetteer *Gazetteer
	Lexicon   *Lexicon
}

// CityKey is the comparison key of a city: its canonical name when the
// gazetteer knows it, otherwise the trimmed lower-cased input.
func (d *Dictionary) CityKey(city string) string {
	if c := d.Gazetteer.Canonical(city); c != "" {
		return c
	}
	return strings.ToLower(strings.TrimSpace(city))
}

// CategoryKey is the comparison key of a catalog position's category.
func (d *Dictionary) CategoryKey(stored, name string) string {
	return d.Lexicon.ListingCategory(stored, name)
}

type gazetteerFile struct {
	Cities []City `json:"cities"`
}

type lexiconFile struct {
	Categories []Category `json:"categories"`
	Materials  []string   `json:"materials"`
	StopWords  []string   `json:"stop_words"`
}

// LoadDictionary reads gazetteer.json and lexicon.json from fsys.
func LoadDictionary(fsys fs.FS) (*Dictionary, error) {
	var gf gazetteerFile
	if err := readJSON(fsys, "gazetteer.json", &gf); err != nil {
		return nil, err
	}
	var lf lexiconFile
	if err := readJSON(fsys, "lexicon.json", &lf); err != nil {
		return nil, err
	}
	if len(gf.Cities) == 0 || len(lf.Categories) == 0 {
		return nil, fmt.Errorf("load dictionary: gazetteer and lexicon must not be empty")
	}
	return &Dictionary{
		Gazetteer: NewGazetteer(gf.Cities),
		Lexicon:   NewLexicon(lf.Categories, lf.Materials, lf.StopWords),
	}, nil
}

func readJSON(fsys fs.FS, name string, v any) error {
	data, err := fs.ReadFile(fsys, name)
	if err != nil {
		return fmt.Errorf("read %s: %w", name, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode %s: %w", name, err)
	}
	return nil
}

var defaultDictionary = sync.OnceValues(func() (*Dictionary, error) {
	sub, err := fs.Sub(dataFS, "data")
	if err != nil {
		return nil, err
	}
	return LoadDictionary(sub)
})

// DefaultDictionary returns the dictionary embedded in the binary.
func DefaultDictionary() *Dictionary {
	d, err := defaultDictionary()
	if err != nil {
		// The embedded files are part of the build; failing here is a build defect.
		panic(fmt.Sprintf("load embedded dictionary: %v", err))
	}
	return d
}
