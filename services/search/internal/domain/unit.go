package domain

import "strings"

// Canonical quantity units.
const (
	UnitTonne    = "т"
	UnitKilogram = "кг"
	UnitPiece    = "шт"
	UnitMeter    = "м"
)

var unitAliases = map[string]string{
	"т":           UnitTonne,
	"тн":          UnitTonne,
	"тонна":       UnitTonne,
	"тонны":       UnitTonne,
	"тонн":        UnitTonne,
	"тонну":       UnitTonne,
	"t":           UnitTonne,
	"кг":          UnitKilogram,
	"килограмм":   UnitKilogram,
	"килограммов": UnitKilogram,
	"kg":          UnitKilogram,
	"шт":          UnitPiece,
	"штук":        UnitPiece,
	"штука":       UnitPiece,
	"штуки":       UnitPiece,
	"pcs":         UnitPiece,
	"м":           UnitMeter,
	"мп":          UnitMeter,
	"пм":          UnitMeter,
	"метр":        UnitMeter,
	"метра":       UnitMeter,
	"метров":      UnitMeter,
	"m":           UnitMeter,
}

// NormalizeUnit maps a unit spelling to its canonical form. Unknown units are
// returned lower-cased and trimmed.
func NormalizeUnit(unit string) string {
	u := strings.Trim(strings.ToLower(strings.TrimSpace(unit)), ".")
	u = strings.ReplaceAll(u, ".", "")
	if c, ok := unitAliases[u]; ok {
		return c
	}
	return u
}

// IsKnownUnit reports whether unit normalizes to a canonical unit.
func IsKnownUnit(unit string) bool {
	switch NormalizeUnit(unit) {
	case UnitTonne, UnitKilogram, UnitPiece, UnitMeter:
		return true
	}
	return false
}

// ConvertQuantity converts q from one unit to another. Only identical units
// and tonnes/kilograms are convertible.
func ConvertQuantity(q float64, from, to string) (float64, bool) {
	from, to = NormalizeUnit(from), NormalizeUnit(to)
	switch {
	case from == to:
		return q, true
	case from == UnitTonne && to == UnitKilogram:
		return q * 1000, true
	case from == UnitKilogram && to == UnitTonne:
		return q / 1000, true
	default:
		return 0, false
	}
}
