package catalog

import (
	"cmp"
	"slices"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/pr-poehali-dev/velund-ai-project/services/search/internal/domain"
	"github.com/pr-poehali-dev/velund-ai-project/services/search/internal/interpreter"
)

// StatsLimit caps the category and city breakdowns.
const StatsLimit = 10

// OtherCategory files listings no category could be derived for.
const OtherCategory = "прочее"

// ComputeStats aggregates listings by category and suppliers by city, most
// populated first.
func ComputeStats(listings []domain.Listing, suppliers []domain.Supplier, dict *interpreter.Dictionary) *domain.MarketStats {
	type acc struct {
		count int
		sum   decimal.Decimal
	}
	byCategory := make(map[string]*acc)
	for _, l := range listings {
		c := dict.CategoryKey(l.Category, l.Name)
		if c == "" {
			c = OtherCategory
		}
		a, ok := byCategory[c]
		if !ok {
			a = &acc{}
			byCategory[c] = a
		}
		a.count++
		a.sum = a.sum.Add(l.Price)
	}

	categories := make([]domain.CategoryStat, 0, len(byCategory))
	for name, a := range byCategory {
		categories = append(categories, domain.CategoryStat{
			Category: name,
			Count:    a.count,
			AvgPrice: a.sum.Div(decimal.NewFromInt(int64(a.count))).Round(2),
		})
	}
	slices.SortFunc(categories, func(a, b domain.CategoryStat) int {
		if c := cmp.Compare(b.Count, a.Count); c != 0 {
			return c
		}
		return strings.Compare(a.Category, b.Category)
	})

	byCity := make(map[string]int)
	for _, s := range suppliers {
		if city := strings.TrimSpace(s.City); city != "" {
			byCity[city]++
		}
	}
	cities := make([]domain.CityStat, 0, len(byCity))
	for city, n := range byCity {
		cities = append(cities, domain.CityStat{City: city, Suppliers: n})
	}
	slices.SortFunc(cities, func(a, b domain.CityStat) int {
		if c := cmp.Compare(b.Suppliers, a.Suppliers); c != 0 {
			return c
		}
		return strings.Compare(a.City, b.City)
	})

	return &domain.MarketStats{
		Products:   len(listings),
		Suppliers:  len(suppliers),
		Categories: categories[:min(len(categories), StatsLimit)],
		Cities:     cities[:min(len(cities), StatsLimit)],
	}
}
