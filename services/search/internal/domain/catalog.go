package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

func init() {
	// Prices travel as JSON numbers, the shape the AISearch page renders.
	decimal.MarshalJSONWithoutQuotes = true
}

// Supplier is a company selling metal products.
type Supplier struct {
	ID          int64     `json:"id"`
	CompanyName string    `json:"company_name"`
	City        string    `json:"city"`
	Phone       string    `json:"phone"`
	Email       string    `json:"email"`
	Rating      float64   `json:"rating"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Product is a priced catalog position owned by a supplier. An empty City
// means the supplier's city applies; an empty Category is derived from the
// name when the listing is built.
type Product struct {
	ID         int64           `json:"id"`
	SupplierID int64           `json:"supplier_id"`
	Name       string          `json:"name"`
	Price      decimal.Decimal `json:"price"`
	Unit       string          `json:"unit"`
	Quantity   float64         `json:"quantity"`
	City       string          `json:"city"`
	Category   string          `json:"category"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

// Listing is a product enriched with its supplier's contact fields. It is
// both the search result item and the unit stored by catalog backends.
type Listing struct {
	ID          int64           `json:"id"`
	SupplierID  int64           `json:"supplier_id"`
	Name        string          `json:"name"`
	Price       decimal.Decimal `json:"price"`
	Unit        string          `json:"unit"`
	Quantity    float64         `json:"quantity"`
	City        string          `json:"city"`
	Category    string          `json:"category,omitempty"`
	CompanyName string          `json:"company_name"`
	Phone       string          `json:"phone"`
	Email       string          `json:"email"`
	Rating      float64         `json:"rating"`
}

// NewListing joins a product with its supplier. The listing city is the
// product city, falling back to the supplier city.
func NewListing(p Product, s Supplier) Listing {
	city := p.City
	if city == "" {
		city = s.City
	}
	return Listing{
		ID:          p.ID,
		SupplierID:  p.SupplierID,
		Name:        p.Name,
		Price:       p.Price,
		Unit:        p.Unit,
		Quantity:    p.Quantity,
		City:        city,
		Category:    p.Category,
		CompanyName: s.CompanyName,
		Phone:       s.Phone,
		Email:       s.Email,
		Rating:      s.Rating,
	}
}

// CategoryStat aggregates products of one category.
type CategoryStat struct {
	Category string          `json:"category"`
	Count    int             `json:"count"`
	AvgPrice decimal.Decimal `json:"avg_price"`
}

// CityStat counts suppliers located in one city.
type CityStat struct {
	City      string `json:"city"`
	Suppliers int    `json:"suppliers_count"`
}

// MarketStats summarizes the catalog for dashboards and the assistant.
type MarketStats struct {
	Products   int            `json:"products"`
	Suppliers  int            `json:"suppliers"`
	Categories []CategoryStat `json:"categories"`
	Cities     []CityStat     `json:"cities"`
}
