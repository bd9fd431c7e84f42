package main

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/transform"
)

// Price list columns. The header row names them; their order is free.
const (
	colSupplierID = "supplier_id"
	colCompany    = "company_name"
	colCity       = "city"
	colPhone      = "phone"
	colEmail      = "email"
	colRating     = "rating"
	colProductID  = "product_id"
	colName       = "name"
	colPrice      = "price"
	colUnit       = "unit"
	colQuantity   = "quantity"
	colCategory   = "category"
)

var requiredColumns = []string{colSupplierID, colCompany, colCity, colProductID, colName, colPrice}

// supplier is the JSON body of POST /api/v1/catalog/suppliers.
type supplier struct {
	ID          int64   `json:"id"`
	CompanyName string  `json:"company_name"`
	City        string  `json:"city"`
	Phone       string  `json:"phone"`
	Email       string  `json:"email,omitempty"`
	Rating      float64 `json:"rating"`
}

// product is one entry of POST /api/v1/catalog/products/bulk.
type product struct {
	ID         int64           `json:"id"`
	SupplierID int64           `json:"supplier_id"`
	Name       string          `json:"name"`
	Price      decimal.Decimal `json:"price"`
	Unit       string          `json:"unit"`
	Quantity   float64         `json:"quantity"`
	Category   string          `json:"category,omitempty"`
}

// priceList is a parsed price list. Suppliers keep the order of their first
// appearance.
type priceList struct {
	Suppliers []supplier
	Products  []product
}

// parsePriceList reads a semicolon separated price list. Windows-1251 input
// is decoded when cp1251 is set. Each row carries one product together with
// its supplier; a supplier repeated with different details is an error.
func parsePriceList(r io.Reader, cp1251 bool) (*priceList, error) {
	if cp1251 {
		r = transform.NewReader(r, charmap.Windows1251.NewDecoder())
	}
	cr := csv.NewReader(r)
	cr.Comma = ';'
	cr.LazyQuotes = true
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("price list is empty")
	}
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	columns := make(map[string]int, len(header))
	for i, name := range header {
		columns[strings.ToLower(strings.TrimSpace(strings.TrimPrefix(name, "\ufeff")))] = i
	}
	for _, name := range requiredColumns {
		if _, ok := columns[name]; !ok {
			return nil, fmt.Errorf("price list has no %q column", name)
		}
	}

	out := &priceList{}
	seen := make(map[int64]supplier)
	for line := 2; ; line++ {
		record, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		cell := func(name string) string {
			if i, ok := columns[name]; ok && i < len(record) {
				return strings.TrimSpace(record[i])
			}
			return ""
		}
		if strings.Join(record, "") == "" {
			continue
		}

		sup, err := parseSupplier(cell)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		if prev, ok := seen[sup.ID]; !ok {
			seen[sup.ID] = sup
			out.Suppliers = append(out.Suppliers, sup)
		} else if prev != sup {
			return nil, fmt.Errorf("line %d: supplier %d differs from its earlier row", line, sup.ID)
		}

		p, err := parseProduct(cell, sup.ID)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		out.Products = append(out.Products, p)
	}
	return out, nil
}

func parseSupplier(cell func(string) string) (supplier, error) {
	id, err := strconv.ParseInt(cell(colSupplierID), 10, 64)
	if err != nil || id <= 0 {
		return supplier{}, fmt.Errorf("invalid supplier_id %q", cell(colSupplierID))
	}
	sup := supplier{
		ID:          id,
		CompanyName: cell(colCompany),
		City:        cell(colCity),
		Phone:       cell(colPhone),
		Email:       cell(colEmail),
	}
	if v := cell(colRating); v != "" {
		rating, err := parseNumber(v)
		if err != nil {
			return supplier{}, fmt.Errorf("invalid rating %q", v)
		}
		sup.Rating = rating.InexactFloat64()
	}
	return sup, nil
}

func parseProduct(cell func(string) string, supplierID int64) (product, error) {
	id, err := strconv.ParseInt(cell(colProductID), 10, 64)
	if err != nil || id <= 0 {
		return product{}, fmt.Errorf("invalid product_id %q", cell(colProductID))
	}
	price, err := parseNumber(cell(colPrice))
	if err != nil || price.IsNegative() {
		return product{}, fmt.Errorf("invalid price %q", cell(colPrice))
	}
	p := product{
		ID:         id,
		SupplierID: supplierID,
		Name:       cell(colName),
		Price:      price,
		Unit:       cell(colUnit),
		Category:   cell(colCategory),
	}
	if v := cell(colQuantity); v != "" {
		q, err := parseNumber(v)
		if err != nil || q.IsNegative() {
			return product{}, fmt.Errorf("invalid quantity %q", v)
		}
		p.Quantity = q.InexactFloat64()
	}
	return p, nil
}

// parseNumber accepts spreadsheet formatting: "85 000,50", "85000.50", "4,8".
func parseNumber(s string) (decimal.Decimal, error) {
	s = strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\u00a0', '\u202f':
			return -1
		case ',':
			return '.'
		}
		return r
	}, s)
	s = strings.TrimSuffix(strings.TrimSuffix(s, "₽"), "руб.")
	return decimal.NewFromString(s)
}
