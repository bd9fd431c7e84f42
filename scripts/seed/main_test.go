package main

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/encoding/charmap"

	"github.com/pr-poehali-dev/velund-ai-project/pkg/httpclient"
)

const sampleList = `supplier_id;company_name;city;phone;email;rating;product_id;name;price;unit;quantity;category
1;ООО Металлбаза;Казань;+7 843 000-00-00;sales@metallbaza.ru;4,8;10;Швеллер 14П;85 000,00;т;20;Швеллер
1;ООО Металлбаза;Казань;+7 843 000-00-00;sales@metallbaza.ru;4,8;11;Арматура А500С 12мм;62000;т;15,5;
;;;;;;;;;;;
2;СтальТорг;Москва;;;4.7;12;Лист г/к 3мм;74500.50;т;;Лист
`

func TestParsePriceList_CP1251(t *testing.T) {
	encoded, err := charmap.Windows1251.NewEncoder().String(sampleList)
	require.NoError(t, err)

	list, err := parsePriceList(strings.NewReader(encoded), true)
	require.NoError(t, err)

	require.Len(t, list.Suppliers, 2)
	assert.Equal(t, supplier{
		ID: 1, CompanyName: "ООО Металлбаза", City: "Казань",
		Phone: "+7 843 000-00-00", Email: "sales@metallbaza.ru", Rating: 4.8,
	}, list.Suppliers[0])
	assert.Equal(t, "СтальТорг", list.Suppliers[1].CompanyName)
	assert.Equal(t, 4.7, list.Suppliers[1].Rating)

	require.Len(t, list.Products, 3)
	assert.Equal(t, "Швеллер 14П", list.Products[0].Name)
	assert.True(t, decimal.NewFromInt(85000).Equal(list.Products[0].Price))
	assert.Equal(t, 15.5, list.Products[1].Quantity)
	assert.Empty(t, list.Products[1].Category)
	assert.Equal(t, int64(2), list.Products[2].SupplierID)
	assert.True(t, decimal.RequireFromString("74500.5").Equal(list.Products[2].Price))
	assert.Zero(t, list.Products[2].Quantity)
}

func TestParsePriceList_UTF8(t *testing.T) {
	list, err := parsePriceList(strings.NewReader("\ufeff"+sampleList), false)
	require.NoError(t, err)
	assert.Len(t, list.Products, 3)
}

func TestParsePriceList_Errors(t *testing.T) {
	header := "supplier_id;company_name;city;product_id;name;price\n"
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"empty", "", "empty"},
		{"missing column", "supplier_id;company_name;city;product_id;name\n", `"price"`},
		{"bad supplier id", header + "x;A;Казань;1;Уголок;100\n", "line 2: invalid supplier_id"},
		{"bad price", header + "1;A;Казань;1;Уголок;дорого\n", "line 2: invalid price"},
		{"negative price", header + "1;A;Казань;1;Уголок;-5\n", "invalid price"},
		{"conflicting supplier", header + "1;A;Казань;1;Уголок;100\n1;B;Казань;2;Труба;100\n", "line 3: supplier 1 differs"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parsePriceList(strings.NewReader(tt.input), false)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

type recordedRequest struct {
	path  string
	auth  string
	body  map[string]json.RawMessage
	count int
}

func TestImporter_Import(t *testing.T) {
	var (
		mu   sync.Mutex
		reqs []recordedRequest
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		var body map[string]json.RawMessage
		_ = json.Unmarshal(raw, &body)
		rec := recordedRequest{path: r.URL.Path, auth: r.Header.Get("Authorization"), body: body}
		if products, ok := body["products"]; ok {
			var items []json.RawMessage
			_ = json.Unmarshal(products, &items)
			rec.count = len(items)
		}
		mu.Lock()
		reqs = append(reqs, rec)
		mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	list, err := parsePriceList(strings.NewReader(sampleList), false)
	require.NoError(t, err)

	imp := &importer{
		baseURL:   srv.URL,
		token:     "tok",
		batchSize: 2,
		client:    httpclient.New(httpclient.DefaultConfig()),
		logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	require.NoError(t, imp.Import(context.Background(), list))

	require.Len(t, reqs, 4)
	for _, r := range reqs {
		assert.Equal(t, "Bearer tok", r.auth)
	}
	assert.Equal(t, "/api/v1/catalog/suppliers", reqs[0].path)
	assert.Equal(t, "/api/v1/catalog/suppliers", reqs[1].path)
	assert.Equal(t, "/api/v1/catalog/products/bulk", reqs[2].path)
	assert.Equal(t, 2, reqs[2].count)
	assert.Equal(t, 1, reqs[3].count)
}

func TestImporter_StopsOnRejectedSupplier(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"validation failed","code":"VALIDATION_ERROR"}`))
	}))
	defer srv.Close()

	imp := &importer{
		baseURL: srv.URL,
		client:  httpclient.New(httpclient.Config{Timeout: time.Second}),
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	err := imp.Import(context.Background(), &priceList{Suppliers: []supplier{{ID: 1}}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "upsert supplier 1")
	assert.Contains(t, err.Error(), "validation failed")
}

func TestParseNumber(t *testing.T) {
	for in, want := range map[string]string{
		"85 000,50":  "85000.5",
		"85000.50":   "85000.5",
		"4,8":        "4.8",
		"1\u00a0200": "1200",
		"90000₽":     "90000",
	} {
		got, err := parseNumber(in)
		require.NoError(t, err, in)
		assert.True(t, decimal.RequireFromString(want).Equal(got), in)
	}
	_, err := parseNumber("abc")
	assert.Error(t, err)
}
