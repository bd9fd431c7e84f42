package validator

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type supplierDTO struct {
	CompanyName string  `json:"company_name" validate:"required,max=255"`
	Email       string  `json:"email" validate:"omitempty,email"`
	Rating      float64 `json:"rating" validate:"gte=0,lte=5"`
}

type productDTO struct {
	Name  string          `json:"name" validate:"required"`
	Price decimal.Decimal `json:"price" validate:"gt=0"`
}

func TestValidate_Valid(t *testing.T) {
	err := Validate(supplierDTO{CompanyName: "МеталлТорг", Email: "sales@metal.ru", Rating: 4.5})
	assert.NoError(t, err)
}

func TestValidate_UsesJSONFieldNames(t *testing.T) {
	err := Validate(supplierDTO{Email: "nope", Rating: 7})
	require.Error(t, err)

	var valErr *ValidationError
	require.ErrorAs(t, err, &valErr)
	fields := valErr.Fields()
	assert.Equal(t, "is required", fields["company_name"])
	assert.Equal(t, "must be a valid email address", fields["email"])
	assert.Equal(t, "must be less than or equal to 5", fields["rating"])
	assert.Contains(t, err.Error(), "field 'company_name' is required")
}

func TestValidate_DecimalPrice(t *testing.T) {
	assert.NoError(t, Validate(productDTO{Name: "Круг ст3 20мм", Price: decimal.RequireFromString("1250.50")}))

	err := Validate(productDTO{Name: "Круг ст3 20мм", Price: decimal.Zero})
	require.Error(t, err)

	var valErr *ValidationError
	require.ErrorAs(t, err, &valErr)
	assert.Equal(t, "must be greater than 0", valErr.Fields()["price"])
}

func TestDecodeAndValidate(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"name":"Лист 3мм","price":4100}`))
	var dto productDTO
	require.NoError(t, DecodeAndValidate(req, &dto))
	assert.True(t, dto.Price.Equal(decimal.NewFromInt(4100)))

	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"name":`))
	err := DecodeAndValidate(req, &dto)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decode request body")
}
