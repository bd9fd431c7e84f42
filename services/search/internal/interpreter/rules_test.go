package interpreter

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pr-poehali-dev/velund-ai-project/services/search/internal/domain"
)

func price(v int64) *decimal.Decimal {
	d := decimal.NewFromInt(v)
	return &d
}

func qty(v float64) *float64 { return &v }

func assertParsed(t *testing.T, want, got domain.ParsedQuery) {
	t.Helper()
	assert.Equal(t, want.Product, got.Product, "product")
	assert.Equal(t, want.City, got.City, "city")
	assert.Equal(t, want.Category, got.Category, "category")
	if want.MaxPrice == nil {
		assert.Nil(t, got.MaxPrice, "max_price")
	} else if assert.NotNil(t, got.MaxPrice, "max_price") {
		assert.True(t, want.MaxPrice.Equal(*got.MaxPrice), "max_price: want %s, got %s", want.MaxPrice, got.MaxPrice)
	}
	if want.MinQuantity == nil {
		assert.Nil(t, got.MinQuantity, "min_quantity")
	} else if assert.NotNil(t, got.MinQuantity, "min_quantity") {
		assert.InDelta(t, *want.MinQuantity, *got.MinQuantity, 1e-9)
		assert.Equal(t, want.QuantityUnit, got.QuantityUnit)
	}
}

func TestRules_Parse(t *testing.T) {
	rules := NewRules(DefaultDictionary())

	tests := []struct {
		name  string
		input string
		want  domain.ParsedQuery
	}{
		{
			name:  "channel with city and price",
			input: "Найди швеллер 14П в Казани дешевле 90000",
			want:  domain.ParsedQuery{Product: "швеллер 14П", City: "Казань", MaxPrice: price(90000), Category: "швеллеры"},
		},
		{
			name:  "dimension is not a price",
			input: "Труба профильная 40х40 в Москве",
			want:  domain.ParsedQuery{Product: "труба профильная 40х40", City: "Москва", Category: "трубы"},
		},
		{
			name:  "latin x dimension",
			input: "труба профильная 40x40x2",
			want:  domain.ParsedQuery{Product: "труба профильная 40х40х2", Category: "трубы"},
		},
		{
			name:  "price with multiplier suffix and alias city",
			input: "лист 3мм Питер до 90к",
			want:  domain.ParsedQuery{Product: "лист 3мм", City: "Санкт-Петербург", MaxPrice: price(90000), Category: "листы"},
		},
		{
			name:  "spelled thousands and currency",
			input: "уголок 50х50 не дороже 75 тыс руб",
			want:  domain.ParsedQuery{Product: "уголок 50х50", MaxPrice: price(75000), Category: "уголки"},
		},
		{
			name:  "grouped digits",
			input: "балка 20Б1 дешевле чем 120 000 рублей",
			want:  domain.ParsedQuery{Product: "балка 20Б1", MaxPrice: price(120000), Category: "балки"},
		},
		{
			name:  "quantity and price in one query",
			input: "арматура 12мм от 10 тонн до 60000 рублей в Екатеринбурге",
			want: domain.ParsedQuery{
				Product: "арматура 12мм", City: "Екатеринбург", MaxPrice: price(60000),
				Category: "арматура", MinQuantity: qty(10), QuantityUnit: domain.UnitTonne,
			},
		},
		{
			name:  "uncued length stays a dimension",
			input: "труба 6м",
			want:  domain.ParsedQuery{Product: "труба 6м", Category: "трубы"},
		},
		{
			name:  "lower bound is not a max price",
			input: "швеллер дороже 50000",
			want:  domain.ParsedQuery{Product: "швеллер", Category: "швеллеры"},
		},
		{
			name:  "preposition к after a number is not a multiplier",
			input: "арматура 12 к пятнице",
			want:  domain.ParsedQuery{Product: "арматура 12 пятнице", Category: "арматура"},
		},
		{
			name:  "dimension before к and a city survives",
			input: "швеллер 14 к Казани",
			want:  domain.ParsedQuery{Product: "швеллер 14", City: "Казань", Category: "швеллеры"},
		},
		{
			name:  "standalone к after a price cue",
			input: "швеллер до 90 к",
			want:  domain.ParsedQuery{Product: "швеллер", MaxPrice: price(90000), Category: "швеллеры"},
		},
		{
			name:  "dimension and count are not one number",
			input: "Уголок 50 100 шт",
			want: domain.ParsedQuery{
				Product: "уголок 50", Category: "уголки", MinQuantity: qty(100), QuantityUnit: domain.UnitPiece,
			},
		},
		{
			name:  "two dimensions without price evidence",
			input: "Труба 57 200 в Москве",
			want:  domain.ParsedQuery{Product: "труба 57 200", City: "Москва", Category: "трубы"},
		},
		{
			name:  "grouped quantity after a cue",
			input: "балка от 1 000 шт",
			want: domain.ParsedQuery{
				Product: "балка", Category: "балки", MinQuantity: qty(1000), QuantityUnit: domain.UnitPiece,
			},
		},
		{
			name:  "adjective нижний is not a city",
			input: "нижний лист",
			want:  domain.ParsedQuery{Product: "нижний лист", Category: "листы"},
		},
		{
			name:  "grade code only",
			input: "09г2с в Челябинске",
			want:  domain.ParsedQuery{Product: "09г2с", City: "Челябинск"},
		},
		{
			name:  "city only",
			input: "поставщики в Самаре",
			want:  domain.ParsedQuery{City: "Самара"},
		},
		{
			name:  "gibberish",
			input: "qwerty asdf zxcv",
			want:  domain.ParsedQuery{},
		},
		{
			name:  "empty",
			input: "",
			want:  domain.ParsedQuery{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assertParsed(t, tt.want, rules.Parse(tt.input))
		})
	}
}

func TestRules_GibberishIsEmpty(t *testing.T) {
	q := NewRules(DefaultDictionary()).Parse("фывапролдж !!! ???")
	assert.True(t, q.IsEmpty())
}

func TestRules_Interpret(t *testing.T) {
	rules := NewRules(DefaultDictionary())

	q, err := rules.Interpret(context.Background(), "круг 20 в Туле")
	require.NoError(t, err)
	assert.Equal(t, "Тула", q.City)
	assert.Equal(t, "круги", q.Category)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = rules.Interpret(ctx, "круг 20")
	assert.ErrorIs(t, err, context.Canceled)
}
