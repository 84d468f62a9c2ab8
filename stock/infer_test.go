package stock_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/warp/stock-ledger/stock"
)

func TestSuggestClassification(t *testing.T) {
	tests := []struct {
		name     string
		category string
		unit     stock.Unit
	}{
		{"Whole Milk", "dairy", stock.UnitLiters},
		{"Oat Milk (Barista)", "dairy-alternatives", stock.UnitLiters},
		{"House Espresso Blend", "coffee", stock.UnitKilograms},
		{"Vanilla Syrup", "syrups", stock.UnitBottles},
		{"Free-range eggs", "fresh", stock.UnitDozen},
		{"Butter Croissant", "dairy", stock.UnitKilograms},
		{"12oz Cup Lids", "packaging", stock.UnitPacks},
		{"Gift card", "general", stock.UnitPieces},
		{"", "general", stock.UnitPieces},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := stock.SuggestClassification(tt.name)
			assert.Equal(t, tt.category, s.Category)
			assert.Equal(t, tt.unit, s.Unit)
		})
	}
}

func TestSuggestClassification_ReportsKeyword(t *testing.T) {
	s := stock.SuggestClassification("  MATCHA powder ")

	assert.Equal(t, "matcha", s.Matched)
	assert.Empty(t, stock.SuggestClassification("widget").Matched)
}
