package stock

import "strings"

// Suggestion is an advisory category and unit for a new item name. The
// registry never applies it on its own.
type Suggestion struct {
	Category string
	Unit     Unit
	Matched  string // keyword that produced the suggestion, empty if none
}

type keywordRule struct {
	keywords []string
	category string
	unit     Unit
}

// Order matters: the first rule with a matching keyword wins, so more
// specific words ("oat milk" before "milk") come first.
var keywordRules = []keywordRule{
	{[]string{"oat milk", "almond milk", "soy milk"}, "dairy-alternatives", UnitLiters},
	{[]string{"milk", "cream", "yogurt", "yoghurt"}, "dairy", UnitLiters},
	{[]string{"butter", "cheese", "mascarpone"}, "dairy", UnitKilograms},
	{[]string{"espresso", "coffee", "beans"}, "coffee", UnitKilograms},
	{[]string{"tea", "matcha", "chai"}, "tea", UnitGrams},
	{[]string{"syrup", "sauce", "juice"}, "syrups", UnitBottles},
	{[]string{"water", "soda", "cola", "tonic"}, "beverages", UnitBottles},
	{[]string{"sugar", "flour", "cocoa", "rice"}, "dry-goods", UnitKilograms},
	{[]string{"egg"}, "fresh", UnitDozen},
	{[]string{"croissant", "muffin", "bagel", "bread", "cake", "cookie"}, "bakery", UnitPieces},
	{[]string{"banana", "lemon", "orange", "apple", "berries", "avocado"}, "produce", UnitKilograms},
	{[]string{"cup", "lid", "straw", "napkin", "sleeve"}, "packaging", UnitPacks},
	{[]string{"filter", "detergent", "cleaner"}, "supplies", UnitBoxes},
}

// SuggestClassification infers a category and unit from an item name.
// Unknown names fall back to "general" counted in pieces.
func SuggestClassification(name string) Suggestion {
	n := strings.ToLower(strings.TrimSpace(name))
	for _, rule := range keywordRules {
		for _, kw := range rule.keywords {
			if strings.Contains(n, kw) {
				return Suggestion{Category: rule.category, Unit: rule.unit, Matched: kw}
			}
		}
	}
	return Suggestion{Category: "general", Unit: UnitPieces}
}
