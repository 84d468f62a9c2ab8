package stock_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/stock-ledger/stock"
)

func TestCurrentStock_OpeningPlusOpenPeriod(t *testing.T) {
	// GIVEN: Milk closed yesterday at 10, then activity today
	f := newFixture(t)
	o := f.outlet("downtown")
	milk := f.item(o.ID, "Milk", "liters", "2")
	f.in(milk.ID, "10", stock.ReasonOpeningStock)
	f.close(o.ID, day1)
	f.at(day1.AddDays(1), 9)

	f.in(milk.ID, "20", stock.ReasonPurchase)
	f.out(milk.ID, "5", stock.ReasonOrderConsumption)
	f.out(milk.ID, "2", stock.ReasonWastage)

	// WHEN
	s, err := f.engine.Stock.CurrentStock(f.ctx, milk.ID)

	// THEN
	require.NoError(t, err)
	assertDec(t, "23", s.Quantity.Value)
	assert.Equal(t, stock.UnitLiters, s.Quantity.Unit)
	assertDec(t, "20", s.Period.Incoming)
	assertDec(t, "5", s.Period.Used)
	assertDec(t, "2", s.Period.Wastage)
	assert.Equal(t, 3, s.Period.Count)
	assert.Equal(t, stock.StatusOK, s.Status)
}

func TestCurrentStock_UnknownItem(t *testing.T) {
	f := newFixture(t)

	_, err := f.engine.Stock.CurrentStock(f.ctx, "ghost")

	assert.True(t, stock.IsNotFound(err))
}

func TestOutletStock_SortedWithStatus(t *testing.T) {
	f := newFixture(t)
	o := f.outlet("downtown")
	milk := f.item(o.ID, "Milk", "liters", "2")
	beans, err := f.engine.Items.Register(f.ctx, stock.RegisterInput{
		OutletID: o.ID, Name: "Beans", Unit: "kg",
		Thresholds: stock.Thresholds{LowStock: dec("1"), MaxStock: dec("5")},
	})
	require.NoError(t, err)
	cups := f.item(o.ID, "Cups", "pcs", "50")

	f.out(milk.ID, "1", stock.ReasonWastage)
	f.in(beans.ID, "8", stock.ReasonPurchase)
	f.in(cups.ID, "50", stock.ReasonPurchase)

	stocks, err := f.engine.Stock.Outlet(f.ctx, o.ID, stock.ItemFilter{})

	require.NoError(t, err)
	require.Len(t, stocks, 3)
	got := map[string]stock.StockStatus{}
	var names []string
	for _, s := range stocks {
		names = append(names, s.Item.Name)
		got[s.Item.Name] = s.Status
	}
	assert.Equal(t, []string{"Beans", "Cups", "Milk"}, names)
	assert.Equal(t, stock.StatusOver, got["Beans"])
	assert.Equal(t, stock.StatusLow, got["Cups"], "at the threshold counts as low")
	assert.Equal(t, stock.StatusNegative, got["Milk"])
}

func TestLowStock_IncludesThresholdExcludesRetired(t *testing.T) {
	// GIVEN: One item at threshold, one above, one retired and empty
	f := newFixture(t)
	o := f.outlet("downtown")
	milk := f.item(o.ID, "Milk", "liters", "5")
	beans := f.item(o.ID, "Beans", "kg", "1")
	syrup := f.item(o.ID, "Syrup", "bottles", "2")
	f.in(milk.ID, "5", stock.ReasonPurchase)
	f.in(beans.ID, "3", stock.ReasonPurchase)
	_, err := f.engine.Items.Retire(f.ctx, syrup.ID)
	require.NoError(t, err)

	// WHEN
	low, err := f.engine.Stock.LowStock(f.ctx, o.ID)

	// THEN: Only milk
	require.NoError(t, err)
	require.Len(t, low, 1)
	assert.Equal(t, milk.ID, low[0].Item.ID)
	assertDec(t, "5", low[0].Threshold)
	assertDec(t, "5", low[0].Quantity.Value)
}

func TestLowStock_EmptyOutlet(t *testing.T) {
	f := newFixture(t)
	o := f.outlet("downtown")

	low, err := f.engine.Stock.LowStock(f.ctx, o.ID)

	require.NoError(t, err)
	assert.NotNil(t, low)
	assert.Empty(t, low)
}
