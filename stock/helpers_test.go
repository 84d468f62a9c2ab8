package stock_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/stock-ledger/stock"
	"github.com/warp/stock-ledger/stock/store"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

// fixture is an engine over a memory store with a settable clock.
type fixture struct {
	t      *testing.T
	ctx    context.Context
	store  *store.Memory
	engine *stock.Engine
	now    time.Time
}

// day1 is the business date most tests start on.
var day1 = stock.NewDate(2026, time.March, 14)

func newFixture(t *testing.T, opts ...func(*stock.Options)) *fixture {
	t.Helper()
	f := &fixture{
		t:     t,
		ctx:   context.Background(),
		store: store.NewMemory(),
		now:   time.Date(2026, time.March, 14, 15, 0, 0, 0, time.UTC),
	}
	o := stock.DefaultOptions()
	o.Now = func() time.Time { return f.now }
	for _, opt := range opts {
		opt(&o)
	}
	f.engine = stock.NewEngine(f.store, o)
	return f
}

func forbidNegative(o *stock.Options) { o.AllowNegativeStock = false }

// at moves the clock to hour:00 UTC on date.
func (f *fixture) at(date stock.Date, hour int) {
	f.now = date.Start(time.UTC).Add(time.Duration(hour) * time.Hour)
}

func (f *fixture) outlet(id string) *stock.Outlet {
	f.t.Helper()
	o, err := f.engine.Outlets.Create(f.ctx, stock.CreateOutletInput{ID: stock.OutletID(id), Name: "Café " + id})
	require.NoError(f.t, err)
	return o
}

func (f *fixture) item(outletID stock.OutletID, name, unit, low string) *stock.Item {
	f.t.Helper()
	item, err := f.engine.Items.Register(f.ctx, stock.RegisterInput{
		OutletID:   outletID,
		Name:       name,
		Unit:       unit,
		Thresholds: stock.Thresholds{LowStock: dec(low)},
	})
	require.NoError(f.t, err)
	return item
}

func (f *fixture) in(itemID stock.ItemID, amount string, reason stock.Reason) *stock.Movement {
	f.t.Helper()
	return f.record(itemID, stock.Incoming, amount, reason)
}

func (f *fixture) out(itemID stock.ItemID, amount string, reason stock.Reason) *stock.Movement {
	f.t.Helper()
	return f.record(itemID, stock.Outgoing, amount, reason)
}

func (f *fixture) record(itemID stock.ItemID, dir stock.Direction, amount string, reason stock.Reason) *stock.Movement {
	f.t.Helper()
	m, err := f.engine.Ledger.Record(f.ctx, stock.RecordInput{
		ItemID:    itemID,
		Direction: dir,
		Amount:    dec(amount),
		Reason:    reason,
	})
	require.NoError(f.t, err)
	return m
}

func (f *fixture) current(itemID stock.ItemID) decimal.Decimal {
	f.t.Helper()
	s, err := f.engine.Stock.CurrentStock(f.ctx, itemID)
	require.NoError(f.t, err)
	return s.Quantity.Value
}

func (f *fixture) close(outletID stock.OutletID, date stock.Date) *stock.CloseDayOutput {
	f.t.Helper()
	out, err := f.engine.Closing.CloseDay(f.ctx, stock.CloseDayInput{OutletID: outletID, Date: date})
	require.NoError(f.t, err)
	return out
}

func dec(s string) decimal.Decimal {
	if s == "" {
		return decimal.Zero
	}
	return decimal.RequireFromString(s)
}

func assertDec(t *testing.T, want string, got decimal.Decimal, msgAndArgs ...any) {
	t.Helper()
	assert.Truef(t, dec(want).Equal(got), "want %s, got %s %v", want, got, msgAndArgs)
}

// ledgerSum recomputes stock from scratch: Σ signed amounts of all movements.
func ledgerSum(t *testing.T, f *fixture, itemID stock.ItemID) decimal.Decimal {
	t.Helper()
	all, err := f.store.Movements(f.ctx, stock.MovementQuery{ItemID: itemID})
	require.NoError(t, err)
	sum := decimal.Zero
	for _, m := range all {
		sum = sum.Add(m.Signed())
	}
	return sum
}
