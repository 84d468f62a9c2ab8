package stock_test

import (
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/stock-ledger/stock"
)

// =============================================================================
// RECORD - VALIDATION
// =============================================================================

func TestRecord_AppendsMovementWithItemUnit(t *testing.T) {
	f := newFixture(t)
	o := f.outlet("downtown")
	milk := f.item(o.ID, "Milk", "liters", "2")

	m, err := f.engine.Ledger.Record(f.ctx, stock.RecordInput{
		ItemID:     milk.ID,
		Direction:  stock.Incoming,
		Amount:     dec("20"),
		Reason:     stock.ReasonPurchase,
		Note:       "  delivery #88  ",
		RecordedBy: "maria",
	})

	require.NoError(t, err)
	assert.NotEmpty(t, m.ID)
	assert.Positive(t, m.Seq)
	assert.Equal(t, o.ID, m.OutletID)
	assert.Equal(t, stock.UnitLiters, m.Unit)
	assert.Equal(t, "delivery #88", m.Note)
	assert.Equal(t, f.now, m.OccurredAt, "zero occurred_at means now")
	assert.Equal(t, f.now, m.RecordedAt)
	assertDec(t, "20", f.current(milk.ID))
}

func TestRecord_Validation(t *testing.T) {
	f := newFixture(t)
	o := f.outlet("downtown")
	milk := f.item(o.ID, "Milk", "liters", "2")

	tests := []struct {
		name  string
		input stock.RecordInput
		field string
	}{
		{"zero amount", stock.RecordInput{ItemID: milk.ID, Direction: stock.Incoming, Amount: dec("0"), Reason: stock.ReasonPurchase}, "amount"},
		{"negative amount", stock.RecordInput{ItemID: milk.ID, Direction: stock.Outgoing, Amount: dec("-3"), Reason: stock.ReasonWastage}, "amount"},
		{"unknown direction", stock.RecordInput{ItemID: milk.ID, Direction: "sideways", Amount: dec("1"), Reason: stock.ReasonPurchase}, "direction"},
		{"unknown reason", stock.RecordInput{ItemID: milk.ID, Direction: stock.Incoming, Amount: dec("1"), Reason: "gift"}, "reason"},
		{"purchase cannot be outgoing", stock.RecordInput{ItemID: milk.ID, Direction: stock.Outgoing, Amount: dec("1"), Reason: stock.ReasonPurchase}, "reason"},
		{"wastage cannot be incoming", stock.RecordInput{ItemID: milk.ID, Direction: stock.Incoming, Amount: dec("1"), Reason: stock.ReasonWastage}, "reason"},
		{"note too long", stock.RecordInput{ItemID: milk.ID, Direction: stock.Incoming, Amount: dec("1"), Reason: stock.ReasonPurchase, Note: strings.Repeat("x", 501)}, "note"},
		{"future occurred_at", stock.RecordInput{ItemID: milk.ID, Direction: stock.Incoming, Amount: dec("1"), Reason: stock.ReasonPurchase, OccurredAt: f.now.Add(time.Hour)}, "occurred_at"},
		{"missing item", stock.RecordInput{Direction: stock.Incoming, Amount: dec("1"), Reason: stock.ReasonPurchase}, "item_id"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.engine.Ledger.Record(f.ctx, tt.input)

			var ve *stock.ValidationError
			require.ErrorAs(t, err, &ve)
			assert.Equal(t, tt.field, ve.Field)
		})
	}

	assertDec(t, "0", f.current(milk.ID), "rejected movements write nothing")
}

func TestRecord_ManualAdjustmentEitherDirection(t *testing.T) {
	f := newFixture(t)
	o := f.outlet("downtown")
	beans := f.item(o.ID, "Beans", "kg", "1")

	f.in(beans.ID, "3", stock.ReasonManualAdjustment)
	f.out(beans.ID, "0.5", stock.ReasonManualAdjustment)

	assertDec(t, "2.5", f.current(beans.ID))
}

func TestRecord_UnknownItem(t *testing.T) {
	f := newFixture(t)

	_, err := f.engine.Ledger.Record(f.ctx, stock.RecordInput{
		ItemID: "ghost", Direction: stock.Incoming, Amount: dec("1"), Reason: stock.ReasonPurchase,
	})

	assert.ErrorIs(t, err, stock.ErrNotFound)
}

func TestRecord_RetiredItem(t *testing.T) {
	// GIVEN: A retired item with some stock left
	f := newFixture(t)
	o := f.outlet("downtown")
	syrup := f.item(o.ID, "Syrup", "bottles", "0")
	f.in(syrup.ID, "4", stock.ReasonPurchase)
	_, err := f.engine.Items.Retire(f.ctx, syrup.ID)
	require.NoError(t, err)

	// WHEN: Recording outgoing usage
	_, err = f.engine.Ledger.Record(f.ctx, stock.RecordInput{
		ItemID: syrup.ID, Direction: stock.Outgoing, Amount: dec("1"), Reason: stock.ReasonOrderConsumption,
	})

	// THEN: Rejected as a conflict, incoming corrections still allowed
	assert.ErrorIs(t, err, stock.ErrItemRetired)
	assert.True(t, stock.IsConflict(err))

	f.in(syrup.ID, "1", stock.ReasonReturn)
	assertDec(t, "5", f.current(syrup.ID))
}

// =============================================================================
// RECORD - NEGATIVE STOCK POLICY
// =============================================================================

func TestRecord_NegativeAllowedByDefault(t *testing.T) {
	f := newFixture(t)
	o := f.outlet("downtown")
	milk := f.item(o.ID, "Milk", "liters", "2")
	f.in(milk.ID, "1", stock.ReasonPurchase)

	f.out(milk.ID, "3", stock.ReasonWastage)

	assertDec(t, "-2", f.current(milk.ID))
}

func TestRecord_ForbidNegative_RejectsWithShortfall(t *testing.T) {
	f := newFixture(t, forbidNegative)
	o := f.outlet("downtown")
	milk := f.item(o.ID, "Milk", "liters", "2")
	f.in(milk.ID, "6", stock.ReasonPurchase)

	_, err := f.engine.Ledger.Record(f.ctx, stock.RecordInput{
		ItemID: milk.ID, Direction: stock.Outgoing, Amount: dec("7.5"), Reason: stock.ReasonOrderConsumption,
	})

	var short *stock.InsufficientStockError
	require.ErrorAs(t, err, &short)
	assertDec(t, "6", short.Available)
	assertDec(t, "7.5", short.Requested)
	assertDec(t, "1.5", short.Shortfall)
	assert.Equal(t, stock.UnitLiters, short.Unit)
	assert.True(t, stock.IsClientError(err))
	assertDec(t, "6", f.current(milk.ID))

	// Exactly down to zero is fine.
	f.out(milk.ID, "6", stock.ReasonOrderConsumption)
	assertDec(t, "0", f.current(milk.ID))
}

func TestRecord_ForbidNegative_ConcurrentOutgoing(t *testing.T) {
	// GIVEN: Stock of 6 and negative stock forbidden
	f := newFixture(t, forbidNegative)
	o := f.outlet("downtown")
	milk := f.item(o.ID, "Milk", "liters", "0")
	f.in(milk.ID, "6", stock.ReasonPurchase)

	// WHEN: Two baristas record 5 at the same moment
	var wg sync.WaitGroup
	var ok, short atomic.Int32
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.engine.Ledger.Record(f.ctx, stock.RecordInput{
				ItemID: milk.ID, Direction: stock.Outgoing, Amount: dec("5"), Reason: stock.ReasonOrderConsumption,
			})
			switch {
			case err == nil:
				ok.Add(1)
			case errors.Is(err, stock.ErrInsufficientStock):
				short.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	// THEN: Exactly one wins
	assert.Equal(t, int32(1), ok.Load())
	assert.Equal(t, int32(1), short.Load())
	assertDec(t, "1", f.current(milk.ID))
}

func TestRecord_ConcurrentWritersLoseNothing(t *testing.T) {
	f := newFixture(t)
	o := f.outlet("downtown")
	cups := f.item(o.ID, "Cups", "pcs", "0")

	var wg sync.WaitGroup
	for i := 0; i < 40; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			in := stock.RecordInput{ItemID: cups.ID, Direction: stock.Incoming, Amount: dec("3"), Reason: stock.ReasonPurchase}
			if i%2 == 1 {
				in = stock.RecordInput{ItemID: cups.ID, Direction: stock.Outgoing, Amount: dec("1"), Reason: stock.ReasonOrderConsumption}
			}
			_, err := f.engine.Ledger.Record(f.ctx, in)
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	// 20 x +3 and 20 x -1
	assertDec(t, "40", f.current(cups.ID))
	assertDec(t, "40", ledgerSum(t, f, cups.ID))
}

// =============================================================================
// RECORD - IDEMPOTENCY
// =============================================================================

func TestRecord_IdempotentReplayReturnsOriginal(t *testing.T) {
	f := newFixture(t)
	o := f.outlet("downtown")
	milk := f.item(o.ID, "Milk", "liters", "0")
	in := stock.RecordInput{
		ItemID: milk.ID, Direction: stock.Incoming, Amount: dec("20"),
		Reason: stock.ReasonPurchase, IdempotencyKey: "po-551",
	}

	first, err := f.engine.Ledger.Record(f.ctx, in)
	require.NoError(t, err)
	f.now = f.now.Add(time.Minute)
	second, err := f.engine.Ledger.Record(f.ctx, in)
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, first.Seq, second.Seq)
	assert.Equal(t, first.RecordedAt, second.RecordedAt)
	assert.False(t, first.Replayed)
	assert.True(t, second.Replayed)
	assertDec(t, "20", f.current(milk.ID), "replay does not double count")
}

func TestRecord_IdempotencyKeyReusedWithDifferentPayload(t *testing.T) {
	f := newFixture(t)
	o := f.outlet("downtown")
	milk := f.item(o.ID, "Milk", "liters", "0")
	_, err := f.engine.Ledger.Record(f.ctx, stock.RecordInput{
		ItemID: milk.ID, Direction: stock.Incoming, Amount: dec("20"),
		Reason: stock.ReasonPurchase, IdempotencyKey: "po-551",
	})
	require.NoError(t, err)

	_, err = f.engine.Ledger.Record(f.ctx, stock.RecordInput{
		ItemID: milk.ID, Direction: stock.Incoming, Amount: dec("25"),
		Reason: stock.ReasonPurchase, IdempotencyKey: "po-551",
	})

	assert.ErrorIs(t, err, stock.ErrIdempotencyMismatch)
	assert.ErrorIs(t, err, stock.ErrConflict)
	assertDec(t, "20", f.current(milk.ID))
}

// =============================================================================
// HISTORY
// =============================================================================

func TestHistory_OrderedByOccurredAtWithBackdatedEntries(t *testing.T) {
	f := newFixture(t)
	o := f.outlet("downtown")
	milk := f.item(o.ID, "Milk", "liters", "0")

	first := f.in(milk.ID, "10", stock.ReasonPurchase)
	backdated, err := f.engine.Ledger.Record(f.ctx, stock.RecordInput{
		ItemID: milk.ID, Direction: stock.Outgoing, Amount: dec("1"), Reason: stock.ReasonWastage,
		OccurredAt: f.now.Add(-3 * time.Hour),
	})
	require.NoError(t, err)

	page, err := f.engine.Ledger.History(f.ctx, stock.HistoryQuery{ItemID: milk.ID})

	require.NoError(t, err)
	require.Len(t, page.Movements, 2)
	assert.Equal(t, backdated.ID, page.Movements[0].ID)
	assert.Equal(t, first.ID, page.Movements[1].ID)
	assert.Empty(t, page.NextCursor)
}

func TestHistory_PaginatesWithoutGapsOrDuplicates(t *testing.T) {
	// GIVEN: Five movements, a minute apart
	f := newFixture(t)
	o := f.outlet("downtown")
	milk := f.item(o.ID, "Milk", "liters", "0")
	beans := f.item(o.ID, "Beans", "kg", "0")
	var want []stock.MovementID
	for i := 0; i < 5; i++ {
		id := milk.ID
		if i%2 == 0 {
			id = beans.ID
		}
		want = append(want, f.in(id, "1", stock.ReasonPurchase).ID)
		f.now = f.now.Add(time.Minute)
	}

	// WHEN: Walking the outlet history two at a time
	var got []stock.MovementID
	cursor := ""
	pages := 0
	for {
		page, err := f.engine.Ledger.History(f.ctx, stock.HistoryQuery{OutletID: o.ID, Limit: 2, Cursor: cursor})
		require.NoError(t, err)
		pages++
		for _, m := range page.Movements {
			got = append(got, m.ID)
		}
		if page.NextCursor == "" {
			break
		}
		cursor = page.NextCursor
	}

	// THEN: Every movement appears once, in order
	assert.Equal(t, 3, pages)
	assert.Equal(t, want, got)
}

func TestHistory_TimeWindow(t *testing.T) {
	f := newFixture(t)
	o := f.outlet("downtown")
	milk := f.item(o.ID, "Milk", "liters", "0")
	start := f.now
	f.in(milk.ID, "1", stock.ReasonPurchase)
	f.now = start.Add(time.Hour)
	inside := f.in(milk.ID, "2", stock.ReasonPurchase)
	f.now = start.Add(2 * time.Hour)
	f.in(milk.ID, "3", stock.ReasonPurchase)

	page, err := f.engine.Ledger.History(f.ctx, stock.HistoryQuery{
		ItemID: milk.ID,
		From:   start.Add(time.Hour),
		To:     start.Add(2 * time.Hour),
	})

	require.NoError(t, err)
	require.Len(t, page.Movements, 1)
	assert.Equal(t, inside.ID, page.Movements[0].ID)
}

func TestHistory_Errors(t *testing.T) {
	f := newFixture(t)
	o := f.outlet("downtown")

	t.Run("empty ledger is an empty page", func(t *testing.T) {
		page, err := f.engine.Ledger.History(f.ctx, stock.HistoryQuery{OutletID: o.ID})
		require.NoError(t, err)
		assert.NotNil(t, page.Movements)
		assert.Empty(t, page.Movements)
	})

	t.Run("unknown outlet", func(t *testing.T) {
		_, err := f.engine.Ledger.History(f.ctx, stock.HistoryQuery{OutletID: "ghost"})
		assert.ErrorIs(t, err, stock.ErrNotFound)
	})

	t.Run("malformed cursor", func(t *testing.T) {
		_, err := f.engine.Ledger.History(f.ctx, stock.HistoryQuery{OutletID: o.ID, Cursor: "%%%"})
		assert.ErrorIs(t, err, stock.ErrValidation)
	})

	t.Run("inverted window", func(t *testing.T) {
		_, err := f.engine.Ledger.History(f.ctx, stock.HistoryQuery{OutletID: o.ID, From: f.now, To: f.now.Add(-time.Hour)})
		assert.ErrorIs(t, err, stock.ErrValidation)
	})

	t.Run("no scope", func(t *testing.T) {
		_, err := f.engine.Ledger.History(f.ctx, stock.HistoryQuery{})
		assert.ErrorIs(t, err, stock.ErrValidation)
	})
}

func TestCursor_EncodeParse(t *testing.T) {
	c := stock.Cursor{OccurredAt: time.Date(2026, 3, 14, 9, 30, 0, 123, time.UTC), Seq: 42}

	parsed, err := stock.ParseCursor(c.Encode())

	require.NoError(t, err)
	assert.True(t, c.OccurredAt.Equal(parsed.OccurredAt))
	assert.Equal(t, c.Seq, parsed.Seq)
}
