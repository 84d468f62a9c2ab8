package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/stock-ledger/stock"
)

func seed(t *testing.T, m *Memory) stock.Item {
	t.Helper()
	item := stock.Item{ID: "milk", OutletID: "downtown", Name: "Milk", Unit: stock.UnitLiters, Status: stock.ItemActive}
	err := m.WithTx(context.Background(), func(tx stock.Tx) error {
		if err := tx.InsertOutlet(context.Background(), stock.Outlet{ID: "downtown", Name: "Downtown", Timezone: "UTC"}); err != nil {
			return err
		}
		return tx.InsertItem(context.Background(), item)
	})
	require.NoError(t, err)
	return item
}

func movement(key string, amount int64, at time.Time) *stock.Movement {
	return &stock.Movement{
		ID: stock.MovementID(key + "-id"), ItemID: "milk", OutletID: "downtown",
		Direction: stock.Incoming, Amount: decimal.NewFromInt(amount), Unit: stock.UnitLiters,
		Reason: stock.ReasonPurchase, IdempotencyKey: key, OccurredAt: at, RecordedAt: at,
	}
}

func TestMemory_WithTx_RollsBackOnError(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	seed(t, m)
	boom := errors.New("boom")

	err := m.WithTx(ctx, func(tx stock.Tx) error {
		require.NoError(t, tx.AppendMovement(ctx, movement("a", 5, time.Now())))
		require.NoError(t, tx.InsertDayClose(ctx, stock.DayClose{OutletID: "downtown", Date: stock.NewDate(2026, 3, 14)}))
		return boom
	})

	assert.ErrorIs(t, err, boom)
	seq, _ := m.LastSeq(ctx)
	assert.Zero(t, seq)
	dc, _ := m.GetDayClose(ctx, "downtown", stock.NewDate(2026, 3, 14))
	assert.Nil(t, dc)
	got, _ := m.MovementByKey(ctx, "a")
	assert.Nil(t, got)
}

func TestMemory_AppendAssignsSeqAndRejectsDuplicateKey(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	seed(t, m)
	now := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

	var first, second *stock.Movement
	require.NoError(t, m.WithTx(ctx, func(tx stock.Tx) error {
		first = movement("a", 1, now)
		second = movement("b", 2, now.Add(-time.Hour))
		if err := tx.AppendMovement(ctx, first); err != nil {
			return err
		}
		return tx.AppendMovement(ctx, second)
	}))
	assert.Equal(t, int64(1), first.Seq)
	assert.Equal(t, int64(2), second.Seq)

	err := m.WithTx(ctx, func(tx stock.Tx) error { return tx.AppendMovement(ctx, movement("a", 1, now)) })
	assert.ErrorIs(t, err, stock.ErrConflict)

	all, err := m.Movements(ctx, stock.MovementQuery{OutletID: "downtown"})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "b", all[0].IdempotencyKey, "ordered by occurred_at")

	open, err := m.Movements(ctx, stock.MovementQuery{ItemID: "milk", AfterSeq: 1})
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, int64(2), open[0].Seq)
}

func TestMemory_UpdateItemKeepsCheckpoint(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	item := seed(t, m)
	d := stock.NewDate(2026, 3, 14)

	require.NoError(t, m.WithTx(ctx, func(tx stock.Tx) error {
		return tx.AdvanceCheckpoint(ctx, item.ID, stock.Checkpoint{Opening: decimal.NewFromInt(7), Seq: 3, Date: d, Boundary: d.End(time.UTC)})
	}))
	item.Name = "Whole Milk"
	require.NoError(t, m.WithTx(ctx, func(tx stock.Tx) error { return tx.UpdateItem(ctx, item) }))

	got, err := m.GetItem(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, "Whole Milk", got.Name)
	assert.Equal(t, int64(3), got.CheckpointSeq)
	assert.True(t, got.OpeningStock.Equal(decimal.NewFromInt(7)))
	assert.True(t, got.CheckpointAt.Equal(d.End(time.UTC)))

	err = m.WithTx(ctx, func(tx stock.Tx) error {
		return tx.AdvanceCheckpoint(ctx, item.ID, stock.Checkpoint{Seq: 2, Date: d})
	})
	assert.Error(t, err, "checkpoint never moves backwards")
}

func TestMemory_SnapshotUniquePerItemAndDate(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	seed(t, m)
	snap := stock.Snapshot{ID: "s1", OutletID: "downtown", ItemID: "milk", Date: stock.NewDate(2026, 3, 14), Locked: true}

	require.NoError(t, m.WithTx(ctx, func(tx stock.Tx) error { return tx.InsertSnapshot(ctx, snap) }))
	err := m.WithTx(ctx, func(tx stock.Tx) error { return tx.InsertSnapshot(ctx, snap) })

	assert.ErrorIs(t, err, stock.ErrAlreadyClosed)
}
