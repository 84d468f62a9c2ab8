package listener

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/stock-ledger/metrics"
	"github.com/warp/stock-ledger/stock"
	"github.com/warp/stock-ledger/stock/store"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

// fakeReader hands out queued messages and blocks once they run out.
type fakeReader struct {
	mu        sync.Mutex
	queue     []kafka.Message
	committed []kafka.Message
	fetchErrs int
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	r.mu.Lock()
	if r.fetchErrs > 0 {
		r.fetchErrs--
		r.mu.Unlock()
		return kafka.Message{}, errors.New("broker unavailable")
	}
	if len(r.queue) > 0 {
		msg := r.queue[0]
		r.queue = r.queue[1:]
		r.mu.Unlock()
		return msg, nil
	}
	r.mu.Unlock()
	<-ctx.Done()
	return kafka.Message{}, ctx.Err()
}

func (r *fakeReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.committed = append(r.committed, msgs...)
	return nil
}

func (r *fakeReader) Close() error { return nil }

func (r *fakeReader) commits() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.committed)
}

// flakyStore fails the first n transactions with a storage error.
type flakyStore struct {
	*store.Memory
	failures atomic.Int32
}

func (s *flakyStore) WithTx(ctx context.Context, fn func(tx stock.Tx) error) error {
	if s.failures.Load() > 0 {
		s.failures.Add(-1)
		return errors.New("database is locked")
	}
	return s.Memory.WithTx(ctx, fn)
}

type env struct {
	t        *testing.T
	ctx      context.Context
	store    *flakyStore
	engine   *stock.Engine
	listener *OrderListener
	milk     stock.ItemID
	beans    stock.ItemID
}

func newEnv(t *testing.T) *env {
	t.Helper()
	now := time.Date(2026, time.March, 14, 15, 0, 0, 0, time.UTC)
	e := &env{t: t, ctx: context.Background(), store: &flakyStore{Memory: store.NewMemory()}}

	o := stock.DefaultOptions()
	o.Now = func() time.Time { return now }
	e.engine = stock.NewEngine(e.store, o)

	_, err := e.engine.Outlets.Create(e.ctx, stock.CreateOutletInput{ID: "downtown", Name: "Downtown"})
	require.NoError(t, err)
	for name, unit := range map[string]string{"Milk": "liters", "Coffee Beans": "kg"} {
		item, err := e.engine.Items.Register(e.ctx, stock.RegisterInput{OutletID: "downtown", Name: name, Unit: unit})
		require.NoError(t, err)
		_, err = e.engine.Ledger.Record(e.ctx, stock.RecordInput{
			ItemID: item.ID, Direction: stock.Incoming, Amount: decimal.NewFromInt(10), Reason: stock.ReasonPurchase,
		})
		require.NoError(t, err)
		if name == "Milk" {
			e.milk = item.ID
		} else {
			e.beans = item.ID
		}
	}

	e.listener = NewOrderListener(&fakeReader{}, e.engine.Ledger, metrics.New())
	e.listener.RetryDelay = time.Millisecond
	e.listener.MaxRetryDelay = 5 * time.Millisecond
	return e
}

func (e *env) event(orderID string, lines ...OrderLine) []byte {
	e.t.Helper()
	at := time.Date(2026, time.March, 14, 9, 12, 0, 0, time.UTC)
	b, err := json.Marshal(OrderEvent{
		EventID:    "evt-" + orderID,
		EventType:  EventOrderFulfilled,
		OrderID:    orderID,
		OutletID:   "downtown",
		OccurredAt: &at,
		Lines:      lines,
	})
	require.NoError(e.t, err)
	return b
}

func (e *env) stock(id stock.ItemID) string {
	e.t.Helper()
	s, err := e.engine.Stock.CurrentStock(e.ctx, id)
	require.NoError(e.t, err)
	return s.Quantity.Value.String()
}

// counterTotal sums every series of a counter family.
func counterTotal(t *testing.T, m *metrics.Metrics, name string) float64 {
	t.Helper()
	families, err := m.Registry().Gather()
	require.NoError(t, err)
	total := 0.0
	for _, family := range families {
		if family.GetName() != name {
			continue
		}
		for _, metric := range family.GetMetric() {
			total += metric.GetCounter().GetValue()
		}
	}
	return total
}

func line(id stock.ItemID, qty string) OrderLine {
	return OrderLine{ItemID: string(id), Quantity: decimal.RequireFromString(qty)}
}

// =============================================================================
// HANDLE
// =============================================================================

func TestHandle_RecordsOrderConsumption(t *testing.T) {
	// GIVEN: An order with two lines
	e := newEnv(t)

	// WHEN: Handling the event
	err := e.listener.Handle(e.ctx, e.event("ord-1", line(e.milk, "0.25"), line(e.beans, "0.018")))

	// THEN: One outgoing order_consumption movement per line
	require.NoError(t, err)
	assert.Equal(t, "9.75", e.stock(e.milk))
	assert.Equal(t, "9.982", e.stock(e.beans))

	m, err := e.store.MovementByKey(e.ctx, LineKey("ord-1", 0, string(e.milk)))
	require.NoError(t, err)
	require.NotNil(t, m)
	assert.Equal(t, stock.Outgoing, m.Direction)
	assert.Equal(t, stock.ReasonOrderConsumption, m.Reason)
	assert.Equal(t, "order-listener", m.RecordedBy)
	assert.True(t, m.OccurredAt.Equal(time.Date(2026, time.March, 14, 9, 12, 0, 0, time.UTC)))
}

func TestHandle_RedeliveryDoesNotDoubleDeduct(t *testing.T) {
	e := newEnv(t)
	payload := e.event("ord-2", line(e.milk, "1"))

	require.NoError(t, e.listener.Handle(e.ctx, payload))
	require.NoError(t, e.listener.Handle(e.ctx, payload))

	assert.Equal(t, "9", e.stock(e.milk))
	assert.Equal(t, 1.0, counterTotal(t, e.listener.Metrics, "stock_movements_recorded_total"), "redelivery is not counted")
}

func TestHandle_SameItemTwiceInOneOrder(t *testing.T) {
	// GIVEN: Two lines for the same item; the line index keeps keys distinct
	e := newEnv(t)

	require.NoError(t, e.listener.Handle(e.ctx, e.event("ord-3", line(e.milk, "1"), line(e.milk, "2"))))

	assert.Equal(t, "7", e.stock(e.milk))
}

func TestHandle_DroppedMessages(t *testing.T) {
	e := newEnv(t)

	tests := []struct {
		name    string
		payload []byte
	}{
		{name: "malformed json", payload: []byte(`{"event_type":`)},
		{name: "other event type", payload: []byte(`{"event_type":"order.created","order_id":"ord-9","lines":[{"item_id":"x","quantity":"1"}]}`)},
		{name: "missing order id", payload: []byte(`{"event_type":"order.fulfilled","lines":[]}`)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.NoError(t, e.listener.Handle(e.ctx, tt.payload))
		})
	}
	assert.Equal(t, "10", e.stock(e.milk))
}

func TestHandle_RejectedLineIsSkipped(t *testing.T) {
	// GIVEN: An order with an unknown item, a zero quantity and a valid line
	e := newEnv(t)
	payload := e.event("ord-4",
		OrderLine{ItemID: "ghost", Quantity: decimal.NewFromInt(1)},
		line(e.beans, "0"),
		line(e.milk, "2"),
	)

	// WHEN: Handling it
	err := e.listener.Handle(e.ctx, payload)

	// THEN: No retry requested, the valid line is recorded
	require.NoError(t, err)
	assert.Equal(t, "8", e.stock(e.milk))
	assert.Equal(t, "10", e.stock(e.beans))
}

func TestHandle_StorageFailureIsRetryable(t *testing.T) {
	e := newEnv(t)
	e.store.failures.Store(1)

	err := e.listener.Handle(e.ctx, e.event("ord-5", line(e.milk, "1")))

	assert.Error(t, err)
	assert.Equal(t, "10", e.stock(e.milk))
}

// =============================================================================
// CONSUME LOOP
// =============================================================================

func TestStart_ConsumesAndCommits(t *testing.T) {
	// GIVEN: Two queued events, one transient fetch error and one failing write
	e := newEnv(t)
	reader := &fakeReader{
		fetchErrs: 1,
		queue: []kafka.Message{
			{Offset: 1, Value: e.event("ord-6", line(e.milk, "1"))},
			{Offset: 2, Value: []byte("not json")},
		},
	}
	e.listener.Reader = reader
	e.store.failures.Store(2)

	ctx, cancel := context.WithCancel(e.ctx)
	done := make(chan struct{})
	go func() {
		e.listener.Start(ctx)
		close(done)
	}()

	// WHEN: Both messages have been committed
	require.Eventually(t, func() bool { return reader.commits() == 2 }, 2*time.Second, 5*time.Millisecond)
	cancel()

	// THEN: The loop exits and the order was applied exactly once
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("listener did not stop after cancel")
	}
	assert.Equal(t, "9", e.stock(e.milk))
}

func TestStart_CancelDuringRetryLeavesOffsetUncommitted(t *testing.T) {
	e := newEnv(t)
	reader := &fakeReader{queue: []kafka.Message{{Offset: 1, Value: e.event("ord-7", line(e.milk, "1"))}}}
	e.listener.Reader = reader
	e.store.failures.Store(1 << 30)

	ctx, cancel := context.WithTimeout(e.ctx, 50*time.Millisecond)
	defer cancel()
	e.listener.Start(ctx)

	assert.Zero(t, reader.commits())
	assert.Equal(t, "10", e.stock(e.milk))
}
