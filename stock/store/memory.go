// Package store provides Store implementations.
package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/warp/stock-ledger/stock"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu    sync.RWMutex
	state *memoryState
}

type snapshotKey struct {
	OutletID stock.OutletID
	ItemID   stock.ItemID
	Date     stock.Date
}

type dayKey struct {
	OutletID stock.OutletID
	Date     stock.Date
}

type memoryState struct {
	outlets     map[stock.OutletID]stock.Outlet
	items       map[stock.ItemID]stock.Item
	movements   []stock.Movement // seq order
	idempotency map[string]int   // key -> index into movements
	snapshots   map[snapshotKey]stock.Snapshot
	dayCloses   map[dayKey]stock.DayClose
	lastSeq     int64
}

func newMemoryState() *memoryState {
	return &memoryState{
		outlets:     make(map[stock.OutletID]stock.Outlet),
		items:       make(map[stock.ItemID]stock.Item),
		idempotency: make(map[string]int),
		snapshots:   make(map[snapshotKey]stock.Snapshot),
		dayCloses:   make(map[dayKey]stock.DayClose),
	}
}

func NewMemory() *Memory {
	return &Memory{state: newMemoryState()}
}

// WithTx executes fn within a transaction.
// For memory store, this is simulated with a snapshot + rollback on error.
func (m *Memory) WithTx(ctx context.Context, fn func(stock.Tx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	saved := m.state.clone()
	if err := fn(&txView{s: m.state}); err != nil {
		m.state = saved
		return err
	}
	return nil
}

func (s *memoryState) clone() *memoryState {
	c := &memoryState{
		outlets:     make(map[stock.OutletID]stock.Outlet, len(s.outlets)),
		items:       make(map[stock.ItemID]stock.Item, len(s.items)),
		movements:   append([]stock.Movement{}, s.movements...),
		idempotency: make(map[string]int, len(s.idempotency)),
		snapshots:   make(map[snapshotKey]stock.Snapshot, len(s.snapshots)),
		dayCloses:   make(map[dayKey]stock.DayClose, len(s.dayCloses)),
		lastSeq:     s.lastSeq,
	}
	for k, v := range s.outlets {
		c.outlets[k] = v
	}
	for k, v := range s.items {
		c.items[k] = v
	}
	for k, v := range s.idempotency {
		c.idempotency[k] = v
	}
	for k, v := range s.snapshots {
		c.snapshots[k] = v
	}
	for k, v := range s.dayCloses {
		c.dayCloses[k] = v
	}
	return c
}

// =============================================================================
// READS (outside a transaction)
// =============================================================================

func (m *Memory) GetOutlet(_ context.Context, id stock.OutletID) (*stock.Outlet, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.getOutlet(id), nil
}

func (m *Memory) ListOutlets(_ context.Context) ([]stock.Outlet, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.listOutlets(), nil
}

func (m *Memory) GetItem(_ context.Context, id stock.ItemID) (*stock.Item, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.getItem(id), nil
}

func (m *Memory) ListItems(_ context.Context, outletID stock.OutletID, f stock.ItemFilter) ([]stock.Item, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.listItems(outletID, f), nil
}

func (m *Memory) MovementByKey(_ context.Context, key string) (*stock.Movement, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.movementByKey(key), nil
}

func (m *Memory) Movements(_ context.Context, q stock.MovementQuery) ([]stock.Movement, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.queryMovements(q), nil
}

func (m *Memory) LastSeq(_ context.Context) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.lastSeq, nil
}

func (m *Memory) GetDayClose(_ context.Context, outletID stock.OutletID, date stock.Date) (*stock.DayClose, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.getDayClose(outletID, date), nil
}

func (m *Memory) LatestDayClose(_ context.Context, outletID stock.OutletID) (*stock.DayClose, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.latestDayClose(outletID), nil
}

func (m *Memory) GetSnapshot(_ context.Context, outletID stock.OutletID, itemID stock.ItemID, date stock.Date) (*stock.Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.getSnapshot(outletID, itemID, date), nil
}

func (m *Memory) Snapshots(_ context.Context, q stock.SnapshotQuery) ([]stock.Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.querySnapshots(q), nil
}

// =============================================================================
// TRANSACTIONAL VIEW
// =============================================================================

// txView runs with the parent write lock held.
type txView struct {
	s *memoryState
}

func (tv *txView) GetOutlet(_ context.Context, id stock.OutletID) (*stock.Outlet, error) {
	return tv.s.getOutlet(id), nil
}

func (tv *txView) ListOutlets(_ context.Context) ([]stock.Outlet, error) {
	return tv.s.listOutlets(), nil
}

func (tv *txView) GetItem(_ context.Context, id stock.ItemID) (*stock.Item, error) {
	return tv.s.getItem(id), nil
}

func (tv *txView) ListItems(_ context.Context, outletID stock.OutletID, f stock.ItemFilter) ([]stock.Item, error) {
	return tv.s.listItems(outletID, f), nil
}

func (tv *txView) MovementByKey(_ context.Context, key string) (*stock.Movement, error) {
	return tv.s.movementByKey(key), nil
}

func (tv *txView) Movements(_ context.Context, q stock.MovementQuery) ([]stock.Movement, error) {
	return tv.s.queryMovements(q), nil
}

func (tv *txView) LastSeq(_ context.Context) (int64, error) {
	return tv.s.lastSeq, nil
}

func (tv *txView) GetDayClose(_ context.Context, outletID stock.OutletID, date stock.Date) (*stock.DayClose, error) {
	return tv.s.getDayClose(outletID, date), nil
}

func (tv *txView) LatestDayClose(_ context.Context, outletID stock.OutletID) (*stock.DayClose, error) {
	return tv.s.latestDayClose(outletID), nil
}

func (tv *txView) GetSnapshot(_ context.Context, outletID stock.OutletID, itemID stock.ItemID, date stock.Date) (*stock.Snapshot, error) {
	return tv.s.getSnapshot(outletID, itemID, date), nil
}

func (tv *txView) Snapshots(_ context.Context, q stock.SnapshotQuery) ([]stock.Snapshot, error) {
	return tv.s.querySnapshots(q), nil
}

func (tv *txView) InsertOutlet(_ context.Context, o stock.Outlet) error {
	if _, ok := tv.s.outlets[o.ID]; ok {
		return fmt.Errorf("insert outlet %s: %w", o.ID, stock.ErrConflict)
	}
	tv.s.outlets[o.ID] = o
	return nil
}

func (tv *txView) InsertItem(_ context.Context, item stock.Item) error {
	if _, ok := tv.s.items[item.ID]; ok {
		return fmt.Errorf("insert item %s: %w", item.ID, stock.ErrConflict)
	}
	tv.s.items[item.ID] = item
	return nil
}

// UpdateItem keeps the stored checkpoint, whatever the caller passes.
func (tv *txView) UpdateItem(_ context.Context, item stock.Item) error {
	cur, ok := tv.s.items[item.ID]
	if !ok {
		return &stock.NotFoundError{Kind: "item", ID: string(item.ID)}
	}
	cur.Name = item.Name
	cur.Category = item.Category
	cur.Unit = item.Unit
	cur.Thresholds = item.Thresholds
	cur.Status = item.Status
	cur.UpdatedAt = item.UpdatedAt
	tv.s.items[item.ID] = cur
	return nil
}

func (tv *txView) AdvanceCheckpoint(_ context.Context, itemID stock.ItemID, cp stock.Checkpoint) error {
	cur, ok := tv.s.items[itemID]
	if !ok {
		return &stock.NotFoundError{Kind: "item", ID: string(itemID)}
	}
	if cp.Seq < cur.CheckpointSeq {
		return fmt.Errorf("advance checkpoint of %s: seq %d behind %d", itemID, cp.Seq, cur.CheckpointSeq)
	}
	cur.OpeningStock = cp.Opening
	cur.CheckpointSeq = cp.Seq
	cur.LastClosedDate = cp.Date
	cur.CheckpointAt = cp.Boundary
	tv.s.items[itemID] = cur
	return nil
}

func (tv *txView) AppendMovement(_ context.Context, mv *stock.Movement) error {
	if mv.IdempotencyKey != "" {
		if _, ok := tv.s.idempotency[mv.IdempotencyKey]; ok {
			return fmt.Errorf("append movement: duplicate idempotency key %q: %w", mv.IdempotencyKey, stock.ErrConflict)
		}
	}
	tv.s.lastSeq++
	mv.Seq = tv.s.lastSeq
	tv.s.movements = append(tv.s.movements, *mv)
	if mv.IdempotencyKey != "" {
		tv.s.idempotency[mv.IdempotencyKey] = len(tv.s.movements) - 1
	}
	return nil
}

func (tv *txView) InsertSnapshot(_ context.Context, snap stock.Snapshot) error {
	k := snapshotKey{OutletID: snap.OutletID, ItemID: snap.ItemID, Date: snap.Date}
	if _, ok := tv.s.snapshots[k]; ok {
		return &stock.AlreadyClosedError{OutletID: snap.OutletID, Date: snap.Date, ItemID: snap.ItemID}
	}
	tv.s.snapshots[k] = snap
	return nil
}

func (tv *txView) InsertDayClose(_ context.Context, c stock.DayClose) error {
	k := dayKey{OutletID: c.OutletID, Date: c.Date}
	if _, ok := tv.s.dayCloses[k]; ok {
		return &stock.AlreadyClosedError{OutletID: c.OutletID, Date: c.Date}
	}
	tv.s.dayCloses[k] = c
	return nil
}

// =============================================================================
// QUERY HELPERS
// =============================================================================

func (s *memoryState) getOutlet(id stock.OutletID) *stock.Outlet {
	o, ok := s.outlets[id]
	if !ok {
		return nil
	}
	return &o
}

func (s *memoryState) listOutlets() []stock.Outlet {
	result := make([]stock.Outlet, 0, len(s.outlets))
	for _, o := range s.outlets {
		result = append(result, o)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result
}

func (s *memoryState) getItem(id stock.ItemID) *stock.Item {
	it, ok := s.items[id]
	if !ok {
		return nil
	}
	return &it
}

func (s *memoryState) listItems(outletID stock.OutletID, f stock.ItemFilter) []stock.Item {
	result := []stock.Item{}
	for _, it := range s.items {
		if it.OutletID != outletID {
			continue
		}
		if !f.IncludeRetired && !it.IsActive() {
			continue
		}
		result = append(result, it)
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Name == result[j].Name {
			return result[i].ID < result[j].ID
		}
		return result[i].Name < result[j].Name
	})
	return result
}

func (s *memoryState) movementByKey(key string) *stock.Movement {
	i, ok := s.idempotency[key]
	if !ok {
		return nil
	}
	mv := s.movements[i]
	return &mv
}

func (s *memoryState) queryMovements(q stock.MovementQuery) []stock.Movement {
	result := []stock.Movement{}
	for _, mv := range s.movements {
		if q.OutletID != "" && mv.OutletID != q.OutletID {
			continue
		}
		if q.ItemID != "" && mv.ItemID != q.ItemID {
			continue
		}
		if mv.Seq <= q.AfterSeq {
			continue
		}
		if q.UpToSeq > 0 && mv.Seq > q.UpToSeq {
			continue
		}
		if !q.From.IsZero() && mv.OccurredAt.Before(q.From) {
			continue
		}
		if !q.To.IsZero() && !mv.OccurredAt.Before(q.To) {
			continue
		}
		if q.Cursor != nil && !q.Cursor.After(mv) {
			continue
		}
		result = append(result, mv)
	}
	sort.SliceStable(result, func(i, j int) bool {
		if result[i].OccurredAt.Equal(result[j].OccurredAt) {
			return result[i].Seq < result[j].Seq
		}
		return result[i].OccurredAt.Before(result[j].OccurredAt)
	})
	if q.Limit > 0 && len(result) > q.Limit {
		result = result[:q.Limit]
	}
	return result
}

func (s *memoryState) getDayClose(outletID stock.OutletID, date stock.Date) *stock.DayClose {
	c, ok := s.dayCloses[dayKey{OutletID: outletID, Date: date}]
	if !ok {
		return nil
	}
	return &c
}

func (s *memoryState) latestDayClose(outletID stock.OutletID) *stock.DayClose {
	var latest *stock.DayClose
	for k, c := range s.dayCloses {
		if k.OutletID != outletID {
			continue
		}
		if latest == nil || c.Date.After(latest.Date) {
			c := c
			latest = &c
		}
	}
	return latest
}

func (s *memoryState) getSnapshot(outletID stock.OutletID, itemID stock.ItemID, date stock.Date) *stock.Snapshot {
	snap, ok := s.snapshots[snapshotKey{OutletID: outletID, ItemID: itemID, Date: date}]
	if !ok {
		return nil
	}
	return &snap
}

// querySnapshots orders by date ascending, or most recent first when a
// limit is set.
func (s *memoryState) querySnapshots(q stock.SnapshotQuery) []stock.Snapshot {
	result := []stock.Snapshot{}
	for k, snap := range s.snapshots {
		if k.OutletID != q.OutletID {
			continue
		}
		if q.ItemID != "" && k.ItemID != q.ItemID {
			continue
		}
		if !q.From.IsZero() && k.Date.Before(q.From) {
			continue
		}
		if !q.To.IsZero() && k.Date.After(q.To) {
			continue
		}
		result = append(result, snap)
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Date.Equal(result[j].Date) {
			return result[i].ItemName < result[j].ItemName
		}
		return result[i].Date.Before(result[j].Date)
	})
	if q.Limit > 0 {
		sort.SliceStable(result, func(i, j int) bool { return result[i].Date.After(result[j].Date) })
		if len(result) > q.Limit {
			result = result[:q.Limit]
		}
	}
	return result
}
