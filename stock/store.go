/*
store.go - Persistence interface for outlets, items, movements and snapshots

PURPOSE:
  Defines the boundary between the engine and the database. Reads are
  available directly on the Store; every write happens inside WithTx so
  that the ledger append, the negative-stock check and the closing batch
  are each a single atomic unit.

KEY INTERFACES:
  Reader: Lookups and ledger scans (no side effects)
  Writer: Inserts plus the two narrow item mutations
  Tx:     Reader + Writer bound to one database transaction
  Store:  Reader + WithTx

APPEND-ONLY CONTRACT:
  - AppendMovement and InsertSnapshot are the only movement/snapshot writes
  - There is no UpdateMovement, DeleteMovement or UpdateSnapshot
  - UpdateItem never touches the opening checkpoint
  - AdvanceCheckpoint is called only by the closing engine

SERIALIZATION:
  Implementations serialize WithTx callers. Within fn, reads observe every
  write committed before the transaction began plus the writes made by fn.
  If fn returns an error, nothing it wrote is visible afterwards.

IMPLEMENTATIONS:
  - store/sqlite/sqlite.go: sqlite via sqlx
  - stock/store/memory.go: in-memory for tests and dev

SEE ALSO:
  - ledger.go, closing.go: The transactional callers
*/
package stock

import (
	"context"
	"time"
)

// =============================================================================
// QUERIES
// =============================================================================

// MovementQuery selects movements. Zero-valued fields do not filter.
type MovementQuery struct {
	OutletID OutletID
	ItemID   ItemID

	// Recording-order window: AfterSeq < seq <= UpToSeq (UpToSeq 0 = no cap)
	AfterSeq int64
	UpToSeq  int64

	// Business-time window: From <= occurred_at < To
	From time.Time
	To   time.Time

	// Keyset position: strictly after (Cursor.OccurredAt, Cursor.Seq)
	Cursor *Cursor

	// Limit caps the result (0 = all). Results are ordered by
	// occurred_at ascending, then seq ascending.
	Limit int
}

type ItemFilter struct {
	IncludeRetired bool
}

// SnapshotQuery selects snapshots for an outlet. Zero dates do not filter.
type SnapshotQuery struct {
	OutletID OutletID
	ItemID   ItemID
	From     Date // inclusive
	To       Date // inclusive
	Limit    int  // most recent first when set
}

// =============================================================================
// STORE INTERFACES
// =============================================================================

type Reader interface {
	// GetOutlet returns nil, nil if the outlet does not exist.
	GetOutlet(ctx context.Context, id OutletID) (*Outlet, error)
	ListOutlets(ctx context.Context) ([]Outlet, error)

	// GetItem returns nil, nil if the item does not exist.
	GetItem(ctx context.Context, id ItemID) (*Item, error)
	ListItems(ctx context.Context, outletID OutletID, filter ItemFilter) ([]Item, error)

	// MovementByKey returns nil, nil if no movement carries the key.
	MovementByKey(ctx context.Context, idempotencyKey string) (*Movement, error)
	Movements(ctx context.Context, q MovementQuery) ([]Movement, error)

	// LastSeq is the highest movement seq written so far (0 if none).
	LastSeq(ctx context.Context) (int64, error)

	// GetDayClose returns nil, nil if (outlet, date) is still open.
	GetDayClose(ctx context.Context, outletID OutletID, date Date) (*DayClose, error)
	LatestDayClose(ctx context.Context, outletID OutletID) (*DayClose, error)

	// GetSnapshot returns nil, nil if none exists.
	GetSnapshot(ctx context.Context, outletID OutletID, itemID ItemID, date Date) (*Snapshot, error)
	Snapshots(ctx context.Context, q SnapshotQuery) ([]Snapshot, error)
}

type Writer interface {
	InsertOutlet(ctx context.Context, o Outlet) error
	InsertItem(ctx context.Context, item Item) error

	// UpdateItem persists identity fields and status only.
	UpdateItem(ctx context.Context, item Item) error

	// AdvanceCheckpoint moves the opening checkpoint. Closing engine only.
	// Fails if cp.Seq is behind the current checkpoint.
	AdvanceCheckpoint(ctx context.Context, itemID ItemID, cp Checkpoint) error

	// AppendMovement assigns m.Seq. Fails if the idempotency key exists.
	AppendMovement(ctx context.Context, m *Movement) error

	InsertSnapshot(ctx context.Context, s Snapshot) error
	InsertDayClose(ctx context.Context, c DayClose) error
}

type Tx interface {
	Reader
	Writer
}

type Store interface {
	Reader

	// WithTx executes fn within a transaction.
	// If fn returns error, transaction is rolled back.
	// If fn returns nil, transaction is committed.
	WithTx(ctx context.Context, fn func(tx Tx) error) error
}
