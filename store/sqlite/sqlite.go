/*
Package sqlite provides a SQLite-backed implementation of stock.Store.

PURPOSE:
  Durable storage for outlets, items, the movement ledger, snapshots and
  day closes. Queries go through sqlx so rows map onto tagged structs.
  In production, the same patterns apply to PostgreSQL - only minor SQL
  dialect differences.

APPEND-ONLY ENFORCEMENT:
  - No UPDATE or DELETE statements on movements or snapshots
  - Triggers abort any UPDATE/DELETE that reaches those tables anyway
  - Corrections are compensating movements only

KEY TABLES:
  outlets:     Locations and their IANA timezone
  items:       Identity, thresholds and the opening checkpoint
  movements:   Immutable ledger, seq = recording order
  snapshots:   Locked end-of-day records, unique per (outlet, item, date)
  day_closes:  One row per closed (outlet, date)

ENCODING:
  decimals  -> TEXT (exact, decimal.Decimal.String)
  instants  -> INTEGER unix nanoseconds, UTC
  dates     -> TEXT YYYY-MM-DD (sorts lexicographically)

CONCURRENCY:
  One open connection, BEGIN IMMEDIATE transactions and an in-process
  mutex around WithTx. Writers are fully serialized, which is what makes
  the negative-stock check and the closing cutover race-free. Reads inside
  fn go through the same transaction.

USAGE:
  store, err := sqlite.New("./data/stock.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  engine := stock.NewEngine(store, stock.DefaultOptions())

MIGRATION:
  Schema is auto-migrated on New(). For production, use a proper
  migration tool (golang-migrate, goose) with versioned migrations.

SEE ALSO:
  - stock/store.go: Interface definitions
  - stock/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/warp/stock-ledger/stock"
)

// Store implements stock.Store using SQLite.
type Store struct {
	reader
	db *sqlx.DB
	mu sync.Mutex
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sqlx.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_txlock=immediate&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// A single connection serializes writers and keeps ":memory:" databases
	// alive across calls.
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(0)

	store := &Store{reader: reader{q: db}, db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping reports whether the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS outlets (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		timezone TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS items (
		id TEXT PRIMARY KEY,
		outlet_id TEXT NOT NULL REFERENCES outlets(id),
		name TEXT NOT NULL,
		category TEXT NOT NULL DEFAULT '',
		unit TEXT NOT NULL,
		low_stock TEXT NOT NULL DEFAULT '0',
		max_stock TEXT NOT NULL DEFAULT '0',
		status TEXT NOT NULL,
		opening_stock TEXT NOT NULL DEFAULT '0',
		checkpoint_seq INTEGER NOT NULL DEFAULT 0,
		last_closed_date TEXT NOT NULL DEFAULT '',
		checkpoint_at INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_items_outlet ON items(outlet_id, name);

	-- Movements (append-only ledger)
	CREATE TABLE IF NOT EXISTS movements (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		item_id TEXT NOT NULL REFERENCES items(id),
		outlet_id TEXT NOT NULL REFERENCES outlets(id),
		direction TEXT NOT NULL CHECK (direction IN ('incoming', 'outgoing')),
		amount TEXT NOT NULL,
		unit TEXT NOT NULL,
		reason TEXT NOT NULL,
		note TEXT NOT NULL DEFAULT '',
		idempotency_key TEXT UNIQUE,
		recorded_by TEXT NOT NULL DEFAULT '',
		occurred_at INTEGER NOT NULL,
		recorded_at INTEGER NOT NULL
	);

	-- Hot path: live projection (item, seq > checkpoint)
	CREATE INDEX IF NOT EXISTS idx_movements_item_seq ON movements(item_id, seq);
	-- History and today's metrics
	CREATE INDEX IF NOT EXISTS idx_movements_outlet_occurred ON movements(outlet_id, occurred_at, seq);

	CREATE TRIGGER IF NOT EXISTS movements_no_update
	BEFORE UPDATE ON movements
	BEGIN
		SELECT RAISE(ABORT, 'movements are append-only');
	END;

	CREATE TRIGGER IF NOT EXISTS movements_no_delete
	BEFORE DELETE ON movements
	BEGIN
		SELECT RAISE(ABORT, 'movements are append-only');
	END;

	CREATE TABLE IF NOT EXISTS snapshots (
		id TEXT PRIMARY KEY,
		outlet_id TEXT NOT NULL REFERENCES outlets(id),
		item_id TEXT NOT NULL REFERENCES items(id),
		item_name TEXT NOT NULL,
		business_date TEXT NOT NULL,
		opening TEXT NOT NULL,
		incoming TEXT NOT NULL,
		used TEXT NOT NULL,
		wastage TEXT NOT NULL,
		closing TEXT NOT NULL,
		unit TEXT NOT NULL,
		locked INTEGER NOT NULL DEFAULT 1,
		cutover_seq INTEGER NOT NULL,
		closed_at INTEGER NOT NULL,
		UNIQUE (outlet_id, item_id, business_date)
	);

	CREATE INDEX IF NOT EXISTS idx_snapshots_outlet_date ON snapshots(outlet_id, business_date);

	CREATE TRIGGER IF NOT EXISTS snapshots_no_update
	BEFORE UPDATE ON snapshots
	BEGIN
		SELECT RAISE(ABORT, 'snapshots are immutable');
	END;

	CREATE TRIGGER IF NOT EXISTS snapshots_no_delete
	BEFORE DELETE ON snapshots
	BEGIN
		SELECT RAISE(ABORT, 'snapshots are immutable');
	END;

	CREATE TABLE IF NOT EXISTS day_closes (
		outlet_id TEXT NOT NULL REFERENCES outlets(id),
		business_date TEXT NOT NULL,
		cutover_seq INTEGER NOT NULL,
		item_count INTEGER NOT NULL,
		closed_at INTEGER NOT NULL,
		closed_by TEXT NOT NULL DEFAULT '',
		PRIMARY KEY (outlet_id, business_date)
	);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// TRANSACTIONAL STORE
// =============================================================================

// WithTx executes a function within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(tx stock.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&txStore{reader: reader{q: sqlTx}, writer: writer{q: sqlTx}}); err != nil {
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

type txStore struct {
	reader
	writer
}

// =============================================================================
// ROWS
// =============================================================================

type outletRow struct {
	ID        string `db:"id"`
	Name      string `db:"name"`
	Timezone  string `db:"timezone"`
	CreatedAt int64  `db:"created_at"`
}

func (r outletRow) toOutlet() stock.Outlet {
	return stock.Outlet{
		ID:        stock.OutletID(r.ID),
		Name:      r.Name,
		Timezone:  r.Timezone,
		CreatedAt: fromNanos(r.CreatedAt),
	}
}

type itemRow struct {
	ID             string `db:"id"`
	OutletID       string `db:"outlet_id"`
	Name           string `db:"name"`
	Category       string `db:"category"`
	Unit           string `db:"unit"`
	LowStock       string `db:"low_stock"`
	MaxStock       string `db:"max_stock"`
	Status         string `db:"status"`
	OpeningStock   string `db:"opening_stock"`
	CheckpointSeq  int64  `db:"checkpoint_seq"`
	LastClosedDate string `db:"last_closed_date"`
	CheckpointAt   int64  `db:"checkpoint_at"`
	CreatedAt      int64  `db:"created_at"`
	UpdatedAt      int64  `db:"updated_at"`
}

func (r itemRow) toItem() (stock.Item, error) {
	var p parser
	item := stock.Item{
		ID:       stock.ItemID(r.ID),
		OutletID: stock.OutletID(r.OutletID),
		Name:     r.Name,
		Category: r.Category,
		Unit:     stock.Unit(r.Unit),
		Thresholds: stock.Thresholds{
			LowStock: p.decimal(r.LowStock),
			MaxStock: p.decimal(r.MaxStock),
		},
		Status:         stock.ItemStatus(r.Status),
		OpeningStock:   p.decimal(r.OpeningStock),
		CheckpointSeq:  r.CheckpointSeq,
		LastClosedDate: p.date(r.LastClosedDate),
		CheckpointAt:   fromOptionalNanos(r.CheckpointAt),
		CreatedAt:      fromNanos(r.CreatedAt),
		UpdatedAt:      fromNanos(r.UpdatedAt),
	}
	if p.err != nil {
		return stock.Item{}, fmt.Errorf("item %s: %w", r.ID, p.err)
	}
	return item, nil
}

type movementRow struct {
	Seq            int64          `db:"seq"`
	ID             string         `db:"id"`
	ItemID         string         `db:"item_id"`
	OutletID       string         `db:"outlet_id"`
	Direction      string         `db:"direction"`
	Amount         string         `db:"amount"`
	Unit           string         `db:"unit"`
	Reason         string         `db:"reason"`
	Note           string         `db:"note"`
	IdempotencyKey sql.NullString `db:"idempotency_key"`
	RecordedBy     string         `db:"recorded_by"`
	OccurredAt     int64          `db:"occurred_at"`
	RecordedAt     int64          `db:"recorded_at"`
}

func (r movementRow) toMovement() (stock.Movement, error) {
	var p parser
	m := stock.Movement{
		ID:             stock.MovementID(r.ID),
		Seq:            r.Seq,
		ItemID:         stock.ItemID(r.ItemID),
		OutletID:       stock.OutletID(r.OutletID),
		Direction:      stock.Direction(r.Direction),
		Amount:         p.decimal(r.Amount),
		Unit:           stock.Unit(r.Unit),
		Reason:         stock.Reason(r.Reason),
		Note:           r.Note,
		IdempotencyKey: r.IdempotencyKey.String,
		RecordedBy:     r.RecordedBy,
		OccurredAt:     fromNanos(r.OccurredAt),
		RecordedAt:     fromNanos(r.RecordedAt),
	}
	if p.err != nil {
		return stock.Movement{}, fmt.Errorf("movement %d: %w", r.Seq, p.err)
	}
	return m, nil
}

type snapshotRow struct {
	ID           string `db:"id"`
	OutletID     string `db:"outlet_id"`
	ItemID       string `db:"item_id"`
	ItemName     string `db:"item_name"`
	BusinessDate string `db:"business_date"`
	Opening      string `db:"opening"`
	Incoming     string `db:"incoming"`
	Used         string `db:"used"`
	Wastage      string `db:"wastage"`
	Closing      string `db:"closing"`
	Unit         string `db:"unit"`
	Locked       bool   `db:"locked"`
	CutoverSeq   int64  `db:"cutover_seq"`
	ClosedAt     int64  `db:"closed_at"`
}

func (r snapshotRow) toSnapshot() (stock.Snapshot, error) {
	var p parser
	s := stock.Snapshot{
		ID:         r.ID,
		OutletID:   stock.OutletID(r.OutletID),
		ItemID:     stock.ItemID(r.ItemID),
		ItemName:   r.ItemName,
		Date:       p.date(r.BusinessDate),
		Opening:    p.decimal(r.Opening),
		Incoming:   p.decimal(r.Incoming),
		Used:       p.decimal(r.Used),
		Wastage:    p.decimal(r.Wastage),
		Closing:    p.decimal(r.Closing),
		Unit:       stock.Unit(r.Unit),
		Locked:     r.Locked,
		CutoverSeq: r.CutoverSeq,
		ClosedAt:   fromNanos(r.ClosedAt),
	}
	if p.err != nil {
		return stock.Snapshot{}, fmt.Errorf("snapshot %s: %w", r.ID, p.err)
	}
	return s, nil
}

type dayCloseRow struct {
	OutletID     string `db:"outlet_id"`
	BusinessDate string `db:"business_date"`
	CutoverSeq   int64  `db:"cutover_seq"`
	ItemCount    int    `db:"item_count"`
	ClosedAt     int64  `db:"closed_at"`
	ClosedBy     string `db:"closed_by"`
}

func (r dayCloseRow) toDayClose() (stock.DayClose, error) {
	var p parser
	c := stock.DayClose{
		OutletID:   stock.OutletID(r.OutletID),
		Date:       p.date(r.BusinessDate),
		CutoverSeq: r.CutoverSeq,
		ItemCount:  r.ItemCount,
		ClosedAt:   fromNanos(r.ClosedAt),
		ClosedBy:   r.ClosedBy,
	}
	if p.err != nil {
		return stock.DayClose{}, fmt.Errorf("day close %s/%s: %w", r.OutletID, r.BusinessDate, p.err)
	}
	return c, nil
}

// =============================================================================
// READER
// =============================================================================

// reader runs queries against the database or an open transaction.
type reader struct {
	q sqlx.ExtContext
}

const itemColumns = `id, outlet_id, name, category, unit, low_stock, max_stock, status,
	opening_stock, checkpoint_seq, last_closed_date, checkpoint_at, created_at, updated_at`

const movementColumns = `seq, id, item_id, outlet_id, direction, amount, unit, reason,
	note, idempotency_key, recorded_by, occurred_at, recorded_at`

const snapshotColumns = `id, outlet_id, item_id, item_name, business_date, opening, incoming,
	used, wastage, closing, unit, locked, cutover_seq, closed_at`

const dayCloseColumns = `outlet_id, business_date, cutover_seq, item_count, closed_at, closed_by`

func (r reader) GetOutlet(ctx context.Context, id stock.OutletID) (*stock.Outlet, error) {
	var row outletRow
	err := sqlx.GetContext(ctx, r.q, &row, `SELECT id, name, timezone, created_at FROM outlets WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get outlet: %w", err)
	}
	o := row.toOutlet()
	return &o, nil
}

func (r reader) ListOutlets(ctx context.Context) ([]stock.Outlet, error) {
	var rows []outletRow
	if err := sqlx.SelectContext(ctx, r.q, &rows, `SELECT id, name, timezone, created_at FROM outlets ORDER BY name, id`); err != nil {
		return nil, fmt.Errorf("failed to list outlets: %w", err)
	}
	result := make([]stock.Outlet, 0, len(rows))
	for _, row := range rows {
		result = append(result, row.toOutlet())
	}
	return result, nil
}

func (r reader) GetItem(ctx context.Context, id stock.ItemID) (*stock.Item, error) {
	var row itemRow
	err := sqlx.GetContext(ctx, r.q, &row, `SELECT `+itemColumns+` FROM items WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get item: %w", err)
	}
	item, err := row.toItem()
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (r reader) ListItems(ctx context.Context, outletID stock.OutletID, f stock.ItemFilter) ([]stock.Item, error) {
	query := `SELECT ` + itemColumns + ` FROM items WHERE outlet_id = ?`
	args := []any{outletID}
	if !f.IncludeRetired {
		query += ` AND status = ?`
		args = append(args, stock.ItemActive)
	}
	query += ` ORDER BY name, id`

	var rows []itemRow
	if err := sqlx.SelectContext(ctx, r.q, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list items: %w", err)
	}
	result := make([]stock.Item, 0, len(rows))
	for _, row := range rows {
		item, err := row.toItem()
		if err != nil {
			return nil, err
		}
		result = append(result, item)
	}
	return result, nil
}

func (r reader) MovementByKey(ctx context.Context, key string) (*stock.Movement, error) {
	var row movementRow
	err := sqlx.GetContext(ctx, r.q, &row, `SELECT `+movementColumns+` FROM movements WHERE idempotency_key = ?`, key)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get movement by key: %w", err)
	}
	m, err := row.toMovement()
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (r reader) Movements(ctx context.Context, q stock.MovementQuery) ([]stock.Movement, error) {
	var (
		where []string
		args  []any
	)
	if q.OutletID != "" {
		where = append(where, "outlet_id = ?")
		args = append(args, q.OutletID)
	}
	if q.ItemID != "" {
		where = append(where, "item_id = ?")
		args = append(args, q.ItemID)
	}
	if q.AfterSeq > 0 {
		where = append(where, "seq > ?")
		args = append(args, q.AfterSeq)
	}
	if q.UpToSeq > 0 {
		where = append(where, "seq <= ?")
		args = append(args, q.UpToSeq)
	}
	if !q.From.IsZero() {
		where = append(where, "occurred_at >= ?")
		args = append(args, q.From.UnixNano())
	}
	if !q.To.IsZero() {
		where = append(where, "occurred_at < ?")
		args = append(args, q.To.UnixNano())
	}
	if q.Cursor != nil {
		at := q.Cursor.OccurredAt.UnixNano()
		where = append(where, "(occurred_at > ? OR (occurred_at = ? AND seq > ?))")
		args = append(args, at, at, q.Cursor.Seq)
	}

	query := `SELECT ` + movementColumns + ` FROM movements`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY occurred_at ASC, seq ASC`
	if q.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, q.Limit)
	}

	var rows []movementRow
	if err := sqlx.SelectContext(ctx, r.q, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to query movements: %w", err)
	}
	result := make([]stock.Movement, 0, len(rows))
	for _, row := range rows {
		m, err := row.toMovement()
		if err != nil {
			return nil, err
		}
		result = append(result, m)
	}
	return result, nil
}

func (r reader) LastSeq(ctx context.Context) (int64, error) {
	var seq int64
	if err := sqlx.GetContext(ctx, r.q, &seq, `SELECT COALESCE(MAX(seq), 0) FROM movements`); err != nil {
		return 0, fmt.Errorf("failed to read last seq: %w", err)
	}
	return seq, nil
}

func (r reader) GetDayClose(ctx context.Context, outletID stock.OutletID, date stock.Date) (*stock.DayClose, error) {
	return r.dayClose(ctx, `SELECT `+dayCloseColumns+` FROM day_closes WHERE outlet_id = ? AND business_date = ?`, outletID, date.String())
}

func (r reader) LatestDayClose(ctx context.Context, outletID stock.OutletID) (*stock.DayClose, error) {
	return r.dayClose(ctx, `SELECT `+dayCloseColumns+` FROM day_closes WHERE outlet_id = ? ORDER BY business_date DESC LIMIT 1`, outletID)
}

func (r reader) dayClose(ctx context.Context, query string, args ...any) (*stock.DayClose, error) {
	var row dayCloseRow
	err := sqlx.GetContext(ctx, r.q, &row, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get day close: %w", err)
	}
	c, err := row.toDayClose()
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (r reader) GetSnapshot(ctx context.Context, outletID stock.OutletID, itemID stock.ItemID, date stock.Date) (*stock.Snapshot, error) {
	var row snapshotRow
	err := sqlx.GetContext(ctx, r.q, &row,
		`SELECT `+snapshotColumns+` FROM snapshots WHERE outlet_id = ? AND item_id = ? AND business_date = ?`,
		outletID, itemID, date.String())
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get snapshot: %w", err)
	}
	s, err := row.toSnapshot()
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (r reader) Snapshots(ctx context.Context, q stock.SnapshotQuery) ([]stock.Snapshot, error) {
	query := `SELECT ` + snapshotColumns + ` FROM snapshots WHERE outlet_id = ?`
	args := []any{q.OutletID}
	if q.ItemID != "" {
		query += ` AND item_id = ?`
		args = append(args, q.ItemID)
	}
	if !q.From.IsZero() {
		query += ` AND business_date >= ?`
		args = append(args, q.From.String())
	}
	if !q.To.IsZero() {
		query += ` AND business_date <= ?`
		args = append(args, q.To.String())
	}
	if q.Limit > 0 {
		query += ` ORDER BY business_date DESC, item_name ASC LIMIT ?`
		args = append(args, q.Limit)
	} else {
		query += ` ORDER BY business_date ASC, item_name ASC`
	}

	var rows []snapshotRow
	if err := sqlx.SelectContext(ctx, r.q, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to query snapshots: %w", err)
	}
	result := make([]stock.Snapshot, 0, len(rows))
	for _, row := range rows {
		s, err := row.toSnapshot()
		if err != nil {
			return nil, err
		}
		result = append(result, s)
	}
	return result, nil
}

// =============================================================================
// WRITER (transaction only)
// =============================================================================

type writer struct {
	q sqlx.ExtContext
}

func (w writer) InsertOutlet(ctx context.Context, o stock.Outlet) error {
	_, err := w.q.ExecContext(ctx,
		`INSERT INTO outlets (id, name, timezone, created_at) VALUES (?, ?, ?, ?)`,
		o.ID, o.Name, o.Timezone, toNanos(o.CreatedAt))
	if isUniqueConstraintError(err) {
		return &stock.ConflictError{Reason: "outlet " + string(o.ID) + " already exists"}
	}
	if err != nil {
		return fmt.Errorf("failed to insert outlet: %w", err)
	}
	return nil
}

func (w writer) InsertItem(ctx context.Context, item stock.Item) error {
	_, err := w.q.ExecContext(ctx, `
		INSERT INTO items (`+itemColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		item.ID, item.OutletID, item.Name, item.Category, item.Unit,
		item.Thresholds.LowStock.String(), item.Thresholds.MaxStock.String(), item.Status,
		item.OpeningStock.String(), item.CheckpointSeq, item.LastClosedDate.String(),
		toOptionalNanos(item.CheckpointAt), toNanos(item.CreatedAt), toNanos(item.UpdatedAt))
	if isUniqueConstraintError(err) {
		return &stock.ConflictError{Reason: "item " + string(item.ID) + " already exists"}
	}
	if err != nil {
		return fmt.Errorf("failed to insert item: %w", err)
	}
	return nil
}

// UpdateItem never writes the checkpoint columns.
func (w writer) UpdateItem(ctx context.Context, item stock.Item) error {
	res, err := w.q.ExecContext(ctx, `
		UPDATE items
		SET name = ?, category = ?, unit = ?, low_stock = ?, max_stock = ?, status = ?, updated_at = ?
		WHERE id = ?`,
		item.Name, item.Category, item.Unit,
		item.Thresholds.LowStock.String(), item.Thresholds.MaxStock.String(),
		item.Status, toNanos(item.UpdatedAt), item.ID)
	if err != nil {
		return fmt.Errorf("failed to update item: %w", err)
	}
	return requireRow(res, "item", string(item.ID))
}

func (w writer) AdvanceCheckpoint(ctx context.Context, itemID stock.ItemID, cp stock.Checkpoint) error {
	res, err := w.q.ExecContext(ctx, `
		UPDATE items
		SET opening_stock = ?, checkpoint_seq = ?, last_closed_date = ?, checkpoint_at = ?
		WHERE id = ? AND checkpoint_seq <= ?`,
		cp.Opening.String(), cp.Seq, cp.Date.String(), toOptionalNanos(cp.Boundary), itemID, cp.Seq)
	if err != nil {
		return fmt.Errorf("failed to advance checkpoint: %w", err)
	}
	return requireRow(res, "item", string(itemID))
}

func (w writer) AppendMovement(ctx context.Context, m *stock.Movement) error {
	res, err := w.q.ExecContext(ctx, `
		INSERT INTO movements
		(id, item_id, outlet_id, direction, amount, unit, reason, note, idempotency_key, recorded_by, occurred_at, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.ItemID, m.OutletID, m.Direction, m.Amount.String(), m.Unit, m.Reason,
		m.Note, nullString(m.IdempotencyKey), m.RecordedBy,
		toNanos(m.OccurredAt), toNanos(m.RecordedAt))
	if isUniqueConstraintError(err) {
		return fmt.Errorf("duplicate idempotency key %q: %w", m.IdempotencyKey, stock.ErrConflict)
	}
	if err != nil {
		return fmt.Errorf("failed to append movement: %w", err)
	}
	seq, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read movement seq: %w", err)
	}
	m.Seq = seq
	return nil
}

func (w writer) InsertSnapshot(ctx context.Context, s stock.Snapshot) error {
	_, err := w.q.ExecContext(ctx, `
		INSERT INTO snapshots (`+snapshotColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.ID, s.OutletID, s.ItemID, s.ItemName, s.Date.String(),
		s.Opening.String(), s.Incoming.String(), s.Used.String(), s.Wastage.String(), s.Closing.String(),
		s.Unit, s.Locked, s.CutoverSeq, toNanos(s.ClosedAt))
	if isUniqueConstraintError(err) {
		return &stock.AlreadyClosedError{OutletID: s.OutletID, Date: s.Date, ItemID: s.ItemID}
	}
	if err != nil {
		return fmt.Errorf("failed to insert snapshot: %w", err)
	}
	return nil
}

func (w writer) InsertDayClose(ctx context.Context, c stock.DayClose) error {
	_, err := w.q.ExecContext(ctx, `
		INSERT INTO day_closes (`+dayCloseColumns+`)
		VALUES (?, ?, ?, ?, ?, ?)`,
		c.OutletID, c.Date.String(), c.CutoverSeq, c.ItemCount, toNanos(c.ClosedAt), c.ClosedBy)
	if isUniqueConstraintError(err) {
		return &stock.AlreadyClosedError{OutletID: c.OutletID, Date: c.Date}
	}
	if err != nil {
		return fmt.Errorf("failed to insert day close: %w", err)
	}
	return nil
}

// Helper functions

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func toNanos(t time.Time) int64 { return t.UTC().UnixNano() }

func fromNanos(n int64) time.Time { return time.Unix(0, n).UTC() }

// toOptionalNanos stores the zero time as 0.
func toOptionalNanos(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return toNanos(t)
}

func fromOptionalNanos(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return fromNanos(n)
}

func isUniqueConstraintError(err error) bool {
	var se sqlite3.Error
	if !errors.As(err, &se) {
		return false
	}
	return se.ExtendedCode == sqlite3.ErrConstraintUnique || se.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
}

func requireRow(res sql.Result, kind, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return &stock.NotFoundError{Kind: kind, ID: id}
	}
	return nil
}

// parser collects the first decode error across several columns.
type parser struct {
	err error
}

func (p *parser) decimal(s string) decimal.Decimal {
	if s == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(s)
	if err != nil && p.err == nil {
		p.err = err
	}
	return d
}

func (p *parser) date(s string) stock.Date {
	if s == "" {
		return stock.Date{}
	}
	d, err := stock.ParseDate(s)
	if err != nil && p.err == nil {
		p.err = err
	}
	return d
}
