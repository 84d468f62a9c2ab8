/*
ledger.go - Append-only movement log

PURPOSE:
  The Ledger is the source of truth for stock. Every purchase receipt,
  order fulfillment, spoilage and count correction is one Movement.
  There is no quantity column that can drift out of sync.

CRITICAL INVARIANTS:
  1. APPEND-ONLY: No Update, No Delete. Corrections are compensating entries.
  2. POSITIVE AMOUNTS: Amount > 0 always, the direction carries the sign
  3. ATOMIC: The idempotency check, the negative-stock check and the append
     run in one store transaction, so concurrent writers cannot lose updates

NEGATIVE STOCK:
  By default an outgoing movement may push current stock below zero
  (spoilage discovered after the fact is real, and refusing to record it
  would hide it). With AllowNegative = false the movement is rejected with
  InsufficientStockError and nothing is written.

IDEMPOTENCY:
  A repeated IdempotencyKey with the same payload returns the movement that
  was stored the first time. The same key with a different payload is a
  ConflictError. The ledger never retries on its own.

EXAMPLE FLOW:
  1. Delivery of 20 liters milk:    incoming  20 purchase
  2. Lunch orders use 5 liters:     outgoing   5 order_consumption
  3. A carton goes sour:            outgoing   2 wastage
  current stock = opening + 20 - 5 - 2

SEE ALSO:
  - projection.go: Current stock computation
  - closing.go: Checkpoint advance at end of day
*/
package stock

import (
	"context"
	"encoding/base64"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	maxNoteLength       = 500
	maxFutureSkew       = 5 * time.Minute
	defaultHistoryLimit = 100
	maxHistoryLimit     = 1000
)

// =============================================================================
// LEDGER
// =============================================================================

type Ledger struct {
	Store         Store
	AllowNegative bool
	Now           func() time.Time
}

type RecordInput struct {
	ItemID         ItemID
	Direction      Direction
	Amount         decimal.Decimal
	Reason         Reason
	Note           string
	IdempotencyKey string
	RecordedBy     string

	// OccurredAt backdates the movement (late corrections). Zero means now.
	OccurredAt time.Time
}

// Record appends one movement. This is the ONLY write path for quantity.
func (l *Ledger) Record(ctx context.Context, in RecordInput) (*Movement, error) {
	now := nowFrom(l.Now)
	if err := validateRecord(in, now); err != nil {
		return nil, err
	}

	var recorded Movement
	err := l.Store.WithTx(ctx, func(tx Tx) error {
		if in.IdempotencyKey != "" {
			existing, err := tx.MovementByKey(ctx, in.IdempotencyKey)
			if err != nil {
				return err
			}
			if existing != nil {
				if !samePayload(*existing, in) {
					return ErrIdempotencyMismatch
				}
				recorded = *existing
				recorded.Replayed = true
				return nil
			}
		}

		item, err := requireItem(ctx, tx, in.ItemID)
		if err != nil {
			return err
		}
		if !item.IsActive() && in.Direction == Outgoing {
			return ErrItemRetired
		}

		if !l.AllowNegative && in.Direction == Outgoing {
			current, err := currentStock(ctx, tx, item)
			if err != nil {
				return err
			}
			if after := current.Sub(in.Amount); after.IsNegative() {
				return &InsufficientStockError{
					ItemID:    item.ID,
					Available: current,
					Requested: in.Amount,
					Shortfall: after.Neg(),
					Unit:      item.Unit,
				}
			}
		}

		m := Movement{
			ID:             MovementID(uuid.NewString()),
			ItemID:         item.ID,
			OutletID:       item.OutletID,
			Direction:      in.Direction,
			Amount:         in.Amount,
			Unit:           item.Unit,
			Reason:         in.Reason,
			Note:           strings.TrimSpace(in.Note),
			IdempotencyKey: in.IdempotencyKey,
			RecordedBy:     in.RecordedBy,
			OccurredAt:     in.OccurredAt.UTC(),
			RecordedAt:     now,
		}
		if in.OccurredAt.IsZero() {
			m.OccurredAt = now
		}
		if err := tx.AppendMovement(ctx, &m); err != nil {
			return err
		}
		recorded = m
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &recorded, nil
}

func validateRecord(in RecordInput, now time.Time) error {
	if in.ItemID == "" {
		return invalid("item_id", "item id is required")
	}
	if in.Direction != Incoming && in.Direction != Outgoing {
		return invalid("direction", "must be incoming or outgoing")
	}
	if !in.Amount.IsPositive() {
		return invalid("amount", "must be greater than zero")
	}
	if _, ok := reasonDirections[in.Reason]; !ok {
		return invalid("reason", "unknown reason %q", in.Reason)
	}
	if !in.Reason.Allows(in.Direction) {
		return invalid("reason", "%s cannot be recorded as %s", in.Reason, in.Direction)
	}
	if len(in.Note) > maxNoteLength {
		return invalid("note", "must be at most %d characters", maxNoteLength)
	}
	if !in.OccurredAt.IsZero() && in.OccurredAt.After(now.Add(maxFutureSkew)) {
		return invalid("occurred_at", "must not be in the future")
	}
	return nil
}

func samePayload(m Movement, in RecordInput) bool {
	return m.ItemID == in.ItemID &&
		m.Direction == in.Direction &&
		m.Amount.Equal(in.Amount) &&
		m.Reason == in.Reason
}

// =============================================================================
// HISTORY
// =============================================================================

type HistoryQuery struct {
	OutletID OutletID
	ItemID   ItemID
	From     time.Time // inclusive, zero = unbounded
	To       time.Time // exclusive, zero = unbounded
	Limit    int
	Cursor   string
}

type HistoryPage struct {
	Movements  []Movement
	NextCursor string // empty on the last page
}

// History returns movements ordered by occurred_at, then seq. Pages are
// keyset-based, so re-reading with the same cursor is restartable.
func (l *Ledger) History(ctx context.Context, q HistoryQuery) (*HistoryPage, error) {
	if q.OutletID == "" && q.ItemID == "" {
		return nil, invalid("outlet_id", "outlet id or item id is required")
	}
	if !q.From.IsZero() && !q.To.IsZero() && !q.From.Before(q.To) {
		return nil, invalid("to", "must be after from")
	}
	limit := q.Limit
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}

	var cursor *Cursor
	if q.Cursor != "" {
		c, err := ParseCursor(q.Cursor)
		if err != nil {
			return nil, err
		}
		cursor = &c
	}

	if q.OutletID != "" {
		if _, err := requireOutlet(ctx, l.Store, q.OutletID); err != nil {
			return nil, err
		}
	}
	if q.ItemID != "" {
		item, err := requireItem(ctx, l.Store, q.ItemID)
		if err != nil {
			return nil, err
		}
		if q.OutletID != "" && item.OutletID != q.OutletID {
			return &HistoryPage{Movements: []Movement{}}, nil
		}
	}

	// One extra row tells us whether another page exists.
	movements, err := l.Store.Movements(ctx, MovementQuery{
		OutletID: q.OutletID,
		ItemID:   q.ItemID,
		From:     q.From,
		To:       q.To,
		Cursor:   cursor,
		Limit:    limit + 1,
	})
	if err != nil {
		return nil, err
	}

	page := &HistoryPage{Movements: movements}
	if len(movements) > limit {
		page.Movements = movements[:limit]
		last := page.Movements[limit-1]
		page.NextCursor = Cursor{OccurredAt: last.OccurredAt, Seq: last.Seq}.Encode()
	}
	if page.Movements == nil {
		page.Movements = []Movement{}
	}
	return page, nil
}

// =============================================================================
// CURSOR
// =============================================================================

type Cursor struct {
	OccurredAt time.Time
	Seq        int64
}

// After reports whether m sorts strictly after the cursor position.
func (c Cursor) After(m Movement) bool {
	if m.OccurredAt.Equal(c.OccurredAt) {
		return m.Seq > c.Seq
	}
	return m.OccurredAt.After(c.OccurredAt)
}

func (c Cursor) Encode() string {
	raw := strconv.FormatInt(c.OccurredAt.UnixNano(), 10) + ":" + strconv.FormatInt(c.Seq, 10)
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

func ParseCursor(s string) (Cursor, error) {
	bad := invalid("cursor", "malformed cursor")
	raw, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return Cursor{}, bad
	}
	nanos, seq, ok := strings.Cut(string(raw), ":")
	if !ok {
		return Cursor{}, bad
	}
	n, err := strconv.ParseInt(nanos, 10, 64)
	if err != nil {
		return Cursor{}, bad
	}
	sq, err := strconv.ParseInt(seq, 10, 64)
	if err != nil {
		return Cursor{}, bad
	}
	return Cursor{OccurredAt: time.Unix(0, n).UTC(), Seq: sq}, nil
}
