/*
Package stock provides the inventory movement ledger and daily closing engine.

PURPOSE:
  Stock is never a mutable counter. Every physical change (a delivery, an
  order pulling milk out of the fridge, a spilled bottle) is an immutable
  Movement. On-hand quantity is derived by summing Movements on top of an
  opening checkpoint, and the checkpoint only moves when a business day is
  closed.

KEY CONCEPTS IN THIS FILE (types.go):
  - Quantity:  A decimal value with a unit of measure (23 liters)
  - Outlet:    A café/restaurant location with its own timezone
  - Item:      A stock-keeping unit; identity and thresholds only
  - Movement:  An append-only ledger entry (direction + positive amount)
  - Snapshot:  The locked end-of-day record per item
  - DayClose:  The per-outlet marker that a business date is closed

DESIGN PRINCIPLES:
  1. Immutability: Movements and Snapshots are never modified
  2. Precision: decimal.Decimal everywhere, no float arithmetic
  3. Positive amounts: Direction carries the sign, Amount is always > 0
  4. Checkpointing: Item.OpeningStock, CheckpointSeq and CheckpointAt
     define the start of the open period; only the closing engine writes
     them

SEE ALSO:
  - ledger.go: Recording movements and history
  - projection.go: Current stock and low-stock views
  - closing.go: End-of-day snapshots and checkpoint advance
  - store.go: Persistence interfaces
*/
package stock

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/stock-ledger/logger"
)

// =============================================================================
// QUANTITY - Decimal value with a unit of measure
// =============================================================================

type Quantity struct {
	Value decimal.Decimal
	Unit  Unit
}

func NewQuantity(value decimal.Decimal, unit Unit) Quantity {
	return Quantity{Value: value, Unit: unit}
}

func (q Quantity) Add(v decimal.Decimal) Quantity { return Quantity{Value: q.Value.Add(v), Unit: q.Unit} }
func (q Quantity) Sub(v decimal.Decimal) Quantity { return Quantity{Value: q.Value.Sub(v), Unit: q.Unit} }
func (q Quantity) IsNegative() bool               { return q.Value.IsNegative() }
func (q Quantity) IsZero() bool                   { return q.Value.IsZero() }
func (q Quantity) String() string                 { return q.Value.String() + " " + string(q.Unit) }

// =============================================================================
// UNITS
// =============================================================================

type Unit string

const (
	UnitLiters      Unit = "liters"
	UnitMilliliters Unit = "ml"
	UnitKilograms   Unit = "kg"
	UnitGrams       Unit = "g"
	UnitPieces      Unit = "pcs"
	UnitPacks       Unit = "packs"
	UnitBottles     Unit = "bottles"
	UnitBoxes       Unit = "boxes"
	UnitDozen       Unit = "dozen"
)

var unitAliases = map[string]Unit{
	"l":           UnitLiters,
	"liter":       UnitLiters,
	"liters":      UnitLiters,
	"litre":       UnitLiters,
	"litres":      UnitLiters,
	"ml":          UnitMilliliters,
	"milliliter":  UnitMilliliters,
	"milliliters": UnitMilliliters,
	"kg":          UnitKilograms,
	"kgs":         UnitKilograms,
	"kilogram":    UnitKilograms,
	"kilograms":   UnitKilograms,
	"g":           UnitGrams,
	"gram":        UnitGrams,
	"grams":       UnitGrams,
	"pc":          UnitPieces,
	"pcs":         UnitPieces,
	"piece":       UnitPieces,
	"pieces":      UnitPieces,
	"pack":        UnitPacks,
	"packs":       UnitPacks,
	"bottle":      UnitBottles,
	"bottles":     UnitBottles,
	"box":         UnitBoxes,
	"boxes":       UnitBoxes,
	"dozen":       UnitDozen,
}

// ParseUnit normalizes a unit name, accepting common aliases.
func ParseUnit(s string) (Unit, error) {
	u, ok := unitAliases[strings.ToLower(strings.TrimSpace(s))]
	if !ok {
		return "", &ValidationError{Field: "unit", Message: fmt.Sprintf("unknown unit %q", s)}
	}
	return u, nil
}

// =============================================================================
// IDENTIFIERS
// =============================================================================

type OutletID string
type ItemID string
type MovementID string

// =============================================================================
// OUTLET
// =============================================================================

type Outlet struct {
	ID        OutletID
	Name      string
	Timezone  string
	CreatedAt time.Time
}

// locations caches resolved timezones by name.
var locations sync.Map

// Location resolves the outlet timezone. Outlets are validated on creation,
// so a failure here means the tz database changed underneath us; it is
// logged and the outlet falls back to UTC.
func (o Outlet) Location() *time.Location {
	if loc, ok := locations.Load(o.Timezone); ok {
		return loc.(*time.Location)
	}
	loc, err := time.LoadLocation(o.Timezone)
	if err != nil {
		logger.Logger.Error().Err(err).
			Str("outlet_id", string(o.ID)).
			Str("timezone", o.Timezone).
			Msg("outlet timezone unavailable, falling back to UTC")
		return time.UTC
	}
	locations.Store(o.Timezone, loc)
	return loc
}

// Today is the outlet's current business date.
func (o Outlet) Today(now time.Time) Date {
	return DateOf(now, o.Location())
}

// =============================================================================
// ITEM - Identity and configuration, never quantity
// =============================================================================

type ItemStatus string

const (
	ItemActive  ItemStatus = "active"
	ItemRetired ItemStatus = "retired"
)

type Thresholds struct {
	LowStock decimal.Decimal
	MaxStock decimal.Decimal // zero means no ceiling
}

type Item struct {
	ID         ItemID
	OutletID   OutletID
	Name       string
	Category   string
	Unit       Unit
	Thresholds Thresholds
	Status     ItemStatus

	// Opening checkpoint. Written only by the closing engine.
	OpeningStock   decimal.Decimal
	CheckpointSeq  int64
	LastClosedDate Date
	// CheckpointAt is the end of LastClosedDate in the outlet timezone.
	// Movements with seq <= CheckpointSeq occurring at or after it were
	// left out of that close and are still open.
	CheckpointAt time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

func (i Item) IsActive() bool { return i.Status == ItemActive }

// Checkpoint is the opening position an item carries out of a close.
type Checkpoint struct {
	Opening  decimal.Decimal
	Seq      int64
	Date     Date
	Boundary time.Time
}

// =============================================================================
// MOVEMENT - Immutable quantity change
// =============================================================================

type Direction string

const (
	Incoming Direction = "incoming"
	Outgoing Direction = "outgoing"
)

func ParseDirection(s string) (Direction, error) {
	switch Direction(strings.ToLower(strings.TrimSpace(s))) {
	case Incoming:
		return Incoming, nil
	case Outgoing:
		return Outgoing, nil
	}
	return "", &ValidationError{Field: "direction", Message: fmt.Sprintf("unknown direction %q", s)}
}

type Reason string

const (
	ReasonPurchase         Reason = "purchase"
	ReasonOpeningStock     Reason = "opening_stock"
	ReasonReturn           Reason = "return"
	ReasonOrderConsumption Reason = "order_consumption"
	ReasonWastage          Reason = "wastage"
	ReasonManualAdjustment Reason = "manual_adjustment"
)

// reasonDirections lists which directions each reason code may be used with.
var reasonDirections = map[Reason][]Direction{
	ReasonPurchase:         {Incoming},
	ReasonOpeningStock:     {Incoming},
	ReasonReturn:           {Incoming},
	ReasonOrderConsumption: {Outgoing},
	ReasonWastage:          {Outgoing},
	ReasonManualAdjustment: {Incoming, Outgoing},
}

// Allows reports whether the reason can be recorded in direction d.
func (r Reason) Allows(d Direction) bool {
	for _, allowed := range reasonDirections[r] {
		if allowed == d {
			return true
		}
	}
	return false
}

func ParseReason(s string) (Reason, error) {
	r := Reason(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := reasonDirections[r]; !ok {
		return "", &ValidationError{Field: "reason", Message: fmt.Sprintf("unknown reason %q", s)}
	}
	return r, nil
}

type Movement struct {
	ID       MovementID
	Seq      int64 // recording order, assigned by the store
	ItemID   ItemID
	OutletID OutletID

	Direction Direction
	Amount    decimal.Decimal // always positive
	Unit      Unit
	Reason    Reason
	Note      string

	IdempotencyKey string
	RecordedBy     string

	OccurredAt time.Time
	RecordedAt time.Time

	// Replayed is set by Ledger.Record when an idempotency key matched an
	// existing movement and nothing was appended. Never persisted.
	Replayed bool
}

// Signed returns the amount with the direction applied.
func (m Movement) Signed() decimal.Decimal {
	if m.Direction == Outgoing {
		return m.Amount.Neg()
	}
	return m.Amount
}

// IsWastage reports whether the movement counts as wastage rather than use.
func (m Movement) IsWastage() bool {
	return m.Direction == Outgoing && m.Reason == ReasonWastage
}

// =============================================================================
// SNAPSHOT - Locked end-of-day record
// =============================================================================

type Snapshot struct {
	ID       string
	OutletID OutletID
	ItemID   ItemID
	ItemName string
	Date     Date

	Opening  decimal.Decimal
	Incoming decimal.Decimal
	Used     decimal.Decimal // outgoing, excluding wastage
	Wastage  decimal.Decimal
	Closing  decimal.Decimal
	Unit     Unit

	Locked     bool
	CutoverSeq int64
	ClosedAt   time.Time
}

// DayClose marks (outlet, date) as closed. Its presence is the Closed state.
type DayClose struct {
	OutletID   OutletID
	Date       Date
	CutoverSeq int64
	ItemCount  int
	ClosedAt   time.Time
	ClosedBy   string
}

// =============================================================================
// PERIOD TOTALS - Aggregation of a slice of the ledger
// =============================================================================

// PeriodTotals sums a set of movements for one item.
type PeriodTotals struct {
	Incoming decimal.Decimal
	Used     decimal.Decimal
	Wastage  decimal.Decimal
	Count    int
}

func (t PeriodTotals) Net() decimal.Decimal {
	return t.Incoming.Sub(t.Used).Sub(t.Wastage)
}

// Totals classifies movements into incoming, used and wastage.
func Totals(movements []Movement) PeriodTotals {
	t := PeriodTotals{Incoming: decimal.Zero, Used: decimal.Zero, Wastage: decimal.Zero}
	for _, m := range movements {
		switch {
		case m.Direction == Incoming:
			t.Incoming = t.Incoming.Add(m.Amount)
		case m.IsWastage():
			t.Wastage = t.Wastage.Add(m.Amount)
		default:
			t.Used = t.Used.Add(m.Amount)
		}
		t.Count++
	}
	return t
}
