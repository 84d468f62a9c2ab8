/*
closing.go - Daily closing engine

PURPOSE:
  Closes the books for one outlet and one business date: every active item
  gets a locked Snapshot of the open period and its opening checkpoint is
  rolled forward to the closing balance. Tomorrow's projection starts from
  that checkpoint.

STATE MACHINE per (outlet, date):
  Open    -> movements accepted, no DayClose row
  Closing -> inside one store transaction, never visible to readers
  Closed  -> DayClose row + one locked Snapshot per item

CUTOVER:
  The highest movement seq is captured at the start of the closing
  transaction. An open movement belongs to the day being closed when
  seq <= cutover and it occurred before the end of that date in the outlet
  timezone. Movements that occurred later (closing yesterday at noon
  leaves this morning's sales alone) stay in the open period, and so does
  everything recorded after the cutover, including backdated corrections
  for the closed date. Writers are serialized by the store, so no movement
  can be recorded between the cutover capture and the commit.

ATOMICITY:
  Snapshots, checkpoint advances and the DayClose row are written in one
  transaction. A fault mid-batch rolls all of it back, so a retry produces
  exactly the state of a single uninterrupted run.

FAILURES:
  AlreadyClosedError  - DayClose or a Snapshot already exists for the date
  ConflictError       - a later date is already closed for the outlet
  ValidationError     - the date is in the outlet's future
  NotFoundError       - unknown outlet

EXAMPLE:
  Milk opens at 10 L; +20 purchase, -5 order_consumption, -2 wastage.
  CloseDay -> Snapshot{opening 10, incoming 20, used 5, wastage 2, closing 23}
  Item.OpeningStock becomes 23.
*/
package stock

import (
	"context"
	"fmt"
	"time"
)

// =============================================================================
// CLOSING ENGINE
// =============================================================================

type ClosingEngine struct {
	Store Store
	Now   func() time.Time
}

type CloseDayInput struct {
	OutletID OutletID
	Date     Date
	ClosedBy string
}

type CloseDayOutput struct {
	DayClose  DayClose
	Snapshots []Snapshot
}

// CloseDay snapshots every active item of the outlet for the given date.
func (e *ClosingEngine) CloseDay(ctx context.Context, in CloseDayInput) (*CloseDayOutput, error) {
	if in.Date.IsZero() {
		return nil, invalid("date", "date is required")
	}

	var out CloseDayOutput
	err := e.Store.WithTx(ctx, func(tx Tx) error {
		outlet, err := requireOutlet(ctx, tx, in.OutletID)
		if err != nil {
			return err
		}

		now := nowFrom(e.Now)
		if in.Date.After(outlet.Today(now)) {
			return invalid("date", "%s has not started yet for outlet %s", in.Date, outlet.ID)
		}

		existing, err := tx.GetDayClose(ctx, outlet.ID, in.Date)
		if err != nil {
			return err
		}
		if existing != nil {
			return &AlreadyClosedError{OutletID: outlet.ID, Date: in.Date}
		}
		latest, err := tx.LatestDayClose(ctx, outlet.ID)
		if err != nil {
			return err
		}
		if latest != nil && latest.Date.After(in.Date) {
			return &ConflictError{Reason: fmt.Sprintf("cannot close %s: %s is already closed", in.Date, latest.Date)}
		}

		cutover, err := tx.LastSeq(ctx)
		if err != nil {
			return err
		}

		end := in.Date.End(outlet.Location())
		items, err := tx.ListItems(ctx, outlet.ID, ItemFilter{})
		if err != nil {
			return err
		}

		snapshots := make([]Snapshot, 0, len(items))
		for _, item := range items {
			if err := ctx.Err(); err != nil {
				return err
			}
			snap, err := closeItem(ctx, tx, item, in.Date, end, cutover, now)
			if err != nil {
				return err
			}
			snapshots = append(snapshots, *snap)
		}

		dc := DayClose{
			OutletID:   outlet.ID,
			Date:       in.Date,
			CutoverSeq: cutover,
			ItemCount:  len(snapshots),
			ClosedAt:   now,
			ClosedBy:   in.ClosedBy,
		}
		if err := tx.InsertDayClose(ctx, dc); err != nil {
			return err
		}

		out = CloseDayOutput{DayClose: dc, Snapshots: snapshots}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func closeItem(ctx context.Context, tx Tx, item Item, date Date, end time.Time, cutover int64, now time.Time) (*Snapshot, error) {
	prior, err := tx.GetSnapshot(ctx, item.OutletID, item.ID, date)
	if err != nil {
		return nil, err
	}
	if prior != nil {
		return nil, &AlreadyClosedError{OutletID: item.OutletID, Date: date, ItemID: item.ID}
	}

	open, err := openMovements(ctx, tx, item)
	if err != nil {
		return nil, err
	}
	period := make([]Movement, 0, len(open))
	for _, m := range open {
		if m.Seq <= cutover && m.OccurredAt.Before(end) {
			period = append(period, m)
		}
	}
	totals := Totals(period)
	closing := item.OpeningStock.Add(totals.Net())

	snap := Snapshot{
		ID:         snapshotID(item.OutletID, item.ID, date),
		OutletID:   item.OutletID,
		ItemID:     item.ID,
		ItemName:   item.Name,
		Date:       date,
		Opening:    item.OpeningStock,
		Incoming:   totals.Incoming,
		Used:       totals.Used,
		Wastage:    totals.Wastage,
		Closing:    closing,
		Unit:       item.Unit,
		Locked:     true,
		CutoverSeq: cutover,
		ClosedAt:   now,
	}
	if err := tx.InsertSnapshot(ctx, snap); err != nil {
		return nil, err
	}
	cp := Checkpoint{Opening: closing, Seq: cutover, Date: date, Boundary: end}
	if err := tx.AdvanceCheckpoint(ctx, item.ID, cp); err != nil {
		return nil, err
	}
	return &snap, nil
}

// =============================================================================
// READS
// =============================================================================

// DayClose returns the closing record, or nil if the date is still open.
func (e *ClosingEngine) DayClose(ctx context.Context, outletID OutletID, date Date) (*DayClose, error) {
	if _, err := requireOutlet(ctx, e.Store, outletID); err != nil {
		return nil, err
	}
	return e.Store.GetDayClose(ctx, outletID, date)
}

func (e *ClosingEngine) Snapshots(ctx context.Context, q SnapshotQuery) ([]Snapshot, error) {
	if _, err := requireOutlet(ctx, e.Store, q.OutletID); err != nil {
		return nil, err
	}
	if !q.From.IsZero() && !q.To.IsZero() && q.From.After(q.To) {
		return nil, invalid("to", "must not be before from")
	}
	snaps, err := e.Store.Snapshots(ctx, q)
	if err != nil {
		return nil, err
	}
	if snaps == nil {
		snaps = []Snapshot{}
	}
	return snaps, nil
}

func snapshotID(outletID OutletID, itemID ItemID, date Date) string {
	return string(outletID) + "-" + string(itemID) + "-" + date.String()
}
