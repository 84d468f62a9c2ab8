/*
projection.go - Live stock projection

PURPOSE:
  Answers "how much exists now". Current stock is computed by fresh
  aggregation on every read:

    current = Item.OpeningStock + Σ signed(open movements)

  The open period is every movement recorded after CheckpointSeq, plus
  movements recorded before the close that occurred after the closed
  date (seq <= CheckpointSeq, occurred_at >= CheckpointAt).

  There is no cached counter, so there is nothing to go stale and nothing
  a concurrent writer can lose. The same helper runs inside the ledger's
  write transaction for the negative-stock check and inside the closing
  transaction for the closing balance.

STATUS:
  Each item is classified against its thresholds:
    negative - below zero (a signal that movements went unrecorded)
    low      - at or below the low-stock threshold
    over     - above the max-stock level, when one is configured
    ok       - everything else
*/
package stock

import (
	"context"
	"sort"

	"github.com/shopspring/decimal"
)

// =============================================================================
// PROJECTION
// =============================================================================

type Projection struct {
	Store Store
}

type StockStatus string

const (
	StatusNegative StockStatus = "negative"
	StatusLow      StockStatus = "low"
	StatusOK       StockStatus = "ok"
	StatusOver     StockStatus = "over"
)

// ItemStock is the live position of one item.
type ItemStock struct {
	Item     Item
	Quantity Quantity
	Period   PeriodTotals // open-period activity since the checkpoint
	Status   StockStatus
}

// CurrentStock returns the on-hand quantity of an item.
func (p *Projection) CurrentStock(ctx context.Context, id ItemID) (*ItemStock, error) {
	item, err := requireItem(ctx, p.Store, id)
	if err != nil {
		return nil, err
	}
	return stockOf(ctx, p.Store, *item)
}

// Outlet returns the live position of every item in an outlet, sorted by name.
func (p *Projection) Outlet(ctx context.Context, outletID OutletID, filter ItemFilter) ([]ItemStock, error) {
	if _, err := requireOutlet(ctx, p.Store, outletID); err != nil {
		return nil, err
	}
	items, err := p.Store.ListItems(ctx, outletID, filter)
	if err != nil {
		return nil, err
	}
	result := make([]ItemStock, 0, len(items))
	for _, item := range items {
		s, err := stockOf(ctx, p.Store, item)
		if err != nil {
			return nil, err
		}
		result = append(result, *s)
	}
	sort.SliceStable(result, func(i, j int) bool { return result[i].Item.Name < result[j].Item.Name })
	return result, nil
}

// LowStockItem is an active item at or below its threshold.
type LowStockItem struct {
	Item      Item
	Quantity  Quantity
	Threshold decimal.Decimal
}

// LowStock lists active items where current stock <= low-stock threshold.
func (p *Projection) LowStock(ctx context.Context, outletID OutletID) ([]LowStockItem, error) {
	stocks, err := p.Outlet(ctx, outletID, ItemFilter{})
	if err != nil {
		return nil, err
	}
	low := []LowStockItem{}
	for _, s := range stocks {
		if s.Quantity.Value.LessThanOrEqual(s.Item.Thresholds.LowStock) {
			low = append(low, LowStockItem{Item: s.Item, Quantity: s.Quantity, Threshold: s.Item.Thresholds.LowStock})
		}
	}
	return low, nil
}

// =============================================================================
// HELPERS
// =============================================================================

// openMovements returns the item's open period ordered by occurred_at, seq.
func openMovements(ctx context.Context, r Reader, item Item) ([]Movement, error) {
	open, err := r.Movements(ctx, MovementQuery{ItemID: item.ID, AfterSeq: item.CheckpointSeq})
	if err != nil {
		return nil, err
	}
	if item.CheckpointSeq == 0 || item.CheckpointAt.IsZero() {
		return open, nil
	}
	carried, err := r.Movements(ctx, MovementQuery{ItemID: item.ID, UpToSeq: item.CheckpointSeq, From: item.CheckpointAt})
	if err != nil {
		return nil, err
	}
	if len(carried) == 0 {
		return open, nil
	}
	all := append(carried, open...)
	sort.SliceStable(all, func(i, j int) bool {
		if all[i].OccurredAt.Equal(all[j].OccurredAt) {
			return all[i].Seq < all[j].Seq
		}
		return all[i].OccurredAt.Before(all[j].OccurredAt)
	})
	return all, nil
}

func stockOf(ctx context.Context, r Reader, item Item) (*ItemStock, error) {
	open, err := openMovements(ctx, r, item)
	if err != nil {
		return nil, err
	}
	totals := Totals(open)
	qty := NewQuantity(item.OpeningStock.Add(totals.Net()), item.Unit)
	return &ItemStock{
		Item:     item,
		Quantity: qty,
		Period:   totals,
		Status:   classify(qty.Value, item.Thresholds),
	}, nil
}

func currentStock(ctx context.Context, r Reader, item *Item) (decimal.Decimal, error) {
	s, err := stockOf(ctx, r, *item)
	if err != nil {
		return decimal.Zero, err
	}
	return s.Quantity.Value, nil
}

func classify(qty decimal.Decimal, t Thresholds) StockStatus {
	switch {
	case qty.IsNegative():
		return StatusNegative
	case qty.LessThanOrEqual(t.LowStock):
		return StatusLow
	case !t.MaxStock.IsZero() && qty.GreaterThan(t.MaxStock):
		return StatusOver
	default:
		return StatusOK
	}
}
