/*
metrics.go - Consumption, wastage and cover summaries

PURPOSE:
  Read-only summaries on top of the ledger and the snapshots. Nothing here
  writes, and nothing here is consulted by the ledger or the closing engine.

TWO VIEWS OF A DAY:
  live     - the open period, computed from movements right now (provisional)
  snapshot - the locked end-of-day records of a closed date (authoritative)

UNITS:
  Totals are grouped per unit. 3 liters of milk and 2 kg of beans are never
  added together.

COVER:
  Days of cover = current stock / average daily usage over the last N
  snapshots, where usage is used + wastage. It is an indicator for the
  morning order, not a forecast model.
*/
package stock

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

const (
	defaultCoverLookback = 7
	maxCoverLookback     = 90
)

type Aggregator struct {
	Store Store
	Now   func() time.Time
}

// UnitTotals maps a unit of measure to a summed amount.
type UnitTotals map[Unit]decimal.Decimal

func (u UnitTotals) add(unit Unit, v decimal.Decimal) {
	u[unit] = u[unit].Add(v)
}

// =============================================================================
// TODAY
// =============================================================================

type TodayMetrics struct {
	OutletID      OutletID
	Date          Date
	Consumption   UnitTotals
	Wastage       UnitTotals
	Incoming      UnitTotals
	ByReason      map[Reason]UnitTotals
	MovementCount int
}

// Today sums movements whose occurred_at falls on the outlet's local
// calendar day.
func (a *Aggregator) Today(ctx context.Context, outletID OutletID) (*TodayMetrics, error) {
	outlet, err := requireOutlet(ctx, a.Store, outletID)
	if err != nil {
		return nil, err
	}
	loc := outlet.Location()
	today := outlet.Today(nowFrom(a.Now))

	movements, err := a.Store.Movements(ctx, MovementQuery{
		OutletID: outlet.ID,
		From:     today.Start(loc),
		To:       today.End(loc),
	})
	if err != nil {
		return nil, err
	}

	m := &TodayMetrics{
		OutletID:    outlet.ID,
		Date:        today,
		Consumption: UnitTotals{},
		Wastage:     UnitTotals{},
		Incoming:    UnitTotals{},
		ByReason:    map[Reason]UnitTotals{},
	}
	for _, mv := range movements {
		switch {
		case mv.Direction == Incoming:
			m.Incoming.add(mv.Unit, mv.Amount)
		case mv.IsWastage():
			m.Wastage.add(mv.Unit, mv.Amount)
		default:
			m.Consumption.add(mv.Unit, mv.Amount)
		}
		byReason, ok := m.ByReason[mv.Reason]
		if !ok {
			byReason = UnitTotals{}
			m.ByReason[mv.Reason] = byReason
		}
		byReason.add(mv.Unit, mv.Amount)
		m.MovementCount++
	}
	return m, nil
}

// =============================================================================
// PER-ITEM DAILY VIEW
// =============================================================================

type MetricsSource string

const (
	SourceSnapshot MetricsSource = "snapshot"
	SourceLive     MetricsSource = "live"
	SourceNone     MetricsSource = "none"
)

type ItemDaily struct {
	ItemID   ItemID
	Name     string
	Category string
	Opening  decimal.Decimal
	Incoming decimal.Decimal
	Used     decimal.Decimal
	Wastage  decimal.Decimal
	Closing  decimal.Decimal
	Unit     Unit
	Status   StockStatus
}

type DailyMetrics struct {
	OutletID OutletID
	Date     Date
	Source   MetricsSource
	Items    []ItemDaily
}

// PerItemDaily is the provisional view of the open period for every active item.
func (a *Aggregator) PerItemDaily(ctx context.Context, outletID OutletID) ([]ItemDaily, error) {
	stocks, err := (&Projection{Store: a.Store}).Outlet(ctx, outletID, ItemFilter{})
	if err != nil {
		return nil, err
	}
	rows := make([]ItemDaily, 0, len(stocks))
	for _, s := range stocks {
		rows = append(rows, ItemDaily{
			ItemID:   s.Item.ID,
			Name:     s.Item.Name,
			Category: s.Item.Category,
			Opening:  s.Item.OpeningStock,
			Incoming: s.Period.Incoming,
			Used:     s.Period.Used,
			Wastage:  s.Period.Wastage,
			Closing:  s.Quantity.Value,
			Unit:     s.Item.Unit,
			Status:   s.Status,
		})
	}
	return rows, nil
}

// Daily returns the locked snapshots of a closed date, the live view for
// today, or an empty result for any other open date.
func (a *Aggregator) Daily(ctx context.Context, outletID OutletID, date Date) (*DailyMetrics, error) {
	outlet, err := requireOutlet(ctx, a.Store, outletID)
	if err != nil {
		return nil, err
	}
	today := outlet.Today(nowFrom(a.Now))
	if date.IsZero() {
		date = today
	}
	out := &DailyMetrics{OutletID: outlet.ID, Date: date, Source: SourceNone, Items: []ItemDaily{}}

	closed, err := a.Store.GetDayClose(ctx, outlet.ID, date)
	if err != nil {
		return nil, err
	}
	if closed != nil {
		snaps, err := a.Store.Snapshots(ctx, SnapshotQuery{OutletID: outlet.ID, From: date, To: date})
		if err != nil {
			return nil, err
		}
		items := make(map[ItemID]Item)
		all, err := a.Store.ListItems(ctx, outlet.ID, ItemFilter{IncludeRetired: true})
		if err != nil {
			return nil, err
		}
		for _, it := range all {
			items[it.ID] = it
		}
		for _, s := range snaps {
			it := items[s.ItemID]
			out.Items = append(out.Items, ItemDaily{
				ItemID:   s.ItemID,
				Name:     s.ItemName,
				Category: it.Category,
				Opening:  s.Opening,
				Incoming: s.Incoming,
				Used:     s.Used,
				Wastage:  s.Wastage,
				Closing:  s.Closing,
				Unit:     s.Unit,
				Status:   classify(s.Closing, it.Thresholds),
			})
		}
		out.Source = SourceSnapshot
		return out, nil
	}

	if date.Equal(today) {
		rows, err := a.PerItemDaily(ctx, outlet.ID)
		if err != nil {
			return nil, err
		}
		out.Items = rows
		out.Source = SourceLive
	}
	return out, nil
}

// =============================================================================
// DAYS OF COVER
// =============================================================================

type ItemCover struct {
	ItemID       ItemID
	Name         string
	Unit         Unit
	Current      decimal.Decimal
	AverageDaily decimal.Decimal
	SampleDays   int
	DaysOfCover  *decimal.Decimal // nil when there is no usage to divide by
}

// CoverForecast averages used+wastage over the last lookback snapshots of
// each active item.
func (a *Aggregator) CoverForecast(ctx context.Context, outletID OutletID, lookback int) ([]ItemCover, error) {
	if lookback <= 0 {
		lookback = defaultCoverLookback
	}
	if lookback > maxCoverLookback {
		return nil, invalid("lookback", "must be at most %d days", maxCoverLookback)
	}

	stocks, err := (&Projection{Store: a.Store}).Outlet(ctx, outletID, ItemFilter{})
	if err != nil {
		return nil, err
	}

	result := make([]ItemCover, 0, len(stocks))
	for _, s := range stocks {
		snaps, err := a.Store.Snapshots(ctx, SnapshotQuery{OutletID: outletID, ItemID: s.Item.ID, Limit: lookback})
		if err != nil {
			return nil, err
		}
		c := ItemCover{
			ItemID:       s.Item.ID,
			Name:         s.Item.Name,
			Unit:         s.Item.Unit,
			Current:      s.Quantity.Value,
			AverageDaily: decimal.Zero,
			SampleDays:   len(snaps),
		}
		if len(snaps) > 0 {
			usage := decimal.Zero
			for _, snap := range snaps {
				usage = usage.Add(snap.Used).Add(snap.Wastage)
			}
			c.AverageDaily = usage.Div(decimal.NewFromInt(int64(len(snaps)))).Round(3)
		}
		if c.AverageDaily.IsPositive() {
			days := decimal.Max(c.Current, decimal.Zero).Div(c.AverageDaily).Round(1)
			c.DaysOfCover = &days
		}
		result = append(result, c)
	}
	return result, nil
}
