/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the stock domain model from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Complex response wrappers

QUANTITIES:
  Every quantity is a decimal.Decimal, which marshals as a JSON string
  ("23.5") and accepts either a string or a number on input. Clients never
  see float rounding.

VALIDATION:
  Validation is done by the stock package, not in DTOs. DTOs are pure data
  carriers.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/stock-ledger/stock"
)

// =============================================================================
// OUTLETS
// =============================================================================

type OutletDTO struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Timezone  string    `json:"timezone"`
	Today     string    `json:"today"`
	CreatedAt time.Time `json:"created_at"`
}

type CreateOutletRequest struct {
	ID       string `json:"id,omitempty"`
	Name     string `json:"name"`
	Timezone string `json:"timezone,omitempty"`
}

func toOutletDTO(o stock.Outlet, now time.Time) OutletDTO {
	return OutletDTO{
		ID:        string(o.ID),
		Name:      o.Name,
		Timezone:  o.Timezone,
		Today:     o.Today(now).String(),
		CreatedAt: o.CreatedAt,
	}
}

// =============================================================================
// ITEMS
// =============================================================================

type ItemDTO struct {
	ID                string          `json:"id"`
	OutletID          string          `json:"outlet_id"`
	Name              string          `json:"name"`
	Category          string          `json:"category"`
	Unit              string          `json:"unit"`
	LowStockThreshold decimal.Decimal `json:"low_stock_threshold"`
	MaxStockLevel     decimal.Decimal `json:"max_stock_level"`
	Status            string          `json:"status"`
	OpeningStock      decimal.Decimal `json:"opening_stock"`
	LastClosedDate    stock.Date      `json:"last_closed_date"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

type CreateItemRequest struct {
	Name              string           `json:"name"`
	Category          string           `json:"category"`
	Unit              string           `json:"unit"`
	LowStockThreshold *decimal.Decimal `json:"low_stock_threshold,omitempty"`
	MaxStockLevel     *decimal.Decimal `json:"max_stock_level,omitempty"`
}

// UpdateItemRequest is a partial update. Omitted fields stay unchanged.
type UpdateItemRequest struct {
	Name              *string          `json:"name,omitempty"`
	Category          *string          `json:"category,omitempty"`
	Unit              *string          `json:"unit,omitempty"`
	LowStockThreshold *decimal.Decimal `json:"low_stock_threshold,omitempty"`
	MaxStockLevel     *decimal.Decimal `json:"max_stock_level,omitempty"`
}

type SuggestionDTO struct {
	Name     string `json:"name"`
	Category string `json:"category"`
	Unit     string `json:"unit"`
	Matched  string `json:"matched,omitempty"`
}

func toItemDTO(i stock.Item) ItemDTO {
	return ItemDTO{
		ID:                string(i.ID),
		OutletID:          string(i.OutletID),
		Name:              i.Name,
		Category:          i.Category,
		Unit:              string(i.Unit),
		LowStockThreshold: i.Thresholds.LowStock,
		MaxStockLevel:     i.Thresholds.MaxStock,
		Status:            string(i.Status),
		OpeningStock:      i.OpeningStock,
		LastClosedDate:    i.LastClosedDate,
		CreatedAt:         i.CreatedAt,
		UpdatedAt:         i.UpdatedAt,
	}
}

// =============================================================================
// STOCK
// =============================================================================

type StockDTO struct {
	ItemID       string          `json:"item_id"`
	Name         string          `json:"name"`
	Quantity     decimal.Decimal `json:"quantity"`
	Unit         string          `json:"unit"`
	Status       string          `json:"status"`
	OpeningStock decimal.Decimal `json:"opening_stock"`
	Period       PeriodDTO       `json:"open_period"`
}

type PeriodDTO struct {
	Incoming decimal.Decimal `json:"incoming"`
	Used     decimal.Decimal `json:"used"`
	Wastage  decimal.Decimal `json:"wastage"`
	Count    int             `json:"movement_count"`
}

type LowStockDTO struct {
	ItemID    string          `json:"item_id"`
	Name      string          `json:"name"`
	Quantity  decimal.Decimal `json:"quantity"`
	Unit      string          `json:"unit"`
	Threshold decimal.Decimal `json:"threshold"`
}

func toStockDTO(s stock.ItemStock) StockDTO {
	return StockDTO{
		ItemID:       string(s.Item.ID),
		Name:         s.Item.Name,
		Quantity:     s.Quantity.Value,
		Unit:         string(s.Quantity.Unit),
		Status:       string(s.Status),
		OpeningStock: s.Item.OpeningStock,
		Period: PeriodDTO{
			Incoming: s.Period.Incoming,
			Used:     s.Period.Used,
			Wastage:  s.Period.Wastage,
			Count:    s.Period.Count,
		},
	}
}

// =============================================================================
// MOVEMENTS
// =============================================================================

type RecordMovementRequest struct {
	Direction      string          `json:"direction"`
	Amount         decimal.Decimal `json:"amount"`
	Reason         string          `json:"reason"`
	Note           string          `json:"note,omitempty"`
	IdempotencyKey string          `json:"idempotency_key,omitempty"`
	RecordedBy     string          `json:"recorded_by,omitempty"`
	OccurredAt     *time.Time      `json:"occurred_at,omitempty"`
}

type MovementDTO struct {
	ID             string          `json:"id"`
	Seq            int64           `json:"seq"`
	ItemID         string          `json:"item_id"`
	OutletID       string          `json:"outlet_id"`
	Direction      string          `json:"direction"`
	Amount         decimal.Decimal `json:"amount"`
	Unit           string          `json:"unit"`
	Reason         string          `json:"reason"`
	Note           string          `json:"note,omitempty"`
	IdempotencyKey string          `json:"idempotency_key,omitempty"`
	RecordedBy     string          `json:"recorded_by,omitempty"`
	OccurredAt     time.Time       `json:"occurred_at"`
	RecordedAt     time.Time       `json:"recorded_at"`
}

type MovementPageResponse struct {
	Movements  []MovementDTO `json:"movements"`
	NextCursor string        `json:"next_cursor,omitempty"`
}

func toMovementDTO(m stock.Movement) MovementDTO {
	return MovementDTO{
		ID:             string(m.ID),
		Seq:            m.Seq,
		ItemID:         string(m.ItemID),
		OutletID:       string(m.OutletID),
		Direction:      string(m.Direction),
		Amount:         m.Amount,
		Unit:           string(m.Unit),
		Reason:         string(m.Reason),
		Note:           m.Note,
		IdempotencyKey: m.IdempotencyKey,
		RecordedBy:     m.RecordedBy,
		OccurredAt:     m.OccurredAt,
		RecordedAt:     m.RecordedAt,
	}
}

// =============================================================================
// METRICS
// =============================================================================

type TodayMetricsDTO struct {
	OutletID      string                                `json:"outlet_id"`
	Date          stock.Date                            `json:"date"`
	Consumption   map[string]decimal.Decimal            `json:"consumption"`
	Wastage       map[string]decimal.Decimal            `json:"wastage"`
	Incoming      map[string]decimal.Decimal            `json:"incoming"`
	ByReason      map[string]map[string]decimal.Decimal `json:"by_reason"`
	MovementCount int                                   `json:"movement_count"`
}

type ItemDailyDTO struct {
	ItemID   string          `json:"item_id"`
	Name     string          `json:"name"`
	Category string          `json:"category,omitempty"`
	Opening  decimal.Decimal `json:"opening"`
	Incoming decimal.Decimal `json:"incoming"`
	Used     decimal.Decimal `json:"used"`
	Wastage  decimal.Decimal `json:"wastage"`
	Closing  decimal.Decimal `json:"closing"`
	Unit     string          `json:"unit"`
	Status   string          `json:"status"`
}

type DailyMetricsDTO struct {
	OutletID string         `json:"outlet_id"`
	Date     stock.Date     `json:"date"`
	Source   string         `json:"source"`
	Items    []ItemDailyDTO `json:"items"`
}

type CoverDTO struct {
	ItemID       string           `json:"item_id"`
	Name         string           `json:"name"`
	Unit         string           `json:"unit"`
	Current      decimal.Decimal  `json:"current"`
	AverageDaily decimal.Decimal  `json:"average_daily_usage"`
	SampleDays   int              `json:"sample_days"`
	DaysOfCover  *decimal.Decimal `json:"days_of_cover"`
}

func unitMap(u stock.UnitTotals) map[string]decimal.Decimal {
	out := make(map[string]decimal.Decimal, len(u))
	for unit, v := range u {
		out[string(unit)] = v
	}
	return out
}

func toTodayMetricsDTO(m stock.TodayMetrics) TodayMetricsDTO {
	byReason := make(map[string]map[string]decimal.Decimal, len(m.ByReason))
	for reason, totals := range m.ByReason {
		byReason[string(reason)] = unitMap(totals)
	}
	return TodayMetricsDTO{
		OutletID:      string(m.OutletID),
		Date:          m.Date,
		Consumption:   unitMap(m.Consumption),
		Wastage:       unitMap(m.Wastage),
		Incoming:      unitMap(m.Incoming),
		ByReason:      byReason,
		MovementCount: m.MovementCount,
	}
}

func toItemDailyDTO(d stock.ItemDaily) ItemDailyDTO {
	return ItemDailyDTO{
		ItemID:   string(d.ItemID),
		Name:     d.Name,
		Category: d.Category,
		Opening:  d.Opening,
		Incoming: d.Incoming,
		Used:     d.Used,
		Wastage:  d.Wastage,
		Closing:  d.Closing,
		Unit:     string(d.Unit),
		Status:   string(d.Status),
	}
}

// =============================================================================
// CLOSING
// =============================================================================

type CloseDayRequest struct {
	Date     stock.Date `json:"date"`
	ClosedBy string     `json:"closed_by,omitempty"`
}

type CloseDayResponse struct {
	OutletID   string        `json:"outlet_id"`
	Date       stock.Date    `json:"date"`
	CutoverSeq int64         `json:"cutover_seq"`
	ClosedAt   time.Time     `json:"closed_at"`
	ClosedBy   string        `json:"closed_by,omitempty"`
	Snapshots  []SnapshotDTO `json:"snapshots"`
}

type SnapshotDTO struct {
	ID       string          `json:"id"`
	OutletID string          `json:"outlet_id"`
	ItemID   string          `json:"item_id"`
	ItemName string          `json:"item_name"`
	Date     stock.Date      `json:"date"`
	Opening  decimal.Decimal `json:"opening_stock"`
	Incoming decimal.Decimal `json:"incoming"`
	Used     decimal.Decimal `json:"used_today"`
	Wastage  decimal.Decimal `json:"wastage"`
	Closing  decimal.Decimal `json:"closing_stock"`
	Unit     string          `json:"unit"`
	Locked   bool            `json:"locked"`
	ClosedAt time.Time       `json:"closed_at"`
}

func toSnapshotDTO(s stock.Snapshot) SnapshotDTO {
	return SnapshotDTO{
		ID:       s.ID,
		OutletID: string(s.OutletID),
		ItemID:   string(s.ItemID),
		ItemName: s.ItemName,
		Date:     s.Date,
		Opening:  s.Opening,
		Incoming: s.Incoming,
		Used:     s.Used,
		Wastage:  s.Wastage,
		Closing:  s.Closing,
		Unit:     string(s.Unit),
		Locked:   s.Locked,
		ClosedAt: s.ClosedAt,
	}
}

func toSnapshotDTOs(snaps []stock.Snapshot) []SnapshotDTO {
	out := make([]SnapshotDTO, len(snaps))
	for i, s := range snaps {
		out[i] = toSnapshotDTO(s)
	}
	return out
}

// =============================================================================
// ERRORS
// =============================================================================

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code"`
	Details any    `json:"details,omitempty"`
}
