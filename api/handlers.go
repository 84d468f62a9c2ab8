/*
handlers.go - HTTP API handlers for the stock ledger

PURPOSE:
  Exposes the stock engine via REST API. Handles HTTP request/response,
  JSON serialization, and delegates to the stock package.

ENDPOINTS:
  Outlets:
    POST   /api/outlets                           Create outlet
    GET    /api/outlets                           List outlets
    GET    /api/outlets/{outletID}                Get outlet

  Items:
    POST   /api/outlets/{outletID}/items          Register item
    GET    /api/outlets/{outletID}/items          List items (?include_retired)
    GET    /api/items/suggest?name=               Advisory category/unit
    GET    /api/items/{itemID}                    Get item
    PATCH  /api/items/{itemID}                    Update identity/thresholds
    POST   /api/items/{itemID}/retire             Retire item
    GET    /api/items/{itemID}/stock              Current stock

  Ledger:
    POST   /api/items/{itemID}/movements          Record movement
    GET    /api/outlets/{outletID}/movements      History (keyset pages)

  Views:
    GET    /api/outlets/{outletID}/stock          Live stock per item
    GET    /api/outlets/{outletID}/low-stock      Items at/below threshold
    GET    /api/outlets/{outletID}/metrics/today  Today's totals per unit
    GET    /api/outlets/{outletID}/metrics/daily  Snapshot or live daily view
    GET    /api/outlets/{outletID}/forecast       Days of cover

  Closing:
    POST   /api/outlets/{outletID}/closings       Close a business day
    GET    /api/outlets/{outletID}/closings/{date} Day close + snapshots
    GET    /api/outlets/{outletID}/snapshots      Snapshot history

ERROR HANDLING:
  Errors are returned as ErrorResponse with appropriate HTTP status:
  - 400: Validation errors, malformed input
  - 404: Unknown outlet or item
  - 409: Conflict (retired item, unit change, idempotency reuse,
         out-of-order close) and already closed
  - 422: Insufficient stock under the no-negative policy
  - 500: Internal errors

SECURITY NOTE:
  No authentication or authorization. The actor is taken from the
  X-Actor header and recorded for audit only.

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/warp/stock-ledger/logger"
	"github.com/warp/stock-ledger/metrics"
	"github.com/warp/stock-ledger/stock"
)

const (
	headerIdempotencyKey = "Idempotency-Key"
	headerActor          = "X-Actor"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Engine  *stock.Engine
	Metrics *metrics.Metrics

	// Ping checks storage for /healthz. Nil means always healthy.
	Ping func(ctx context.Context) error

	Now func() time.Time
}

func NewHandler(engine *stock.Engine, m *metrics.Metrics) *Handler {
	return &Handler{Engine: engine, Metrics: m, Now: time.Now}
}

func (h *Handler) now() time.Time {
	if h.Now == nil {
		return time.Now()
	}
	return h.Now()
}

// =============================================================================
// OUTLET HANDLERS
// =============================================================================

func (h *Handler) CreateOutlet(w http.ResponseWriter, r *http.Request) {
	var req CreateOutletRequest
	if !decodeBody(w, r, &req) {
		return
	}

	outlet, err := h.Engine.Outlets.Create(r.Context(), stock.CreateOutletInput{
		ID:       stock.OutletID(strings.TrimSpace(req.ID)),
		Name:     req.Name,
		Timezone: req.Timezone,
	})
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	logger.Info(r.Context()).Str("outlet_id", string(outlet.ID)).Str("timezone", outlet.Timezone).Msg("outlet created")
	writeJSON(w, http.StatusCreated, toOutletDTO(*outlet, h.now()))
}

func (h *Handler) ListOutlets(w http.ResponseWriter, r *http.Request) {
	outlets, err := h.Engine.Outlets.List(r.Context())
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	now := h.now()
	dtos := make([]OutletDTO, len(outlets))
	for i, o := range outlets {
		dtos[i] = toOutletDTO(o, now)
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) GetOutlet(w http.ResponseWriter, r *http.Request) {
	outlet, err := h.Engine.Outlets.Get(r.Context(), outletParam(r))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toOutletDTO(*outlet, h.now()))
}

// =============================================================================
// ITEM HANDLERS
// =============================================================================

func (h *Handler) RegisterItem(w http.ResponseWriter, r *http.Request) {
	var req CreateItemRequest
	if !decodeBody(w, r, &req) {
		return
	}

	in := stock.RegisterInput{
		OutletID: outletParam(r),
		Name:     req.Name,
		Category: req.Category,
		Unit:     req.Unit,
	}
	if req.LowStockThreshold != nil {
		in.Thresholds.LowStock = *req.LowStockThreshold
	}
	if req.MaxStockLevel != nil {
		in.Thresholds.MaxStock = *req.MaxStockLevel
	}

	item, err := h.Engine.Items.Register(r.Context(), in)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	logger.Info(r.Context()).
		Str("outlet_id", string(item.OutletID)).
		Str("item_id", string(item.ID)).
		Str("unit", string(item.Unit)).
		Msg("item registered")
	writeJSON(w, http.StatusCreated, toItemDTO(*item))
}

func (h *Handler) ListItems(w http.ResponseWriter, r *http.Request) {
	includeRetired, _ := strconv.ParseBool(r.URL.Query().Get("include_retired"))
	items, err := h.Engine.Items.List(r.Context(), outletParam(r), stock.ItemFilter{IncludeRetired: includeRetired})
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	dtos := make([]ItemDTO, len(items))
	for i, it := range items {
		dtos[i] = toItemDTO(it)
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) GetItem(w http.ResponseWriter, r *http.Request) {
	item, err := h.Engine.Items.Get(r.Context(), itemParam(r))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toItemDTO(*item))
}

func (h *Handler) UpdateItem(w http.ResponseWriter, r *http.Request) {
	var req UpdateItemRequest
	if !decodeBody(w, r, &req) {
		return
	}

	item, err := h.Engine.Items.Update(r.Context(), itemParam(r), stock.ItemUpdate{
		Name:     req.Name,
		Category: req.Category,
		Unit:     req.Unit,
		LowStock: req.LowStockThreshold,
		MaxStock: req.MaxStockLevel,
	})
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toItemDTO(*item))
}

func (h *Handler) RetireItem(w http.ResponseWriter, r *http.Request) {
	item, err := h.Engine.Items.Retire(r.Context(), itemParam(r))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	logger.Info(r.Context()).Str("item_id", string(item.ID)).Msg("item retired")
	writeJSON(w, http.StatusOK, toItemDTO(*item))
}

// SuggestItem is advisory only; nothing is stored.
func (h *Handler) SuggestItem(w http.ResponseWriter, r *http.Request) {
	name := strings.TrimSpace(r.URL.Query().Get("name"))
	if name == "" {
		writeError(w, http.StatusBadRequest, "validation_failed", "name is required", nil)
		return
	}
	s := stock.SuggestClassification(name)
	writeJSON(w, http.StatusOK, SuggestionDTO{Name: name, Category: s.Category, Unit: string(s.Unit), Matched: s.Matched})
}

// =============================================================================
// STOCK HANDLERS
// =============================================================================

func (h *Handler) GetItemStock(w http.ResponseWriter, r *http.Request) {
	s, err := h.Engine.Stock.CurrentStock(r.Context(), itemParam(r))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toStockDTO(*s))
}

func (h *Handler) GetOutletStock(w http.ResponseWriter, r *http.Request) {
	stocks, err := h.Engine.Stock.Outlet(r.Context(), outletParam(r), stock.ItemFilter{})
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	dtos := make([]StockDTO, len(stocks))
	for i, s := range stocks {
		dtos[i] = toStockDTO(s)
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) LowStock(w http.ResponseWriter, r *http.Request) {
	low, err := h.Engine.Stock.LowStock(r.Context(), outletParam(r))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	dtos := make([]LowStockDTO, len(low))
	for i, l := range low {
		dtos[i] = LowStockDTO{
			ItemID:    string(l.Item.ID),
			Name:      l.Item.Name,
			Quantity:  l.Quantity.Value,
			Unit:      string(l.Quantity.Unit),
			Threshold: l.Threshold,
		}
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// LEDGER HANDLERS
// =============================================================================

func (h *Handler) RecordMovement(w http.ResponseWriter, r *http.Request) {
	var req RecordMovementRequest
	if !decodeBody(w, r, &req) {
		return
	}

	direction, err := stock.ParseDirection(req.Direction)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	reason, err := stock.ParseReason(req.Reason)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	in := stock.RecordInput{
		ItemID:         itemParam(r),
		Direction:      direction,
		Amount:         req.Amount,
		Reason:         reason,
		Note:           req.Note,
		IdempotencyKey: firstNonEmpty(r.Header.Get(headerIdempotencyKey), req.IdempotencyKey),
		RecordedBy:     firstNonEmpty(r.Header.Get(headerActor), req.RecordedBy),
	}
	if req.OccurredAt != nil {
		in.OccurredAt = *req.OccurredAt
	}

	m, err := h.Engine.Ledger.Record(r.Context(), in)
	if err != nil {
		h.Metrics.RecordRejection(rejectionCause(err))
		writeDomainError(w, r, err)
		return
	}
	if m.Replayed {
		logger.Info(r.Context()).
			Str("item_id", string(m.ItemID)).
			Int64("seq", m.Seq).
			Str("idempotency_key", m.IdempotencyKey).
			Msg("movement replayed")
		writeJSON(w, http.StatusOK, toMovementDTO(*m))
		return
	}
	h.Metrics.RecordMovement(string(m.Direction), string(m.Reason))

	logger.Info(r.Context()).
		Str("item_id", string(m.ItemID)).
		Int64("seq", m.Seq).
		Str("direction", string(m.Direction)).
		Str("amount", m.Amount.String()).
		Str("reason", string(m.Reason)).
		Msg("movement recorded")
	writeJSON(w, http.StatusCreated, toMovementDTO(*m))
}

func (h *Handler) ListMovements(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()

	outlet, err := h.Engine.Outlets.Get(ctx, outletParam(r))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	loc := outlet.Location()

	hq := stock.HistoryQuery{
		OutletID: outlet.ID,
		ItemID:   stock.ItemID(q.Get("item_id")),
		Cursor:   q.Get("cursor"),
	}
	if hq.From, err = parseInstant("from", q.Get("from"), loc); err != nil {
		writeDomainError(w, r, err)
		return
	}
	if hq.To, err = parseInstant("to", q.Get("to"), loc); err != nil {
		writeDomainError(w, r, err)
		return
	}
	if hq.Limit, err = parseLimit(q.Get("limit")); err != nil {
		writeDomainError(w, r, err)
		return
	}

	page, err := h.Engine.Ledger.History(ctx, hq)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	resp := MovementPageResponse{Movements: make([]MovementDTO, len(page.Movements)), NextCursor: page.NextCursor}
	for i, m := range page.Movements {
		resp.Movements[i] = toMovementDTO(m)
	}
	writeJSON(w, http.StatusOK, resp)
}

// =============================================================================
// METRICS HANDLERS
// =============================================================================

func (h *Handler) TodayMetrics(w http.ResponseWriter, r *http.Request) {
	m, err := h.Engine.Metrics.Today(r.Context(), outletParam(r))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toTodayMetricsDTO(*m))
}

func (h *Handler) DailyMetrics(w http.ResponseWriter, r *http.Request) {
	var date stock.Date
	if s := r.URL.Query().Get("date"); s != "" {
		d, err := stock.ParseDate(s)
		if err != nil {
			writeDomainError(w, r, err)
			return
		}
		date = d
	}

	daily, err := h.Engine.Metrics.Daily(r.Context(), outletParam(r), date)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	resp := DailyMetricsDTO{
		OutletID: string(daily.OutletID),
		Date:     daily.Date,
		Source:   string(daily.Source),
		Items:    make([]ItemDailyDTO, len(daily.Items)),
	}
	for i, d := range daily.Items {
		resp.Items[i] = toItemDailyDTO(d)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) Forecast(w http.ResponseWriter, r *http.Request) {
	lookback := 0
	if s := r.URL.Query().Get("lookback"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "validation_failed", "lookback must be a positive integer", nil)
			return
		}
		lookback = n
	}

	covers, err := h.Engine.Metrics.CoverForecast(r.Context(), outletParam(r), lookback)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	dtos := make([]CoverDTO, len(covers))
	for i, c := range covers {
		dtos[i] = CoverDTO{
			ItemID:       string(c.ItemID),
			Name:         c.Name,
			Unit:         string(c.Unit),
			Current:      c.Current,
			AverageDaily: c.AverageDaily,
			SampleDays:   c.SampleDays,
			DaysOfCover:  c.DaysOfCover,
		}
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// CLOSING HANDLERS
// =============================================================================

func (h *Handler) CloseDay(w http.ResponseWriter, r *http.Request) {
	var req CloseDayRequest
	if !decodeBody(w, r, &req) {
		return
	}

	out, err := h.closeDay(r.Context(), stock.CloseDayInput{
		OutletID: outletParam(r),
		Date:     req.Date,
		ClosedBy: firstNonEmpty(r.Header.Get(headerActor), req.ClosedBy),
	})
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, CloseDayResponse{
		OutletID:   string(out.DayClose.OutletID),
		Date:       out.DayClose.Date,
		CutoverSeq: out.DayClose.CutoverSeq,
		ClosedAt:   out.DayClose.ClosedAt,
		ClosedBy:   out.DayClose.ClosedBy,
		Snapshots:  toSnapshotDTOs(out.Snapshots),
	})
}

// closeDay is shared by the HTTP endpoint and the auto-close scheduler.
func (h *Handler) closeDay(ctx context.Context, in stock.CloseDayInput) (*stock.CloseDayOutput, error) {
	start := time.Now()
	out, err := h.Engine.Closing.CloseDay(ctx, in)
	elapsed := time.Since(start)

	if err != nil {
		h.Metrics.RecordClosing(closingOutcome(err), 0, elapsed)
		logger.Warn(ctx).Err(err).
			Str("outlet_id", string(in.OutletID)).
			Str("date", in.Date.String()).
			Msg("day close failed")
		return nil, err
	}

	h.Metrics.RecordClosing("closed", len(out.Snapshots), elapsed)
	logger.Info(ctx).
		Str("outlet_id", string(in.OutletID)).
		Str("date", in.Date.String()).
		Int64("cutover_seq", out.DayClose.CutoverSeq).
		Int("snapshots", len(out.Snapshots)).
		Dur("duration", elapsed).
		Msg("day closed")
	return out, nil
}

func (h *Handler) GetDayClose(w http.ResponseWriter, r *http.Request) {
	date, err := stock.ParseDate(chi.URLParam(r, "date"))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	outletID := outletParam(r)

	dc, err := h.Engine.Closing.DayClose(r.Context(), outletID, date)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	if dc == nil {
		writeError(w, http.StatusNotFound, "not_found", "day "+date.String()+" is not closed", nil)
		return
	}
	snaps, err := h.Engine.Closing.Snapshots(r.Context(), stock.SnapshotQuery{OutletID: outletID, From: date, To: date})
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, CloseDayResponse{
		OutletID:   string(dc.OutletID),
		Date:       dc.Date,
		CutoverSeq: dc.CutoverSeq,
		ClosedAt:   dc.ClosedAt,
		ClosedBy:   dc.ClosedBy,
		Snapshots:  toSnapshotDTOs(snaps),
	})
}

func (h *Handler) ListSnapshots(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	sq := stock.SnapshotQuery{OutletID: outletParam(r), ItemID: stock.ItemID(q.Get("item_id"))}
	var err error
	if sq.From, err = parseOptionalDate(q.Get("from")); err != nil {
		writeDomainError(w, r, err)
		return
	}
	if sq.To, err = parseOptionalDate(q.Get("to")); err != nil {
		writeDomainError(w, r, err)
		return
	}

	snaps, err := h.Engine.Closing.Snapshots(r.Context(), sq)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toSnapshotDTOs(snaps))
}

// =============================================================================
// HEALTH
// =============================================================================

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if h.Ping != nil {
		if err := h.Ping(r.Context()); err != nil {
			writeError(w, http.StatusServiceUnavailable, "unavailable", "storage unreachable", err.Error())
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	writeJSON(w, status, ErrorResponse{Error: message, Code: code, Details: details})
}

// writeDomainError maps the stock error taxonomy onto HTTP status codes.
func writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		validation *stock.ValidationError
		notFound   *stock.NotFoundError
		short      *stock.InsufficientStockError
		closed     *stock.AlreadyClosedError
	)

	switch {
	case errors.As(err, &validation):
		writeError(w, http.StatusBadRequest, "validation_failed", err.Error(), map[string]string{"field": validation.Field})
	case errors.As(err, &notFound):
		writeError(w, http.StatusNotFound, "not_found", err.Error(), map[string]string{"kind": notFound.Kind, "id": notFound.ID})
	case errors.As(err, &short):
		writeError(w, http.StatusUnprocessableEntity, "insufficient_stock", err.Error(), map[string]string{
			"available": short.Available.String(),
			"requested": short.Requested.String(),
			"shortfall": short.Shortfall.String(),
			"unit":      string(short.Unit),
		})
	case errors.As(err, &closed):
		writeError(w, http.StatusConflict, "already_closed", err.Error(), map[string]string{"date": closed.Date.String()})
	case errors.Is(err, stock.ErrValidation):
		writeError(w, http.StatusBadRequest, "validation_failed", err.Error(), nil)
	case errors.Is(err, stock.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", err.Error(), nil)
	case errors.Is(err, stock.ErrConflict):
		writeError(w, http.StatusConflict, "conflict", err.Error(), nil)
	default:
		logger.Error(r.Context()).Err(err).Str("path", r.URL.Path).Msg("request failed")
		writeError(w, http.StatusInternalServerError, "internal", "internal error", nil)
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "validation_failed", "invalid request body", err.Error())
		return false
	}
	return true
}

func outletParam(r *http.Request) stock.OutletID {
	return stock.OutletID(chi.URLParam(r, "outletID"))
}

func itemParam(r *http.Request) stock.ItemID {
	return stock.ItemID(chi.URLParam(r, "itemID"))
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

// parseInstant accepts RFC 3339 or a bare date, which means local midnight
// in the outlet's timezone.
func parseInstant(field, s string, loc *time.Location) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	d, err := stock.ParseDate(s)
	if err != nil {
		return time.Time{}, &stock.ValidationError{Field: field, Message: "use RFC 3339 or YYYY-MM-DD"}
	}
	return d.Start(loc), nil
}

func parseOptionalDate(s string) (stock.Date, error) {
	if s == "" {
		return stock.Date{}, nil
	}
	return stock.ParseDate(s)
}

func parseLimit(s string) (int, error) {
	if s == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 1 {
		return 0, &stock.ValidationError{Field: "limit", Message: "must be a positive integer"}
	}
	return n, nil
}

func rejectionCause(err error) string {
	switch {
	case errors.Is(err, stock.ErrInsufficientStock):
		return "insufficient_stock"
	case errors.Is(err, stock.ErrItemRetired):
		return "item_retired"
	case errors.Is(err, stock.ErrIdempotencyMismatch):
		return "idempotency_mismatch"
	case errors.Is(err, stock.ErrValidation):
		return "validation"
	case errors.Is(err, stock.ErrNotFound):
		return "not_found"
	default:
		return "error"
	}
}

func closingOutcome(err error) string {
	switch {
	case errors.Is(err, stock.ErrAlreadyClosed):
		return "already_closed"
	case errors.Is(err, stock.ErrConflict):
		return "out_of_order"
	case stock.IsClientError(err), stock.IsNotFound(err):
		return "rejected"
	default:
		return "failed"
	}
}
