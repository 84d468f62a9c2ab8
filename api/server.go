/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request, picked up by the logger
  2. RealIP:     Client address behind a proxy
  3. Recoverer:  Panic recovery (500 instead of crash)
  4. Logging:    One zerolog line per request
  5. Metrics:    Prometheus counters/histograms keyed by route pattern
  6. CORS:       Cross-origin requests for the back-office frontend

ROUTE GROUPS:
  /api/outlets/*   Outlet-scoped resources (items, ledger, views, closings)
  /api/items/*     Item-scoped resources (identity, stock, movements)
  /healthz         Liveness + storage ping
  /metrics         Prometheus scrape endpoint

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/warp/stock-ledger/logger"
)

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, allowedOrigins []string) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)
	r.Use(h.metricsMiddleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PATCH", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", headerIdempotencyKey, headerActor},
		ExposedHeaders:   []string{middleware.RequestIDHeader},
		AllowCredentials: true,
	}))

	r.Get("/healthz", h.Health)
	r.Method(http.MethodGet, "/metrics", h.Metrics.Handler())

	// API routes
	r.Route("/api", func(r chi.Router) {
		r.Route("/outlets", func(r chi.Router) {
			r.Get("/", h.ListOutlets)
			r.Post("/", h.CreateOutlet)

			r.Route("/{outletID}", func(r chi.Router) {
				r.Get("/", h.GetOutlet)
				r.Get("/items", h.ListItems)
				r.Post("/items", h.RegisterItem)
				r.Get("/movements", h.ListMovements)
				r.Get("/stock", h.GetOutletStock)
				r.Get("/low-stock", h.LowStock)
				r.Get("/metrics/today", h.TodayMetrics)
				r.Get("/metrics/daily", h.DailyMetrics)
				r.Get("/forecast", h.Forecast)
				r.Post("/closings", h.CloseDay)
				r.Get("/closings/{date}", h.GetDayClose)
				r.Get("/snapshots", h.ListSnapshots)
			})
		})

		r.Route("/items", func(r chi.Router) {
			r.Get("/suggest", h.SuggestItem)

			r.Route("/{itemID}", func(r chi.Router) {
				r.Get("/", h.GetItem)
				r.Patch("/", h.UpdateItem)
				r.Post("/retire", h.RetireItem)
				r.Get("/stock", h.GetItemStock)
				r.Post("/movements", h.RecordMovement)
			})
		})
	})

	return r
}

// =============================================================================
// MIDDLEWARE
// =============================================================================

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		event := logger.Info(r.Context())
		if status >= 500 {
			event = logger.Error(r.Context())
		} else if status >= 400 {
			event = logger.Warn(r.Context())
		}
		event.
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", status).
			Int("bytes", ww.BytesWritten()).
			Dur("duration", time.Since(start)).
			Msg("request completed")
	})
}

// metricsMiddleware labels by route pattern so ids do not explode cardinality.
func (h *Handler) metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		h.Metrics.HTTPRequestsInFlight.Inc()
		defer h.Metrics.HTTPRequestsInFlight.Dec()

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if p := rctx.RoutePattern(); p != "" {
				route = p
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		h.Metrics.RecordHTTPRequest(r.Method, route, status, time.Since(start))
	})
}
