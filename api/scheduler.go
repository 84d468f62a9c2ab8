/*
scheduler.go - Automated end-of-day closing

PURPOSE:
  Periodically closes the previous business day for every outlet that has
  not been closed yet, so a forgotten manual close does not leave the open
  period growing across several days.

DESIGN:
  - Runs a background goroutine with configurable check interval
  - "Previous business day" is computed in each outlet's own timezone
  - Skips outlets whose previous day, or a later day, is already closed
  - Goes through the same closing path as the HTTP endpoint (metrics and
    logs included); a concurrent manual close simply wins

CONFIGURATION:
  - CheckInterval: How often to check (default: 15 minutes)
  - Enabled: Whether scheduler is active

USAGE:
  scheduler := NewAutoCloseScheduler(handler)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - handlers.go: CloseDay endpoint (manual closing)
  - stock/closing.go: ClosingEngine
*/
package api

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/warp/stock-ledger/logger"
	"github.com/warp/stock-ledger/stock"
)

// AutoCloseScheduler closes yesterday for every outlet.
type AutoCloseScheduler struct {
	Handler       *Handler
	CheckInterval time.Duration
	Enabled       bool
	ClosedBy      string

	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// CloseRunSummary reports what one check did.
type CloseRunSummary struct {
	Closed  int
	Skipped int
	Failed  int
}

func NewAutoCloseScheduler(handler *Handler) *AutoCloseScheduler {
	return &AutoCloseScheduler{
		Handler:       handler,
		CheckInterval: 15 * time.Minute,
		Enabled:       true,
		ClosedBy:      "auto-close",
	}
}

// Start begins the scheduler.
func (s *AutoCloseScheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.Enabled {
		logger.Logger.Info().Msg("auto-close scheduler disabled, not starting")
		return
	}
	if s.ticker != nil {
		return
	}

	s.ticker = time.NewTicker(s.CheckInterval)
	s.stop = make(chan struct{})
	s.wg.Add(1)

	go s.run()

	logger.Logger.Info().Dur("interval", s.CheckInterval).Msg("auto-close scheduler started")
}

// Stop stops the scheduler and waits for an in-flight check.
func (s *AutoCloseScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ticker != nil {
		s.ticker.Stop()
		close(s.stop)
		s.wg.Wait()
		s.ticker = nil
		logger.Logger.Info().Msg("auto-close scheduler stopped")
	}
}

func (s *AutoCloseScheduler) run() {
	defer s.wg.Done()

	// Run immediately on start
	s.RunNow(context.Background())

	for {
		select {
		case <-s.ticker.C:
			s.RunNow(context.Background())
		case <-s.stop:
			return
		}
	}
}

// RunNow performs one check (also used by tests and admin tooling).
func (s *AutoCloseScheduler) RunNow(ctx context.Context) CloseRunSummary {
	var summary CloseRunSummary
	engine := s.Handler.Engine

	outlets, err := engine.Outlets.List(ctx)
	if err != nil {
		logger.Error(ctx).Err(err).Msg("auto-close: listing outlets")
		return summary
	}

	now := s.Handler.now()
	for _, outlet := range outlets {
		yesterday := outlet.Today(now).AddDays(-1)

		done, err := s.alreadyCovered(ctx, outlet.ID, yesterday)
		if err != nil {
			logger.Error(ctx).Err(err).Str("outlet_id", string(outlet.ID)).Msg("auto-close: checking close state")
			summary.Failed++
			continue
		}
		if done {
			summary.Skipped++
			continue
		}

		_, err = s.Handler.closeDay(ctx, stock.CloseDayInput{
			OutletID: outlet.ID,
			Date:     yesterday,
			ClosedBy: s.ClosedBy,
		})
		switch {
		case err == nil:
			summary.Closed++
		case errors.Is(err, stock.ErrAlreadyClosed), errors.Is(err, stock.ErrConflict):
			summary.Skipped++
		default:
			summary.Failed++
		}
	}

	if summary.Closed > 0 || summary.Failed > 0 {
		logger.Info(ctx).
			Int("closed", summary.Closed).
			Int("skipped", summary.Skipped).
			Int("failed", summary.Failed).
			Msg("auto-close run completed")
	}
	return summary
}

// alreadyCovered reports whether date, or any later date, is closed.
func (s *AutoCloseScheduler) alreadyCovered(ctx context.Context, outletID stock.OutletID, date stock.Date) (bool, error) {
	latest, err := s.Handler.Engine.Closing.Store.LatestDayClose(ctx, outletID)
	if err != nil {
		return false, err
	}
	return latest != nil && !latest.Date.Before(date), nil
}
