/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the stock ledger server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load configuration (.env + environment), then flags
  2. Initialize logger and SQLite store
  3. Build the stock engine and API handler
  4. Start the auto-close scheduler and the Kafka order listener if enabled
  5. Start server with graceful shutdown

COMMAND-LINE FLAGS:
  -port    HTTP server port (overrides HTTP_PORT)
  -db      SQLite database path (overrides DB_PATH)
           Use ":memory:" for in-memory database

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop the listener and the scheduler
  2. Stop accepting new connections
  3. Wait for active requests to complete
  4. Close database connection

EXAMPLES:
  ./server -db="./data/stock.db"
  ALLOW_NEGATIVE_STOCK=false ./server -port=3000
  KAFKA_ENABLED=true KAFKA_BROKERS=localhost:9092 ./server

SEE ALSO:
  - config/config.go: Environment variables
  - api/server.go: Router configuration
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/warp/stock-ledger/api"
	"github.com/warp/stock-ledger/config"
	"github.com/warp/stock-ledger/listener"
	"github.com/warp/stock-ledger/logger"
	"github.com/warp/stock-ledger/metrics"
	"github.com/warp/stock-ledger/stock"
	"github.com/warp/stock-ledger/store/sqlite"
)

func main() {
	cfg := config.Load()

	// Flags
	port := flag.String("port", cfg.Server.Port, "HTTP server port")
	dbPath := flag.String("db", cfg.Database.Path, "SQLite database path")
	flag.Parse()

	logger.Init("stock-ledger", cfg.IsDevelopment())
	logger.SetLevel(cfg.Logger.Level)
	log := logger.Logger

	if *dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(*dbPath), 0o755); err != nil {
			log.Fatal().Err(err).Str("path", *dbPath).Msg("failed to create data directory")
		}
	}

	// Initialize store
	store, err := sqlite.New(*dbPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize database")
	}
	defer store.Close()

	engine := stock.NewEngine(store, stock.Options{
		AllowNegativeStock: cfg.Ledger.AllowNegativeStock,
		DefaultTimezone:    cfg.Ledger.DefaultTimezone,
	})
	m := metrics.New()

	handler := api.NewHandler(engine, m)
	handler.Ping = store.Ping

	router := api.NewRouter(handler, cfg.Server.CORSOrigins)

	ctx, stop := context.WithCancel(context.Background())
	defer stop()
	var background sync.WaitGroup

	// Auto-close scheduler
	scheduler := api.NewAutoCloseScheduler(handler)
	scheduler.Enabled = cfg.Scheduler.Enabled
	scheduler.CheckInterval = cfg.Scheduler.Interval
	scheduler.ClosedBy = cfg.Scheduler.ClosedBy
	scheduler.Start()

	// Kafka order listener
	if cfg.Kafka.Enabled {
		reader := listener.NewKafkaReader(cfg.Kafka)
		orders := listener.NewOrderListener(reader, engine.Ledger, m)
		background.Add(1)
		go func() {
			defer background.Done()
			defer reader.Close()
			orders.Start(ctx)
		}()
		log.Info().Strs("brokers", cfg.Kafka.Brokers).Str("topic", cfg.Kafka.Topic).Msg("kafka order listener enabled")
	}

	server := &http.Server{
		Addr:         ":" + *port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Info().Str("addr", server.Addr).Bool("allow_negative_stock", cfg.Ledger.AllowNegativeStock).Msg("server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down server")

	stop()
	scheduler.Stop()
	background.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}

	log.Info().Msg("server stopped")
}
