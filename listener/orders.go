/*
Package listener consumes order events from Kafka and turns them into
ledger movements.

EVENT:
  {
    "event_id":    "evt-981",
    "event_type":  "order.fulfilled",
    "order_id":    "ord-1234",
    "outlet_id":   "downtown",
    "occurred_at": "2026-03-14T09:12:00Z",
    "lines": [{"item_id": "milk", "quantity": "0.25"}]
  }

  Each line becomes one outgoing order_consumption movement with the
  idempotency key order:<order_id>:<line_index>:<item_id>, so a redelivered
  event (Kafka is at-least-once) never double-deducts.

DELIVERY:
  - Malformed payloads and other event types are committed and skipped
  - Lines already recorded by an earlier delivery are replayed, not
    counted again
  - A line rejected by the ledger (unknown item, retired item, policy) is
    logged and skipped; the rest of the order is still recorded
  - Storage failures retry the whole event with backoff until they succeed
    or the context ends; the offset is committed only afterwards
*/
package listener

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"

	"github.com/warp/stock-ledger/config"
	"github.com/warp/stock-ledger/logger"
	"github.com/warp/stock-ledger/metrics"
	"github.com/warp/stock-ledger/stock"
)

const EventOrderFulfilled = "order.fulfilled"

// MessageReader is the subset of *kafka.Reader the listener needs.
type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// NewKafkaReader builds a consumer-group reader for the orders topic.
func NewKafkaReader(cfg config.KafkaConfig) *kafka.Reader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:  cfg.Brokers,
		GroupID:  cfg.GroupID,
		Topic:    cfg.Topic,
		MinBytes: 1,
		MaxBytes: 10e6,
		MaxWait:  time.Second,
	})
}

type OrderEvent struct {
	EventID    string      `json:"event_id"`
	EventType  string      `json:"event_type"`
	OrderID    string      `json:"order_id"`
	OutletID   string      `json:"outlet_id"`
	OccurredAt *time.Time  `json:"occurred_at,omitempty"`
	Lines      []OrderLine `json:"lines"`
}

type OrderLine struct {
	ItemID   string          `json:"item_id"`
	Quantity decimal.Decimal `json:"quantity"`
}

// LineKey is the idempotency key of one order line.
func LineKey(orderID string, index int, itemID string) string {
	return "order:" + orderID + ":" + strconv.Itoa(index) + ":" + itemID
}

// =============================================================================
// LISTENER
// =============================================================================

type OrderListener struct {
	Reader  MessageReader
	Ledger  *stock.Ledger
	Metrics *metrics.Metrics

	// RetryDelay is the first backoff after a storage failure; it doubles
	// up to MaxRetryDelay.
	RetryDelay    time.Duration
	MaxRetryDelay time.Duration
}

func NewOrderListener(reader MessageReader, ledger *stock.Ledger, m *metrics.Metrics) *OrderListener {
	return &OrderListener{
		Reader:        reader,
		Ledger:        ledger,
		Metrics:       m,
		RetryDelay:    500 * time.Millisecond,
		MaxRetryDelay: 30 * time.Second,
	}
}

// Start consumes until ctx is cancelled.
func (l *OrderListener) Start(ctx context.Context) {
	logger.Info(ctx).Msg("order listener started")
	for {
		msg, err := l.Reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				logger.Info(ctx).Msg("order listener stopped")
				return
			}
			logger.Error(ctx).Err(err).Msg("failed to fetch kafka message")
			if !sleep(ctx, l.RetryDelay) {
				return
			}
			continue
		}

		if err := l.handleWithRetry(ctx, msg.Value); err != nil {
			// Only a cancelled context gets here; leave the offset uncommitted.
			return
		}
		if err := l.Reader.CommitMessages(ctx, msg); err != nil && ctx.Err() == nil {
			logger.Error(ctx).Err(err).Int64("offset", msg.Offset).Msg("failed to commit kafka message")
		}
	}
}

func (l *OrderListener) handleWithRetry(ctx context.Context, value []byte) error {
	delay := l.RetryDelay
	for {
		err := l.Handle(ctx, value)
		if err == nil {
			return nil
		}
		l.record("retry")
		logger.Warn(ctx).Err(err).Dur("backoff", delay).Msg("order event failed, retrying")
		if !sleep(ctx, delay) {
			return ctx.Err()
		}
		delay *= 2
		if l.MaxRetryDelay > 0 && delay > l.MaxRetryDelay {
			delay = l.MaxRetryDelay
		}
	}
}

// Handle processes one message. It returns an error only for failures
// worth retrying; everything else is logged and dropped.
func (l *OrderListener) Handle(ctx context.Context, value []byte) error {
	var event OrderEvent
	if err := json.Unmarshal(value, &event); err != nil {
		l.record("malformed")
		logger.Error(ctx).Err(err).Msg("failed to unmarshal order event")
		return nil
	}
	if event.EventType != EventOrderFulfilled {
		l.record("ignored")
		return nil
	}
	if event.OrderID == "" {
		l.record("malformed")
		logger.Error(ctx).Str("event_id", event.EventID).Msg("order event without order_id")
		return nil
	}

	recorded, replayed, skipped := 0, 0, 0
	for i, line := range event.Lines {
		in := stock.RecordInput{
			ItemID:         stock.ItemID(line.ItemID),
			Direction:      stock.Outgoing,
			Amount:         line.Quantity,
			Reason:         stock.ReasonOrderConsumption,
			Note:           "order " + event.OrderID,
			IdempotencyKey: LineKey(event.OrderID, i, line.ItemID),
			RecordedBy:     "order-listener",
		}
		if event.OccurredAt != nil {
			in.OccurredAt = *event.OccurredAt
		}

		m, err := l.Ledger.Record(ctx, in)
		if err != nil {
			if permanent(err) {
				skipped++
				logger.Warn(ctx).Err(err).
					Str("order_id", event.OrderID).
					Str("item_id", line.ItemID).
					Int("line", i).
					Msg("order line rejected")
				continue
			}
			return fmt.Errorf("order %s line %d: %w", event.OrderID, i, err)
		}
		if m.Replayed {
			replayed++
			continue
		}
		if l.Metrics != nil {
			l.Metrics.RecordMovement(string(m.Direction), string(m.Reason))
		}
		recorded++
	}

	status := "processed"
	if skipped > 0 {
		status = "partial"
	}
	l.record(status)
	logger.Info(ctx).
		Str("order_id", event.OrderID).
		Str("outlet_id", event.OutletID).
		Int("recorded", recorded).
		Int("replayed", replayed).
		Int("skipped", skipped).
		Msg("order event processed")
	return nil
}

func (l *OrderListener) record(status string) {
	if l.Metrics != nil {
		l.Metrics.RecordOrderEvent(status)
	}
}

// permanent errors will fail the same way on every retry.
func permanent(err error) bool {
	return stock.IsClientError(err) ||
		stock.IsNotFound(err) ||
		errors.Is(err, stock.ErrConflict)
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
