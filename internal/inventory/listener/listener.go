package listener

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/fekuna/vetvax-order-service/internal/apperr"
	"github.com/fekuna/vetvax-order-service/internal/auth"
	"github.com/fekuna/vetvax-order-service/internal/batch"
	"github.com/fekuna/vetvax-order-service/internal/batch/dto"
	"github.com/fekuna/vetvax-order-service/pkg/logger"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

const (
	EventStockAdjusted = "StockAdjusted"
	dedupeTTL          = 24 * time.Hour
	maxRetryBackoff    = 30 * time.Second
)

// MessageReader is satisfied by *broker.KafkaConsumer.
type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
}

// Deduplicator is satisfied by *cache.RedisClient.
type Deduplicator interface {
	MarkOnce(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Delete(ctx context.Context, keys ...string) error
}

// StockListener applies stock counts reported by warehouse scanners.
type StockListener struct {
	consumer MessageReader
	dedupe   Deduplicator
	uc       batch.UseCase
	logger   logger.ZapLogger
	backoff  time.Duration
}

// NewStockListener builds the listener. dedupe may be nil, in which case
// redelivered events are applied again.
func NewStockListener(consumer MessageReader, dedupe Deduplicator, uc batch.UseCase, log logger.ZapLogger) *StockListener {
	return &StockListener{
		consumer: consumer,
		dedupe:   dedupe,
		uc:       uc,
		logger:   log,
		backoff:  time.Second,
	}
}

func (l *StockListener) Start(ctx context.Context) {
	l.logger.Info("Starting stock Kafka listener")
	for {
		select {
		case <-ctx.Done():
			l.logger.Info("Stopping stock Kafka listener")
			return
		default:
			msg, err := l.consumer.FetchMessage(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				l.logger.Error("Failed to read kafka message", zap.Error(err))
				time.Sleep(1 * time.Second)
				continue
			}
			if !l.handle(ctx, msg) {
				return
			}
			if err := l.consumer.CommitMessages(ctx, msg); err != nil {
				l.logger.Error("Failed to commit kafka message",
					zap.Int("partition", msg.Partition),
					zap.Int64("offset", msg.Offset),
					zap.Error(err),
				)
			}
		}
	}
}

// handle retries msg until it is applied or judged unprocessable. The offset
// stays uncommitted meanwhile, so a restart redelivers it. It reports false
// when ctx ends first.
func (l *StockListener) handle(ctx context.Context, msg kafka.Message) bool {
	wait := l.backoff
	for attempt := 1; ; attempt++ {
		err := l.processMessage(ctx, msg.Value)
		if err == nil {
			return true
		}
		l.logger.Warn("retrying stock event",
			zap.Int("attempt", attempt),
			zap.Int64("offset", msg.Offset),
			zap.Duration("wait", wait),
			zap.Error(err),
		)
		select {
		case <-ctx.Done():
			return false
		case <-time.After(wait):
		}
		wait = min(wait*2, maxRetryBackoff)
	}
}

type StockAdjustedEvent struct {
	EventID   string               `json:"event_id"`
	EventType string               `json:"event_type"`
	Payload   StockAdjustedPayload `json:"payload"`
	Timestamp time.Time            `json:"timestamp"`
}

type StockAdjustedPayload struct {
	ScannerID string              `json:"scanner_id"`
	Updates   []StockCountPayload `json:"updates"`
}

type StockCountPayload struct {
	BatchID         string  `json:"batch_id"`
	Quantity        int     `json:"quantity"`
	StorageLocation *string `json:"storage_location"`
	Reason          string  `json:"reason"`
}

// processMessage applies one event. Malformed, foreign and duplicate events
// return nil so they are committed; an error means the event should be retried.
func (l *StockListener) processMessage(ctx context.Context, value []byte) error {
	var event StockAdjustedEvent
	if err := json.Unmarshal(value, &event); err != nil {
		l.logger.Error("Failed to unmarshal event", zap.Error(err))
		return nil
	}
	if event.EventType != EventStockAdjusted {
		return nil
	}

	key := "events:stock:" + event.EventID
	if l.dedupe != nil && event.EventID != "" {
		first, err := l.dedupe.MarkOnce(ctx, key, dedupeTTL)
		if err != nil {
			l.logger.Warn("dedupe check failed, applying event anyway", zap.String("event_id", event.EventID), zap.Error(err))
		} else if !first {
			l.logger.Debug("skipping duplicate stock event", zap.String("event_id", event.EventID))
			return nil
		}
	}

	input := &dto.BulkAdjustInput{
		User:    auth.System(),
		Updates: make([]dto.StockUpdate, 0, len(event.Payload.Updates)),
	}
	for _, u := range event.Payload.Updates {
		qty := u.Quantity
		reason := u.Reason
		if reason == "" && event.Payload.ScannerID != "" {
			reason = "Scanner count " + event.Payload.ScannerID
		}
		input.Updates = append(input.Updates, dto.StockUpdate{
			BatchID:         u.BatchID,
			Quantity:        &qty,
			StorageLocation: u.StorageLocation,
			Reason:          reason,
		})
	}

	summary, err := l.uc.BulkAdjustStock(ctx, input)
	if err != nil && (apperr.IsValidation(err) || errors.Is(err, apperr.ErrForbidden)) {
		l.logger.Error("Dropping invalid stock event", zap.String("event_id", event.EventID), zap.Error(err))
		return nil
	}
	if err != nil {
		l.logger.Error("Failed to apply stock event", zap.String("event_id", event.EventID), zap.Error(err))
		if l.dedupe != nil && event.EventID != "" {
			if delErr := l.dedupe.Delete(ctx, key); delErr != nil {
				l.logger.Warn("failed to release dedupe key", zap.String("event_id", event.EventID), zap.Error(delErr))
			}
		}
		return fmt.Errorf("apply stock event %s: %w", event.EventID, err)
	}

	l.logger.Info("Applied stock event",
		zap.String("event_id", event.EventID),
		zap.Int("updated", summary.Updated),
		zap.Int("skipped", len(summary.Skipped)),
	)
	return nil
}
