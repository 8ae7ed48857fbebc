package journal

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ismaiel54/tick-gapfill/internal/msg"
	"go.uber.org/zap"
)

// Producer is the subset of msg.Producer the publisher needs
type Producer interface {
	ProduceJSON(ctx context.Context, topic string, key string, v any) error
}

// Publisher publishes outbox records to Kafka
type Publisher struct {
	store     *Store
	producer  Producer
	logger    *zap.Logger
	interval  time.Duration
	batchSize int
}

// NewPublisher creates a new outbox publisher
func NewPublisher(store *Store, producer Producer, logger *zap.Logger) *Publisher {
	return &Publisher{
		store:     store,
		producer:  producer,
		logger:    logger,
		interval:  250 * time.Millisecond,
		batchSize: 100,
	}
}

// Run publishes on a ticker until ctx is done
func (p *Publisher) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := p.publishBatch(ctx); err != nil {
				p.logger.Error("failed to publish batch", zap.Error(err))
			}
		}
	}
}

// Flush publishes until the outbox is empty or a batch makes no progress.
// It returns the number of records published.
func (p *Publisher) Flush(ctx context.Context) (int, error) {
	total := 0
	for {
		published, err := p.publishBatch(ctx)
		total += published
		if err != nil {
			return total, err
		}
		if published == 0 {
			break
		}
	}

	remaining, err := p.store.ListUnpublished(ctx, 1)
	if err != nil {
		return total, fmt.Errorf("failed to list unpublished records: %w", err)
	}
	if len(remaining) > 0 {
		return total, fmt.Errorf("outbox not drained: records remain unpublished")
	}
	return total, nil
}

// publishBatch publishes a batch of unpublished records
func (p *Publisher) publishBatch(ctx context.Context) (int, error) {
	events, err := p.store.ListUnpublished(ctx, p.batchSize)
	if err != nil {
		return 0, fmt.Errorf("failed to list unpublished records: %w", err)
	}

	if len(events) == 0 {
		return 0, nil
	}

	now := time.Now().UnixMilli()
	published := 0

	for _, event := range events {
		var tick msg.TickMsg
		if err := json.Unmarshal([]byte(event.PayloadJSON), &tick); err != nil {
			p.logger.Error("failed to unmarshal outbox payload",
				zap.String("event_id", event.EventID),
				zap.Error(err),
			)
			continue
		}

		if err := p.producer.ProduceJSON(ctx, event.Topic, event.Key, tick); err != nil {
			p.logger.Error("failed to produce tick",
				zap.String("event_id", event.EventID),
				zap.String("session_id", event.SessionID),
				zap.Int32("sequence", event.Sequence),
				zap.Error(err),
			)
			// Retried on the next batch
			continue
		}

		if err := p.store.MarkPublished(ctx, event.EventID, now); err != nil {
			p.logger.Error("failed to mark record as published",
				zap.String("event_id", event.EventID),
				zap.Error(err),
			)
			// Worst case the tick is republished; consumers dedupe on (session_id, sequence)
			continue
		}

		published++
	}

	if published > 0 {
		p.logger.Info("published outbox batch",
			zap.Int("published", published),
			zap.Int("total", len(events)),
		)
	}

	return published, nil
}
