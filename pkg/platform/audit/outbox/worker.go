// Package outbox publishes audit outbox rows to the message broker.
package outbox

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"consentledger/pkg/platform/audit/store/postgres"
	"consentledger/pkg/platform/circuit"
)

// Record is one broker message.
type Record struct {
	Key     []byte
	Value   []byte
	Headers map[string]string
}

// Publisher delivers a batch of records. It either delivers every record or
// returns an error; partial delivery is reported as failure and retried.
type Publisher interface {
	Publish(ctx context.Context, records []Record) error
}

// Claimer hands out unpublished outbox entries.
type Claimer interface {
	ClaimUnpublished(ctx context.Context, limit int, fn func(ctx context.Context, entries []postgres.OutboxEntry) ([]uuid.UUID, error)) (int, error)
}

// Worker polls the outbox and publishes entries. Delivery is at-least-once:
// consumers deduplicate on the payload id.
type Worker struct {
	claimer   Claimer
	publisher Publisher
	breaker   *circuit.Breaker
	logger    *slog.Logger
	interval  time.Duration
	batchSize int
}

// Option configures the Worker.
type Option func(*Worker)

func WithInterval(d time.Duration) Option {
	return func(w *Worker) {
		if d > 0 {
			w.interval = d
		}
	}
}

func WithBatchSize(n int) Option {
	return func(w *Worker) {
		if n > 0 {
			w.batchSize = n
		}
	}
}

func WithBreaker(b *circuit.Breaker) Option {
	return func(w *Worker) {
		if b != nil {
			w.breaker = b
		}
	}
}

func NewWorker(claimer Claimer, publisher Publisher, logger *slog.Logger, opts ...Option) *Worker {
	w := &Worker{
		claimer:   claimer,
		publisher: publisher,
		logger:    logger,
		interval:  time.Second,
		batchSize: 100,
		breaker:   circuit.ForPublisher("audit_outbox"),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Run polls until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			// Drain full batches before waiting for the next tick.
			for {
				n, err := w.PublishOnce(ctx)
				if err != nil || n < w.batchSize {
					break
				}
			}
		}
	}
}

// PublishOnce publishes at most one batch and returns the number of entries
// marked published.
func (w *Worker) PublishOnce(ctx context.Context) (int, error) {
	if !w.breaker.Allow() {
		return 0, nil
	}
	n, err := w.claimer.ClaimUnpublished(ctx, w.batchSize, func(ctx context.Context, entries []postgres.OutboxEntry) ([]uuid.UUID, error) {
		records := make([]Record, 0, len(entries))
		ids := make([]uuid.UUID, 0, len(entries))
		for _, e := range entries {
			records = append(records, Record{
				Key:   []byte(e.AggregateID),
				Value: e.Payload,
				Headers: map[string]string{
					"event_type": e.EventType,
					"outbox_id":  e.ID.String(),
				},
			})
			ids = append(ids, e.ID)
		}
		if err := w.publisher.Publish(ctx, records); err != nil {
			return nil, err
		}
		return ids, nil
	})
	if err != nil {
		if _, change := w.breaker.RecordFailure(); change.Opened {
			w.logger.WarnContext(ctx, "audit outbox publisher circuit opened", "error", err)
		} else {
			w.logger.ErrorContext(ctx, "audit outbox publish failed", "error", err)
		}
		return n, err
	}
	if _, change := w.breaker.RecordSuccess(); change.Closed {
		w.logger.InfoContext(ctx, "audit outbox publisher circuit closed")
	}
	return n, nil
}
