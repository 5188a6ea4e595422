package worker

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/xamircastel/xafra-ads-v5-sub000/internal/model"
	"github.com/xamircastel/xafra-ads-v5-sub000/internal/repository"
)

// OutboxPublisher is what the relay needs from the Kafka side.
type OutboxPublisher interface {
	Publish(ctx context.Context, topic string, key, value []byte) error
}

// OutboxRelay moves committed outbox rows into Kafka. The SKIP LOCKED lease
// in FetchPending lets several relay replicas run against the same table;
// stuck processing rows are reclaimed there too.
type OutboxRelay struct {
	Outbox       repository.OutboxRepository
	Publisher    OutboxPublisher
	PollInterval time.Duration
	BatchSize    int
	MaxAttempts  int // publish attempts before a row is parked as failed
	Log          *zap.Logger
}

func NewOutboxRelay(outbox repository.OutboxRepository, publisher OutboxPublisher, log *zap.Logger) *OutboxRelay {
	return &OutboxRelay{
		Outbox:       outbox,
		Publisher:    publisher,
		PollInterval: time.Second,
		BatchSize:    100,
		MaxAttempts:  10,
		Log:          log,
	}
}

// Run blocks until ctx is cancelled.
func (w *OutboxRelay) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			w.Tick(ctx)
		}
	}
}

// Tick publishes one leased batch.
func (w *OutboxRelay) Tick(ctx context.Context) {
	events, err := w.Outbox.FetchPending(ctx, w.BatchSize)
	if err != nil {
		w.Log.Error("fetch outbox batch failed", zap.Error(err))
		return
	}

	for _, ev := range events {
		w.relayOne(ctx, ev)
	}
}

func (w *OutboxRelay) relayOne(ctx context.Context, ev model.OutboxEvent) {
	err := w.Publisher.Publish(ctx, ev.Topic, []byte(ev.AggregateID), ev.Payload)
	if err == nil {
		if err := w.Outbox.MarkSent(ctx, ev.ID); err != nil {
			w.Log.Error("mark outbox sent failed", zap.Int64("id", ev.ID), zap.Error(err))
		}
		return
	}

	w.Log.Error("publish outbox event failed",
		zap.Int64("id", ev.ID),
		zap.String("topic", ev.Topic),
		zap.Int("attempts", ev.Attempts),
		zap.Error(err),
	)
	// FetchPending already bumped attempts; leave the row in processing so
	// the stuck-row reclaim retries it, unless it has burned its budget.
	if ev.Attempts >= w.MaxAttempts {
		if err := w.Outbox.MarkFailed(ctx, ev.ID); err != nil {
			w.Log.Error("mark outbox failed failed", zap.Int64("id", ev.ID), zap.Error(err))
		}
	}
}
