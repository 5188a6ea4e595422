package retry

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/xamircastel/xafra-ads-v5-sub000/internal/metrics"
	"github.com/xamircastel/xafra-ads-v5-sub000/internal/model"
	"github.com/xamircastel/xafra-ads-v5-sub000/internal/postback"
	"github.com/xamircastel/xafra-ads-v5-sub000/internal/repository"
)

// Deliverer re-attempts one leased retry item. *postback.Dispatcher satisfies
// this; the indirection keeps the scheduler testable without HTTP.
type Deliverer interface {
	Resend(ctx context.Context, item *model.RetryItem) postback.Outcome
}

type Options struct {
	PollInterval time.Duration // default 1m
	BatchSize    int           // leased items per tick, default 50
	WorkerCount  int           // concurrent re-sends per tick, default 8
}

// Scheduler is the poll-and-lease loop over the durable retry queue. Each
// tick leases a bounded batch and re-sends items concurrently, so one slow
// endpoint cannot stall the rest of the batch.
type Scheduler struct {
	repo      repository.RetryQueueRepository
	deliverer Deliverer
	opts      Options
	log       *zap.Logger
	now       func() time.Time

	mu  sync.Mutex
	rng *rand.Rand
}

func NewScheduler(repo repository.RetryQueueRepository, deliverer Deliverer, opts Options, log *zap.Logger) *Scheduler {
	if opts.PollInterval <= 0 {
		opts.PollInterval = time.Minute
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 50
	}
	if opts.WorkerCount <= 0 {
		opts.WorkerCount = 8
	}
	return &Scheduler{
		repo:      repo,
		deliverer: deliverer,
		opts:      opts,
		log:       log,
		now:       time.Now,
		rng:       rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// WithClock overrides the time source. Test hook.
func (s *Scheduler) WithClock(now func() time.Time) *Scheduler {
	s.now = now
	return s
}

// Run blocks until ctx is cancelled, draining one batch per tick.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.opts.PollInterval)
	defer ticker.Stop()

	s.log.Info("retry scheduler started",
		zap.Duration("poll_interval", s.opts.PollInterval),
		zap.Int("batch_size", s.opts.BatchSize),
		zap.Int("worker_count", s.opts.WorkerCount),
	)

	for {
		select {
		case <-ctx.Done():
			s.log.Info("retry scheduler stopping")
			return ctx.Err()
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Tick leases due items and processes them through a bounded worker pool.
func (s *Scheduler) Tick(ctx context.Context) {
	items, err := s.repo.LeaseDue(ctx, s.now(), s.opts.BatchSize)
	if err != nil {
		s.log.Error("lease retry batch failed", zap.Error(err))
		return
	}
	if len(items) == 0 {
		return
	}

	sem := make(chan struct{}, s.opts.WorkerCount)
	var wg sync.WaitGroup
	for i := range items {
		item := items[i]
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			s.processOne(ctx, &item)
		}()
	}
	wg.Wait()
}

func (s *Scheduler) processOne(ctx context.Context, item *model.RetryItem) {
	out := s.deliverer.Resend(ctx, item)

	if out.Delivered() {
		if err := s.repo.MarkCompleted(ctx, item.ID); err != nil {
			s.log.Error("mark retry completed failed", zap.String("id", item.ID), zap.Error(err))
		}
		metrics.RetriesTotal.WithLabelValues("completed").Inc()
		s.log.Info("postback retry delivered",
			zap.String("id", item.ID),
			zap.String("tracking", item.Tracking),
			zap.Int("attempt", item.Attempts+1),
		)
		return
	}

	attempts := item.Attempts + 1
	if attempts >= item.MaxAttempts {
		// terminal: retained as failed for operator inspection, never retried
		if err := s.repo.MarkExhausted(ctx, item.ID, attempts, out.ErrorMessage); err != nil {
			s.log.Error("mark retry exhausted failed", zap.String("id", item.ID), zap.Error(err))
		}
		metrics.RetriesTotal.WithLabelValues("exhausted").Inc()
		s.log.Warn("postback retries exhausted",
			zap.String("id", item.ID),
			zap.String("tracking", item.Tracking),
			zap.Int("attempts", attempts),
			zap.String("last_error", out.ErrorMessage),
		)
		return
	}

	delay := itemDelay(item, attempts)
	next := s.now().Add(delay + s.jitter(delay))
	if err := s.repo.Reschedule(ctx, item.ID, attempts, next, out.ErrorMessage); err != nil {
		s.log.Error("reschedule retry failed", zap.String("id", item.ID), zap.Error(err))
		return
	}
	metrics.RetriesTotal.WithLabelValues("rescheduled").Inc()
	s.log.Info("postback retry rescheduled",
		zap.String("id", item.ID),
		zap.String("tracking", item.Tracking),
		zap.Int("attempts", attempts),
		zap.Time("next_attempt_at", next),
	)
}

func (s *Scheduler) jitter(d time.Duration) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return time.Duration(s.rng.Float64() * jitterFraction * float64(d))
}
