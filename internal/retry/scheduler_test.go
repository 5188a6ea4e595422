package retry

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xamircastel/xafra-ads-v5-sub000/internal/model"
	"github.com/xamircastel/xafra-ads-v5-sub000/internal/postback"
)

func TestDelay_MonotonicAndCapped(t *testing.T) {
	initial := 30 * time.Second
	max := 30 * time.Minute

	prev := time.Duration(0)
	for attempts := 1; attempts <= 20; attempts++ {
		d := Delay(initial, 2.0, max, attempts)
		assert.GreaterOrEqual(t, d, prev, "delay must be non-decreasing (attempt %d)", attempts)
		assert.LessOrEqual(t, d, max, "delay must be capped (attempt %d)", attempts)
		prev = d
	}

	assert.Equal(t, initial, Delay(initial, 2.0, max, 1))
	assert.Equal(t, time.Minute, Delay(initial, 2.0, max, 2))
	assert.Equal(t, max, Delay(initial, 2.0, max, 12))
}

func TestDelay_DegenerateInputs(t *testing.T) {
	// attempts below 1 behaves like the first attempt
	assert.Equal(t, time.Second, Delay(time.Second, 2, time.Minute, 0))
	// multiplier below 1 is clamped: constant schedule
	assert.Equal(t, time.Second, Delay(time.Second, 0.5, time.Minute, 5))
}

// --- scheduler ---

type fakeRepo struct {
	mu        sync.Mutex
	due       []model.RetryItem
	completed []string
	exhausted []string
	resched   map[string]time.Time
	attempts  map[string]int
}

func newFakeRepo(items ...model.RetryItem) *fakeRepo {
	return &fakeRepo{
		due:      items,
		resched:  map[string]time.Time{},
		attempts: map[string]int{},
	}
}

func (f *fakeRepo) Insert(context.Context, *model.RetryItem) error        { return nil }
func (f *fakeRepo) Get(context.Context, string) (*model.RetryItem, error) { return nil, nil }

func (f *fakeRepo) LeaseDue(_ context.Context, _ time.Time, limit int) ([]model.RetryItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := limit
	if n > len(f.due) {
		n = len(f.due)
	}
	out := f.due[:n]
	f.due = f.due[n:]
	return out, nil
}

func (f *fakeRepo) MarkCompleted(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.completed = append(f.completed, id)
	return nil
}

func (f *fakeRepo) Reschedule(_ context.Context, id string, attempts int, nextAt time.Time, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resched[id] = nextAt
	f.attempts[id] = attempts
	return nil
}

func (f *fakeRepo) MarkExhausted(_ context.Context, id string, attempts int, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.exhausted = append(f.exhausted, id)
	f.attempts[id] = attempts
	return nil
}

func (f *fakeRepo) Cancel(context.Context, string, string) (bool, error) { return false, nil }
func (f *fakeRepo) List(context.Context, model.RetryStatus, int, int) ([]model.RetryItem, error) {
	return nil, nil
}

type fakeDeliverer struct {
	mu    sync.Mutex
	out   postback.Outcome
	calls []string
}

func (f *fakeDeliverer) Resend(_ context.Context, item *model.RetryItem) postback.Outcome {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, item.ID)
	return f.out
}

func testItem(id string, attempts, maxAttempts int) model.RetryItem {
	return model.RetryItem{
		ID:             id,
		Tracking:       "trk-" + id,
		URL:            "https://adv.example.com/cb",
		Method:         "GET",
		Attempts:       attempts,
		MaxAttempts:    maxAttempts,
		InitialDelayMs: 30_000,
		Multiplier:     2.0,
		MaxDelayMs:     1_800_000,
		Status:         model.RetryProcessing,
	}
}

func TestTick_SuccessCompletesItem(t *testing.T) {
	repo := newFakeRepo(testItem("a", 1, 8))
	d := &fakeDeliverer{out: postback.Outcome{Result: postback.ResultDelivered, HTTPStatus: 200}}
	s := NewScheduler(repo, d, Options{}, zap.NewNop())

	s.Tick(context.Background())

	assert.Equal(t, []string{"a"}, d.calls)
	assert.Equal(t, []string{"a"}, repo.completed)
	assert.Empty(t, repo.resched)
}

func TestTick_FailureReschedulesWithBackoff(t *testing.T) {
	repo := newFakeRepo(testItem("b", 1, 8))
	d := &fakeDeliverer{out: postback.Outcome{Result: postback.ResultTimeout, ErrorMessage: "timeout"}}

	base := time.Now()
	s := NewScheduler(repo, d, Options{}, zap.NewNop()).WithClock(func() time.Time { return base })

	s.Tick(context.Background())

	require.Contains(t, repo.resched, "b")
	assert.Equal(t, 2, repo.attempts["b"])
	// attempt 2 delay = 30s*2 = 1m, plus up to 10% jitter
	next := repo.resched["b"]
	assert.GreaterOrEqual(t, next, base.Add(time.Minute))
	assert.LessOrEqual(t, next, base.Add(time.Minute+6*time.Second+time.Second))
}

func TestTick_ExhaustionIsTerminal(t *testing.T) {
	repo := newFakeRepo(testItem("c", 7, 8))
	d := &fakeDeliverer{out: postback.Outcome{Result: postback.ResultHTTPError, HTTPStatus: 500, ErrorMessage: "500"}}
	s := NewScheduler(repo, d, Options{}, zap.NewNop())

	s.Tick(context.Background())

	assert.Equal(t, []string{"c"}, repo.exhausted)
	assert.Equal(t, 8, repo.attempts["c"])
	assert.Empty(t, repo.resched)

	// the queue is drained: nothing is leased or re-sent afterwards
	d.calls = nil
	s.Tick(context.Background())
	assert.Empty(t, d.calls)
}

func TestTick_BatchDispatchedConcurrently(t *testing.T) {
	items := []model.RetryItem{
		testItem("x1", 1, 8), testItem("x2", 1, 8), testItem("x3", 1, 8),
		testItem("x4", 1, 8), testItem("x5", 1, 8),
	}
	repo := newFakeRepo(items...)
	d := &fakeDeliverer{out: postback.Outcome{Result: postback.ResultDelivered}}
	s := NewScheduler(repo, d, Options{WorkerCount: 2}, zap.NewNop())

	s.Tick(context.Background())

	assert.Len(t, d.calls, 5)
	assert.Len(t, repo.completed, 5)
}
