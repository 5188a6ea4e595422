package distribution

import (
	"context"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xamircastel/xafra-ads-v5-sub000/internal/model"
)

type fakeMetrics struct {
	clicks    map[int64]int64
	confirmed map[int64]int64
	calls     int
}

func (f *fakeMetrics) ClickCounts(_ context.Context, _ []int64, _ time.Time) (map[int64]int64, error) {
	f.calls++
	return f.clicks, nil
}

func (f *fakeMetrics) ConfirmedCounts(_ context.Context, _ []int64, _ time.Time) (map[int64]int64, error) {
	f.calls++
	return f.confirmed, nil
}

func offers(ids ...int64) []model.Product {
	out := make([]model.Product, len(ids))
	for i, id := range ids {
		out[i] = model.Product{ID: id, Active: true, Random: true}
	}
	return out
}

func newTestEngine(m MetricsSource, seed int64) *Engine {
	return NewEngine(m, DefaultConfig()).WithRand(rand.New(rand.NewSource(seed)))
}

func TestSelect_EmptyPool(t *testing.T) {
	e := newTestEngine(&fakeMetrics{}, 1)

	_, err := e.Select(context.Background(), nil)
	assert.ErrorIs(t, err, ErrNoEligibleOffers)
}

func TestSelect_InsufficientData_RandomOverFullPool(t *testing.T) {
	// only one offer is data-rich: must stay in random mode and every pool
	// member must be selectable
	m := &fakeMetrics{
		clicks:    map[int64]int64{1: 50, 2: 3, 3: 0},
		confirmed: map[int64]int64{1: 10},
	}
	e := newTestEngine(m, 7)
	pool := offers(1, 2, 3)

	hits := map[int64]int{}
	for i := 0; i < 3000; i++ {
		sel, err := e.Select(context.Background(), pool)
		require.NoError(t, err)
		assert.Equal(t, MethodRandom, sel.Method)
		hits[sel.Product.ID]++
	}
	for _, id := range []int64{1, 2, 3} {
		assert.Greater(t, hits[id], 0, "offer %d never selected", id)
	}
}

func TestSelect_LowTotalClicks_RandomMode(t *testing.T) {
	// raise the pool-wide threshold so two data-rich offers still fall
	// back to the random path
	cfg := DefaultConfig()
	cfg.MinClicksTotal = 100
	m := &fakeMetrics{
		clicks:    map[int64]int64{1: 30, 2: 30},
		confirmed: map[int64]int64{1: 3, 2: 1},
	}
	e := NewEngine(m, cfg).WithRand(rand.New(rand.NewSource(3)))

	sel, err := e.Select(context.Background(), offers(1, 2))
	require.NoError(t, err)
	assert.Equal(t, MethodRandom, sel.Method)
}

func TestSelect_PerformanceWeighting(t *testing.T) {
	// A converts at 10%, B at 1%: A must win strictly more often, B must
	// still receive traffic through the floor weight
	m := &fakeMetrics{
		clicks:    map[int64]int64{1: 1000, 2: 1000},
		confirmed: map[int64]int64{1: 100, 2: 10},
	}
	e := newTestEngine(m, 42)
	pool := offers(1, 2)

	hits := map[int64]int{}
	for i := 0; i < 5000; i++ {
		sel, err := e.Select(context.Background(), pool)
		require.NoError(t, err)
		assert.Equal(t, MethodPerformance, sel.Method)
		hits[sel.Product.ID]++
	}

	assert.Greater(t, hits[1], hits[2], "better performer must be selected more often")
	assert.Greater(t, hits[2], 0, "floor weight must keep the weak offer in rotation")
	// expected shares: A = 1.0/1.19 ≈ 0.84, B = 0.19/1.19 ≈ 0.16
	assert.InDelta(t, 0.84, float64(hits[1])/5000, 0.05)
}

func TestSelect_ZeroConversions_EqualFloorWeights(t *testing.T) {
	m := &fakeMetrics{
		clicks:    map[int64]int64{1: 100, 2: 100},
		confirmed: map[int64]int64{},
	}
	e := newTestEngine(m, 11)
	pool := offers(1, 2)

	hits := map[int64]int{}
	for i := 0; i < 2000; i++ {
		sel, err := e.Select(context.Background(), pool)
		require.NoError(t, err)
		require.Equal(t, MethodPerformance, sel.Method)
		hits[sel.Product.ID]++
	}
	// all-floor weights: roughly even split
	assert.InDelta(t, 1000, hits[1], 150)
}

func TestSelect_BatchedQueries(t *testing.T) {
	m := &fakeMetrics{
		clicks:    map[int64]int64{1: 100, 2: 100},
		confirmed: map[int64]int64{1: 5, 2: 5},
	}
	e := newTestEngine(m, 5)

	_, err := e.Select(context.Background(), offers(1, 2))
	require.NoError(t, err)
	// one clicks query + one confirmed query, regardless of pool size
	assert.Equal(t, 2, m.calls)
}
