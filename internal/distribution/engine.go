package distribution

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/xamircastel/xafra-ads-v5-sub000/internal/model"
)

var ErrNoEligibleOffers = errors.New("no eligible offers in pool")

const (
	MethodPerformance = "performance"
	MethodRandom      = "random"
)

// MetricsSource provides per-product click/conversion counters over a
// trailing window. Both queries are batched; the engine never issues one
// query per offer.
type MetricsSource interface {
	ClickCounts(ctx context.Context, productIDs []int64, since time.Time) (map[int64]int64, error)
	ConfirmedCounts(ctx context.Context, productIDs []int64, since time.Time) (map[int64]int64, error)
}

// Config carries the product-tuned constants. Inherited from operations;
// adjust only with the traffic owners.
type Config struct {
	Window           time.Duration // trailing metric window
	MinClicksOffer   int64         // clicks for an offer to count as data-rich
	MinClicksTotal   int64         // pool-wide clicks to leave random mode
	FloorWeight      float64       // minimum share every data-rich offer keeps
	PerformanceShare float64       // weight span scaled by relative conversion rate
}

func DefaultConfig() Config {
	return Config{
		Window:           24 * time.Hour,
		MinClicksOffer:   10,
		MinClicksTotal:   20,
		FloorWeight:      0.1,
		PerformanceShare: 0.9,
	}
}

// Selection is the engine's decision for one request.
type Selection struct {
	Product model.Product
	Method  string // performance|random
}

// Engine picks one offer per request from a customer's random-eligible pool.
// It is stateless: all inputs come from the read path, so concurrent
// correctness is a property of the data source.
type Engine struct {
	metrics MetricsSource
	cfg     Config
	now     func() time.Time

	mu  sync.Mutex
	rng *rand.Rand
}

func NewEngine(metrics MetricsSource, cfg Config) *Engine {
	if cfg.Window <= 0 {
		cfg.Window = 24 * time.Hour
	}
	if cfg.MinClicksOffer <= 0 {
		cfg.MinClicksOffer = 10
	}
	if cfg.MinClicksTotal <= 0 {
		cfg.MinClicksTotal = 20
	}
	if cfg.FloorWeight <= 0 {
		cfg.FloorWeight = 0.1
	}
	if cfg.PerformanceShare <= 0 {
		cfg.PerformanceShare = 0.9
	}
	return &Engine{
		metrics: metrics,
		cfg:     cfg,
		now:     time.Now,
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// WithRand replaces the random source. Test hook.
func (e *Engine) WithRand(rng *rand.Rand) *Engine {
	e.rng = rng
	return e
}

// WithClock replaces the time source. Test hook.
func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	return e
}

func (e *Engine) float64() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.rng.Float64()
}

func (e *Engine) intn(n int) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.rng.Intn(n)
}

type offerStats struct {
	product model.Product
	clicks  int64
	rate    float64
}

// Select picks one offer from the pool. With at least two data-rich offers
// and enough pool-wide traffic it weights by trailing conversion rate,
// otherwise it falls back to a uniform pick over the FULL pool so new offers
// still receive traffic.
func (e *Engine) Select(ctx context.Context, pool []model.Product) (*Selection, error) {
	if len(pool) == 0 {
		return nil, ErrNoEligibleOffers
	}

	ids := make([]int64, len(pool))
	for i, p := range pool {
		ids[i] = p.ID
	}
	since := e.now().Add(-e.cfg.Window)

	clicks, err := e.metrics.ClickCounts(ctx, ids, since)
	if err != nil {
		return nil, fmt.Errorf("click counts: %w", err)
	}
	confirmed, err := e.metrics.ConfirmedCounts(ctx, ids, since)
	if err != nil {
		return nil, fmt.Errorf("confirmed counts: %w", err)
	}

	var totalClicks int64
	rich := make([]offerStats, 0, len(pool))
	for _, p := range pool {
		cl := clicks[p.ID]
		totalClicks += cl
		if cl >= e.cfg.MinClicksOffer {
			rich = append(rich, offerStats{
				product: p,
				clicks:  cl,
				rate:    float64(confirmed[p.ID]) / float64(cl),
			})
		}
	}

	if len(rich) >= 2 && totalClicks >= e.cfg.MinClicksTotal {
		return e.selectWeighted(rich), nil
	}

	// insufficient data: uniform over the full pool, not just data-rich offers
	pick := pool[e.intn(len(pool))]
	return &Selection{Product: pick, Method: MethodRandom}, nil
}

// selectWeighted draws from the data-rich offers with weight
// floor + share*(rate/maxRate). The floor keeps zero-conversion offers in
// rotation so they can recover.
func (e *Engine) selectWeighted(rich []offerStats) *Selection {
	maxRate := 0.0
	best := 0
	for i, s := range rich {
		if s.rate > maxRate {
			maxRate = s.rate
			best = i
		}
	}

	weights := make([]float64, len(rich))
	var total float64
	for i, s := range rich {
		w := e.cfg.FloorWeight
		if maxRate > 0 {
			w += e.cfg.PerformanceShare * (s.rate / maxRate)
		}
		weights[i] = w
		total += w
	}

	draw := e.float64() * total
	var cum float64
	for i, w := range weights {
		cum += w
		if draw < cum {
			return &Selection{Product: rich[i].product, Method: MethodPerformance}
		}
	}

	// floating-point edge: the scan can fall off the end when draw ~= total.
	// Deterministic fallback to the single best performer.
	return &Selection{Product: rich[best].product, Method: MethodPerformance}
}
