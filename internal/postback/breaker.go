package postback

import (
	"net/url"
	"sync"
	"time"
)

type state int

const (
	closed state = iota
	open
	halfOpen
)

// hostBreaker suspends sends to an advertiser endpoint after consecutive
// failures, letting a single probe through once the open window elapses.
type hostBreaker struct {
	mu               sync.Mutex
	st               state
	consecutiveFails int
	failThreshold    int
	openFor          time.Duration
	nextTryAt        time.Time
	probeInFlight    bool
}

func newHostBreaker(threshold int, openFor time.Duration) *hostBreaker {
	return &hostBreaker{failThreshold: threshold, openFor: openFor}
}

func (b *hostBreaker) TryAcquire() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	switch b.st {
	case closed:
		return true
	case open:
		if now.After(b.nextTryAt) && !b.probeInFlight {
			b.st = halfOpen
			b.probeInFlight = true
			return true
		}
		return false
	case halfOpen:
		if !b.probeInFlight {
			b.probeInFlight = true
			return true
		}
		return false
	default:
		return true
	}
}

func (b *hostBreaker) OnSuccess() {
	b.mu.Lock()
	b.consecutiveFails = 0
	b.st = closed
	b.probeInFlight = false
	b.mu.Unlock()
}

func (b *hostBreaker) OnFailure() {
	b.mu.Lock()
	if b.st == halfOpen {
		b.st = open
		b.nextTryAt = time.Now().Add(b.openFor)
		b.probeInFlight = false
		b.mu.Unlock()
		return
	}

	b.consecutiveFails++
	if b.consecutiveFails >= b.failThreshold {
		b.st = open
		b.nextTryAt = time.Now().Add(b.openFor)
	}

	b.mu.Unlock()
}

// breakerSet keys breakers by endpoint host so one dead advertiser cannot
// burn attempts meant for healthy ones.
type breakerSet struct {
	mu        sync.Mutex
	byHost    map[string]*hostBreaker
	threshold int
	openFor   time.Duration
}

func newBreakerSet(threshold int, openFor time.Duration) *breakerSet {
	if threshold <= 0 {
		threshold = 5
	}
	if openFor <= 0 {
		openFor = 30 * time.Second
	}
	return &breakerSet{
		byHost:    make(map[string]*hostBreaker),
		threshold: threshold,
		openFor:   openFor,
	}
}

func (s *breakerSet) forURL(rawURL string) *hostBreaker {
	host := rawURL
	if u, err := url.Parse(rawURL); err == nil && u.Host != "" {
		host = u.Host
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.byHost[host]
	if !ok {
		b = newHostBreaker(s.threshold, s.openFor)
		s.byHost[host] = b
	}
	return b
}
