package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Pacer blocks until the next call is allowed
type Pacer interface {
	Wait(ctx context.Context) error
}

// NewPacer returns a token bucket of one that refills every interval.
// The first Wait returns immediately, each later one at least interval
// after the previous.
func NewPacer(interval time.Duration) *rate.Limiter {
	if interval <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Every(interval), 1)
}

// Limiter applies a per-caller token bucket to manual sync triggers
type Limiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	limit   rate.Limit
	burst   int
	cleanup *time.Ticker
	done    chan struct{}
}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewLimiter allows maxRequests per window for each caller
func NewLimiter(maxRequests int, window time.Duration) *Limiter {
	if maxRequests < 1 {
		maxRequests = 1
	}
	limiter := &Limiter{
		buckets: make(map[string]*bucket),
		limit:   rate.Every(window / time.Duration(maxRequests)),
		burst:   maxRequests,
		cleanup: time.NewTicker(5 * time.Minute),
		done:    make(chan struct{}),
	}
	go limiter.cleanupOldBuckets()
	return limiter
}

// Allow reports whether caller may trigger another run now
func (l *Limiter) Allow(caller string) bool {
	if caller == "" {
		return true
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	b, exists := l.buckets[caller]
	if !exists {
		b = &bucket{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.buckets[caller] = b
	}
	b.lastSeen = time.Now()
	return b.limiter.Allow()
}

func (l *Limiter) cleanupOldBuckets() {
	for {
		select {
		case <-l.done:
			return
		case <-l.cleanup.C:
			l.mu.Lock()
			staleThreshold := time.Now().Add(-15 * time.Minute)
			for caller, b := range l.buckets {
				if b.lastSeen.Before(staleThreshold) {
					delete(l.buckets, caller)
				}
			}
			l.mu.Unlock()
		}
	}
}

// Stop releases the cleanup goroutine
func (l *Limiter) Stop() {
	l.cleanup.Stop()
	close(l.done)
}
