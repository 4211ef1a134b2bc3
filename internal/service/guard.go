package service

import (
	"sync"

	"golang.org/x/sync/singleflight"
)

// runGuard keeps runs on one Reconciler from overlapping. Concurrent calls
// for the same job join the in-flight run and share its result; runs of
// different jobs wait for each other.
type runGuard struct {
	flights singleflight.Group
	mu      sync.Mutex
}

func (g *runGuard) do(job string, fn func() (any, error)) (any, error, bool) {
	return g.flights.Do(job, func() (any, error) {
		g.mu.Lock()
		defer g.mu.Unlock()
		return fn()
	})
}

// exclusive runs fn once no run is in progress
func (g *runGuard) exclusive(fn func()) {
	g.mu.Lock()
	defer g.mu.Unlock()
	fn()
}
