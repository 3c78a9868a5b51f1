// Package ratebucket enforces the static per-upstream request-rate ceiling
// (requests per minute) configured on an Upstream row. This is an operator
// limit, distinct from the learned adaptive limit; the lower of the two
// effectively wins because both are consulted before an attempt.
package ratebucket

import (
	"sync"
	"time"
)

type bucket struct {
	mu          sync.Mutex
	tokens      float64
	lastRefill  time.Time
	ratePerMin  int
}

// Registry holds one token bucket per upstream id.
type Registry struct {
	now     func() time.Time
	buckets sync.Map // upstream id -> *bucket
}

// New builds a Registry; nil nowFn means time.Now.
func New(nowFn func() time.Time) *Registry {
	if nowFn == nil {
		nowFn = time.Now
	}
	return &Registry{now: nowFn}
}

// Allow consumes one token from the upstream's bucket. ratePerMin <= 0 means
// unlimited. The bucket's capacity equals the per-minute rate.
func (r *Registry) Allow(upstreamID string, ratePerMin int) bool {
	if ratePerMin <= 0 {
		return true
	}
	v, ok := r.buckets.Load(upstreamID)
	if !ok {
		v, _ = r.buckets.LoadOrStore(upstreamID, &bucket{
			tokens:     float64(ratePerMin),
			lastRefill: r.now(),
			ratePerMin: ratePerMin,
		})
	}
	b := v.(*bucket)

	b.mu.Lock()
	defer b.mu.Unlock()

	// Reconfigure on the fly when the operator changes the rate.
	if b.ratePerMin != ratePerMin {
		b.ratePerMin = ratePerMin
		if b.tokens > float64(ratePerMin) {
			b.tokens = float64(ratePerMin)
		}
	}

	now := r.now()
	elapsed := now.Sub(b.lastRefill).Minutes()
	if elapsed > 0 {
		b.tokens += elapsed * float64(b.ratePerMin)
		if b.tokens > float64(b.ratePerMin) {
			b.tokens = float64(b.ratePerMin)
		}
		b.lastRefill = now
	}

	if b.tokens < 1 {
		return false
	}
	b.tokens--
	return true
}
