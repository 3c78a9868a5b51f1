// Package breaker implements the per-upstream three-state circuit breaker
// that sheds load away from sick upstreams. State lives in a concurrent map
// keyed by upstream id; each entry's transitions are serialised under a
// short-held mutex that is never held across I/O.
package breaker

import (
	"sync"
	"time"

	"github.com/burncloud/burncloud-router/internal/obsmetrics"
)

// State is one of the three breaker states.
type State int

const (
	Closed State = iota
	Open
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Open:
		return "open"
	case HalfOpen:
		return "half_open"
	default:
		return "closed"
	}
}

type entry struct {
	mu                  sync.Mutex
	state               State
	consecutiveFailures int
	openedAt            time.Time
	probeInFlight       bool
}

// Breaker tracks breaker entries for all upstreams. The zero value is not
// usable; construct with New.
type Breaker struct {
	failureThreshold int
	cooldown         time.Duration
	now              func() time.Time

	// OnStateChange, when set, is called outside the entry lock whenever an
	// upstream trips Open or recovers Closed. Used for operator
	// notifications; must not block.
	OnStateChange func(upstreamID string, state State)

	entries sync.Map // upstream id -> *entry
}

// New builds a Breaker with the given trip threshold and Open-state cooldown.
// nowFn is the clock; pass nil for time.Now.
func New(failureThreshold int, cooldown time.Duration, nowFn func() time.Time) *Breaker {
	if nowFn == nil {
		nowFn = time.Now
	}
	return &Breaker{
		failureThreshold: failureThreshold,
		cooldown:         cooldown,
		now:              nowFn,
	}
}

func (b *Breaker) get(id string) *entry {
	if v, ok := b.entries.Load(id); ok {
		return v.(*entry)
	}
	v, _ := b.entries.LoadOrStore(id, &entry{})
	return v.(*entry)
}

// Allow reports whether a request to the upstream may proceed. In Open state
// it permits a single probe once the cooldown has elapsed, moving the entry
// to HalfOpen.
func (b *Breaker) Allow(id string) bool {
	e := b.get(id)
	e.mu.Lock()
	defer e.mu.Unlock()

	switch e.state {
	case Closed:
		return true
	case Open:
		if b.now().Sub(e.openedAt) >= b.cooldown {
			e.state = HalfOpen
			e.probeInFlight = true
			b.gauge(id, HalfOpen)
			return true
		}
		return false
	case HalfOpen:
		// One probe at a time.
		if e.probeInFlight {
			return false
		}
		e.probeInFlight = true
		return true
	}
	return true
}

// RecordSuccess closes the breaker and clears the failure count.
func (b *Breaker) RecordSuccess(id string) {
	e := b.get(id)
	e.mu.Lock()
	recovered := e.state != Closed
	e.state = Closed
	e.consecutiveFailures = 0
	e.probeInFlight = false
	e.mu.Unlock()

	b.gauge(id, Closed)
	if recovered && b.OnStateChange != nil {
		b.OnStateChange(id, Closed)
	}
}

// RecordFailure counts a failure; at the threshold the breaker trips Open. A
// failed HalfOpen probe re-opens immediately and restarts the cooldown.
func (b *Breaker) RecordFailure(id string) {
	e := b.get(id)
	e.mu.Lock()
	tripped := false
	switch e.state {
	case HalfOpen:
		e.state = Open
		e.openedAt = b.now()
		e.probeInFlight = false
		tripped = true
	default:
		e.consecutiveFailures++
		if e.consecutiveFailures >= b.failureThreshold && e.state != Open {
			e.state = Open
			e.openedAt = b.now()
			tripped = true
		}
	}
	e.mu.Unlock()

	if tripped {
		b.gauge(id, Open)
		if b.OnStateChange != nil {
			b.OnStateChange(id, Open)
		}
	}
}

// Status returns the current state of one upstream's breaker without
// mutating it.
func (b *Breaker) Status(id string) State {
	e := b.get(id)
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// StatusMap snapshots every tracked upstream's state for the health surface.
func (b *Breaker) StatusMap() map[string]string {
	out := map[string]string{}
	b.entries.Range(func(k, v any) bool {
		e := v.(*entry)
		e.mu.Lock()
		out[k.(string)] = e.state.String()
		e.mu.Unlock()
		return true
	})
	return out
}

func (b *Breaker) gauge(id string, s State) {
	obsmetrics.BreakerState.WithLabelValues(id).Set(float64(s))
}
