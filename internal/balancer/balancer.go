// Package balancer implements the load-balancing strategies: RoundRobin,
// Weighted, and Priority, each a pure function of (group_id, member list,
// health view). Instead of a single pick, every call yields the full
// ordered candidate list used as the failover sequence.
package balancer

import (
	"sort"
	"sync"
	"sync/atomic"
)

// Strategy tags the supported balancing algorithms.
type Strategy string

const (
	RoundRobin Strategy = "round_robin"
	Weighted   Strategy = "weighted"
	Priority   Strategy = "priority"
)

// Member is a weight/priority-carrying candidate; Balancer is agnostic to
// what an upstream actually is.
type Member struct {
	UpstreamId string
	Weight     int
	Priority   int
}

// HealthView lets the balancer move unhealthy members to the tail without
// depending on the health package directly (keeps balancer reusable/testable
// in isolation).
type HealthView func(upstreamID string) bool

// Counters holds the per-group atomic counters driving RoundRobin/Weighted
// selection, one atomic integer per group.
type Counters struct {
	mu       sync.Mutex
	roundRob map[string]*uint64
	weighted map[string]*uint64
}

func NewCounters() *Counters {
	return &Counters{roundRob: map[string]*uint64{}, weighted: map[string]*uint64{}}
}

func (c *Counters) next(m map[string]*uint64, groupID string) uint64 {
	c.mu.Lock()
	ctr, ok := m[groupID]
	if !ok {
		ctr = new(uint64)
		m[groupID] = ctr
	}
	c.mu.Unlock()
	return atomic.AddUint64(ctr, 1) - 1
}

// Order produces the ordered candidate list (failover sequence) for one
// route request: pick a starting index per strategy, then rotate unhealthy
// members to the tail.
func Order(strategy Strategy, groupID string, members []Member, counters *Counters, healthy HealthView) []string {
	if len(members) == 0 {
		return nil
	}
	ordered := make([]Member, len(members))
	copy(ordered, members)

	switch strategy {
	case Weighted:
		ordered = weightedOrder(ordered, groupID, counters)
	case Priority:
		ordered = priorityOrder(ordered)
	default: // RoundRobin
		ordered = roundRobinOrder(ordered, groupID, counters)
	}

	return rotateUnhealthyToTail(ordered, healthy)
}

func roundRobinOrder(members []Member, groupID string, counters *Counters) []Member {
	n := uint64(len(members))
	start := counters.next(counters.roundRob, groupID) % n
	out := make([]Member, 0, n)
	for i := uint64(0); i < n; i++ {
		out = append(out, members[(start+i)%n])
	}
	return out
}

// weightedOrder sums weights into W, picks a cumulative-weight bucket via a
// counter modulo W, then orders starting from that member.
func weightedOrder(members []Member, groupID string, counters *Counters) []Member {
	var total uint64
	for _, m := range members {
		w := m.Weight
		if w < 0 {
			w = 0
		}
		total += uint64(w)
	}
	if total == 0 {
		// All-zero-weight group: fall back to stable input order rather than
		// divide by zero.
		return members
	}
	pick := counters.next(counters.weighted, groupID) % total

	var cumulative uint64
	startIdx := 0
	for i, m := range members {
		w := uint64(m.Weight)
		if w < 0 {
			w = 0
		}
		cumulative += w
		if pick < cumulative {
			startIdx = i
			break
		}
	}

	out := make([]Member, 0, len(members))
	for i := 0; i < len(members); i++ {
		out = append(out, members[(startIdx+i)%len(members)])
	}
	return out
}

// priorityOrder sorts descending by Priority, ties broken by id.
func priorityOrder(members []Member) []Member {
	out := make([]Member, len(members))
	copy(out, members)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority > out[j].Priority
		}
		return out[i].UpstreamId < out[j].UpstreamId
	})
	return out
}

// rotateUnhealthyToTail keeps relative order among each health bucket but
// moves every member the HealthView rejects to the end of the list.
func rotateUnhealthyToTail(members []Member, healthy HealthView) []string {
	if healthy == nil {
		ids := make([]string, len(members))
		for i, m := range members {
			ids[i] = m.UpstreamId
		}
		return ids
	}
	var ok, bad []string
	for _, m := range members {
		if healthy(m.UpstreamId) {
			ok = append(ok, m.UpstreamId)
		} else {
			bad = append(bad, m.UpstreamId)
		}
	}
	return append(ok, bad...)
}
