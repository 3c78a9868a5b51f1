// Package routeconfig implements the route resolver and configuration
// store: an immutable snapshot behind an atomic.Pointer, longest-prefix
// match over registered paths, and a reload that swaps only the pointer so
// in-flight requests keep using their captured snapshot.
package routeconfig

import (
	"sort"
	"strings"
	"sync/atomic"

	"github.com/pkg/errors"
	"gorm.io/gorm"

	"github.com/burncloud/burncloud-router/internal/store"
)

// Route is one entry in the resolver's total order: either a single Upstream
// or a Group, both carrying the match-path they registered.
type Route struct {
	MatchPath string
	Upstream  *store.Upstream // nil if this route is a Group
	Group     *store.Group    // nil if this route is a single Upstream
}

// Snapshot is the immutable config view: the upstream and group lists plus
// an id index, all built once per reload.
type Snapshot struct {
	Upstreams []store.Upstream
	Groups    []store.Group
	Members   map[string][]store.GroupMember // group_id -> members, weight DESC
	ByID      map[string]*store.Upstream
	routes    []Route // pre-sorted: longest match-path first, then lexicographic
}

// Resolve returns the route matching the longest registered prefix of path,
// or nil if no route matches (caller returns 404).
func (s *Snapshot) Resolve(path string) *Route {
	for i := range s.routes {
		r := &s.routes[i]
		if strings.HasPrefix(path, r.MatchPath) {
			return r
		}
	}
	return nil
}

// UpstreamByID looks up an Upstream by its stable id within this snapshot.
func (s *Snapshot) UpstreamByID(id string) *store.Upstream {
	return s.ByID[id]
}

// Store holds the live atomic reference; all request tasks read via
// Current(), reload swaps via Reload().
type Store struct {
	ptr atomic.Pointer[Snapshot]
}

// Current returns the presently-active snapshot. Safe for concurrent use; no
// locking, no blocking of other readers.
func (s *Store) Current() *Snapshot {
	return s.ptr.Load()
}

// Reload rebuilds the snapshot from the store and swaps it in atomically
// (POST /internal/reload). Readers that already captured the old
// pointer keep using it for the remainder of their request.
func (s *Store) Reload(db *gorm.DB) error {
	snap, err := Build(db)
	if err != nil {
		return errors.Wrap(err, "build snapshot")
	}
	s.ptr.Store(snap)
	return nil
}

// Build reads Upstreams/Groups/GroupMembers from the store and constructs an
// immutable Snapshot with routes pre-sorted longest-prefix-first, ties
// broken lexicographically, a deterministic total order.
func Build(db *gorm.DB) (*Snapshot, error) {
	ups, err := store.ListUpstreams(db)
	if err != nil {
		return nil, err
	}
	grps, err := store.ListGroups(db)
	if err != nil {
		return nil, err
	}

	members := map[string][]store.GroupMember{}
	for i := range grps {
		rows, err := store.ListGroupMembers(db, grps[i].Id)
		if err != nil {
			return nil, err
		}
		members[grps[i].Id] = rows
	}
	return NewSnapshot(ups, grps, members), nil
}

// NewSnapshot assembles an immutable Snapshot from already-loaded rows.
func NewSnapshot(ups []store.Upstream, grps []store.Group, members map[string][]store.GroupMember) *Snapshot {
	if members == nil {
		members = map[string][]store.GroupMember{}
	}
	snap := &Snapshot{
		Upstreams: ups,
		Groups:    grps,
		Members:   members,
		ByID:      map[string]*store.Upstream{},
	}
	for i := range ups {
		snap.ByID[ups[i].Id] = &ups[i]
	}
	// Rows without a match path are group members only, not directly
	// routable.
	for i := range grps {
		if grps[i].MatchPath != "" {
			snap.routes = append(snap.routes, Route{MatchPath: grps[i].MatchPath, Group: &grps[i]})
		}
	}
	for i := range ups {
		if ups[i].MatchPath != "" {
			snap.routes = append(snap.routes, Route{MatchPath: ups[i].MatchPath, Upstream: &ups[i]})
		}
	}
	sortRoutes(snap.routes)
	return snap
}

// Set installs a pre-built snapshot, used at startup and by tests.
func (s *Store) Set(snap *Snapshot) {
	s.ptr.Store(snap)
}

// sortRoutes enforces the deterministic total order: longer match-path
// first, then lexicographic, so prefix resolution and tests are reproducible.
func sortRoutes(routes []Route) {
	sort.SliceStable(routes, func(i, j int) bool {
		li, lj := len(routes[i].MatchPath), len(routes[j].MatchPath)
		if li != lj {
			return li > lj
		}
		return routes[i].MatchPath < routes[j].MatchPath
	})
}
