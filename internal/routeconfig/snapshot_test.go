package routeconfig

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/burncloud/burncloud-router/internal/store"
)

func newUpstream(id, matchPath string) store.Upstream {
	return store.Upstream{Id: id, Name: id, MatchPath: matchPath, Protocol: "openai"}
}

func TestSnapshotResolve_LongestPrefixWins(t *testing.T) {
	ups := []store.Upstream{
		newUpstream("u1", "/v1"),
		newUpstream("u2", "/v1/chat/completions"),
	}
	snap := &Snapshot{Upstreams: ups, ByID: map[string]*store.Upstream{}}
	for i := range ups {
		snap.ByID[ups[i].Id] = &ups[i]
		snap.routes = append(snap.routes, Route{MatchPath: ups[i].MatchPath, Upstream: &ups[i]})
	}
	sortRoutes(snap.routes)

	r := snap.Resolve("/v1/chat/completions")
	require.NotNil(t, r)
	assert.Equal(t, "u2", r.Upstream.Id)
}

func TestSnapshotResolve_UnrelatedShorterPathDoesNotChangeLongerResolution(t *testing.T) {
	ups := []store.Upstream{newUpstream("u2", "/v1/chat/completions")}
	snap := &Snapshot{Upstreams: ups, ByID: map[string]*store.Upstream{}}
	for i := range ups {
		snap.ByID[ups[i].Id] = &ups[i]
		snap.routes = append(snap.routes, Route{MatchPath: ups[i].MatchPath, Upstream: &ups[i]})
	}
	sortRoutes(snap.routes)
	before := snap.Resolve("/v1/chat/completions")
	require.NotNil(t, before)

	// Insert an unrelated shorter path.
	unrelated := newUpstream("u3", "/v1/embeddings")
	snap.ByID[unrelated.Id] = &unrelated
	snap.routes = append(snap.routes, Route{MatchPath: unrelated.MatchPath, Upstream: &unrelated})
	sortRoutes(snap.routes)

	after := snap.Resolve("/v1/chat/completions")
	require.NotNil(t, after)
	assert.Equal(t, before.Upstream.Id, after.Upstream.Id)
}

func TestSnapshotResolve_NoMatch(t *testing.T) {
	snap := &Snapshot{ByID: map[string]*store.Upstream{}}
	assert.Nil(t, snap.Resolve("/anything"))
}
