package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/burncloud/burncloud-router/internal/breaker"
	"github.com/burncloud/burncloud-router/internal/routeconfig"
	"github.com/burncloud/burncloud-router/internal/store"
	"github.com/burncloud/burncloud-router/internal/store/cache"
)

func newControllerServer(t *testing.T) (*Server, *gorm.DB) {
	t.Helper()
	s, db := newAuthServer(t)
	require.NoError(t, db.AutoMigrate(
		&store.Upstream{}, &store.Group{}, &store.GroupMember{}, &store.Price{}))

	s.Routes = &routeconfig.Store{}
	s.Breaker = breaker.New(5, 30*time.Second, nil)
	s.Cache = cache.New("", time.Minute, time.Minute)
	require.NoError(t, s.Routes.Reload(db))
	return s, db
}

func TestListModels_SurfacesUpstreamsAndGroups(t *testing.T) {
	s, db := newControllerServer(t)
	require.NoError(t, db.Create(&store.Upstream{
		Id: "u1", Name: "gpt-4-pool", Protocol: "openai", MatchPath: "/v1",
	}).Error)
	require.NoError(t, db.Create(&store.Group{
		Id: "g1", Name: "balanced", MatchPath: "/v1/chat", Strategy: "round_robin",
	}).Error)
	require.NoError(t, db.Create(&store.Price{
		Model: "gpt-4-pool", Currency: "USD", SupportsTools: true, ContextWindow: 8192,
	}).Error)
	require.NoError(t, s.Routes.Reload(db))

	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest("GET", "/v1/models", nil)
	s.ListModels(c)

	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Object string       `json:"object"`
		Data   []modelEntry `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "list", resp.Object)
	require.Len(t, resp.Data, 2)

	byID := map[string]modelEntry{}
	for _, e := range resp.Data {
		byID[e.Id] = e
		assert.Equal(t, "model", e.Object)
	}
	assert.True(t, byID["gpt-4-pool"].SupportsTools)
	assert.Equal(t, 8192, byID["gpt-4-pool"].ContextWindow)
	assert.Equal(t, "group", byID["balanced"].OwnedBy)
}

func TestHealthStatus_ReportsBreakerStates(t *testing.T) {
	s, _ := newControllerServer(t)
	for i := 0; i < 5; i++ {
		s.Breaker.RecordFailure("sick")
	}
	s.Breaker.RecordSuccess("well")

	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest("GET", "/internal/health", nil)
	s.HealthStatus(c)

	require.Equal(t, http.StatusOK, w.Code)
	var states map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &states))
	assert.Equal(t, "open", states["sick"])
	assert.Equal(t, "closed", states["well"])
}

func TestReload_SwapsSnapshot(t *testing.T) {
	s, db := newControllerServer(t)
	before := s.Routes.Current()
	require.Nil(t, before.Resolve("/v1/chat/completions"))

	require.NoError(t, db.Create(&store.Upstream{
		Id: "u1", Name: "u1", Protocol: "openai", MatchPath: "/v1",
	}).Error)

	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest("POST", "/internal/reload", nil)
	s.Reload(c)
	// Outside the engine nothing flushes the status recorded by c.Status.
	c.Writer.WriteHeaderNow()

	assert.Equal(t, http.StatusNoContent, w.Code)
	after := s.Routes.Current()
	require.NotNil(t, after.Resolve("/v1/chat/completions"))
	// The pre-reload snapshot is untouched.
	assert.Nil(t, before.Resolve("/v1/chat/completions"))
}
