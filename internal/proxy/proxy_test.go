package proxy

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/burncloud/burncloud-router/internal/adaptivelimit"
	"github.com/burncloud/burncloud-router/internal/balancer"
	"github.com/burncloud/burncloud-router/internal/billing"
	"github.com/burncloud/burncloud-router/internal/breaker"
	"github.com/burncloud/burncloud-router/internal/health"
	"github.com/burncloud/burncloud-router/internal/meta"
	"github.com/burncloud/burncloud-router/internal/routeconfig"
	"github.com/burncloud/burncloud-router/internal/store"
)

func testDB(t *testing.T) *gorm.DB {
	t.Helper()
	// One named in-memory database per test: shared-cache so the journal
	// writer's connections see it, named so tests never see each other's rows.
	db, err := gorm.Open(sqlite.Open("file:"+t.Name()+"?cache=shared&mode=memory&_pragma=busy_timeout(5000)"),
		&gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&store.Upstream{}, &store.Group{}, &store.GroupMember{}, &store.Token{},
		&store.Price{}, &store.TieredPrice{}, &store.ExchangeRate{},
		&store.ProtocolConfig{}, &store.LogEntry{},
	))
	return db
}

type fixture struct {
	proxy   *Proxy
	db      *gorm.DB
	journal *billing.Journal
	routes  *routeconfig.Store
	brk     *breaker.Breaker
	tracker *health.Tracker
}

func newFixture(t *testing.T, ups []store.Upstream, grps []store.Group, members map[string][]store.GroupMember) *fixture {
	t.Helper()
	db := testDB(t)
	routes := &routeconfig.Store{}
	routes.Set(routeconfig.NewSnapshot(ups, grps, members))

	journal := billing.NewJournal(db, 100)
	t.Cleanup(journal.Close)
	brk := breaker.New(5, 30*time.Second, nil)
	tracker := health.NewTracker(adaptivelimit.DefaultConfig(), nil)
	p := New(db, routes, balancer.NewCounters(), brk, tracker, billing.NewSettler(db, journal))
	return &fixture{proxy: p, db: db, journal: journal, routes: routes, brk: brk, tracker: tracker}
}

func (f *fixture) seedToken(t *testing.T, quota int64) *store.Token {
	t.Helper()
	token := &store.Token{
		UserId: 7, Key: strings.Repeat("k", 48), Status: 1,
		RemainQuota: quota, Currency: "USD", ExpiredTime: -1,
	}
	require.NoError(t, f.db.Create(token).Error)
	return token
}

func doRelay(t *testing.T, f *fixture, token *store.Token, body string) *httptest.ResponseRecorder {
	t.Helper()
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest("POST", "/v1/chat/completions", strings.NewReader(body))
	c.Request.Header.Set("Authorization", "Bearer inbound-secret")
	c.Request.Header.Set("Content-Type", "application/json")

	m := meta.FromContext(c)
	m.Mode = meta.ModeChatCompletions
	m.RequestId = "req-test"
	if token != nil {
		m.TokenId = token.Id
		m.UserId = token.UserId
		m.Currency = token.Currency
	}
	f.proxy.Relay(c, m)
	return w
}

const chatBody = `{"model":"gpt-4","messages":[{"role":"user","content":"hi"}]}`

func TestRelay_HappyPathOpenAI(t *testing.T) {
	var gotAuth, gotInbound string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotInbound = r.Header.Get("X-Api-Key")
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"cmpl-1","choices":[{"message":{"content":"hello"}}],"usage":{"prompt_tokens":8,"completion_tokens":2}}`))
	}))
	defer upstream.Close()

	f := newFixture(t, []store.Upstream{{
		Id: "u1", Name: "u1", BaseURL: upstream.URL, APIKey: "upstream-key",
		Protocol: "openai", MatchPath: "/v1",
	}}, nil, nil)
	token := f.seedToken(t, 1_000_000_000)

	w := doRelay(t, f, token, chatBody)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "hello")
	assert.Equal(t, "Bearer upstream-key", gotAuth)
	assert.Empty(t, gotInbound)
}

func TestRelay_QuotaDecrementedFromUpstreamUsage(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"usage":{"prompt_tokens":1000,"completion_tokens":500}}`))
	}))
	defer upstream.Close()

	f := newFixture(t, []store.Upstream{{
		Id: "u1", BaseURL: upstream.URL, APIKey: "k", Protocol: "openai", MatchPath: "/v1",
	}}, nil, nil)
	// $1/M input, $2/M output.
	require.NoError(t, f.db.Create(&store.Price{
		Model: "gpt-4", Currency: "USD", InputPrice: 1_000_000_000, OutputPrice: 2_000_000_000,
	}).Error)
	token := f.seedToken(t, 1_000_000_000)

	w := doRelay(t, f, token, chatBody)
	require.Equal(t, http.StatusOK, w.Code)

	var after store.Token
	require.NoError(t, f.db.First(&after, token.Id).Error)
	// 1000*1e9/1e6 + 500*2e9/1e6 = 2_000_000 nano
	assert.Equal(t, int64(1_000_000_000-2_000_000), after.RemainQuota)
	assert.Equal(t, int64(2_000_000), after.UsedQuota)
}

func TestRelay_FailoverToSecondCandidate(t *testing.T) {
	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer bad.Close()
	good := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"choices":[{"message":{"content":"ok"}}]}`))
	}))
	defer good.Close()

	f := newFixture(t,
		[]store.Upstream{
			{Id: "u1", BaseURL: bad.URL, APIKey: "k1", Protocol: "openai", Priority: 10},
			{Id: "u2", BaseURL: good.URL, APIKey: "k2", Protocol: "openai", Priority: 5},
		},
		[]store.Group{{Id: "g1", Name: "g1", MatchPath: "/v1", Strategy: "priority"}},
		map[string][]store.GroupMember{"g1": {
			{GroupId: "g1", UpstreamId: "u1", Weight: 1},
			{GroupId: "g1", UpstreamId: "u2", Weight: 1},
		}},
	)
	token := f.seedToken(t, 1_000_000_000)

	w := doRelay(t, f, token, chatBody)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "ok")
	// The failure marked u1's model state down; u2 stays healthy.
	assert.False(t, f.tracker.IsAvailable("u1", "gpt-4"))
	assert.True(t, f.tracker.IsAvailable("u2", "gpt-4"))
}

func TestRelay_AllCandidatesFailReturns502(t *testing.T) {
	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusInternalServerError)
	}))
	defer bad.Close()

	f := newFixture(t, []store.Upstream{{
		Id: "u1", BaseURL: bad.URL, APIKey: "k", Protocol: "openai", MatchPath: "/v1",
	}}, nil, nil)
	token := f.seedToken(t, 1_000_000_000)

	w := doRelay(t, f, token, chatBody)

	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.Contains(t, w.Body.String(), "All upstreams failed. Last error:")
}

func TestRelay_NonRetriable4xxPassesThroughVerbatim(t *testing.T) {
	calls := 0
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error":{"message":"invalid api key","type":"invalid_request_error"}}`))
	}))
	defer upstream.Close()

	f := newFixture(t, []store.Upstream{{
		Id: "u1", BaseURL: upstream.URL, APIKey: "k", Protocol: "openai", MatchPath: "/v1",
	}}, nil, nil)
	token := f.seedToken(t, 1_000_000_000)

	w := doRelay(t, f, token, chatBody)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), "invalid api key")
	assert.Equal(t, 1, calls)
	// Channel auth is now marked bad.
	assert.False(t, f.tracker.IsAvailable("u1", "gpt-4"))
}

func TestRelay_EmptyGroupReturns503(t *testing.T) {
	f := newFixture(t, nil,
		[]store.Group{{Id: "g1", Name: "empty-pool", MatchPath: "/v1", Strategy: "round_robin"}},
		nil)
	token := f.seedToken(t, 1_000_000_000)

	w := doRelay(t, f, token, chatBody)

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "Group 'empty-pool' has no healthy members")
}

func TestRelay_NoRouteReturns404(t *testing.T) {
	f := newFixture(t, nil, nil, nil)
	token := f.seedToken(t, 1_000_000_000)

	w := doRelay(t, f, token, chatBody)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRelay_JournalRowWritten(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"usage":{"prompt_tokens":3,"completion_tokens":1}}`))
	}))
	defer upstream.Close()

	f := newFixture(t, []store.Upstream{{
		Id: "u1", BaseURL: upstream.URL, APIKey: "k", Protocol: "openai", MatchPath: "/v1",
	}}, nil, nil)
	token := f.seedToken(t, 1_000_000_000)

	w := doRelay(t, f, token, chatBody)
	require.Equal(t, http.StatusOK, w.Code)

	// Drain the async writer.
	f.journal.Close()

	var entry store.LogEntry
	require.NoError(t, f.db.Where("request_id = ?", "req-test").First(&entry).Error)
	assert.Equal(t, "u1", entry.UpstreamId)
	assert.Equal(t, http.StatusOK, entry.StatusCode)
	assert.Equal(t, 3, entry.PromptTokens)
	assert.Equal(t, 1, entry.CompletionTokens)
	assert.False(t, entry.Estimated)
}

func TestRelay_RateBucketDenialDoesNotSpendHalfOpenProbe(t *testing.T) {
	f := newFixture(t, []store.Upstream{{
		Id: "u1", BaseURL: "http://unused.invalid", APIKey: "k",
		Protocol: "openai", MatchPath: "/v1", RateLimit: 1,
	}}, nil, nil)
	token := f.seedToken(t, 1_000_000_000)

	// Trip the breaker with an elapsed cooldown, so the next Allow would
	// grant (and consume) the single HalfOpen probe.
	f.brk = breaker.New(1, 0, nil)
	f.proxy.Breaker = f.brk
	f.brk.RecordFailure("u1")
	require.Equal(t, breaker.Open, f.brk.Status("u1"))

	// Exhaust the static rate bucket.
	require.True(t, f.proxy.Buckets.Allow("u1", 1))

	w := doRelay(t, f, token, chatBody)
	assert.Equal(t, http.StatusBadGateway, w.Code)

	// The bucket denied the candidate before the breaker was consulted, so
	// the probe is still available for a future request.
	assert.Equal(t, breaker.Open, f.brk.Status("u1"))
	assert.True(t, f.brk.Allow("u1"))
}

func TestRelay_DynamicProtocolConfigOverride(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var obj map[string]any
		json.NewDecoder(r.Body).Decode(&obj)
		if _, ok := obj["engine"]; !ok {
			http.Error(w, "missing engine", http.StatusBadRequest)
			return
		}
		w.Write([]byte(`{"output":{"text":"mapped"}}`))
	}))
	defer upstream.Close()

	f := newFixture(t, []store.Upstream{{
		Id: "u1", BaseURL: upstream.URL, APIKey: "k", Protocol: "customvendor", MatchPath: "/v1",
	}}, nil, nil)
	require.NoError(t, f.db.Create(&store.ProtocolConfig{
		ChannelType:     "customvendor",
		APIVersion:      "v1",
		IsDefault:       true,
		RequestMapping:  `{"rename":{"model":"engine"}}`,
		ResponseMapping: `{"content_path":"output.text"}`,
	}).Error)
	token := f.seedToken(t, 1_000_000_000)

	w := doRelay(t, f, token, chatBody)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "mapped")
}
