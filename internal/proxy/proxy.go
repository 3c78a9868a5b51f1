// Package proxy implements the failover loop at the centre of the router:
// consume the ordered candidate list, adapt and execute the request against
// each upstream in turn, classify failures into the shared taxonomy, and
// hand every exit path to billing settlement.
package proxy

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/burncloud/burncloud-router/internal/adaptor"
	"github.com/burncloud/burncloud-router/internal/apierr"
	"github.com/burncloud/burncloud-router/internal/appconfig"
	"github.com/burncloud/burncloud-router/internal/balancer"
	"github.com/burncloud/burncloud-router/internal/billing"
	"github.com/burncloud/burncloud-router/internal/billing/tokencount"
	"github.com/burncloud/burncloud-router/internal/breaker"
	"github.com/burncloud/burncloud-router/internal/health"
	"github.com/burncloud/burncloud-router/internal/meta"
	"github.com/burncloud/burncloud-router/internal/obslog"
	"github.com/burncloud/burncloud-router/internal/ratebucket"
	"github.com/burncloud/burncloud-router/internal/routeconfig"
	"github.com/burncloud/burncloud-router/internal/store"
)

// maxBodyBytes bounds the in-memory request buffer; the body is read once
// and cloned per attempt.
const maxBodyBytes = 32 << 20

// StatusClientClosedRequest is nginx's 499: the inbound client went away.
const StatusClientClosedRequest = 499

// Proxy wires the failover loop's collaborators.
type Proxy struct {
	DB       *gorm.DB
	Routes   *routeconfig.Store
	Counters *balancer.Counters
	Breaker  *breaker.Breaker
	Tracker  *health.Tracker
	Settler  *billing.Settler
	Buckets  *ratebucket.Registry
	Client   *http.Client
}

// New builds a Proxy with a pooled HTTP client. Per-attempt timeouts are
// enforced via request contexts, not a client-wide deadline, so streaming
// responses stay open past the first byte.
func New(db *gorm.DB, routes *routeconfig.Store, counters *balancer.Counters,
	brk *breaker.Breaker, tracker *health.Tracker, settler *billing.Settler) *Proxy {
	return &Proxy{
		DB:       db,
		Routes:   routes,
		Counters: counters,
		Breaker:  brk,
		Tracker:  tracker,
		Settler:  settler,
		Buckets:  ratebucket.New(nil),
		Client:   &http.Client{},
	}
}

// Relay routes and executes one authenticated inbound request. Auth has
// already populated the Meta; Relay owns everything from route resolution to
// the final settle.
func (p *Proxy) Relay(c *gin.Context, m *meta.Meta) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxBodyBytes+1))
	if err != nil {
		p.finish(c, m, apierr.New(http.StatusBadRequest, "invalid_request_error", "read_body", "failed to read request body"), nil)
		return
	}
	if len(body) > maxBodyBytes {
		p.finish(c, m, apierr.New(http.StatusRequestEntityTooLarge, "invalid_request_error", "body_too_large", "request body too large"), nil)
		return
	}
	if m.Model == "" {
		m.Model = gjson.GetBytes(body, "model").String()
	}
	m.IsStream = gjson.GetBytes(body, "stream").Bool()

	snap := p.Routes.Current()
	route := snap.Resolve(c.Request.URL.Path)
	if route == nil {
		p.finish(c, m, apierr.New(http.StatusNotFound, "invalid_request_error", "no_route", "no route for path"), nil)
		return
	}

	candidates, werr := p.candidates(snap, route, m)
	if werr != nil {
		p.finish(c, m, werr, nil)
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), appconfig.RequestBudget())
	defer cancel()

	promptEstimate, estimated := tokencount.EstimatePrompt(body)

	lastErr := "no candidates attempted"
	for _, id := range candidates {
		up := snap.UpstreamByID(id)
		if up == nil {
			continue
		}
		// The bucket is checked first: Breaker.Allow spends the one
		// HalfOpen probe, so it must only be consulted for a request that
		// will actually be attempted.
		if !p.Buckets.Allow(id, up.RateLimit) {
			lastErr = "upstream rate limit reached"
			continue
		}
		if !p.Breaker.Allow(id) {
			continue
		}

		outcome, terminal := p.attempt(ctx, c, m, up, body, promptEstimate, estimated)
		if terminal {
			// Response already written; attempt handled breaker/tracker and
			// outcome settlement happens below.
			p.Settler.Settle(m, &outcome.Outcome)
			return
		}
		if outcome != nil && outcome.lastError != "" {
			lastErr = outcome.lastError
		}

		// Budget exhausted mid-loop surfaces as 504 rather than burning the
		// remaining candidates on guaranteed-dead attempts.
		if ctx.Err() != nil {
			p.finishBudget(c, m, ctx, promptEstimate, estimated)
			return
		}
	}

	p.finish(c, m, apierr.BadGateway(lastErr), &billing.Outcome{
		StatusCode: http.StatusBadGateway,
		LatencyMs:  time.Since(m.StartTime).Milliseconds(),
		Usage:      billing.TokenUsage{Prompt: int64(promptEstimate)},
		Estimated:  estimated,
	})
}

// candidates produces the failover sequence for the resolved route.
func (p *Proxy) candidates(snap *routeconfig.Snapshot, route *routeconfig.Route, m *meta.Meta) ([]string, *apierr.WithStatusCode) {
	if route.Upstream != nil {
		return []string{route.Upstream.Id}, nil
	}

	group := route.Group
	m.GroupId = group.Id
	m.GroupName = group.Name
	members := snap.Members[group.Id]
	if len(members) == 0 {
		return nil, apierr.NoHealthyMembers(group.Name)
	}

	bms := make([]balancer.Member, 0, len(members))
	for _, gm := range members {
		up := snap.UpstreamByID(gm.UpstreamId)
		if up == nil {
			continue
		}
		bms = append(bms, balancer.Member{
			UpstreamId: up.Id,
			Weight:     gm.Weight,
			Priority:   up.Priority,
		})
	}
	if len(bms) == 0 {
		return nil, apierr.NoHealthyMembers(group.Name)
	}

	ordered := balancer.Order(balancer.Strategy(group.Strategy), group.Id, bms, p.Counters,
		func(id string) bool { return p.Tracker.IsAvailable(id, m.Model) })
	return ordered, nil
}

// attempt runs one candidate. terminal=true means a response has been
// written to the client (success or non-retriable failure) and the loop must
// stop; false means continue to the next candidate.
func (p *Proxy) attempt(ctx context.Context, c *gin.Context, m *meta.Meta, up *store.Upstream,
	body []byte, promptEstimate int, estimated bool) (*outcomeWrap, bool) {

	m.UpstreamId = up.Id
	m.BaseURL = up.BaseURL
	m.APIKey = up.APIKey
	m.AuthType = up.AuthType
	m.Protocol = up.Protocol
	lg := obslog.WithUpstream(c, up.Id)
	attemptStart := time.Now()

	fail := func(f *apierr.Failure) *outcomeWrap {
		p.Breaker.RecordFailure(up.Id)
		p.Tracker.RecordError(up.Id, m.Model, f)
		lg.Warn("attempt failed",
			zap.String("kind", f.Kind.String()),
			zap.Int("status", f.StatusCode),
			zap.String("error", f.Message))
		return &outcomeWrap{lastError: f.Message}
	}

	ad, err := adaptorFor(p.DB, up)
	if err != nil {
		return fail(&apierr.Failure{Kind: apierr.FailureServerError, Message: err.Error()}), false
	}

	converted, err := ad.ConvertRequest(c, m, body)
	if err != nil {
		// The adapter could not translate this body; no other candidate of
		// the same protocol will fare better, but a different protocol
		// might. Treat as terminal per-request only when every candidate
		// shares the protocol; the cheap approximation is terminal.
		p.writeError(c, apierr.New(http.StatusBadRequest, "invalid_request_error", "untranslatable", err.Error()))
		return &outcomeWrap{Outcome: billing.Outcome{
			StatusCode: http.StatusBadRequest,
			LatencyMs:  time.Since(m.StartTime).Milliseconds(),
			Usage:      billing.TokenUsage{Prompt: int64(promptEstimate)},
			Estimated:  estimated,
		}}, true
	}

	url, err := ad.GetRequestURL(m)
	if err != nil {
		return fail(&apierr.Failure{Kind: apierr.FailureServerError, Message: err.Error()}), false
	}

	attemptCtx := ctx
	var cancel context.CancelFunc
	if !m.IsStream {
		attemptCtx, cancel = context.WithTimeout(ctx, appconfig.AttemptTimeout())
		defer cancel()
	}

	req, err := http.NewRequestWithContext(attemptCtx, c.Request.Method, url, bytes.NewReader(converted))
	if err != nil {
		return fail(&apierr.Failure{Kind: apierr.FailureServerError, Message: err.Error()}), false
	}
	if err := ad.SetupRequestHeader(c, req, m); err != nil {
		return fail(&apierr.Failure{Kind: apierr.FailureServerError, Message: err.Error()}), false
	}

	resp, err := p.Client.Do(req)
	if err != nil {
		kind := apierr.FailureServerError
		if attemptCtx.Err() == context.DeadlineExceeded {
			kind = apierr.FailureTimeout
		}
		return fail(&apierr.Failure{Kind: kind, Message: err.Error()}), false
	}
	defer resp.Body.Close()

	if f := p.classifyAndRecord(resp, up, m, lg); f != nil {
		if f.Kind.Retriable() {
			return &outcomeWrap{lastError: f.Message}, false
		}
		// Non-retriable: re-emit the upstream's status and body verbatim.
		c.Data(f.StatusCode, resp.Header.Get("Content-Type"), f.UpstreamBody)
		return &outcomeWrap{Outcome: billing.Outcome{
			StatusCode: f.StatusCode,
			LatencyMs:  time.Since(m.StartTime).Milliseconds(),
			Usage:      billing.TokenUsage{Prompt: int64(promptEstimate)},
			Estimated:  estimated,
		}}, true
	}

	// Success window.
	latencyMs := time.Since(attemptStart).Milliseconds()
	p.Breaker.RecordSuccess(up.Id)
	p.Tracker.RecordSuccess(up.Id, m.Model, latencyMs, learnedLimit(resp.Header))

	usage := billing.TokenUsage{Prompt: int64(promptEstimate)}
	usageEstimated := estimated

	if isEventStream(resp) {
		streamUsage := p.relayStream(c, resp)
		if streamUsage != nil {
			usage.Prompt = int64(streamUsage.PromptTokens)
			usage.Completion = int64(streamUsage.CompletionTokens)
			usageEstimated = false
		} else {
			usageEstimated = true
		}
	} else {
		respBody, rerr := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
		if rerr != nil {
			return fail(&apierr.Failure{Kind: apierr.FailureServerError, Message: rerr.Error()}), false
		}
		translated, parsed, terr := ad.ConvertResponse(m, resp.StatusCode, respBody)
		if terr != nil {
			lg.Error("response translation failed", zap.Error(terr))
			translated = respBody
		}
		if parsed != nil {
			usage.Prompt = int64(parsed.PromptTokens)
			usage.Completion = int64(parsed.CompletionTokens)
			usageEstimated = false
		} else {
			usage.Completion = int64(tokencount.EstimateBytes(len(respBody)))
			usageEstimated = true
		}
		c.Data(resp.StatusCode, "application/json", translated)
	}

	return &outcomeWrap{Outcome: billing.Outcome{
		StatusCode: resp.StatusCode,
		LatencyMs:  time.Since(m.StartTime).Milliseconds(),
		Usage:      usage,
		Estimated:  usageEstimated,
	}}, true
}

// classifyAndRecord reads the body of a failed response and records it on
// breaker and tracker. Returns nil on success responses.
func (p *Proxy) classifyAndRecord(resp *http.Response, up *store.Upstream, m *meta.Meta, lg *zap.Logger) *apierr.Failure {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	errBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	f := classifyResponse(resp.StatusCode, resp.Header, errBody)
	p.Breaker.RecordFailure(up.Id)
	p.Tracker.RecordError(up.Id, m.Model, f)
	lg.Warn("upstream error",
		zap.String("kind", f.Kind.String()),
		zap.Int("status", resp.StatusCode),
		zap.String("error", f.Message))
	return f
}

// relayStream forwards an SSE body chunk-by-chunk without buffering, flushing
// per line, and scrapes the final usage object if any chunk carries one.
func (p *Proxy) relayStream(c *gin.Context, resp *http.Response) *adaptor.Usage {
	for k, vs := range resp.Header {
		for _, v := range vs {
			c.Writer.Header().Add(k, v)
		}
	}
	c.Writer.WriteHeader(resp.StatusCode)

	var usage *adaptor.Usage
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 64<<10), 1<<20)
	for scanner.Scan() {
		line := scanner.Bytes()
		if payload, ok := bytes.CutPrefix(line, []byte("data: ")); ok {
			if u := adaptor.ParseOpenAIUsage(payload); u != nil {
				usage = u
			}
		}
		c.Writer.Write(line)
		c.Writer.Write([]byte("\n"))
		c.Writer.Flush()
	}
	return usage
}

func isEventStream(resp *http.Response) bool {
	return strings.HasPrefix(resp.Header.Get("Content-Type"), "text/event-stream")
}

// finish writes a gateway-originated error and settles.
func (p *Proxy) finish(c *gin.Context, m *meta.Meta, werr *apierr.WithStatusCode, outcome *billing.Outcome) {
	p.writeError(c, werr)
	if outcome == nil {
		outcome = &billing.Outcome{
			StatusCode: werr.StatusCode,
			LatencyMs:  time.Since(m.StartTime).Milliseconds(),
		}
	}
	p.Settler.Settle(m, outcome)
}

// finishBudget distinguishes client disconnect (499) from budget breach (504).
func (p *Proxy) finishBudget(c *gin.Context, m *meta.Meta, ctx context.Context, promptEstimate int, estimated bool) {
	status := http.StatusGatewayTimeout
	if c.Request.Context().Err() != nil {
		status = StatusClientClosedRequest
	}
	if status == http.StatusGatewayTimeout {
		p.writeError(c, apierr.New(status, "timeout", "budget_exceeded", "request wall-clock budget exceeded"))
	}
	p.Settler.Settle(m, &billing.Outcome{
		StatusCode: status,
		LatencyMs:  time.Since(m.StartTime).Milliseconds(),
		Usage:      billing.TokenUsage{Prompt: int64(promptEstimate)},
		Estimated:  estimated,
	})
}

func (p *Proxy) writeError(c *gin.Context, werr *apierr.WithStatusCode) {
	c.JSON(werr.StatusCode, werr.Envelope)
}

// outcomeWrap lets attempt return both the billing outcome and the loop's
// last-error string in one value.
type outcomeWrap struct {
	billing.Outcome
	lastError string
}
