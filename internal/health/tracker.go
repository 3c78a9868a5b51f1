// Package health aggregates live per-channel and per-(channel, model) health
// signals: auth and balance state, account- and model-scoped rate limits,
// success/failure counters, EMA latency, and the embedded adaptive limiter.
// The layout is a concurrent outer map whose values each carry their own
// short-held mutex; no lock is ever held across I/O.
package health

import (
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/burncloud/burncloud-router/internal/adaptivelimit"
	"github.com/burncloud/burncloud-router/internal/apierr"
	"github.com/burncloud/burncloud-router/internal/obsmetrics"
)

// BalanceStatus is the channel's account balance health.
type BalanceStatus int

const (
	BalanceUnknown BalanceStatus = iota
	BalanceOk
	BalanceLow
	BalanceExhausted
)

// ModelStatus is the live status of one (channel, model) pair.
type ModelStatus int

const (
	Available ModelStatus = iota
	RateLimited
	QuotaExhausted
	ModelNotFound
	TemporarilyDown
)

func (s ModelStatus) String() string {
	switch s {
	case RateLimited:
		return "rate_limited"
	case QuotaExhausted:
		return "quota_exhausted"
	case ModelNotFound:
		return "model_not_found"
	case TemporarilyDown:
		return "temporarily_down"
	default:
		return "available"
	}
}

// latencyAlpha is the EMA smoothing factor for observed latency.
const latencyAlpha = 0.2

// ModelState is the per-model record inside a ChannelState. Guarded by the
// owning ChannelState's mutex.
type ModelState struct {
	Status         ModelStatus
	RateLimitUntil time.Time
	SuccessCount   int64
	FailureCount   int64
	EMALatencyMs   float64
	Limiter        *adaptivelimit.Limiter
}

// ChannelState is the live health of one upstream.
type ChannelState struct {
	mu sync.Mutex

	ChannelId             string
	AuthOk                bool
	Balance               BalanceStatus
	AccountRateLimitUntil time.Time
	Models                map[string]*ModelState
}

// Tracker owns all ChannelStates. Entries are created lazily on first
// reference and live for the process lifetime.
type Tracker struct {
	limiterCfg adaptivelimit.Config
	now        func() time.Time

	channels sync.Map // channel id -> *ChannelState
	creating singleflight.Group
}

// NewTracker builds a Tracker; nil nowFn means time.Now.
func NewTracker(limiterCfg adaptivelimit.Config, nowFn func() time.Time) *Tracker {
	if nowFn == nil {
		nowFn = time.Now
	}
	return &Tracker{limiterCfg: limiterCfg, now: nowFn}
}

// channel returns the state for id, creating it on first reference. Creation
// is deduplicated so a cold channel hit by many concurrent requests builds
// exactly one state.
func (t *Tracker) channel(id string) *ChannelState {
	if v, ok := t.channels.Load(id); ok {
		return v.(*ChannelState)
	}
	v, _, _ := t.creating.Do(id, func() (any, error) {
		if existing, ok := t.channels.Load(id); ok {
			return existing, nil
		}
		cs := &ChannelState{
			ChannelId: id,
			AuthOk:    true,
			Balance:   BalanceUnknown,
			Models:    map[string]*ModelState{},
		}
		t.channels.Store(id, cs)
		return cs, nil
	})
	return v.(*ChannelState)
}

func (cs *ChannelState) model(name string, cfg adaptivelimit.Config, nowFn func() time.Time) *ModelState {
	ms, ok := cs.Models[name]
	if !ok {
		ms = &ModelState{Limiter: adaptivelimit.New(cfg, nowFn)}
		cs.Models[name] = ms
	}
	return ms
}

// IsAvailable reports whether (channel, model) may receive a request now.
// model may be empty to ask about the channel alone.
func (t *Tracker) IsAvailable(channelID, model string) bool {
	cs := t.channel(channelID)
	cs.mu.Lock()
	defer cs.mu.Unlock()

	now := t.now()
	if !cs.AuthOk || cs.Balance == BalanceExhausted {
		return false
	}
	if now.Before(cs.AccountRateLimitUntil) {
		return false
	}
	if model == "" {
		return true
	}
	ms := cs.model(model, t.limiterCfg, t.now)
	if ms.Status == RateLimited && !now.Before(ms.RateLimitUntil) {
		// Rate limit expired; restore before judging.
		ms.Status = Available
		ms.RateLimitUntil = time.Time{}
	}
	if ms.Status != Available {
		return false
	}
	return ms.Limiter.CheckAvailable()
}

// RecordError maps a classified upstream failure to state mutations.
func (t *Tracker) RecordError(channelID, model string, f *apierr.Failure) {
	cs := t.channel(channelID)
	cs.mu.Lock()
	defer cs.mu.Unlock()

	now := t.now()
	switch f.Kind {
	case apierr.FailureAuthFailed:
		cs.AuthOk = false
		for _, ms := range cs.Models {
			ms.Status = TemporarilyDown
		}
	case apierr.FailurePaymentRequired:
		cs.Balance = BalanceExhausted
	case apierr.FailureRateLimited:
		retryAfter := time.Duration(f.RetryAfter) * time.Second
		switch f.Scope {
		case apierr.ScopeModel:
			if model != "" {
				ms := cs.model(model, t.limiterCfg, t.now)
				ms.Status = RateLimited
				ms.RateLimitUntil = now.Add(retryAfter)
				ms.Limiter.OnRateLimited(retryAfter)
				obsmetrics.AdaptiveCurrentLimit.WithLabelValues(channelID, model).Set(float64(ms.Limiter.CurrentLimit()))
			}
		default:
			// Account-wide, and Unknown treated as account plus a hint to
			// the model's limiter.
			cs.AccountRateLimitUntil = now.Add(retryAfter)
			if f.Scope == apierr.ScopeUnknown && model != "" {
				ms := cs.model(model, t.limiterCfg, t.now)
				ms.Limiter.OnRateLimited(retryAfter)
				obsmetrics.AdaptiveCurrentLimit.WithLabelValues(channelID, model).Set(float64(ms.Limiter.CurrentLimit()))
			}
		}
	case apierr.FailureModelNotFound:
		if model != "" {
			// Sticky until restart.
			cs.model(model, t.limiterCfg, t.now).Status = ModelNotFound
		}
	case apierr.FailureServerError, apierr.FailureTimeout:
		if model != "" {
			ms := cs.model(model, t.limiterCfg, t.now)
			ms.Status = TemporarilyDown
			ms.FailureCount++
		}
	}
	obsmetrics.HealthScore.WithLabelValues(channelID, model).Set(t.scoreLocked(cs, model))
}

// RecordSuccess records a successful call: counters, EMA latency, recovery
// from TemporarilyDown and lapsed rate limits, and a feed to the adaptive
// limiter. upstreamLimit is the advertised request ceiling, 0 if absent.
func (t *Tracker) RecordSuccess(channelID, model string, latencyMs int64, upstreamLimit int) {
	cs := t.channel(channelID)
	cs.mu.Lock()
	defer cs.mu.Unlock()

	cs.AuthOk = true
	if cs.Balance == BalanceExhausted || cs.Balance == BalanceUnknown {
		cs.Balance = BalanceOk
	}
	now := t.now()
	if !now.Before(cs.AccountRateLimitUntil) {
		cs.AccountRateLimitUntil = time.Time{}
	}
	if model == "" {
		return
	}
	ms := cs.model(model, t.limiterCfg, t.now)
	ms.SuccessCount++
	if ms.EMALatencyMs == 0 {
		ms.EMALatencyMs = float64(latencyMs)
	} else {
		ms.EMALatencyMs = latencyAlpha*float64(latencyMs) + (1-latencyAlpha)*ms.EMALatencyMs
	}
	if ms.Status == TemporarilyDown {
		ms.Status = Available
	}
	if ms.Status == RateLimited && !now.Before(ms.RateLimitUntil) {
		ms.Status = Available
		ms.RateLimitUntil = time.Time{}
	}
	ms.Limiter.OnSuccess(upstreamLimit)
	obsmetrics.AdaptiveCurrentLimit.WithLabelValues(channelID, model).Set(float64(ms.Limiter.CurrentLimit()))
	obsmetrics.HealthScore.WithLabelValues(channelID, model).Set(t.scoreLocked(cs, model))
}

// HealthScore returns the composite score in [0, 1]: a product of auth,
// balance, success-ratio, latency, and status penalties. Used as a
// tie-breaker in balancing and exported as a gauge.
func (t *Tracker) HealthScore(channelID, model string) float64 {
	cs := t.channel(channelID)
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return t.scoreLocked(cs, model)
}

func (t *Tracker) scoreLocked(cs *ChannelState, model string) float64 {
	score := 1.0
	if !cs.AuthOk {
		score *= 0.0
	}
	switch cs.Balance {
	case BalanceExhausted:
		score *= 0.0
	case BalanceLow:
		score *= 0.5
	}
	if model == "" {
		return score
	}
	ms, ok := cs.Models[model]
	if !ok {
		return score
	}
	total := ms.SuccessCount + ms.FailureCount
	if total > 0 {
		score *= float64(ms.SuccessCount) / float64(total)
	}
	score *= 100.0 / (100.0 + ms.EMALatencyMs)
	switch ms.Status {
	case ModelNotFound, QuotaExhausted:
		score *= 0.0
	case RateLimited, TemporarilyDown:
		score *= 0.2
	}
	return score
}

// Limiter exposes the adaptive limiter snapshot for one (channel, model),
// creating state lazily. Used by tests and the health surface.
func (t *Tracker) Limiter(channelID, model string) (currentLimit, learnedLimit int, phase string) {
	cs := t.channel(channelID)
	cs.mu.Lock()
	defer cs.mu.Unlock()
	ms := cs.model(model, t.limiterCfg, t.now)
	return ms.Limiter.CurrentLimit(), ms.Limiter.LearnedLimit(), ms.Limiter.CurrentPhase().String()
}
