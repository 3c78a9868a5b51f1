// Package adaptivelimit discovers and tracks each upstream's real request
// ceiling without per-model configuration. The limiter is a small state
// machine (Learning -> Stable <-> Cooldown) driven only by OnSuccess,
// OnRateLimited, and elapsed time; callers hold the owning model's lock
// while invoking it.
package adaptivelimit

import "time"

// Phase is the limiter's learning phase.
type Phase int

const (
	Learning Phase = iota
	Stable
	Cooldown
)

func (p Phase) String() string {
	switch p {
	case Stable:
		return "stable"
	case Cooldown:
		return "cooldown"
	default:
		return "learning"
	}
}

// Config carries the tuning knobs. Zero values are replaced by defaults in
// New, so an empty Config is usable.
type Config struct {
	LearningDuration int // requests observed before leaving Learning
	InitialLimit     int
	AdjustmentStep   int
	SuccessThreshold int
	FailureThreshold int
	CooldownDuration time.Duration
	RecoveryRatio    float64
	MaxLimit         int
}

// DefaultConfig returns the stock tuning.
func DefaultConfig() Config {
	return Config{
		LearningDuration: 10,
		InitialLimit:     10,
		AdjustmentStep:   5,
		SuccessThreshold: 5,
		FailureThreshold: 2,
		CooldownDuration: 30 * time.Second,
		RecoveryRatio:    0.5,
		MaxLimit:         1000,
	}
}

// Limiter is the per-(channel, model) adaptive rate limit state. Not
// self-synchronising: the owner serialises calls.
type Limiter struct {
	cfg Config
	now func() time.Time

	phase          Phase
	currentLimit   int
	learnedLimit   int // 0 = not yet observed
	successStreak  int
	failureStreak  int
	requestCount   int
	cooldownUntil  time.Time
	rateLimitUntil time.Time
}

// New builds a Limiter; nil nowFn means time.Now.
func New(cfg Config, nowFn func() time.Time) *Limiter {
	def := DefaultConfig()
	if cfg.LearningDuration <= 0 {
		cfg.LearningDuration = def.LearningDuration
	}
	if cfg.InitialLimit <= 0 {
		cfg.InitialLimit = def.InitialLimit
	}
	if cfg.AdjustmentStep <= 0 {
		cfg.AdjustmentStep = def.AdjustmentStep
	}
	if cfg.SuccessThreshold <= 0 {
		cfg.SuccessThreshold = def.SuccessThreshold
	}
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = def.FailureThreshold
	}
	if cfg.CooldownDuration <= 0 {
		cfg.CooldownDuration = def.CooldownDuration
	}
	if cfg.RecoveryRatio <= 0 {
		cfg.RecoveryRatio = def.RecoveryRatio
	}
	if cfg.MaxLimit <= 0 {
		cfg.MaxLimit = def.MaxLimit
	}
	if nowFn == nil {
		nowFn = time.Now
	}
	return &Limiter{
		cfg:          cfg,
		now:          nowFn,
		phase:        Learning,
		currentLimit: cfg.InitialLimit,
	}
}

// OnSuccess records a successful call. upstreamLimit is the ceiling the
// upstream advertised in its response headers, 0 if absent.
func (l *Limiter) OnSuccess(upstreamLimit int) {
	if upstreamLimit > 0 && upstreamLimit <= l.cfg.MaxLimit {
		l.learnedLimit = upstreamLimit
		if l.currentLimit < upstreamLimit {
			l.currentLimit = upstreamLimit
		}
	}

	l.successStreak++
	l.failureStreak = 0
	l.requestCount++

	switch l.phase {
	case Learning:
		if l.requestCount >= l.cfg.LearningDuration {
			l.phase = Stable
		}
		l.maybeRaise()
	case Stable:
		l.maybeRaise()
	case Cooldown:
		if !l.now().Before(l.cooldownUntil) {
			l.recover()
		}
	}
}

func (l *Limiter) maybeRaise() {
	if l.successStreak < l.cfg.SuccessThreshold {
		return
	}
	l.currentLimit += l.cfg.AdjustmentStep
	ceiling := l.cfg.MaxLimit
	if l.learnedLimit > 0 && l.learnedLimit < ceiling {
		ceiling = l.learnedLimit
	}
	if l.currentLimit > ceiling {
		l.currentLimit = ceiling
	}
	l.successStreak = 0
}

// OnRateLimited records a 429. retryAfter is the upstream-provided backoff,
// 0 if absent.
func (l *Limiter) OnRateLimited(retryAfter time.Duration) {
	l.successStreak = 0
	l.failureStreak++

	l.currentLimit = ceilMul(l.currentLimit, 0.8)
	if l.currentLimit < 1 {
		l.currentLimit = 1
	}
	if retryAfter > 0 {
		l.rateLimitUntil = l.now().Add(retryAfter)
	}
	if l.failureStreak >= l.cfg.FailureThreshold {
		l.phase = Cooldown
		l.cooldownUntil = l.now().Add(l.cfg.CooldownDuration)
	}
}

// CheckAvailable reports whether the limiter permits a request now. A lapsed
// cooldown triggers recovery as a side effect.
func (l *Limiter) CheckAvailable() bool {
	now := l.now()
	if l.phase == Cooldown {
		if now.Before(l.cooldownUntil) {
			return false
		}
		l.recover()
	}
	return !now.Before(l.rateLimitUntil)
}

// recover re-enters Learning at a reduced limit after a cooldown.
func (l *Limiter) recover() {
	l.phase = Learning
	l.currentLimit = ceilMul(l.currentLimit, l.cfg.RecoveryRatio)
	if l.currentLimit < 1 {
		l.currentLimit = 1
	}
	l.successStreak = 0
	l.failureStreak = 0
	l.requestCount = 0
	l.cooldownUntil = time.Time{}
}

// CurrentLimit returns the limit in force.
func (l *Limiter) CurrentLimit() int { return l.currentLimit }

// LearnedLimit returns the upstream-advertised ceiling, 0 if never seen.
func (l *Limiter) LearnedLimit() int { return l.learnedLimit }

// CurrentPhase returns the limiter's phase.
func (l *Limiter) CurrentPhase() Phase { return l.phase }

func ceilMul(n int, f float64) int {
	v := float64(n) * f
	out := int(v)
	if v > float64(out) {
		out++
	}
	return out
}
