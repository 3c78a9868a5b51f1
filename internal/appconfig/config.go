// Package appconfig reads the router's transport-level knobs once at process
// start into package-level vars, env-driven and computed via init-time
// helper calls.
package appconfig

import "time"

var (
	// ListenAddr is the address the HTTP server binds to.
	ListenAddr = String("LISTEN_ADDR", ":3000")

	// InternalPrefix namespaces the operator-only endpoints (/health, /reload)
	// away from the proxied `/v1/*` and upstream-declared match paths.
	InternalPrefix = String("INTERNAL_API_PREFIX", "/internal")

	// StoreDSN is the relational store connection string. Scheme prefix
	// selects the driver: "sqlite://", "mysql://", "postgres://".
	StoreDSN = String("STORE_DSN", "sqlite://router.db")

	// NotificationWebhookURL receives best-effort POSTs on breaker state
	// transitions and price-sync failures; empty disables the sink.
	NotificationWebhookURL = String("NOTIFICATION_WEBHOOK_URL", "")

	// DebugEnabled toggles verbose structured logging.
	DebugEnabled = Bool("DEBUG", false)

	// RequestBudgetSeconds is the whole-request wall-clock budget; past
	// this a request fails with 504 regardless of retry progress.
	RequestBudgetSeconds = Int("REQUEST_BUDGET_SECONDS", 120)

	// AttemptTimeoutSeconds bounds one downstream attempt for non-streaming
	// calls; streaming calls are unbounded after the first byte.
	AttemptTimeoutSeconds = Int("ATTEMPT_TIMEOUT_SECONDS", 60)

	// BreakerFailureThreshold is the consecutive-failure count that trips a
	// channel's circuit breaker open.
	BreakerFailureThreshold = Int("BREAKER_FAILURE_THRESHOLD", 5)

	// BreakerCooldownSeconds is how long Open holds before one HalfOpen probe
	// is allowed.
	BreakerCooldownSeconds = Int("BREAKER_COOLDOWN_SECONDS", 30)

	// AdaptiveLearningDuration, AdaptiveInitialLimit, ... tune the adaptive
	// limiter; each is independently overridable for operators who've
	// profiled a specific upstream.
	AdaptiveLearningDuration  = Int("ADAPTIVE_LEARNING_DURATION", 10)
	AdaptiveInitialLimit      = Int("ADAPTIVE_INITIAL_LIMIT", 10)
	AdaptiveAdjustmentStep    = Int("ADAPTIVE_ADJUSTMENT_STEP", 5)
	AdaptiveSuccessThreshold  = Int("ADAPTIVE_SUCCESS_THRESHOLD", 5)
	AdaptiveFailureThreshold  = Int("ADAPTIVE_FAILURE_THRESHOLD", 2)
	AdaptiveCooldownSeconds   = Int("ADAPTIVE_COOLDOWN_SECONDS", 30)
	AdaptiveRecoveryRatioX100 = Int("ADAPTIVE_RECOVERY_RATIO_X100", 50)
	AdaptiveMaxLimit          = Int("ADAPTIVE_MAX_LIMIT", 1000)

	// PriceSyncIntervalSeconds controls how often the background catalogue
	// fetch runs.
	PriceSyncIntervalSeconds = Int("PRICE_SYNC_INTERVAL_SECONDS", 3600)
	// PriceSyncUpstreamURL, PriceSyncCommunityURL, PriceSyncLocalMainFile, and
	// PriceSyncLocalOverrideFile are the four sources in ascending priority
	// order (override > main > community > upstream).
	PriceSyncUpstreamURL       = String("PRICE_SYNC_UPSTREAM_URL", "")
	PriceSyncCommunityURL      = String("PRICE_SYNC_COMMUNITY_URL", "")
	PriceSyncLocalMainFile     = String("PRICE_SYNC_LOCAL_MAIN_FILE", "")
	PriceSyncLocalOverrideFile = String("PRICE_SYNC_LOCAL_OVERRIDE_FILE", "")

	// JournalChannelCapacity bounds the async log writer's channel;
	// full channel sheds load rather than blocking the request path.
	JournalChannelCapacity = Int("JOURNAL_CHANNEL_CAPACITY", 1000)

	// RedisURL enables the layered store cache when non-empty; unset falls
	// back to the in-process go-cache only.
	RedisURL = String("REDIS_URL", "")
)

// RequestBudget and AttemptTimeout expose the int knobs as time.Duration for
// callers that need to start timers.
func RequestBudget() time.Duration {
	return time.Duration(RequestBudgetSeconds) * time.Second
}

func AttemptTimeout() time.Duration {
	return time.Duration(AttemptTimeoutSeconds) * time.Second
}

func BreakerCooldown() time.Duration {
	return time.Duration(BreakerCooldownSeconds) * time.Second
}

func AdaptiveCooldown() time.Duration {
	return time.Duration(AdaptiveCooldownSeconds) * time.Second
}

func AdaptiveRecoveryRatio() float64 {
	return float64(AdaptiveRecoveryRatioX100) / 100.0
}

func PriceSyncInterval() time.Duration {
	return time.Duration(PriceSyncIntervalSeconds) * time.Second
}
