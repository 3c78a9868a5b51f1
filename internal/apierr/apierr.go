// Package apierr defines the OpenAI-shaped error envelope used for every
// client-visible 4xx/5xx body, and the failure taxonomy passed between the
// proxy loop, breaker, and health tracker.
package apierr

import "net/http"

// Envelope is the wire shape `{"error":{"message","type","code"}}`.
type Envelope struct {
	Error EnvelopeBody `json:"error"`
}

type EnvelopeBody struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    string `json:"code,omitempty"`
}

// WithStatusCode pairs the client-visible envelope with the HTTP status it
// should be written with.
type WithStatusCode struct {
	StatusCode int
	Envelope   Envelope
}

func New(status int, errType, code, message string) *WithStatusCode {
	return &WithStatusCode{
		StatusCode: status,
		Envelope: Envelope{Error: EnvelopeBody{
			Message: message,
			Type:    errType,
			Code:    code,
		}},
	}
}

func (e *WithStatusCode) Error() string {
	return e.Envelope.Error.Message
}

// FailureKind is the internal failure taxonomy, never serialized to clients
// verbatim; the try-next loop and health tracker dispatch on it.
type FailureKind int

const (
	FailureUnknown FailureKind = iota
	FailureAuthFailed
	FailurePaymentRequired
	FailureRateLimited
	FailureModelNotFound
	FailureTimeout
	FailureServerError
)

func (k FailureKind) String() string {
	switch k {
	case FailureAuthFailed:
		return "auth_failed"
	case FailurePaymentRequired:
		return "payment_required"
	case FailureRateLimited:
		return "rate_limited"
	case FailureModelNotFound:
		return "model_not_found"
	case FailureTimeout:
		return "timeout"
	case FailureServerError:
		return "server_error"
	default:
		return "unknown"
	}
}

// Retriable reports whether the try-next loop should continue to the next
// candidate (true) or short-circuit and re-emit the upstream's response
// verbatim (false). RateLimited is "no on this attempt, yes on next
// candidate"; from the loop's perspective that is still a continue.
func (k FailureKind) Retriable() bool {
	switch k {
	case FailureTimeout, FailureServerError, FailureRateLimited:
		return true
	default:
		return false
	}
}

// RateLimitScope distinguishes account-wide from per-model throttling.
type RateLimitScope int

const (
	ScopeUnknown RateLimitScope = iota
	ScopeAccount
	ScopeModel
)

// Failure carries a classified upstream error through the pipeline.
type Failure struct {
	Kind        FailureKind
	Scope       RateLimitScope
	RetryAfter  int // seconds, 0 if not provided
	Message     string
	StatusCode  int
	UpstreamBody []byte
}

// QuotaExceeded is the fixed client-visible body for a 429 from the token
// gate.
func QuotaExceeded() *WithStatusCode {
	return New(http.StatusTooManyRequests, "insufficient_quota", "quota_exceeded", "Quota Exceeded")
}

// BadGateway is the fixed client-visible body for an exhausted candidate
// list: "All upstreams failed. Last error: <summary>".
func BadGateway(lastErr string) *WithStatusCode {
	return New(http.StatusBadGateway, "bad_gateway", "all_upstreams_failed",
		"All upstreams failed. Last error: "+lastErr)
}

// NoHealthyMembers is the fixed client-visible body for an empty/unhealthy
// group: "Group '<name>' has no healthy members".
func NoHealthyMembers(groupName string) *WithStatusCode {
	return New(http.StatusServiceUnavailable, "service_unavailable", "no_healthy_members",
		"Group '"+groupName+"' has no healthy members")
}
