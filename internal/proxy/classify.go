package proxy

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/burncloud/burncloud-router/internal/apierr"
)

// classifyResponse maps an upstream HTTP response to the internal failure
// taxonomy. Returns nil for responses the loop should treat as success.
func classifyResponse(statusCode int, headers http.Header, body []byte) *apierr.Failure {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return nil
	case statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden:
		return &apierr.Failure{
			Kind:         apierr.FailureAuthFailed,
			Message:      summarize(body),
			StatusCode:   statusCode,
			UpstreamBody: body,
		}
	case statusCode == http.StatusPaymentRequired:
		return &apierr.Failure{
			Kind:         apierr.FailurePaymentRequired,
			Message:      summarize(body),
			StatusCode:   statusCode,
			UpstreamBody: body,
		}
	case statusCode == http.StatusTooManyRequests:
		return &apierr.Failure{
			Kind:         apierr.FailureRateLimited,
			Scope:        rateLimitScope(body),
			RetryAfter:   retryAfterSeconds(headers),
			Message:      summarize(body),
			StatusCode:   statusCode,
			UpstreamBody: body,
		}
	case statusCode == http.StatusNotFound:
		kind := apierr.FailureServerError
		if looksLikeModelNotFound(body) {
			kind = apierr.FailureModelNotFound
		}
		return &apierr.Failure{
			Kind:         kind,
			Message:      summarize(body),
			StatusCode:   statusCode,
			UpstreamBody: body,
		}
	case statusCode >= 500:
		return &apierr.Failure{
			Kind:         apierr.FailureServerError,
			Message:      summarize(body),
			StatusCode:   statusCode,
			UpstreamBody: body,
		}
	default:
		// Remaining 4xx are the caller's problem; pass through verbatim
		// without retrying.
		return &apierr.Failure{
			Kind:         apierr.FailureUnknown,
			Message:      summarize(body),
			StatusCode:   statusCode,
			UpstreamBody: body,
		}
	}
}

// retryAfterSeconds parses Retry-After (seconds form) and, failing that,
// X-RateLimit-Reset-Requests as a Go duration string (e.g. "6m0s"),
// truncated to whole seconds.
func retryAfterSeconds(headers http.Header) int {
	if v := headers.Get("Retry-After"); v != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && n >= 0 {
			return n
		}
	}
	if v := headers.Get("X-RateLimit-Reset-Requests"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return int(d.Seconds())
		}
	}
	return 0
}

// rateLimitScope guesses whether a 429 throttles the whole account or just
// the requested model, from the error body text.
func rateLimitScope(body []byte) apierr.RateLimitScope {
	text := strings.ToLower(string(body))
	switch {
	case strings.Contains(text, "model"):
		return apierr.ScopeModel
	case strings.Contains(text, "account") || strings.Contains(text, "organization"):
		return apierr.ScopeAccount
	default:
		return apierr.ScopeUnknown
	}
}

func looksLikeModelNotFound(body []byte) bool {
	text := strings.ToLower(string(body))
	return strings.Contains(text, "model") &&
		(strings.Contains(text, "not found") || strings.Contains(text, "does not exist") ||
			strings.Contains(text, "model_not_found"))
}

// learnedLimit extracts an upstream-advertised request ceiling from response
// headers, 0 when absent.
func learnedLimit(headers http.Header) int {
	for _, name := range []string{"x-ratelimit-limit-requests", "x-ratelimit-limit"} {
		if v := headers.Get(name); v != "" {
			if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && n > 0 {
				return n
			}
		}
	}
	return 0
}

// summarize trims an error body down to a loggable one-liner.
func summarize(body []byte) string {
	const max = 256
	s := strings.TrimSpace(string(body))
	if len(s) > max {
		s = s[:max]
	}
	if s == "" {
		s = "(empty body)"
	}
	return s
}
