// Package ctxkey centralizes the gin.Context keys used across the request
// pipeline so middleware, handlers, and the proxy loop agree on where things
// live without importing each other's packages.
package ctxkey

const (
	// RequestId is the per-request id (the client's X-Request-Id or a new
	// UUID), set by the request-id middleware; the Meta copies it into the
	// journal row, and the X-Request-Id response header echoes it.
	RequestId = "request_id"

	// UserId is the authenticated token's user id, set by the auth gate.
	UserId = "user_id"

	// TokenId is the database id of the Token row that authenticated this request.
	TokenId = "token_id"

	// TokenKey is the raw opaque key presented by the client (never logged).
	TokenKey = "token_key"

	// RemainQuota and Unlimited name the Token row's quota fields. The auth
	// gate does not set them on the context (Unlimited goes into the Meta);
	// the billing stage re-reads the row for the actual decrement.
	RemainQuota = "remain_quota"
	Unlimited   = "unlimited"

	// UpstreamId/ChannelId names the upstream chosen for an attempt. The
	// try-next loop records it on the Meta (Meta.UpstreamId), not under this key.
	UpstreamId = "upstream_id"

	// GroupId names the load-balanced group a route resolved to. The proxy
	// records it on the Meta (Meta.GroupId), not under this key.
	GroupId = "group_id"

	// RequestModel is the "model" field parsed from the inbound JSON body.
	RequestModel = "request_model"

	// RelayMode tags which handler produced this request (chat, embeddings,
	// messages, realtime) for billing and logging.
	RelayMode = "relay_mode"

	// StartTime is set by the request-id middleware for latency accounting.
	StartTime = "start_time"

	// Logger holds the per-request *zap.Logger built by obslog.
	Logger = "logger"

	// RateLimit names the Upstream.RateLimit static ceiling. The try-next loop
	// reads the ceiling from the snapshot's Upstream, not from this key.
	RateLimit = "rate_limit"
)
