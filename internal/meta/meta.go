// Package meta carries per-request relay state between the middleware chain,
// the try-next loop, the protocol adapters, and the billing stage.
package meta

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/burncloud/burncloud-router/internal/ctxkey"
)

// Mode tags which inbound surface produced the request.
type Mode int

const (
	ModeChatCompletions Mode = iota
	ModeEmbeddings
	ModeClaudeMessages
	ModeRealtime
	ModeProxy // unrecognised path matched by an upstream's match_path
)

func (m Mode) String() string {
	switch m {
	case ModeEmbeddings:
		return "embeddings"
	case ModeClaudeMessages:
		return "messages"
	case ModeRealtime:
		return "realtime"
	case ModeProxy:
		return "proxy"
	default:
		return "chat_completions"
	}
}

// Meta is the per-request relay record. Built once after auth + route
// resolution; the UpstreamId/BaseURL/APIKey fields are rewritten on each
// attempt of the failover loop.
type Meta struct {
	Mode      Mode
	RequestId string

	TokenId   int
	TokenKey  string
	UserId    int
	Unlimited bool
	Currency  string

	// Route resolution result.
	GroupId   string
	GroupName string

	// Current attempt.
	UpstreamId string
	BaseURL    string
	APIKey     string
	AuthType   string
	Protocol   string

	// Model is the "model" field from the inbound body, empty for opaque
	// proxy paths.
	Model string

	RequestURLPath string
	IsStream       bool
	PromptTokens   int
	StartTime      time.Time
}

const metaKey = "relay_meta"

// FromContext returns the request's Meta, building an empty one on first use.
func FromContext(c *gin.Context) *Meta {
	if v, ok := c.Get(metaKey); ok {
		return v.(*Meta)
	}
	m := &Meta{
		RequestURLPath: c.Request.URL.String(),
		StartTime:      time.Now(),
	}
	if rid, ok := c.Get(ctxkey.RequestId); ok {
		m.RequestId, _ = rid.(string)
	}
	c.Set(metaKey, m)
	return m
}
