// Package adaptor translates the normalised chat-completions dialect into
// each upstream's native dialect and back. Each adapter owns URL
// construction, credential injection, request body transformation, and
// response extraction for one protocol family.
package adaptor

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/burncloud/burncloud-router/internal/meta"
)

// Usage is the normalised token usage extracted from an upstream response.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
}

// Adaptor is one protocol family's translation strategy.
type Adaptor interface {
	// ChannelName identifies the adapter in logs.
	ChannelName() string

	// GetRequestURL builds the downstream URL for this attempt.
	GetRequestURL(m *meta.Meta) (string, error)

	// SetupRequestHeader injects credentials and forwards safe inbound
	// headers onto the downstream request.
	SetupRequestHeader(c *gin.Context, req *http.Request, m *meta.Meta) error

	// ConvertRequest transforms the inbound JSON body into the upstream's
	// dialect. Identity adapters return the body unchanged.
	ConvertRequest(c *gin.Context, m *meta.Meta, body []byte) ([]byte, error)

	// ConvertResponse translates a non-streaming upstream response body back
	// into the OpenAI shape and extracts usage. Identity adapters return the
	// body unchanged with whatever usage it carries.
	ConvertResponse(m *meta.Meta, statusCode int, body []byte) ([]byte, *Usage, error)
}

// skippedHeaders is the hop-by-hop set plus inbound credential headers,
// never forwarded downstream.
var skippedHeaders = map[string]bool{
	"host":              true,
	"content-length":    true,
	"transfer-encoding": true,
	"connection":        true,
	"keep-alive":        true,
	"te":                true,
	"trailer":           true,
	"upgrade":           true,
	"proxy-connection":  true,
	"authorization":     true,
	"x-api-key":         true,
	"api-key":           true,
}

// ForwardHeaders copies the inbound request headers onto req, skipping the
// hop-by-hop set and any inbound credential headers. Adapters call this
// before injecting their own credentials.
func ForwardHeaders(c *gin.Context, req *http.Request) {
	for k, vs := range c.Request.Header {
		if skippedHeaders[strings.ToLower(k)] {
			continue
		}
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	if req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}
}

// joinURL glues a base URL and a path without doubling slashes.
func joinURL(base, path string) string {
	return strings.TrimSuffix(base, "/") + "/" + strings.TrimPrefix(path, "/")
}
