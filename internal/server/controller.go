package server

import (
	"bytes"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/burncloud/burncloud-router/internal/adaptor/realtime"
	"github.com/burncloud/burncloud-router/internal/apierr"
	"github.com/burncloud/burncloud-router/internal/billing"
	"github.com/burncloud/burncloud-router/internal/billing/tokencount"
	"github.com/burncloud/burncloud-router/internal/ctxkey"
	"github.com/burncloud/burncloud-router/internal/meta"
	"github.com/burncloud/burncloud-router/internal/obslog"
	"github.com/burncloud/burncloud-router/internal/obsmetrics"
	"github.com/burncloud/burncloud-router/internal/server/dto"
	"github.com/burncloud/burncloud-router/internal/store"
)

// ChatCompletions relays an OpenAI-shaped chat request.
func (s *Server) ChatCompletions(c *gin.Context) {
	body, ok := s.peekBody(c)
	if !ok {
		return
	}
	req, err := dto.ValidateChat(body)
	if err != nil {
		abortWith(c, apierr.New(http.StatusBadRequest, "invalid_request_error", "invalid_body", err.Error()))
		return
	}
	m := meta.FromContext(c)
	m.Mode = meta.ModeChatCompletions
	m.Model = req.Model
	s.relay(c, m)
}

// Embeddings relays an OpenAI-shaped embeddings request.
func (s *Server) Embeddings(c *gin.Context) {
	body, ok := s.peekBody(c)
	if !ok {
		return
	}
	req, err := dto.ValidateEmbeddings(body)
	if err != nil {
		abortWith(c, apierr.New(http.StatusBadRequest, "invalid_request_error", "invalid_body", err.Error()))
		return
	}
	m := meta.FromContext(c)
	m.Mode = meta.ModeEmbeddings
	m.Model = req.Model
	s.relay(c, m)
}

// ClaudeMessages relays a request already in Claude's native dialect,
// bypassing the chat-completions translation for Claude-speaking upstreams.
func (s *Server) ClaudeMessages(c *gin.Context) {
	body, ok := s.peekBody(c)
	if !ok {
		return
	}
	req, err := dto.ValidateClaudeMessages(body)
	if err != nil {
		abortWith(c, apierr.New(http.StatusBadRequest, "invalid_request_error", "invalid_body", err.Error()))
		return
	}
	m := meta.FromContext(c)
	m.Mode = meta.ModeClaudeMessages
	m.Model = req.Model
	s.relay(c, m)
}

// ProxyAny relays any path that matched a configured match-path prefix.
func (s *Server) ProxyAny(c *gin.Context) {
	m := meta.FromContext(c)
	m.Mode = meta.ModeProxy
	s.relay(c, m)
}

func (s *Server) relay(c *gin.Context, m *meta.Meta) {
	c.Set(ctxkey.RelayMode, m.Mode.String())
	s.Proxy.Relay(c, m)
	obsmetrics.RequestsTotal.WithLabelValues(c.Request.URL.Path, strconv.Itoa(c.Writer.Status())).Inc()
}

// peekBody reads the inbound body and puts it back so the proxy can read it
// again.
func (s *Server) peekBody(c *gin.Context) ([]byte, bool) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		abortWith(c, apierr.New(http.StatusBadRequest, "invalid_request_error", "read_body", "failed to read request body"))
		return nil, false
	}
	c.Request.Body = io.NopCloser(bytes.NewReader(body))
	return body, true
}

// Realtime upgrades the inbound connection and bridges it to a
// realtime-capable upstream, billing the session at stream end from the
// accumulated frame sizes.
func (s *Server) Realtime(c *gin.Context) {
	m := meta.FromContext(c)
	m.Mode = meta.ModeRealtime
	m.Model = c.Query("model")

	snap := s.Routes.Current()
	route := snap.Resolve(c.Request.URL.Path)
	var up *store.Upstream
	if route != nil && route.Upstream != nil {
		up = route.Upstream
	} else if route != nil && route.Group != nil {
		for _, gm := range snap.Members[route.Group.Id] {
			cand := snap.UpstreamByID(gm.UpstreamId)
			if cand != nil && cand.Protocol == "openai" && s.Tracker.IsAvailable(cand.Id, m.Model) {
				up = cand
				break
			}
		}
	}
	if up == nil {
		abortWith(c, apierr.New(http.StatusNotFound, "invalid_request_error", "no_route", "no realtime-capable upstream for path"))
		return
	}
	m.UpstreamId = up.Id

	lg := obslog.WithUpstream(c, up.Id)
	res, err := realtime.Proxy(c.Writer, c.Request, m, up, lg)
	status := http.StatusOK
	var usage billing.TokenUsage
	if err != nil {
		lg.Error("realtime proxy failed", zap.Error(err))
		status = http.StatusBadGateway
	} else {
		usage = billing.TokenUsage{
			Prompt:     int64(tokencount.EstimateBytes(int(res.ClientBytes))),
			Completion: int64(tokencount.EstimateBytes(int(res.UpstreamBytes))),
		}
	}
	s.Settler.Settle(m, &billing.Outcome{
		StatusCode: status,
		LatencyMs:  time.Since(m.StartTime).Milliseconds(),
		Usage:      usage,
		Estimated:  true,
	})
}

// modelEntry is one row of the /v1/models catalogue.
type modelEntry struct {
	Id               string `json:"id"`
	Object           string `json:"object"`
	Created          int64  `json:"created"`
	OwnedBy          string `json:"owned_by"`
	SupportsVision   bool   `json:"supports_vision,omitempty"`
	SupportsTools    bool   `json:"supports_tools,omitempty"`
	SupportsAudio    bool   `json:"supports_audio,omitempty"`
	SupportsThinking bool   `json:"supports_thinking,omitempty"`
	ContextWindow    int    `json:"context_window,omitempty"`
}

// ListModels surfaces configured upstreams and groups as OpenAI-shape model
// entries, annotated with capability flags from the price table when known.
func (s *Server) ListModels(c *gin.Context) {
	snap := s.Routes.Current()
	created := time.Now().Unix()
	entries := make([]modelEntry, 0, len(snap.Upstreams)+len(snap.Groups))
	for _, up := range snap.Upstreams {
		e := modelEntry{Id: up.Name, Object: "model", Created: created, OwnedBy: up.Protocol}
		if p, err := store.GetPrice(s.DB, up.Name, "USD", ""); err == nil && p != nil {
			e.SupportsVision = p.SupportsVision
			e.SupportsTools = p.SupportsTools
			e.SupportsAudio = p.SupportsAudio
			e.SupportsThinking = p.SupportsThinking
			e.ContextWindow = p.ContextWindow
		}
		entries = append(entries, e)
	}
	for _, g := range snap.Groups {
		entries = append(entries, modelEntry{Id: g.Name, Object: "model", Created: created, OwnedBy: "group"})
	}
	c.JSON(http.StatusOK, gin.H{"object": "list", "data": entries})
}

// HealthStatus reports every tracked upstream's breaker state.
func (s *Server) HealthStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.Breaker.StatusMap())
}

// Reload rebuilds the config snapshot and swaps it in atomically.
func (s *Server) Reload(c *gin.Context) {
	if err := s.Routes.Reload(s.DB); err != nil {
		obslog.FromContext(c).Error("reload failed", zap.Error(err))
		abortWith(c, apierr.New(http.StatusInternalServerError, "internal_error", "reload_failed", "configuration reload failed"))
		return
	}
	c.Status(http.StatusNoContent)
}
