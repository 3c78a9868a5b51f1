// Package server wires the inbound HTTP surface: the proxied relay paths,
// the models catalogue, and the operator-only internal endpoints.
package server

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"

	"github.com/burncloud/burncloud-router/internal/appconfig"
	"github.com/burncloud/burncloud-router/internal/billing"
	"github.com/burncloud/burncloud-router/internal/breaker"
	"github.com/burncloud/burncloud-router/internal/health"
	"github.com/burncloud/burncloud-router/internal/proxy"
	"github.com/burncloud/burncloud-router/internal/routeconfig"
	"github.com/burncloud/burncloud-router/internal/store/cache"
)

// Server bundles the request pipeline's collaborators for the handlers.
type Server struct {
	DB      *gorm.DB
	Routes  *routeconfig.Store
	Proxy   *proxy.Proxy
	Breaker *breaker.Breaker
	Tracker *health.Tracker
	Settler *billing.Settler
	Cache   *cache.Layer
}

// SetupRouter builds the gin engine with the full middleware chain and
// route table.
func (s *Server) SetupRouter() *gin.Engine {
	if !appconfig.DebugEnabled {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(s.RequestId())

	internal := r.Group(appconfig.InternalPrefix)
	{
		internal.GET("/health", s.HealthStatus)
		internal.POST("/reload", s.Reload)
	}
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	authed := r.Group("/", s.Auth())
	{
		authed.GET("/v1/models", s.ListModels)
		authed.POST("/v1/chat/completions", s.ChatCompletions)
		authed.POST("/v1/embeddings", s.Embeddings)
		authed.POST("/v1/messages", s.ClaudeMessages)
		authed.GET("/v1/realtime", s.Realtime)
	}

	// Any other path is routed by match-path prefix against the configured
	// upstreams and groups.
	r.NoRoute(s.Auth(), s.ProxyAny)

	return r
}
