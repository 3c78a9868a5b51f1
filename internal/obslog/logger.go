// Package obslog builds the process-wide zap logger and attaches
// per-request child loggers to gin.Context.
package obslog

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/burncloud/burncloud-router/internal/appconfig"
	"github.com/burncloud/burncloud-router/internal/ctxkey"
)

// Logger is the process-wide base logger, built once at startup.
var Logger *zap.Logger

func init() {
	level := zapcore.InfoLevel
	if appconfig.DebugEnabled {
		level = zapcore.DebugLevel
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(level)
	cfg.EncoderConfig.TimeKey = "ts"
	built, err := cfg.Build()
	if err != nil {
		built = zap.NewNop()
	}
	Logger = built
}

// WithRequest returns a child logger carrying request_id and path fields
// (WithUser and WithUpstream add user_id and upstream_id later) and stashes it
// on the context under ctxkey.Logger.
func WithRequest(c *gin.Context, requestID string) *zap.Logger {
	lg := Logger.With(
		zap.String("request_id", requestID),
		zap.String("path", c.Request.URL.Path),
	)
	c.Set(ctxkey.Logger, lg)
	return lg
}

// FromContext retrieves the per-request logger, falling back to the base
// logger if none was attached (e.g. in background tasks).
func FromContext(c *gin.Context) *zap.Logger {
	if v, ok := c.Get(ctxkey.Logger); ok {
		if lg, ok := v.(*zap.Logger); ok {
			return lg
		}
	}
	return Logger
}

// WithUpstream annotates the context logger with the upstream currently being
// attempted; called once per try-next iteration.
func WithUpstream(c *gin.Context, upstreamID string) *zap.Logger {
	lg := FromContext(c).With(zap.String("upstream_id", upstreamID))
	c.Set(ctxkey.Logger, lg)
	return lg
}

// WithUser annotates the context logger with the authenticated user id.
func WithUser(c *gin.Context, userID int) *zap.Logger {
	lg := FromContext(c).With(zap.Int("user_id", userID))
	c.Set(ctxkey.Logger, lg)
	return lg
}
