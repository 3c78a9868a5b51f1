package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/joho/godotenv/autoload"
	"go.uber.org/zap"

	"github.com/burncloud/burncloud-router/internal/adaptivelimit"
	"github.com/burncloud/burncloud-router/internal/appconfig"
	"github.com/burncloud/burncloud-router/internal/balancer"
	"github.com/burncloud/burncloud-router/internal/billing"
	"github.com/burncloud/burncloud-router/internal/breaker"
	"github.com/burncloud/burncloud-router/internal/health"
	"github.com/burncloud/burncloud-router/internal/notify"
	"github.com/burncloud/burncloud-router/internal/obslog"
	"github.com/burncloud/burncloud-router/internal/pricesync"
	"github.com/burncloud/burncloud-router/internal/proxy"
	"github.com/burncloud/burncloud-router/internal/routeconfig"
	"github.com/burncloud/burncloud-router/internal/server"
	"github.com/burncloud/burncloud-router/internal/store"
	"github.com/burncloud/burncloud-router/internal/store/cache"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := store.Open(appconfig.StoreDSN)
	if err != nil {
		obslog.Logger.Fatal("failed to open store", zap.Error(err))
	}
	if err := store.Migrate(db); err != nil {
		obslog.Logger.Fatal("failed to migrate store", zap.Error(err))
	}

	routes := &routeconfig.Store{}
	if err := routes.Reload(db); err != nil {
		obslog.Logger.Fatal("failed to load route config", zap.Error(err))
	}

	limiterCfg := adaptivelimit.Config{
		LearningDuration: appconfig.AdaptiveLearningDuration,
		InitialLimit:     appconfig.AdaptiveInitialLimit,
		AdjustmentStep:   appconfig.AdaptiveAdjustmentStep,
		SuccessThreshold: appconfig.AdaptiveSuccessThreshold,
		FailureThreshold: appconfig.AdaptiveFailureThreshold,
		CooldownDuration: appconfig.AdaptiveCooldown(),
		RecoveryRatio:    appconfig.AdaptiveRecoveryRatio(),
		MaxLimit:         appconfig.AdaptiveMaxLimit,
	}
	tracker := health.NewTracker(limiterCfg, nil)
	sink := notify.New(appconfig.NotificationWebhookURL)
	brk := breaker.New(appconfig.BreakerFailureThreshold, appconfig.BreakerCooldown(), nil)
	brk.OnStateChange = func(upstreamID string, state breaker.State) {
		sink.Post(ctx, "upstream "+upstreamID+" breaker is now "+state.String())
	}

	journal := billing.NewJournal(db, appconfig.JournalChannelCapacity)
	defer journal.Close()
	settler := billing.NewSettler(db, journal)

	syncer := pricesync.New(db, sink)
	go syncer.Run(ctx, appconfig.PriceSyncInterval())

	srv := &server.Server{
		DB:      db,
		Routes:  routes,
		Proxy:   proxy.New(db, routes, balancer.NewCounters(), brk, tracker, settler),
		Breaker: brk,
		Tracker: tracker,
		Settler: settler,
		Cache:   cache.New(appconfig.RedisURL, time.Minute, 5*time.Minute),
	}
	engine := srv.SetupRouter()

	obslog.Logger.Info("router listening", zap.String("addr", appconfig.ListenAddr))
	if err := engine.Run(appconfig.ListenAddr); err != nil {
		obslog.Logger.Fatal("server exited", zap.Error(err))
	}
}
