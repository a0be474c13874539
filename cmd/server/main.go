// cmd/server/main.go
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jason-s-yu/clickrace/internal/cache"
	"github.com/jason-s-yu/clickrace/internal/config"
	"github.com/jason-s-yu/clickrace/internal/database"
	"github.com/jason-s-yu/clickrace/internal/handlers"
	"github.com/jason-s-yu/clickrace/internal/hub"
	"github.com/jason-s-yu/clickrace/internal/middleware"
	"github.com/jason-s-yu/clickrace/internal/models"
	"github.com/jason-s-yu/clickrace/internal/presence"
	"github.com/jason-s-yu/clickrace/internal/race"
	_ "github.com/joho/godotenv/autoload"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("config: %v", err)
	}
	logger := cfg.NewLogger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tracker := presence.NewTracker(cfg.PresenceTTL)
	realtime := hub.New(logger)
	publishers := []hub.Publisher{realtime}

	var rdb *redis.Client
	if cfg.RedisAddr != "" {
		rdb, err = cache.ConnectRedis(ctx, cfg.RedisAddr, cfg.RedisDB)
		if err != nil {
			logger.WithError(err).Warn("redis unavailable, running without cross-process fan-out and results queue")
		} else {
			defer rdb.Close()
			remote := hub.NewOrdered(cache.NewLobbyPublisher(rdb, cfg.LobbyChannelPrefix), 0, 2*time.Second, logger)
			defer remote.Close()
			publishers = append(publishers, remote)
			logger.Infof("Connected to Redis at %s", cfg.RedisAddr)
		}
	}
	fanout := hub.Fanout{Publishers: publishers, Log: logger}

	storeCfg := race.StoreConfig{
		CountdownDuration: cfg.CountdownDuration,
		FinishedRetention: cfg.FinishedRetention,
		IdleLobbyTTL:      cfg.IdleLobbyTTL,
		OnUpdate:          fanout.OnUpdate,
		Logger:            logger,
	}
	if cfg.PruneInactiveOnStart {
		storeCfg.Presence = tracker
	}
	if rdb != nil {
		queue := cache.NewResultQueue(rdb, cfg.ResultsQueue)
		storeCfg.OnFinish = func(res models.RaceResult) {
			go func() {
				pushCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
				defer cancel()
				if err := queue.Push(pushCtx, res); err != nil {
					logger.WithError(err).WithField("lobby", res.LobbyID).Warn("failed to queue race result")
				}
			}()
		}
	}
	store := race.NewLobbyStore(storeCfg)

	api := &handlers.API{
		Store:    store,
		Presence: tracker,
		Hub:      realtime,
		Logger:   logger,
	}

	if cfg.DatabaseURL != "" {
		pool, err := database.Connect(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.WithError(err).Warn("database unavailable, results endpoint disabled")
		} else {
			defer pool.Close()
			results := database.NewResults(pool)
			if err := results.EnsureSchema(ctx); err != nil {
				logger.WithError(err).Warn("could not ensure race_results schema")
			}
			api.Results = results
		}
	}

	var limiter *middleware.RateLimiter
	if cfg.RateLimitRPS > 0 {
		limiter = middleware.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst, 5*time.Minute)
		go sweepLimiter(ctx, limiter)
	}

	srv := &http.Server{
		Addr: cfg.Addr(),
		Handler: handlers.NewRouter(api, handlers.RouterOptions{
			AllowedOrigins: cfg.Origins(),
			RateLimiter:    limiter,
		}),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Infof("Running on %s", srv.Addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatalf("server exited: %v", err)
	}
	logger.Info("server stopped")
}

func sweepLimiter(ctx context.Context, rl *middleware.RateLimiter) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rl.Sweep()
		}
	}
}
