// cmd/historian/main.go
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/jason-s-yu/clickrace/internal/cache"
	"github.com/jason-s-yu/clickrace/internal/config"
	"github.com/jason-s-yu/clickrace/internal/database"
	"github.com/jason-s-yu/clickrace/internal/historian"
	_ "github.com/joho/godotenv/autoload"
	"github.com/sirupsen/logrus"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("config: %v", err)
	}
	logger := cfg.NewLogger()

	if cfg.RedisAddr == "" || cfg.DatabaseURL == "" {
		logger.Fatal("historian requires REDIS_ADDR and DATABASE_URL")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rdb, err := cache.ConnectRedis(ctx, cfg.RedisAddr, cfg.RedisDB)
	if err != nil {
		logger.Fatalf("unable to connect to redis: %v", err)
	}
	defer rdb.Close()

	pool, err := database.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatalf("unable to connect to database: %v", err)
	}
	defer pool.Close()

	results := database.NewResults(pool)
	if err := results.EnsureSchema(ctx); err != nil {
		logger.Fatalf("ensure schema: %v", err)
	}

	svc := historian.New(rdb, results, historian.Options{
		Queue:      cfg.ResultsQueue,
		BatchSize:  cfg.HistorianBatchSize,
		FlushDelay: cfg.HistorianFlush,
		Logger:     logger,
	})

	logger.Infof("Historian draining %s", cfg.ResultsQueue)
	if err := svc.Run(ctx); err != nil {
		logger.Fatalf("historian: %v", err)
	}
	logger.Info("Historian stopped")
}
