// cmd/historian is an asynchronous historian service that pops game actions from a
// Redis queue and persists them to PostgreSQL.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/jason-s-yu/bingo/internal/cache"
	"github.com/jason-s-yu/bingo/internal/config"
	"github.com/jason-s-yu/bingo/internal/database"
	"github.com/jason-s-yu/bingo/internal/historian"
)

func main() {
	logger := logrus.New()

	if err := config.LoadDotEnv(".env"); err != nil {
		logger.Warnf("could not read .env: %v", err)
	}
	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("config: %v", err)
	}
	if level, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		logger.SetLevel(level)
	}
	if cfg.RedisAddr == "" {
		cfg.RedisAddr = "localhost:6379"
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := database.Connect(ctx, cfg.Postgres.DSN())
	if err != nil {
		logger.Fatalf("postgres: %v", err)
	}
	defer pool.Close()

	history := database.NewGameHistory(pool)
	if err := history.EnsureSchema(ctx); err != nil {
		logger.Fatalf("history schema: %v", err)
	}

	rdb, err := cache.Connect(ctx, cfg.RedisAddr, cfg.RedisDB)
	if err != nil {
		logger.Fatalf("redis: %v", err)
	}
	defer rdb.Close()

	svc := historian.NewService(cache.NewConsumer(rdb, cfg.QueueName), history, historian.Options{
		BatchSize:  cfg.BatchSize,
		FlushDelay: cfg.FlushEvery,
		Inactivity: cfg.Inactivity,
	}, logger)
	logger.Infof("Draining %s into %s", cfg.QueueName, cfg.Postgres.Database)
	svc.Run(ctx)
	logger.Info("Historian shutdown complete.")
}
