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

	"github.com/sirupsen/logrus"

	"github.com/jason-s-yu/bingo/internal/auth"
	"github.com/jason-s-yu/bingo/internal/cache"
	"github.com/jason-s-yu/bingo/internal/config"
	"github.com/jason-s-yu/bingo/internal/database"
	"github.com/jason-s-yu/bingo/internal/escrow"
	"github.com/jason-s-yu/bingo/internal/game"
	"github.com/jason-s-yu/bingo/internal/handlers"
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

	if err := auth.Init(cfg.TokenExpire); err != nil {
		logger.Fatalf("auth: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ledger, closeLedger := openLedger(ctx, logger, cfg)
	defer closeLedger()

	opts := []game.Option{game.WithAccount(cfg.Account)}
	if cfg.RedisAddr != "" {
		rdb, err := cache.Connect(ctx, cfg.RedisAddr, cfg.RedisDB)
		if err != nil {
			logger.Fatalf("redis: %v", err)
		}
		defer rdb.Close()
		opts = append(opts, game.WithPublisher(cache.NewPublisher(rdb, cfg.QueueName)))
		logger.Infof("Publishing game actions to %s (%s)", cfg.RedisAddr, cfg.QueueName)
	} else {
		logger.Warn("REDIS_ADDR not set, game actions will not be recorded")
	}

	gs, err := handlers.NewGameServer(logger, cfg.Rules, ledger, opts...)
	if err != nil {
		logger.Fatalf("game server: %v", err)
	}
	gs.AllowDeposits = cfg.AllowDeposits
	if cfg.AllowDeposits && cfg.LedgerBackend != config.LedgerMemory {
		logger.Warn("Self-service deposits are enabled on a persistent ledger")
	}

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: gs.Routes(logger),
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	logger.WithFields(logrus.Fields{
		"joinDuration": cfg.Rules.JoinDuration,
		"turnDuration": cfg.Rules.TurnDuration,
		"joinFee":      cfg.Rules.JoinFee.Dec(),
		"token":        cfg.Rules.JoinToken,
		"ledger":       cfg.LedgerBackend,
		"run":          gs.Bingo.Run(),
	}).Infof("Running on %s", srv.Addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatalf("server exited: %v", err)
	}
}

// openLedger builds the configured escrow backend.
func openLedger(ctx context.Context, logger *logrus.Logger, cfg config.Config) (escrow.Ledger, func()) {
	if cfg.LedgerBackend != config.LedgerPostgres {
		logger.Warn("Using in-memory ledger, balances are lost on restart")
		return escrow.NewMemoryLedger(), func() {}
	}
	pool, err := database.Connect(ctx, cfg.Postgres.DSN())
	if err != nil {
		logger.Fatalf("postgres: %v", err)
	}
	ledger := escrow.NewPostgresLedger(pool)
	if err := ledger.EnsureSchema(ctx); err != nil {
		pool.Close()
		logger.Fatalf("ledger schema: %v", err)
	}
	logger.Infof("Connected to ledger database at %s:%s/%s", cfg.Postgres.Host, cfg.Postgres.Port, cfg.Postgres.Database)
	return ledger, pool.Close
}
