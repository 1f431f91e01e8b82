package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"

	"rps.hh/internal/api"
	"rps.hh/internal/game"
	"rps.hh/internal/logging"
	"rps.hh/internal/metrics"
	"rps.hh/internal/notify"
	"rps.hh/internal/store"
)

func main() {
	// A missing .env is fine; the process environment still applies.
	_ = godotenv.Load()

	cfg, err := loadConfig()
	if err != nil {
		slog.Error("config error", slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger := logging.NewLogger(logging.Config{
		Format: cfg.LogFormat,
		Level:  cfg.LogLevel,
		Output: os.Stdout,
	})
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("service stopped", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run(cfg config, logger *slog.Logger) error {
	ctx := context.Background()

	startCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	pool, err := pgxpool.New(startCtx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer pool.Close()
	if err := pool.Ping(startCtx); err != nil {
		return err
	}

	st := store.New(pool)
	if cfg.AutoMigrate {
		if err := st.Migrate(startCtx); err != nil {
			return err
		}
		logger.Info("schema applied")
	}

	rec := metrics.NewRecorder()

	var notifier notify.Notifier = notify.Nop{}
	var async *notify.Async
	if cfg.RedisURL != "" {
		client, err := notify.NewRedisClient(cfg.RedisURL)
		if err != nil {
			return err
		}
		defer client.Close()
		if err := client.Ping(startCtx).Err(); err != nil {
			logger.Warn("redis unreachable, events will be dropped until it recovers", slog.String("error", err.Error()))
		}
		async = notify.NewAsync(notify.NewRedisPublisher(client), notify.AsyncOptions{
			Logger:  logger,
			Metrics: rec,
		})
		notifier = async
	}

	coord := game.NewCoordinator(st, game.Options{
		Notifier:    notifier,
		Metrics:     rec,
		Logger:      logger,
		MaxAttempts: cfg.MaxAttempts,
		OpTimeout:   cfg.OpTimeout,
	})

	var sweeper *game.Sweeper
	if cfg.WaitingTTL > 0 {
		sweeper, err = game.NewSweeper(coord, cfg.WaitingTTL, cfg.SweepInterval, logger)
		if err != nil {
			return err
		}
		sweeper.Start()
	}

	srv := api.NewServer(coord, st, api.Config{
		GatewayToken: cfg.GatewayToken,
		AdminToken:   cfg.AdminToken,
		Logger:       logger,
		Metrics:      rec,
	})

	httpServer := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           srv.Routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("listening", slog.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	var runErr error
	select {
	case <-quit:
	case runErr = <-serveErr:
	}

	ctxShutdown, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()

	if err := httpServer.Shutdown(ctxShutdown); err != nil {
		logger.Error("http shutdown", slog.String("error", err.Error()))
	}
	if sweeper != nil {
		if err := sweeper.Stop(); err != nil {
			logger.Error("sweeper shutdown", slog.String("error", err.Error()))
		}
	}
	if async != nil {
		if err := async.Close(ctxShutdown); err != nil {
			logger.Error("notifier shutdown", slog.String("error", err.Error()))
		}
	}
	logger.Info("shutdown complete")
	return runErr
}
