package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/tradeflow/brokerage/internal/config"
	"github.com/tradeflow/brokerage/internal/infra"
	"github.com/tradeflow/brokerage/internal/logging"
	"github.com/tradeflow/brokerage/internal/notification"
	"github.com/tradeflow/brokerage/internal/seed"
	"github.com/tradeflow/brokerage/internal/server"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	logger, syncLogs := logging.NewWithSync(cfg.LogLevel)
	defer func() { _ = syncLogs() }()

	if err := run(cfg, logger); err != nil {
		logger.Error("service stopped", slog.Any("error", err))
		_ = syncLogs()
		os.Exit(1)
	}
	logger.Info("server exited cleanly")
}

func run(cfg config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var db *pgxpool.Pool
	if cfg.DatabaseURL != "" {
		pool, err := infra.NewPostgresPool(ctx, cfg.DatabaseURL, infra.PoolOptions{MaxConns: cfg.DBMaxConns})
		if err != nil {
			return err
		}
		defer pool.Close()
		db = pool

		if cfg.RunMigrations {
			if err := infra.Migrate(ctx, db, logger); err != nil {
				return err
			}
		}
	} else {
		logger.Warn("DATABASE_URL not set, using in-memory stores")
	}

	var cache *redis.Client
	if cfg.RedisURL != "" {
		client, err := infra.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			return err
		}
		defer func() {
			if err := client.Close(); err != nil {
				logger.Warn("close redis", slog.Any("error", err))
			}
		}()
		cache = client
	}

	var notifier notification.Notifier = notification.NewLoggerNotifier(logger)
	if len(cfg.KafkaBrokers) > 0 {
		writer, err := infra.NewKafkaWriter(cfg.KafkaBrokers, cfg.KafkaOrderTopic)
		if err != nil {
			return err
		}
		kn := notification.NewKafkaNotifier(writer)
		defer func() {
			if err := kn.Close(); err != nil {
				logger.Warn("close kafka writer", slog.Any("error", err))
			}
		}()
		notifier = kn
	}

	srv, err := server.New(cfg, db, cache, notifier, logger)
	if err != nil {
		return err
	}

	if cfg.SeedDemoData {
		svc := srv.Services()
		if err := seed.Load(ctx, svc.Customers, svc.Ledger, seed.Demo(), logger); err != nil {
			return fmt.Errorf("seed demo data: %w", err)
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("listening", slog.String("addr", cfg.Address()), slog.String("env", cfg.AppEnv))
		return srv.Listen()
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownPeriod)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
