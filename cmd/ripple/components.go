package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/hyperengineering/ripple/internal/config"
	"github.com/hyperengineering/ripple/internal/ormhook"
	"github.com/hyperengineering/ripple/internal/queue"
	"github.com/hyperengineering/ripple/internal/registry"
	"github.com/hyperengineering/ripple/internal/store"
	"github.com/hyperengineering/ripple/internal/tracking"
	"github.com/hyperengineering/ripple/internal/types"
	"github.com/hyperengineering/ripple/internal/worker"
)

var errNoDatabase = errors.New("no application database configured")

func nopClose() error { return nil }

func newLogger(w io.Writer, cfg config.LogConfig) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLogLevel(cfg.Level)}
	if cfg.Format == "text" {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// queueName gives each index configuration its own logical queue unless
// one is configured explicitly.
func queueName(cfg config.QueueConfig, reg *registry.Registry) string {
	if cfg.Name != "" {
		return cfg.Name
	}
	return "idx-" + reg.FingerprintHex()
}

// openQueue opens the configured backend. The returned func releases it.
func openQueue(ctx context.Context, cfg *config.Config, name string) (queue.Queue, func() error, error) {
	opts := queue.Options{Name: name, Capacity: cfg.Queue.Capacity}

	switch cfg.Queue.Backend {
	case config.BackendMemory:
		return queue.NewMemoryQueue(opts), nopClose, nil

	case config.BackendSQLite:
		q, err := store.NewSQLiteQueue(cfg.SQLite.Path, opts)
		if err != nil {
			return nil, nil, err
		}
		return q, q.Close, nil

	case config.BackendRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		q := store.NewRedisQueue(client, store.RedisOptions{Options: opts, KeyPrefix: cfg.Redis.KeyPrefix})
		if err := q.Ping(ctx); err != nil {
			client.Close()
			return nil, nil, err
		}
		return q, client.Close, nil
	}

	return nil, nil, fmt.Errorf("unknown queue backend %q", cfg.Queue.Backend)
}

// openLookup connects the reverse association lookup to the application
// database. Without a DSN every lookup fails, so only changes that need no
// reverse navigation can be processed.
func openLookup(cfg config.DatabaseConfig, reg *registry.Registry) (tracking.ReverseAssociationLookup, func() error, error) {
	if cfg.DSN == "" {
		slog.Warn("no application database configured, reverse lookups will fail", "component", "ormhook")
		return unavailableLookup{}, nopClose, nil
	}

	db, err := gorm.Open(mysql.Open(cfg.DSN), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, nil, fmt.Errorf("open application database: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, nil, fmt.Errorf("open application database: %w", err)
	}
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetConnMaxLifetime(time.Duration(cfg.ConnMaxLifetime))

	slog.Info("application database opened", "component", "ormhook")
	return ormhook.NewLookup(db, reg), sqlDB.Close, nil
}

type unavailableLookup struct{}

func (unavailableLookup) FindHolders(ctx context.Context, target types.EntityRef, path registry.AssociationPath) ([]types.EntityRef, error) {
	return nil, errNoDatabase
}

func newMetricsRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	reg.MustRegister(queue.Collectors()...)
	reg.MustRegister(tracking.Collectors()...)
	reg.MustRegister(worker.Collectors()...)
	return reg
}
