package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/hyperengineering/ripple/internal/api"
	"github.com/hyperengineering/ripple/internal/config"
	"github.com/hyperengineering/ripple/internal/registry"
	"github.com/hyperengineering/ripple/internal/tracking"
	"github.com/hyperengineering/ripple/internal/worker"
)

// Version is set at build time via ldflags: -ldflags "-X main.Version=1.0.0"
var Version = "dev"

var rootCmd = &cobra.Command{
	Use:          "ripple",
	Short:        "Ripple - change tracking and indexing queue",
	SilenceUsage: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the commit API and the indexing dispatcher",
	RunE:  run,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(registryCmd)
	rootCmd.AddCommand(queueCmd)
}

func run(cmd *cobra.Command, args []string) error {
	ctx, cancel := signal.NotifyContext(context.Background(),
		syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	slog.SetDefault(newLogger(os.Stdout, cfg.Log))
	slog.Info("configuration loaded", "level", cfg.Log.Level, "queue_backend", cfg.Queue.Backend)

	reg, err := registry.LoadFile(cfg.Registry.Path)
	if err != nil {
		return err
	}
	slog.Info("registry loaded",
		"path", cfg.Registry.Path,
		"types", len(reg.Types()),
		"fingerprint", reg.FingerprintHex(),
	)

	name := queueName(cfg.Queue, reg)
	q, closeQueue, err := openQueue(ctx, cfg, name)
	if err != nil {
		return err
	}
	slog.Info("queue opened", "backend", cfg.Queue.Backend, "queue", name)

	lookup, closeLookup, err := openLookup(cfg.Database, reg)
	if err != nil {
		closeQueue()
		return err
	}

	coord := tracking.NewCoordinator(reg, lookup, q, tracking.Options{
		MaxDepth:          cfg.Tracking.MaxDepth,
		LookupConcurrency: cfg.Tracking.LookupConcurrency,
	})

	handler := api.NewHandler(coord, q, api.HandlerConfig{
		QueueName:   name,
		Fingerprint: reg.FingerprintHex(),
		APIKey:      cfg.Auth.APIKey,
		Version:     Version,
	})
	router := api.NewRouter(handler, newMetricsRegistry())
	slog.Info("router initialized")

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout),
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout),
	}

	var wg sync.WaitGroup
	var dispatcher *worker.Dispatcher
	if cfg.Worker.Enabled {
		dispatcher = worker.NewDispatcher(q, worker.LogIndexer{}, worker.DispatcherConfig{
			Interval:  time.Duration(cfg.Worker.DrainInterval),
			BatchSize: cfg.Worker.BatchSize,
			RateLimit: cfg.Worker.RateLimit,
		})
		startWorker(ctx, &wg, "dispatcher", dispatcher.Run)
	}

	go func() {
		slog.Info("server starting", "address", addr)
		if err := srv.ListenAndServe(); err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			cancel()
		}
	}()

	<-ctx.Done()
	slog.Info("shutdown initiated")

	shutdownCtx, shutdownCancel := context.WithTimeout(
		context.Background(),
		time.Duration(cfg.Server.ShutdownTimeout))
	defer shutdownCancel()

	// Stop accepting commits before the dispatcher's final pass
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", "error", err)
	}

	wg.Wait()
	if dispatcher != nil {
		dispatcher.Finish(shutdownCtx)
	}

	if err := closeLookup(); err != nil {
		slog.Error("database close error", "error", err)
	}
	if err := closeQueue(); err != nil {
		slog.Error("queue close error", "error", err)
	}

	slog.Info("shutdown complete")
	return nil
}

// startWorker launches a background worker goroutine that respects context cancellation.
// Workers are tracked via WaitGroup for graceful shutdown.
func startWorker(ctx context.Context, wg *sync.WaitGroup, name string, fn func(ctx context.Context)) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		slog.Info("worker started", "worker", name)
		fn(ctx)
		slog.Info("worker stopped", "worker", name)
	}()
}
