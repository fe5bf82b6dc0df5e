// Command devradar runs the continuous project-discovery and AI-analysis
// pipeline: a debounced filesystem watcher feeds newly discovered projects
// through a bounded-concurrency analysis queue, with results cached,
// persisted, and fanned out to WebSocket clients in realtime.
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/devradar/devradar/pkg/analyzer"
	"github.com/devradar/devradar/pkg/api"
	"github.com/devradar/devradar/pkg/cache"
	"github.com/devradar/devradar/pkg/cleanup"
	"github.com/devradar/devradar/pkg/config"
	ctxextract "github.com/devradar/devradar/pkg/context"
	"github.com/devradar/devradar/pkg/database"
	"github.com/devradar/devradar/pkg/discovery"
	"github.com/devradar/devradar/pkg/events"
	"github.com/devradar/devradar/pkg/projects"
	"github.com/devradar/devradar/pkg/queue"
	"github.com/devradar/devradar/pkg/ratelimit"
	"github.com/devradar/devradar/pkg/realtime"
	"github.com/devradar/devradar/pkg/version"
	"github.com/devradar/devradar/pkg/worker"
)

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func main() {
	configDir := flag.String("config-dir", getEnv("CONFIG_DIR", "./deploy/config"), "path to configuration directory")
	watchPath := flag.String("watch-path", os.Getenv("WATCH_PATH"), "root directory to scan for projects (overrides config)")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	slog.Info("devradar starting", "version", version.Full(), "config_dir", *configDir)

	cfg, err := config.Initialize(ctx, *configDir, func(c *config.Config) {
		if *watchPath != "" {
			c.Watcher.WatchPath = *watchPath
		}
	})
	if err != nil {
		slog.Error("configuration failed", "error", err)
		os.Exit(1)
	}

	apiKey := os.Getenv(cfg.GenAI.APIKeyEnv)
	if apiKey == "" {
		slog.Error("missing analyzer API key", "env_var", cfg.GenAI.APIKeyEnv)
		os.Exit(1)
	}

	db, err := database.NewClient(ctx, cfg.Database)
	if err != nil {
		slog.Error("database connection failed", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	slog.Info("connected to postgres")

	redisCache := cache.New(cfg.Redis, cfg.Worker.CacheTTLHours)
	defer redisCache.Close()

	bus := events.New(cfg.Database.URL, db.Pool)
	if err := bus.Start(ctx); err != nil {
		slog.Error("event bus failed to start", "error", err)
		os.Exit(1)
	}
	defer bus.Stop(context.Background())

	projectStore := projects.NewStore(db.Pool)
	queueStore := queue.NewStore(db.Pool)

	watcher, err := discovery.NewWatcher(cfg.Watcher)
	if err != nil {
		slog.Error("watcher init failed", "error", err)
		os.Exit(1)
	}
	defer watcher.Close()

	bridge := discovery.NewBridge(watcher, bus)
	subscriber := projects.NewSubscriber(projectStore, bus, queueStore)

	analyzerClient, err := analyzer.New(ctx, cfg.GenAI, cfg.Worker, apiKey)
	if err != nil {
		slog.Error("analyzer client init failed", "error", err)
		os.Exit(1)
	}

	executor := ratelimit.NewExecutor(cfg.RateLimiter)
	processor := worker.New(projectStore, queueStore, bus, redisCache, analyzerClient, executor, ctxextract.Extract, cfg.Worker)
	pool := queue.NewPool(queueStore, processor, cfg.Worker.Concurrency, cfg.Queue)

	orphans := queue.NewOrphanDetector(queueStore)
	if recovered := orphans.CleanupStartup(ctx); recovered > 0 {
		slog.Warn("recovered orphaned jobs left by a previous run", "count", recovered)
	}

	if cfg.Admin.ResetDeleted {
		removed, err := projectStore.DeleteInactive(ctx)
		if err != nil {
			slog.Error("failed to reset deleted projects", "error", err)
		} else if removed > 0 {
			slog.Info("reset deleted projects before scan", "removed", removed)
		}
	}

	rt := realtime.NewManager(bus, cfg.Fanout.KeepaliveInterval)
	rt.Start()

	server := api.NewServer(db, bus, projectStore, queueStore, pool, rt)

	cleanupSvc := cleanup.NewService(cfg.Retention, cfg.Queue, queueStore, redisCache, bus)

	go func() {
		if err := watcher.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("watcher stopped", "error", err)
		}
	}()
	go bridge.Run(ctx)
	go subscriber.Run(ctx)
	pool.Start(ctx)
	go orphans.Run(ctx)
	cleanupSvc.Start(ctx)

	httpErrCh := make(chan error, 1)
	go func() {
		slog.Info("http server listening", "addr", cfg.HTTPAddr)
		if err := server.Start(cfg.HTTPAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			httpErrCh <- err
			return
		}
		httpErrCh <- nil
	}()

	select {
	case <-ctx.Done():
		slog.Info("shutdown signal received")
	case err := <-httpErrCh:
		if err != nil {
			slog.Error("http server failed", "error", err)
		}
	}

	shutdown(cfg, db, bus, watcher, bridge, pool, rt, server, cleanupSvc)
}

// shutdown drains and releases every component in dependency order: stop
// accepting new jobs, give in-flight jobs a grace period, flush pending
// watcher debounces and publish them so nothing in-flight is silently
// dropped, close realtime connections, then tear down the bus and storage.
// Everything here runs on a fresh context; the process-wide signal context
// is already cancelled by the time this is called.
func shutdown(cfg *config.Config, db *database.Client, bus *events.Bus, watcher *discovery.Watcher, bridge *discovery.Bridge, pool *queue.Pool, rt *realtime.Manager, server *api.Server, cleanupSvc *cleanup.Service) {
	slog.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("http server shutdown error", "error", err)
	}

	cleanupSvc.Stop()

	pool.Pause()

	drained := make(chan struct{})
	go func() {
		pool.Wait()
		close(drained)
	}()
	select {
	case <-drained:
	case <-time.After(cfg.Queue.ShutdownDrainPeriod):
		slog.Warn("shutdown drain period elapsed with jobs still active", "active", pool.Health().ActiveJobs)
	}

	// Pending discovery events must reach the bus before it closes. The
	// watcher's Run loop and the bridge have already exited with the
	// cancelled signal context, so flush and drain explicitly here.
	watcher.FlushAll()
	bridge.Drain(shutdownCtx)

	rt.Shutdown(shutdownCtx)
	bus.Stop(shutdownCtx)
	db.Close()

	slog.Info("devradar stopped")
}
