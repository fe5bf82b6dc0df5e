// Package cleanup implements the background retention service: job
// retention policy enforcement, expired cache sweep, and orphaned event
// pruning.
package cleanup

import (
	"context"
	"log/slog"
	"math/rand"
	"time"

	"github.com/devradar/devradar/pkg/config"
)

// QueueStore is the subset of pkg/queue.Store the service enforces
// retention through.
type QueueStore interface {
	EnforceRetention(ctx context.Context, keepLastCompleted int, maxAge time.Duration, keepLastFailed int) (completedRemoved, failedRemoved int64, err error)
}

// Cache is the subset of pkg/cache.Cache the service sweeps expired
// entries from.
type Cache interface {
	ClearExpired(ctx context.Context) (int, error)
}

// EventPruner is the subset of pkg/events.Bus the service prunes old
// recent_events rows through.
type EventPruner interface {
	PruneEvents(ctx context.Context, olderThan time.Duration) (int64, error)
}

// Service periodically enforces retention policies:
//   - Removes completed/failed queue jobs past their retention window
//   - Sweeps expired cache entries (belt-and-suspenders alongside Redis's
//     own TTL expiry, for entries a SCAN hasn't yet reaped)
//   - Prunes recent_events rows older than the event TTL
//
// All operations are idempotent and safe to run from multiple replicas.
type Service struct {
	retention *config.RetentionConfig
	queueCfg  *config.QueueConfig

	queue  QueueStore
	cache  Cache
	events EventPruner

	cancel context.CancelFunc
	done   chan struct{}
}

// NewService creates a cleanup Service.
func NewService(retention *config.RetentionConfig, queueCfg *config.QueueConfig, queue QueueStore, cache Cache, events EventPruner) *Service {
	return &Service{
		retention: retention,
		queueCfg:  queueCfg,
		queue:     queue,
		cache:     cache,
		events:    events,
	}
}

// Start launches the background cleanup loop.
func (s *Service) Start(ctx context.Context) {
	if s.cancel != nil {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	go s.run(ctx)

	slog.Info("cleanup: service started",
		"interval", s.retention.CleanupInterval,
		"cache_sweep_jitter", s.retention.CacheSweepJitter,
		"event_ttl", s.retention.EventTTL)
}

// Stop signals the cleanup loop to exit and waits for it to finish.
func (s *Service) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	slog.Info("cleanup: service stopped")
}

func (s *Service) run(ctx context.Context) {
	defer close(s.done)

	s.runAll(ctx)

	ticker := time.NewTicker(s.retention.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runAll(ctx)
		}
	}
}

func (s *Service) runAll(ctx context.Context) {
	s.enforceQueueRetention(ctx)
	s.sweepExpiredCache(ctx)
	s.pruneOldEvents(ctx)
}

func (s *Service) enforceQueueRetention(ctx context.Context) {
	completed, failed, err := s.queue.EnforceRetention(ctx, s.queueCfg.CompletedKeepLast, s.queueCfg.CompletedRetention, s.queueCfg.FailedKeepLast)
	if err != nil {
		slog.Error("cleanup: enforce queue retention failed", "error", err)
		return
	}
	if completed > 0 || failed > 0 {
		slog.Info("cleanup: enforced queue retention", "completed_removed", completed, "failed_removed", failed)
	}
}

// sweepExpiredCache jitters its start within cacheSweepJitter so multiple
// replicas don't all hit Redis's SCAN at once on a shared cadence.
func (s *Service) sweepExpiredCache(ctx context.Context) {
	if s.retention.CacheSweepJitter > 0 {
		jitter := time.Duration(rand.Int63n(int64(s.retention.CacheSweepJitter))) // nolint:gosec // jitter, not security-sensitive
		select {
		case <-ctx.Done():
			return
		case <-time.After(jitter):
		}
	}

	removed, err := s.cache.ClearExpired(ctx)
	if err != nil {
		slog.Error("cleanup: cache sweep failed", "error", err)
		return
	}
	if removed > 0 {
		slog.Info("cleanup: swept expired cache entries", "removed", removed)
	}
}

func (s *Service) pruneOldEvents(ctx context.Context) {
	removed, err := s.events.PruneEvents(ctx, s.retention.EventTTL)
	if err != nil {
		slog.Error("cleanup: event prune failed", "error", err)
		return
	}
	if removed > 0 {
		slog.Info("cleanup: pruned old events", "removed", removed)
	}
}
