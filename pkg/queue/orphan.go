package queue

import (
	"context"
	"log/slog"
	"time"
)

// staleAfter is how long a claimed job may go without a heartbeat before
// it is considered orphaned (a worker crashed or was killed mid-job).
const staleAfter = 45 * time.Second

// orphanScanInterval is how often the background sweep runs.
const orphanScanInterval = 30 * time.Second

// OrphanDetector periodically requeues active jobs whose worker stopped
// heartbeating, so a crashed worker doesn't strand a job forever.
type OrphanDetector struct {
	store *Store
	done  chan struct{}
}

// NewOrphanDetector creates a detector over store.
func NewOrphanDetector(store *Store) *OrphanDetector {
	return &OrphanDetector{store: store, done: make(chan struct{})}
}

// Run ticks orphanScanInterval until ctx is cancelled, recovering stale
// jobs on each tick.
func (d *OrphanDetector) Run(ctx context.Context) {
	defer close(d.done)
	ticker := time.NewTicker(orphanScanInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.sweep(ctx)
		}
	}
}

// CleanupStartup performs a single sweep at process start, requeueing any
// active job whose heartbeat is older than staleAfter, such as one left by
// a previous, ungracefully-terminated process.
func (d *OrphanDetector) CleanupStartup(ctx context.Context) int {
	return d.sweep(ctx)
}

func (d *OrphanDetector) sweep(ctx context.Context) int {
	stale, err := d.store.StaleActive(ctx, staleAfter)
	if err != nil {
		slog.Error("queue: orphan scan failed", "error", err)
		return 0
	}
	recovered := 0
	for _, job := range stale {
		if err := d.store.Requeue(ctx, job.ID); err != nil {
			slog.Error("queue: failed to requeue orphan", "job_id", job.ID, "error", err)
			continue
		}
		slog.Warn("queue: recovered orphaned job", "job_id", job.ID, "locked_by", job.LockedBy)
		recovered++
	}
	return recovered
}
