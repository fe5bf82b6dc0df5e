package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/devradar/devradar/pkg/config"
)

// pollInterval is the base delay between claim attempts when the queue is
// empty or at capacity; a small jitter avoids every worker waking in lockstep.
const pollInterval = 500 * time.Millisecond

// Pool is a fixed-size set of workers competing for jobs via
// Store.ClaimNext, each able to progress an independent job.
type Pool struct {
	store     *Store
	processor Processor
	size      int
	cfg       *config.QueueConfig
	podID     string

	paused atomic.Bool

	mu        sync.Mutex
	cancelFns map[string]context.CancelFunc

	wg sync.WaitGroup
}

// NewPool creates a Pool of size workers dequeuing from store and handing
// each claimed job to processor. cfg supplies the retry policy: with
// DefaultAttempts of 1 (the shipped default) a failed job goes straight to
// failed; above that, failed attempts are re-delayed with jittered
// exponential backoff until attempts are exhausted.
func NewPool(store *Store, processor Processor, size int, cfg *config.QueueConfig) *Pool {
	if size <= 0 {
		size = 1
	}
	if cfg == nil {
		cfg = config.DefaultQueueConfig()
	}
	return &Pool{
		store:     store,
		processor: processor,
		size:      size,
		cfg:       cfg,
		podID:     uuid.New().String()[:8],
		cancelFns: make(map[string]context.CancelFunc),
	}
}

// Start launches size worker goroutines. It returns immediately; call
// Wait or cancel ctx to stop.
func (p *Pool) Start(ctx context.Context) {
	for i := 0; i < p.size; i++ {
		workerID := fmt.Sprintf("%s-w%d", p.podID, i)
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			p.run(ctx, workerID)
		}()
	}
}

// Wait blocks until every worker goroutine has exited.
func (p *Pool) Wait() {
	p.wg.Wait()
}

// Pause stops the pool from claiming new jobs; in-flight jobs continue.
func (p *Pool) Pause() { p.paused.Store(true) }

// Resume re-enables claiming.
func (p *Pool) Resume() { p.paused.Store(false) }

// Paused reports the pool's current pause state.
func (p *Pool) Paused() bool { return p.paused.Load() }

// CancelJob cancels a currently-active job's context, if this pool is
// running it. Used by force-delete and operator cancellation.
func (p *Pool) CancelJob(jobID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	cancel, ok := p.cancelFns[jobID]
	if ok {
		cancel()
	}
	return ok
}

// ActiveJobIDs returns the ids currently being processed by this pool.
func (p *Pool) ActiveJobIDs() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	ids := make([]string, 0, len(p.cancelFns))
	for id := range p.cancelFns {
		ids = append(ids, id)
	}
	return ids
}

func (p *Pool) run(ctx context.Context, workerID string) {
	log := slog.With("worker_id", workerID)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if p.paused.Load() {
			p.sleep(ctx, pollInterval)
			continue
		}

		if err := p.pollAndProcess(ctx, workerID); err != nil {
			if errors.Is(err, ErrNoJobsAvailable) {
				p.sleep(ctx, pollInterval)
				continue
			}
			log.Error("queue: job processing error", "error", err)
			p.sleep(ctx, time.Second)
		}
	}
}

func (p *Pool) sleep(ctx context.Context, d time.Duration) {
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}

func (p *Pool) pollAndProcess(ctx context.Context, workerID string) error {
	job, err := p.store.ClaimNext(ctx, workerID)
	if err != nil {
		return err
	}

	log := slog.With("job_id", job.ID, "worker_id", workerID)
	log.Info("queue: job claimed")

	jobCtx, cancel := context.WithCancel(ctx)
	p.mu.Lock()
	p.cancelFns[job.ID] = cancel
	p.mu.Unlock()
	defer func() {
		p.mu.Lock()
		delete(p.cancelFns, job.ID)
		p.mu.Unlock()
		cancel()
	}()

	heartbeatCtx, stopHeartbeat := context.WithCancel(jobCtx)
	go p.runHeartbeat(heartbeatCtx, job.ID)

	procErr := p.processor.Process(jobCtx, job)
	stopHeartbeat()

	if procErr != nil {
		if job.Attempts < p.cfg.DefaultAttempts {
			delay := p.retryBackoff(job.Attempts)
			log.Warn("queue: job failed, delaying for retry",
				"error", procErr, "attempt", job.Attempts, "delay", delay)
			if err := p.store.Delay(context.Background(), job.ID, time.Now().Add(delay), procErr.Error()); err != nil {
				log.Error("queue: failed to delay job", "error", err)
			}
			return nil
		}
		log.Error("queue: job failed", "error", procErr, "attempts", job.Attempts)
		if err := p.store.MarkFailed(context.Background(), job.ID, procErr.Error(), ""); err != nil {
			log.Error("queue: failed to mark job failed", "error", err)
		}
		return nil
	}

	if err := p.store.MarkCompleted(context.Background(), job.ID); err != nil {
		log.Error("queue: failed to mark job completed", "error", err)
	}
	return nil
}

// retryBackoff computes the delay before retry attempt attempts+1:
// base * multiplier^(attempts-1), clamped to the configured maximum, with
// ±20% jitter so replicas retrying the same burst don't reclaim in
// lockstep.
func (p *Pool) retryBackoff(attempts int) time.Duration {
	delay := float64(p.cfg.BackoffBase)
	for i := 1; i < attempts; i++ {
		delay *= p.cfg.BackoffMultiplier
	}
	if limit := float64(p.cfg.BackoffMax); p.cfg.BackoffMax > 0 && delay > limit {
		delay = limit
	}
	delay *= 1 + (rand.Float64()*0.4 - 0.2) // nolint:gosec // jitter, not security-sensitive
	d := time.Duration(delay)
	if p.cfg.BackoffMax > 0 && d > p.cfg.BackoffMax {
		d = p.cfg.BackoffMax
	}
	if d < 0 {
		d = 0
	}
	return d
}

func (p *Pool) runHeartbeat(ctx context.Context, jobID string) {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := p.store.Heartbeat(context.Background(), jobID); err != nil {
				slog.Warn("queue: heartbeat failed", "job_id", jobID, "error", err)
			}
		}
	}
}

// Health is a light observability snapshot of the pool.
type Health struct {
	Paused      bool
	ActiveJobs  int
	WorkerCount int
}

// Health returns the pool's current health snapshot.
func (p *Pool) Health() Health {
	p.mu.Lock()
	active := len(p.cancelFns)
	p.mu.Unlock()
	return Health{Paused: p.paused.Load(), ActiveJobs: active, WorkerCount: p.size}
}
