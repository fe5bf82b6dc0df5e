package ratelimit

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/devradar/devradar/pkg/config"
)

// slidingWindow is the width of the request-rate budget window.
const slidingWindow = 60 * time.Second

// concurrencyPollInterval is how often a call blocked on the concurrency
// gate re-checks availability.
const concurrencyPollInterval = 100 * time.Millisecond

// windowExitBuffer is added after the computed window-exit time to avoid
// waking up exactly on the boundary and re-failing the gate.
const windowExitBuffer = 50 * time.Millisecond

// maxBackoff caps the computed retry delay regardless of attempt count.
const maxBackoff = 60 * time.Second

// Executor gates calls behind a concurrency cap and a sliding-window
// request budget, retrying classified-retryable failures with jittered,
// capped exponential backoff.
type Executor struct {
	cfg *config.RateLimiterConfig
	log *logrus.Entry

	mu          sync.Mutex
	inFlight    int
	windowStart []time.Time
}

// NewExecutor creates an Executor from cfg.
func NewExecutor(cfg *config.RateLimiterConfig) *Executor {
	return &Executor{
		cfg: cfg,
		log: logrus.WithField("component", "ratelimit"),
	}
}

// Options configures a single Execute call.
type Options struct {
	// OnRetry is invoked before sleeping for each retry attempt, receiving
	// the attempt number (1-based) and the error that triggered it.
	OnRetry func(attempt int, err error)
	// MaxRetries overrides cfg.MaxRetries for this call if > 0.
	MaxRetries int
}

// Execute awaits a slot, invokes fn, and retries classified-retryable
// failures with capped jittered backoff. The last error is returned after
// retries are exhausted.
func (e *Executor) Execute(ctx context.Context, fn func(ctx context.Context) error, opts Options) error {
	maxRetries := opts.MaxRetries
	if maxRetries <= 0 {
		maxRetries = e.cfg.MaxRetries
	}

	var lastErr error
	for attempt := 1; attempt <= maxRetries+1; attempt++ {
		if err := e.acquireSlot(ctx); err != nil {
			return err
		}
		err := fn(ctx)
		e.releaseSlot()

		if err == nil {
			return nil
		}
		lastErr = err

		class := Classify(err)
		if class == NotRetryable {
			return err
		}
		if attempt > maxRetries {
			break
		}

		delay := e.backoff(attempt, class)
		e.log.WithFields(logrus.Fields{
			"attempt": attempt,
			"delay":   delay,
			"class":   class,
		}).Warn("ratelimit: retrying after classified error")

		if opts.OnRetry != nil {
			opts.OnRetry(attempt, err)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return fmt.Errorf("ratelimit: exhausted %d retries: %w", maxRetries, lastErr)
}

// backoff computes delay = base * multiplier^(attempt-1) * (1 ± 0.2),
// clamped to maxBackoff, where base is tripled for rate-limit errors.
func (e *Executor) backoff(attempt int, class ErrorClass) time.Duration {
	base := float64(e.cfg.InitialDelay)
	if class == RateLimited {
		base *= 3
	}
	delay := base
	for i := 1; i < attempt; i++ {
		delay *= e.cfg.BackoffMultiplier
	}
	jitter := 1 + (rand.Float64()*0.4 - 0.2) // nolint:gosec // jitter, not security-sensitive
	delay *= jitter
	d := time.Duration(delay)
	if d > maxBackoff {
		d = maxBackoff
	}
	if d < 0 {
		d = 0
	}
	return d
}

// acquireSlot blocks until both gates pass: fewer than maxConcurrent
// in-flight calls, and fewer than requestsPerMinute starts in the trailing
// 60-second window.
func (e *Executor) acquireSlot(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		e.mu.Lock()
		now := time.Now()
		e.pruneWindow(now)

		concurrencyOK := e.inFlight < e.cfg.MaxConcurrent
		rateOK := len(e.windowStart) < e.cfg.RequestsPerMinute

		if concurrencyOK && rateOK {
			e.inFlight++
			e.windowStart = append(e.windowStart, now)
			e.mu.Unlock()
			return nil
		}

		var wait time.Duration
		if !rateOK {
			oldest := e.windowStart[0]
			wait = oldest.Add(slidingWindow).Add(windowExitBuffer).Sub(now)
		} else {
			wait = concurrencyPollInterval
		}
		e.mu.Unlock()

		if wait <= 0 {
			wait = concurrencyPollInterval
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

// pruneWindow discards timestamps older than slidingWindow. Caller must
// hold e.mu.
func (e *Executor) pruneWindow(now time.Time) {
	cutoff := now.Add(-slidingWindow)
	i := 0
	for i < len(e.windowStart) && e.windowStart[i].Before(cutoff) {
		i++
	}
	if i > 0 {
		e.windowStart = e.windowStart[i:]
	}
}

func (e *Executor) releaseSlot() {
	e.mu.Lock()
	e.inFlight--
	e.mu.Unlock()
}
