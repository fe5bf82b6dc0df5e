package ratelimit

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devradar/devradar/pkg/config"
)

func testConfig() *config.RateLimiterConfig {
	return &config.RateLimiterConfig{
		MaxConcurrent:     2,
		RequestsPerMinute: 100,
		BackoffMultiplier: 2,
		MaxRetries:        3,
		InitialDelay:      10 * time.Millisecond,
	}
}

func TestExecuteSucceedsWithoutRetry(t *testing.T) {
	e := NewExecutor(testConfig())
	var calls int32
	err := e.Execute(context.Background(), func(ctx context.Context) error {
		atomic.AddInt32(&calls, 1)
		return nil
	}, Options{})
	require.NoError(t, err)
	assert.EqualValues(t, 1, calls)
}

func TestExecuteRetriesRetryableError(t *testing.T) {
	e := NewExecutor(testConfig())
	var calls int32
	err := e.Execute(context.Background(), func(ctx context.Context) error {
		n := atomic.AddInt32(&calls, 1)
		if n < 3 {
			return errors.New("529 overloaded")
		}
		return nil
	}, Options{})
	require.NoError(t, err)
	assert.EqualValues(t, 3, calls)
}

func TestExecuteStopsOnNonRetryableError(t *testing.T) {
	e := NewExecutor(testConfig())
	var calls int32
	err := e.Execute(context.Background(), func(ctx context.Context) error {
		atomic.AddInt32(&calls, 1)
		return errors.New("invalid argument")
	}, Options{})
	require.Error(t, err)
	assert.EqualValues(t, 1, calls)
}

func TestExecuteExhaustsRetries(t *testing.T) {
	cfg := testConfig()
	cfg.MaxRetries = 2
	e := NewExecutor(cfg)
	var calls int32
	err := e.Execute(context.Background(), func(ctx context.Context) error {
		atomic.AddInt32(&calls, 1)
		return errors.New("overloaded")
	}, Options{})
	require.Error(t, err)
	assert.EqualValues(t, 3, calls) // initial + 2 retries
}

func TestAcquireSlotRespectsConcurrencyCap(t *testing.T) {
	cfg := testConfig()
	cfg.MaxConcurrent = 1
	e := NewExecutor(cfg)

	var maxObserved int32
	var current int32
	done := make(chan struct{})

	go func() {
		_ = e.Execute(context.Background(), func(ctx context.Context) error {
			n := atomic.AddInt32(&current, 1)
			if n > atomic.LoadInt32(&maxObserved) {
				atomic.StoreInt32(&maxObserved, n)
			}
			time.Sleep(50 * time.Millisecond)
			atomic.AddInt32(&current, -1)
			return nil
		}, Options{})
		done <- struct{}{}
	}()
	go func() {
		time.Sleep(5 * time.Millisecond)
		_ = e.Execute(context.Background(), func(ctx context.Context) error {
			n := atomic.AddInt32(&current, 1)
			if n > atomic.LoadInt32(&maxObserved) {
				atomic.StoreInt32(&maxObserved, n)
			}
			atomic.AddInt32(&current, -1)
			return nil
		}, Options{})
		done <- struct{}{}
	}()

	<-done
	<-done
	assert.EqualValues(t, 1, maxObserved)
}

func TestBackoffClampedToMax(t *testing.T) {
	cfg := testConfig()
	cfg.InitialDelay = 50 * time.Second
	cfg.BackoffMultiplier = 10
	e := NewExecutor(cfg)
	d := e.backoff(5, Retryable)
	assert.LessOrEqual(t, d, maxBackoff)
}
