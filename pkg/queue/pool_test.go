package queue

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/devradar/devradar/pkg/config"
)

func TestPoolPauseResume(t *testing.T) {
	p := NewPool(nil, nil, 3, nil)
	assert.False(t, p.Paused())
	p.Pause()
	assert.True(t, p.Paused())
	p.Resume()
	assert.False(t, p.Paused())
}

func TestPoolCancelJobUnknown(t *testing.T) {
	p := NewPool(nil, nil, 1, nil)
	assert.False(t, p.CancelJob("does-not-exist"))
	assert.Empty(t, p.ActiveJobIDs())
}

func TestPoolHealth(t *testing.T) {
	p := NewPool(nil, nil, 5, nil)
	h := p.Health()
	assert.Equal(t, 5, h.WorkerCount)
	assert.Equal(t, 0, h.ActiveJobs)
	assert.False(t, h.Paused)
}

func TestRetryBackoffGrowsAndClamps(t *testing.T) {
	p := NewPool(nil, nil, 1, &config.QueueConfig{
		DefaultAttempts:   5,
		BackoffBase:       2 * time.Second,
		BackoffMultiplier: 2,
		BackoffMax:        60 * time.Second,
	})

	// base * 2^(n-1), each within the ±20% jitter band.
	first := p.retryBackoff(1)
	assert.InDelta(t, float64(2*time.Second), float64(first), float64(2*time.Second)*0.2)

	third := p.retryBackoff(3)
	assert.InDelta(t, float64(8*time.Second), float64(third), float64(8*time.Second)*0.2)

	// Far past the clamp point, the max always wins.
	huge := p.retryBackoff(20)
	assert.LessOrEqual(t, huge, 60*time.Second)
	assert.Greater(t, huge, 40*time.Second)
}
