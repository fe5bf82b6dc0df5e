package cleanup

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devradar/devradar/pkg/config"
)

type fakeQueueStore struct {
	calls int
}

func (f *fakeQueueStore) EnforceRetention(ctx context.Context, keepLastCompleted int, maxAge time.Duration, keepLastFailed int) (int64, int64, error) {
	f.calls++
	return 2, 1, nil
}

type fakeCache struct {
	calls int
}

func (f *fakeCache) ClearExpired(ctx context.Context) (int, error) {
	f.calls++
	return 5, nil
}

type fakeEventPruner struct {
	calls   int
	lastTTL time.Duration
}

func (f *fakeEventPruner) PruneEvents(ctx context.Context, olderThan time.Duration) (int64, error) {
	f.calls++
	f.lastTTL = olderThan
	return 7, nil
}

func TestRunAllInvokesEveryRetentionStep(t *testing.T) {
	queue := &fakeQueueStore{}
	cache := &fakeCache{}
	pruner := &fakeEventPruner{}

	svc := NewService(
		&config.RetentionConfig{CleanupInterval: time.Hour, CacheSweepJitter: 0, EventTTL: 7 * 24 * time.Hour},
		&config.QueueConfig{CompletedKeepLast: 100, CompletedRetention: 24 * time.Hour, FailedKeepLast: 500},
		queue, cache, pruner,
	)

	svc.runAll(context.Background())

	assert.Equal(t, 1, queue.calls)
	assert.Equal(t, 1, cache.calls)
	assert.Equal(t, 1, pruner.calls)
	assert.Equal(t, 7*24*time.Hour, pruner.lastTTL)
}

func TestStartStopIsIdempotentAndClean(t *testing.T) {
	svc := NewService(
		&config.RetentionConfig{CleanupInterval: time.Hour, EventTTL: time.Hour},
		&config.QueueConfig{CompletedKeepLast: 1, FailedKeepLast: 1},
		&fakeQueueStore{}, &fakeCache{}, &fakeEventPruner{},
	)

	svc.Start(context.Background())
	svc.Start(context.Background()) // second call is a no-op, guarded by cancel != nil

	require.NotNil(t, svc.cancel)
	svc.Stop()
	svc.Stop() // second call is a no-op
}
