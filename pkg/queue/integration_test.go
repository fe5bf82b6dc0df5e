package queue

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devradar/devradar/pkg/config"
	"github.com/devradar/devradar/pkg/models"
	"github.com/devradar/devradar/test/util"
)

func enqueueTestJob(ctx context.Context, t *testing.T, s *Store, priority models.JobPriority) *models.Job {
	t.Helper()
	job, err := s.Enqueue(ctx, models.JobPayload{
		ProjectID:   "11111111-1111-1111-1111-111111111111",
		ProjectPath: "/srv/projects/demo",
		ProjectName: "demo",
		Priority:    priority,
	})
	require.NoError(t, err)
	return job
}

func TestEnqueueAssignsStableID(t *testing.T) {
	db := util.SetupTestDatabase(t)
	s := NewStore(db.Pool)
	ctx := context.Background()

	orig := jobIDClock
	jobIDClock = func() int64 { return 42 }
	defer func() { jobIDClock = orig }()

	job := enqueueTestJob(ctx, t, s, models.PriorityNormal)
	assert.Equal(t, "analysis-11111111-1111-1111-1111-111111111111-42", job.ID)
	assert.Equal(t, models.JobWaiting, job.State)
	assert.Equal(t, "analyze-project", job.Name)
	assert.Equal(t, 0, job.Attempts)
}

func TestClaimNextRespectsPriorityThenInsertionOrder(t *testing.T) {
	db := util.SetupTestDatabase(t)
	s := NewStore(db.Pool)
	ctx := context.Background()

	// Distinct ids need distinct clock values.
	next := int64(0)
	orig := jobIDClock
	jobIDClock = func() int64 { next++; return next }
	defer func() { jobIDClock = orig }()

	low := enqueueTestJob(ctx, t, s, models.PriorityLow)
	normalFirst := enqueueTestJob(ctx, t, s, models.PriorityNormal)
	normalSecond := enqueueTestJob(ctx, t, s, models.PriorityNormal)
	high := enqueueTestJob(ctx, t, s, models.PriorityHigh)

	var order []string
	for i := 0; i < 4; i++ {
		job, err := s.ClaimNext(ctx, fmt.Sprintf("worker-%d", i))
		require.NoError(t, err)
		order = append(order, job.ID)
	}

	assert.Equal(t, []string{high.ID, normalFirst.ID, normalSecond.ID, low.ID}, order)

	_, err := s.ClaimNext(ctx, "worker-x")
	assert.ErrorIs(t, err, ErrNoJobsAvailable)
}

func TestRemoveActiveJobReturnsConflict(t *testing.T) {
	db := util.SetupTestDatabase(t)
	s := NewStore(db.Pool)
	ctx := context.Background()

	job := enqueueTestJob(ctx, t, s, models.PriorityNormal)
	claimed, err := s.ClaimNext(ctx, "worker-1")
	require.NoError(t, err)
	require.Equal(t, job.ID, claimed.ID)

	err = s.Remove(ctx, job.ID)
	assert.ErrorIs(t, err, ErrConflict)

	// force-delete moves it to failed then removes it outright.
	require.NoError(t, s.ForceDelete(ctx, job.ID))
	_, err = s.Get(ctx, job.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestProgressAndTerminalStates(t *testing.T) {
	db := util.SetupTestDatabase(t)
	s := NewStore(db.Pool)
	ctx := context.Background()

	job := enqueueTestJob(ctx, t, s, models.PriorityHigh)
	claimed, err := s.ClaimNext(ctx, "worker-1")
	require.NoError(t, err)
	assert.Equal(t, 1, claimed.Attempts)
	assert.Equal(t, "worker-1", claimed.LockedBy)
	require.NotNil(t, claimed.StartedAt)

	require.NoError(t, s.UpdateProgress(ctx, job.ID, models.JobProgress{Status: "analyzing", Percent: 50}))
	got, err := s.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, "analyzing", got.Progress.Status)
	assert.Equal(t, 50, got.Progress.Percent)

	require.NoError(t, s.MarkFailed(ctx, job.ID, "analyzer exploded", "stack"))
	got, err = s.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobFailed, got.State)
	assert.Equal(t, "analyzer exploded", got.FailedReason)
	require.NotNil(t, got.FinishedAt)
}

func TestOrphanRecoveryRequeuesStaleJobs(t *testing.T) {
	db := util.SetupTestDatabase(t)
	s := NewStore(db.Pool)
	ctx := context.Background()

	job := enqueueTestJob(ctx, t, s, models.PriorityNormal)
	_, err := s.ClaimNext(ctx, "dead-worker")
	require.NoError(t, err)

	// Backdate the heartbeat to simulate a crashed worker.
	_, err = db.Pool.Exec(ctx,
		`UPDATE queue_jobs SET heartbeat_at = now() - interval '10 minutes' WHERE id = $1`, job.ID)
	require.NoError(t, err)

	stale, err := s.StaleActive(ctx, time.Minute)
	require.NoError(t, err)
	require.Len(t, stale, 1)
	assert.Equal(t, "dead-worker", stale[0].LockedBy)

	require.NoError(t, s.Requeue(ctx, job.ID))
	got, err := s.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobWaiting, got.State)
	assert.Empty(t, got.LockedBy)

	reclaimed, err := s.ClaimNext(ctx, "live-worker")
	require.NoError(t, err)
	assert.Equal(t, job.ID, reclaimed.ID)
	assert.Equal(t, 2, reclaimed.Attempts)
}

func TestRemoveForProjectSparesActiveJobs(t *testing.T) {
	db := util.SetupTestDatabase(t)
	s := NewStore(db.Pool)
	ctx := context.Background()

	next := int64(0)
	orig := jobIDClock
	jobIDClock = func() int64 { next++; return next }
	defer func() { jobIDClock = orig }()

	active := enqueueTestJob(ctx, t, s, models.PriorityNormal)
	waiting := enqueueTestJob(ctx, t, s, models.PriorityLow)

	_, err := s.ClaimNext(ctx, "worker-1")
	require.NoError(t, err)

	removed, err := s.RemoveForProject(ctx, "11111111-1111-1111-1111-111111111111")
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)

	_, err = s.Get(ctx, waiting.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	got, err := s.Get(ctx, active.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobActive, got.State)

	ids, err := s.ActiveForProject(ctx, "11111111-1111-1111-1111-111111111111")
	require.NoError(t, err)
	assert.Equal(t, []string{active.ID}, ids)
}

func TestPoolProcessesClaimedJobs(t *testing.T) {
	db := util.SetupTestDatabase(t)
	s := NewStore(db.Pool)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	job := enqueueTestJob(ctx, t, s, models.PriorityNormal)

	done := make(chan string, 1)
	pool := NewPool(s, processorFunc(func(_ context.Context, j *models.Job) error {
		done <- j.ID
		return nil
	}), 2, nil)
	pool.Start(ctx)

	select {
	case id := <-done:
		assert.Equal(t, job.ID, id)
	case <-time.After(10 * time.Second):
		t.Fatal("timed out waiting for pool to process the job")
	}

	// The completed state lands asynchronously after Process returns.
	deadline := time.After(5 * time.Second)
	for {
		got, err := s.Get(ctx, job.ID)
		require.NoError(t, err)
		if got.State == models.JobCompleted {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("job never reached completed, state=%s", got.State)
		case <-time.After(50 * time.Millisecond):
		}
	}

	cancel()
	pool.Wait()
}

func TestPoolMarksFailedJobs(t *testing.T) {
	db := util.SetupTestDatabase(t)
	s := NewStore(db.Pool)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	job := enqueueTestJob(ctx, t, s, models.PriorityNormal)

	pool := NewPool(s, processorFunc(func(context.Context, *models.Job) error {
		return errors.New("analyzer exploded")
	}), 1, nil)
	pool.Start(ctx)

	deadline := time.After(10 * time.Second)
	for {
		got, err := s.Get(ctx, job.ID)
		require.NoError(t, err)
		if got.State == models.JobFailed {
			assert.Contains(t, got.FailedReason, "analyzer exploded")
			break
		}
		select {
		case <-deadline:
			t.Fatalf("job never reached failed, state=%s", got.State)
		case <-time.After(50 * time.Millisecond):
		}
	}

	cancel()
	pool.Wait()
}

func TestPoolDelaysFailedJobForRetry(t *testing.T) {
	db := util.SetupTestDatabase(t)
	s := NewStore(db.Pool)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	job := enqueueTestJob(ctx, t, s, models.PriorityNormal)

	attempts := make(chan int, 4)
	pool := NewPool(s, processorFunc(func(_ context.Context, j *models.Job) error {
		attempts <- j.Attempts
		return errors.New("analyzer exploded")
	}), 1, &config.QueueConfig{
		DefaultAttempts:   2,
		BackoffBase:       100 * time.Millisecond,
		BackoffMultiplier: 2,
		BackoffMax:        time.Second,
	})
	pool.Start(ctx)

	// First attempt fails and is parked as delayed rather than failed.
	select {
	case n := <-attempts:
		assert.Equal(t, 1, n)
	case <-time.After(10 * time.Second):
		t.Fatal("timed out waiting for first attempt")
	}

	awaitJobState(ctx, t, s, job.ID, models.JobDelayed, models.JobActive)
	got, err := s.Get(ctx, job.ID)
	require.NoError(t, err)
	if got.State == models.JobDelayed {
		require.NotNil(t, got.RunAt)
		assert.Contains(t, got.FailedReason, "analyzer exploded")
	}

	// Once the backoff deadline passes, the job is reclaimed; the second
	// failure exhausts DefaultAttempts and lands in failed.
	select {
	case n := <-attempts:
		assert.Equal(t, 2, n)
	case <-time.After(10 * time.Second):
		t.Fatal("timed out waiting for retry attempt")
	}

	awaitJobState(ctx, t, s, job.ID, models.JobFailed)

	cancel()
	pool.Wait()
}

// awaitJobState polls until the job reaches one of want, failing the test
// on timeout. Transitions land asynchronously after Process returns, so
// observing an intermediate state is tolerated via the variadic set.
func awaitJobState(ctx context.Context, t *testing.T, s *Store, id string, want ...models.JobState) {
	t.Helper()
	deadline := time.After(10 * time.Second)
	for {
		got, err := s.Get(ctx, id)
		require.NoError(t, err)
		for _, w := range want {
			if got.State == w {
				return
			}
		}
		select {
		case <-deadline:
			t.Fatalf("job %s never reached %v, state=%s", id, want, got.State)
		case <-time.After(50 * time.Millisecond):
		}
	}
}

// processorFunc adapts a func to the Processor interface for tests.
type processorFunc func(ctx context.Context, job *models.Job) error

func (f processorFunc) Process(ctx context.Context, job *models.Job) error { return f(ctx, job) }
