package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/devradar/devradar/pkg/models"
)

// Store is the queue_jobs table's persistence layer.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wraps pool for job persistence.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Enqueue assigns a stable id (analysis-<projectId>-<monotonic-clock>) and
// inserts a waiting job.
func (s *Store) Enqueue(ctx context.Context, payload models.JobPayload) (*models.Job, error) {
	id := fmt.Sprintf("analysis-%s-%d", payload.ProjectID, jobIDClock())
	_, err := s.pool.Exec(ctx, `
		INSERT INTO queue_jobs (id, name, project_id, project_path, project_name, priority_rank, force_refresh, state, created_at)
		VALUES ($1, 'analyze-project', $2, $3, $4, $5, $6, 'waiting', now())`,
		id, payload.ProjectID, payload.ProjectPath, payload.ProjectName,
		models.PriorityRank(payload.Priority), payload.ForceRefresh,
	)
	if err != nil {
		return nil, fmt.Errorf("queue: enqueue: %w", err)
	}
	return s.Get(ctx, id)
}

const selectColumns = `SELECT id, name, project_id, project_path, project_name, priority_rank, force_refresh,
	state, attempts, progress_status, progress_percent, progress_message, progress_error,
	failed_reason, stacktrace, locked_by, created_at, run_at, started_at, finished_at`

// Get returns a job by id.
func (s *Store) Get(ctx context.Context, id string) (*models.Job, error) {
	row := s.pool.QueryRow(ctx, selectColumns+` FROM queue_jobs WHERE id = $1`, id)
	return scanJob(row)
}

type scanner interface {
	Scan(dest ...any) error
}

func scanJob(row scanner) (*models.Job, error) {
	var j models.Job
	var priorityRank int
	var forceRefresh bool
	if err := row.Scan(
		&j.ID, &j.Name, &j.Payload.ProjectID, &j.Payload.ProjectPath, &j.Payload.ProjectName,
		&priorityRank, &forceRefresh, &j.State, &j.Attempts,
		&j.Progress.Status, &j.Progress.Percent, &j.Progress.Message, &j.Progress.Error,
		&j.FailedReason, &j.Stacktrace, &j.LockedBy, &j.CreatedAt, &j.RunAt, &j.StartedAt, &j.FinishedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("queue: scan: %w", err)
	}
	j.Payload.ForceRefresh = forceRefresh
	j.Payload.Priority = priorityFromRank(priorityRank)
	return &j, nil
}

func priorityFromRank(rank int) models.JobPriority {
	switch rank {
	case 1:
		return models.PriorityHigh
	case 3:
		return models.PriorityLow
	default:
		return models.PriorityNormal
	}
}

// ClaimNext atomically claims the oldest claimable job at the lowest
// priority rank using SELECT ... FOR UPDATE SKIP LOCKED, so concurrent
// worker replicas never double-claim a row. Delayed jobs become claimable
// once their run_at backoff deadline has passed. lockedBy identifies the
// claiming worker for observability.
func (s *Store) ClaimNext(ctx context.Context, lockedBy string) (*models.Job, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("queue: begin claim tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	row := tx.QueryRow(ctx, `
		SELECT id FROM queue_jobs
		WHERE state = 'waiting' OR (state = 'delayed' AND run_at <= now())
		ORDER BY priority_rank ASC, created_at ASC
		LIMIT 1
		FOR UPDATE SKIP LOCKED`)
	var id string
	if err := row.Scan(&id); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNoJobsAvailable
		}
		return nil, fmt.Errorf("queue: claim query: %w", err)
	}

	if _, err := tx.Exec(ctx, `
		UPDATE queue_jobs SET state = 'active', locked_by = $2, attempts = attempts + 1,
			started_at = now(), heartbeat_at = now()
		WHERE id = $1`, id, lockedBy); err != nil {
		return nil, fmt.Errorf("queue: claim update: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("queue: commit claim: %w", err)
	}
	return s.Get(ctx, id)
}

// Heartbeat refreshes heartbeat_at for an actively-processed job, so the
// orphan detector can tell live jobs from abandoned ones.
func (s *Store) Heartbeat(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx, `UPDATE queue_jobs SET heartbeat_at = now() WHERE id = $1 AND state = 'active'`, id)
	return err
}

// UpdateProgress records a job's latest progress snapshot.
func (s *Store) UpdateProgress(ctx context.Context, id string, p models.JobProgress) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE queue_jobs SET progress_status = $2, progress_percent = $3, progress_message = $4, progress_error = $5 WHERE id = $1`,
		id, p.Status, p.Percent, p.Message, p.Error)
	return err
}

// MarkCompleted transitions a job to completed.
func (s *Store) MarkCompleted(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE queue_jobs SET state = 'completed', finished_at = now() WHERE id = $1`, id)
	return err
}

// Delay parks a failed attempt for a retry: the job moves to 'delayed'
// with run_at set to the backoff deadline, its lock cleared so any worker
// can claim it once the deadline passes. The triggering error is kept in
// failed_reason for operators inspecting the in-between state.
func (s *Store) Delay(ctx context.Context, id string, until time.Time, reason string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE queue_jobs SET state = 'delayed', run_at = $2, failed_reason = $3,
			locked_by = '', started_at = NULL, heartbeat_at = NULL
		WHERE id = $1`, id, until, reason)
	return err
}

// MarkFailed transitions a job to failed, recording reason and stacktrace.
func (s *Store) MarkFailed(ctx context.Context, id, reason, stacktrace string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE queue_jobs SET state = 'failed', failed_reason = $2, stacktrace = $3, finished_at = now() WHERE id = $1`,
		id, reason, stacktrace)
	return err
}

// Counts returns per-state job counts for the observability endpoint.
func (s *Store) Counts(ctx context.Context) (Counts, error) {
	var c Counts
	rows, err := s.pool.Query(ctx, `SELECT state, count(*) FROM queue_jobs GROUP BY state`)
	if err != nil {
		return c, fmt.Errorf("queue: counts: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var state string
		var n int
		if err := rows.Scan(&state, &n); err != nil {
			return c, err
		}
		switch models.JobState(state) {
		case models.JobWaiting:
			c.Waiting = n
		case models.JobActive:
			c.Active = n
		case models.JobCompleted:
			c.Completed = n
		case models.JobFailed:
			c.Failed = n
		case models.JobDelayed:
			c.Delayed = n
		}
	}
	return c, rows.Err()
}

// Clear removes completed and failed jobs older than 1 hour.
func (s *Store) Clear(ctx context.Context) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM queue_jobs WHERE state IN ('completed','failed') AND finished_at < now() - interval '1 hour'`)
	if err != nil {
		return 0, fmt.Errorf("queue: clear: %w", err)
	}
	return tag.RowsAffected(), nil
}

// Remove deletes a single job. Deleting an active job is refused with
// ErrConflict; operators must force-delete those instead.
func (s *Store) Remove(ctx context.Context, id string) error {
	job, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if job.State == models.JobActive {
		return ErrConflict
	}
	_, err = s.pool.Exec(ctx, `DELETE FROM queue_jobs WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("queue: remove: %w", err)
	}
	return nil
}

// ForceDelete moves an active-and-locked job to failed, then removes it —
// the escape hatch for jobs whose worker is gone.
func (s *Store) ForceDelete(ctx context.Context, id string) error {
	if _, err := s.Get(ctx, id); err != nil {
		return err
	}
	if err := s.MarkFailed(ctx, id, "force-deleted by operator", ""); err != nil {
		return fmt.Errorf("queue: force-delete mark failed: %w", err)
	}
	_, err := s.pool.Exec(ctx, `DELETE FROM queue_jobs WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("queue: force-delete remove: %w", err)
	}
	return nil
}

// RemoveForProject deletes every non-active job for a project, the queue
// half of the reset-stuck operation. Active jobs are left for the pool's
// cancellation path.
func (s *Store) RemoveForProject(ctx context.Context, projectID string) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM queue_jobs WHERE project_id = $1 AND state != 'active'`, projectID)
	if err != nil {
		return 0, fmt.Errorf("queue: remove for project: %w", err)
	}
	return tag.RowsAffected(), nil
}

// ActiveForProject returns the ids of jobs currently active for a project,
// so reset-stuck can ask the pool to cancel them.
func (s *Store) ActiveForProject(ctx context.Context, projectID string) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id FROM queue_jobs WHERE project_id = $1 AND state = 'active'`, projectID)
	if err != nil {
		return nil, fmt.Errorf("queue: active for project: %w", err)
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// EnforceRetention deletes completed jobs beyond the most recent
// keepLastCompleted (or older than maxAge) and failed jobs beyond
// keepLastFailed, regardless of age.
func (s *Store) EnforceRetention(ctx context.Context, keepLastCompleted int, maxAge time.Duration, keepLastFailed int) (completedRemoved, failedRemoved int64, err error) {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM queue_jobs WHERE id IN (
			SELECT id FROM queue_jobs WHERE state = 'completed'
			ORDER BY finished_at DESC OFFSET $1
		) OR (state = 'completed' AND finished_at < now() - $2::interval)`,
		keepLastCompleted, fmt.Sprintf("%d seconds", int(maxAge.Seconds())))
	if err != nil {
		return 0, 0, fmt.Errorf("queue: enforce completed retention: %w", err)
	}
	completedRemoved = tag.RowsAffected()

	tag, err = s.pool.Exec(ctx, `
		DELETE FROM queue_jobs WHERE id IN (
			SELECT id FROM queue_jobs WHERE state = 'failed'
			ORDER BY finished_at DESC OFFSET $1
		)`, keepLastFailed)
	if err != nil {
		return completedRemoved, 0, fmt.Errorf("queue: enforce failed retention: %w", err)
	}
	failedRemoved = tag.RowsAffected()
	return completedRemoved, failedRemoved, nil
}

// StaleActive returns jobs stuck in 'active' whose heartbeat is older than
// staleAfter — candidates for orphan recovery.
func (s *Store) StaleActive(ctx context.Context, staleAfter time.Duration) ([]*models.Job, error) {
	rows, err := s.pool.Query(ctx, selectColumns+` FROM queue_jobs
		WHERE state = 'active' AND (heartbeat_at IS NULL OR heartbeat_at < now() - $1::interval)`,
		fmt.Sprintf("%d seconds", int(staleAfter.Seconds())))
	if err != nil {
		return nil, fmt.Errorf("queue: stale active: %w", err)
	}
	defer rows.Close()
	var out []*models.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

// Requeue resets a stale job back to waiting, clearing its lock — used by
// orphan recovery to give the job to a different worker.
func (s *Store) Requeue(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE queue_jobs SET state = 'waiting', locked_by = '', started_at = NULL, heartbeat_at = NULL WHERE id = $1`, id)
	return err
}
