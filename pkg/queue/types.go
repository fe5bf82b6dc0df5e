// Package queue implements the priority analysis queue and its worker
// pool: a named, priority-ordered, at-least-once job queue backed by
// PostgreSQL, claimed via SELECT ... FOR UPDATE SKIP LOCKED so multiple
// worker replicas can compete for it safely.
package queue

import (
	"context"
	"errors"
	"time"

	"github.com/devradar/devradar/pkg/models"
)

// Name is the queue's fixed name.
const Name = "project-analysis"

// Sentinel errors surfaced by Store and Pool operations.
var (
	ErrNoJobsAvailable = errors.New("queue: no jobs available")
	ErrConflict        = errors.New("queue: job is active, delete refused")
	ErrNotFound        = errors.New("queue: job not found")
)

// Processor executes one claimed job to completion or failure. The
// processor never retries a job itself: network-level retries belong to its
// executor, and job-level retries to Pool, which re-delays a failed attempt
// only while attempts < DefaultAttempts (with the default of 1, never).
type Processor interface {
	Process(ctx context.Context, job *models.Job) error
}

// Counts summarizes per-state job counts for the observability endpoint.
type Counts = models.QueueCounts

// jobIDClock lets tests substitute a deterministic "monotonic clock"
// component of the generated job id.
var jobIDClock = func() int64 { return time.Now().UnixNano() }
