// Package worker implements the Worker Processor: it
// orchestrates a single dequeued job from cache lookup through context
// extraction, the rate-limited analyzer call, and the atomic persist step
// that advances a project to ANALYZED.
package worker

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/devradar/devradar/pkg/config"
	"github.com/devradar/devradar/pkg/models"
	"github.com/devradar/devradar/pkg/ratelimit"
)

// ProjectStore is the subset of pkg/projects.Store the processor needs.
type ProjectStore interface {
	Get(ctx context.Context, id string) (*models.Project, error)
	UpdateStatus(ctx context.Context, id string, next models.ProjectStatus) error
	UpdateMetrics(ctx context.Context, id string, fileCount, linesOfCode int, size int64) error
	CompleteAnalysis(ctx context.Context, projectID string, a models.Analysis) error
	MarkFailed(ctx context.Context, projectID string) error
}

// QueueStore is the subset of pkg/queue.Store the processor uses to report
// live progress against the job row (in addition to the bus events).
type QueueStore interface {
	UpdateProgress(ctx context.Context, id string, p models.JobProgress) error
}

// Bus is the subset of the event bus the processor publishes lifecycle
// events on.
type Bus interface {
	Publish(ctx context.Context, evt models.Event) error
}

// ResultCache is the subset of pkg/cache.Cache the processor needs.
type ResultCache interface {
	Get(ctx context.Context, path string, lastModified time.Time) (*models.CacheEntry, bool)
	Set(ctx context.Context, path string, lastModified time.Time, result models.Analysis) (bool, error)
}

// Analyzer is the subset of pkg/analyzer.Client the processor needs.
type Analyzer interface {
	Analyze(ctx context.Context, pc *models.ProjectContext, projectID string) (*models.Analysis, error)
}

// Executor is the subset of pkg/ratelimit.Executor the processor wraps the
// analyzer call with.
type Executor interface {
	Execute(ctx context.Context, fn func(ctx context.Context) error, opts ratelimit.Options) error
}

// ContextExtractor matches pkg/context.Extract's signature, injected so
// tests can substitute a stub.
type ContextExtractor func(root string, maxTokens int) (*models.ProjectContext, error)

// Processor implements queue.Processor: it runs one analysis job to
// completion or failure.
type Processor struct {
	projects ProjectStore
	queue    QueueStore
	bus      Bus
	cache    ResultCache
	analyzer Analyzer
	executor Executor
	extract  ContextExtractor
	cfg      *config.WorkerConfig
}

// New wires a Processor from its dependencies and worker configuration.
func New(projects ProjectStore, queue QueueStore, bus Bus, cache ResultCache, analyzer Analyzer, executor Executor, extract ContextExtractor, cfg *config.WorkerConfig) *Processor {
	return &Processor{
		projects: projects,
		queue:    queue,
		bus:      bus,
		cache:    cache,
		analyzer: analyzer,
		executor: executor,
		extract:  extract,
		cfg:      cfg,
	}
}

// failureReason is returned by each step so the caller can publish a
// human-readable analysis:failed reason without exposing raw Go errors to
// clients.
type failureReason struct {
	step string
	err  error
}

func (f *failureReason) Error() string {
	return fmt.Sprintf("%s: %s", f.step, f.err)
}

// Process runs job through the full pipeline: cache lookup, context
// extraction, rate-limited analyze, persist, publish. The queue's caller
// (Pool) handles retry policy; Process itself never retries.
func (p *Processor) Process(ctx context.Context, job *models.Job) error {
	projectID := job.Payload.ProjectID
	path := job.Payload.ProjectPath

	if err := p.projects.UpdateStatus(ctx, projectID, models.StatusAnalyzing); err != nil {
		return p.fail(ctx, job, "claim", err)
	}

	// started must hit the bus before the first progress event; progress()
	// publishes analysis:progress as a side effect.
	p.publish(ctx, models.EventAnalysisStarted, projectID, nil)
	p.progress(ctx, job, models.JobProgress{Status: "queued", Percent: 0})

	info, err := os.Stat(path)
	if err != nil || !info.IsDir() {
		return p.fail(ctx, job, "stat", fmt.Errorf("project path is missing or not a directory: %s", path))
	}
	lastModified := info.ModTime()

	if !job.Payload.ForceRefresh {
		if entry, ok := p.cache.Get(ctx, path, lastModified); ok {
			analysis := entry.Result
			analysis.ProjectID = projectID
			analysis.CacheHit = true
			if err := p.projects.CompleteAnalysis(ctx, projectID, analysis); err != nil {
				return p.fail(ctx, job, "persist-cached", err)
			}
			p.progress(ctx, job, models.JobProgress{Status: "completed", Percent: 100})
			p.publish(ctx, models.EventAnalysisCompleted, projectID, analysis)
			return nil
		}
	}

	p.progress(ctx, job, models.JobProgress{Status: "extracting", Percent: 20})
	pc, err := withTimeout(ctx, p.contextTimeout(), "context extraction", func() (*models.ProjectContext, error) {
		return p.extract(path, p.cfg.MaxContextTokens)
	})
	if err != nil {
		return p.fail(ctx, job, "extract", err)
	}

	if err := p.projects.UpdateMetrics(ctx, projectID, pc.Summary.FileCount, pc.Summary.LinesOfCode, pc.Summary.TotalSize); err != nil {
		return p.fail(ctx, job, "update-metrics", err)
	}

	p.progress(ctx, job, models.JobProgress{Status: "analyzing", Percent: 50})
	analysis, err := p.analyze(ctx, pc, projectID)
	if err != nil {
		return p.fail(ctx, job, "analyze", err)
	}
	analysis.ProjectID = projectID
	analysis.CacheHit = false

	p.progress(ctx, job, models.JobProgress{Status: "caching", Percent: 80})
	if _, err := p.cache.Set(ctx, path, lastModified, *analysis); err != nil {
		return p.fail(ctx, job, "cache-write", err)
	}

	p.progress(ctx, job, models.JobProgress{Status: "caching", Percent: 90})
	if err := p.projects.CompleteAnalysis(ctx, projectID, *analysis); err != nil {
		return p.fail(ctx, job, "persist", err)
	}

	p.progress(ctx, job, models.JobProgress{Status: "completed", Percent: 100})
	p.publish(ctx, models.EventAnalysisCompleted, projectID, *analysis)
	return nil
}

// analyze wraps a single analyzer call with the rate-limited executor and
// the hard AI timeout.
func (p *Processor) analyze(ctx context.Context, pc *models.ProjectContext, projectID string) (*models.Analysis, error) {
	timeout := p.cfg.AITimeout
	if timeout <= 0 {
		timeout = 180 * time.Second
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var result *models.Analysis
	err := p.executor.Execute(callCtx, func(fnCtx context.Context) error {
		r, err := p.analyzer.Analyze(fnCtx, pc, projectID)
		if err != nil {
			return err
		}
		result = r
		return nil
	}, ratelimit.Options{})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (p *Processor) contextTimeout() time.Duration {
	if p.cfg.ContextTimeout > 0 {
		return p.cfg.ContextTimeout
	}
	return 30 * time.Second
}

// fail records the job's terminal failure: it publishes analysis:failed,
// reports failed progress, moves the project out of ANALYZING without ever
// advancing it to ANALYZED, and returns the error so Pool marks the job
// failed.
func (p *Processor) fail(ctx context.Context, job *models.Job, step string, err error) error {
	reason := &failureReason{step: step, err: err}
	p.progress(ctx, job, models.JobProgress{Status: "failed", Percent: 0, Error: reason.Error()})
	p.publish(ctx, models.EventAnalysisFailed, job.Payload.ProjectID, map[string]string{"reason": reason.Error()})
	if markErr := p.projects.MarkFailed(context.Background(), job.Payload.ProjectID); markErr != nil {
		return fmt.Errorf("%w (also failed to mark project error: %v)", reason, markErr)
	}
	return reason
}

func (p *Processor) progress(ctx context.Context, job *models.Job, prog models.JobProgress) {
	job.Progress = prog
	if p.queue != nil {
		_ = p.queue.UpdateProgress(ctx, job.ID, prog)
	}
	p.publish(ctx, models.EventAnalysisProgress, job.Payload.ProjectID, prog)
}

func (p *Processor) publish(ctx context.Context, eventType, projectID string, data any) {
	_ = p.bus.Publish(ctx, models.Event{Type: eventType, ProjectID: projectID, Data: data})
}

// withTimeout runs fn in its own goroutine and returns its result, or an
// error labelled with label if d elapses first or ctx is cancelled first.
func withTimeout[T any](ctx context.Context, d time.Duration, label string, fn func() (T, error)) (T, error) {
	type result struct {
		val T
		err error
	}
	ch := make(chan result, 1)
	go func() {
		v, err := fn()
		ch <- result{v, err}
	}()

	select {
	case r := <-ch:
		return r.val, r.err
	case <-time.After(d):
		var zero T
		return zero, fmt.Errorf("%s timed out after %s", label, d)
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}
