package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	echo "github.com/labstack/echo/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devradar/devradar/pkg/models"
	"github.com/devradar/devradar/pkg/projects"
	"github.com/devradar/devradar/pkg/queue"
)

type fakeProjectStore struct {
	projects map[string]*models.Project
	resetErr error
	resets   []string
}

func (f *fakeProjectStore) Get(ctx context.Context, id string) (*models.Project, error) {
	p, ok := f.projects[id]
	if !ok {
		return nil, projects.ErrNotFound
	}
	return p, nil
}
func (f *fakeProjectStore) List(ctx context.Context, status models.ProjectStatus) ([]*models.Project, error) {
	var out []*models.Project
	for _, p := range f.projects {
		if status == "" || p.Status == status {
			out = append(out, p)
		}
	}
	return out, nil
}
func (f *fakeProjectStore) ResetStuck(ctx context.Context, id string) error {
	f.resets = append(f.resets, id)
	return f.resetErr
}

type fakeQueueStore struct {
	jobs            map[string]*models.Job
	counts          queue.Counts
	removeErr       error
	removedProjects []string
	activeJobs      []string
	forceDeleted    []string
}

func (f *fakeQueueStore) Get(ctx context.Context, id string) (*models.Job, error) {
	j, ok := f.jobs[id]
	if !ok {
		return nil, queue.ErrNotFound
	}
	return j, nil
}
func (f *fakeQueueStore) Counts(ctx context.Context) (queue.Counts, error) { return f.counts, nil }
func (f *fakeQueueStore) Clear(ctx context.Context) (int64, error)         { return 3, nil }
func (f *fakeQueueStore) Remove(ctx context.Context, id string) error      { return f.removeErr }
func (f *fakeQueueStore) ForceDelete(ctx context.Context, id string) error {
	f.forceDeleted = append(f.forceDeleted, id)
	return nil
}
func (f *fakeQueueStore) RemoveForProject(ctx context.Context, projectID string) (int64, error) {
	f.removedProjects = append(f.removedProjects, projectID)
	return 1, nil
}
func (f *fakeQueueStore) ActiveForProject(ctx context.Context, projectID string) ([]string, error) {
	return f.activeJobs, nil
}

type fakePool struct {
	paused    bool
	cancelled []string
}

func (f *fakePool) Pause()  { f.paused = true }
func (f *fakePool) Resume() { f.paused = false }
func (f *fakePool) Paused() bool {
	return f.paused
}
func (f *fakePool) CancelJob(jobID string) bool {
	f.cancelled = append(f.cancelled, jobID)
	return true
}
func (f *fakePool) Health() queue.Health { return queue.Health{Paused: f.paused} }

func newTestServer(projects *fakeProjectStore, q *fakeQueueStore, pool *fakePool) *Server {
	s := &Server{
		echo:     echo.New(),
		projects: projects,
		queue:    q,
		pool:     pool,
	}
	s.setupRoutes()
	return s
}

func TestListProjectsHandler(t *testing.T) {
	store := &fakeProjectStore{projects: map[string]*models.Project{
		"p1": {ID: "p1", Status: models.StatusAnalyzed},
	}}
	s := newTestServer(store, &fakeQueueStore{}, &fakePool{})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/projects", nil)
	rec := httptest.NewRecorder()
	s.echo.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestGetProjectHandlerNotFound(t *testing.T) {
	s := newTestServer(&fakeProjectStore{projects: map[string]*models.Project{}}, &fakeQueueStore{}, &fakePool{})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/projects/missing", nil)
	rec := httptest.NewRecorder()
	s.echo.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestResetStuckCancelsAndClearsQueue(t *testing.T) {
	store := &fakeProjectStore{projects: map[string]*models.Project{}}
	q := &fakeQueueStore{activeJobs: []string{"analysis-p1-1"}}
	pool := &fakePool{}
	s := newTestServer(store, q, pool)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/projects/p1/reset-stuck", nil)
	rec := httptest.NewRecorder()
	s.echo.ServeHTTP(rec, req)

	require.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, []string{"analysis-p1-1"}, pool.cancelled)
	assert.Equal(t, []string{"p1"}, q.removedProjects)
	assert.Equal(t, []string{"p1"}, store.resets)
}

func TestQueueCountsHandler(t *testing.T) {
	s := newTestServer(&fakeProjectStore{projects: map[string]*models.Project{}}, &fakeQueueStore{counts: queue.Counts{Waiting: 2, Active: 1}}, &fakePool{})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/queue", nil)
	rec := httptest.NewRecorder()
	s.echo.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"Waiting":2`)
}

func TestQueueJobHandler(t *testing.T) {
	q := &fakeQueueStore{jobs: map[string]*models.Job{
		"j1": {ID: "j1", State: models.JobActive, Progress: models.JobProgress{Status: "analyzing", Percent: 50}},
	}}
	s := newTestServer(&fakeProjectStore{}, q, &fakePool{})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/queue/jobs/j1", nil)
	rec := httptest.NewRecorder()
	s.echo.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"analyzing"`)

	req = httptest.NewRequest(http.MethodGet, "/api/v1/queue/jobs/missing", nil)
	rec = httptest.NewRecorder()
	s.echo.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestQueuePauseResumeHandlers(t *testing.T) {
	pool := &fakePool{}
	s := newTestServer(&fakeProjectStore{}, &fakeQueueStore{}, pool)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/queue/pause", nil)
	rec := httptest.NewRecorder()
	s.echo.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, pool.paused)

	req = httptest.NewRequest(http.MethodPost, "/api/v1/queue/resume", nil)
	rec = httptest.NewRecorder()
	s.echo.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, pool.paused)
}

func TestQueueRemoveHandlerConflict(t *testing.T) {
	s := newTestServer(&fakeProjectStore{projects: map[string]*models.Project{}}, &fakeQueueStore{removeErr: queue.ErrConflict}, &fakePool{})

	req := httptest.NewRequest(http.MethodDelete, "/api/v1/queue/job-1", nil)
	rec := httptest.NewRecorder()
	s.echo.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestQueueForceDeleteCancelsRunningJob(t *testing.T) {
	q := &fakeQueueStore{jobs: map[string]*models.Job{"j1": {ID: "j1", State: models.JobActive}}}
	pool := &fakePool{}
	s := newTestServer(&fakeProjectStore{}, q, pool)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/queue/j1/force-delete", nil)
	rec := httptest.NewRecorder()
	s.echo.ServeHTTP(rec, req)

	require.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, []string{"j1"}, pool.cancelled)
	assert.Equal(t, []string{"j1"}, q.forceDeleted)
}
