package api

import (
	"errors"
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/devradar/devradar/pkg/models"
	"github.com/devradar/devradar/pkg/projects"
	"github.com/devradar/devradar/pkg/queue"
)

// listProjectsHandler handles GET /api/v1/projects?status=.
func (s *Server) listProjectsHandler(c *echo.Context) error {
	status := models.ProjectStatus(c.QueryParam("status"))
	list, err := s.projects.List(c.Request().Context(), status)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, ErrorResponse{Error: err.Error()})
	}
	return c.JSON(http.StatusOK, list)
}

// getProjectHandler handles GET /api/v1/projects/:id.
func (s *Server) getProjectHandler(c *echo.Context) error {
	p, err := s.projects.Get(c.Request().Context(), c.Param("id"))
	if errors.Is(err, projects.ErrNotFound) {
		return c.JSON(http.StatusNotFound, ErrorResponse{Error: "project not found"})
	}
	if err != nil {
		return c.JSON(http.StatusInternalServerError, ErrorResponse{Error: err.Error()})
	}
	return c.JSON(http.StatusOK, p)
}

// resetStuckHandler handles POST /api/v1/projects/:id/reset-stuck — the
// operator-initiated escape hatch for a project wedged in ANALYZING. It
// cancels any in-process job for the project, clears its queue entries,
// and forces the status back to DISCOVERED.
func (s *Server) resetStuckHandler(c *echo.Context) error {
	ctx := c.Request().Context()
	projectID := c.Param("id")

	if s.pool != nil {
		active, err := s.queue.ActiveForProject(ctx, projectID)
		if err != nil {
			return c.JSON(http.StatusInternalServerError, ErrorResponse{Error: err.Error()})
		}
		for _, jobID := range active {
			s.pool.CancelJob(jobID)
		}
	}
	if _, err := s.queue.RemoveForProject(ctx, projectID); err != nil {
		return c.JSON(http.StatusInternalServerError, ErrorResponse{Error: err.Error()})
	}
	if err := s.projects.ResetStuck(ctx, projectID); err != nil {
		return c.JSON(http.StatusConflict, ErrorResponse{Error: err.Error()})
	}
	return c.NoContent(http.StatusNoContent)
}

// queueCountsHandler handles GET /api/v1/queue.
func (s *Server) queueCountsHandler(c *echo.Context) error {
	counts, err := s.queue.Counts(c.Request().Context())
	if err != nil {
		return c.JSON(http.StatusInternalServerError, ErrorResponse{Error: err.Error()})
	}
	return c.JSON(http.StatusOK, counts)
}

// queueJobHandler handles GET /api/v1/queue/jobs/:id: per-job state,
// progress, attempts, and failure detail for operators.
func (s *Server) queueJobHandler(c *echo.Context) error {
	job, err := s.queue.Get(c.Request().Context(), c.Param("id"))
	if errors.Is(err, queue.ErrNotFound) {
		return c.JSON(http.StatusNotFound, ErrorResponse{Error: "job not found"})
	}
	if err != nil {
		return c.JSON(http.StatusInternalServerError, ErrorResponse{Error: err.Error()})
	}
	return c.JSON(http.StatusOK, job)
}

// queuePauseHandler handles POST /api/v1/queue/pause.
func (s *Server) queuePauseHandler(c *echo.Context) error {
	s.pool.Pause()
	return c.JSON(http.StatusOK, map[string]bool{"paused": true})
}

// queueResumeHandler handles POST /api/v1/queue/resume.
func (s *Server) queueResumeHandler(c *echo.Context) error {
	s.pool.Resume()
	return c.JSON(http.StatusOK, map[string]bool{"paused": false})
}

// queueClearHandler handles POST /api/v1/queue/clear — removes completed
// and failed jobs older than an hour.
func (s *Server) queueClearHandler(c *echo.Context) error {
	removed, err := s.queue.Clear(c.Request().Context())
	if err != nil {
		return c.JSON(http.StatusInternalServerError, ErrorResponse{Error: err.Error()})
	}
	return c.JSON(http.StatusOK, map[string]int64{"removed": removed})
}

// queueRemoveHandler handles DELETE /api/v1/queue/:id. Removing an active
// job is refused with a conflict.
func (s *Server) queueRemoveHandler(c *echo.Context) error {
	err := s.queue.Remove(c.Request().Context(), c.Param("id"))
	switch {
	case err == nil:
		return c.NoContent(http.StatusNoContent)
	case errors.Is(err, queue.ErrConflict):
		return c.JSON(http.StatusConflict, ErrorResponse{Error: "job is active"})
	case errors.Is(err, queue.ErrNotFound):
		return c.JSON(http.StatusNotFound, ErrorResponse{Error: "job not found"})
	default:
		return c.JSON(http.StatusInternalServerError, ErrorResponse{Error: err.Error()})
	}
}

// queueForceDeleteHandler handles POST /api/v1/queue/:id/force-delete —
// the escape hatch for a job whose worker is gone or wedged.
// If this process is running the job, its context is cancelled first so the
// worker aborts at its next await-boundary; the row is then moved to failed
// and removed.
func (s *Server) queueForceDeleteHandler(c *echo.Context) error {
	jobID := c.Param("id")
	if s.pool != nil {
		s.pool.CancelJob(jobID)
	}
	if err := s.queue.ForceDelete(c.Request().Context(), jobID); err != nil {
		if errors.Is(err, queue.ErrNotFound) {
			return c.JSON(http.StatusNotFound, ErrorResponse{Error: "job not found"})
		}
		return c.JSON(http.StatusInternalServerError, ErrorResponse{Error: err.Error()})
	}
	return c.NoContent(http.StatusNoContent)
}
