// Package api provides the HTTP surface for devradar: a health endpoint,
// the WebSocket upgrade for the realtime fan-out, and the minimal
// operator endpoints needed to exercise queue admin ops from outside the
// process.
package api

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/coder/websocket"
	echo "github.com/labstack/echo/v5"
	"github.com/labstack/echo/v5/middleware"

	"github.com/devradar/devradar/pkg/database"
	"github.com/devradar/devradar/pkg/events"
	"github.com/devradar/devradar/pkg/models"
	"github.com/devradar/devradar/pkg/queue"
	"github.com/devradar/devradar/pkg/realtime"
	"github.com/devradar/devradar/pkg/version"
)

// bodyLimit caps request bodies; devradar's endpoints are all small JSON
// payloads or bodiless, so this is generous headroom rather than a tuned
// figure.
const bodyLimit = 1 << 20 // 1 MiB

// ProjectStore is the subset of pkg/projects.Store the API reads from.
type ProjectStore interface {
	Get(ctx context.Context, id string) (*models.Project, error)
	List(ctx context.Context, status models.ProjectStatus) ([]*models.Project, error)
	ResetStuck(ctx context.Context, id string) error
}

// QueueStore is the subset of pkg/queue.Store the API's operator
// endpoints drive.
type QueueStore interface {
	Get(ctx context.Context, id string) (*models.Job, error)
	Counts(ctx context.Context) (queue.Counts, error)
	Clear(ctx context.Context) (int64, error)
	Remove(ctx context.Context, id string) error
	ForceDelete(ctx context.Context, id string) error
	RemoveForProject(ctx context.Context, projectID string) (int64, error)
	ActiveForProject(ctx context.Context, projectID string) ([]string, error)
}

// WorkerPool is the subset of pkg/queue.Pool the API's admin ops drive:
// pause/resume, and in-process job cancellation for force-delete and
// reset-stuck (the internal cancellation flag the worker honours at its
// next await-boundary).
type WorkerPool interface {
	Pause()
	Resume()
	Paused() bool
	CancelJob(jobID string) bool
	Health() queue.Health
}

// Server is devradar's HTTP API, built on Echo v5.
type Server struct {
	echo       *echo.Echo
	httpServer *http.Server

	db       *database.Client
	bus      *events.Bus
	projects ProjectStore
	queue    QueueStore
	pool     WorkerPool
	realtime *realtime.Manager
}

// NewServer wires routes against their dependencies.
func NewServer(db *database.Client, bus *events.Bus, projects ProjectStore, q QueueStore, pool WorkerPool, rt *realtime.Manager) *Server {
	e := echo.New()
	s := &Server{
		echo:     e,
		db:       db,
		bus:      bus,
		projects: projects,
		queue:    q,
		pool:     pool,
		realtime: rt,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.echo.Use(middleware.BodyLimit(bodyLimit))

	s.echo.GET("/health", s.healthHandler)

	v1 := s.echo.Group("/api/v1")
	v1.GET("/ws", s.wsHandler)

	v1.GET("/projects", s.listProjectsHandler)
	v1.GET("/projects/:id", s.getProjectHandler)
	v1.POST("/projects/:id/reset-stuck", s.resetStuckHandler)

	v1.GET("/queue", s.queueCountsHandler)
	v1.GET("/queue/jobs/:id", s.queueJobHandler)
	v1.POST("/queue/pause", s.queuePauseHandler)
	v1.POST("/queue/resume", s.queueResumeHandler)
	v1.POST("/queue/clear", s.queueClearHandler)
	v1.DELETE("/queue/:id", s.queueRemoveHandler)
	v1.POST("/queue/:id/force-delete", s.queueForceDeleteHandler)
}

// Start runs the HTTP server on addr (blocking).
func (s *Server) Start(addr string) error {
	s.httpServer = &http.Server{Addr: addr, Handler: s.echo}
	return s.httpServer.ListenAndServe()
}

// StartWithListener runs the HTTP server on a pre-created listener, used
// by tests that need a random OS-assigned port.
func (s *Server) StartWithListener(ln net.Listener) error {
	s.httpServer = &http.Server{Handler: s.echo}
	return s.httpServer.Serve(ln)
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// healthHandler handles GET /health.
func (s *Server) healthHandler(c *echo.Context) error {
	reqCtx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	dbHealth, dbErr := s.db.Health(reqCtx)
	status := "healthy"
	if dbErr != nil {
		status = "unhealthy"
	} else if s.bus != nil && !s.bus.Ready() {
		status = "degraded"
	}

	httpStatus := http.StatusOK
	if status == "unhealthy" {
		httpStatus = http.StatusServiceUnavailable
	}

	return c.JSON(httpStatus, HealthResponse{
		Status:      status,
		Version:     version.Full(),
		Database:    dbHealth,
		BusReady:    s.bus != nil && s.bus.Ready(),
		Connections: s.realtime.ActiveConnections(),
	})
}

// wsHandler upgrades the request to a WebSocket and delegates to the
// realtime fan-out manager.
func (s *Server) wsHandler(c *echo.Context) error {
	conn, err := websocket.Accept(c.Response(), c.Request(), &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		return err
	}
	s.realtime.HandleConnection(c.Request().Context(), conn)
	return nil
}
