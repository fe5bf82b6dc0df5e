package api

import "github.com/devradar/devradar/pkg/database"

// HealthResponse is the GET /health payload.
type HealthResponse struct {
	Status      string                 `json:"status"`
	Version     string                 `json:"version"`
	Database    *database.HealthStatus `json:"database,omitempty"`
	BusReady    bool                   `json:"busReady"`
	Connections int                    `json:"realtimeConnections"`
}

// ErrorResponse is the standard JSON error envelope for handler failures.
type ErrorResponse struct {
	Error string `json:"error"`
}
