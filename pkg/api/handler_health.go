package api

import (
	"context"
	"net/http"
	"time"

	echo "github.com/labstack/echo/v5"

	"github.com/codeready-toolchain/relay/pkg/store"
	"github.com/codeready-toolchain/relay/pkg/version"
)

const (
	healthStatusHealthy   = "healthy"
	healthStatusDegraded  = "degraded"
	healthStatusUnhealthy = "unhealthy"
)

// HealthCheck reports one component's state inside HealthResponse.
type HealthCheck struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Status            string                 `json:"status"`
	Version           string                 `json:"version"`
	Checks            map[string]HealthCheck `json:"checks"`
	Sessions          int                    `json:"sessions"`
	ThreadConnections int                    `json:"thread_connections"`
}

// healthHandler handles GET /health.
// The store is the only hard dependency: when it is unreachable, thread
// messages can no longer be persisted, so the check fails outright. A
// stopped idle reaper degrades the status but leaves the relay serving.
func (s *Server) healthHandler(c *echo.Context) error {
	reqCtx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	checks := make(map[string]HealthCheck)
	status := healthStatusHealthy

	storeHealth := store.Health(reqCtx, s.store)
	if storeHealth.Status != healthStatusHealthy {
		status = healthStatusUnhealthy
		checks["store"] = HealthCheck{Status: healthStatusUnhealthy, Message: storeHealth.Error}
	} else {
		checks["store"] = HealthCheck{Status: healthStatusHealthy}
	}

	if s.sessions.Started() {
		checks["sessions"] = HealthCheck{Status: healthStatusHealthy}
	} else {
		if status == healthStatusHealthy {
			status = healthStatusDegraded
		}
		checks["sessions"] = HealthCheck{
			Status:  healthStatusDegraded,
			Message: "idle session reaper is not running",
		}
	}

	httpStatus := http.StatusOK
	if status == healthStatusUnhealthy {
		httpStatus = http.StatusServiceUnavailable
	}

	return c.JSON(httpStatus, &HealthResponse{
		Status:            status,
		Version:           version.GitCommit,
		Checks:            checks,
		Sessions:          s.sessions.Count(),
		ThreadConnections: s.hub.ActiveConnections(),
	})
}
