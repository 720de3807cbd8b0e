package store

import (
	"context"
	"database/sql"
	"time"
)

// HealthStatus reports store reachability and, for SQL backends, connection
// pool statistics.
type HealthStatus struct {
	Status          string `json:"status"`
	ResponseTime    int64  `json:"response_time_ms"`
	Error           string `json:"error,omitempty"`
	OpenConnections int    `json:"open_connections,omitempty"`
	InUse           int    `json:"in_use,omitempty"`
	Idle            int    `json:"idle,omitempty"`
	WaitCount       int64  `json:"wait_count,omitempty"`
	WaitDuration    int64  `json:"wait_duration_ms,omitempty"`
	MaxOpenConns    int    `json:"max_open_conns,omitempty"`
}

// Health pings the store and collects pool statistics when the backend
// exposes its *sql.DB.
func Health(ctx context.Context, s Store) *HealthStatus {
	start := time.Now()

	if err := s.Ping(ctx); err != nil {
		return &HealthStatus{
			Status:       "unhealthy",
			ResponseTime: time.Since(start).Milliseconds(),
			Error:        err.Error(),
		}
	}

	hs := &HealthStatus{
		Status:       "healthy",
		ResponseTime: time.Since(start).Milliseconds(),
	}
	if backed, ok := s.(interface{ DB() *sql.DB }); ok {
		stats := backed.DB().Stats()
		hs.OpenConnections = stats.OpenConnections
		hs.InUse = stats.InUse
		hs.Idle = stats.Idle
		hs.WaitCount = stats.WaitCount
		hs.WaitDuration = stats.WaitDuration.Milliseconds()
		hs.MaxOpenConns = stats.MaxOpenConnections
	}
	return hs
}
