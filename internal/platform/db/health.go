package db

import (
	"context"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
)

// PoolStats represents database connection pool statistics.
type PoolStats struct {
	TotalConns      int32  `json:"total_conns"`
	IdleConns       int32  `json:"idle_conns"`
	AcquiredConns   int32  `json:"acquired_conns"`
	MaxConns        int32  `json:"max_conns"`
	AcquireCount    int64  `json:"acquire_count"`
	AcquireDuration string `json:"acquire_duration"`
}

// GetPoolStats returns connection pool statistics.
func GetPoolStats(pool *pgxpool.Pool) *PoolStats {
	stat := pool.Stat()
	return &PoolStats{
		TotalConns:      stat.TotalConns(),
		IdleConns:       stat.IdleConns(),
		AcquiredConns:   stat.AcquiredConns(),
		MaxConns:        stat.MaxConns(),
		AcquireCount:    stat.AcquireCount(),
		AcquireDuration: stat.AcquireDuration().String(),
	}
}

// HealthCheck probes one dependency. Details, when set, is reported next to
// the probe result.
type HealthCheck struct {
	Name    string
	Ping    func(ctx context.Context) error
	Details func() interface{}
}

// CheckResult is the reported state of one dependency.
type CheckResult struct {
	Status  string      `json:"status"`
	Error   string      `json:"error,omitempty"`
	Details interface{} `json:"details,omitempty"`
}

// PoolCheck probes the scenario database and reports pool statistics.
func PoolCheck(pool *pgxpool.Pool) HealthCheck {
	return HealthCheck{
		Name:    "database",
		Ping:    pool.Ping,
		Details: func() interface{} { return GetPoolStats(pool) },
	}
}

// HealthHandler runs every check within timeout and answers 503 when any of
// them fails.
func HealthHandler(timeout time.Duration, checks ...HealthCheck) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx, cancel := context.WithTimeout(c.Request().Context(), timeout)
		defer cancel()

		status, code := "healthy", http.StatusOK
		results := make(map[string]CheckResult, len(checks))
		for _, check := range checks {
			r := CheckResult{Status: "ok"}
			if err := check.Ping(ctx); err != nil {
				r.Status, r.Error = "error", err.Error()
				status, code = "unhealthy", http.StatusServiceUnavailable
			}
			if check.Details != nil {
				r.Details = check.Details()
			}
			results[check.Name] = r
		}

		return c.JSON(code, map[string]interface{}{
			"status": status,
			"checks": results,
		})
	}
}
