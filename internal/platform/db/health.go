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
	Healthy         bool   `json:"healthy"`
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
		Healthy:         stat.TotalConns() > 0,
	}
}

// Check probes one backing dependency such as the interaction cache.
type Check struct {
	Name string
	Ping func(ctx context.Context) error
}

const healthCheckTimeout = 5 * time.Second

// HealthHandler reports the state of the snapshot database and any extra
// dependencies. A nil pool is reported as not configured rather than
// unhealthy, since the engine runs without one.
func HealthHandler(pool *pgxpool.Pool, checks ...Check) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx, cancel := context.WithTimeout(c.Request().Context(), healthCheckTimeout)
		defer cancel()

		healthy := true
		body := map[string]interface{}{}

		if pool == nil {
			body["database"] = "not_configured"
		} else {
			stats := GetPoolStats(pool)
			if err := pool.Ping(ctx); err != nil {
				healthy = false
				stats.Healthy = false
				body["database"] = err.Error()
			} else {
				body["database"] = "ok"
			}
			body["pool"] = stats
		}

		for _, chk := range checks {
			if err := chk.Ping(ctx); err != nil {
				healthy = false
				body[chk.Name] = err.Error()
				continue
			}
			body[chk.Name] = "ok"
		}

		status := http.StatusOK
		body["status"] = "healthy"
		if !healthy {
			status = http.StatusServiceUnavailable
			body["status"] = "unhealthy"
		}
		return c.JSON(status, body)
	}
}
