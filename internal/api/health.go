package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jonesrussell/north-cloud/warc-archiver/internal/archive"
)

// HealthStatus represents the status of a health check.
type HealthStatus string

const (
	// HealthStatusHealthy means the actor is accepting records.
	HealthStatusHealthy HealthStatus = "healthy"
	// HealthStatusDegraded means the actor is draining or commits are failing.
	HealthStatusDegraded HealthStatus = "degraded"
	// HealthStatusUnhealthy means the actor has terminated.
	HealthStatusUnhealthy HealthStatus = "unhealthy"
)

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status HealthStatus  `json:"status"`
	State  string        `json:"state"`
	Uptime string        `json:"uptime"`
	Stats  archive.Stats `json:"stats"`
}

func healthHandler(stats StatsProvider, started time.Time) gin.HandlerFunc {
	return func(c *gin.Context) {
		s := stats.Stats()
		status := healthOf(s)

		code := http.StatusOK
		if status == HealthStatusUnhealthy {
			code = http.StatusServiceUnavailable
		}
		if c.Request.Method == http.MethodHead {
			c.Status(code)
			return
		}

		c.JSON(code, HealthResponse{
			Status: status,
			State:  s.State.String(),
			Uptime: time.Since(started).Round(time.Second).String(),
			Stats:  s,
		})
	}
}

func healthOf(s archive.Stats) HealthStatus {
	switch {
	case s.State == archive.StateTerminated:
		return HealthStatusUnhealthy
	case s.State == archive.StateDraining, s.CommitFailures > 0:
		return HealthStatusDegraded
	default:
		return HealthStatusHealthy
	}
}
