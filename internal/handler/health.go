package handler

import (
	"net/http"

	"github.com/dustin/go-humanize"
	"github.com/labstack/echo/v4"

	"relay-proxy-go/internal/config"
	"relay-proxy-go/internal/stats"
)

// Name is reported by the status endpoint.
const Name = "relay-proxy"

// Version is a string type for dependency injection of the build version.
type Version string

// HealthHandler serves health and status endpoints.
type HealthHandler struct {
	cfg     *config.Config
	version Version
}

// NewHealthHandler creates a HealthHandler.
func NewHealthHandler(cfg *config.Config, v Version) *HealthHandler {
	return &HealthHandler{cfg: cfg, version: v}
}

// Healthz returns a simple OK response for liveness probes.
func (h *HealthHandler) Healthz(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status": "ok",
	})
}

// Status returns service status information.
func (h *HealthHandler) Status(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"name":             Name,
		"version":          string(h.version),
		"status":           "ok",
		"max_content_size": formatLimit(h.cfg.Proxy.MaxContentSize),
	})
}

func formatLimit(n int64) string {
	if n <= 0 {
		return "unlimited"
	}
	return humanize.IBytes(uint64(n))
}

// StatsHandler exposes the forwarding counters.
type StatsHandler struct {
	tracker *stats.Tracker
}

// NewStatsHandler creates a StatsHandler.
func NewStatsHandler(t *stats.Tracker) *StatsHandler {
	return &StatsHandler{tracker: t}
}

// Stats returns a point-in-time snapshot of the counters.
func (h *StatsHandler) Stats(c echo.Context) error {
	return c.JSON(http.StatusOK, h.tracker.Snapshot())
}
