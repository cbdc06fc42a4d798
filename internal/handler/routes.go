package handler

import (
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"relay-proxy-go/internal/config"
	"relay-proxy-go/internal/metrics"
	"relay-proxy-go/internal/middleware"
)

// RegisterRoutes wires all route handlers onto the Echo instance.
func RegisterRoutes(
	e *echo.Echo,
	cfg *config.Config,
	m *metrics.Metrics,
	proxy *ProxyHandler,
	health *HealthHandler,
	st *StatsHandler,
) {
	svc := middleware.ServiceHeaders()

	e.GET("/healthz", health.Healthz, svc)
	e.GET("/info/status", health.Status, svc)
	e.GET("/info/stats", st.Stats, svc)

	if cfg.Metrics.Enabled {
		e.GET(cfg.Metrics.Path, echo.WrapHandler(promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})), svc)
	}

	e.Any(ProxyPrefix+"/*", proxy.Handle)
}
