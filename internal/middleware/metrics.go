package middleware

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"

	"relay-proxy-go/internal/metrics"
)

// RequestMetrics counts and times inbound requests. Label values are bounded:
// the method through metrics.NormalizeMethod and the path through
// metrics.NormalizePath, so a proxied absolute URL still lands under /proxy.
// Requests for skipPaths, such as the scrape endpoint, are not recorded.
func RequestMetrics(m *metrics.Metrics, skipPaths ...string) echo.MiddlewareFunc {
	skipper := pathSkipper(skipPaths)

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if skipper(c) {
				return next(c)
			}

			m.RequestsInFlight.Inc()
			defer m.RequestsInFlight.Dec()

			start := time.Now()
			err := next(c)

			method := metrics.NormalizeMethod(c.Request().Method)
			status := strconv.Itoa(statusOf(c, err))
			path := metrics.NormalizePath(c.Request().URL.Path)

			m.RequestsTotal.WithLabelValues(method, status, path).Inc()
			m.RequestDuration.WithLabelValues(method, status, path).Observe(time.Since(start).Seconds())
			return err
		}
	}
}

func pathSkipper(paths []string) echomw.Skipper {
	skip := make(map[string]bool, len(paths))
	for _, p := range paths {
		skip[p] = true
	}
	return func(c echo.Context) bool {
		return skip[c.Request().URL.Path]
	}
}

// statusOf returns the status the client ends up with. A returned error is
// written after this middleware by Echo's error handler, unless the handler
// already committed a response.
func statusOf(c echo.Context, err error) int {
	if err == nil || c.Response().Committed {
		return c.Response().Status
	}
	var he *echo.HTTPError
	if errors.As(err, &he) {
		return he.Code
	}
	return http.StatusInternalServerError
}
