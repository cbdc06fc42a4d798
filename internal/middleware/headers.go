package middleware

import (
	"github.com/labstack/echo/v4"
)

// ServiceHeaders returns an Echo middleware for the proxy's own endpoints.
// Forwarded responses must not go through it: their headers belong to the
// upstream.
func ServiceHeaders() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			h := c.Response().Header()
			h.Set("X-Content-Type-Options", "nosniff")
			h.Set("Cache-Control", "no-store")
			return next(c)
		}
	}
}
