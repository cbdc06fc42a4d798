package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

func TestServiceHeaders_AddsHeaders(t *testing.T) {
	e := echo.New()
	e.GET("/info/status", func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	}, ServiceHeaders())

	req := httptest.NewRequest(http.MethodGet, "/info/status", http.NoBody)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	tests := []struct {
		header string
		want   string
	}{
		{"X-Content-Type-Options", "nosniff"},
		{"Cache-Control", "no-store"},
	}
	for _, tt := range tests {
		if got := rec.Header().Get(tt.header); got != tt.want {
			t.Errorf("%s = %q, want %q", tt.header, got, tt.want)
		}
	}
}

func TestServiceHeaders_LeavesOtherRoutes(t *testing.T) {
	e := echo.New()
	e.GET("/info/status", func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	}, ServiceHeaders())
	e.GET("/proxy/*", func(c echo.Context) error {
		c.Response().Header().Set("Cache-Control", "max-age=60")
		return c.String(http.StatusOK, "upstream")
	})

	req := httptest.NewRequest(http.MethodGet, "/proxy/a", http.NoBody)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if got := rec.Header().Get("Cache-Control"); got != "max-age=60" {
		t.Errorf("Cache-Control = %q, want %q", got, "max-age=60")
	}
	if got := rec.Header().Get("X-Content-Type-Options"); got != "" {
		t.Errorf("X-Content-Type-Options = %q, want empty", got)
	}
}
