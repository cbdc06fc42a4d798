package handler

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"

	"relay-proxy-go/internal/config"
	"relay-proxy-go/internal/stats"
)

func TestHealthz(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/healthz", http.NoBody)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	h := NewHealthHandler(&config.Config{}, "test")
	if err := h.Healthz(c); err != nil {
		t.Fatalf("Healthz() error = %v", err)
	}

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}

	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if body["status"] != "ok" {
		t.Errorf("status = %q, want %q", body["status"], "ok")
	}
}

func TestStatus(t *testing.T) {
	tests := []struct {
		name    string
		maxSize int64
		want    string
	}{
		{"default limit", 100 * 1024 * 1024, "100 MiB"},
		{"unlimited", 0, "unlimited"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := echo.New()
			req := httptest.NewRequest(http.MethodGet, "/info/status", http.NoBody)
			rec := httptest.NewRecorder()
			c := e.NewContext(req, rec)

			cfg := &config.Config{Proxy: config.ProxyConfig{MaxContentSize: tt.maxSize}}
			h := NewHealthHandler(cfg, "1.2.3")
			if err := h.Status(c); err != nil {
				t.Fatalf("Status() error = %v", err)
			}

			var body map[string]string
			if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			if body["name"] != Name {
				t.Errorf("body.name = %q, want %q", body["name"], Name)
			}
			if body["version"] != "1.2.3" {
				t.Errorf("body.version = %q, want %q", body["version"], "1.2.3")
			}
			if body["status"] != "ok" {
				t.Errorf("body.status = %q, want %q", body["status"], "ok")
			}
			if body["max_content_size"] != tt.want {
				t.Errorf("body.max_content_size = %q, want %q", body["max_content_size"], tt.want)
			}
		})
	}
}

func TestStats(t *testing.T) {
	st := stats.New()
	st.RecordRequest(http.StatusOK)
	st.RecordRequest(http.StatusInternalServerError)
	st.RecordError()
	st.RecordTimeout()

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/info/stats", http.NoBody)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := NewStatsHandler(st).Stats(c); err != nil {
		t.Fatalf("Stats() error = %v", err)
	}

	var body map[string]uint64
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	want := map[string]uint64{"total_requests": 2, "total_errors": 1, "total_timeouts": 1}
	for key, v := range want {
		if body[key] != v {
			t.Errorf("%s = %d, want %d", key, body[key], v)
		}
	}
}
