package service

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"strings"
	"testing"
	"time"

	"relay-proxy-go/internal/client"
	"relay-proxy-go/internal/model"
	"relay-proxy-go/internal/stats"
	"relay-proxy-go/internal/upstreamtest"
)

// stubUpstream records the outbound call and returns a canned result.
type stubUpstream struct {
	resp *model.ProxyResponse
	err  error

	calls     int
	gotMethod string
	gotURL    string
	gotHeader http.Header
	gotBody   []byte
}

func (s *stubUpstream) Do(_ context.Context, method, url string, header http.Header, body []byte) (*model.ProxyResponse, error) {
	s.calls++
	s.gotMethod, s.gotURL, s.gotHeader, s.gotBody = method, url, header, body
	if s.err != nil {
		return nil, s.err
	}
	return s.resp, nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestPool(readTimeout time.Duration) *client.Pool {
	return client.New(client.Options{
		PoolConnections: 2,
		PoolMaxSize:     4,
		ConnectTimeout:  2 * time.Second,
		ReadTimeout:     readTimeout,
		Workers:         1,
	}, discardLogger(), nil)
}

func TestForward_ResolvesAndInjectsHeaders(t *testing.T) {
	up := &stubUpstream{resp: &model.ProxyResponse{StatusCode: http.StatusOK, Header: http.Header{}}}
	st := stats.New()
	svc := NewProxyService(up, st, discardLogger())

	pr := &model.ProxyRequest{
		Method: "post",
		Path:   "/api/test",
		Host:   "example.com",
		Header: http.Header{
			"X-Forwarded-For": {"6.6.6.6"},
			"x-real-ip":       {"6.6.6.6"},
			"Authorization":   {"Bearer abc"},
		},
		Body:     []byte(`{"a":1}`),
		ClientIP: "10.0.0.1",
		UseHTTPS: true,
	}

	resp, err := svc.Forward(context.Background(), pr)
	if err != nil {
		t.Fatalf("Forward() error = %v", err)
	}

	if up.gotMethod != http.MethodPost {
		t.Errorf("method = %q, want %q", up.gotMethod, http.MethodPost)
	}
	if up.gotURL != "https://example.com/api/test" {
		t.Errorf("url = %q, want %q", up.gotURL, "https://example.com/api/test")
	}
	if string(up.gotBody) != `{"a":1}` {
		t.Errorf("body = %q, want %q", up.gotBody, `{"a":1}`)
	}
	if resp.TargetURL != "https://example.com/api/test" {
		t.Errorf("TargetURL = %q, want %q", resp.TargetURL, "https://example.com/api/test")
	}

	tests := []struct {
		key  string
		want string
	}{
		{"X-Forwarded-For", "10.0.0.1"},
		{"X-Forwarded-Proto", "https"},
		{"X-Forwarded-Host", "example.com"},
		{"Authorization", "Bearer abc"},
		{"X-Real-Ip", ""},
	}
	for _, tt := range tests {
		if got := up.gotHeader.Get(tt.key); got != tt.want {
			t.Errorf("header %q = %q, want %q", tt.key, got, tt.want)
		}
	}
	if n := len(up.gotHeader.Values("X-Forwarded-For")); n != 1 {
		t.Errorf("X-Forwarded-For has %d values, want 1", n)
	}
	if st.Snapshot().TotalRequests != 1 {
		t.Errorf("TotalRequests = %d, want 1", st.Snapshot().TotalRequests)
	}
}

func TestForward_InjectsHTTPAndEmptyHost(t *testing.T) {
	up := &stubUpstream{resp: &model.ProxyResponse{StatusCode: http.StatusOK, Header: http.Header{}}}
	svc := NewProxyService(up, stats.New(), discardLogger())

	pr := &model.ProxyRequest{
		Method: http.MethodGet,
		Path:   "https://external.api.com/v1/data",
		Header: http.Header{},
	}

	if _, err := svc.Forward(context.Background(), pr); err != nil {
		t.Fatalf("Forward() error = %v", err)
	}

	if got := up.gotHeader.Get("X-Forwarded-Proto"); got != "http" {
		t.Errorf("X-Forwarded-Proto = %q, want %q", got, "http")
	}
	if vals, ok := up.gotHeader["X-Forwarded-Host"]; !ok || vals[0] != "" {
		t.Errorf("X-Forwarded-Host = %v, want present and empty", vals)
	}
	if vals, ok := up.gotHeader["X-Forwarded-For"]; !ok || vals[0] != "" {
		t.Errorf("X-Forwarded-For = %v, want present and empty", vals)
	}
	if up.gotURL != "https://external.api.com/v1/data" {
		t.Errorf("url = %q, want %q", up.gotURL, "https://external.api.com/v1/data")
	}
}

func TestForward_MissingHost(t *testing.T) {
	up := &stubUpstream{}
	st := stats.New()
	svc := NewProxyService(up, st, discardLogger())

	pr := &model.ProxyRequest{Method: http.MethodGet, Path: "/api/test", Host: ""}

	_, err := svc.Forward(context.Background(), pr)
	if !errors.Is(err, ErrConfiguration) {
		t.Fatalf("Forward() error = %v, want ErrConfiguration", err)
	}
	if !strings.Contains(err.Error(), "No target host specified") {
		t.Errorf("error = %q, want it to mention the missing host", err.Error())
	}
	if up.calls != 0 {
		t.Errorf("upstream calls = %d, want 0", up.calls)
	}
	if got := st.Snapshot(); got != (stats.Snapshot{}) {
		t.Errorf("Snapshot() = %+v, want zero", got)
	}
}

func TestForward_TimeoutMapsToGatewayTimeout(t *testing.T) {
	connectTimeout := &url.Error{
		Op:  "Get",
		URL: "https://example.com/api/test",
		Err: &net.OpError{Op: "dial", Net: "tcp", Err: os.ErrDeadlineExceeded},
	}

	tests := []struct {
		name string
		err  error
	}{
		{"connect timeout", connectTimeout},
		{"deadline exceeded", context.DeadlineExceeded},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := stats.New()
			svc := NewProxyService(&stubUpstream{err: tt.err}, st, discardLogger())

			pr := &model.ProxyRequest{Method: http.MethodGet, Path: "/api/test", Host: "example.com", UseHTTPS: true}
			_, err := svc.Forward(context.Background(), pr)

			if !errors.Is(err, ErrGatewayTimeout) {
				t.Fatalf("Forward() error = %v, want ErrGatewayTimeout", err)
			}
			var perr *ProxyError
			if !errors.As(err, &perr) || perr.TargetURL != "https://example.com/api/test" {
				t.Errorf("ProxyError = %+v, want TargetURL set", perr)
			}
			if !strings.Contains(err.Error(), "https://example.com/api/test") {
				t.Errorf("error = %q, want it to contain the target URL", err.Error())
			}

			want := stats.Snapshot{TotalTimeouts: 1}
			if got := st.Snapshot(); got != want {
				t.Errorf("Snapshot() = %+v, want %+v", got, want)
			}
		})
	}
}

func TestForward_ConnectionFailureMapsToBadGateway(t *testing.T) {
	st := stats.New()
	svc := NewProxyService(newTestPool(5*time.Second), st, discardLogger())

	pr := &model.ProxyRequest{Method: http.MethodGet, Path: "/nonexistent", Host: "127.0.0.1:1"}
	_, err := svc.Forward(context.Background(), pr)

	if !errors.Is(err, ErrBadGateway) {
		t.Fatalf("Forward() error = %v, want ErrBadGateway", err)
	}
	if errors.Is(err, ErrGatewayTimeout) {
		t.Errorf("Forward() error = %v, should not be a timeout", err)
	}
	if !strings.Contains(err.Error(), "http://127.0.0.1:1/nonexistent") {
		t.Errorf("error = %q, want it to contain the target URL", err.Error())
	}

	want := stats.Snapshot{TotalErrors: 1}
	if got := st.Snapshot(); got != want {
		t.Errorf("Snapshot() = %+v, want %+v", got, want)
	}
}

func TestForward_ReadTimeoutMapsToGatewayTimeout(t *testing.T) {
	srv := upstreamtest.NewServer()
	defer srv.Close()

	st := stats.New()
	svc := NewProxyService(newTestPool(100*time.Millisecond), st, discardLogger())

	pr := &model.ProxyRequest{Method: http.MethodGet, Path: "/timeout", Host: srv.Authority()}
	_, err := svc.Forward(context.Background(), pr)

	if !errors.Is(err, ErrGatewayTimeout) {
		t.Fatalf("Forward() error = %v, want ErrGatewayTimeout", err)
	}
	if st.Snapshot().TotalTimeouts != 1 {
		t.Errorf("TotalTimeouts = %d, want 1", st.Snapshot().TotalTimeouts)
	}
}

func TestForward_StalledBodyMapsToGatewayTimeout(t *testing.T) {
	srv := upstreamtest.NewServer()
	defer srv.Close()

	st := stats.New()
	svc := NewProxyService(newTestPool(100*time.Millisecond), st, discardLogger())

	pr := &model.ProxyRequest{Method: http.MethodGet, Path: "/stall", Host: srv.Authority()}
	_, err := svc.Forward(context.Background(), pr)

	if !errors.Is(err, ErrGatewayTimeout) {
		t.Fatalf("Forward() error = %v, want ErrGatewayTimeout", err)
	}
	if st.Snapshot().TotalTimeouts != 1 {
		t.Errorf("TotalTimeouts = %d, want 1", st.Snapshot().TotalTimeouts)
	}
	if st.Snapshot().TotalErrors != 0 {
		t.Errorf("TotalErrors = %d, want 0", st.Snapshot().TotalErrors)
	}
}

func TestForward_UpstreamErrorIsNotProxyError(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"x"}`))
	}))
	defer upstream.Close()

	st := stats.New()
	svc := NewProxyService(newTestPool(5*time.Second), st, discardLogger())

	pr := &model.ProxyRequest{
		Method: http.MethodGet,
		Path:   upstream.URL + "/api/fail",
		Header: http.Header{},
	}
	resp, err := svc.Forward(context.Background(), pr)
	if err != nil {
		t.Fatalf("Forward() error = %v", err)
	}

	if resp.StatusCode != http.StatusInternalServerError {
		t.Errorf("StatusCode = %d, want %d", resp.StatusCode, http.StatusInternalServerError)
	}
	if string(resp.Content) != `{"error":"x"}` {
		t.Errorf("content = %q, want %q", resp.Content, `{"error":"x"}`)
	}
	if resp.Header.Get("Content-Type") != "application/json" {
		t.Errorf("Content-Type = %q, want %q", resp.Header.Get("Content-Type"), "application/json")
	}
	if resp.Header.Get("Content-Length") != "" {
		t.Errorf("Content-Length should be filtered, got %q", resp.Header.Get("Content-Length"))
	}

	want := stats.Snapshot{TotalRequests: 1}
	if got := st.Snapshot(); got != want {
		t.Errorf("Snapshot() = %+v, want %+v", got, want)
	}
}

func TestForward_HeadersReachUpstream(t *testing.T) {
	srv := upstreamtest.NewServer()
	defer srv.Close()

	svc := NewProxyService(newTestPool(5*time.Second), stats.New(), discardLogger())

	pr := &model.ProxyRequest{
		Method: http.MethodGet,
		Path:   "/echo/headers",
		Host:   srv.Authority(),
		Header: http.Header{
			"X-Custom":            {"kept"},
			"Proxy-Authorization": {"Basic abc"},
			"X-Forwarded-Proto":   {"https"},
			"Host":                {"spoofed.example"},
		},
		ClientIP: "192.0.2.7",
	}
	resp, err := svc.Forward(context.Background(), pr)
	if err != nil {
		t.Fatalf("Forward() error = %v", err)
	}

	var body struct {
		Headers map[string]string `json:"headers_received"`
	}
	if err := json.Unmarshal(resp.Content, &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	tests := []struct {
		key  string
		want string
	}{
		{"X-Custom", "kept"},
		{"Proxy-Authorization", ""},
		{"X-Forwarded-For", "192.0.2.7"},
		{"X-Forwarded-Proto", "http"},
		{"X-Forwarded-Host", srv.Authority()},
		{"Host", srv.Authority()},
	}
	for _, tt := range tests {
		if got := body.Headers[tt.key]; got != tt.want {
			t.Errorf("upstream saw %s = %q, want %q", tt.key, got, tt.want)
		}
	}
}

func TestForward_FiltersResponseHeaders(t *testing.T) {
	srv := upstreamtest.NewServer()
	defer srv.Close()

	svc := NewProxyService(newTestPool(5*time.Second), stats.New(), discardLogger())

	pr := &model.ProxyRequest{Method: http.MethodGet, Path: "/hop-by-hop", Host: srv.Authority()}
	resp, err := svc.Forward(context.Background(), pr)
	if err != nil {
		t.Fatalf("Forward() error = %v", err)
	}

	for _, key := range []string{"Keep-Alive", "Proxy-Authenticate", "Content-Length"} {
		if got := resp.Header.Get(key); got != "" {
			t.Errorf("%s should be stripped, got %q", key, got)
		}
	}
	if got := resp.Header.Get("X-Upstream"); got != "yes" {
		t.Errorf("X-Upstream = %q, want %q", got, "yes")
	}
	if string(resp.Content) != "ok" {
		t.Errorf("content = %q, want %q", resp.Content, "ok")
	}
}

func TestForward_RedirectReturned(t *testing.T) {
	srv := upstreamtest.NewServer()
	defer srv.Close()

	svc := NewProxyService(newTestPool(5*time.Second), stats.New(), discardLogger())

	pr := &model.ProxyRequest{Method: http.MethodGet, Path: "/redirect", Host: srv.Authority()}
	resp, err := svc.Forward(context.Background(), pr)
	if err != nil {
		t.Fatalf("Forward() error = %v", err)
	}
	if resp.StatusCode != http.StatusFound {
		t.Errorf("StatusCode = %d, want %d", resp.StatusCode, http.StatusFound)
	}
	if resp.Header.Get("Location") != "/echo" {
		t.Errorf("Location = %q, want %q", resp.Header.Get("Location"), "/echo")
	}
}
