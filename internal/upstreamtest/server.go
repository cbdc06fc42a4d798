// Package upstreamtest provides a local upstream origin for proxy tests.
package upstreamtest

import (
	"bytes"
	"compress/gzip"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync/atomic"
	"time"
)

// Server is an httptest server with canned upstream behaviours:
//
//	GET    /echo            200, request line as JSON, X-Test-Header set
//	ANY    /echo/headers    200, received headers as JSON
//	POST   /echo/post       201, received body as JSON
//	PUT    /update          200, received body as JSON
//	DELETE /delete/{id}     204, X-Deleted-Resource set
//	GET    /delay/{ms}      200 after ms milliseconds
//	GET    /timeout         never answers before the client gives up
//	GET    /error/500       500 with a JSON error body
//	ANY    /status/{code}   the given status code
//	GET    /large           1 MiB JSON body
//	GET    /redirect        302 to /echo
//	GET    /gzip            gzip-encoded JSON body
//	GET    /hop-by-hop      response carrying hop-by-hop headers
//	ANY    /stall           headers and StallPrefix, then no more bytes
//	GET    /drip/{n}        n bytes, one every DripInterval
//
// Anything else is a 404.
type Server struct {
	*httptest.Server
	hits atomic.Int64
}

// NewServer starts a Server. Callers must Close it.
func NewServer() *Server {
	s := &Server{}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /echo", handleEcho)
	mux.HandleFunc("/echo/headers", handleEchoHeaders)
	mux.HandleFunc("POST /echo/post", handleEchoPost)
	mux.HandleFunc("PUT /update", handleUpdate)
	mux.HandleFunc("DELETE /delete/{id}", handleDelete)
	mux.HandleFunc("GET /delay/{ms}", handleDelay)
	mux.HandleFunc("GET /timeout", handleTimeout)
	mux.HandleFunc("GET /error/500", handleError500)
	mux.HandleFunc("/status/{code}", handleStatus)
	mux.HandleFunc("GET /large", handleLarge)
	mux.HandleFunc("GET /redirect", handleRedirect)
	mux.HandleFunc("GET /gzip", handleGzip)
	mux.HandleFunc("GET /hop-by-hop", handleHopByHop)
	mux.HandleFunc("/stall", handleStall)
	mux.HandleFunc("GET /drip/{n}", handleDrip)
	mux.HandleFunc("/", handleNotFound)

	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.hits.Add(1)
		mux.ServeHTTP(w, r)
	}))
	return s
}

// Hits returns how many requests reached the server.
func (s *Server) Hits() int64 {
	return s.hits.Load()
}

// Authority returns the host:port of the server, without scheme.
func (s *Server) Authority() string {
	return strings.TrimPrefix(s.URL, "http://")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func handleEcho(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("X-Test-Header", "test-value")
	w.Header().Set("X-Echo-Path", r.URL.Path)
	writeJSON(w, http.StatusOK, map[string]string{
		"method": r.Method,
		"path":   r.URL.Path,
		"query":  r.URL.RawQuery,
		"client": r.RemoteAddr,
	})
}

func handleEchoHeaders(w http.ResponseWriter, r *http.Request) {
	received := map[string]string{"Host": r.Host}
	for k := range r.Header {
		received[k] = r.Header.Get(k)
	}
	writeJSON(w, http.StatusOK, map[string]any{"headers_received": received})
}

func handleEchoPost(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	w.Header().Set("X-Request-Method", http.MethodPost)
	writeJSON(w, http.StatusCreated, map[string]any{
		"method":       http.MethodPost,
		"body":         string(body),
		"content_type": r.Header.Get("Content-Type"),
		"length":       len(body),
	})
}

func handleUpdate(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	writeJSON(w, http.StatusOK, map[string]any{
		"method":  http.MethodPut,
		"updated": true,
		"body":    string(body),
	})
}

func handleDelete(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("X-Deleted-Resource", r.PathValue("id"))
	w.WriteHeader(http.StatusNoContent)
}

func handleDelay(w http.ResponseWriter, r *http.Request) {
	ms, err := strconv.Atoi(r.PathValue("ms"))
	if err != nil {
		ms = 10
	}
	select {
	case <-time.After(time.Duration(ms) * time.Millisecond):
	case <-r.Context().Done():
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"delayed_ms": ms})
}

func handleTimeout(_ http.ResponseWriter, r *http.Request) {
	select {
	case <-time.After(30 * time.Second):
	case <-r.Context().Done():
	}
}

func handleError500(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusInternalServerError, map[string]string{
		"error":   "Internal Server Error",
		"details": "Simulated error",
	})
}

func handleStatus(w http.ResponseWriter, r *http.Request) {
	code, err := strconv.Atoi(r.PathValue("code"))
	if err != nil || code < 100 || code > 599 {
		code = http.StatusBadRequest
	}
	writeJSON(w, code, map[string]int{"status": code})
}

func handleLarge(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"data": strings.Repeat("x", 1024*1024)})
}

func handleRedirect(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Location", "/echo")
	w.WriteHeader(http.StatusFound)
}

// GzipBody is the decoded body served by /gzip.
const GzipBody = `{"compressed":true}`

func handleGzip(w http.ResponseWriter, _ *http.Request) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	_, _ = zw.Write([]byte(GzipBody))
	_ = zw.Close()

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Encoding", "gzip")
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

func handleHopByHop(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Keep-Alive", "timeout=5")
	w.Header().Set("Proxy-Authenticate", "Basic")
	w.Header().Set("X-Upstream", "yes")
	w.Header().Set("Content-Type", "text/plain")
	_, _ = w.Write([]byte("ok"))
}

// StallPrefix is the part of the body /stall sends before it stops.
const StallPrefix = "partial"

func handleStall(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Length", "100")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(StallPrefix))
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}
	select {
	case <-time.After(30 * time.Second):
	case <-r.Context().Done():
	}
}

// DripInterval is the pause between two bytes sent by /drip/{n}.
const DripInterval = 50 * time.Millisecond

func handleDrip(w http.ResponseWriter, r *http.Request) {
	n, err := strconv.Atoi(r.PathValue("n"))
	if err != nil || n < 0 {
		n = 1
	}
	w.Header().Set("Content-Length", strconv.Itoa(n))
	w.WriteHeader(http.StatusOK)
	f, _ := w.(http.Flusher)
	if f != nil {
		f.Flush()
	}
	for range n {
		select {
		case <-time.After(DripInterval):
		case <-r.Context().Done():
			return
		}
		_, _ = w.Write([]byte("x"))
		if f != nil {
			f.Flush()
		}
	}
}

func handleNotFound(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusNotFound, map[string]string{
		"error": "Not Found",
		"path":  r.URL.Path,
	})
}
