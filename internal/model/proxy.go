// Package model defines shared types for the proxy.
package model

import "net/http"

// ProxyRequest is the normalized inbound request handed to the forwarding
// pipeline. It is owned by a single call and not mutated once built.
type ProxyRequest struct {
	Method string
	// Path is either a path relative to Host or an absolute http(s) URL.
	// An absolute URL takes precedence over Host and UseHTTPS.
	Path        string
	Host        string
	Header      http.Header
	Body        []byte
	QueryString string
	ClientIP    string
	UseHTTPS    bool
	RequestID   string
}

// ProxyResponse is the fully buffered upstream response.
type ProxyResponse struct {
	StatusCode int
	Header     http.Header
	Content    []byte
	// TargetURL is the absolute URL that was contacted.
	TargetURL string
}

// Scheme returns the scheme implied by UseHTTPS.
func (r *ProxyRequest) Scheme() string {
	if r.UseHTTPS {
		return "https"
	}
	return "http"
}
