package service

import (
	"net/http"
	"strings"
)

// requestSkipHeaders are dropped before a request goes upstream: hop-by-hop
// and proxy headers, the inbound Host, forwarding headers that get
// re-injected, and Content-Length, which the transport recomputes.
var requestSkipHeaders = map[string]bool{
	"host":                true,
	"connection":          true,
	"upgrade":             true,
	"proxy-connection":    true,
	"proxy-authenticate":  true,
	"proxy-authorization": true,
	"te":                  true,
	"trailer":             true,
	"transfer-encoding":   true,
	"keep-alive":          true,
	"x-forwarded-for":     true,
	"x-forwarded-proto":   true,
	"x-forwarded-host":    true,
	"x-real-ip":           true,
	"content-length":      true,
}

// responseSkipHeaders are dropped before a response goes back to the caller,
// who is responsible for framing the body again.
var responseSkipHeaders = map[string]bool{
	"connection":          true,
	"keep-alive":          true,
	"proxy-authenticate":  true,
	"proxy-authorization": true,
	"te":                  true,
	"trailer":             true,
	"transfer-encoding":   true,
	"upgrade":             true,
	"content-encoding":    true,
	"content-length":      true,
}

// FilterRequestHeaders returns a copy of src without request skip headers.
// Matching ignores case; surviving keys keep their casing.
func FilterRequestHeaders(src http.Header) http.Header {
	return filterHeaders(src, requestSkipHeaders)
}

// FilterResponseHeaders returns a copy of src without response skip headers.
func FilterResponseHeaders(src http.Header) http.Header {
	return filterHeaders(src, responseSkipHeaders)
}

func filterHeaders(src http.Header, skip map[string]bool) http.Header {
	dst := make(http.Header, len(src))
	for key, vals := range src {
		if skip[strings.ToLower(key)] {
			continue
		}
		dst[key] = append([]string(nil), vals...)
	}
	return dst
}

// setForwardingHeaders overwrites the X-Forwarded-* headers. The filter has
// already removed every case variant of them.
func setForwardingHeaders(h http.Header, clientIP, scheme, host string) {
	h.Set("X-Forwarded-For", clientIP)
	h.Set("X-Forwarded-Proto", scheme)
	h.Set("X-Forwarded-Host", host)
}
