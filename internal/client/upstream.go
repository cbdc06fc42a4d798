// Package client provides the pooled, retrying upstream HTTP client.
package client

import (
	"context"
	"crypto/tls"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/hashicorp/go-cleanhttp"
	"github.com/hashicorp/go-retryablehttp"

	"relay-proxy-go/internal/config"
	"relay-proxy-go/internal/metrics"
)

// maxBackoff caps the wait between two attempts.
const maxBackoff = 120 * time.Second

// Options configures the outbound transport.
type Options struct {
	PoolConnections int // idle connections kept per origin
	PoolMaxSize     int // connections per origin, hard cap
	RetryCount      int // attempts after the first one
	RetryBackoff    time.Duration
	ConnectTimeout  time.Duration
	ReadTimeout     time.Duration
	VerifySSL       bool
	MaxContentSize  int64 // 0 disables the limit
	Workers         int
}

// OptionsFromConfig converts the [proxy] config section.
func OptionsFromConfig(p *config.ProxyConfig) Options {
	return Options{
		PoolConnections: p.PoolConnections,
		PoolMaxSize:     p.PoolMaxSize,
		RetryCount:      p.RetryCount,
		RetryBackoff:    p.RetryBackoffDuration(),
		ConnectTimeout:  p.ConnectTimeoutDuration(),
		ReadTimeout:     p.ReadTimeoutDuration(),
		VerifySSL:       p.VerifySSL,
		MaxContentSize:  p.MaxContentSize,
		Workers:         p.Workers,
	}
}

// upstream is one connection pool with its retrying client.
type upstream struct {
	client    *retryablehttp.Client
	transport *http.Transport
}

func newUpstream(opts Options, logger *slog.Logger, m *metrics.Metrics) *upstream {
	transport := cleanhttp.DefaultPooledTransport()
	transport.DialContext = (&net.Dialer{
		Timeout:   opts.ConnectTimeout,
		KeepAlive: 30 * time.Second,
	}).DialContext
	transport.TLSHandshakeTimeout = opts.ConnectTimeout
	transport.ResponseHeaderTimeout = opts.ReadTimeout
	transport.MaxIdleConns = opts.PoolMaxSize
	transport.MaxIdleConnsPerHost = opts.PoolConnections
	transport.MaxConnsPerHost = opts.PoolMaxSize
	transport.TLSClientConfig = &tls.Config{
		InsecureSkipVerify: !opts.VerifySSL, //nolint:gosec // upstream verification is a config switch
	}

	rc := retryablehttp.NewClient()
	rc.HTTPClient = &http.Client{
		Transport: slotTransport{rt: transport},
		// Redirects go back to the caller untouched.
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
	rc.Logger = logger
	rc.RetryMax = opts.RetryCount
	rc.RetryWaitMin = opts.RetryBackoff
	rc.RetryWaitMax = maxBackoff
	rc.CheckRetry = retryPolicy
	rc.Backoff = retryablehttp.DefaultBackoff
	// Hand the last response or error back as-is once retries run out.
	rc.ErrorHandler = retryablehttp.PassthroughErrorHandler

	if m != nil {
		rc.RequestLogHook = func(_ retryablehttp.Logger, req *http.Request, attempt int) {
			if attempt > 0 {
				m.UpstreamRetries.WithLabelValues(metrics.NormalizeMethod(req.Method)).Inc()
			}
		}
	}

	return &upstream{client: rc, transport: transport}
}

// idempotentMethods may be sent again after the upstream has seen them.
var idempotentMethods = map[string]bool{
	http.MethodGet:     true,
	http.MethodHead:    true,
	http.MethodPut:     true,
	http.MethodDelete:  true,
	http.MethodOptions: true,
	http.MethodTrace:   true,
}

type methodKey struct{}

// withMethod records the outbound method for retryPolicy, which only sees
// the request context when the attempt failed without a response.
func withMethod(ctx context.Context, method string) context.Context {
	return context.WithValue(ctx, methodKey{}, method)
}

func methodOf(ctx context.Context, resp *http.Response) string {
	if resp != nil && resp.Request != nil {
		return resp.Request.Method
	}
	m, _ := ctx.Value(methodKey{}).(string)
	return m
}

// retryPolicy retries connection-level faults and 502/503/504 responses of
// idempotent methods. POST and PATCH are retried only when the dial failed,
// since the upstream never saw the request. Every other status is final.
func retryPolicy(ctx context.Context, resp *http.Response, err error) (bool, error) {
	if ctx.Err() != nil {
		return false, ctx.Err()
	}
	if !idempotentMethods[methodOf(ctx, resp)] {
		if err != nil && isDialError(err) {
			return retryablehttp.DefaultRetryPolicy(ctx, resp, err)
		}
		return false, nil
	}
	if err != nil {
		return retryablehttp.DefaultRetryPolicy(ctx, resp, err)
	}
	switch resp.StatusCode {
	case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true, nil
	}
	return false, nil
}

func isDialError(err error) bool {
	var opErr *net.OpError
	return errors.As(err, &opErr) && opErr.Op == "dial"
}

// slotTransport hides CloseIdleConnections from http.Client. retryablehttp
// closes idle connections whenever a call ends in an error, which would
// drop the connections the slot keeps for every other origin. Pool.Close
// releases them through the underlying transport instead.
type slotTransport struct {
	rt http.RoundTripper
}

func (t slotTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	return t.rt.RoundTrip(req)
}
