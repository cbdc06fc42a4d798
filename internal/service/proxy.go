// Package service implements the core proxy forwarding logic.
package service

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"relay-proxy-go/internal/model"
	"relay-proxy-go/internal/stats"
)

// Upstream performs one outbound call, retries included, and returns the
// fully buffered response with its header unfiltered.
type Upstream interface {
	Do(ctx context.Context, method, url string, header http.Header, body []byte) (*model.ProxyResponse, error)
}

// ProxyService handles the forwarding logic for proxy requests.
type ProxyService struct {
	upstream Upstream
	stats    *stats.Tracker
	logger   *slog.Logger

	// failureLog throttles warn-level failure logs during upstream outages.
	failureLog rate.Sometimes
}

// NewProxyService creates a ProxyService.
func NewProxyService(up Upstream, st *stats.Tracker, logger *slog.Logger) *ProxyService {
	return &ProxyService{
		upstream:   up,
		stats:      st,
		logger:     logger.With("component", "proxy_service"),
		failureLog: rate.Sometimes{First: 3, Interval: 10 * time.Second},
	}
}

// Forward resolves the target of pr, forwards it upstream and returns the
// upstream response with filtered headers.
//
// Any upstream status, 4xx and 5xx included, is a successful forward and is
// counted as a request. Failures are *ProxyError values of kind
// ErrConfiguration (nothing recorded), ErrGatewayTimeout (counted as a
// timeout) or ErrBadGateway (counted as an error).
func (s *ProxyService) Forward(ctx context.Context, pr *model.ProxyRequest) (*model.ProxyResponse, error) {
	targetURL, err := BuildTargetURL(pr)
	if err != nil {
		return nil, err
	}

	header := FilterRequestHeaders(pr.Header)
	setForwardingHeaders(header, pr.ClientIP, pr.Scheme(), pr.Host)

	method := strings.ToUpper(pr.Method)

	s.logger.Debug("forwarding request",
		"method", method,
		"target_url", targetURL,
		"request_id", pr.RequestID,
	)

	resp, err := s.upstream.Do(ctx, method, targetURL, header, pr.Body)
	if err != nil {
		return nil, s.fail(pr, targetURL, err)
	}

	resp.Header = FilterResponseHeaders(resp.Header)
	resp.TargetURL = targetURL
	s.stats.RecordRequest(resp.StatusCode)
	return resp, nil
}

// fail classifies a transport error and records it.
func (s *ProxyService) fail(pr *model.ProxyRequest, targetURL string, err error) *ProxyError {
	var perr *ProxyError
	if isTimeout(err) {
		s.stats.RecordTimeout()
		perr = newGatewayTimeoutError(targetURL, err)
	} else {
		s.stats.RecordError()
		perr = newBadGatewayError(targetURL, err)
	}

	s.logger.Debug("upstream failure",
		"request_id", pr.RequestID,
		"err", perr,
	)
	s.failureLog.Do(func() {
		snap := s.stats.Snapshot()
		s.logger.Warn("upstream failure",
			"err", perr,
			"total_errors", snap.TotalErrors,
			"total_timeouts", snap.TotalTimeouts,
		)
	})
	return perr
}
