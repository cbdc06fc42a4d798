package client

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"relay-proxy-go/internal/config"
	"relay-proxy-go/internal/metrics"
	"relay-proxy-go/internal/model"
)

// Pool sends requests to upstream origins. It owns one connection pool per
// worker slot instead of a single shared one, so concurrent calls do not
// contend on one transport. A slot builds its pool on first use and keeps it
// until Close.
type Pool struct {
	opts    Options
	logger  *slog.Logger
	metrics *metrics.Metrics

	slots []slot
	next  atomic.Uint64
}

// acceptEncoding replaces any Accept-Encoding sent by the caller.
const acceptEncoding = "gzip, deflate"

type slot struct {
	once sync.Once
	up   atomic.Pointer[upstream]
}

// NewPool creates a Pool from the [proxy] config section.
// The metrics parameter is optional; pass nil to disable upstream metrics recording.
func NewPool(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) *Pool {
	return New(OptionsFromConfig(&cfg.Proxy), logger, m)
}

// New creates a Pool from explicit options.
func New(opts Options, logger *slog.Logger, m *metrics.Metrics) *Pool {
	workers := opts.Workers
	if workers < 1 {
		workers = 1
	}
	return &Pool{
		opts:    opts,
		logger:  logger.With("component", "upstream_client"),
		metrics: m,
		slots:   make([]slot, workers),
	}
}

// acquire returns the pool of the next worker slot, building it if needed.
func (p *Pool) acquire() *upstream {
	s := &p.slots[(p.next.Add(1)-1)%uint64(len(p.slots))]
	s.once.Do(func() {
		s.up.Store(newUpstream(p.opts, p.logger, p.metrics))
	})
	return s.up.Load()
}

// Do executes one upstream call and returns the fully read response.
// Retries happen inside; the caller sees the final response or the final
// error. The response header is returned unfiltered.
func (p *Pool) Do(ctx context.Context, method, url string, header http.Header, body []byte) (*model.ProxyResponse, error) {
	var raw any
	if len(body) > 0 {
		raw = body
	}

	ctx, cancel := context.WithCancel(withMethod(ctx, method))
	defer cancel()

	req, err := retryablehttp.NewRequestWithContext(ctx, method, url, raw)
	if err != nil {
		return nil, fmt.Errorf("build upstream request: %w", err)
	}
	req.Header = header.Clone()
	if req.Header == nil {
		req.Header = make(http.Header)
	}
	// Only offer codings readBody can decode.
	if req.Header.Get("Accept-Encoding") != "" {
		req.Header.Set("Accept-Encoding", acceptEncoding)
	}

	p.logger.Debug("upstream request",
		"method", method,
		"url", url,
	)

	start := time.Now()
	resp, err := p.acquire().client.Do(req)
	duration := time.Since(start).Seconds()

	label := metrics.NormalizeMethod(method)
	if p.metrics != nil {
		p.metrics.UpstreamDuration.WithLabelValues(label).Observe(duration)
	}

	if err != nil {
		if resp != nil {
			_ = resp.Body.Close()
		}
		return nil, fmt.Errorf("upstream request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if p.metrics != nil {
		p.metrics.UpstreamResponses.WithLabelValues(label, strconv.Itoa(resp.StatusCode)).Inc()
	}

	if p.opts.ReadTimeout > 0 {
		resp.Body = newIdleTimeoutBody(resp.Body, p.opts.ReadTimeout, cancel)
	}

	content, err := readBody(resp, p.opts.MaxContentSize)
	if err != nil {
		return nil, fmt.Errorf("read upstream body: %w", err)
	}

	return &model.ProxyResponse{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Content:    content,
	}, nil
}

// Close releases idle connections held by every slot built so far.
func (p *Pool) Close() {
	for i := range p.slots {
		if up := p.slots[i].up.Load(); up != nil {
			up.transport.CloseIdleConnections()
		}
	}
}

// built reports how many slots have created their pool.
func (p *Pool) built() int {
	n := 0
	for i := range p.slots {
		if p.slots[i].up.Load() != nil {
			n++
		}
	}
	return n
}
