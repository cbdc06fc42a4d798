package client

import (
	"compress/gzip"
	"compress/zlib"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
)

// ErrContentTooLarge is returned when an upstream body exceeds max_content_size.
var ErrContentTooLarge = errors.New("upstream response exceeds max content size")

// errBodyStalled reports a body read that made no progress for read_timeout.
// It wraps os.ErrDeadlineExceeded so callers see a net.Error timeout.
var errBodyStalled = fmt.Errorf("upstream body stalled: %w", os.ErrDeadlineExceeded)

// idleTimeoutBody bounds the gap between two body reads. The timer cancels
// the request context, which aborts a blocked Read in the transport.
type idleTimeoutBody struct {
	io.ReadCloser
	timeout time.Duration
	timer   *time.Timer
	expired atomic.Bool
}

func newIdleTimeoutBody(body io.ReadCloser, timeout time.Duration, cancel context.CancelFunc) *idleTimeoutBody {
	b := &idleTimeoutBody{ReadCloser: body, timeout: timeout}
	b.timer = time.AfterFunc(timeout, func() {
		b.expired.Store(true)
		cancel()
	})
	return b
}

func (b *idleTimeoutBody) Read(p []byte) (int, error) {
	n, err := b.ReadCloser.Read(p)
	if b.expired.Load() {
		return n, errBodyStalled
	}
	if n > 0 {
		b.timer.Reset(b.timeout)
	}
	return n, err
}

func (b *idleTimeoutBody) Close() error {
	b.timer.Stop()
	return b.ReadCloser.Close()
}

// readBody buffers the response body. gzip and deflate bodies are decoded
// and their Content-Encoding and Content-Length headers dropped, so the
// header always describes the returned bytes.
func readBody(resp *http.Response, limit int64) ([]byte, error) {
	var (
		r   io.Reader
		err error
	)
	switch strings.ToLower(strings.TrimSpace(resp.Header.Get("Content-Encoding"))) {
	case "gzip", "x-gzip":
		var zr *gzip.Reader
		zr, err = gzip.NewReader(resp.Body)
		if err == nil {
			defer func() { _ = zr.Close() }()
			r = zr
		}
	case "deflate":
		var zr io.ReadCloser
		zr, err = zlib.NewReader(resp.Body)
		if err == nil {
			defer func() { _ = zr.Close() }()
			r = zr
		}
	default:
		return readLimited(resp.Body, limit)
	}

	switch {
	case errors.Is(err, io.EOF):
		// Encoded but empty, e.g. HEAD or 204.
		r = strings.NewReader("")
	case err != nil:
		return nil, fmt.Errorf("decode %s body: %w", resp.Header.Get("Content-Encoding"), err)
	}

	resp.Header.Del("Content-Encoding")
	resp.Header.Del("Content-Length")
	return readLimited(r, limit)
}

func readLimited(r io.Reader, limit int64) ([]byte, error) {
	if limit <= 0 {
		return io.ReadAll(r)
	}
	data, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > limit {
		return nil, fmt.Errorf("%w (%s)", ErrContentTooLarge, humanize.IBytes(uint64(limit)))
	}
	return data, nil
}
