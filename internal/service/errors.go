package service

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// Error kinds returned by Forward. Match them with errors.Is.
var (
	// ErrConfiguration means the request does not name a target. It is not
	// retryable and not counted in stats.
	ErrConfiguration = errors.New("configuration error")

	// ErrGatewayTimeout means the upstream did not answer within the
	// configured connect/read timeouts.
	ErrGatewayTimeout = errors.New("gateway timeout")

	// ErrBadGateway means the upstream could not be reached or the exchange
	// broke before a full response was read.
	ErrBadGateway = errors.New("bad gateway")
)

// ProxyError is the concrete error returned by Forward.
type ProxyError struct {
	Kind      error  // one of ErrConfiguration, ErrGatewayTimeout, ErrBadGateway
	TargetURL string // resolved target, empty for configuration errors
	Message   string
	Cause     error
}

// Error implements the error interface.
func (e *ProxyError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap exposes both the kind and the underlying cause.
func (e *ProxyError) Unwrap() []error {
	if e.Cause == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Cause}
}

func newConfigurationError(msg string) *ProxyError {
	return &ProxyError{Kind: ErrConfiguration, Message: msg}
}

func newGatewayTimeoutError(targetURL string, cause error) *ProxyError {
	return &ProxyError{
		Kind:      ErrGatewayTimeout,
		TargetURL: targetURL,
		Message:   "upstream timed out for " + targetURL,
		Cause:     cause,
	}
}

func newBadGatewayError(targetURL string, cause error) *ProxyError {
	return &ProxyError{
		Kind:      ErrBadGateway,
		TargetURL: targetURL,
		Message:   "cannot connect to " + targetURL,
		Cause:     cause,
	}
}

// isTimeout reports whether a transport error is a timeout rather than a
// connection fault.
func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
