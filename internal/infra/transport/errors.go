package transport

import (
	"context"
	"errors"
	"io"
	"net"
	"strings"
	"syscall"
)

// ErrorMatcher reports whether err belongs to some class of failures.
type ErrorMatcher func(err error) bool

// ErrorSet is a union of matchers.
type ErrorSet []ErrorMatcher

// Match reports whether any matcher accepts err.
func (s ErrorSet) Match(err error) bool {
	if err == nil {
		return false
	}
	for _, m := range s {
		if m(err) {
			return true
		}
	}
	return false
}

// With returns a new set widened by extra.
func (s ErrorSet) With(extra ...ErrorMatcher) ErrorSet {
	out := make(ErrorSet, 0, len(s)+len(extra))
	out = append(out, s...)
	return append(out, extra...)
}

// Is returns a matcher for errors.Is(err, target).
func Is(target error) ErrorMatcher {
	return func(err error) bool { return errors.Is(err, target) }
}

// IsProxyError matches failures talking to the proxy itself.
func IsProxyError(err error) bool {
	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "proxyconnect" {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "proxyconnect") || strings.Contains(msg, "proxy authentication required")
}

// IsConnectionError matches dial, DNS and reset failures.
func IsConnectionError(err error) bool {
	switch {
	case errors.Is(err, syscall.ECONNRESET),
		errors.Is(err, syscall.ECONNREFUSED),
		errors.Is(err, syscall.ECONNABORTED),
		errors.Is(err, syscall.EPIPE),
		errors.Is(err, io.ErrUnexpectedEOF),
		errors.Is(err, io.EOF):
		return true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	var opErr *net.OpError
	return errors.As(err, &opErr)
}

// IsTimeout matches transport deadlines. A cancelled parent context is not
// a timeout and stays fatal.
func IsTimeout(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// DefaultIgnorable is the transient set of the HTTP transport.
var DefaultIgnorable = ErrorSet{IsProxyError, IsConnectionError, IsTimeout}
