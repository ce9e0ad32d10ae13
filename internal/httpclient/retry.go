package httpclient

import (
	"context"
	"net"
	"strings"
	"syscall"

	"github.com/teranos/reel/errors"
)

// IsRetryableNetworkError reports whether err looks like a transient
// network failure (timeout, reset, refused) worth another attempt.
// Context cancellation by the caller is never retryable.
func IsRetryableNetworkError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ETIMEDOUT) {
		return true
	}

	errStr := strings.ToLower(err.Error())
	for _, s := range []string{
		"connection reset by peer",
		"connection refused",
		"timeout",
		"temporary failure",
		"network is unreachable",
		"unexpected eof",
	} {
		if strings.Contains(errStr, s) {
			return true
		}
	}
	return false
}

// IsRetryableStatus reports whether an HTTP status warrants a retry
func IsRetryableStatus(code int) bool {
	return code >= 500 && code <= 599
}
