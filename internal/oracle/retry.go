package oracle

import (
	"context"
	"errors"
	"net"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
)

// statusCoder is any error that reports an HTTP status code through a
// StatusCode() method. anthropic-sdk-go's *anthropic.Error carries its
// status in a StatusCode field instead and is matched separately.
type statusCoder interface {
	error
	StatusCode() int
}

// isRetryable classifies an error from one Oracle attempt as
// retryable (timeout, 5xx, 429, transport) or permanent (any other
// 4xx, or a malformed response already classified upstream).
func isRetryable(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == 429 || apiErr.StatusCode >= 500
	}

	var sc statusCoder
	if errors.As(err, &sc) {
		status := sc.StatusCode()
		if status == 429 || status >= 500 {
			return true
		}
		return false
	}

	// No structured status available: fall back to a conservative
	// substring check on the wrapped message for transport-level
	// failures that don't implement net.Error (e.g. connection reset
	// reported by the underlying HTTP client).
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "timeout") ||
		strings.Contains(msg, "connection reset") ||
		strings.Contains(msg, "eof")
}
