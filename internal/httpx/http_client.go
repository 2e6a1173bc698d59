// Package httpx holds the shared HTTP client used for every outbound
// call to the Classification Oracle's transport. Keeping it separate
// from the oracle package lets the timeout be tuned (and the client
// itself swapped in tests) without touching retry or rate-limit logic.
package httpx

import (
	"net/http"
	"time"
)

const defaultOracleHTTPTimeout = 60 * time.Second

// OracleClient is the http.Client passed to the anthropic-sdk-go
// client. Its Timeout is a coarse backstop above the oracle package's
// own per-attempt context.WithTimeout; it should stay larger than
// RequestTimeoutSec so the context deadline fires first in the normal
// case.
var OracleClient = &http.Client{
	Timeout: defaultOracleHTTPTimeout,
}

// Configure sets OracleClient's timeout from a config-supplied number
// of seconds, returning the resolved duration. timeoutSeconds <= 0
// leaves the default in place.
func Configure(timeoutSeconds int) time.Duration {
	timeout := defaultOracleHTTPTimeout
	if timeoutSeconds > 0 {
		timeout = time.Duration(timeoutSeconds) * time.Second
	}
	OracleClient.Timeout = timeout
	return timeout
}
