// Package reliability decides which upstream failures are worth retrying.
package reliability

import (
	"net/http"
	"strings"
	"time"
)

// IsRetryableHTTPStatus reports whether a provider response status is
// transient: throttling, timeouts and server-side failures.
func IsRetryableHTTPStatus(code int) bool {
	switch code {
	case http.StatusRequestTimeout, http.StatusTooManyRequests:
		return true
	}
	return code >= 500 && code != http.StatusNotImplemented
}

// RealtimeErrorClass groups error events from the realtime event channel.
type RealtimeErrorClass string

const (
	RealtimeRateLimited    RealtimeErrorClass = "rate_limited"
	RealtimeServer         RealtimeErrorClass = "server"
	RealtimeSessionExpired RealtimeErrorClass = "session_expired"
	RealtimeClient         RealtimeErrorClass = "client"
)

// ClassifyRealtimeError maps an error event's type and code to a class and
// whether the conversation can carry on after it.
func ClassifyRealtimeError(errType, code string) (RealtimeErrorClass, bool) {
	t := strings.ToLower(errType)
	c := strings.ToLower(code)
	switch {
	case strings.Contains(c, "session_expired"):
		return RealtimeSessionExpired, false
	case strings.Contains(t, "rate_limit") || strings.Contains(c, "rate_limit") || c == "resource_exhausted":
		return RealtimeRateLimited, true
	case t == "server_error" || strings.Contains(c, "server_error"):
		return RealtimeServer, true
	default:
		// Invalid requests from our side; the session stays usable.
		return RealtimeClient, true
	}
}

// ExponentialBackoff doubles base per attempt and never exceeds limit.
func ExponentialBackoff(attempt int, base, limit time.Duration) time.Duration {
	if attempt <= 0 || base >= limit {
		return min(base, limit)
	}
	if attempt >= 30 {
		return limit
	}
	return min(base<<attempt, limit)
}
