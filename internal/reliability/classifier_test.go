package reliability

import (
	"testing"
	"time"
)

func TestIsRetryableHTTPStatus(t *testing.T) {
	retryable := []int{408, 429, 500, 502, 503, 504}
	for _, code := range retryable {
		if !IsRetryableHTTPStatus(code) {
			t.Fatalf("IsRetryableHTTPStatus(%d) = false, want true", code)
		}
	}
	permanent := []int{200, 400, 401, 403, 404, 501}
	for _, code := range permanent {
		if IsRetryableHTTPStatus(code) {
			t.Fatalf("IsRetryableHTTPStatus(%d) = true, want false", code)
		}
	}
}

func TestClassifyRealtimeError(t *testing.T) {
	cases := []struct {
		errType, code string
		class         RealtimeErrorClass
		recoverable   bool
	}{
		{"invalid_request_error", "session_expired", RealtimeSessionExpired, false},
		{"rate_limit_error", "", RealtimeRateLimited, true},
		{"", "resource_exhausted", RealtimeRateLimited, true},
		{"server_error", "", RealtimeServer, true},
		{"invalid_request_error", "unknown_parameter", RealtimeClient, true},
	}
	for _, tc := range cases {
		class, ok := ClassifyRealtimeError(tc.errType, tc.code)
		if class != tc.class || ok != tc.recoverable {
			t.Fatalf("ClassifyRealtimeError(%q, %q) = %s, %v; want %s, %v", tc.errType, tc.code, class, ok, tc.class, tc.recoverable)
		}
	}
}

func TestExponentialBackoff(t *testing.T) {
	base := 200 * time.Millisecond
	limit := 3 * time.Second
	want := []time.Duration{200 * time.Millisecond, 400 * time.Millisecond, 800 * time.Millisecond, 1600 * time.Millisecond, 3 * time.Second}
	for attempt, w := range want {
		if got := ExponentialBackoff(attempt, base, limit); got != w {
			t.Fatalf("ExponentialBackoff(%d) = %v, want %v", attempt, got, w)
		}
	}
	if got := ExponentialBackoff(64, base, limit); got != limit {
		t.Fatalf("ExponentialBackoff(64) = %v, want cap %v", got, limit)
	}
}
