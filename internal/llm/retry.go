package llm

import (
	"fmt"
	"strconv"
	"time"
)

// HTTPError carries the status and body of a failed upstream call so
// callers can distinguish rate limits from hard failures.
type HTTPError struct {
	Status     int
	Body       string
	RetryAfter time.Duration // parsed from the Retry-After header, 0 if absent
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.Status, e.Body)
}

// Retryable reports whether the error is a transient upstream condition.
func (e *HTTPError) Retryable() bool {
	return e.Status == 429 || e.Status >= 500
}

// ParseRetryAfter parses a Retry-After header value in seconds.
func ParseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	return 0
}
