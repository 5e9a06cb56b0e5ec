package providers

import (
	"errors"
	"fmt"
	"regexp"
	"time"
)

// maxErrorBodyChars caps the response body carried inside an HTTPError.
const maxErrorBodyChars = 500

// HTTPError is a non-2xx provider response.
type HTTPError struct {
	Provider string
	Status   int
	Body     string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("%s API error (status=%d): %s", e.Provider, e.Status, e.Body)
}

// TimeoutError is a provider call that exceeded its deadline.
type TimeoutError struct {
	Model   string
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("call to %s timed out after %s", e.Model, e.Timeout)
}

// SmokeTestError is a failed credential check for a provider. Calls through
// that provider are refused until credentials change.
type SmokeTestError struct {
	Provider string
	Err      error
}

func (e *SmokeTestError) Error() string {
	return fmt.Sprintf("%s smoke test failed: %v", e.Provider, e.Err)
}

func (e *SmokeTestError) Unwrap() error { return e.Err }

var transientPattern = regexp.MustCompile(`(?i)(timeout|ETIMEDOUT|rate.?limit|429|503|ECONNRESET)`)

// Transient reports whether an error is worth retrying: timeouts, rate
// limits and transient HTTP statuses. Matching is by message pattern so that
// wrapped provider errors classify the same way.
func Transient(err error) bool {
	if err == nil {
		return false
	}
	var timeout *TimeoutError
	if errors.As(err, &timeout) {
		return true
	}
	var httpErr *HTTPError
	if errors.As(err, &httpErr) && (httpErr.Status == 429 || httpErr.Status == 503) {
		return true
	}
	return transientPattern.MatchString(err.Error())
}

func truncateBody(body string) string {
	if len(body) > maxErrorBodyChars {
		return body[:maxErrorBodyChars]
	}
	return body
}
