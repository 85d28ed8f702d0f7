package retry

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// HTTPError is a structured non-success HTTP outcome from an outbound call.
type HTTPError struct {
	StatusCode int
	URL        string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("request %s failed with status %d", e.URL, e.StatusCode)
}

// The 4xx codes worth retrying; everything else under 500 is fatal.
var retryable4xx = map[int]bool{408: true, 425: true, 429: true, 499: true}

// Explicit HTTP errors the fetch utility prints for dead sources.
var fatalFetchPatterns = []string{
	"HTTP Error 400",
	"HTTP Error 401",
	"HTTP Error 403",
	"HTTP Error 404",
	"HTTP Error 410",
}

// Transient network-level failure signatures.
var transientPatterns = []string{
	"ECONNRESET",
	"ETIMEDOUT",
	"ECONNREFUSED",
	"EAI_AGAIN",
	"connection reset",
	"connection refused",
	"timed out",
	"timeout",
	"temporary failure in name resolution",
	"fetch failed",
	"socket hang up",
}

var statusPattern = regexp.MustCompile(`status (\d+)`)

// IsRetryable decides whether a failure is worth another attempt. Unknown
// failures are not blindly retried.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var se *StageError
	if errors.As(err, &se) {
		return se.Retryable
	}

	code := 0
	var he *HTTPError
	if errors.As(err, &he) {
		code = he.StatusCode
	} else if m := statusPattern.FindStringSubmatch(err.Error()); m != nil {
		code, _ = strconv.Atoi(m[1])
	}
	if code > 0 {
		return retryableStatus(code)
	}

	msg := err.Error()
	for _, p := range fatalFetchPatterns {
		if strings.Contains(msg, p) {
			return false
		}
	}
	lower := strings.ToLower(msg)
	for _, p := range transientPatterns {
		if strings.Contains(lower, strings.ToLower(p)) {
			return true
		}
	}
	return false
}

func retryableStatus(code int) bool {
	if code >= 500 {
		return true
	}
	if code >= 400 {
		return retryable4xx[code]
	}
	return false
}
