package llm

import (
	"context"
	"errors"
	"net"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

var (
	// ErrRateLimited is returned when the RPM window has no free slot and
	// no secondary provider is allowed to absorb the request.
	ErrRateLimited = errors.New("llm rate limited")

	// ErrAllProvidersFailed is returned when every rung of the fallback
	// ladder has been exhausted without a usable completion.
	ErrAllProvidersFailed = errors.New("all llm providers failed")
)

// IsRetryable reports whether err warrants handing the request to the
// next provider on the ladder. Covers upstream throttling (429, rate
// limit, resource_exhausted), server faults (5xx) and timeouts.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, ErrRateLimited) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		if apiErr.HTTPStatusCode == 429 || apiErr.HTTPStatusCode >= 500 {
			return true
		}
	}

	msg := strings.ToLower(err.Error())
	for _, marker := range []string{"429", "rate limit", "timeout", "resource_exhausted"} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
