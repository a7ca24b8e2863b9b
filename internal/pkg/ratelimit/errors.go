// internal/pkg/ratelimit/errors.go
package ratelimit

import (
	"errors"
	"fmt"
	"time"
)

var ErrRateLimitExceeded = errors.New("rate limit exceeded")

// RateLimitExceededError 携带客户端可见的 retry-after。
type RateLimitExceededError struct {
	Operation     Operation
	Limit         int
	WindowSeconds int
	RetryAfter    time.Duration
}

func (e *RateLimitExceededError) Error() string {
	return fmt.Sprintf("rate limit exceeded for %s: %d requests per %ds, retry after %s",
		e.Operation, e.Limit, e.WindowSeconds, e.RetryAfter)
}

func (e *RateLimitExceededError) Is(target error) bool { return target == ErrRateLimitExceeded }

// RetryAfterSeconds 向上取整，至少为 1。
func (e *RateLimitExceededError) RetryAfterSeconds() int {
	secs := int((e.RetryAfter + time.Second - 1) / time.Second)
	if secs < 1 {
		return 1
	}
	return secs
}
