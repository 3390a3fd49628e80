package llmclient

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// throttle is the token-bucket gate placed in front of every provider call,
// grounded on the teacher's rate.Limiter usage in pkg/security/ratelimit.go.
// It does not replace the single fixed-delay 429 retry below — it exists to
// keep well-behaved callers (the Micro-Fix Loop firing many short calls)
// from tripping the provider's own rate limit in the first place.
type throttle struct {
	limiter *rate.Limiter
}

func newThrottle(requestsPerSecond float64, burst int) *throttle {
	if requestsPerSecond <= 0 {
		requestsPerSecond = 2
	}
	if burst <= 0 {
		burst = 1
	}
	return &throttle{limiter: rate.NewLimiter(rate.Limit(requestsPerSecond), burst)}
}

func (t *throttle) wait(ctx context.Context) error {
	return t.limiter.Wait(ctx)
}

// rateLimitRetryDelay is the single fixed delay the spec calls for after a
// 429: one retry, then surface errs.RateLimited.
const rateLimitRetryDelay = 5 * time.Second
