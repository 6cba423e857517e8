package search

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// rateLimiter is a token-bucket limiter with a backoff window for 429
// responses. Each provider gets its own, sized from the sources file's
// requests_per_minute.
type rateLimiter struct {
	mu      sync.Mutex
	limiter *rate.Limiter
	retryAt time.Time
}

func newRateLimiter(requestsPerMinute int) *rateLimiter {
	if requestsPerMinute <= 0 {
		requestsPerMinute = 60
	}
	burst := requestsPerMinute / 10
	if burst < 1 {
		burst = 1
	}
	return &rateLimiter{
		limiter: rate.NewLimiter(rate.Limit(float64(requestsPerMinute)/60.0), burst),
	}
}

// wait blocks until a request may go out, honoring both the token bucket
// and any backoff recorded from a 429. The context deadline bounds the
// wait, so a starved provider surfaces as a timeout and the chain moves on.
func (r *rateLimiter) wait(ctx context.Context) error {
	r.mu.Lock()
	retryAt := r.retryAt
	r.mu.Unlock()

	if until := time.Until(retryAt); until > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(until):
		}
	}
	return r.limiter.Wait(ctx)
}

// recordQuotaError pushes the next permitted request out by the server's
// Retry-After, defaulting to a minute when the header is absent.
func (r *rateLimiter) recordQuotaError(retryAfterSeconds int) {
	if retryAfterSeconds <= 0 {
		retryAfterSeconds = 60
	}
	r.mu.Lock()
	r.retryAt = time.Now().Add(time.Duration(retryAfterSeconds) * time.Second)
	r.mu.Unlock()
}
