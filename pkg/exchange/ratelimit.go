package exchange

import (
	"context"

	"golang.org/x/time/rate"
)

// Limiter is a token-bucket gate matching the venue's documented request
// quota. Excess requests wait rather than fail, so signal bursts across many
// pairs apply backpressure upstream instead of burning the quota.
type Limiter struct {
	bucket *rate.Limiter
}

// NewLimiter allows rps sustained requests per second with the given burst.
func NewLimiter(rps float64, burst int) *Limiter {
	if burst <= 0 {
		burst = 1
	}
	return &Limiter{bucket: rate.NewLimiter(rate.Limit(rps), burst)}
}

// Wait blocks until a token is available or ctx is done.
func (l *Limiter) Wait(ctx context.Context) error {
	return l.bucket.Wait(ctx)
}

// Allow reports whether a token is available without blocking.
func (l *Limiter) Allow() bool {
	return l.bucket.Allow()
}
