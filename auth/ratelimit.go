package auth

import (
	"math"
	"time"

	"github.com/samber/oops"
	"golang.org/x/time/rate"

	"github.com/nittaya1990/spiced/errcode"
)

// Write operations share a token bucket: 100 tokens replenished over
// 60 seconds, with a burst of the full window.
const (
	defaultRateTokens = 100
	defaultRateWindow = 60 * time.Second
)

// WriteLimiter throttles mutating operations across all callers.
type WriteLimiter struct {
	limiter *rate.Limiter
}

// NewWriteLimiter builds a limiter with tokens per window. Zero values
// take the defaults.
func NewWriteLimiter(tokens int, window time.Duration) *WriteLimiter {
	if tokens <= 0 {
		tokens = defaultRateTokens
	}
	if window <= 0 {
		window = defaultRateWindow
	}
	return &WriteLimiter{
		limiter: rate.NewLimiter(rate.Limit(float64(tokens)/window.Seconds()), tokens),
	}
}

// Allow consumes one token, or returns a rate-limited error with a
// retry-after hint in whole seconds.
func (l *WriteLimiter) Allow() error {
	reservation := l.limiter.Reserve()
	if !reservation.OK() {
		return oops.Code(errcode.RateLimited).Errorf("write rate limit exceeded")
	}
	delay := reservation.Delay()
	if delay > 0 {
		reservation.Cancel()
		retryAfter := int(math.Ceil(delay.Seconds()))
		return oops.Code(errcode.RateLimited).
			With("retry_after_seconds", retryAfter).
			Errorf("write rate limit exceeded, retry in %ds", retryAfter)
	}
	return nil
}
