package conversion

import (
	"golang.org/x/time/rate"
)

// RateLimiter bounds how often records are sent for RIS conversion. The
// export flow is not gated by the request gate, so this is what keeps a
// burst of clicks from flooding the retriever. It is safe for concurrent use.
type RateLimiter struct {
	limiter *rate.Limiter
}

// NewRateLimiter creates a token bucket allowing ratePerSecond exports with
// bursts of up to burst. A rate of zero or less disables limiting.
func NewRateLimiter(ratePerSecond float64, burst int) *RateLimiter {
	limit := rate.Limit(ratePerSecond)
	if ratePerSecond <= 0 {
		limit = rate.Inf
	}
	return &RateLimiter{
		limiter: rate.NewLimiter(limit, burst),
	}
}

// Allow consumes one token and reports whether an export may proceed now.
func (r *RateLimiter) Allow() bool {
	return r.limiter.Allow()
}

// Tokens returns the number of tokens currently available.
func (r *RateLimiter) Tokens() float64 {
	return r.limiter.Tokens()
}
