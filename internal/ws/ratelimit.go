package ws

import (
	"time"

	"golang.org/x/time/rate"
)

// newFrameLimiter admits burst inbound frames at once and refills burst
// tokens per interval.
func newFrameLimiter(burst int, interval time.Duration) *rate.Limiter {
	if burst <= 0 {
		burst = 1
	}
	if interval <= 0 {
		interval = time.Second
	}
	return rate.NewLimiter(rate.Limit(float64(burst)/interval.Seconds()), burst)
}
