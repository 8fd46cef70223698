package http

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

const rateWindow = time.Minute

// rateLimiter counts inbound frames per connection in fixed one-minute windows.
// A window starts with the first frame after the previous one expired.
type rateLimiter struct {
	limit int
	clock clock.Clock

	mu    sync.Mutex
	start time.Time
	count int
}

// newRateLimiter returns nil, which allows everything, when limit is not positive.
func newRateLimiter(limit int, c clock.Clock) *rateLimiter {
	if limit <= 0 {
		return nil
	}
	return &rateLimiter{limit: limit, clock: c}
}

func (r *rateLimiter) allow() bool {
	if r == nil {
		return true
	}
	now := r.clock.Now()

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.start.IsZero() || now.Sub(r.start) >= rateWindow {
		r.start = now
		r.count = 0
	}
	r.count++
	return r.count <= r.limit
}
