package ratelimit

import (
	"context"
	"time"
)

// Result reports the outcome of a single limiter check.
type Result struct {
	Allowed    bool
	Limit      int
	Remaining  int
	RetryAfter time.Duration
}

// Limiter counts requests per key inside fixed windows. The first request
// for a key opens a window; once the count passes the limit every further
// request is denied until the window expires, at which point the count
// resets to zero. Denied requests still count nothing extra: the window
// keeps its original deadline.
type Limiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (*Result, error)
}
