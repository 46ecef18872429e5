// Package rate limits password-grant attempts per client IP, in memory
// for a single instance or through redis when several instances share
// the budget.
package rate

import (
	"context"
	"time"
)

type Limiter interface {
	// Allow reports whether the key may proceed, and when rejected,
	// how long until the window resets.
	Allow(ctx context.Context, key string, now time.Time) (bool, time.Duration, error)
}
