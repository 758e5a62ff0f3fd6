// Package ratelimit throttles repeated attempts per key inside a fixed
// window. The in-memory limiter is process local; the redis limiter shares
// counters between instances.
package ratelimit

import (
	"context"
	"math"
	"time"

	"github.com/elskow/bms/internal/config"
)

// Decision is the outcome of a Check.
type Decision struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration
}

// RetryAfterSeconds rounds the cooldown up to whole seconds, never below one.
func (d Decision) RetryAfterSeconds() int {
	secs := int(math.Ceil(d.RetryAfter.Seconds()))
	if secs < 1 {
		return 1
	}
	return secs
}

// Limiter counts attempts per key. Check never consumes; callers Record an
// attempt once the gated operation decides it counts.
type Limiter interface {
	Check(ctx context.Context, key string) (Decision, error)
	Record(ctx context.Context, key string) error
	Reset(ctx context.Context, key string) error
}

// Pruner is implemented by limiters that hold state needing periodic
// eviction. Redis expires keys on its own.
type Pruner interface {
	Prune() int
}

// Limiters groups the limiter used for each gated operation.
type Limiters struct {
	Login    Limiter
	Register Limiter
}

// Prune evicts elapsed windows from every limiter that keeps them locally.
func (l Limiters) Prune() int {
	removed := 0
	for _, lim := range []Limiter{l.Login, l.Register} {
		if p, ok := lim.(Pruner); ok {
			removed += p.Prune()
		}
	}
	return removed
}

func validPolicy(p config.LimitPolicy) config.LimitPolicy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 1
	}
	if p.Window <= 0 {
		p.Window = time.Minute
	}
	return p
}
