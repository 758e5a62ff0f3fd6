package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/elskow/bms/internal/config"
)

type window struct {
	count int
	start time.Time
}

// MemoryLimiter keeps fixed windows in process memory. It is not shared
// across instances.
type MemoryLimiter struct {
	policy  config.LimitPolicy
	now     func() time.Time
	mu      sync.Mutex
	windows map[string]*window
}

type MemoryOption func(*MemoryLimiter)

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) MemoryOption {
	return func(l *MemoryLimiter) {
		l.now = now
	}
}

func NewMemoryLimiter(policy config.LimitPolicy, opts ...MemoryOption) *MemoryLimiter {
	l := &MemoryLimiter{
		policy:  validPolicy(policy),
		now:     time.Now,
		windows: make(map[string]*window),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// live returns the window for key, dropping it once the window has elapsed.
// Callers hold l.mu.
func (l *MemoryLimiter) live(key string, now time.Time) *window {
	w, ok := l.windows[key]
	if !ok {
		return nil
	}
	if now.Sub(w.start) > l.policy.Window {
		delete(l.windows, key)
		return nil
	}
	return w
}

func (l *MemoryLimiter) Check(_ context.Context, key string) (Decision, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	w := l.live(key, now)
	if w == nil {
		return Decision{Allowed: true, Remaining: l.policy.MaxAttempts}, nil
	}

	if w.count >= l.policy.MaxAttempts {
		return Decision{
			Allowed:    false,
			RetryAfter: w.start.Add(l.policy.Window).Sub(now),
		}, nil
	}

	return Decision{Allowed: true, Remaining: l.policy.MaxAttempts - w.count}, nil
}

func (l *MemoryLimiter) Record(_ context.Context, key string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if w := l.live(key, now); w != nil {
		w.count++
		return nil
	}
	l.windows[key] = &window{count: 1, start: now}
	return nil
}

func (l *MemoryLimiter) Reset(_ context.Context, key string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.windows, key)
	return nil
}

// Prune drops windows that have elapsed and returns how many were removed.
func (l *MemoryLimiter) Prune() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	removed := 0
	for key, w := range l.windows {
		if now.Sub(w.start) > l.policy.Window {
			delete(l.windows, key)
			removed++
		}
	}
	return removed
}

// Len reports the number of tracked keys, including expired ones not yet
// touched since expiry.
func (l *MemoryLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.windows)
}
