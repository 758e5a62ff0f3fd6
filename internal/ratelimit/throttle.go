package ratelimit

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/elskow/bms/internal/api"
	"github.com/elskow/bms/internal/config"
)

type visitor struct {
	lim  *rate.Limiter
	seen time.Time
}

// Throttle is a per-client-IP token bucket applied to every request.
type Throttle struct {
	limit rate.Limit
	burst int

	mu       sync.Mutex
	visitors map[string]*visitor
}

// NewThrottle returns nil when throttling is disabled.
func NewThrottle(cfg config.ThrottleConfig) *Throttle {
	if cfg.RequestsPerSecond <= 0 {
		return nil
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = int(cfg.RequestsPerSecond)
		if burst < 1 {
			burst = 1
		}
	}
	return &Throttle{
		limit:    rate.Limit(cfg.RequestsPerSecond),
		burst:    burst,
		visitors: make(map[string]*visitor),
	}
}

func (t *Throttle) Allow(key string) bool {
	t.mu.Lock()
	v, ok := t.visitors[key]
	if !ok {
		v = &visitor{lim: rate.NewLimiter(t.limit, t.burst)}
		t.visitors[key] = v
	}
	v.seen = time.Now()
	t.mu.Unlock()

	return v.lim.Allow()
}

// Prune forgets clients idle for longer than idle and returns how many were
// removed.
func (t *Throttle) Prune(idle time.Duration) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	removed := 0
	cutoff := time.Now().Add(-idle)
	for k, v := range t.visitors {
		if v.seen.Before(cutoff) {
			delete(t.visitors, k)
			removed++
		}
	}
	return removed
}

func (t *Throttle) Middleware(next http.Handler) http.Handler {
	if t == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := api.ClientIP(r)
		if ip == "" {
			ip = "unknown"
		}
		if !t.Allow(ip) {
			w.Header().Set("Retry-After", strconv.Itoa(1))
			api.WriteError(w, http.StatusTooManyRequests, "Too many requests")
			return
		}
		next.ServeHTTP(w, r)
	})
}
