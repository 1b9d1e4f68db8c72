// Package ratelimit provides an in-memory, per-key token-bucket limiter with
// opportunistic eviction of idle buckets. It is used by the HTTP middleware
// (keyed by user or client IP) and by the Telegram handler (keyed by user id
// for free-text relays).
//
// The limiter is process-local; limits are not shared across replicas.
package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	defaultTTL = 10 * time.Minute
	gcEvery    = 5000
)

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// Keyed holds one token bucket per key. Safe for concurrent use.
type Keyed struct {
	rps   rate.Limit
	burst int
	ttl   time.Duration
	now   func() time.Time

	mu       sync.Mutex
	visitors map[string]*visitor
	lookups  uint64
}

// New returns a limiter refilling rps tokens per second up to burst.
// A burst <= 0 is coerced to 1.
func New(rps float64, burst int) *Keyed {
	if burst <= 0 {
		burst = 1
	}
	return &Keyed{
		rps:      rate.Limit(rps),
		burst:    burst,
		ttl:      defaultTTL,
		now:      time.Now,
		visitors: make(map[string]*visitor),
	}
}

// Allow reports whether one event for key may happen now.
func (k *Keyed) Allow(key string) bool {
	return k.limiter(key).AllowN(k.now(), 1)
}

// Len returns the number of live buckets.
func (k *Keyed) Len() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.visitors)
}

// limiter returns the bucket for key, creating it if absent. Idle buckets are
// swept every gcEvery lookups, before the requested key is refreshed, so a
// stale bucket is evicted even when it is the one being fetched.
func (k *Keyed) limiter(key string) *rate.Limiter {
	now := k.now()

	k.mu.Lock()
	defer k.mu.Unlock()

	k.lookups++
	if k.lookups >= gcEvery {
		for key, v := range k.visitors {
			if now.Sub(v.lastSeen) >= k.ttl {
				delete(k.visitors, key)
			}
		}
		k.lookups = 0
	}

	if v, ok := k.visitors[key]; ok {
		v.lastSeen = now
		return v.limiter
	}
	lim := rate.NewLimiter(k.rps, k.burst)
	k.visitors[key] = &visitor{limiter: lim, lastSeen: now}
	return lim
}
