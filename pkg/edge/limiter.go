package edge

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Idle buckets are evicted so one-off clients do not pin limiter state
// forever. Eviction is amortized across admissions instead of running
// on its own goroutine.
const (
	visitorIdleTTL = 10 * time.Minute
	sweepEvery     = time.Minute
)

// visitor is one client's token bucket.
type visitor struct {
	lim  *rate.Limiter
	seen time.Time
}

// visitors hands out per-client token buckets. State is process local:
// each edge replica enforces its own share of the limit.
type visitors struct {
	mu        sync.Mutex
	byKey     map[string]*visitor
	rate      rate.Limit
	burst     int
	lastSweep time.Time
}

func newVisitors(r rate.Limit, burst int) *visitors {
	return &visitors{
		byKey:     make(map[string]*visitor),
		rate:      r,
		burst:     burst,
		lastSweep: time.Now(),
	}
}

// decision is the outcome of one admission check, carrying the
// advisory values for the rate-limit response headers.
type decision struct {
	allowed    bool
	remaining  int
	resetAt    time.Time
	retryAfter time.Duration
}

// admit spends one token from key's bucket.
func (v *visitors) admit(key string, now time.Time) decision {
	v.mu.Lock()
	vis, ok := v.byKey[key]
	if !ok {
		vis = &visitor{lim: rate.NewLimiter(v.rate, v.burst)}
		v.byKey[key] = vis
	}
	vis.seen = now
	if now.Sub(v.lastSweep) >= sweepEvery {
		v.sweepLocked(now)
	}
	v.mu.Unlock()

	// The limiter has its own lock; a bucket evicted concurrently
	// still answers this admission correctly.
	d := decision{allowed: vis.lim.AllowN(now, 1), resetAt: now}
	tokens := vis.lim.TokensAt(now)
	if tokens < 0 {
		tokens = 0
	}
	d.remaining = int(tokens)
	if tokens < 1 {
		wait := time.Duration((1 - tokens) / float64(v.rate) * float64(time.Second))
		d.resetAt = now.Add(wait)
		if !d.allowed {
			d.retryAfter = wait
		}
	}
	return d
}

func (v *visitors) sweepLocked(now time.Time) {
	for key, vis := range v.byKey {
		if now.Sub(vis.seen) > visitorIdleTTL {
			delete(v.byKey, key)
		}
	}
	v.lastSweep = now
}

// size reports how many buckets are tracked.
func (v *visitors) size() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.byKey)
}
