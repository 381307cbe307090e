package ratelimit

import (
	"fmt"
	"sync"
	"time"
)

// Config is the immutable per-campaign (or global default) quota set.
// A zero limit disables that particular window.
type Config struct {
	Enabled bool

	PerSecond uint
	PerMinute uint
	PerHour   uint
	PerDay    uint

	// MinGap is the minimum spacing between two committed sends.
	MinGap time.Duration

	// BurstLimit caps consecutive committed sends before a forced cooldown.
	// 0 disables burst limiting.
	BurstLimit uint

	// Cooldown is the denial period imposed once BurstLimit is hit.
	Cooldown time.Duration
}

// Wait-hint caps. Backoff stays boundable regardless of configured windows:
// a denied caller never has to wait longer than cooldownWaitCap before
// re-checking, and gap denials resolve within gapWaitCap.
const (
	cooldownWaitCap = 60 * time.Second
	gapWaitCap      = 5 * time.Second
)

// Decision is the outcome of a single Check.
type Decision struct {
	Allowed bool
	Wait    time.Duration
	Reason  string
}

var allowed = Decision{Allowed: true}

type window struct {
	size  time.Duration
	name  string
	limit func(Config) uint
}

// Checked in order; the first breached window determines the wait hint.
var windows = [4]window{
	{time.Second, "per-second", func(c Config) uint { return c.PerSecond }},
	{time.Minute, "per-minute", func(c Config) uint { return c.PerMinute }},
	{time.Hour, "per-hour", func(c Config) uint { return c.PerHour }},
	{24 * time.Hour, "per-day", func(c Config) uint { return c.PerDay }},
}

type bucket struct {
	index int64
	count uint
}

// state holds the mutable counters for one identity.
// All access goes through state.mu so that a Check+Commit pair from one
// worker never interleaves with another worker's on the same identity.
type state struct {
	mu sync.Mutex

	buckets       [4]bucket
	lastSendAt    time.Time
	burstCount    uint
	cooldownUntil time.Time

	touched time.Time
}

// Limiter tracks multi-window send quotas per identity.
//
// Identities are opaque strings; the dispatch layer composes them from the
// user id and, when campaign-scoped throttling is configured, the campaign id.
// Limiter is safe for concurrent use.
type Limiter struct {
	mu     sync.Mutex
	states map[string]*state

	now func() time.Time
}

func New() *Limiter {
	return &Limiter{states: map[string]*state{}, now: time.Now}
}

// NewWithClock is for tests that need a deterministic clock.
func NewWithClock(now func() time.Time) *Limiter {
	return &Limiter{states: map[string]*state{}, now: now}
}

func (l *Limiter) get(identity string) *state {
	l.mu.Lock()
	st := l.states[identity]
	if st == nil {
		st = &state{}
		l.states[identity] = st
	}
	l.mu.Unlock()
	return st
}

// Check reports whether a send attempt for identity may proceed right now.
//
// It never blocks and never consumes quota; callers that get a denial are
// expected to sleep (capped) and re-check. The checks run in a fixed order,
// cheapest first: cooldown, burst, minimum gap, then the four window quotas.
func (l *Limiter) Check(identity string, cfg Config) Decision {
	if !cfg.Enabled {
		return allowed
	}

	now := l.now()
	st := l.get(identity)

	st.mu.Lock()
	defer st.mu.Unlock()
	st.touched = now

	// 1. Cooldown.
	if now.Before(st.cooldownUntil) {
		return Decision{
			Wait:   capDur(st.cooldownUntil.Sub(now), cooldownWaitCap),
			Reason: "cooldown",
		}
	}

	// 2. Burst. Hitting the limit converts sustained pressure into a forced
	// pause instead of a hard failure: impose the cooldown and reset so the
	// caller comes back under the cooldown branch.
	if cfg.BurstLimit > 0 && st.burstCount >= cfg.BurstLimit {
		wait := capDur(cfg.Cooldown, cooldownWaitCap)
		st.cooldownUntil = now.Add(wait)
		st.burstCount = 0
		return Decision{Wait: wait, Reason: "burst limit reached"}
	}

	// 3. Minimum gap between sends.
	if cfg.MinGap > 0 && !st.lastSendAt.IsZero() {
		if elapsed := now.Sub(st.lastSendAt); elapsed < cfg.MinGap {
			return Decision{
				Wait:   capDur(cfg.MinGap-elapsed, gapWaitCap),
				Reason: "min gap between sends",
			}
		}
	}

	// 4. Window quotas, narrowest first.
	for i, w := range windows {
		limit := w.limit(cfg)
		if limit == 0 {
			continue
		}
		idx := windowIndex(now, w.size)
		b := &st.buckets[i]
		if b.index != idx {
			// Lazy reset: stale windows are zeroed on first touch.
			b.index = idx
			b.count = 0
		}
		if b.count >= limit {
			next := time.Unix(0, 0).Add(time.Duration(idx+1) * w.size)
			return Decision{
				Wait:   next.Sub(now),
				Reason: fmt.Sprintf("%s quota (%d)", w.name, limit),
			}
		}
	}

	return allowed
}

// Commit records one actually-attempted send for identity.
//
// Call it exactly once per physical send attempt, regardless of the attempt's
// outcome: quotas govern attempts, not deliveries. Never call it just because
// Check allowed.
func (l *Limiter) Commit(identity string) {
	now := l.now()
	st := l.get(identity)

	st.mu.Lock()
	defer st.mu.Unlock()
	st.touched = now

	for i, w := range windows {
		idx := windowIndex(now, w.size)
		b := &st.buckets[i]
		if b.index != idx {
			b.index = idx
			b.count = 0
		}
		b.count++
	}
	st.lastSendAt = now
	st.burstCount++
}

// EvictStale drops identities idle for longer than maxIdle and returns how
// many were removed. Eviction only bounds memory; correctness never depends
// on it because buckets are keyed by window index and stale ones are ignored.
func (l *Limiter) EvictStale(maxIdle time.Duration) int {
	cutoff := l.now().Add(-maxIdle)

	l.mu.Lock()
	defer l.mu.Unlock()
	evicted := 0
	for id, st := range l.states {
		st.mu.Lock()
		idle := st.touched.Before(cutoff)
		st.mu.Unlock()
		if idle {
			delete(l.states, id)
			evicted++
		}
	}
	return evicted
}

// Identities returns the number of tracked identities (for status surfaces).
func (l *Limiter) Identities() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.states)
}

func windowIndex(now time.Time, size time.Duration) int64 {
	return now.UnixNano() / int64(size)
}

func capDur(d, max time.Duration) time.Duration {
	if d > max {
		return max
	}
	if d < 0 {
		return 0
	}
	return d
}
