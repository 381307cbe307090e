package ratelimit

import (
	"testing"
	"time"
)

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newFakeClock() *fakeClock { return &fakeClock{t: time.Unix(1_700_000_000, 0)} }

func newTestLimiter(c *fakeClock) *Limiter { return NewWithClock(c.now) }

func TestDisabledConfigAlwaysAllows(t *testing.T) {
	c := newFakeClock()
	l := newTestLimiter(c)
	cfg := Config{Enabled: false, PerSecond: 1}

	for i := 0; i < 100; i++ {
		if d := l.Check("u1", cfg); !d.Allowed {
			t.Fatalf("check %d denied with disabled config: %+v", i, d)
		}
		l.Commit("u1")
	}
}

func TestPerSecondQuota(t *testing.T) {
	c := newFakeClock()
	l := newTestLimiter(c)
	cfg := Config{Enabled: true, PerSecond: 2}

	for i := 0; i < 2; i++ {
		if d := l.Check("u1", cfg); !d.Allowed {
			t.Fatalf("send %d denied: %+v", i, d)
		}
		l.Commit("u1")
	}

	d := l.Check("u1", cfg)
	if d.Allowed {
		t.Fatalf("third send in the same second should be denied")
	}
	if d.Wait <= 0 || d.Wait > time.Second {
		t.Fatalf("wait hint should point at the next second bucket, got %v", d.Wait)
	}

	c.advance(d.Wait)
	if d := l.Check("u1", cfg); !d.Allowed {
		t.Fatalf("send in next bucket denied: %+v", d)
	}
}

func TestWindowQuotaNeverExceeded(t *testing.T) {
	// Property: over any window, commits accepted by Check stay <= limit.
	c := newFakeClock()
	l := newTestLimiter(c)
	cfg := Config{Enabled: true, PerSecond: 3, PerMinute: 10}

	perSecond := map[int64]int{}
	perMinute := map[int64]int{}
	for i := 0; i < 2000; i++ {
		if d := l.Check("u1", cfg); d.Allowed {
			l.Commit("u1")
			perSecond[c.t.UnixNano()/int64(time.Second)]++
			perMinute[c.t.UnixNano()/int64(time.Minute)]++
		}
		c.advance(37 * time.Millisecond)
	}

	for w, n := range perSecond {
		if n > int(cfg.PerSecond) {
			t.Fatalf("second window %d saw %d commits (limit %d)", w, n, cfg.PerSecond)
		}
	}
	for w, n := range perMinute {
		if n > int(cfg.PerMinute) {
			t.Fatalf("minute window %d saw %d commits (limit %d)", w, n, cfg.PerMinute)
		}
	}
}

func TestCheckWithoutCommitIsIdempotent(t *testing.T) {
	c := newFakeClock()
	l := newTestLimiter(c)
	cfg := Config{Enabled: true, PerSecond: 1, PerMinute: 5}

	d1 := l.Check("u1", cfg)
	d2 := l.Check("u1", cfg)
	if d1 != d2 {
		t.Fatalf("uncommitted checks differ: %+v vs %+v", d1, d2)
	}

	l.Commit("u1")
	d3 := l.Check("u1", cfg)
	d4 := l.Check("u1", cfg)
	if d3.Allowed != d4.Allowed || d3.Reason != d4.Reason {
		t.Fatalf("uncommitted checks after commit differ: %+v vs %+v", d3, d4)
	}
}

func TestBurstTriggersCooldown(t *testing.T) {
	c := newFakeClock()
	l := newTestLimiter(c)
	cfg := Config{Enabled: true, PerMinute: 100, BurstLimit: 3, Cooldown: 5 * time.Second}

	for i := 0; i < 3; i++ {
		if d := l.Check("u1", cfg); !d.Allowed {
			t.Fatalf("send %d denied before burst limit: %+v", i, d)
		}
		l.Commit("u1")
	}

	d := l.Check("u1", cfg)
	if d.Allowed {
		t.Fatalf("check after burst limit should be denied")
	}
	if d.Reason != "burst limit reached" {
		t.Fatalf("unexpected reason %q", d.Reason)
	}
	if d.Wait != 5*time.Second {
		t.Fatalf("expected cooldown wait hint of 5s, got %v", d.Wait)
	}

	// Still in cooldown halfway through.
	c.advance(2 * time.Second)
	if d := l.Check("u1", cfg); d.Allowed || d.Reason != "cooldown" {
		t.Fatalf("expected cooldown denial, got %+v", d)
	}

	// Cooldown elapsed; burst counter was reset.
	c.advance(4 * time.Second)
	if d := l.Check("u1", cfg); !d.Allowed {
		t.Fatalf("check after cooldown denied: %+v", d)
	}
}

func TestCooldownWaitHintCapped(t *testing.T) {
	c := newFakeClock()
	l := newTestLimiter(c)
	cfg := Config{Enabled: true, BurstLimit: 1, Cooldown: 10 * time.Minute}

	l.Commit("u1")
	d := l.Check("u1", cfg)
	if d.Allowed {
		t.Fatalf("expected burst denial")
	}
	if d.Wait != cooldownWaitCap {
		t.Fatalf("cooldown should be capped at %v, got %v", cooldownWaitCap, d.Wait)
	}
}

func TestMinGap(t *testing.T) {
	c := newFakeClock()
	l := newTestLimiter(c)
	cfg := Config{Enabled: true, MinGap: 2 * time.Second}

	if d := l.Check("u1", cfg); !d.Allowed {
		t.Fatalf("first send denied: %+v", d)
	}
	l.Commit("u1")

	d := l.Check("u1", cfg)
	if d.Allowed {
		t.Fatalf("send inside min gap should be denied")
	}
	if d.Wait != 2*time.Second {
		t.Fatalf("expected 2s gap wait, got %v", d.Wait)
	}

	// Gap hints are capped so stop signals stay responsive.
	c.advance(time.Second)
	cfgLong := Config{Enabled: true, MinGap: time.Minute}
	if d := l.Check("u1", cfgLong); d.Allowed || d.Wait > gapWaitCap {
		t.Fatalf("gap wait should be capped at %v, got %+v", gapWaitCap, d)
	}

	c.advance(2 * time.Second)
	if d := l.Check("u1", cfg); !d.Allowed {
		t.Fatalf("send after gap denied: %+v", d)
	}
}

func TestIdentitiesAreIsolated(t *testing.T) {
	c := newFakeClock()
	l := newTestLimiter(c)
	cfg := Config{Enabled: true, PerSecond: 1}

	l.Commit("u1")
	if d := l.Check("u1", cfg); d.Allowed {
		t.Fatalf("u1 should be throttled")
	}
	if d := l.Check("u2", cfg); !d.Allowed {
		t.Fatalf("u2 should not share u1's counters: %+v", d)
	}
}

func TestEvictStale(t *testing.T) {
	c := newFakeClock()
	l := newTestLimiter(c)

	l.Commit("old")
	c.advance(48 * time.Hour)
	l.Commit("fresh")

	if n := l.EvictStale(24 * time.Hour); n != 1 {
		t.Fatalf("expected 1 eviction, got %d", n)
	}
	if n := l.Identities(); n != 1 {
		t.Fatalf("expected 1 identity left, got %d", n)
	}
}

func TestCheckOrderCooldownShortCircuits(t *testing.T) {
	// While cooling down, quota buckets must not be consulted (or mutated).
	c := newFakeClock()
	l := newTestLimiter(c)
	cfg := Config{Enabled: true, PerSecond: 1, BurstLimit: 1, Cooldown: 30 * time.Second}

	l.Commit("u1")
	if d := l.Check("u1", cfg); d.Reason != "burst limit reached" {
		t.Fatalf("expected burst denial first, got %+v", d)
	}
	if d := l.Check("u1", cfg); d.Reason != "cooldown" {
		t.Fatalf("expected cooldown on re-check, got %+v", d)
	}
}
