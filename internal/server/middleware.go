package server

import (
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// clientLimiter throttles requests per remote address. Idle entries are
// swept so the map stays bounded no matter how many clients come and go.
type clientLimiter struct {
	mu      sync.Mutex
	perSec  int
	burst   int
	entries map[string]*clientEntry
	swept   time.Time
}

type clientEntry struct {
	lim  *rate.Limiter
	seen time.Time
}

const clientIdleEviction = 10 * time.Minute

func newClientLimiter(perSec, burst int) *clientLimiter {
	return &clientLimiter{
		perSec:  perSec,
		burst:   burst,
		entries: map[string]*clientEntry{},
		swept:   time.Now(),
	}
}

func (c *clientLimiter) apply(perSec, burst int) {
	c.mu.Lock()
	if perSec != c.perSec || burst != c.burst {
		c.perSec = perSec
		c.burst = burst
		c.entries = map[string]*clientEntry{}
	}
	c.mu.Unlock()
}

func (c *clientLimiter) allow(addr string) bool {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		host = addr
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	if now.Sub(c.swept) > clientIdleEviction {
		for k, e := range c.entries {
			if now.Sub(e.seen) > clientIdleEviction {
				delete(c.entries, k)
			}
		}
		c.swept = now
	}

	e := c.entries[host]
	if e == nil {
		e = &clientEntry{lim: rate.NewLimiter(rate.Limit(c.perSec), c.burst)}
		c.entries[host] = e
	}
	e.seen = now
	return e.lim.Allow()
}

func (c *clientLimiter) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !c.allow(r.RemoteAddr) {
			writeError(w, http.StatusTooManyRequests, "rate limited")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func parseDuration(field, raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil || d < 0 {
		return 0, fmt.Errorf("%s: invalid duration %q", field, raw)
	}
	return d, nil
}
