package pairing

import (
	"net"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// hostLimiter keeps one token bucket per remote host.
type hostLimiter struct {
	mu      sync.Mutex
	limit   rate.Limit
	burst   int
	ttl     time.Duration
	entries map[string]*hostBucket
}

type hostBucket struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

func newHostLimiter(perMinute float64, burst int) *hostLimiter {
	return &hostLimiter{
		limit:   rate.Limit(perMinute / 60),
		burst:   burst,
		ttl:     10 * time.Minute,
		entries: make(map[string]*hostBucket),
	}
}

func (h *hostLimiter) allow(host string) bool {
	now := time.Now()
	h.mu.Lock()
	defer h.mu.Unlock()
	b := h.entries[host]
	if b == nil {
		b = &hostBucket{lim: rate.NewLimiter(h.limit, h.burst)}
		h.entries[host] = b
	}
	b.lastSeen = now

	for k, v := range h.entries {
		if now.Sub(v.lastSeen) > h.ttl {
			delete(h.entries, k)
		}
	}
	return b.lim.AllowN(now, 1)
}

func remoteHost(addr net.Addr) string {
	host, _, err := net.SplitHostPort(addr.String())
	if err == nil && host != "" {
		return host
	}
	return addr.String()
}
