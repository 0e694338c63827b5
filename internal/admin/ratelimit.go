package admin

import (
	"net"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	defaultRateLimitRPS   = 5
	defaultRateLimitBurst = 10
	defaultReapAfter      = 10 * time.Minute
)

type RateLimitConfig struct {
	RPS   float64
	Burst int
}

// RateLimiter keeps one token bucket per remote host. Idle buckets
// are reaped so the map cannot grow without bound.
type RateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*remoteLimiter
	rps      rate.Limit
	burst    int
	lastReap time.Time
}

type remoteLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func NewRateLimiter(cfg RateLimitConfig) *RateLimiter {
	rps := cfg.RPS
	if rps <= 0 {
		rps = defaultRateLimitRPS
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = defaultRateLimitBurst
	}
	return &RateLimiter{
		limiters: make(map[string]*remoteLimiter),
		rps:      rate.Limit(rps),
		burst:    burst,
		lastReap: time.Now(),
	}
}

func (l *RateLimiter) Allow(remoteAddr string) bool {
	if l == nil {
		return true
	}
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		host = remoteAddr
	}

	now := time.Now()
	l.mu.Lock()
	defer l.mu.Unlock()

	if now.Sub(l.lastReap) > defaultReapAfter {
		for key, entry := range l.limiters {
			if now.Sub(entry.lastSeen) > defaultReapAfter {
				delete(l.limiters, key)
			}
		}
		l.lastReap = now
	}

	entry, ok := l.limiters[host]
	if !ok {
		entry = &remoteLimiter{limiter: rate.NewLimiter(l.rps, l.burst)}
		l.limiters[host] = entry
	}
	entry.lastSeen = now
	return entry.limiter.Allow()
}
