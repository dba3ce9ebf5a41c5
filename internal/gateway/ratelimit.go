package gateway

import (
	"sync"

	"golang.org/x/time/rate"
)

// maxTrackedClients caps the limiter map so rotating source addresses
// cannot exhaust memory.
const maxTrackedClients = 4096

// RateLimiter keeps one token bucket per client key.
// rps <= 0 disables limiting entirely.
type RateLimiter struct {
	mu      sync.Mutex
	rps     rate.Limit
	burst   int
	clients map[string]*rate.Limiter
}

func NewRateLimiter(rps float64, burst int) *RateLimiter {
	return &RateLimiter{
		rps:     rate.Limit(rps),
		burst:   burst,
		clients: make(map[string]*rate.Limiter),
	}
}

func (l *RateLimiter) Enabled() bool { return l.rps > 0 }

// Allow reports whether the client identified by key may proceed.
func (l *RateLimiter) Allow(key string) bool {
	if !l.Enabled() {
		return true
	}
	l.mu.Lock()
	lim, ok := l.clients[key]
	if !ok {
		if len(l.clients) >= maxTrackedClients {
			// Hard eviction; map iteration order is as good as random.
			for k := range l.clients {
				delete(l.clients, k)
				break
			}
		}
		lim = rate.NewLimiter(l.rps, l.burst)
		l.clients[key] = lim
	}
	l.mu.Unlock()
	return lim.Allow()
}
