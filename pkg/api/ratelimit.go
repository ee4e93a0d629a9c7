package api

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	visitorTTL      = 3 * time.Minute
	cleanupInterval = time.Minute
)

// ClientRateLimiter keeps one token bucket per client address.
type ClientRateLimiter struct {
	mu       sync.Mutex
	visitors map[string]*visitor
	limit    rate.Limit
	burst    int
	now      func() time.Time
	stop     chan struct{}
	stopOnce sync.Once
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewClientRateLimiter creates a limiter allowing rps requests per second
// per client with the given burst. Call Stop to end the cleanup loop.
func NewClientRateLimiter(rps float64, burst int) *ClientRateLimiter {
	rl := &ClientRateLimiter{
		visitors: make(map[string]*visitor),
		limit:    rate.Limit(rps),
		burst:    burst,
		now:      time.Now,
		stop:     make(chan struct{}),
	}
	go rl.cleanupVisitors()
	return rl
}

// Stop ends the background cleanup.
func (rl *ClientRateLimiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.stop) })
}

func (rl *ClientRateLimiter) getVisitor(key string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	v, exists := rl.visitors[key]
	if !exists {
		limiter := rate.NewLimiter(rl.limit, rl.burst)
		rl.visitors[key] = &visitor{limiter: limiter, lastSeen: rl.now()}
		return limiter
	}
	v.lastSeen = rl.now()
	return v.limiter
}

func (rl *ClientRateLimiter) cleanupVisitors() {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-rl.stop:
			return
		case <-ticker.C:
			rl.evict()
		}
	}
}

func (rl *ClientRateLimiter) evict() {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	for key, v := range rl.visitors {
		if rl.now().Sub(v.lastSeen) > visitorTTL {
			delete(rl.visitors, key)
		}
	}
}

// Middleware rejects requests over the client's budget with 429.
func (rl *ClientRateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !rl.getVisitor(clientKey(r)).Allow() {
			WriteTooManyRequests(w, r, 1)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// clientKey is the remote IP. RealIP middleware has already applied
// X-Forwarded-For when the server sits behind a proxy.
func clientKey(r *http.Request) string {
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		ip = strings.TrimSuffix(strings.TrimPrefix(r.RemoteAddr, "["), "]")
	}
	return ip
}
