package ratelimit

import (
	"sync"
	"time"
)

// IPRateLimiter keeps one token bucket per client address
type IPRateLimiter struct {
	limiters   map[string]*TokenBucket
	mu         sync.Mutex
	maxTokens  float64
	refillRate float64
	idleTTL    time.Duration
	now        func() time.Time
	stopOnce   sync.Once
	stopChan   chan struct{}
}

// NewIPRateLimiter creates a new IPRateLimiter. Buckets idle for longer
// than idleTTL are evicted by a background sweep until Stop is called.
func NewIPRateLimiter(maxTokens, refillRate float64, idleTTL time.Duration) *IPRateLimiter {
	if idleTTL <= 0 {
		idleTTL = 10 * time.Minute
	}

	limiter := &IPRateLimiter{
		limiters:   make(map[string]*TokenBucket),
		maxTokens:  maxTokens,
		refillRate: refillRate,
		idleTTL:    idleTTL,
		now:        time.Now,
		stopChan:   make(chan struct{}),
	}

	go limiter.cleanupLoop()

	return limiter
}

// Allow reports whether a request from ip may proceed, and if not, how long
// the client should wait
func (ipl *IPRateLimiter) Allow(ip string) (bool, time.Duration) {
	limiter := ipl.getLimiter(ip)

	if limiter.Allow() {
		return true, 0
	}
	return false, limiter.RetryAfter()
}

// Len returns the number of tracked addresses
func (ipl *IPRateLimiter) Len() int {
	ipl.mu.Lock()
	defer ipl.mu.Unlock()

	return len(ipl.limiters)
}

func (ipl *IPRateLimiter) getLimiter(ip string) *TokenBucket {
	ipl.mu.Lock()
	defer ipl.mu.Unlock()

	limiter, exists := ipl.limiters[ip]
	if !exists {
		limiter = newTokenBucket(ipl.maxTokens, ipl.refillRate, ipl.now)
		ipl.limiters[ip] = limiter
	}
	return limiter
}

// sweep drops buckets idle since before the TTL
func (ipl *IPRateLimiter) sweep() int {
	cutoff := ipl.now().Add(-ipl.idleTTL)

	ipl.mu.Lock()
	defer ipl.mu.Unlock()

	removed := 0
	for ip, limiter := range ipl.limiters {
		if limiter.idleSince(cutoff) {
			delete(ipl.limiters, ip)
			removed++
		}
	}
	return removed
}

func (ipl *IPRateLimiter) cleanupLoop() {
	ticker := time.NewTicker(ipl.idleTTL)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ipl.sweep()
		case <-ipl.stopChan:
			return
		}
	}
}

// Stop stops the cleanup loop
func (ipl *IPRateLimiter) Stop() {
	ipl.stopOnce.Do(func() { close(ipl.stopChan) })
}
