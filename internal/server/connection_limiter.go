package server

import (
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

const limiterCleanupInterval = 5 * time.Minute

// LimitReason describes why an upgrade request was rejected.
type LimitReason string

const (
	LimitReasonGlobal LimitReason = "global_limit"
	LimitReasonPerIP  LimitReason = "per_ip_limit"
	LimitReasonRate   LimitReason = "rate_limit"
)

// globalLimiter caps total concurrent live connections on this instance.
type globalLimiter struct {
	current atomic.Int64
	max     int64
}

func (l *globalLimiter) acquire() bool {
	for {
		current := l.current.Load()
		if current >= l.max {
			return false
		}
		if l.current.CompareAndSwap(current, current+1) {
			return true
		}
	}
}

func (l *globalLimiter) release() {
	l.current.Add(-1)
}

func (l *globalLimiter) utilizationPct() float64 {
	if l.max == 0 {
		return 0
	}
	return float64(l.current.Load()) / float64(l.max) * 100
}

// ipLimiter caps concurrent live connections per source IP.
type ipLimiter struct {
	mu     sync.Mutex
	counts map[string]int
	maxPer int
}

func (l *ipLimiter) acquire(ip string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.counts[ip] >= l.maxPer {
		return false
	}
	l.counts[ip]++
	return true
}

func (l *ipLimiter) release(ip string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if count := l.counts[ip]; count > 0 {
		l.counts[ip] = count - 1
		if l.counts[ip] == 0 {
			delete(l.counts, ip)
		}
	}
}

func (l *ipLimiter) count(ip string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.counts[ip]
}

// connRateLimiter bounds the rate of new connections per IP with a token
// bucket (golang.org/x/time/rate). Idle per-IP buckets are dropped
// periodically so the map cannot grow without bound.
type connRateLimiter struct {
	mu        sync.Mutex
	limiters  map[string]*rateLimiterEntry
	rate      rate.Limit
	burst     int
	cleanupAt time.Time
}

type rateLimiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func (l *connRateLimiter) allow(ip string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	if now.After(l.cleanupAt) {
		cutoff := now.Add(-2 * limiterCleanupInterval)
		for key, entry := range l.limiters {
			if entry.lastSeen.Before(cutoff) {
				delete(l.limiters, key)
			}
		}
		l.cleanupAt = now.Add(limiterCleanupInterval)
	}

	entry, exists := l.limiters[ip]
	if !exists {
		entry = &rateLimiterEntry{limiter: rate.NewLimiter(l.rate, l.burst)}
		l.limiters[ip] = entry
	}
	entry.lastSeen = now
	return entry.limiter.Allow()
}

// ConnectionLimits guards the WebSocket upgrade endpoint: a global cap, a
// per-IP concurrent cap, and a per-IP new-connection rate. Checked before
// any room state is created.
type ConnectionLimits struct {
	global *globalLimiter
	perIP  *ipLimiter
	rate   *connRateLimiter
}

// NewConnectionLimits creates a combined limiter.
func NewConnectionLimits(globalMax int64, perIPMax int, connectionsPerSecond float64, burst int) *ConnectionLimits {
	return &ConnectionLimits{
		global: &globalLimiter{max: globalMax},
		perIP:  &ipLimiter{counts: make(map[string]int), maxPer: perIPMax},
		rate: &connRateLimiter{
			limiters:  make(map[string]*rateLimiterEntry),
			rate:      rate.Limit(connectionsPerSecond),
			burst:     burst,
			cleanupAt: time.Now().Add(limiterCleanupInterval),
		},
	}
}

// Acquire checks all three limits for ip. On success the caller must
// Release exactly once. On failure the returned reason names the limit hit
// and nothing is held.
func (l *ConnectionLimits) Acquire(ip string) (bool, LimitReason) {
	if !l.rate.allow(ip) {
		return false, LimitReasonRate
	}
	if !l.global.acquire() {
		return false, LimitReasonGlobal
	}
	if !l.perIP.acquire(ip) {
		l.global.release()
		return false, LimitReasonPerIP
	}
	return true, ""
}

// Release frees the slots held for ip.
func (l *ConnectionLimits) Release(ip string) {
	l.perIP.release(ip)
	l.global.release()
}

// Current returns the global concurrent connection count.
func (l *ConnectionLimits) Current() int64 {
	return l.global.current.Load()
}

// UtilizationPct reports global capacity usage for metrics.
func (l *ConnectionLimits) UtilizationPct() float64 {
	return l.global.utilizationPct()
}
