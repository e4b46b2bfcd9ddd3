package httpserver

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/time/rate"
)

const (
	rateLimiterCleanupEvery = 5 * time.Minute
	rateLimiterIdleAfter    = 10 * time.Minute
)

// LimitReason describes why a connection was rejected.
type LimitReason string

const (
	LimitReasonGlobal LimitReason = "global_limit"
	LimitReasonPerIP  LimitReason = "per_ip_limit"
	LimitReasonRate   LimitReason = "rate_limit"
)

// ConnectionLimits guards the WebSocket endpoint with a process-wide cap, a
// per-IP cap and a per-IP rate of new connections.
type ConnectionLimits struct {
	max     int64
	current atomic.Int64

	maxPerIP int
	ipMu     sync.Mutex
	ips      map[string]int

	clock     clockwork.Clock
	rate      rate.Limit
	burst     int
	rateMu    sync.Mutex
	limiters  map[string]*rateLimiterEntry
	cleanupAt time.Time
}

type rateLimiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func NewConnectionLimits(globalMax int64, perIPMax int, connectionsPerSecond float64, burst int, clock clockwork.Clock) *ConnectionLimits {
	return &ConnectionLimits{
		max:       globalMax,
		maxPerIP:  perIPMax,
		ips:       make(map[string]int),
		clock:     clock,
		rate:      rate.Limit(connectionsPerSecond),
		burst:     burst,
		limiters:  make(map[string]*rateLimiterEntry),
		cleanupAt: clock.Now().Add(rateLimiterCleanupEvery),
	}
}

// Acquire takes a connection slot for ip. On failure nothing is held and the
// reason is returned.
func (l *ConnectionLimits) Acquire(ip string) (bool, LimitReason) {
	if !l.allowRate(ip) {
		return false, LimitReasonRate
	}
	if !l.acquireGlobal() {
		return false, LimitReasonGlobal
	}
	if !l.acquireIP(ip) {
		l.current.Add(-1)
		return false, LimitReasonPerIP
	}
	return true, ""
}

// Release returns a slot taken by a successful Acquire.
func (l *ConnectionLimits) Release(ip string) {
	l.ipMu.Lock()
	if count := l.ips[ip]; count > 1 {
		l.ips[ip] = count - 1
	} else {
		delete(l.ips, ip)
	}
	l.ipMu.Unlock()

	l.current.Add(-1)
}

func (l *ConnectionLimits) Current() int64 {
	return l.current.Load()
}

func (l *ConnectionLimits) CountForIP(ip string) int {
	l.ipMu.Lock()
	defer l.ipMu.Unlock()
	return l.ips[ip]
}

func (l *ConnectionLimits) acquireGlobal() bool {
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

func (l *ConnectionLimits) acquireIP(ip string) bool {
	l.ipMu.Lock()
	defer l.ipMu.Unlock()

	if l.ips[ip] >= l.maxPerIP {
		return false
	}
	l.ips[ip]++
	return true
}

func (l *ConnectionLimits) allowRate(ip string) bool {
	l.rateMu.Lock()
	defer l.rateMu.Unlock()

	now := l.clock.Now()
	if now.After(l.cleanupAt) {
		cutoff := now.Add(-rateLimiterIdleAfter)
		for key, entry := range l.limiters {
			if entry.lastSeen.Before(cutoff) {
				delete(l.limiters, key)
			}
		}
		l.cleanupAt = now.Add(rateLimiterCleanupEvery)
	}

	entry, ok := l.limiters[ip]
	if !ok {
		entry = &rateLimiterEntry{limiter: rate.NewLimiter(l.rate, l.burst)}
		l.limiters[ip] = entry
	}
	entry.lastSeen = now
	return entry.limiter.AllowN(now, 1)
}
