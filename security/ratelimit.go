package security

import (
	"container/list"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	// DefaultIPRate is the default sustained rate of anonymous requests per second per IP
	DefaultIPRate = 10

	// DefaultIPBurst is the default burst of anonymous requests per IP
	DefaultIPBurst = 20

	// DefaultMaxEntries bounds the number of tracked IPs
	DefaultMaxEntries = 10000

	defaultCleanupInterval = 5 * time.Minute
	defaultMaxIdle         = 30 * time.Minute
)

// ipLimiterEntry tracks a token bucket and its last access time
type ipLimiterEntry struct {
	ip         string
	limiter    *rate.Limiter
	lastAccess time.Time
}

// IPRateLimiter throttles requests that carry no identifiable client, keyed by
// remote IP, using a token bucket per IP. The set of tracked IPs is bounded:
// when full, the least recently seen IP is evicted.
type IPRateLimiter struct {
	mu         sync.Mutex
	entries    map[string]*list.Element
	lru        *list.List // of *ipLimiterEntry, most recent first
	rate       rate.Limit
	burst      int
	maxEntries int
	logger     *slog.Logger
	now        func() time.Time

	stopCleanup chan struct{}
	stopOnce    sync.Once

	evictions int64
}

// IPRateLimiterConfig configures an IPRateLimiter.
type IPRateLimiterConfig struct {
	// Rate is the sustained requests per second per IP (default 10)
	Rate float64

	// Burst is the bucket size per IP (default 20)
	Burst int

	// MaxEntries bounds tracked IPs (default 10000, 0 keeps the default)
	MaxEntries int

	// CleanupInterval is how often idle IPs are dropped (default 5m)
	CleanupInterval time.Duration

	Logger *slog.Logger
}

// NewIPRateLimiter creates a limiter and starts its background cleanup.
// Call Stop to release it.
func NewIPRateLimiter(cfg IPRateLimiterConfig) *IPRateLimiter {
	if cfg.Rate <= 0 {
		cfg.Rate = DefaultIPRate
	}
	if cfg.Burst <= 0 {
		cfg.Burst = DefaultIPBurst
	}
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = DefaultMaxEntries
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = defaultCleanupInterval
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	rl := &IPRateLimiter{
		entries:     make(map[string]*list.Element),
		lru:         list.New(),
		rate:        rate.Limit(cfg.Rate),
		burst:       cfg.Burst,
		maxEntries:  cfg.MaxEntries,
		logger:      cfg.Logger,
		now:         time.Now,
		stopCleanup: make(chan struct{}),
	}

	go rl.cleanupLoop(cfg.CleanupInterval)

	return rl
}

// Allow consumes one token for ip. When the bucket is empty it returns false
// and how long the caller should wait before the next token is available.
func (rl *IPRateLimiter) Allow(ip string) (bool, time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	entry := rl.entry(ip, now)

	reservation := entry.limiter.ReserveN(now, 1)
	if !reservation.OK() {
		return false, time.Second
	}
	if delay := reservation.DelayFrom(now); delay > 0 {
		reservation.CancelAt(now)
		return false, delay
	}
	return true, 0
}

// entry returns the bucket for ip, creating it and evicting the least
// recently used one if needed. Must be called with mu held.
func (rl *IPRateLimiter) entry(ip string, now time.Time) *ipLimiterEntry {
	if elem, ok := rl.entries[ip]; ok {
		rl.lru.MoveToFront(elem)
		e := elem.Value.(*ipLimiterEntry)
		e.lastAccess = now
		return e
	}

	if len(rl.entries) >= rl.maxEntries {
		if oldest := rl.lru.Back(); oldest != nil {
			e := oldest.Value.(*ipLimiterEntry)
			delete(rl.entries, e.ip)
			rl.lru.Remove(oldest)
			rl.evictions++
			rl.logger.Debug("IP rate limiter eviction",
				"ip", e.ip,
				"total_evictions", rl.evictions)
		}
	}

	e := &ipLimiterEntry{
		ip:         ip,
		limiter:    rate.NewLimiter(rl.rate, rl.burst),
		lastAccess: now,
	}
	rl.entries[ip] = rl.lru.PushFront(e)
	return e
}

func (rl *IPRateLimiter) cleanupLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.Cleanup(defaultMaxIdle)
		case <-rl.stopCleanup:
			return
		}
	}
}

// Cleanup drops IPs idle for longer than maxIdle.
func (rl *IPRateLimiter) Cleanup(maxIdle time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	removed := 0

	// idle entries collect at the back
	for elem := rl.lru.Back(); elem != nil; {
		e := elem.Value.(*ipLimiterEntry)
		if now.Sub(e.lastAccess) <= maxIdle {
			break
		}
		prev := elem.Prev()
		delete(rl.entries, e.ip)
		rl.lru.Remove(elem)
		removed++
		elem = prev
	}

	if removed > 0 {
		rl.logger.Debug("IP rate limiter cleanup completed",
			"removed", removed,
			"remaining", len(rl.entries))
	}
}

// Len returns the number of tracked IPs.
func (rl *IPRateLimiter) Len() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.entries)
}

// Stop stops the background cleanup. Safe to call more than once.
func (rl *IPRateLimiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.stopCleanup) })
}
