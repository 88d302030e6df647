package ratelimit

import (
	"strconv"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

const (
	sweepInterval = 5 * time.Minute
	idleTimeout   = 10 * time.Minute
)

type bucket struct {
	mu         sync.Mutex
	tokens     int
	lastRefill time.Time
}

// RateLimiter is a token bucket per client. Clients are keyed by the
// X-Client-ID header when present, otherwise by IP.
type RateLimiter struct {
	mu       sync.RWMutex
	buckets  map[string]*bucket
	burst    int
	interval time.Duration
	logger   *zap.Logger
	now      func() time.Time
	stop     chan struct{}
	stopOnce sync.Once
}

type Config struct {
	MaxRequestsPerMinute int
	BurstSize            int
	Logger               *zap.Logger
}

func New(cfg Config) *RateLimiter {
	if cfg.MaxRequestsPerMinute == 0 {
		cfg.MaxRequestsPerMinute = 60
	}
	if cfg.BurstSize == 0 {
		cfg.BurstSize = cfg.MaxRequestsPerMinute
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	rl := &RateLimiter{
		buckets:  make(map[string]*bucket),
		burst:    cfg.BurstSize,
		interval: time.Minute / time.Duration(cfg.MaxRequestsPerMinute),
		logger:   cfg.Logger,
		now:      time.Now,
		stop:     make(chan struct{}),
	}
	go rl.sweepLoop()
	return rl
}

func (rl *RateLimiter) Middleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		key := c.Get("X-Client-ID")
		if key == "" {
			key = c.IP()
		}

		ok, wait := rl.take(key)
		if !ok {
			rl.logger.Warn("Rate limit exceeded",
				zap.String("key", key),
				zap.String("path", c.Path()),
			)
			c.Set(fiber.HeaderRetryAfter, strconv.Itoa(retrySeconds(wait)))
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error": "Rate limit exceeded. Please try again later.",
			})
		}
		return c.Next()
	}
}

func (rl *RateLimiter) bucketFor(key string) *bucket {
	rl.mu.RLock()
	b, ok := rl.buckets[key]
	rl.mu.RUnlock()
	if ok {
		return b
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()
	if b, ok = rl.buckets[key]; !ok {
		b = &bucket{tokens: rl.burst, lastRefill: rl.now()}
		rl.buckets[key] = b
	}
	return b
}

// take spends one token for key. When none is left it returns the time until
// the next token.
func (rl *RateLimiter) take(key string) (bool, time.Duration) {
	b := rl.bucketFor(key)

	b.mu.Lock()
	defer b.mu.Unlock()

	now := rl.now()
	if n := int(now.Sub(b.lastRefill) / rl.interval); n > 0 {
		b.tokens = min(rl.burst, b.tokens+n)
		b.lastRefill = b.lastRefill.Add(time.Duration(n) * rl.interval)
	}

	if b.tokens > 0 {
		b.tokens--
		return true, 0
	}
	return false, b.lastRefill.Add(rl.interval).Sub(now)
}

func (rl *RateLimiter) allow(key string) bool {
	ok, _ := rl.take(key)
	return ok
}

func retrySeconds(wait time.Duration) int {
	secs := int((wait + time.Second - 1) / time.Second)
	return max(secs, 1)
}

func (rl *RateLimiter) sweepLoop() {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			rl.sweep()
		case <-rl.stop:
			return
		}
	}
}

// sweep drops buckets that have been idle for idleTimeout.
func (rl *RateLimiter) sweep() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	dropped := 0
	for key, b := range rl.buckets {
		b.mu.Lock()
		if now.Sub(b.lastRefill) > idleTimeout {
			delete(rl.buckets, key)
			dropped++
		}
		b.mu.Unlock()
	}
	return dropped
}

func (rl *RateLimiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.stop) })
}
