package ratelimit

import (
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

// RateLimiter is a per-client token bucket guarding the API. Pipeline runs
// are expensive upstream, so the bucket is deliberately small.
type RateLimiter struct {
	mu         sync.Mutex
	buckets    map[string]*bucket
	maxTokens  int
	refillRate time.Duration
	logger     *zap.Logger
	lastSweep  time.Time
}

type bucket struct {
	tokens     int
	lastRefill time.Time
}

type Config struct {
	MaxRequestsPerMinute int
	Logger               *zap.Logger
}

func New(cfg Config) *RateLimiter {
	if cfg.MaxRequestsPerMinute <= 0 {
		cfg.MaxRequestsPerMinute = 60
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	return &RateLimiter{
		buckets:    make(map[string]*bucket),
		maxTokens:  cfg.MaxRequestsPerMinute,
		refillRate: time.Minute / time.Duration(cfg.MaxRequestsPerMinute),
		logger:     cfg.Logger,
		lastSweep:  time.Now(),
	}
}

func (rl *RateLimiter) Middleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if !rl.allow(c.IP()) {
			rl.logger.Warn("Rate limit exceeded",
				zap.String("ip", c.IP()),
				zap.String("path", c.Path()),
			)
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error": "Rate limit exceeded. Please try again later.",
			})
		}
		return c.Next()
	}
}

func (rl *RateLimiter) allow(key string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	rl.sweep(now)

	b, ok := rl.buckets[key]
	if !ok {
		b = &bucket{tokens: rl.maxTokens, lastRefill: now}
		rl.buckets[key] = b
	}

	refill := int(now.Sub(b.lastRefill) / rl.refillRate)
	if refill > 0 {
		b.tokens += refill
		if b.tokens > rl.maxTokens {
			b.tokens = rl.maxTokens
		}
		b.lastRefill = now
	}

	if b.tokens <= 0 {
		return false
	}
	b.tokens--
	return true
}

// sweep drops buckets idle long enough to be full again.
func (rl *RateLimiter) sweep(now time.Time) {
	if now.Sub(rl.lastSweep) < 5*time.Minute {
		return
	}
	for key, b := range rl.buckets {
		if now.Sub(b.lastRefill) > 10*time.Minute {
			delete(rl.buckets, key)
		}
	}
	rl.lastSweep = now
}
