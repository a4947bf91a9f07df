package middleware

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
)

// RateLimitConfig holds rate limiting configuration.
type RateLimitConfig struct {
	RequestsPerSecond float64
	BurstSize         int

	// ExpiresIn drops a caller's bucket after this long without requests.
	// Zero means DefaultRateLimitExpiry.
	ExpiresIn time.Duration
}

// DefaultRateLimitExpiry is how long an idle bucket is kept.
const DefaultRateLimitExpiry = 3 * time.Minute

// DefaultRateLimitConfig returns default rate limiting settings.
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		RequestsPerSecond: 20,
		BurstSize:         60,
		ExpiresIn:         DefaultRateLimitExpiry,
	}
}

// tokenBucket implements a token bucket rate limiter.
type tokenBucket struct {
	tokens     float64
	maxTokens  float64
	refillRate float64    // tokens per second
	lastRefill time.Time
	mu         sync.Mutex
}

func newTokenBucket(rate float64, burst int) *tokenBucket {
	return &tokenBucket{
		tokens:     float64(burst),
		maxTokens:  float64(burst),
		refillRate: rate,
		lastRefill: time.Now(),
	}
}

func (b *tokenBucket) allow() bool {
	return b.allowAt(time.Now())
}

func (b *tokenBucket) allowAt(now time.Time) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	elapsed := now.Sub(b.lastRefill).Seconds()
	b.tokens += elapsed * b.refillRate
	if b.tokens > b.maxTokens {
		b.tokens = b.maxTokens
	}
	b.lastRefill = now

	if b.tokens >= 1 {
		b.tokens--
		return true
	}
	return false
}

func (b *tokenBucket) idleSince(now time.Time) time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	return now.Sub(b.lastRefill)
}

func (b *tokenBucket) retryAfter() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.refillRate <= 0 {
		return 1
	}
	return int((1-b.tokens)/b.refillRate) + 1
}

// rateLimiterStore holds per-key token buckets. Buckets idle for longer than
// ExpiresIn are swept when a new key is added, at most once per ExpiresIn.
type rateLimiterStore struct {
	buckets     map[string]*tokenBucket
	mu          sync.RWMutex
	config      RateLimitConfig
	lastCleanup time.Time
	now         func() time.Time
}

func newRateLimiterStore(cfg RateLimitConfig) *rateLimiterStore {
	if cfg.ExpiresIn <= 0 {
		cfg.ExpiresIn = DefaultRateLimitExpiry
	}
	return &rateLimiterStore{
		buckets:     make(map[string]*tokenBucket),
		config:      cfg,
		lastCleanup: time.Now(),
		now:         time.Now,
	}
}

// cleanup must be called with s.mu held for writing.
func (s *rateLimiterStore) cleanup(now time.Time) {
	if now.Sub(s.lastCleanup) < s.config.ExpiresIn {
		return
	}
	for key, b := range s.buckets {
		if b.idleSince(now) > s.config.ExpiresIn {
			delete(s.buckets, key)
		}
	}
	s.lastCleanup = now
}

func (s *rateLimiterStore) getBucket(key string) *tokenBucket {
	s.mu.RLock()
	bucket, ok := s.buckets[key]
	s.mu.RUnlock()
	if ok {
		return bucket
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	// Double-check after acquiring write lock
	if bucket, ok := s.buckets[key]; ok {
		return bucket
	}
	now := s.now()
	s.cleanup(now)
	bucket = newTokenBucket(s.config.RequestsPerSecond, s.config.BurstSize)
	bucket.lastRefill = now
	s.buckets[key] = bucket
	return bucket
}

// RateLimit returns a rate limiting middleware. Signed-in users are limited
// per user id, anonymous callers per client IP.
func RateLimit(cfg RateLimitConfig) echo.MiddlewareFunc {
	store := newRateLimiterStore(cfg)
	limit := strconv.FormatFloat(cfg.RequestsPerSecond, 'f', 0, 64)

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			key := "ip:" + c.RealIP()
			if uid, _ := c.Get("user_id").(string); uid != "" {
				key = "user:" + uid
			}

			bucket := store.getBucket(key)
			if !bucket.allow() {
				c.Response().Header().Set("Retry-After", strconv.Itoa(bucket.retryAfter()))
				c.Response().Header().Set("X-RateLimit-Limit", limit)
				c.Response().Header().Set("X-RateLimit-Remaining", "0")
				return c.JSON(http.StatusTooManyRequests, map[string]string{"detail": "Demasiadas solicitudes. Intenta de nuevo en unos segundos."})
			}

			c.Response().Header().Set("X-RateLimit-Limit", limit)
			return next(c)
		}
	}
}
