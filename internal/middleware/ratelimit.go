// ratelimit.go provides Gin middleware that enforces per-client token-bucket rate limits,
// returning 429 responses when the configured requests-per-minute threshold is exceeded.
// Limits are kept in process memory, or in Redis (go-redis/redis_rate) when the console
// runs as several replicas behind a load balancer.
package middleware

import (
	"context"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis_rate/v10"
	"github.com/redis/go-redis/v9"

	"github.com/orion-pds/orion/internal/config"
	"github.com/orion-pds/orion/internal/telemetry"
)

// RateLimitConfig holds configuration for rate limiting
type RateLimitConfig struct {
	// RequestsPerMinute is the sustained rate allowed per client
	RequestsPerMinute int
	// BurstSize is the maximum burst of requests allowed
	BurstSize int
	// CleanupInterval is how often the in-memory limiter drops idle clients
	CleanupInterval time.Duration
}

// RateLimitConfigFrom builds the general console limit from configuration.
func RateLimitConfigFrom(cfg config.RateLimitingConfig) RateLimitConfig {
	return RateLimitConfig{
		RequestsPerMinute: cfg.RequestsPerMinute,
		BurstSize:         cfg.Burst,
		CleanupInterval:   5 * time.Minute,
	}
}

// LoginRateLimitConfig returns the stricter limit applied to login submissions.
func LoginRateLimitConfig(cfg config.RateLimitingConfig) RateLimitConfig {
	rpm := cfg.LoginRequestsPerMinute
	if rpm <= 0 {
		rpm = 10
	}
	return RateLimitConfig{
		RequestsPerMinute: rpm,
		BurstSize:         min(5, rpm),
		CleanupInterval:   5 * time.Minute,
	}
}

// Decision is the outcome of one rate limit check.
type Decision struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration
}

// Limiter decides whether a request identified by key may proceed.
type Limiter interface {
	Take(ctx context.Context, key string) (Decision, error)
	// Limit is the configured requests per minute, reported in X-RateLimit-Limit.
	Limit() int
}

// rateLimitEntry tracks request counts for a single client
type rateLimitEntry struct {
	tokens     float64
	lastUpdate time.Time
}

// RateLimiter implements an in-memory token bucket rate limiter
type RateLimiter struct {
	config  RateLimitConfig
	entries map[string]*rateLimitEntry
	mu      sync.RWMutex
	stopCh  chan struct{}
}

// NewRateLimiter creates a new rate limiter with the given config
func NewRateLimiter(config RateLimitConfig) *RateLimiter {
	if config.CleanupInterval <= 0 {
		config.CleanupInterval = 5 * time.Minute
	}
	rl := &RateLimiter{
		config:  config,
		entries: make(map[string]*rateLimitEntry),
		stopCh:  make(chan struct{}),
	}

	go rl.cleanup()

	return rl
}

// cleanup periodically removes idle entries
func (rl *RateLimiter) cleanup() {
	ticker := time.NewTicker(rl.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.mu.Lock()
			now := time.Now()
			for key, entry := range rl.entries {
				if now.Sub(entry.lastUpdate) > 10*time.Minute {
					delete(rl.entries, key)
				}
			}
			rl.mu.Unlock()
		case <-rl.stopCh:
			return
		}
	}
}

// Stop stops the cleanup goroutine
func (rl *RateLimiter) Stop() {
	close(rl.stopCh)
}

func (rl *RateLimiter) tokensPerSecond() float64 {
	return float64(rl.config.RequestsPerMinute) / 60.0
}

// Allow checks if a request from the given key should be allowed
func (rl *RateLimiter) Allow(key string) bool {
	d, _ := rl.Take(context.Background(), key)
	return d.Allowed
}

// Take consumes a token for key if one is available.
func (rl *RateLimiter) Take(_ context.Context, key string) (Decision, error) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	entry, exists := rl.entries[key]
	if !exists {
		// New client, give them full burst
		entry = &rateLimitEntry{tokens: float64(rl.config.BurstSize), lastUpdate: now}
		rl.entries[key] = entry
	} else {
		elapsed := now.Sub(entry.lastUpdate)
		entry.tokens = math.Min(float64(rl.config.BurstSize), entry.tokens+elapsed.Seconds()*rl.tokensPerSecond())
		entry.lastUpdate = now
	}

	if entry.tokens >= 1 {
		entry.tokens--
		return Decision{Allowed: true, Remaining: int(entry.tokens)}, nil
	}

	retry := time.Minute
	if rate := rl.tokensPerSecond(); rate > 0 {
		retry = time.Duration((1 - entry.tokens) / rate * float64(time.Second))
	}
	return Decision{Allowed: false, Remaining: 0, RetryAfter: retry}, nil
}

// RemainingTokens returns how many tokens are left for a key
func (rl *RateLimiter) RemainingTokens(key string) int {
	rl.mu.RLock()
	defer rl.mu.RUnlock()

	entry, exists := rl.entries[key]
	if !exists {
		return rl.config.BurstSize
	}

	elapsed := time.Since(entry.lastUpdate)
	return int(math.Min(float64(rl.config.BurstSize), entry.tokens+elapsed.Seconds()*rl.tokensPerSecond()))
}

// Limit implements Limiter.
func (rl *RateLimiter) Limit() int {
	return rl.config.RequestsPerMinute
}

// RedisRateLimiter shares buckets between replicas through Redis using the
// GCRA implementation of go-redis/redis_rate.
type RedisRateLimiter struct {
	limiter *redis_rate.Limiter
	limit   redis_rate.Limit
	prefix  string
}

// NewRedisRateLimiter creates a limiter whose keys are namespaced by prefix.
func NewRedisRateLimiter(client redis.UniversalClient, prefix string, config RateLimitConfig) *RedisRateLimiter {
	return &RedisRateLimiter{
		limiter: redis_rate.NewLimiter(client),
		limit: redis_rate.Limit{
			Rate:   config.RequestsPerMinute,
			Burst:  config.BurstSize,
			Period: time.Minute,
		},
		prefix: prefix,
	}
}

// Take implements Limiter.
func (l *RedisRateLimiter) Take(ctx context.Context, key string) (Decision, error) {
	res, err := l.limiter.Allow(ctx, l.prefix+key, l.limit)
	if err != nil {
		return Decision{}, err
	}
	return Decision{
		Allowed:    res.Allowed > 0,
		Remaining:  res.Remaining,
		RetryAfter: res.RetryAfter,
	}, nil
}

// Limit implements Limiter.
func (l *RedisRateLimiter) Limit() int {
	return l.limit.Rate
}

// RateLimitMiddleware creates a Gin middleware that rate limits requests
func RateLimitMiddleware(limiter Limiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !enforce(c, limiter) {
			return
		}
		c.Next()
	}
}

// LoginRateLimitMiddleware limits login form submissions (POST only) per
// client address. Rejections are counted as rate_limited login attempts.
func LoginRateLimitMiddleware(limiter Limiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Method != http.MethodPost {
			c.Next()
			return
		}
		if !enforce(c, limiter) {
			telemetry.LoginAttemptsTotal.WithLabelValues("rate_limited").Inc()
			return
		}
		c.Next()
	}
}

// enforce applies limiter to the current request and writes the 429 response
// when it is rejected. A failing backend lets the request through.
func enforce(c *gin.Context, limiter Limiter) bool {
	key := getRateLimitKey(c)

	d, err := limiter.Take(c.Request.Context(), key)
	if err != nil {
		slog.Warn("rate limiter unavailable, allowing request", "key", key, "error", err)
		return true
	}

	c.Header("X-RateLimit-Limit", strconv.Itoa(limiter.Limit()))
	c.Header("X-RateLimit-Remaining", strconv.Itoa(max(d.Remaining, 0)))

	if !d.Allowed {
		retryAfter := int(math.Ceil(d.RetryAfter.Seconds()))
		if retryAfter < 1 {
			retryAfter = 1
		}
		c.Header("Retry-After", strconv.Itoa(retryAfter))
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
			"error":       "Rate limit exceeded",
			"retry_after": retryAfter,
		})
		return false
	}
	return true
}

// getRateLimitKey determines the key to use for rate limiting
// Priority: user_id > IP address
func getRateLimitKey(c *gin.Context) string {
	if userID, exists := c.Get(UserIDKey); exists {
		if id, ok := userID.(string); ok && id != "" {
			return "user:" + id
		}
	}

	ip := c.ClientIP()
	if ip == "" {
		ip = c.Request.RemoteAddr
	}
	return "ip:" + ip
}
