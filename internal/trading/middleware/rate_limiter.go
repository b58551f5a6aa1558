// Package middleware holds gin middleware for the HTTP adapter.
package middleware

import (
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	apierrors "github.com/Aidin1998/pincex_matching/pkg/errors"
)

// RateLimitConfig defines rate limiting configuration
type RateLimitConfig struct {
	Enabled bool `mapstructure:"enabled"`

	// Per-IP limits
	IPRequestsPerSecond float64 `mapstructure:"ip_requests_per_second"`
	IPRequestBurst      int     `mapstructure:"ip_request_burst"`

	// Global limit on messages entering the engine
	GlobalOrdersPerSecond float64 `mapstructure:"global_orders_per_second"`
	GlobalOrderBurst      int     `mapstructure:"global_order_burst"`

	CleanupInterval time.Duration `mapstructure:"cleanup_interval"`
	LimiterTTL      time.Duration `mapstructure:"limiter_ttl"`
}

// DefaultRateLimitConfig returns default rate limiting configuration
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		IPRequestsPerSecond:   50,
		IPRequestBurst:        100,
		GlobalOrdersPerSecond: 10000,
		GlobalOrderBurst:      20000,
		CleanupInterval:       5 * time.Minute,
		LimiterTTL:            time.Hour,
	}
}

// ipLimiter tracks the rate of one client address
type ipLimiter struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// RateLimiter applies a token bucket per client IP and one global bucket
// for engine-bound requests.
type RateLimiter struct {
	config      RateLimitConfig
	logger      *zap.Logger
	globalOrder *rate.Limiter
	now         func() time.Time

	mu         sync.Mutex
	ipLimiters map[string]*ipLimiter

	stopChan chan struct{}
	wg       sync.WaitGroup
}

// NewRateLimiter creates a limiter and starts its cleanup loop.
func NewRateLimiter(config RateLimitConfig, logger *zap.Logger) *RateLimiter {
	rl := &RateLimiter{
		config:      config,
		logger:      logger,
		globalOrder: rate.NewLimiter(rate.Limit(config.GlobalOrdersPerSecond), config.GlobalOrderBurst),
		now:         time.Now,
		ipLimiters:  make(map[string]*ipLimiter),
		stopChan:    make(chan struct{}),
	}
	if config.CleanupInterval > 0 {
		rl.wg.Add(1)
		go rl.cleanupLoop()
	}
	return rl
}

// Stop stops the cleanup loop
func (rl *RateLimiter) Stop() {
	close(rl.stopChan)
	rl.wg.Wait()
}

func (rl *RateLimiter) cleanupLoop() {
	defer rl.wg.Done()
	ticker := time.NewTicker(rl.config.CleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			rl.cleanup()
		case <-rl.stopChan:
			return
		}
	}
}

// cleanup removes limiters unused for LimiterTTL
func (rl *RateLimiter) cleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	cutoff := rl.now().Add(-rl.config.LimiterTTL)
	for ip, l := range rl.ipLimiters {
		if l.lastAccess.Before(cutoff) {
			delete(rl.ipLimiters, ip)
		}
	}
	rl.logger.Debug("Rate limiter cleanup completed", zap.Int("active_ip_limiters", len(rl.ipLimiters)))
}

func (rl *RateLimiter) allowIP(ip string) bool {
	rl.mu.Lock()
	l, ok := rl.ipLimiters[ip]
	if !ok {
		l = &ipLimiter{limiter: rate.NewLimiter(rate.Limit(rl.config.IPRequestsPerSecond), rl.config.IPRequestBurst)}
		rl.ipLimiters[ip] = l
	}
	l.lastAccess = rl.now()
	rl.mu.Unlock()
	return l.limiter.Allow()
}

// RequestRateLimitMiddleware limits every request per client IP.
func (rl *RateLimiter) RequestRateLimitMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		ip := c.ClientIP()
		if !rl.allowIP(ip) {
			rl.reject(c, "request rate limit exceeded for "+ip, rl.config.IPRequestsPerSecond)
			return
		}
		c.Next()
	}
}

// OrderRateLimitMiddleware limits the total rate of engine-bound messages.
func (rl *RateLimiter) OrderRateLimitMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !rl.globalOrder.Allow() {
			rl.reject(c, "global order rate limit exceeded", rl.config.GlobalOrdersPerSecond)
			return
		}
		c.Next()
	}
}

func (rl *RateLimiter) reject(c *gin.Context, detail string, limit float64) {
	rl.logger.Warn("Rate limit exceeded", zap.String("ip", c.ClientIP()), zap.String("path", c.FullPath()))
	c.Header("X-RateLimit-Limit", strconv.Itoa(int(limit)))
	c.Header("X-RateLimit-Remaining", "0")
	c.Header("X-RateLimit-Reset", strconv.FormatInt(rl.now().Add(time.Second).Unix(), 10))
	c.Header("Content-Type", "application/problem+json")
	p := apierrors.NewRateLimitError(detail, c.Request.URL.Path)
	c.AbortWithStatusJSON(p.Status, p)
}
