package middleware

import (
	"fmt"
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/seoulchess/backend/internal/config"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// RateLimiter limits requests per client IP to cfg.RateLimitRequests per
// cfg.RateLimitDuration. Counters live in Redis; when Redis is missing or
// failing an in-process token bucket takes over.
func RateLimiter(redisClient *redis.Client, cfg *config.Config) gin.HandlerFunc {
	limit := cfg.RateLimitRequests
	window := cfg.RateLimitDuration
	local := newLocalLimiter(rate.Limit(float64(limit)/window.Seconds()), limit, 3*window)

	return func(c *gin.Context) {
		if limit <= 0 {
			c.Next()
			return
		}
		ctx := c.Request.Context()
		ip := c.ClientIP()
		c.Header("X-RateLimit-Limit", strconv.Itoa(limit))

		if redisClient != nil {
			key := fmt.Sprintf("rate_limit:%s", ip)
			count, err := redisClient.Incr(ctx, key).Result()
			if err == nil {
				if count == 1 {
					redisClient.Expire(ctx, key, window)
				}
				if count > int64(limit) {
					ttl, _ := redisClient.TTL(ctx, key).Result()
					if ttl < 0 {
						ttl = window
					}
					tooManyRequests(c, ttl)
					return
				}
				c.Header("X-RateLimit-Remaining", strconv.FormatInt(int64(limit)-count, 10))
				c.Next()
				return
			}
			zap.L().Warn("Redis rate limiter unavailable, using local limiter", zap.Error(err))
		}

		if !local.get(ip).Allow() {
			tooManyRequests(c, window/time.Duration(limit))
			return
		}
		c.Next()
	}
}

func tooManyRequests(c *gin.Context, retryAfter time.Duration) {
	seconds := int(math.Ceil(retryAfter.Seconds()))
	if seconds < 1 {
		seconds = 1
	}
	c.Header("X-RateLimit-Remaining", "0")
	c.Header("Retry-After", strconv.Itoa(seconds))
	c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
		"error":       "Too many requests",
		"code":        "rate_limited",
		"retry_after": seconds,
	})
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// localLimiter keeps one token bucket per client IP and forgets clients
// idle for longer than ttl.
type localLimiter struct {
	mu        sync.Mutex
	visitors  map[string]*visitor
	limit     rate.Limit
	burst     int
	ttl       time.Duration
	lastSweep time.Time
}

func newLocalLimiter(limit rate.Limit, burst int, ttl time.Duration) *localLimiter {
	return &localLimiter{
		visitors:  make(map[string]*visitor),
		limit:     limit,
		burst:     burst,
		ttl:       ttl,
		lastSweep: time.Now(),
	}
}

func (l *localLimiter) get(ip string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	if now.Sub(l.lastSweep) > l.ttl {
		for key, v := range l.visitors {
			if now.Sub(v.lastSeen) > l.ttl {
				delete(l.visitors, key)
			}
		}
		l.lastSweep = now
	}

	v, ok := l.visitors[ip]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.visitors[ip] = v
	}
	v.lastSeen = now
	return v.limiter
}
