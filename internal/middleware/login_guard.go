package middleware

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// LoginGuard blocks a client IP from a login route after maxFailures
// unauthorized responses inside window. The block lasts blockFor and a
// successful login clears the failure count.
func LoginGuard(redisClient *redis.Client, name string, maxFailures int, window, blockFor time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		if redisClient == nil || maxFailures <= 0 {
			c.Next()
			return
		}

		ctx := c.Request.Context()
		ip := c.ClientIP()
		blockKey := fmt.Sprintf("login_blocked:%s:%s", name, ip)
		failKey := fmt.Sprintf("login_failures:%s:%s", name, ip)

		if blocked, err := redisClient.Exists(ctx, blockKey).Result(); err == nil && blocked > 0 {
			ttl, _ := redisClient.TTL(ctx, blockKey).Result()
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":                 "Too many failed login attempts. Please try again later.",
				"code":                  "login_blocked",
				"blocked_until_minutes": int(ttl.Minutes()),
			})
			return
		}

		c.Next()

		switch c.Writer.Status() {
		case http.StatusOK:
			redisClient.Del(ctx, failKey)
		case http.StatusUnauthorized:
			count, err := redisClient.Incr(ctx, failKey).Result()
			if err != nil {
				return
			}
			if count == 1 {
				redisClient.Expire(ctx, failKey, window)
			}
			if count >= int64(maxFailures) {
				redisClient.Set(ctx, blockKey, "1", blockFor)
				redisClient.Del(ctx, failKey)
				zap.L().Warn("Login temporarily blocked", zap.String("route", name), zap.String("ip", ip))
			}
		}
	}
}
