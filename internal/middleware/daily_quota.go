package middleware

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// DailyQuota caps how often one client IP may call the wrapped routes per
// calendar day. The counter key is quota:{name}:{ip}:{date} and expires at
// midnight. A nil client or limit of zero disables the quota.
func DailyQuota(redisClient *redis.Client, name string, limit int, now func() time.Time) gin.HandlerFunc {
	if now == nil {
		now = time.Now
	}
	return func(c *gin.Context) {
		if redisClient == nil || limit <= 0 {
			c.Next()
			return
		}

		ctx := c.Request.Context()
		t := now()
		key := fmt.Sprintf("quota:%s:%s:%s", name, c.ClientIP(), t.Format("2006-01-02"))

		count, err := redisClient.Incr(ctx, key).Result()
		if err != nil {
			// Redis error, don't block the request
			zap.L().Warn("Daily quota check failed", zap.String("quota", name), zap.Error(err))
			c.Next()
			return
		}
		if count == 1 {
			midnight := time.Date(t.Year(), t.Month(), t.Day()+1, 0, 0, 0, 0, t.Location())
			redisClient.Expire(ctx, key, midnight.Sub(t))
		}

		if count > int64(limit) {
			ttl, _ := redisClient.TTL(ctx, key).Result()
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":             "Daily limit reached, please try again tomorrow",
				"code":              "daily_quota_exceeded",
				"retry_after_hours": int(ttl.Hours()),
				"max_per_day":       limit,
			})
			return
		}

		c.Next()
	}
}
