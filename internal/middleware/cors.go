package middleware

import (
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/seoulchess/backend/internal/config"
)

// CORS allows the configured origins. Any origin is accepted in
// development.
func CORS(cfg *config.Config) gin.HandlerFunc {
	allowed := make(map[string]struct{}, len(cfg.AllowedOrigins))
	for _, o := range cfg.AllowedOrigins {
		allowed[normalizeOrigin(o)] = struct{}{}
	}
	development := cfg.Env == "development"

	return cors.New(cors.Config{
		AllowOriginFunc: func(origin string) bool {
			if _, ok := allowed[normalizeOrigin(origin)]; ok {
				return true
			}
			return development
		},
		AllowMethods:     cfg.AllowedMethods,
		AllowHeaders:     append([]string{"Origin", "Accept", RequestIDHeader}, cfg.AllowedHeaders...),
		ExposeHeaders:    []string{"Content-Length", RequestIDHeader, "X-RateLimit-Limit", "X-RateLimit-Remaining", "Retry-After"},
		AllowCredentials: true,
		MaxAge:           24 * time.Hour,
	})
}

func normalizeOrigin(origin string) string {
	return strings.TrimRight(strings.TrimSpace(origin), "/")
}
