package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	jwtpkg "github.com/seoulchess/backend/pkg/jwt"
	"go.uber.org/zap"
)

// AccessTokenValidator validates member access tokens.
type AccessTokenValidator interface {
	ValidateAccessToken(ctx context.Context, token string) (*jwtpkg.Claims, error)
}

// OperatorTokenValidator validates operator tokens.
type OperatorTokenValidator interface {
	ValidateToken(token string) (*jwtpkg.Claims, error)
}

// Auth requires a valid access token and sets userID and accessToken.
func Auth(validator AccessTokenValidator) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := bearerToken(c)
		if token == "" {
			unauthorized(c, "Authorization header required")
			return
		}

		claims, err := validator.ValidateAccessToken(c.Request.Context(), token)
		if err != nil {
			zap.L().Debug("Rejected access token", zap.Error(err), zap.String("request_id", c.GetString("requestID")))
			unauthorized(c, "Invalid or expired token")
			return
		}

		c.Set("userID", claims.UserID)
		c.Set("accessToken", token)
		c.Next()
	}
}

// OptionalAuth sets userID when a valid access token is present and lets
// anonymous requests through otherwise.
func OptionalAuth(validator AccessTokenValidator) gin.HandlerFunc {
	return func(c *gin.Context) {
		if token := bearerToken(c); token != "" {
			if claims, err := validator.ValidateAccessToken(c.Request.Context(), token); err == nil {
				c.Set("userID", claims.UserID)
				c.Set("accessToken", token)
			}
		}
		c.Next()
	}
}

// OperatorOnly requires an operator token and sets operatorID.
func OperatorOnly(validator OperatorTokenValidator) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := bearerToken(c)
		if token == "" {
			unauthorized(c, "Authorization header required")
			return
		}

		claims, err := validator.ValidateToken(token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error":      "Operator access required",
				"code":       "forbidden",
				"request_id": c.GetString("requestID"),
			})
			return
		}

		c.Set("operatorID", claims.OperatorID)
		c.Next()
	}
}

// TokenFromQuery copies a ?token= query parameter into the Authorization
// header so <img> and download links work with the auth middleware.
func TokenFromQuery() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.GetHeader("Authorization") == "" {
			if token := c.Query("token"); token != "" {
				c.Request.Header.Set("Authorization", "Bearer "+token)
			}
		}
		c.Next()
	}
}

// UserID returns the authenticated user, zero for anonymous requests.
func UserID(c *gin.Context) uint {
	if v, ok := c.Get("userID"); ok {
		if id, ok := v.(uint); ok {
			return id
		}
	}
	return 0
}

func bearerToken(c *gin.Context) string {
	header := c.GetHeader("Authorization")
	if len(header) < 7 || !strings.EqualFold(header[:7], "bearer ") {
		return ""
	}
	return strings.TrimSpace(header[7:])
}

func unauthorized(c *gin.Context, msg string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
		"error":      msg,
		"code":       "unauthorized",
		"request_id": c.GetString("requestID"),
	})
}
