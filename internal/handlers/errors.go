package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/seoulchess/backend/internal/services"
	"go.uber.org/zap"
)

// statusFor maps a service error to its HTTP status.
func statusFor(err *services.Error) int {
	switch err.Kind {
	case services.KindConflict, services.KindIntegrity:
		return http.StatusConflict
	case services.KindNotFound:
		// An unknown verification code is a bad request, not a missing resource
		if errors.Is(err, services.ErrCodeInvalid) {
			return http.StatusBadRequest
		}
		return http.StatusNotFound
	case services.KindExpired, services.KindInvalid:
		return http.StatusBadRequest
	case services.KindRateLimited:
		return http.StatusTooManyRequests
	case services.KindCapacity:
		return http.StatusForbidden
	case services.KindUnauthorized:
		return http.StatusUnauthorized
	case services.KindUnavailable:
		return http.StatusServiceUnavailable
	case services.KindUpstream:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// respondError writes err as {error, code} plus retry_after or capacity
// where they apply. Untyped errors are reported as internal.
func respondError(c *gin.Context, err error) {
	var svcErr *services.Error
	if !errors.As(err, &svcErr) {
		svcErr = &services.Error{Kind: services.KindInternal, Code: "internal", Message: "Internal error", Err: err}
	}

	status := statusFor(svcErr)
	body := gin.H{"error": svcErr.Message, "code": svcErr.Code}

	switch svcErr.Kind {
	case services.KindRateLimited:
		body["retry_after"] = svcErr.RetryAfter
		c.Header("Retry-After", strconv.Itoa(svcErr.RetryAfter))
	case services.KindCapacity:
		body["capacity"] = svcErr.Capacity
	case services.KindInternal:
		body["error"] = "Internal server error"
	}

	requestID := c.GetString("requestID")
	if requestID != "" {
		body["request_id"] = requestID
	}

	if status >= http.StatusInternalServerError {
		zap.L().Error("Request failed",
			zap.String("code", svcErr.Code),
			zap.Error(err),
			zap.String("request_id", requestID),
			zap.String("path", c.FullPath()),
		)
	}

	c.AbortWithStatusJSON(status, body)
}

func badRequest(c *gin.Context, msg string) {
	c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": msg, "code": "invalid_input"})
}

func paramID(c *gin.Context, name string) (uint, bool) {
	id, err := strconv.ParseUint(c.Param(name), 10, 64)
	if err != nil || id == 0 {
		badRequest(c, "Invalid "+name)
		return 0, false
	}
	return uint(id), true
}
