package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/seoulchess/backend/internal/services"
	"github.com/seoulchess/backend/pkg/validation"
)

type VerificationHandler struct {
	verificationService *services.VerificationService
	authService         *services.AuthService
}

func NewVerificationHandler(verificationService *services.VerificationService, authService *services.AuthService) *VerificationHandler {
	return &VerificationHandler{
		verificationService: verificationService,
		authService:         authService,
	}
}

// RequestCode handles SMS code requests
// POST /sms/request
// Body: {"phone_number": "010-1234-5678"}
func (h *VerificationHandler) RequestCode(c *gin.Context) {
	var req struct {
		PhoneNumber string `json:"phone_number" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	if err := h.verificationService.RequestCode(c.Request.Context(), req.PhoneNumber); err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "SMS sent successfully"})
}

// VerifyCode consumes a code and returns a phone token for login
// POST /sms/verify
// Body: {"phone_number": "...", "code": "123456"}
func (h *VerificationHandler) VerifyCode(c *gin.Context) {
	var req struct {
		PhoneNumber string `json:"phone_number" binding:"required"`
		Code        string `json:"code" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	if !validation.ValidateCode(req.Code) {
		respondError(c, services.ErrCodeInvalid)
		return
	}

	ctx := c.Request.Context()
	if err := h.verificationService.VerifyCode(ctx, req.PhoneNumber, req.Code); err != nil {
		respondError(c, err)
		return
	}

	phoneToken, err := h.authService.IssuePhoneToken(req.PhoneNumber)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message":      "Verification successful.",
		"phone_number": services.NormalizePhoneNumber(req.PhoneNumber),
		"phone_token":  phoneToken,
	})
}
