package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/seoulchess/backend/internal/middleware"
	"github.com/seoulchess/backend/internal/services"
)

// AppleTokenVerifier checks Sign in with Apple identity tokens.
type AppleTokenVerifier interface {
	Verify(ctx context.Context, identityToken string, userInfo *services.AppleUserInfo) (*services.SocialIdentity, error)
}

// KakaoTokenVerifier exchanges a Kakao access token for the user's identity.
type KakaoTokenVerifier interface {
	Verify(ctx context.Context, accessToken string) (*services.SocialIdentity, error)
}

type AuthHandler struct {
	authService *services.AuthService
	apple       AppleTokenVerifier
	kakao       KakaoTokenVerifier
}

func NewAuthHandler(authService *services.AuthService, apple AppleTokenVerifier, kakao KakaoTokenVerifier) *AuthHandler {
	return &AuthHandler{
		authService: authService,
		apple:       apple,
		kakao:       kakao,
	}
}

// Login exchanges a verified phone token for a session
// POST /auth/login
func (h *AuthHandler) Login(c *gin.Context) {
	var req struct {
		PhoneNumber string `json:"phone_number" binding:"required"`
		PhoneToken  string `json:"phone_token" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	result, err := h.authService.LoginWithPhone(c.Request.Context(), req.PhoneNumber, req.PhoneToken)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// Refresh handles token refresh
func (h *AuthHandler) Refresh(c *gin.Context) {
	var req struct {
		RefreshToken string `json:"refresh_token" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	tokens, err := h.authService.Refresh(c.Request.Context(), req.RefreshToken)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, tokens)
}

// Logout handles user logout
func (h *AuthHandler) Logout(c *gin.Context) {
	if err := h.authService.Logout(c.Request.Context(), middleware.UserID(c), c.GetString("accessToken")); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Logged out successfully"})
}

// AppleLogin handles Sign in with Apple
// POST /auth/apple
// Body: {"identity_token": "...", "user_info": {"name": {"firstName": "...", "lastName": "..."}}}
func (h *AuthHandler) AppleLogin(c *gin.Context) {
	var req struct {
		IdentityToken string                  `json:"identity_token" binding:"required"`
		UserInfo      *services.AppleUserInfo `json:"user_info"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	ctx := c.Request.Context()
	identity, err := h.apple.Verify(ctx, req.IdentityToken, req.UserInfo)
	if err != nil {
		respondError(c, err)
		return
	}

	result, err := h.authService.SocialLogin(ctx, *identity)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// KakaoLogin handles Kakao login
// POST /auth/kakao
// Body: {"access_token": "..."}
func (h *AuthHandler) KakaoLogin(c *gin.Context) {
	var req struct {
		AccessToken string `json:"access_token" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	ctx := c.Request.Context()
	identity, err := h.kakao.Verify(ctx, req.AccessToken)
	if err != nil {
		respondError(c, err)
		return
	}

	result, err := h.authService.SocialLogin(ctx, *identity)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}
