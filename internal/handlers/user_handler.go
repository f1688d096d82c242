package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/seoulchess/backend/internal/middleware"
	"github.com/seoulchess/backend/internal/services"
)

type UserHandler struct {
	userService    *services.UserService
	meetingService *services.MeetingService
	qrService      *services.QRService
}

func NewUserHandler(userService *services.UserService, meetingService *services.MeetingService, qrService *services.QRService) *UserHandler {
	return &UserHandler{
		userService:    userService,
		meetingService: meetingService,
		qrService:      qrService,
	}
}

type registerUserRequest struct {
	Name            string  `json:"name" binding:"required"`
	PhoneNumber     string  `json:"phone_number" binding:"required"`
	Email           *string `json:"email"`
	Gender          string  `json:"gender" binding:"required"`
	BirthYear       *int    `json:"birth_year"`
	ChessExperience string  `json:"chess_experience" binding:"required"`
	ChessRating     *string `json:"chess_rating"`
}

// Register creates a member or refreshes a returning one
// POST /register
func (h *UserHandler) Register(c *gin.Context) {
	var req registerUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	user, _, err := h.userService.Register(c.Request.Context(), services.RegisterUserInput{
		Name:            req.Name,
		PhoneNumber:     req.PhoneNumber,
		Email:           req.Email,
		Gender:          req.Gender,
		BirthYear:       req.BirthYear,
		ChessExperience: req.ChessExperience,
		ChessRating:     req.ChessRating,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, user)
}

// GetByPhone recognizes returning visitors
// GET /users/by-phone?phone_number=...
func (h *UserHandler) GetByPhone(c *gin.Context) {
	phone := c.Query("phone_number")
	if phone == "" {
		badRequest(c, "phone_number is required")
		return
	}

	user, err := h.userService.GetByPhone(c.Request.Context(), phone)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, user)
}

// GetMe returns the authenticated user's profile
func (h *UserHandler) GetMe(c *gin.Context) {
	user, err := h.userService.GetByID(c.Request.Context(), middleware.UserID(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, user)
}

// UpdateProfile handles profile updates
// PUT /user/profile
func (h *UserHandler) UpdateProfile(c *gin.Context) {
	var req struct {
		Name            *string `json:"name"`
		Email           *string `json:"email"`
		Gender          *string `json:"gender"`
		BirthYear       *int    `json:"birth_year"`
		ChessExperience *string `json:"chess_experience"`
		ChessRating     *string `json:"chess_rating"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	user, err := h.userService.UpdateProfile(c.Request.Context(), middleware.UserID(c), services.ProfileUpdate{
		Name:            req.Name,
		Email:           req.Email,
		Gender:          req.Gender,
		BirthYear:       req.BirthYear,
		ChessExperience: req.ChessExperience,
		ChessRating:     req.ChessRating,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, user)
}

// GetMyMeetings lists the authenticated user's registrations
func (h *UserHandler) GetMyMeetings(c *gin.Context) {
	registrations, err := h.meetingService.UserMeetings(c.Request.Context(), middleware.UserID(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"meetings": registrations})
}

// GetRegistrationQR returns the check-in QR code for a confirmed registration
// GET /user/meetings/:id/qr.png
func (h *UserHandler) GetRegistrationQR(c *gin.Context) {
	meetingID, ok := paramID(c, "id")
	if !ok {
		return
	}

	reg, err := h.meetingService.GetRegistration(c.Request.Context(), middleware.UserID(c), meetingID)
	if err != nil {
		respondError(c, err)
		return
	}

	png, err := h.qrService.RegistrationQR(reg)
	if err != nil {
		respondError(c, err)
		return
	}

	c.Header("Cache-Control", "no-store")
	c.Data(http.StatusOK, "image/png", png)
}
