package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/seoulchess/backend/internal/middleware"
	"github.com/seoulchess/backend/internal/models"
	"github.com/seoulchess/backend/internal/services"
)

type MeetingHandler struct {
	meetingService *services.MeetingService
}

func NewMeetingHandler(meetingService *services.MeetingService) *MeetingHandler {
	return &MeetingHandler{meetingService: meetingService}
}

// registrationRequest accepts the ids as a JSON body or as query
// parameters. An authenticated caller always acts as themselves.
type registrationRequest struct {
	UserID    uint `json:"user_id" form:"user_id"`
	MeetingID uint `json:"meeting_id" form:"meeting_id" binding:"required"`
}

func bindRegistrationRequest(c *gin.Context) (registrationRequest, bool) {
	var req registrationRequest
	var err error
	if c.ContentType() == binding.MIMEJSON && c.Request.ContentLength != 0 {
		err = c.ShouldBindJSON(&req)
	} else {
		err = c.ShouldBindQuery(&req)
	}
	if err != nil {
		badRequest(c, err.Error())
		return req, false
	}
	return req, true
}

func bindRegistration(c *gin.Context) (userID, meetingID uint, ok bool) {
	req, ok := bindRegistrationRequest(c)
	if !ok {
		return 0, 0, false
	}

	userID = req.UserID
	if id := middleware.UserID(c); id != 0 {
		userID = id
	}
	if userID == 0 {
		badRequest(c, "user_id is required")
		return 0, 0, false
	}
	return userID, req.MeetingID, true
}

// ListMeetings returns all meetings with participants and counts
func (h *MeetingHandler) ListMeetings(c *gin.Context) {
	meetings, err := h.meetingService.ListMeetings(c.Request.Context(), middleware.UserID(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, meetings)
}

// GetMeeting returns one meeting
func (h *MeetingHandler) GetMeeting(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}

	meeting, err := h.meetingService.GetMeeting(c.Request.Context(), id, middleware.UserID(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, meeting)
}

// Register confirms a seat
// POST /meetings/register
func (h *MeetingHandler) Register(c *gin.Context) {
	h.register(c, models.StatusConfirmed)
}

// RegisterInterest records a pending registration
// POST /meetings/register_interest
func (h *MeetingHandler) RegisterInterest(c *gin.Context) {
	h.register(c, models.StatusPending)
}

func (h *MeetingHandler) register(c *gin.Context, desired string) {
	userID, meetingID, ok := bindRegistration(c)
	if !ok {
		return
	}

	result, err := h.meetingService.Register(c.Request.Context(), userID, meetingID, desired)
	if err != nil {
		respondError(c, err)
		return
	}

	status := http.StatusCreated
	message := "Meeting registration successful"
	if desired == models.StatusPending {
		message = "Meeting interest registered successfully"
	}
	if !result.Created {
		status = http.StatusOK
		message = "Meeting registration reactivated successfully"
		if desired == models.StatusPending {
			message = "Meeting interest reactivated successfully"
		}
	}

	reg := result.Registration
	c.JSON(status, gin.H{
		"message":         message,
		"registration_id": reg.ID,
		"user_id":         reg.UserID,
		"meeting_id":      reg.MeetingID,
		"status":          reg.Status,
	})
}

// Cancel releases the caller's own registration. Any user_id in the
// request is ignored.
// POST /meetings/cancel
func (h *MeetingHandler) Cancel(c *gin.Context) {
	req, ok := bindRegistrationRequest(c)
	if !ok {
		return
	}

	reg, err := h.meetingService.Cancel(c.Request.Context(), middleware.UserID(c), req.MeetingID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message":         "Meeting registration cancelled",
		"registration_id": reg.ID,
		"user_id":         reg.UserID,
		"meeting_id":      reg.MeetingID,
		"status":          reg.Status,
	})
}
