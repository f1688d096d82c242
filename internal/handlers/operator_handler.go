package handlers

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/seoulchess/backend/internal/services"
)

type OperatorHandler struct {
	operatorService  *services.OperatorService
	meetingService   *services.MeetingService
	userService      *services.UserService
	qrService        *services.QRService
	knowledgeService *services.KnowledgeService
	auditService     *services.AuditService
	knowledgePath    string
}

func NewOperatorHandler(operatorService *services.OperatorService, meetingService *services.MeetingService, userService *services.UserService, qrService *services.QRService, knowledgeService *services.KnowledgeService, auditService *services.AuditService, knowledgePath string) *OperatorHandler {
	return &OperatorHandler{
		operatorService:  operatorService,
		meetingService:   meetingService,
		userService:      userService,
		qrService:        qrService,
		knowledgeService: knowledgeService,
		auditService:     auditService,
		knowledgePath:    knowledgePath,
	}
}

// logAction records an operator action. Audit failures never fail the request.
func (h *OperatorHandler) logAction(c *gin.Context, action, targetType string, targetID uint, details map[string]interface{}) {
	if h.auditService == nil {
		return
	}
	_ = h.auditService.LogAction(c.Request.Context(), services.AuditEntry{
		OperatorID: c.GetUint("operatorID"),
		Action:     action,
		TargetType: targetType,
		TargetID:   targetID,
		Details:    details,
		IPAddress:  c.ClientIP(),
		UserAgent:  c.Request.UserAgent(),
	})
}

// Login handles operator login
// POST /operator/login
func (h *OperatorHandler) Login(c *gin.Context) {
	var req struct {
		Username string `json:"username" binding:"required"`
		Password string `json:"password" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	token, operator, err := h.operatorService.Login(c.Request.Context(), req.Username, req.Password)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"access_token": token,
		"token_type":   "bearer",
		"operator":     operator,
	})
}

// CreateMeeting handles meeting creation
// POST /operator/meetings
// Body: {"title": "...", "date_time": "2025-03-08T19:00:00+09:00", "location": "...", "capacity": 20}
func (h *OperatorHandler) CreateMeeting(c *gin.Context) {
	var req struct {
		Title    string    `json:"title" binding:"required"`
		DateTime time.Time `json:"date_time" binding:"required"`
		Location string    `json:"location" binding:"required"`
		Capacity int       `json:"capacity" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	meeting, err := h.meetingService.CreateMeeting(c.Request.Context(), services.MeetingInput{
		Title:    req.Title,
		DateTime: req.DateTime,
		Location: req.Location,
		Capacity: req.Capacity,
	})
	if err != nil {
		respondError(c, err)
		return
	}

	h.logAction(c, "create_meeting", "meeting", meeting.ID, map[string]interface{}{
		"title":    meeting.Title,
		"capacity": meeting.Capacity,
	})
	c.JSON(http.StatusCreated, meeting)
}

// ListUsers returns the member list for the dashboard
// GET /operator/users?page=1&page_size=50
func (h *OperatorHandler) ListUsers(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "50"))

	users, total, err := h.userService.List(c.Request.Context(), page, pageSize)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"users":     users,
		"total":     total,
		"page":      page,
		"page_size": pageSize,
	})
}

// GetRoster returns the meeting roster as JSON
func (h *OperatorHandler) GetRoster(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}

	meeting, err := h.meetingService.GetRoster(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, meeting)
}

// GetRosterPDF renders the meeting roster
// GET /operator/meetings/:id/roster.pdf
func (h *OperatorHandler) GetRosterPDF(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}

	meeting, err := h.meetingService.GetRoster(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}

	pdf, err := h.qrService.MeetingRosterPDF(meeting)
	if err != nil {
		respondError(c, err)
		return
	}

	c.Header("Content-Disposition", fmt.Sprintf("inline; filename=meeting-%d-roster.pdf", meeting.ID))
	c.Data(http.StatusOK, "application/pdf", pdf)
}

// ArchiveRoster stores the roster PDF in object storage and returns a
// temporary download link
// POST /operator/meetings/:id/roster/archive
func (h *OperatorHandler) ArchiveRoster(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}

	ctx := c.Request.Context()
	meeting, err := h.meetingService.GetRoster(ctx, id)
	if err != nil {
		respondError(c, err)
		return
	}

	archived, err := h.qrService.ArchiveRosterPDF(ctx, meeting)
	if err != nil {
		respondError(c, err)
		return
	}

	h.logAction(c, "archive_roster", "meeting", meeting.ID, map[string]interface{}{"key": archived.Key})
	c.JSON(http.StatusCreated, archived)
}

// CheckIn verifies a scanned registration QR code
// POST /operator/checkin
// Body: {"token": "..."}
func (h *OperatorHandler) CheckIn(c *gin.Context) {
	var req struct {
		Token string `json:"token" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	result, err := h.qrService.VerifyCheckIn(c.Request.Context(), req.Token)
	if err != nil {
		respondError(c, err)
		return
	}

	h.logAction(c, "check_in", "registration", result.Registration.ID, map[string]interface{}{
		"meeting_id": result.Registration.MeetingID,
		"valid":      result.Valid,
	})
	c.JSON(http.StatusOK, result)
}

// ReloadKnowledge re-embeds the chatbot knowledge base file
// POST /operator/knowledge/reload
func (h *OperatorHandler) ReloadKnowledge(c *gin.Context) {
	n, err := h.knowledgeService.LoadFile(c.Request.Context(), h.knowledgePath)
	if err != nil {
		respondError(c, err)
		return
	}

	h.logAction(c, "reload_knowledge", "knowledge", 0, map[string]interface{}{"chunks": n})
	c.JSON(http.StatusOK, gin.H{
		"message": "Knowledge base reloaded",
		"chunks":  n,
	})
}

// GetAuditLogs lists recent operator actions
// GET /operator/audit?page=1&limit=50&operator_id=1&action=check_in
func (h *OperatorHandler) GetAuditLogs(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	operatorID, _ := strconv.ParseUint(c.Query("operator_id"), 10, 64)

	logs, total, err := h.auditService.Recent(c.Request.Context(), page, limit, uint(operatorID), c.Query("action"))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"logs":  logs,
		"total": total,
		"page":  page,
		"limit": limit,
	})
}

// GetAuditStats
// GET /operator/audit/stats
func (h *OperatorHandler) GetAuditStats(c *gin.Context) {
	stats, err := h.auditService.Stats(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}
