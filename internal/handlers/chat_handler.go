package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/seoulchess/backend/internal/services"
)

type ChatHandler struct {
	chatService *services.ChatService
}

func NewChatHandler(chatService *services.ChatService) *ChatHandler {
	return &ChatHandler{chatService: chatService}
}

// Chat answers a club question
// POST /chat
// Body: {"message": "...", "conversation_history": [{"role": "user", "content": "..."}]}
func (h *ChatHandler) Chat(c *gin.Context) {
	var req struct {
		Message             string              `json:"message" binding:"required"`
		ConversationHistory []services.ChatTurn `json:"conversation_history"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	reply, err := h.chatService.Chat(c.Request.Context(), req.Message, req.ConversationHistory)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"response":  reply,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// ParseCS structures a customer-support text
// POST /parse_cs
// Body: {"text": "..."}
func (h *ChatHandler) ParseCS(c *gin.Context) {
	var req struct {
		Text string `json:"text" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	result, err := h.chatService.ParseCS(c.Request.Context(), req.Text)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}
