package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/lalith-99/echoroom/internal/middleware"
	"github.com/lalith-99/echoroom/internal/service"
	"go.uber.org/zap"
)

type MessageHandler struct {
	svc    *service.MessageService
	logger *zap.Logger
}

func NewMessageHandler(svc *service.MessageService, logger *zap.Logger) *MessageHandler {
	return &MessageHandler{svc: svc, logger: logger}
}

// Content is checked by the service (trim, non-empty, length), not by a
// binding tag, so whitespace-only content gets the same message as empty.
type contentRequest struct {
	Content string `json:"content"`
}

// List handles GET /api/messages. The whole room, oldest first.
func (h *MessageHandler) List(c *gin.Context) {
	messages, err := h.svc.List(c.Request.Context())
	if err != nil {
		respondError(c, h.logger, "list messages", err)
		return
	}
	c.JSON(http.StatusOK, messages)
}

// Create handles POST /api/messages
func (h *MessageHandler) Create(c *gin.Context) {
	var req contentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"msg": bindingMessage(err)})
		return
	}

	msg, err := h.svc.Create(c.Request.Context(), middleware.GetUserID(c), req.Content)
	if err != nil {
		respondError(c, h.logger, "create message", err)
		return
	}
	c.JSON(http.StatusCreated, msg)
}

// Update handles PATCH /api/messages/:id
func (h *MessageHandler) Update(c *gin.Context) {
	// An id that can't be a message id can't name an existing message.
	messageID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"msg": "Message not found"})
		return
	}

	var req contentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"msg": bindingMessage(err)})
		return
	}

	msg, err := h.svc.Edit(c.Request.Context(), middleware.GetUserID(c), messageID, req.Content)
	if err != nil {
		respondError(c, h.logger, "edit message", err)
		return
	}
	c.JSON(http.StatusOK, msg)
}

// Delete handles DELETE /api/messages/:id
func (h *MessageHandler) Delete(c *gin.Context) {
	messageID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"msg": "Message not found"})
		return
	}

	if err := h.svc.Delete(c.Request.Context(), middleware.GetUserID(c), messageID); err != nil {
		respondError(c, h.logger, "delete message", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"msg": "Message deleted"})
}
