package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/sendlater/sendlater/internal/database"
)

// ScheduleMessageRequest is the payload for scheduling a message.
type ScheduleMessageRequest struct {
	ChannelID string    `json:"channel_id" binding:"required"`
	Text      string    `json:"text" binding:"required"`
	SendAt    time.Time `json:"send_at" binding:"required"`
	AsUser    bool      `json:"as_user"`
}

// MessageResponse is the API representation of a scheduled message.
type MessageResponse struct {
	ID        string    `json:"id"`
	ChannelID string    `json:"channel_id"`
	Text      string    `json:"text"`
	SendAt    time.Time `json:"send_at"`
	AsUser    bool      `json:"as_user"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

func toMessageResponse(m *database.ScheduledMessage) MessageResponse {
	return MessageResponse{
		ID:        m.ID,
		ChannelID: m.ChannelID,
		Text:      m.Text,
		SendAt:    m.SendAt,
		AsUser:    m.AsUser,
		Status:    string(m.Status),
		CreatedAt: m.CreatedAt,
	}
}

// handleScheduleMessage queues a message for future delivery.
func (s *Server) handleScheduleMessage(c *gin.Context) {
	var req ScheduleMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	key := tenantFrom(c)
	msg := &database.ScheduledMessage{
		WorkspaceID: key.WorkspaceID,
		UserID:      key.UserID,
		ChannelID:   req.ChannelID,
		Text:        req.Text,
		SendAt:      req.SendAt.UTC(),
		AsUser:      req.AsUser,
	}

	if err := s.store.CreateMessage(c.Request.Context(), msg); err != nil {
		s.logger.ErrorContext(c.Request.Context(), "Failed to create message",
			"workspace_id", key.WorkspaceID, "user_id", key.UserID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to schedule message"})
		return
	}

	s.logger.InfoContext(c.Request.Context(), "Message scheduled",
		"message_id", msg.ID, "workspace_id", key.WorkspaceID,
		"user_id", key.UserID, "send_at", msg.SendAt)

	c.JSON(http.StatusCreated, toMessageResponse(msg))
}

// handleListMessages returns the tenant's pending messages ordered by send
// time.
func (s *Server) handleListMessages(c *gin.Context) {
	key := tenantFrom(c)

	msgs, err := s.store.ListPendingMessages(c.Request.Context(), key)
	if err != nil {
		s.logger.ErrorContext(c.Request.Context(), "Failed to list messages",
			"workspace_id", key.WorkspaceID, "user_id", key.UserID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list messages"})
		return
	}

	resp := make([]MessageResponse, 0, len(msgs))
	for i := range msgs {
		resp = append(resp, toMessageResponse(&msgs[i]))
	}
	c.JSON(http.StatusOK, resp)
}

// handleCancelMessage deletes a message that is still pending. Messages
// belonging to other tenants are reported as not found.
func (s *Server) handleCancelMessage(c *gin.Context) {
	key := tenantFrom(c)
	id := c.Param("id")

	msg, err := s.store.GetMessage(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "message not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to cancel message"})
		return
	}
	if msg.Tenant() != key {
		c.JSON(http.StatusNotFound, gin.H{"error": "message not found"})
		return
	}

	if err := s.store.CancelMessage(c.Request.Context(), id); err != nil {
		switch {
		case errors.Is(err, database.ErrNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "message not found"})
		case errors.Is(err, database.ErrInvalidState):
			c.JSON(http.StatusConflict, gin.H{"error": "message is no longer pending"})
		default:
			s.logger.ErrorContext(c.Request.Context(), "Failed to cancel message",
				"message_id", id, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to cancel message"})
		}
		return
	}

	s.logger.InfoContext(c.Request.Context(), "Message cancelled", "message_id", id)
	c.JSON(http.StatusOK, gin.H{"status": "cancelled"})
}

// handleDisconnect removes the tenant's credentials and all of their queued
// messages.
func (s *Server) handleDisconnect(c *gin.Context) {
	key := tenantFrom(c)
	ctx := c.Request.Context()

	if err := s.store.DeleteCredential(ctx, key); err != nil {
		s.logger.ErrorContext(ctx, "Failed to delete credential",
			"workspace_id", key.WorkspaceID, "user_id", key.UserID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to disconnect"})
		return
	}

	removed, err := s.store.DeleteMessagesForTenant(ctx, key)
	if err != nil {
		s.logger.ErrorContext(ctx, "Failed to delete tenant messages",
			"workspace_id", key.WorkspaceID, "user_id", key.UserID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to disconnect"})
		return
	}

	s.logger.InfoContext(ctx, "Tenant disconnected",
		"workspace_id", key.WorkspaceID, "user_id", key.UserID,
		"messages_removed", removed)

	c.JSON(http.StatusOK, gin.H{
		"status":           "disconnected",
		"messages_removed": removed,
	})
}
