package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	apperrors "github.com/caolabs/cao/internal/common/errors"
	"github.com/caolabs/cao/internal/terminal/models"
)

const (
	defaultInboxLimit = 10
	maxInboxLimit     = 100
)

// createInboxMessage queues a message for later delivery. The receiver
// must exist; delivery is handled by the scheduler, not here.
func (h *Handlers) createInboxMessage(c *gin.Context) {
	receiverID := c.Param("id")
	senderID := c.Query("sender_id")
	message := c.Query("message")
	if message == "" {
		respondError(c, h.logger, apperrors.InvalidArgument("message is required"))
		return
	}

	if _, err := h.repo.GetTerminal(c.Request.Context(), receiverID); err != nil {
		respondError(c, h.logger, err)
		return
	}

	msg := &models.InboxMessage{
		SenderID:   senderID,
		ReceiverID: receiverID,
		Message:    message,
		Status:     models.MessagePending,
		CreatedAt:  time.Now().UTC(),
	}
	if err := h.repo.CreateInboxMessage(c.Request.Context(), msg); err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, msg)
}

func (h *Handlers) listInboxMessages(c *gin.Context) {
	receiverID := c.Param("id")

	limit := defaultInboxLimit
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > maxInboxLimit {
			respondError(c, h.logger, apperrors.InvalidArgument("limit must be between 1 and 100"))
			return
		}
		limit = n
	}

	var status models.MessageStatus
	if v := c.Query("status"); v != "" {
		switch models.MessageStatus(v) {
		case models.MessagePending, models.MessageDelivered, models.MessageFailed:
			status = models.MessageStatus(v)
		default:
			respondError(c, h.logger, apperrors.InvalidArgument("unknown status: "+v))
			return
		}
	}

	messages, err := h.repo.ListInboxMessages(c.Request.Context(), receiverID, limit, status)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, messages)
}
