package handler

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"healthcb/backend/internal/chathub"
	"healthcb/backend/internal/models"
)

// ServeStream upgrades the request to a websocket that carries the
// conversation's live events.
func (h *Handler) ServeStream(c *gin.Context) {
	claims := claimsFrom(c)
	conv := conversationFrom(c)

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		h.Log.Warn("stream upgrade failed", zap.String("conversation_sid", conv.SID), zap.Error(err))
		return
	}

	client := &chathub.WebSocketClient{
		ID:              uuid.NewString(),
		Identity:        claims.Identity,
		ConversationSID: conv.SID,
		Conn:            conn,
		Hub:             h.Hub,
		Send:            make(chan models.ConversationEvent, 256),
	}

	h.Hub.RegisterCh <- client
	client.Run()
}
