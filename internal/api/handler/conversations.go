package handler

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"healthcb/backend/internal/config"
	"healthcb/backend/internal/models"
	"healthcb/backend/internal/storage"
)

// loadConversation resolves :sid and checks it belongs to the token's room.
func (h *Handler) loadConversation(c *gin.Context) {
	sid := c.Param("sid")
	conv, err := h.Storage.GetConversationBySID(sid)
	if errors.Is(err, storage.ErrNotFound) {
		respondError(c, http.StatusNotFound, config.CodeNotFound, "conversation not found")
		return
	}
	if err != nil {
		h.Log.Error("conversation lookup failed", zap.String("conversation_sid", sid), zap.Error(err))
		respondError(c, http.StatusInternalServerError, 0, "failed to load conversation")
		return
	}
	if conv.UniqueName != claimsFrom(c).Room {
		respondError(c, http.StatusForbidden, config.CodeNotAuthorized, "conversation belongs to another room")
		return
	}
	c.Set(conversationKey, conv)
	c.Next()
}

// requireParticipant aborts unless the caller is a participant of the conversation.
func (h *Handler) requireParticipant(c *gin.Context, conv *models.Conversation) bool {
	identity := claimsFrom(c).Identity
	ok, err := h.Storage.IsParticipant(conv.SID, identity)
	if err != nil {
		h.Log.Error("participant check failed", zap.String("conversation_sid", conv.SID), zap.Error(err))
		respondError(c, http.StatusInternalServerError, 0, "failed to check participants")
		return false
	}
	if !ok {
		respondError(c, http.StatusForbidden, config.CodeNotAuthorized, "identity is not a participant of this conversation")
		return false
	}
	return true
}

func (h *Handler) GetConversationByName(c *gin.Context) {
	name := c.Param("name")
	if name != claimsFrom(c).Room {
		respondError(c, http.StatusForbidden, config.CodeNotAuthorized, "conversation belongs to another room")
		return
	}

	conv, err := h.Storage.GetConversationByUniqueName(name)
	if errors.Is(err, storage.ErrNotFound) {
		h.Metrics.Conversation("lookup", "not_found")
		respondError(c, http.StatusNotFound, config.CodeNotFound, "conversation not found")
		return
	}
	if err != nil {
		h.Log.Error("conversation lookup failed", zap.String("unique_name", name), zap.Error(err))
		respondError(c, http.StatusInternalServerError, 0, "failed to load conversation")
		return
	}
	h.Metrics.Conversation("lookup", "ok")
	c.JSON(http.StatusOK, conv)
}

func (h *Handler) GetConversation(c *gin.Context) {
	c.JSON(http.StatusOK, conversationFrom(c))
}

type createConversationRequest struct {
	UniqueName   string `json:"unique_name" binding:"required"`
	FriendlyName string `json:"friendly_name"`
}

// CreateConversation creates the room's conversation. A second create for the
// same unique name is answered with 409 and code 50408.
func (h *Handler) CreateConversation(c *gin.Context) {
	claims := claimsFrom(c)

	var req createConversationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, 0, "unique_name is required")
		return
	}
	if req.UniqueName != claims.Room {
		respondError(c, http.StatusForbidden, config.CodeNotAuthorized, "conversation must be named after the token's room")
		return
	}

	conv := &models.Conversation{
		UniqueName:   req.UniqueName,
		FriendlyName: req.FriendlyName,
		CreatedBy:    claims.Identity,
	}
	if conv.FriendlyName == "" {
		conv.FriendlyName = "Room " + req.UniqueName
	}

	err := h.Storage.CreateConversation(conv)
	if errors.Is(err, storage.ErrConversationExists) {
		h.Metrics.Conversation("create", "exists")
		respondError(c, http.StatusConflict, config.CodeConversationExists, "conversation with provided unique name already exists")
		return
	}
	if err != nil {
		h.Log.Error("failed to create conversation", zap.String("unique_name", req.UniqueName), zap.Error(err))
		respondError(c, http.StatusInternalServerError, 0, "failed to create conversation")
		return
	}

	h.Metrics.Conversation("create", "ok")
	h.Log.Info("conversation created",
		zap.String("conversation_sid", conv.SID),
		zap.String("unique_name", conv.UniqueName),
		zap.String("identity", claims.Identity))
	c.JSON(http.StatusCreated, conv)
}

func (h *Handler) ListParticipants(c *gin.Context) {
	conv := conversationFrom(c)
	participants, err := h.Storage.GetParticipants(conv.SID)
	if err != nil {
		h.Log.Error("failed to list participants", zap.String("conversation_sid", conv.SID), zap.Error(err))
		respondError(c, http.StatusInternalServerError, 0, "failed to list participants")
		return
	}
	c.JSON(http.StatusOK, gin.H{"participants": participants})
}

type addParticipantRequest struct {
	Identity string `json:"identity" binding:"required"`
}

// AddParticipant adds one of the room's seats to the conversation.
func (h *Handler) AddParticipant(c *gin.Context) {
	var req addParticipantRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, 0, "identity is required")
		return
	}
	h.addParticipant(c, strings.TrimSpace(req.Identity))
}

// JoinConversation adds the caller.
func (h *Handler) JoinConversation(c *gin.Context) {
	h.addParticipant(c, claimsFrom(c).Identity)
}

func (h *Handler) addParticipant(c *gin.Context, identity string) {
	conv := conversationFrom(c)

	room, ok := h.activeRoom(c, conv.UniqueName)
	if !ok {
		return
	}
	if !room.HasParticipant(identity) {
		h.Metrics.Conversation("add_participant", "denied")
		respondError(c, http.StatusForbidden, config.CodeNotAuthorized, "identity is not authorized for this conversation")
		return
	}

	participant, err := h.Storage.AddParticipant(conv.SID, identity)
	if errors.Is(err, storage.ErrParticipantExists) {
		h.Metrics.Conversation("add_participant", "exists")
		respondError(c, http.StatusConflict, config.CodeParticipantExists, "participant already exists")
		return
	}
	if err != nil {
		h.Log.Error("failed to add participant",
			zap.String("conversation_sid", conv.SID), zap.String("identity", identity), zap.Error(err))
		respondError(c, http.StatusInternalServerError, 0, "failed to add participant")
		return
	}

	h.Metrics.Conversation("add_participant", "ok")
	if err := h.Hub.Broadcast(models.ConversationEvent{
		Type:            models.EventParticipantJoined,
		ConversationSID: conv.SID,
		Identity:        identity,
	}); err != nil {
		h.Log.Warn("failed to broadcast participant join", zap.String("conversation_sid", conv.SID), zap.Error(err))
	}
	c.JSON(http.StatusCreated, participant)
}

type sendMessageRequest struct {
	Body string `json:"body" binding:"required"`
}

// SendMessage persists a message from the caller and pushes it to stream clients.
func (h *Handler) SendMessage(c *gin.Context) {
	conv := conversationFrom(c)

	var req sendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Body) == "" {
		respondError(c, http.StatusBadRequest, 0, "body is required")
		return
	}
	if !h.requireParticipant(c, conv) {
		h.Metrics.Conversation("send_message", "denied")
		return
	}

	msg := &models.Message{
		ConversationSID: conv.SID,
		Author:          claimsFrom(c).Identity,
		Body:            strings.TrimSpace(req.Body),
	}
	if err := h.Storage.SaveMessage(msg); err != nil {
		respondError(c, http.StatusInternalServerError, 0, "failed to send message")
		return
	}
	h.Metrics.Conversation("send_message", "ok")

	view := msg.View()
	if err := h.Hub.Broadcast(models.ConversationEvent{
		Type:            models.EventMessageAdded,
		ConversationSID: conv.SID,
		Message:         &view,
	}); err != nil {
		h.Log.Warn("failed to broadcast message", zap.String("conversation_sid", conv.SID), zap.Error(err))
	}
	c.JSON(http.StatusCreated, view)
}

// ListMessages returns one page of messages ordered oldest first. before is
// an exclusive message index; limit defaults to the history page size.
func (h *Handler) ListMessages(c *gin.Context) {
	conv := conversationFrom(c)
	if !h.requireParticipant(c, conv) {
		return
	}

	var before uint64
	if raw := c.Query("before"); raw != "" {
		v, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			respondError(c, http.StatusBadRequest, 0, "before must be a message index")
			return
		}
		before = v
	}

	limit := config.HistoryPageSize
	if raw := c.Query("limit"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v <= 0 {
			respondError(c, http.StatusBadRequest, 0, "limit must be a positive integer")
			return
		}
		limit = min(v, config.MaxHistoryPageSize)
	}

	page, err := h.Storage.GetMessages(conv.SID, uint(before), limit)
	if err != nil {
		h.Log.Error("failed to load messages", zap.String("conversation_sid", conv.SID), zap.Error(err))
		respondError(c, http.StatusInternalServerError, 0, "failed to load messages")
		return
	}

	views := make([]models.MessageView, 0, len(page))
	for i := range page {
		views = append(views, page[i].View())
	}
	c.JSON(http.StatusOK, gin.H{"messages": views})
}
