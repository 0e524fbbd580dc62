package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/patrickmn/go-cache"
	"go.uber.org/zap"

	"healthcb/backend/internal/chathub"
	"healthcb/backend/internal/config"
	"healthcb/backend/internal/logger"
	"healthcb/backend/internal/models"
	"healthcb/backend/internal/observability"
	"healthcb/backend/internal/storage"
)

const (
	claimsKey       = "claims"
	conversationKey = "conversation"
)

// Handler serves the token endpoint, the conversation API and the live stream.
type Handler struct {
	Hub     *chathub.ManagerService
	Storage storage.Storage
	Tokens  *TokenIssuer
	Log     *zap.Logger
	Metrics *observability.Metrics

	rooms    *cache.Cache
	upgrader websocket.Upgrader
}

func NewHandler(hub *chathub.ManagerService, s storage.Storage, tokens *TokenIssuer, log *zap.Logger, metrics *observability.Metrics, cfg config.ServerConfig) *Handler {
	ttl := cfg.RoomCacheTTL
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}

	h := &Handler{
		Hub:     hub,
		Storage: s,
		Tokens:  tokens,
		Log:     logger.OrNop(log),
		Metrics: metrics,
		rooms:   cache.New(ttl, 2*ttl),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
	}
	if cfg.AllowAnyOrigin {
		h.upgrader.CheckOrigin = func(r *http.Request) bool { return true }
	}
	return h
}

// Register mounts every route on r.
func (h *Handler) Register(r gin.IRouter) {
	r.GET("/healthz", h.Health)
	r.GET("/metrics", gin.WrapH(observability.MetricsHandler()))
	r.POST("/api/conversation/token", h.IssueToken)

	v1 := r.Group("/v1", h.RequireToken())
	v1.GET("/me", h.Me)
	v1.POST("/conversations", h.CreateConversation)
	v1.GET("/conversations/by-name/:name", h.GetConversationByName)

	conv := v1.Group("/conversations/:sid", h.loadConversation)
	conv.GET("", h.GetConversation)
	conv.GET("/participants", h.ListParticipants)
	conv.POST("/participants", h.AddParticipant)
	conv.POST("/join", h.JoinConversation)
	conv.GET("/messages", h.ListMessages)
	conv.POST("/messages", h.SendMessage)
	conv.GET("/stream", h.ServeStream)
}

func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// lookupRoom reads a consultation room through the room cache.
func (h *Handler) lookupRoom(roomID string) (*models.ConsultationRoom, error) {
	if cached, ok := h.rooms.Get(roomID); ok {
		return cached.(*models.ConsultationRoom), nil
	}
	room, err := h.Storage.GetRoomByID(roomID)
	if err != nil {
		return nil, err
	}
	h.rooms.SetDefault(roomID, room)
	return room, nil
}

// activeRoom resolves the room and rejects it unless it is open.
func (h *Handler) activeRoom(c *gin.Context, roomID string) (*models.ConsultationRoom, bool) {
	room, err := h.lookupRoom(roomID)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		respondError(c, http.StatusNotFound, config.CodeNotFound, "consultation room not found")
		return nil, false
	case err != nil:
		h.Log.Error("room lookup failed", zap.String("room_id", roomID), zap.Error(err))
		respondError(c, http.StatusInternalServerError, 0, "failed to load consultation room")
		return nil, false
	case !room.IsActive:
		respondError(c, http.StatusNotFound, config.CodeNotFound, storage.ErrRoomInactive.Error())
		return nil, false
	}
	return room, true
}

func respondError(c *gin.Context, status, code int, message string) {
	body := gin.H{"error": message}
	if code != 0 {
		body["code"] = code
	}
	c.AbortWithStatusJSON(status, body)
}

func claimsFrom(c *gin.Context) *AccessClaims {
	return c.MustGet(claimsKey).(*AccessClaims)
}

func conversationFrom(c *gin.Context) *models.Conversation {
	return c.MustGet(conversationKey).(*models.Conversation)
}
