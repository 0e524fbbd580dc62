package storage

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"healthcb/backend/internal/logger"
	"healthcb/backend/internal/models"
)

var (
	ErrNotFound            = errors.New("record not found")
	ErrConversationExists  = errors.New("conversation with this unique name already exists")
	ErrParticipantExists   = errors.New("participant already exists")
	ErrRoomInactive        = errors.New("consultation room is not active")
	ErrNoBroker            = errors.New("no pub/sub broker configured")
	conversationChannelPfx = "conversation:"
)

type Storage interface {
	SaveRoom(room *models.ConsultationRoom) error
	GetRoomByID(roomID string) (*models.ConsultationRoom, error)
	CloseRoom(roomID string) error
	GetActiveRoomIDs() ([]string, error)
	GetActiveRoomIDsForIdentity(identity string) ([]string, error)

	SaveIdentityIfNotExists(identity string, roles ...string) (*models.Identity, error)

	CreateConversation(conv *models.Conversation) error
	GetConversationByUniqueName(uniqueName string) (*models.Conversation, error)
	GetConversationBySID(sid string) (*models.Conversation, error)

	AddParticipant(sid, identity string) (*models.Participant, error)
	GetParticipants(sid string) ([]models.Participant, error)
	IsParticipant(sid, identity string) (bool, error)

	SaveMessage(msg *models.Message) error
	GetMessages(sid string, before uint, limit int) ([]models.Message, error)

	PublishEvent(event models.ConversationEvent) error
	SubscribeToConversations() *redis.PubSub
}

type Service struct {
	DB    *gorm.DB
	Redis *redis.Client
	Ctx   context.Context
	Log   *zap.Logger
}

// NewStorageService Constructor. rdb may be nil for tools that never publish.
func NewStorageService(db *gorm.DB, rdb *redis.Client, log *zap.Logger) *Service {
	return &Service{
		DB:    db,
		Redis: rdb,
		Ctx:   context.Background(),
		Log:   logger.OrNop(log),
	}
}

// ChannelForConversation returns the Redis channel carrying a conversation's events.
func ChannelForConversation(sid string) string {
	return conversationChannelPfx + sid
}

// ConversationFromChannel is the inverse of ChannelForConversation.
func ConversationFromChannel(channel string) (string, bool) {
	if !strings.HasPrefix(channel, conversationChannelPfx) {
		return "", false
	}
	return strings.TrimPrefix(channel, conversationChannelPfx), true
}

// PublishEvent publishes the event on the conversation's Redis channel.
func (s *Service) PublishEvent(event models.ConversationEvent) error {
	if s.Redis == nil {
		return ErrNoBroker
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}

	return s.Redis.Publish(s.Ctx, ChannelForConversation(event.ConversationSID), payload).Err()
}

// SubscribeToConversations subscribes to the channels of every conversation.
// Returns nil when no broker is configured.
func (s *Service) SubscribeToConversations() *redis.PubSub {
	if s.Redis == nil {
		return nil
	}
	return s.Redis.PSubscribe(s.Ctx, conversationChannelPfx+"*")
}
