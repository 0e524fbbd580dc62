package chathub_test

import (
	"healthcb/backend/internal/models"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/mock"
)

// MockStorage is a testify/mock implementation of storage.Storage.
type MockStorage struct {
	mock.Mock
}

// Room operations
func (m *MockStorage) SaveRoom(room *models.ConsultationRoom) error {
	args := m.Called(room)
	return args.Error(0)
}

func (m *MockStorage) GetRoomByID(roomID string) (*models.ConsultationRoom, error) {
	args := m.Called(roomID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.ConsultationRoom), args.Error(1)
}

func (m *MockStorage) CloseRoom(roomID string) error {
	args := m.Called(roomID)
	return args.Error(0)
}

func (m *MockStorage) GetActiveRoomIDs() ([]string, error) {
	args := m.Called()
	return args.Get(0).([]string), args.Error(1)
}

func (m *MockStorage) GetActiveRoomIDsForIdentity(identity string) ([]string, error) {
	args := m.Called(identity)
	return args.Get(0).([]string), args.Error(1)
}

// Identity operations
func (m *MockStorage) SaveIdentityIfNotExists(identity string, roles ...string) (*models.Identity, error) {
	args := m.Called(identity)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Identity), args.Error(1)
}

// Conversation operations
func (m *MockStorage) CreateConversation(conv *models.Conversation) error {
	args := m.Called(conv)
	return args.Error(0)
}

func (m *MockStorage) GetConversationByUniqueName(uniqueName string) (*models.Conversation, error) {
	args := m.Called(uniqueName)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Conversation), args.Error(1)
}

func (m *MockStorage) GetConversationBySID(sid string) (*models.Conversation, error) {
	args := m.Called(sid)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Conversation), args.Error(1)
}

func (m *MockStorage) AddParticipant(sid, identity string) (*models.Participant, error) {
	args := m.Called(sid, identity)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Participant), args.Error(1)
}

func (m *MockStorage) GetParticipants(sid string) ([]models.Participant, error) {
	args := m.Called(sid)
	return args.Get(0).([]models.Participant), args.Error(1)
}

func (m *MockStorage) IsParticipant(sid, identity string) (bool, error) {
	args := m.Called(sid, identity)
	return args.Bool(0), args.Error(1)
}

// Message operations
func (m *MockStorage) SaveMessage(msg *models.Message) error {
	args := m.Called(msg)
	return args.Error(0)
}

func (m *MockStorage) GetMessages(sid string, before uint, limit int) ([]models.Message, error) {
	args := m.Called(sid, before, limit)
	return args.Get(0).([]models.Message), args.Error(1)
}

// Pub/Sub
func (m *MockStorage) PublishEvent(event models.ConversationEvent) error {
	args := m.Called(event)
	return args.Error(0)
}

func (m *MockStorage) SubscribeToConversations() *redis.PubSub {
	args := m.Called()
	if args.Get(0) == nil {
		return nil
	}
	return args.Get(0).(*redis.PubSub)
}
