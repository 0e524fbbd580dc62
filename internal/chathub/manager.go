package chathub

import (
	"errors"
	"strings"
	"sync"

	"go.uber.org/zap"

	"healthcb/backend/internal/logger"
	"healthcb/backend/internal/models"
	"healthcb/backend/internal/observability"
	"healthcb/backend/internal/storage"
)

// ManagerService owns the set of stream clients and routes conversation events to them.
type ManagerService struct {
	mu      sync.RWMutex
	Clients map[string]Client

	// Channels
	IncomingCh   chan models.ConversationEvent
	PubSubCh     chan models.ConversationEvent
	RegisterCh   chan Client
	UnregisterCh chan Client

	Storage storage.Storage
	Log     *zap.Logger
	Metrics *observability.Metrics
}

func NewManagerService(s storage.Storage, log *zap.Logger, metrics *observability.Metrics) *ManagerService {
	return &ManagerService{
		Clients:      make(map[string]Client),
		IncomingCh:   make(chan models.ConversationEvent, 64),
		PubSubCh:     make(chan models.ConversationEvent, 256),
		RegisterCh:   make(chan Client),
		UnregisterCh: make(chan Client),
		Storage:      s,
		Log:          logger.OrNop(log),
		Metrics:      metrics,
	}
}

// HasClient reports whether a client with this connection ID is registered.
func (m *ManagerService) HasClient(clientID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.Clients[clientID]
	return ok
}

// ClientCount returns the number of registered clients.
func (m *ManagerService) ClientCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.Clients)
}

// Broadcast publishes an event to every instance. Without a broker the event
// is delivered to local clients only.
func (m *ManagerService) Broadcast(event models.ConversationEvent) error {
	err := m.Storage.PublishEvent(event)
	if errors.Is(err, storage.ErrNoBroker) {
		m.PubSubCh <- event
		return nil
	}
	return err
}

func (m *ManagerService) register(c Client) {
	m.mu.Lock()
	m.Clients[c.GetClientID()] = c
	m.mu.Unlock()
	m.Metrics.StreamOpened()
	m.Log.Info("stream client registered",
		zap.String("client_id", c.GetClientID()),
		zap.String("identity", c.GetIdentity()),
		zap.String("conversation_sid", c.GetConversationSID()))
}

func (m *ManagerService) unregister(c Client) {
	m.mu.Lock()
	_, ok := m.Clients[c.GetClientID()]
	if ok {
		delete(m.Clients, c.GetClientID())
	}
	m.mu.Unlock()
	if !ok {
		return
	}
	c.Close()
	m.Metrics.StreamClosed()
	m.Log.Info("stream client unregistered", zap.String("client_id", c.GetClientID()))
}

// handleIncomingMessage persists a message sent over a stream and publishes it.
func (m *ManagerService) handleIncomingMessage(event models.ConversationEvent) {
	body := strings.TrimSpace(event.Body)
	if body == "" || event.ConversationSID == "" || event.Identity == "" {
		return
	}

	ok, err := m.Storage.IsParticipant(event.ConversationSID, event.Identity)
	if err != nil {
		m.Log.Error("participant check failed", zap.String("conversation_sid", event.ConversationSID), zap.Error(err))
		m.replyError(event, "failed to send message")
		return
	}
	if !ok {
		m.Metrics.Conversation("send_message", "denied")
		m.replyError(event, "identity is not a participant of this conversation")
		return
	}

	msg := &models.Message{ConversationSID: event.ConversationSID, Author: event.Identity, Body: body}
	if err := m.Storage.SaveMessage(msg); err != nil {
		m.replyError(event, "failed to send message")
		return
	}
	m.Metrics.Conversation("send_message", "ok")

	view := msg.View()
	out := models.ConversationEvent{
		Type:            models.EventMessageAdded,
		ConversationSID: msg.ConversationSID,
		Message:         &view,
	}
	if err := m.Storage.PublishEvent(out); err != nil {
		if !errors.Is(err, storage.ErrNoBroker) {
			m.Log.Error("failed to publish message", zap.String("conversation_sid", out.ConversationSID), zap.Error(err))
			return
		}
		m.dispatch(out)
	}
}

// dispatch delivers an event to local clients of its conversation. Slow
// clients whose buffer is full are dropped.
func (m *ManagerService) dispatch(event models.ConversationEvent) {
	var slow []Client

	m.mu.RLock()
	for _, client := range m.Clients {
		if client.GetConversationSID() != event.ConversationSID {
			continue
		}
		select {
		case client.GetSendChannel() <- event:
			m.Metrics.StreamFrame("out")
		default:
			slow = append(slow, client)
		}
	}
	m.mu.RUnlock()

	for _, client := range slow {
		m.Log.Warn("dropping slow stream client", zap.String("client_id", client.GetClientID()))
		m.unregister(client)
	}
}

func (m *ManagerService) replyError(event models.ConversationEvent, message string) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, client := range m.Clients {
		if client.GetConversationSID() != event.ConversationSID || client.GetIdentity() != event.Identity {
			continue
		}
		select {
		case client.GetSendChannel() <- models.ConversationEvent{
			Type:            models.EventError,
			ConversationSID: event.ConversationSID,
			Error:           message,
		}:
		default:
		}
	}
}
