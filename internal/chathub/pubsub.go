package chathub

import (
	"encoding/json"

	"go.uber.org/zap"

	"healthcb/backend/internal/models"
	"healthcb/backend/internal/storage"
)

// StartPubSubListener forwards events published on Redis by any instance into PubSubCh.
func (m *ManagerService) StartPubSubListener() {
	pubsub := m.Storage.SubscribeToConversations()
	if pubsub == nil {
		m.Log.Warn("no pub/sub broker; events are delivered to local clients only")
		return
	}

	go func() {
		defer pubsub.Close()

		for msg := range pubsub.Channel() {
			sid, ok := storage.ConversationFromChannel(msg.Channel)
			if !ok {
				continue
			}

			var event models.ConversationEvent
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				m.Log.Warn("failed to decode pub/sub event", zap.String("channel", msg.Channel), zap.Error(err))
				continue
			}
			event.ConversationSID = sid

			m.PubSubCh <- event
		}
	}()
}

// Run is the hub's main loop.
func (m *ManagerService) Run() {
	m.StartPubSubListener()

	for {
		select {
		case client := <-m.RegisterCh:
			m.register(client)

		case client := <-m.UnregisterCh:
			m.unregister(client)

		case event := <-m.IncomingCh:
			m.Metrics.StreamFrame("in")
			m.handleIncomingMessage(event)

		case event := <-m.PubSubCh:
			m.dispatch(event)
		}
	}
}
