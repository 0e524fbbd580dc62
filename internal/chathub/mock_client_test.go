package chathub_test

import (
	"healthcb/backend/internal/models"
	"sync"
)

type MockClient struct {
	clientID        string
	identity        string
	conversationSID string
	RecvChannel     chan models.ConversationEvent
	closeOnce       sync.Once
}

func newMockClient(clientID, identity, sid string) *MockClient {
	return &MockClient{
		clientID:        clientID,
		identity:        identity,
		conversationSID: sid,
		RecvChannel:     make(chan models.ConversationEvent, 10),
	}
}

func (c *MockClient) GetClientID() string        { return c.clientID }
func (c *MockClient) GetIdentity() string        { return c.identity }
func (c *MockClient) GetConversationSID() string { return c.conversationSID }

func (c *MockClient) GetSendChannel() chan<- models.ConversationEvent {
	return c.RecvChannel
}

func (c *MockClient) Close() {
	c.closeOnce.Do(func() { close(c.RecvChannel) })
}

func (c *MockClient) Run() {
	// Not needed for testing
}
