package chathub

import "healthcb/backend/internal/models"

// Client is the interface for any connection attached to a conversation stream.
// It abstracts the underlying transport so the hub can fan out events uniformly.
type Client interface {
	// GetClientID returns the unique identifier of this connection.
	GetClientID() string
	// GetIdentity returns the identity the connection was authenticated as.
	GetIdentity() string
	// GetConversationSID returns the conversation the connection listens to.
	GetConversationSID() string

	// GetSendChannel returns the channel the hub writes events for this client to.
	GetSendChannel() chan<- models.ConversationEvent

	// Run starts the client's read and write pumps.
	Run()
	// Close shuts down the client's send channel.
	Close()
}
