package models

import "time"

// Event types pushed over the conversation stream.
const (
	EventMessageAdded      = "message_added"
	EventParticipantJoined = "participant_joined"
	EventError             = "error"

	// Sent by stream clients.
	EventSend = "send"
)

// MessageView is the wire form of a message.
type MessageView struct {
	Index           uint      `json:"index"`
	ConversationSID string    `json:"conversation_sid"`
	Author          string    `json:"author"`
	Body            string    `json:"body"`
	DateCreated     time.Time `json:"date_created"`
}

// ConversationEvent is the envelope exchanged over the stream and Redis Pub/Sub.
type ConversationEvent struct {
	Type            string       `json:"type"`
	ConversationSID string       `json:"conversation_sid"`
	Message         *MessageView `json:"message,omitempty"`
	Identity        string       `json:"identity,omitempty"`
	Body            string       `json:"body,omitempty"`
	Error           string       `json:"error,omitempty"`
}
