package models

import "gorm.io/gorm"

// Message is a persisted chat message. The embedded gorm.Model ID is
// monotonically increasing and serves as the message index.
type Message struct {
	gorm.Model

	// ConversationSID is the conversation the message was sent to.
	ConversationSID string `gorm:"not null;index:idx_conversation_msg"`
	// Author is the identity of the sender.
	Author string `gorm:"type:text;not null"`
	// Body is the text of the message.
	Body string `gorm:"type:text;not null"`
}

// View converts the record to its wire representation.
func (m *Message) View() MessageView {
	return MessageView{
		Index:           m.ID,
		ConversationSID: m.ConversationSID,
		Author:          m.Author,
		Body:            m.Body,
		DateCreated:     m.CreatedAt,
	}
}
