package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Conversation is the message channel bound to a room. UniqueName carries a
// unique index: a second create with the same name is rejected by the database.
type Conversation struct {
	SID          string    `gorm:"primaryKey" json:"sid"`
	UniqueName   string    `gorm:"uniqueIndex;not null" json:"unique_name"`
	FriendlyName string    `json:"friendly_name"`
	CreatedBy    string    `json:"created_by"`
	CreatedAt    time.Time `json:"date_created"`
}

// BeforeCreate assigns a SID ("CH" + 32 hex chars) when none is set.
func (c *Conversation) BeforeCreate(tx *gorm.DB) (err error) {
	if c.SID == "" {
		c.SID = NewConversationSID()
	}
	return
}

// NewConversationSID generates a conversation SID.
func NewConversationSID() string {
	return "CH" + strings.ReplaceAll(uuid.New().String(), "-", "")
}

// Participant is the membership of one identity in one conversation.
type Participant struct {
	ID              uint      `gorm:"primaryKey" json:"-"`
	ConversationSID string    `gorm:"not null;uniqueIndex:idx_conversation_identity" json:"conversation_sid"`
	Identity        string    `gorm:"not null;uniqueIndex:idx_conversation_identity" json:"identity"`
	JoinedAt        time.Time `json:"date_joined"`
}
