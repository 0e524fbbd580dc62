package models

import (
	"github.com/google/uuid"
	"github.com/lib/pq"
	"gorm.io/gorm"
)

// Identity is a person that can hold a conversation seat.
type Identity struct {
	ID          string         `gorm:"primaryKey" json:"id"`
	Identity    string         `gorm:"uniqueIndex;not null" json:"identity"`
	DisplayName string         `json:"display_name"`
	Roles       pq.StringArray `gorm:"type:text[]" json:"roles"`
}

// BeforeCreate generates a UUID for the record if ID is not set yet.
func (u *Identity) BeforeCreate(tx *gorm.DB) (err error) {
	if u.ID == "" {
		u.ID = uuid.New().String()
	}
	return
}

// HasRole reports whether role was granted to the identity.
func (u *Identity) HasRole(role string) bool {
	for _, r := range u.Roles {
		if r == role {
			return true
		}
	}
	return false
}
