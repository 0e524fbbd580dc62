package config

import "time"

const (
	// Conversation resolution
	LookupAttempts     = 3
	CreateAttempts     = 3
	BackoffUnit        = time.Second
	InitialSettleDelay = 2 * time.Second

	// Membership
	MembershipAddDelay = time.Second

	// History
	HistoryPageSize    = 30
	MaxHistoryPageSize = 100

	// Consultation records / notes
	RecordMaxRetries      = 2
	NotesAutosaveDebounce = time.Second
)

// Error codes shared by the conversation backend and its clients.
const (
	CodeAuthenticationFailed = 20003
	CodeNotFound             = 20404
	CodeConversationExists   = 50408
	CodeParticipantExists    = 50433
	CodeNotAuthorized        = 54007
)

// ParticipantRoles maps a room seat to the role granted in issued tokens.
var ParticipantRoles = map[string]string{
	"patient": "participant",
	"doctor":  "moderator",
}
