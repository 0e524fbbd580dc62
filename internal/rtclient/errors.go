package rtclient

import (
	"net/http"

	"healthcb/backend/internal/apiclient"
	"healthcb/backend/internal/config"
)

// Error is a failure reported by the conversation service.
type Error = apiclient.Error

// IsNotFound reports a missing conversation or participant.
func IsNotFound(err error) bool {
	return apiclient.HasCode(err, config.CodeNotFound) || apiclient.HasStatus(err, http.StatusNotFound)
}

// IsConversationExists reports a create rejected because the unique name is taken.
func IsConversationExists(err error) bool {
	return apiclient.HasCode(err, config.CodeConversationExists)
}

// IsParticipantExists reports an add for an identity that already joined.
func IsParticipantExists(err error) bool {
	return apiclient.HasCode(err, config.CodeParticipantExists)
}

// IsNotAuthorized reports an identity that may not act on the conversation.
func IsNotAuthorized(err error) bool {
	return apiclient.HasCode(err, config.CodeNotAuthorized)
}

// IsAuthenticationFailed reports a rejected or expired token.
func IsAuthenticationFailed(err error) bool {
	return apiclient.HasCode(err, config.CodeAuthenticationFailed) || apiclient.HasStatus(err, http.StatusUnauthorized)
}
