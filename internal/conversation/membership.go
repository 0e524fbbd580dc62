package conversation

import (
	"context"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"healthcb/backend/internal/rtclient"
)

var (
	// ErrNotAuthorized is terminal: the service refused the identity.
	ErrNotAuthorized = errors.New("identity not authorized to join conversation")
	// ErrNotAuthenticated means the client lost its connection before the add.
	ErrNotAuthenticated = errors.New("client not authenticated")
)

// Authenticator reports whether the client may issue calls.
type Authenticator interface {
	IsAuthenticated() bool
}

// MembershipGuard makes sure an identity is a participant before it sends.
type MembershipGuard struct {
	client Authenticator
	opts   Options
	log    *zap.Logger
}

func NewMembershipGuard(client Authenticator, opts Options) *MembershipGuard {
	opts = opts.withDefaults()
	return &MembershipGuard{client: client, opts: opts, log: opts.Logger}
}

// Ensure adds identity to conv unless it is already listed. A failed listing
// counts as "not listed"; the add then waits MembershipDelay first so a
// failing service is not hammered.
func (g *MembershipGuard) Ensure(ctx context.Context, conv rtclient.Conversation, identity string) error {
	log := g.log.With(zap.String("conversation_sid", conv.SID()), zap.String("identity", identity))

	participants, err := conv.Participants(ctx)
	if err != nil {
		log.Warn("failed to list participants, assuming absent", zap.Error(err))
		participants = nil
	}
	if hasIdentity(participants, identity) {
		return nil
	}

	if err := g.opts.Sleep(ctx, g.opts.MembershipDelay); err != nil {
		return err
	}
	if !g.client.IsAuthenticated() {
		return ErrNotAuthenticated
	}

	err = conv.Add(ctx, identity)
	switch {
	case err == nil:
		log.Info("participant added")
		return nil
	case rtclient.IsParticipantExists(err):
		return nil
	case rtclient.IsNotAuthorized(err):
		log.Error("identity not authorized for conversation", zap.Error(err))
		return errors.Wrapf(ErrNotAuthorized, "%v", err)
	}
	log.Error("failed to add participant", zap.Error(err))
	return errors.Wrap(err, "add participant")
}
