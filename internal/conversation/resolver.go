// Package conversation resolves the single conversation of a consultation
// room, keeps the local identity a member of it, and merges its history with
// live messages.
package conversation

import (
	"context"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"healthcb/backend/internal/rtclient"
)

// ErrResolutionExhausted is returned once lookup, create and the final
// lookup all failed.
var ErrResolutionExhausted = errors.New("failed to join conversation")

// Client is the part of *rtclient.Client the resolver needs.
type Client interface {
	Identity() string
	IsAuthenticated() bool
	ConversationByUniqueName(ctx context.Context, uniqueName string) (rtclient.Conversation, error)
	ConversationBySID(ctx context.Context, sid string) (rtclient.Conversation, error)
	CreateConversation(ctx context.Context, opts rtclient.CreateOptions) (rtclient.Conversation, error)
}

// Resolver finds or creates the conversation named after a room.
type Resolver struct {
	client Client
	opts   Options
	log    *zap.Logger
}

func NewResolver(client Client, opts Options) *Resolver {
	opts = opts.withDefaults()
	return &Resolver{client: client, opts: opts, log: opts.Logger}
}

// Resolve returns the conversation whose unique name is roomID, with the
// client's identity joined. When the conversation does not exist it is
// created and participants are added. A create rejected because another
// participant won the race falls back to lookup.
func (r *Resolver) Resolve(ctx context.Context, roomID string, participants []string) (rtclient.Conversation, error) {
	log := r.log.With(zap.String("room_id", roomID), zap.String("identity", r.client.Identity()))

	conv, err := r.lookup(ctx, roomID)
	if conv != nil {
		return conv, nil
	}
	if isTerminal(err) {
		return nil, err
	}
	log.Info("no existing conversation, creating", zap.NamedError("last_error", err))

	conv, err = r.create(ctx, roomID, participants)
	if conv != nil {
		return conv, nil
	}
	if isTerminal(err) {
		return nil, err
	}
	log.Warn("create failed, final lookup", zap.Error(err))

	// Another participant may have created it in the meantime.
	conv, err = r.lookup(ctx, roomID)
	if conv != nil {
		return conv, nil
	}
	if isTerminal(err) {
		return nil, err
	}

	log.Error("conversation resolution exhausted", zap.Error(err))
	return nil, errors.Wrapf(ErrResolutionExhausted, "room %s: %v", roomID, err)
}

// lookup tries the unique-name lookup, then the SID lookup, joining the
// conversation if needed.
func (r *Resolver) lookup(ctx context.Context, roomID string) (rtclient.Conversation, error) {
	var lastErr error
	retry := NewRetry(r.opts.LookupAttempts, r.opts.BackoffUnit, r.opts.Sleep)
	for retry.Next(ctx) {
		conv, err := r.findAndJoin(ctx, roomID)
		if err == nil {
			retry.Succeed()
			return conv, nil
		}
		if isTerminal(err) {
			return nil, err
		}
		lastErr = err
		r.log.Debug("conversation lookup failed",
			zap.String("room_id", roomID), zap.Int("attempt", retry.Attempt()), zap.Error(err))
	}
	if retry.Err() != nil {
		return nil, retry.Err()
	}
	return nil, lastErr
}

func (r *Resolver) findAndJoin(ctx context.Context, roomID string) (rtclient.Conversation, error) {
	conv, err := r.client.ConversationByUniqueName(ctx, roomID)
	if err != nil {
		var sidErr error
		conv, sidErr = r.client.ConversationBySID(ctx, roomID)
		if sidErr != nil {
			return nil, err
		}
	}
	if err := r.joinIfAbsent(ctx, conv); err != nil {
		return nil, err
	}
	return conv, nil
}

func (r *Resolver) joinIfAbsent(ctx context.Context, conv rtclient.Conversation) error {
	participants, err := conv.Participants(ctx)
	if err != nil {
		return err
	}
	if hasIdentity(participants, r.client.Identity()) {
		return nil
	}

	err = conv.Join(ctx)
	switch {
	case err == nil, rtclient.IsParticipantExists(err):
		return nil
	case rtclient.IsNotAuthorized(err):
		return errors.Wrapf(ErrNotAuthorized, "join %s: %v", conv.SID(), err)
	}
	return err
}

// create makes the conversation and adds every participant.
func (r *Resolver) create(ctx context.Context, roomID string, participants []string) (rtclient.Conversation, error) {
	var lastErr error
	retry := NewRetry(r.opts.CreateAttempts, r.opts.BackoffUnit, r.opts.Sleep)
	for retry.Next(ctx) {
		conv, err := r.client.CreateConversation(ctx, rtclient.CreateOptions{
			UniqueName:   roomID,
			FriendlyName: "Room " + roomID,
		})
		if err == nil {
			err = addParticipants(ctx, conv, participants)
			if err == nil {
				retry.Succeed()
				r.log.Info("conversation created",
					zap.String("room_id", roomID), zap.String("conversation_sid", conv.SID()))
				return conv, nil
			}
		}
		if isTerminal(err) {
			return nil, err
		}

		r.log.Warn("create conversation attempt failed",
			zap.String("room_id", roomID), zap.Int("attempt", retry.Attempt()), zap.Error(err))

		if rtclient.IsConversationExists(err) {
			existing, lookupErr := r.lookup(ctx, roomID)
			if existing != nil {
				retry.Succeed()
				return existing, nil
			}
			if isTerminal(lookupErr) {
				return nil, lookupErr
			}
		}
		lastErr = err
	}
	if retry.Err() != nil {
		return nil, retry.Err()
	}
	return nil, lastErr
}

// addParticipants adds identities concurrently. Identities that already
// joined are not an error.
func addParticipants(ctx context.Context, conv rtclient.Conversation, identities []string) error {
	g, gctx := errgroup.WithContext(ctx)
	seen := make(map[string]bool, len(identities))
	for _, identity := range identities {
		if identity == "" || seen[identity] {
			continue
		}
		seen[identity] = true

		g.Go(func() error {
			if err := conv.Add(gctx, identity); err != nil && !rtclient.IsParticipantExists(err) {
				if rtclient.IsNotAuthorized(err) {
					return errors.Wrapf(ErrNotAuthorized, "add %s: %v", identity, err)
				}
				return err
			}
			return nil
		})
	}
	return g.Wait()
}

func hasIdentity(participants []rtclient.Participant, identity string) bool {
	for _, p := range participants {
		if p.Identity == identity {
			return true
		}
	}
	return false
}

// isTerminal reports errors that must not be retried.
func isTerminal(err error) bool {
	return errors.Is(err, ErrNotAuthorized) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}
