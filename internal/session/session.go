// Package session bootstraps a conversation session for one identity in one
// consultation room: credential, connected client, resolved conversation and
// its message stream.
package session

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"healthcb/backend/internal/config"
	"healthcb/backend/internal/conversation"
	"healthcb/backend/internal/logger"
	"healthcb/backend/internal/rtclient"
)

// Messages surfaced verbatim to the user.
const (
	MsgConnectionFailed = "Connection failed"
	MsgJoinFailed       = "Failed to join conversation"
	MsgNotAuthorized    = "Identity not authorized to join conversation"
	MsgMissingInfo      = "Missing room or identity information"
)

var (
	ErrClientNotInitialized = errors.New("client not initialized")
	ErrNoConversation       = errors.New("no active conversation")
	ErrSessionClosed        = errors.New("session closed")
)

// RealtimeClient is what a session needs from *rtclient.Client.
type RealtimeClient interface {
	conversation.Client
	Connect(ctx context.Context) error
	OnConnectionStateChanged(fn func(rtclient.ConnectionState)) rtclient.Subscription
	Shutdown()
}

// ClientFactory builds a client for a credential.
type ClientFactory func(cred *Credential) (RealtimeClient, error)

// RTClientFactory returns a ClientFactory backed by rtclient.
func RTClientFactory(baseURL string, log *zap.Logger) ClientFactory {
	return func(cred *Credential) (RealtimeClient, error) {
		client, err := rtclient.New(rtclient.Config{BaseURL: baseURL, Token: cred.Token, Logger: log})
		if err != nil {
			return nil, err
		}
		return client, nil
	}
}

// State is the observable state of a session.
type State struct {
	Identity        string
	RoomID          string
	ConnectionState rtclient.ConnectionState
	// Error is shown to the user as is; empty when healthy.
	Error     string
	IsLoading bool
	// IsReady is set once bootstrap finished, even when it ended in Error.
	IsReady bool
	// MissingInfo means identity or room was empty; nothing was attempted.
	MissingInfo  bool
	Conversation rtclient.Conversation
}

type Config struct {
	Tokens    TokenProvider
	NewClient ClientFactory
	// SettleDelay is waited after connecting, before the conversation is resolved.
	SettleDelay  time.Duration
	Conversation conversation.Options
	Logger       *zap.Logger
}

type sessionKey struct {
	identity string
	roomID   string
}

// Bootstrapper starts sessions and keeps at most one per (identity, room).
type Bootstrapper struct {
	cfg Config
	log *zap.Logger

	mu     sync.Mutex
	active map[sessionKey]*Session
}

func NewBootstrapper(cfg Config) *Bootstrapper {
	if cfg.SettleDelay <= 0 {
		cfg.SettleDelay = config.InitialSettleDelay
	}
	cfg.Logger = logger.OrNop(cfg.Logger)
	cfg.Conversation.Logger = logger.OrNop(cfg.Conversation.Logger)
	if cfg.Conversation.Sleep == nil {
		cfg.Conversation.Sleep = conversation.Sleep
	}
	return &Bootstrapper{cfg: cfg, log: cfg.Logger, active: map[sessionKey]*Session{}}
}

// Start begins bootstrapping in the background and returns immediately. An
// empty identity or room yields a session in the MissingInfo state without
// any network call. A previous session for the same pair is closed.
func (b *Bootstrapper) Start(ctx context.Context, identity, roomID string) *Session {
	identity = strings.TrimSpace(identity)
	roomID = strings.TrimSpace(roomID)

	s := &Session{
		b:     b,
		key:   sessionKey{identity: identity, roomID: roomID},
		log:   b.log.With(zap.String("identity", identity), zap.String("room_id", roomID)),
		done:  make(chan struct{}),
		state: State{Identity: identity, RoomID: roomID},
	}

	if identity == "" || roomID == "" {
		s.state.MissingInfo = true
		close(s.done)
		return s
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.state.IsLoading = true
	s.state.ConnectionState = rtclient.StateConnecting

	b.mu.Lock()
	previous := b.active[s.key]
	b.active[s.key] = s
	b.mu.Unlock()
	if previous != nil {
		s.log.Info("replacing active session")
		previous.Close()
	}

	go s.run(runCtx)
	return s
}

func (b *Bootstrapper) release(s *Session) {
	b.mu.Lock()
	if b.active[s.key] == s {
		delete(b.active, s.key)
	}
	b.mu.Unlock()
}

// Active returns the live session for the pair, if any.
func (b *Bootstrapper) Active(identity, roomID string) (*Session, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	s, ok := b.active[sessionKey{identity: identity, roomID: roomID}]
	return s, ok
}
