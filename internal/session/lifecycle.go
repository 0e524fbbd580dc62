package session

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"healthcb/backend/internal/conversation"
	"healthcb/backend/internal/rtclient"
)

// Session is one identity's connection to one room. It is owned by the view
// that started it and must be closed by it.
type Session struct {
	b      *Bootstrapper
	key    sessionKey
	log    *zap.Logger
	cancel context.CancelFunc
	done   chan struct{}

	mu         sync.Mutex
	closed     bool
	state      State
	client     RealtimeClient
	stateSub   rtclient.Subscription
	stream     *conversation.MessageStream
	guard      *conversation.MembershipGuard

	listenersMu sync.Mutex
	listeners   map[int]func(State)
	nextID      int
}

func (s *Session) run(ctx context.Context) {
	defer close(s.done)

	cred, err := s.b.cfg.Tokens.Token(ctx, s.key.identity, s.key.roomID)
	if err != nil {
		s.fail(ctx, err.Error(), err)
		return
	}

	client, err := s.b.cfg.NewClient(cred)
	if err != nil {
		s.fail(ctx, err.Error(), err)
		return
	}

	sub := client.OnConnectionStateChanged(s.onConnectionState)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		sub.Unsubscribe()
		client.Shutdown()
		return
	}
	s.client = client
	s.stateSub = sub
	s.guard = conversation.NewMembershipGuard(client, s.b.cfg.Conversation)
	s.mu.Unlock()

	if err := client.Connect(ctx); err != nil {
		// The state observer already reported the failure.
		s.fail(ctx, MsgConnectionFailed, err)
		return
	}

	if err := s.b.cfg.Conversation.Sleep(ctx, s.b.cfg.SettleDelay); err != nil {
		return
	}

	resolver := conversation.NewResolver(client, s.b.cfg.Conversation)
	conv, err := resolver.Resolve(ctx, s.key.roomID, cred.Participants.List())
	if err != nil {
		msg := MsgJoinFailed
		if errors.Is(err, conversation.ErrNotAuthorized) {
			msg = MsgNotAuthorized
		}
		s.update(func(st *State) {
			st.Error = msg
			st.IsLoading = false
			st.IsReady = true
		})
		if ctx.Err() == nil {
			s.log.Error("conversation resolution failed", zap.Error(err))
		}
		return
	}

	if err := s.attach(ctx, conv); err != nil {
		s.log.Warn("live messages unavailable", zap.Error(err))
	}
	s.update(func(st *State) {
		st.IsLoading = false
		st.IsReady = true
	})
}

// fail records a bootstrap failure unless the session was closed meanwhile.
func (s *Session) fail(ctx context.Context, message string, err error) {
	if ctx.Err() != nil {
		return
	}
	s.log.Error("session bootstrap failed", zap.Error(err))
	s.update(func(st *State) {
		st.Error = message
		st.IsLoading = false
	})
}

func (s *Session) onConnectionState(state rtclient.ConnectionState) {
	s.update(func(st *State) {
		st.ConnectionState = state
		switch state {
		case rtclient.StateConnecting:
			st.IsLoading = true
		case rtclient.StateConnected:
			st.IsLoading = false
		case rtclient.StateFailed:
			st.Error = MsgConnectionFailed
			st.IsLoading = false
		}
	})
}

// attach makes conv the active conversation and starts its message stream,
// replacing any previous one.
func (s *Session) attach(ctx context.Context, conv rtclient.Conversation) error {
	stream, err := conversation.AttachMessageStream(ctx, conv, s.b.cfg.Conversation, func([]conversation.Entry) {
		s.notify()
	})

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		if stream != nil {
			stream.Detach()
		}
		return ErrSessionClosed
	}
	previous := s.stream
	s.stream = stream
	s.state.Conversation = conv
	s.mu.Unlock()

	if previous != nil {
		previous.Detach()
	}
	s.notify()
	return err
}

// update applies fn to the state and notifies listeners. It is a no-op once
// the session is closed, so late completions never leak out.
func (s *Session) update(fn func(*State)) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	fn(&s.state)
	s.mu.Unlock()
	s.notify()
}

func (s *Session) notify() {
	s.listenersMu.Lock()
	fns := make([]func(State), 0, len(s.listeners))
	for _, fn := range s.listeners {
		fns = append(fns, fn)
	}
	s.listenersMu.Unlock()

	for _, fn := range fns {
		s.mu.Lock()
		closed := s.closed
		st := s.state
		s.mu.Unlock()
		if closed {
			return
		}
		fn(st)
	}
}

// State returns a snapshot.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Client is the connected client, or nil before the bootstrap created it.
func (s *Session) Client() RealtimeClient {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.client
}

// Subscribe calls fn with a snapshot after every state change.
func (s *Session) Subscribe(fn func(State)) rtclient.Subscription {
	s.listenersMu.Lock()
	if s.listeners == nil {
		s.listeners = map[int]func(State){}
	}
	id := s.nextID
	s.nextID++
	s.listeners[id] = fn
	s.listenersMu.Unlock()

	return unsubscribe(func() {
		s.listenersMu.Lock()
		delete(s.listeners, id)
		s.listenersMu.Unlock()
	})
}

// Wait blocks until the bootstrap finished or ctx is done.
func (s *Session) Wait(ctx context.Context) error {
	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Messages returns the active conversation's messages, newest last.
func (s *Session) Messages() []conversation.Entry {
	s.mu.Lock()
	stream := s.stream
	s.mu.Unlock()
	if stream == nil {
		return nil
	}
	return stream.Messages()
}

// JoinConversation switches the session to the conversation with sid.
func (s *Session) JoinConversation(ctx context.Context, sid string) (rtclient.Conversation, error) {
	client := s.Client()
	if client == nil {
		return nil, ErrClientNotInitialized
	}
	conv, err := client.ConversationBySID(ctx, sid)
	if err != nil {
		return nil, errors.Wrapf(err, "join conversation %s", sid)
	}
	if err := s.attach(ctx, conv); err != nil {
		if errors.Is(err, ErrSessionClosed) {
			return nil, err
		}
		s.log.Warn("live messages unavailable", zap.String("conversation_sid", sid), zap.Error(err))
	}
	return conv, nil
}

// SendMessage makes sure the identity is a participant, then sends body.
// An authorization failure is terminal and recorded in the state.
func (s *Session) SendMessage(ctx context.Context, body string) (rtclient.Message, error) {
	s.mu.Lock()
	conv := s.state.Conversation
	guard := s.guard
	closed := s.closed
	s.mu.Unlock()

	if closed {
		return rtclient.Message{}, ErrSessionClosed
	}
	if conv == nil || guard == nil {
		return rtclient.Message{}, ErrNoConversation
	}

	if err := guard.Ensure(ctx, conv, s.key.identity); err != nil {
		if errors.Is(err, conversation.ErrNotAuthorized) {
			s.update(func(st *State) { st.Error = MsgNotAuthorized })
		}
		return rtclient.Message{}, err
	}
	return conv.SendMessage(ctx, body)
}

// Close releases the client and detaches every observer. In-flight bootstrap
// work is cancelled and its results are discarded.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	client, stream, sub := s.client, s.stream, s.stateSub
	s.client, s.stream, s.stateSub = nil, nil, nil
	s.state.Conversation = nil
	s.mu.Unlock()

	if s.cancel != nil {
		s.cancel()
	}

	s.listenersMu.Lock()
	s.listeners = nil
	s.listenersMu.Unlock()

	if stream != nil {
		stream.Detach()
	}
	if sub != nil {
		sub.Unsubscribe()
	}
	if client != nil {
		client.Shutdown()
	}
	s.b.release(s)
	s.log.Info("session closed")
}

type unsubscribe func()

func (f unsubscribe) Unsubscribe() { f() }
