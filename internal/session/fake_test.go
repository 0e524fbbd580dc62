package session_test

import (
	"context"
	"net/http"
	"sync"

	"healthcb/backend/internal/config"
	"healthcb/backend/internal/rtclient"
	"healthcb/backend/internal/session"
)

type fakeTokens struct {
	mu    sync.Mutex
	calls int
	err   error
	// gate, when set, holds the response until closed.
	gate chan struct{}
}

func (f *fakeTokens) Token(ctx context.Context, identity, roomID string) (*session.Credential, error) {
	f.mu.Lock()
	f.calls++
	gate, err := f.gate, f.err
	f.mu.Unlock()

	if gate != nil {
		<-gate
	}
	if err != nil {
		return nil, err
	}
	return &session.Credential{
		Token:        "tok-" + identity,
		Identity:     identity,
		Room:         roomID,
		Participants: session.Participants{Patient: "alice", Doctor: "dr-bob"},
	}, nil
}

func (f *fakeTokens) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// world is the shared state behind fake clients.
type world struct {
	mu         sync.Mutex
	convs      map[string]*fakeConv
	connectErr error
	createErr  error
	clients    []*fakeRT
}

func newWorld() *world {
	return &world{convs: map[string]*fakeConv{}}
}

func (w *world) factory() session.ClientFactory {
	return func(cred *session.Credential) (session.RealtimeClient, error) {
		w.mu.Lock()
		defer w.mu.Unlock()
		c := &fakeRT{w: w, identity: cred.Identity, observers: map[int]func(rtclient.ConnectionState){}}
		w.clients = append(w.clients, c)
		return c, nil
	}
}

func (w *world) clientCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.clients)
}

func (w *world) client(i int) *fakeRT {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.clients[i]
}

type fakeRT struct {
	w        *world
	identity string

	mu        sync.Mutex
	state     rtclient.ConnectionState
	observers map[int]func(rtclient.ConnectionState)
	nextID    int
	shutdowns int
}

func (c *fakeRT) Identity() string { return c.identity }

func (c *fakeRT) IsAuthenticated() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == rtclient.StateConnected
}

func (c *fakeRT) setState(s rtclient.ConnectionState) {
	c.mu.Lock()
	c.state = s
	fns := make([]func(rtclient.ConnectionState), 0, len(c.observers))
	for _, fn := range c.observers {
		fns = append(fns, fn)
	}
	c.mu.Unlock()
	for _, fn := range fns {
		fn(s)
	}
}

func (c *fakeRT) Connect(ctx context.Context) error {
	c.w.mu.Lock()
	err := c.w.connectErr
	c.w.mu.Unlock()
	if err != nil {
		c.setState(rtclient.StateFailed)
		return err
	}
	c.setState(rtclient.StateConnected)
	return nil
}

func (c *fakeRT) OnConnectionStateChanged(fn func(rtclient.ConnectionState)) rtclient.Subscription {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.nextID
	c.nextID++
	c.observers[id] = fn
	return unsub(func() {
		c.mu.Lock()
		delete(c.observers, id)
		c.mu.Unlock()
	})
}

func (c *fakeRT) Shutdown() {
	c.mu.Lock()
	c.shutdowns++
	c.observers = map[int]func(rtclient.ConnectionState){}
	c.mu.Unlock()
}

func (c *fakeRT) shutdownCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.shutdowns
}

func (c *fakeRT) ConversationByUniqueName(ctx context.Context, name string) (rtclient.Conversation, error) {
	c.w.mu.Lock()
	defer c.w.mu.Unlock()
	conv, ok := c.w.convs[name]
	if !ok {
		return nil, &rtclient.Error{Status: http.StatusNotFound, Code: config.CodeNotFound, Message: "not found"}
	}
	return &convHandle{fakeConv: conv, identity: c.identity}, nil
}

func (c *fakeRT) ConversationBySID(ctx context.Context, sid string) (rtclient.Conversation, error) {
	c.w.mu.Lock()
	defer c.w.mu.Unlock()
	for _, conv := range c.w.convs {
		if conv.sid == sid {
			return &convHandle{fakeConv: conv, identity: c.identity}, nil
		}
	}
	return nil, &rtclient.Error{Status: http.StatusNotFound, Code: config.CodeNotFound, Message: "not found"}
}

func (c *fakeRT) CreateConversation(ctx context.Context, opts rtclient.CreateOptions) (rtclient.Conversation, error) {
	c.w.mu.Lock()
	defer c.w.mu.Unlock()
	if c.w.createErr != nil {
		return nil, c.w.createErr
	}
	if _, ok := c.w.convs[opts.UniqueName]; ok {
		return nil, &rtclient.Error{Status: http.StatusConflict, Code: config.CodeConversationExists, Message: "exists"}
	}
	conv := newFakeConv("CH-"+opts.UniqueName, opts.UniqueName)
	c.w.convs[opts.UniqueName] = conv
	return &convHandle{fakeConv: conv, identity: c.identity}, nil
}

type fakeConv struct {
	sid, name string

	mu           sync.Mutex
	participants []string
	addErr       error
	messages     []rtclient.Message
	subs         map[int]func(rtclient.Message)
	nextID       int
}

func newFakeConv(sid, name string, participants ...string) *fakeConv {
	return &fakeConv{sid: sid, name: name, participants: participants, subs: map[int]func(rtclient.Message){}}
}

func (f *fakeConv) subscriberCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}

// convHandle binds a conversation to the identity of the client that fetched it.
type convHandle struct {
	*fakeConv
	identity string
}

func (h *convHandle) SID() string          { return h.sid }
func (h *convHandle) UniqueName() string   { return h.name }
func (h *convHandle) FriendlyName() string { return "Room " + h.name }

func (h *convHandle) Participants(ctx context.Context) ([]rtclient.Participant, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]rtclient.Participant, 0, len(h.participants))
	for _, id := range h.participants {
		out = append(out, rtclient.Participant{ConversationSID: h.sid, Identity: id})
	}
	return out, nil
}

func (h *convHandle) Join(ctx context.Context) error { return h.Add(ctx, h.identity) }

func (h *convHandle) Add(ctx context.Context, identity string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.addErr != nil {
		return h.addErr
	}
	for _, id := range h.participants {
		if id == identity {
			return &rtclient.Error{Status: http.StatusConflict, Code: config.CodeParticipantExists, Message: "exists"}
		}
	}
	h.participants = append(h.participants, identity)
	return nil
}

func (h *convHandle) SendMessage(ctx context.Context, body string) (rtclient.Message, error) {
	h.mu.Lock()
	m := rtclient.Message{Index: uint(len(h.messages) + 1), ConversationSID: h.sid, Author: h.identity, Body: body}
	h.messages = append(h.messages, m)
	fns := make([]func(rtclient.Message), 0, len(h.subs))
	for _, fn := range h.subs {
		fns = append(fns, fn)
	}
	h.mu.Unlock()

	for _, fn := range fns {
		fn(m)
	}
	return m, nil
}

func (h *convHandle) Messages(ctx context.Context, opts rtclient.PageOptions) ([]rtclient.Message, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]rtclient.Message(nil), h.messages...), nil
}

func (h *convHandle) OnMessageAdded(fn func(rtclient.Message)) (rtclient.Subscription, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	id := h.nextID
	h.nextID++
	h.subs[id] = fn
	return unsub(func() {
		h.mu.Lock()
		delete(h.subs, id)
		h.mu.Unlock()
	}), nil
}

func (h *convHandle) OnError(fn func(error)) rtclient.Subscription { return unsub(func() {}) }

type unsub func()

func (f unsub) Unsubscribe() { f() }
