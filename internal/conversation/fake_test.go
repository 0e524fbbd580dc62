package conversation_test

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"healthcb/backend/internal/config"
	"healthcb/backend/internal/rtclient"
)

func notFound() error {
	return &rtclient.Error{Status: http.StatusNotFound, Code: config.CodeNotFound, Message: "conversation not found"}
}

func alreadyExists() error {
	return &rtclient.Error{Status: http.StatusConflict, Code: config.CodeConversationExists, Message: "conversation with provided unique name already exists"}
}

func notAuthorized() error {
	return &rtclient.Error{Status: http.StatusForbidden, Code: config.CodeNotAuthorized, Message: "identity is not authorized"}
}

func unavailable() error {
	return &rtclient.Error{Status: http.StatusServiceUnavailable, Message: "service unavailable"}
}

// backend is an in-memory conversation service shared by fake clients.
type backend struct {
	mu sync.Mutex

	byName map[string]*conversationState
	nextID int

	byNameCalls int
	createCalls int

	// Queued failures, consumed one per call before the normal behaviour.
	byNameErrs []error
	createErrs []error
	joinErr    error
}

type conversationState struct {
	sid          string
	uniqueName   string
	participants []string
	listErr      error
	addErr       error
	messages     []rtclient.Message
	pageErr      error
	// onPage runs inside Messages before the page is returned.
	onPage func()

	subs   map[int]func(rtclient.Message)
	nextID int
}

func newBackend() *backend {
	return &backend{byName: map[string]*conversationState{}}
}

func pop(errs *[]error) error {
	if len(*errs) == 0 {
		return nil
	}
	err := (*errs)[0]
	*errs = (*errs)[1:]
	return err
}

// seed creates a conversation directly, as another participant would.
func (b *backend) seed(uniqueName string, participants ...string) *conversationState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.insertLocked(uniqueName, participants...)
}

func (b *backend) insertLocked(uniqueName string, participants ...string) *conversationState {
	b.nextID++
	st := &conversationState{
		sid:          fmt.Sprintf("CH%d", b.nextID),
		uniqueName:   uniqueName,
		participants: participants,
		subs:         map[int]func(rtclient.Message){},
	}
	b.byName[uniqueName] = st
	return st
}

func (b *backend) conversationCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.byName)
}

func (b *backend) participantsOf(uniqueName string) []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	st := b.byName[uniqueName]
	if st == nil {
		return nil
	}
	return append([]string(nil), st.participants...)
}

// push delivers a live message to every subscriber.
func (b *backend) push(st *conversationState, m rtclient.Message) {
	b.mu.Lock()
	fns := make([]func(rtclient.Message), 0, len(st.subs))
	for _, fn := range st.subs {
		fns = append(fns, fn)
	}
	b.mu.Unlock()
	for _, fn := range fns {
		fn(m)
	}
}

type fakeClient struct {
	b             *backend
	identity      string
	authenticated bool
}

func newFakeClient(b *backend, identity string) *fakeClient {
	return &fakeClient{b: b, identity: identity, authenticated: true}
}

func (c *fakeClient) Identity() string      { return c.identity }
func (c *fakeClient) IsAuthenticated() bool { return c.authenticated }

func (c *fakeClient) ConversationByUniqueName(ctx context.Context, uniqueName string) (rtclient.Conversation, error) {
	c.b.mu.Lock()
	defer c.b.mu.Unlock()
	c.b.byNameCalls++
	if err := pop(&c.b.byNameErrs); err != nil {
		return nil, err
	}
	st, ok := c.b.byName[uniqueName]
	if !ok {
		return nil, notFound()
	}
	return &handle{c: c, st: st}, nil
}

func (c *fakeClient) ConversationBySID(ctx context.Context, sid string) (rtclient.Conversation, error) {
	c.b.mu.Lock()
	defer c.b.mu.Unlock()
	for _, st := range c.b.byName {
		if st.sid == sid {
			return &handle{c: c, st: st}, nil
		}
	}
	return nil, notFound()
}

func (c *fakeClient) CreateConversation(ctx context.Context, opts rtclient.CreateOptions) (rtclient.Conversation, error) {
	c.b.mu.Lock()
	defer c.b.mu.Unlock()
	c.b.createCalls++
	if err := pop(&c.b.createErrs); err != nil {
		return nil, err
	}
	if _, ok := c.b.byName[opts.UniqueName]; ok {
		return nil, alreadyExists()
	}
	return &handle{c: c, st: c.b.insertLocked(opts.UniqueName)}, nil
}

// handle is one client's view of a conversation.
type handle struct {
	c  *fakeClient
	st *conversationState
}

func (h *handle) SID() string          { return h.st.sid }
func (h *handle) UniqueName() string   { return h.st.uniqueName }
func (h *handle) FriendlyName() string { return "Room " + h.st.uniqueName }

func (h *handle) Participants(ctx context.Context) ([]rtclient.Participant, error) {
	h.c.b.mu.Lock()
	defer h.c.b.mu.Unlock()
	if h.st.listErr != nil {
		return nil, h.st.listErr
	}
	out := make([]rtclient.Participant, 0, len(h.st.participants))
	for _, id := range h.st.participants {
		out = append(out, rtclient.Participant{ConversationSID: h.st.sid, Identity: id})
	}
	return out, nil
}

func (h *handle) Join(ctx context.Context) error {
	h.c.b.mu.Lock()
	err := h.c.b.joinErr
	h.c.b.mu.Unlock()
	if err != nil {
		return err
	}
	return h.Add(ctx, h.c.identity)
}

func (h *handle) Add(ctx context.Context, identity string) error {
	h.c.b.mu.Lock()
	defer h.c.b.mu.Unlock()
	if h.st.addErr != nil {
		return h.st.addErr
	}
	for _, id := range h.st.participants {
		if id == identity {
			return &rtclient.Error{Status: http.StatusConflict, Code: config.CodeParticipantExists, Message: "participant already exists"}
		}
	}
	h.st.participants = append(h.st.participants, identity)
	return nil
}

func (h *handle) SendMessage(ctx context.Context, body string) (rtclient.Message, error) {
	h.c.b.mu.Lock()
	m := rtclient.Message{
		Index:           uint(len(h.st.messages) + 1),
		ConversationSID: h.st.sid,
		Author:          h.c.identity,
		Body:            body,
		DateCreated:     time.Now(),
	}
	h.st.messages = append(h.st.messages, m)
	h.c.b.mu.Unlock()

	h.c.b.push(h.st, m)
	return m, nil
}

func (h *handle) Messages(ctx context.Context, opts rtclient.PageOptions) ([]rtclient.Message, error) {
	h.c.b.mu.Lock()
	hook := h.st.onPage
	err := h.st.pageErr
	page := append([]rtclient.Message(nil), h.st.messages...)
	h.c.b.mu.Unlock()

	if hook != nil {
		hook()
	}
	if err != nil {
		return nil, err
	}
	if opts.Limit > 0 && len(page) > opts.Limit {
		page = page[len(page)-opts.Limit:]
	}
	return page, nil
}

func (h *handle) OnMessageAdded(fn func(rtclient.Message)) (rtclient.Subscription, error) {
	h.c.b.mu.Lock()
	defer h.c.b.mu.Unlock()
	id := h.st.nextID
	h.st.nextID++
	h.st.subs[id] = fn
	return unsubscribeFunc(func() {
		h.c.b.mu.Lock()
		delete(h.st.subs, id)
		h.c.b.mu.Unlock()
	}), nil
}

func (h *handle) OnError(fn func(error)) rtclient.Subscription {
	return unsubscribeFunc(func() {})
}

type unsubscribeFunc func()

func (f unsubscribeFunc) Unsubscribe() { f() }

// sleepRecorder records requested backoff delays without waiting.
type sleepRecorder struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (r *sleepRecorder) sleep(ctx context.Context, d time.Duration) error {
	r.mu.Lock()
	r.delays = append(r.delays, d)
	r.mu.Unlock()
	return ctx.Err()
}

func (r *sleepRecorder) recorded() []time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]time.Duration(nil), r.delays...)
}
