package rtclient

import (
	"context"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/pkg/errors"

	"healthcb/backend/internal/apiclient"
	"healthcb/backend/internal/models"
)

// Message is a conversation message as delivered by history pages and streams.
type Message = models.MessageView

// Participant is one identity's membership.
type Participant struct {
	ConversationSID string    `json:"conversation_sid"`
	Identity        string    `json:"identity"`
	DateJoined      time.Time `json:"date_joined"`
}

// PageOptions select a history page. Before is an exclusive message index
// (zero for the newest page).
type PageOptions struct {
	Before uint
	Limit  int
}

// Conversation is a handle on one remote conversation.
type Conversation interface {
	SID() string
	UniqueName() string
	FriendlyName() string

	Participants(ctx context.Context) ([]Participant, error)
	// Join adds the client's own identity.
	Join(ctx context.Context) error
	Add(ctx context.Context, identity string) error

	SendMessage(ctx context.Context, body string) (Message, error)
	// Messages returns one page ordered oldest first.
	Messages(ctx context.Context, opts PageOptions) ([]Message, error)

	// OnMessageAdded opens the live stream if needed and delivers every new
	// message to fn until the subscription is cancelled.
	OnMessageAdded(fn func(Message)) (Subscription, error)
	OnError(fn func(error)) Subscription
}

type conversationDescriptor struct {
	SID          string    `json:"sid"`
	UniqueName   string    `json:"unique_name"`
	FriendlyName string    `json:"friendly_name"`
	CreatedBy    string    `json:"created_by"`
	DateCreated  time.Time `json:"date_created"`
}

type remoteConversation struct {
	client *Client
	desc   conversationDescriptor // set once by Client.track

	mu     sync.Mutex
	stream *messageStream

	messageObservers observers[Message]
	errorObservers   observers[error]
}

func (rc *remoteConversation) SID() string          { return rc.desc.SID }
func (rc *remoteConversation) UniqueName() string   { return rc.desc.UniqueName }
func (rc *remoteConversation) FriendlyName() string { return rc.desc.FriendlyName }

func (rc *remoteConversation) path(suffix string) string {
	return "/v1/conversations/" + url.PathEscape(rc.desc.SID) + suffix
}

func (rc *remoteConversation) Participants(ctx context.Context) ([]Participant, error) {
	var out struct {
		Participants []Participant `json:"participants"`
	}
	if err := rc.client.api.Get(ctx, rc.path("/participants"), &out); err != nil {
		return nil, errors.Wrapf(err, "list participants of %s", rc.desc.SID)
	}
	return out.Participants, nil
}

func (rc *remoteConversation) Join(ctx context.Context) error {
	if err := rc.client.api.Post(ctx, rc.path("/join"), nil, nil); err != nil {
		return errors.Wrapf(err, "join %s", rc.desc.SID)
	}
	return nil
}

func (rc *remoteConversation) Add(ctx context.Context, identity string) error {
	body := map[string]string{"identity": identity}
	if err := rc.client.api.Post(ctx, rc.path("/participants"), body, nil); err != nil {
		return errors.Wrapf(err, "add %s to %s", identity, rc.desc.SID)
	}
	return nil
}

func (rc *remoteConversation) SendMessage(ctx context.Context, body string) (Message, error) {
	var msg Message
	if err := rc.client.api.Post(ctx, rc.path("/messages"), map[string]string{"body": body}, &msg); err != nil {
		return Message{}, errors.Wrapf(err, "send message to %s", rc.desc.SID)
	}
	return msg, nil
}

func (rc *remoteConversation) Messages(ctx context.Context, opts PageOptions) ([]Message, error) {
	query := url.Values{}
	if opts.Before > 0 {
		query.Set("before", strconv.FormatUint(uint64(opts.Before), 10))
	}
	if opts.Limit > 0 {
		query.Set("limit", strconv.Itoa(opts.Limit))
	}

	var out struct {
		Messages []Message `json:"messages"`
	}
	if err := rc.client.api.Get(ctx, apiclient.Path(rc.path("/messages"), query), &out); err != nil {
		return nil, errors.Wrapf(err, "get messages of %s", rc.desc.SID)
	}
	return out.Messages, nil
}

func (rc *remoteConversation) OnMessageAdded(fn func(Message)) (Subscription, error) {
	if err := rc.client.ensureOpen(); err != nil {
		return nil, err
	}

	sub := rc.messageObservers.add(fn, rc.closeStreamIfIdle)
	if err := rc.ensureStream(); err != nil {
		sub.Unsubscribe()
		return nil, err
	}
	return sub, nil
}

func (rc *remoteConversation) OnError(fn func(error)) Subscription {
	return rc.errorObservers.add(fn, nil)
}

func (rc *remoteConversation) ensureStream() error {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	if rc.stream != nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), rc.client.dialTimeout)
	defer cancel()

	s, err := dialStream(ctx, rc)
	if err != nil {
		return err
	}
	rc.stream = s
	go s.readLoop()
	return nil
}

func (rc *remoteConversation) closeStreamIfIdle() {
	if rc.messageObservers.count() > 0 {
		return
	}
	rc.mu.Lock()
	s := rc.stream
	rc.stream = nil
	rc.mu.Unlock()
	if s != nil {
		s.close()
	}
}

// streamEnded forgets s after its read loop stopped.
func (rc *remoteConversation) streamEnded(s *messageStream) {
	rc.mu.Lock()
	if rc.stream == s {
		rc.stream = nil
	}
	rc.mu.Unlock()
}

func (rc *remoteConversation) detachAll() {
	rc.messageObservers.clear()
	rc.errorObservers.clear()
	rc.closeStreamIfIdle()
}
