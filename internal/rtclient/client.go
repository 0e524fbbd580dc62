// Package rtclient is the client for the real-time conversation service:
// conversation lookup and creation, membership, history and live message
// streams over websocket.
package rtclient

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"healthcb/backend/internal/apiclient"
	"healthcb/backend/internal/logger"
)

// ConnectionState is the client's connection lifecycle.
type ConnectionState string

const (
	StateConnecting   ConnectionState = "connecting"
	StateConnected    ConnectionState = "connected"
	StateFailed       ConnectionState = "failed"
	StateDisconnected ConnectionState = "disconnected"
)

// ErrClientShutdown is returned by calls made after Shutdown.
var ErrClientShutdown = errors.New("client has been shut down")

const defaultDialTimeout = 10 * time.Second

type Config struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client
	// Dialer opens message streams; websocket.DefaultDialer when nil.
	Dialer      *websocket.Dialer
	DialTimeout time.Duration
	Logger      *zap.Logger
}

// CreateOptions describe a new conversation.
type CreateOptions struct {
	UniqueName   string `json:"unique_name"`
	FriendlyName string `json:"friendly_name,omitempty"`
}

// Client talks to the conversation service on behalf of one token.
type Client struct {
	api         *apiclient.Client
	streamURL   *url.URL
	dialer      *websocket.Dialer
	dialTimeout time.Duration
	log         *zap.Logger

	mu            sync.Mutex
	state         ConnectionState
	identity      string
	room          string
	shutdown      bool
	conversations map[string]*remoteConversation

	stateObservers observers[ConnectionState]
}

// New builds a client in the connecting state. Register observers, then call Connect.
func New(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("rtclient: token is required")
	}
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil || base.Host == "" {
		return nil, errors.Errorf("rtclient: invalid base URL %q", cfg.BaseURL)
	}

	streamURL := *base
	switch base.Scheme {
	case "https":
		streamURL.Scheme = "wss"
	case "http":
		streamURL.Scheme = "ws"
	default:
		return nil, errors.Errorf("rtclient: unsupported scheme %q", base.Scheme)
	}

	dialer := cfg.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	dialTimeout := cfg.DialTimeout
	if dialTimeout <= 0 {
		dialTimeout = defaultDialTimeout
	}

	return &Client{
		api:           apiclient.New(base.String(), cfg.Token, cfg.HTTPClient),
		streamURL:     &streamURL,
		dialer:        dialer,
		dialTimeout:   dialTimeout,
		log:           logger.OrNop(cfg.Logger),
		state:         StateConnecting,
		conversations: make(map[string]*remoteConversation),
	}, nil
}

// Connect authenticates the token. The state moves to connected, or to
// failed when the service rejects the token or cannot be reached.
func (c *Client) Connect(ctx context.Context) error {
	c.setState(StateConnecting)

	var me struct {
		Identity string `json:"identity"`
		Room     string `json:"room"`
	}
	if err := c.api.Get(ctx, "/v1/me", &me); err != nil {
		c.setState(StateFailed)
		return errors.Wrap(err, "connect")
	}

	c.mu.Lock()
	c.identity = me.Identity
	c.room = me.Room
	c.mu.Unlock()

	c.setState(StateConnected)
	return nil
}

func (c *Client) setState(state ConnectionState) {
	c.mu.Lock()
	if c.shutdown || c.state == state {
		c.mu.Unlock()
		return
	}
	c.state = state
	c.mu.Unlock()

	c.log.Debug("connection state changed", zap.String("state", string(state)))
	c.stateObservers.emit(state)
}

// OnConnectionStateChanged registers fn for every state transition.
func (c *Client) OnConnectionStateChanged(fn func(ConnectionState)) Subscription {
	return c.stateObservers.add(fn, nil)
}

func (c *Client) ConnectionState() ConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Identity is the identity bound to the token; empty before Connect succeeds.
func (c *Client) Identity() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.identity
}

// Room is the consultation room the token is scoped to.
func (c *Client) Room() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.room
}

// IsAuthenticated reports whether the client is connected.
func (c *Client) IsAuthenticated() bool {
	return c.ConnectionState() == StateConnected
}

func (c *Client) ConversationByUniqueName(ctx context.Context, uniqueName string) (Conversation, error) {
	return c.fetchConversation(ctx, "/v1/conversations/by-name/"+url.PathEscape(uniqueName))
}

func (c *Client) ConversationBySID(ctx context.Context, sid string) (Conversation, error) {
	return c.fetchConversation(ctx, "/v1/conversations/"+url.PathEscape(sid))
}

// CreateConversation creates a conversation. Use IsConversationExists to
// detect a unique name that is already taken.
func (c *Client) CreateConversation(ctx context.Context, opts CreateOptions) (Conversation, error) {
	if err := c.ensureOpen(); err != nil {
		return nil, err
	}
	var desc conversationDescriptor
	if err := c.api.Post(ctx, "/v1/conversations", opts, &desc); err != nil {
		return nil, errors.Wrapf(err, "create conversation %q", opts.UniqueName)
	}
	return c.track(desc), nil
}

func (c *Client) fetchConversation(ctx context.Context, path string) (Conversation, error) {
	if err := c.ensureOpen(); err != nil {
		return nil, err
	}
	var desc conversationDescriptor
	if err := c.api.Get(ctx, path, &desc); err != nil {
		return nil, errors.Wrap(err, "get conversation")
	}
	return c.track(desc), nil
}

// track returns the handle for desc, reusing an existing one so observers
// and streams are shared per conversation. A handle's descriptor is fixed by
// the first lookup and never rewritten, so it is read without locking.
func (c *Client) track(desc conversationDescriptor) *remoteConversation {
	c.mu.Lock()
	defer c.mu.Unlock()
	if conv, ok := c.conversations[desc.SID]; ok {
		return conv
	}
	conv := &remoteConversation{client: c, desc: desc}
	c.conversations[desc.SID] = conv
	return conv
}

func (c *Client) ensureOpen() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.shutdown {
		return ErrClientShutdown
	}
	return nil
}

// Shutdown closes every stream, reports the disconnected state and detaches
// all observers. Safe to call more than once.
func (c *Client) Shutdown() {
	c.mu.Lock()
	if c.shutdown {
		c.mu.Unlock()
		return
	}
	convs := make([]*remoteConversation, 0, len(c.conversations))
	for _, conv := range c.conversations {
		convs = append(convs, conv)
	}
	c.mu.Unlock()

	for _, conv := range convs {
		conv.detachAll()
	}

	c.setState(StateDisconnected)

	c.mu.Lock()
	c.shutdown = true
	c.conversations = map[string]*remoteConversation{}
	c.mu.Unlock()
	c.stateObservers.clear()
}
