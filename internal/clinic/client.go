// Package clinic wraps the clinic backend's REST API: schedules,
// consultation requests, consultation records and notes. Every call carries
// the bearer credential the Client was built with.
package clinic

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"healthcb/backend/internal/apiclient"
	"healthcb/backend/internal/logger"
)

type Client struct {
	api *apiclient.Client
	log *zap.Logger
}

func New(baseURL, accessToken string, httpClient *http.Client, log *zap.Logger) *Client {
	return &Client{
		api: apiclient.New(baseURL, accessToken, httpClient),
		log: logger.OrNop(log),
	}
}

// WithToken returns a client that authenticates with accessToken.
func (c *Client) WithToken(accessToken string) *Client {
	return &Client{api: c.api.WithToken(accessToken), log: c.log}
}

// envelope is the {"data": ...} wrapper most endpoints answer with.
type envelope[T any] struct {
	Data T `json:"data"`
}

// ID accepts both string and numeric identifiers.
type ID string

func (id *ID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*id = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*id = ID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*id = ID(n.String())
	return nil
}

func (id ID) String() string { return string(id) }

// CheckSession reports whether the caller's session cookie or token is still valid.
func (c *Client) CheckSession(ctx context.Context) (json.RawMessage, error) {
	var out json.RawMessage
	if err := c.api.Get(ctx, "/api/check-session/", &out); err != nil {
		c.log.Info("session is not valid", zap.Error(err))
		return nil, err
	}
	return out, nil
}
