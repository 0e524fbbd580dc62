package session

import (
	"context"
	"net/http"

	"github.com/pkg/errors"

	"healthcb/backend/internal/apiclient"
)

// Participants are the two seats of a consultation room.
type Participants struct {
	Patient string `json:"patient"`
	Doctor  string `json:"doctor"`
}

// List returns the non-empty identities.
func (p Participants) List() []string {
	out := make([]string, 0, 2)
	for _, id := range []string{p.Patient, p.Doctor} {
		if id != "" {
			out = append(out, id)
		}
	}
	return out
}

// Credential is a short-lived token scoped to one identity in one room. It
// lives only as long as the Session holding it.
type Credential struct {
	Token        string       `json:"token"`
	Identity     string       `json:"identity"`
	Room         string       `json:"room"`
	Participants Participants `json:"participants"`
}

// TokenProvider issues credentials.
type TokenProvider interface {
	Token(ctx context.Context, identity, roomID string) (*Credential, error)
}

// HTTPTokenProvider calls POST /api/conversation/token.
type HTTPTokenProvider struct {
	api *apiclient.Client
}

func NewHTTPTokenProvider(baseURL string, httpClient *http.Client) *HTTPTokenProvider {
	return &HTTPTokenProvider{api: apiclient.New(baseURL, "", httpClient)}
}

func (p *HTTPTokenProvider) Token(ctx context.Context, identity, roomID string) (*Credential, error) {
	req := map[string]string{"identity": identity, "room": roomID}
	var resp struct {
		Data Credential `json:"data"`
	}
	if err := p.api.Post(ctx, "/api/conversation/token", req, &resp); err != nil {
		return nil, errors.Wrap(err, "fetch conversation token")
	}
	if resp.Data.Token == "" {
		return nil, errors.New("token endpoint returned no token")
	}
	return &resp.Data, nil
}
