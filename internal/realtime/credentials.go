package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Credential is a short-lived key scoped to one session.
type Credential struct {
	Value     string
	ExpiresAt time.Time
}

// Credentials hands out session-scoped credentials.
type Credentials interface {
	Credential(ctx context.Context, sessionID string) (Credential, error)
}

// sessionResponse is the realtime session object returned by the upstream
// sessions API and relayed as-is by the credential endpoint.
type sessionResponse struct {
	ClientSecret struct {
		Value     string `json:"value"`
		ExpiresAt int64  `json:"expires_at"`
	} `json:"client_secret"`
}

func (r sessionResponse) credential() Credential {
	c := Credential{Value: r.ClientSecret.Value}
	if r.ClientSecret.ExpiresAt > 0 {
		c.ExpiresAt = time.Unix(r.ClientSecret.ExpiresAt, 0)
	}
	return c
}

// HTTPCredentials fetches credentials from the trusted backend endpoint.
type HTTPCredentials struct {
	url    string
	client *http.Client
}

func NewHTTPCredentials(endpoint string, client *http.Client) *HTTPCredentials {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return &HTTPCredentials{url: strings.TrimSpace(endpoint), client: client}
}

func (c *HTTPCredentials) Credential(ctx context.Context, sessionID string) (Credential, error) {
	u, err := url.Parse(c.url)
	if err != nil {
		return Credential{}, fmt.Errorf("parse credential url: %w", err)
	}
	q := u.Query()
	q.Set("session_id", sessionID)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return Credential{}, fmt.Errorf("create request: %w", err)
	}
	res, err := c.client.Do(req)
	if err != nil {
		return Credential{}, fmt.Errorf("send request: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4<<10))
		return Credential{}, fmt.Errorf("credential endpoint status %d: %s", res.StatusCode, string(body))
	}
	var out sessionResponse
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		return Credential{}, fmt.Errorf("decode credential: %w", err)
	}
	return out.credential(), nil
}
