// Package api is the REST client for the desk platform's user-status
// and chat endpoints. The presence subsystem consumes these endpoints;
// it does not own them.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/opsdesk/presenced/internal/presence"
)

const defaultTimeout = 10 * time.Second

// TokenSource yields the bearer token for a request. Tokens are read at
// call time because the platform may rotate them mid-session.
type TokenSource interface {
	Token() (string, error)
}

// StaticToken is a fixed-token source for tests.
type StaticToken string

func (t StaticToken) Token() (string, error) { return string(t), nil }

// Chat is one chat record as returned by the chats endpoint. The
// presence subsystem only inspects Status.
type Chat struct {
	ID         string    `json:"id"`
	UserID     string    `json:"userId"`
	Status     string    `json:"status"`
	AssignedAt time.Time `json:"assignedAt"`
}

// ChatActive is the chat status counted toward the busy derivation.
const ChatActive = "active"

// Client talks to the hub's versioned REST API.
type Client struct {
	base   string
	tokens TokenSource
	httpc  *http.Client
}

// NewClient creates a client for the API at baseURL (scheme + host,
// no trailing path).
func NewClient(baseURL string, tokens TokenSource) *Client {
	return &Client{
		base:   baseURL,
		tokens: tokens,
		httpc:  &http.Client{Timeout: defaultTimeout},
	}
}

// UserStatus fetches the server-recorded status for a user.
func (c *Client) UserStatus(ctx context.Context, userID string) (presence.StatusRecord, error) {
	var rec struct {
		Status    presence.Status `json:"status"`
		UpdatedAt time.Time       `json:"updatedAt"`
	}
	if err := c.do(ctx, http.MethodGet, c.statusPath(userID), nil, &rec); err != nil {
		return presence.StatusRecord{}, err
	}
	return presence.StatusRecord{Status: rec.Status, UpdatedAt: rec.UpdatedAt}, nil
}

// SetUserStatus writes a new status for a user.
func (c *Client) SetUserStatus(ctx context.Context, userID string, st presence.Status) error {
	body := map[string]string{"status": st.String()}
	return c.do(ctx, http.MethodPatch, c.statusPath(userID), body, nil)
}

// Chats lists all chats currently attached to a user.
func (c *Client) Chats(ctx context.Context, userID string) ([]Chat, error) {
	var chats []Chat
	path := fmt.Sprintf("/api/v1/users/%s/chats", url.PathEscape(userID))
	if err := c.do(ctx, http.MethodGet, path, nil, &chats); err != nil {
		return nil, err
	}
	return chats, nil
}

// ActiveChats counts the user's chats in the active state.
func (c *Client) ActiveChats(ctx context.Context, userID string) (int, error) {
	chats, err := c.Chats(ctx, userID)
	if err != nil {
		return 0, err
	}
	count := 0
	for _, ch := range chats {
		if ch.Status == ChatActive {
			count++
		}
	}
	return count, nil
}

func (c *Client) statusPath(userID string) string {
	return fmt.Sprintf("/api/v1/users/%s/status", url.PathEscape(userID))
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshaling request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, reader)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	token, err := c.tokens.Token()
	if err != nil {
		return fmt.Errorf("reading token: %w", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode, bytes.TrimSpace(data))
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decoding response: %w", err)
		}
	}
	return nil
}
