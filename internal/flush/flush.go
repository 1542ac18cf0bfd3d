// Package flush guarantees a single best-effort "status = away" send
// when the session terminates, however it terminates: explicit logout,
// an OS shutdown signal, or the desk application dying underneath us.
package flush

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"sync/atomic"
	"time"

	"github.com/opsdesk/presenced/internal/api"
	"github.com/opsdesk/presenced/internal/identity"
	"github.com/opsdesk/presenced/internal/presence"
)

// ErrUnavailable reports that a transport cannot deliver in the current
// environment; the flusher then tries the next one. It is a condition,
// not a failure.
var ErrUnavailable = errors.New("flush: transport unavailable")

// Transport delivers the away status for one user.
type Transport interface {
	Send(userID string, st presence.Status) error
}

// Flusher owns the single-use termination latch. However many
// termination signals fire, and from whichever goroutines, the network
// effect happens at most once per session lifetime.
type Flusher struct {
	ids      identity.Provider
	primary  Transport
	fallback Transport
	sent     atomic.Bool
}

func NewFlusher(ids identity.Provider, primary, fallback Transport) *Flusher {
	return &Flusher{ids: ids, primary: primary, fallback: fallback}
}

// NotifyTermination performs the away flush on its first call and is a
// no-op on every later one. With no identity there is no session to
// flush, and the latch is left untaken so a later real termination
// still gets its one send.
func (f *Flusher) NotifyTermination() {
	id, ok := f.ids.Current()
	if !ok {
		return
	}
	if !f.sent.CompareAndSwap(false, true) {
		return
	}

	err := f.send(f.primary, id.ID)
	if errors.Is(err, ErrUnavailable) {
		err = f.send(f.fallback, id.ID)
	}
	if err != nil {
		// Best-effort by contract: a lost flush leaves the server to
		// age the session out on its own.
		log.Printf("[flush] away flush failed: %v", err)
		return
	}
	log.Printf("[flush] away status flushed for %s", id.ID)
}

// Sent reports whether the flush has fired this session.
func (f *Flusher) Sent() bool {
	return f.sent.Load()
}

func (f *Flusher) send(t Transport, userID string) error {
	if t == nil {
		return ErrUnavailable
	}
	return t.Send(userID, presence.Away)
}

// BeaconTransport is the primary, unload-safe delivery path: a
// dedicated short-deadline HTTP client detached from the normal request
// machinery, so it keeps working while the rest of the agent is already
// tearing down. It ignores the response beyond the status line.
type BeaconTransport struct {
	base    string
	tokens  api.TokenSource
	httpc   *http.Client
	timeout time.Duration
}

// NewBeaconTransport creates a beacon transport for the API at baseURL.
// timeout bounds the whole send; keep it short, the process is exiting.
func NewBeaconTransport(baseURL string, tokens api.TokenSource, timeout time.Duration) *BeaconTransport {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &BeaconTransport{
		base:    baseURL,
		tokens:  tokens,
		httpc:   &http.Client{Timeout: timeout},
		timeout: timeout,
	}
}

func (t *BeaconTransport) Send(userID string, st presence.Status) error {
	if t.base == "" {
		return ErrUnavailable
	}

	body, err := json.Marshal(map[string]string{"status": st.String()})
	if err != nil {
		return fmt.Errorf("marshaling payload: %w", err)
	}

	// context.Background on purpose: the agent's root context is
	// cancelled during teardown and must not cancel the flush with it.
	path := fmt.Sprintf("%s/api/v1/users/%s/status", t.base, url.PathEscape(userID))
	req, err := http.NewRequestWithContext(context.Background(), http.MethodPatch, path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	// The token is read here, at send time, not captured earlier: the
	// platform may have rotated it since the transport was built.
	token, err := t.tokens.Token()
	if err != nil {
		return fmt.Errorf("reading token: %w", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := t.httpc.Do(req)
	if err != nil {
		return err
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("beacon send: status %d", resp.StatusCode)
	}
	return nil
}

// KeepaliveTransport is the blocking fallback: the ordinary API client
// with a bounded deadline.
type KeepaliveTransport struct {
	client  *api.Client
	timeout time.Duration
}

func NewKeepaliveTransport(client *api.Client, timeout time.Duration) *KeepaliveTransport {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &KeepaliveTransport{client: client, timeout: timeout}
}

func (t *KeepaliveTransport) Send(userID string, st presence.Status) error {
	if t.client == nil {
		return ErrUnavailable
	}
	ctx, cancel := context.WithTimeout(context.Background(), t.timeout)
	defer cancel()
	return t.client.SetUserStatus(ctx, userID, st)
}
