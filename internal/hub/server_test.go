package hub

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/opsdesk/presenced/internal/presence"
	"github.com/opsdesk/presenced/internal/realtime"
)

func newTestHub(t *testing.T, authToken string) (*httptest.Server, *Store, *Broadcaster) {
	t.Helper()
	store := NewStore()
	broadcaster := NewBroadcaster(store, 10*time.Millisecond, time.Hour)
	t.Cleanup(broadcaster.Close)

	server := NewServer(store, broadcaster, nil, authToken)
	mux := http.NewServeMux()
	server.SetupRoutes(mux)

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, store, broadcaster
}

func TestStatusGetDefaultsToAvailable(t *testing.T) {
	srv, _, _ := newTestHub(t, "")

	resp, err := http.Get(srv.URL + "/api/v1/users/u1/status")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var rec UserPresence
	if err := json.NewDecoder(resp.Body).Decode(&rec); err != nil {
		t.Fatal(err)
	}
	if rec.UserID != "u1" || rec.Status != presence.Available {
		t.Errorf("record = %+v, want u1 available", rec)
	}
}

func TestStatusPatch(t *testing.T) {
	srv, store, _ := newTestHub(t, "")

	req, _ := http.NewRequest(http.MethodPatch, srv.URL+"/api/v1/users/u1/status",
		strings.NewReader(`{"status":"busy"}`))
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var rec UserPresence
	json.NewDecoder(resp.Body).Decode(&rec)
	if rec.Status != presence.Busy || rec.UpdatedAt.IsZero() {
		t.Errorf("record = %+v", rec)
	}

	if got, _ := store.Status("u1"); got.Status != presence.Busy {
		t.Errorf("store status = %v", got.Status)
	}
}

func TestStatusPatchRejectsUnknownStatus(t *testing.T) {
	srv, _, _ := newTestHub(t, "")

	req, _ := http.NewRequest(http.MethodPatch, srv.URL+"/api/v1/users/u1/status",
		strings.NewReader(`{"status":"sleeping"}`))
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestChatAssignAndClose(t *testing.T) {
	srv, store, _ := newTestHub(t, "")

	resp, err := http.Post(srv.URL+"/api/v1/chats", "application/json",
		bytes.NewReader([]byte(`{"userId":"u1"}`)))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("assign status = %d, want 201", resp.StatusCode)
	}
	var chat Chat
	json.NewDecoder(resp.Body).Decode(&chat)
	if chat.UserID != "u1" || chat.Status != ChatActive {
		t.Fatalf("chat = %+v", chat)
	}

	if got := store.ActiveChatCount("u1"); got != 1 {
		t.Errorf("active chats = %d", got)
	}

	req, _ := http.NewRequest(http.MethodDelete, srv.URL+"/api/v1/chats/"+chat.ID, nil)
	resp2, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp2.Body.Close()
	if resp2.StatusCode != http.StatusOK {
		t.Errorf("close status = %d", resp2.StatusCode)
	}
	if got := store.ActiveChatCount("u1"); got != 0 {
		t.Errorf("active chats after close = %d", got)
	}
}

func TestChatCloseUnknown(t *testing.T) {
	srv, _, _ := newTestHub(t, "")

	req, _ := http.NewRequest(http.MethodDelete, srv.URL+"/api/v1/chats/nope", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

func TestUserChats(t *testing.T) {
	srv, store, _ := newTestHub(t, "")
	store.AssignChat("u1")

	resp, err := http.Get(srv.URL + "/api/v1/users/u1/chats")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var chats []Chat
	json.NewDecoder(resp.Body).Decode(&chats)
	if len(chats) != 1 {
		t.Errorf("chats = %v", chats)
	}

	// A user without chats gets an empty array, not null.
	resp2, err := http.Get(srv.URL + "/api/v1/users/u2/chats")
	if err != nil {
		t.Fatal(err)
	}
	defer resp2.Body.Close()
	body := new(bytes.Buffer)
	body.ReadFrom(resp2.Body)
	if strings.TrimSpace(body.String()) == "null" {
		t.Error("empty chat list encoded as null")
	}
}

func TestAuthorization(t *testing.T) {
	srv, _, _ := newTestHub(t, "secret")

	tests := []struct {
		name   string
		mutate func(*http.Request)
		wantOK bool
	}{
		{"no credentials", func(r *http.Request) {}, false},
		{"wrong bearer", func(r *http.Request) { r.Header.Set("Authorization", "Bearer nope") }, false},
		{"bearer", func(r *http.Request) { r.Header.Set("Authorization", "Bearer secret") }, true},
		{"header", func(r *http.Request) { r.Header.Set("X-Presence-Token", "secret") }, true},
		{"query", func(r *http.Request) {
			q := r.URL.Query()
			q.Set("token", "secret")
			r.URL.RawQuery = q.Encode()
		}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, _ := http.NewRequest(http.MethodGet, srv.URL+"/api/v1/users/u1/status", nil)
			tt.mutate(req)
			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				t.Fatal(err)
			}
			resp.Body.Close()
			gotOK := resp.StatusCode == http.StatusOK
			if gotOK != tt.wantOK {
				t.Errorf("status = %d, want ok=%v", resp.StatusCode, tt.wantOK)
			}
		})
	}
}

func TestWSRequiresAuth(t *testing.T) {
	srv, _, _ := newTestHub(t, "secret")
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"

	if _, resp, err := websocket.DefaultDialer.Dial(wsURL, nil); err == nil {
		t.Error("unauthenticated ws dial succeeded")
	} else if resp != nil && resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("ws dial status = %d, want 401", resp.StatusCode)
	}

	conn, _, err := websocket.DefaultDialer.Dial(wsURL+"?token=secret", nil)
	if err != nil {
		t.Fatalf("authenticated ws dial: %v", err)
	}
	conn.Close()
}

func TestWSReceivesSnapshotOnConnect(t *testing.T) {
	srv, store, _ := newTestHub(t, "")
	store.SetStatus("u1", presence.Busy)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg realtime.Message
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatal(err)
	}
	if msg.Type != realtime.MsgSnapshot {
		t.Fatalf("first message type = %s, want snapshot", msg.Type)
	}
	var p realtime.SnapshotPayload
	json.Unmarshal(msg.Payload, &p)
	if len(p.Users) != 1 || p.Users[0].UserID != "u1" || p.Users[0].Status != "busy" {
		t.Errorf("snapshot = %+v", p)
	}
}

// A PATCH through the REST surface reaches attached agents as a
// presence delta.
func TestWSPresenceDeltaAfterPatch(t *testing.T) {
	srv, _, _ := newTestHub(t, "")
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"

	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(3 * time.Second))

	var msg realtime.Message
	if err := conn.ReadJSON(&msg); err != nil || msg.Type != realtime.MsgSnapshot {
		t.Fatalf("initial snapshot: %v (%s)", err, msg.Type)
	}

	req, _ := http.NewRequest(http.MethodPatch, srv.URL+"/api/v1/users/u1/status",
		strings.NewReader(`{"status":"away"}`))
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()

	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatal(err)
	}
	if msg.Type != realtime.MsgPresenceDelta {
		t.Fatalf("message type = %s, want presence_delta", msg.Type)
	}
	var p realtime.PresenceDeltaPayload
	json.Unmarshal(msg.Payload, &p)
	if len(p.Updates) != 1 || p.Updates[0].UserID != "u1" || p.Updates[0].Status != "away" {
		t.Errorf("delta = %+v", p)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	srv, _, _ := newTestHub(t, "")

	for _, tc := range []struct {
		method, path string
	}{
		{http.MethodDelete, "/api/v1/users/u1/status"},
		{http.MethodGet, "/api/v1/chats"},
		{http.MethodPost, "/api/v1/chats/abc"},
	} {
		req, _ := http.NewRequest(tc.method, srv.URL+tc.path, nil)
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusMethodNotAllowed {
			t.Errorf("%s %s = %d, want 405", tc.method, tc.path, resp.StatusCode)
		}
	}
}

func TestUserRoutesNotFound(t *testing.T) {
	srv, _, _ := newTestHub(t, "")

	for _, path := range []string{"/api/v1/users/u1", "/api/v1/users/u1/unknown"} {
		resp, err := http.Get(srv.URL + path)
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusNotFound {
			t.Errorf("GET %s = %d, want 404", path, resp.StatusCode)
		}
	}
}
