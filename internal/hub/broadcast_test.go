package hub

import (
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

// attachClient connects a raw websocket client through a bare upgrade
// handler wired straight into the broadcaster.
func attachClient(t *testing.T, b *Broadcaster) *websocket.Conn {
	t.Helper()
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		b.AddClient(conn)
	}))
	t.Cleanup(srv.Close)

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) realtime.Message {
	t.Helper()
	var msg realtime.Message
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read: %v", err)
	}
	return msg
}

// Presence changes landing inside one throttle window are coalesced
// into a single delta message.
func TestBroadcastThrottleBatches(t *testing.T) {
	store := NewStore()
	b := NewBroadcaster(store, 50*time.Millisecond, time.Hour)
	defer b.Close()

	conn := attachClient(t, b)
	if msg := readMessage(t, conn); msg.Type != realtime.MsgSnapshot {
		t.Fatalf("first message = %s, want snapshot", msg.Type)
	}

	b.QueuePresence(store.SetStatus("u1", presence.Busy))
	b.QueuePresence(store.SetStatus("u2", presence.Away))
	b.QueuePresence(store.SetStatus("u3", presence.Available))

	msg := readMessage(t, conn)
	if msg.Type != realtime.MsgPresenceDelta {
		t.Fatalf("message type = %s, want presence_delta", msg.Type)
	}
	var p realtime.PresenceDeltaPayload
	json.Unmarshal(msg.Payload, &p)
	if len(p.Updates) != 3 {
		t.Errorf("batched updates = %d, want 3", len(p.Updates))
	}
}

func TestBroadcastChatAssignedImmediate(t *testing.T) {
	store := NewStore()
	b := NewBroadcaster(store, time.Hour, time.Hour) // throttle must not delay chats
	defer b.Close()

	conn := attachClient(t, b)
	readMessage(t, conn) // snapshot

	chat := store.AssignChat("u1")
	b.ChatAssigned(chat)

	msg := readMessage(t, conn)
	if msg.Type != realtime.MsgChatAssigned {
		t.Fatalf("message type = %s, want chat_assigned", msg.Type)
	}
	var p realtime.ChatAssignedPayload
	json.Unmarshal(msg.Payload, &p)
	if p.UserID != "u1" || p.ChatID != chat.ID {
		t.Errorf("payload = %+v", p)
	}
}

func TestBroadcastPeriodicSnapshot(t *testing.T) {
	store := NewStore()
	store.SetStatus("u1", presence.Busy)
	b := NewBroadcaster(store, time.Hour, 30*time.Millisecond)
	defer b.Close()

	conn := attachClient(t, b)
	readMessage(t, conn) // connect snapshot

	msg := readMessage(t, conn) // ticker snapshot
	if msg.Type != realtime.MsgSnapshot {
		t.Errorf("message type = %s, want snapshot", msg.Type)
	}
}

func TestBroadcastClientCount(t *testing.T) {
	store := NewStore()
	b := NewBroadcaster(store, time.Hour, time.Hour)
	defer b.Close()

	conn := attachClient(t, b)
	deadline := time.Now().Add(2 * time.Second)
	for b.ClientCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(2 * time.Millisecond)
	}
	if got := b.ClientCount(); got != 1 {
		t.Fatalf("ClientCount = %d, want 1", got)
	}
	conn.Close()
}
