package hub

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/opsdesk/presenced/internal/realtime"
)

type client struct {
	conn *websocket.Conn
	send chan []byte
}

func newClient(conn *websocket.Conn) *client {
	c := &client{
		conn: conn,
		send: make(chan []byte, 64),
	}
	go c.writePump()
	return c
}

func (c *client) writePump() {
	defer c.conn.Close()
	for msg := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			return
		}
	}
}

func (c *client) close() {
	close(c.send)
}

// Broadcaster fans hub events out to connected websocket clients.
// Presence changes are batched through a short throttle window; chat
// assignments go out immediately because they are reconciliation
// triggers. A periodic full snapshot lets clients recover from any
// missed delta.
type Broadcaster struct {
	mu             sync.RWMutex
	clients        map[*client]bool
	store          *Store
	throttle       time.Duration
	snapshotTicker *time.Ticker
	snapshotDone   chan struct{}

	flushMu         sync.Mutex
	pendingPresence []realtime.UserPresence
	flushTimer      *time.Timer
}

func NewBroadcaster(store *Store, throttle, snapshotInterval time.Duration) *Broadcaster {
	b := &Broadcaster{
		clients:      make(map[*client]bool),
		store:        store,
		throttle:     throttle,
		snapshotDone: make(chan struct{}),
	}

	b.snapshotTicker = time.NewTicker(snapshotInterval)
	go b.snapshotLoop()

	return b
}

// Close stops the snapshot loop and disconnects all clients.
func (b *Broadcaster) Close() {
	b.snapshotTicker.Stop()
	close(b.snapshotDone)

	b.mu.Lock()
	for c := range b.clients {
		delete(b.clients, c)
		c.close()
	}
	b.mu.Unlock()
}

func (b *Broadcaster) AddClient(conn *websocket.Conn) *client {
	c := newClient(conn)

	b.mu.Lock()
	b.clients[c] = true
	b.mu.Unlock()

	msg, err := realtime.Marshal(realtime.MsgSnapshot, b.snapshotPayload())
	if err == nil {
		data, _ := json.Marshal(msg)
		select {
		case c.send <- data:
		default:
			// Client too slow, drop the snapshot; the ticker resends.
		}
	}

	return c
}

func (b *Broadcaster) RemoveClient(c *client) {
	b.mu.Lock()
	if _, ok := b.clients[c]; ok {
		delete(b.clients, c)
		c.close()
	}
	b.mu.Unlock()
}

// QueuePresence schedules a presence change for broadcast. Changes
// landing inside one throttle window are batched into a single delta.
func (b *Broadcaster) QueuePresence(rec UserPresence) {
	b.flushMu.Lock()
	defer b.flushMu.Unlock()

	b.pendingPresence = append(b.pendingPresence, wirePresence(rec))

	if b.flushTimer == nil {
		b.flushTimer = time.AfterFunc(b.throttle, b.flushPresence)
	}
}

// ChatAssigned broadcasts a chat assignment immediately.
func (b *Broadcaster) ChatAssigned(chat Chat) {
	msg, err := realtime.Marshal(realtime.MsgChatAssigned, realtime.ChatAssignedPayload{
		UserID:     chat.UserID,
		ChatID:     chat.ID,
		AssignedAt: chat.AssignedAt,
	})
	if err != nil {
		log.Printf("chat broadcast marshal error: %v", err)
		return
	}
	b.broadcast(msg)
}

func (b *Broadcaster) flushPresence() {
	b.flushMu.Lock()
	updates := b.pendingPresence
	b.pendingPresence = nil
	b.flushTimer = nil
	b.flushMu.Unlock()

	if len(updates) == 0 {
		return
	}

	msg, err := realtime.Marshal(realtime.MsgPresenceDelta, realtime.PresenceDeltaPayload{Updates: updates})
	if err != nil {
		log.Printf("presence broadcast marshal error: %v", err)
		return
	}
	b.broadcast(msg)
}

func (b *Broadcaster) snapshotLoop() {
	for {
		select {
		case <-b.snapshotDone:
			return
		case <-b.snapshotTicker.C:
			msg, err := realtime.Marshal(realtime.MsgSnapshot, b.snapshotPayload())
			if err != nil {
				log.Printf("snapshot marshal error: %v", err)
				continue
			}
			b.broadcast(msg)
		}
	}
}

func (b *Broadcaster) snapshotPayload() realtime.SnapshotPayload {
	recs := b.store.AllStatuses()
	users := make([]realtime.UserPresence, len(recs))
	for i, rec := range recs {
		users[i] = wirePresence(rec)
	}
	return realtime.SnapshotPayload{Users: users}
}

func (b *Broadcaster) broadcast(msg realtime.Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		log.Printf("broadcast marshal error: %v", err)
		return
	}

	b.mu.RLock()
	clients := make([]*client, 0, len(b.clients))
	for c := range b.clients {
		clients = append(clients, c)
	}
	b.mu.RUnlock()

	for _, c := range clients {
		select {
		case c.send <- data:
		default:
			// Client can't keep up, disconnect it
			log.Printf("ws client too slow, disconnecting")
			b.RemoveClient(c)
		}
	}
}

func (b *Broadcaster) ClientCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}

func wirePresence(rec UserPresence) realtime.UserPresence {
	return realtime.UserPresence{
		UserID:    rec.UserID,
		Status:    rec.Status.String(),
		UpdatedAt: rec.UpdatedAt,
	}
}
