package realtime

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeTimeout = 10 * time.Second
	pongTimeout  = 60 * time.Second
	pingInterval = 30 * time.Second
)

// ConnState is the connection-lifecycle state of a Client. "Is the
// channel ready" is tracked explicitly rather than inferred from
// whether a retry loop happens to be running.
type ConnState int

const (
	Disconnected ConnState = iota
	Attaching
	Attached
)

var connStateNames = map[ConnState]string{
	Disconnected: "disconnected",
	Attaching:    "attaching",
	Attached:     "attached",
}

func (s ConnState) String() string {
	if n, ok := connStateNames[s]; ok {
		return n
	}
	return "unknown"
}

// Client maintains a websocket connection to the hub's event stream and
// dispatches decoded events to subscribed handlers. The connection may
// not be available at startup; the client retries attachment on a fixed
// interval until it succeeds, and reattaches the same way after a drop.
type Client struct {
	Dispatcher

	url   string
	token func() string // read at dial time; tokens rotate
	retry time.Duration

	mu      sync.Mutex
	state   ConnState
	conn    *websocket.Conn
	started bool
	cancel  context.CancelFunc
	done    chan struct{}

	writeMu sync.Mutex // serialises all conn writes (pings)
}

// NewClient creates a client for the given websocket URL. token is
// called at each dial; pass nil for unauthenticated streams. retry is
// the fixed interval between attachment attempts.
func NewClient(url string, token func() string, retry time.Duration) *Client {
	if retry <= 0 {
		retry = time.Second
	}
	return &Client{url: url, token: token, retry: retry, done: make(chan struct{})}
}

// Start launches the attach/read loop. Idempotent; the loop runs until
// ctx is cancelled or Close is called.
func (c *Client) Start(ctx context.Context) {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return
	}
	c.started = true
	ctx, c.cancel = context.WithCancel(ctx)
	c.mu.Unlock()

	go c.run(ctx)
}

// Close tears the connection down and stops the retry loop. Idempotent.
func (c *Client) Close() {
	c.mu.Lock()
	cancel := c.cancel
	conn := c.conn
	started := c.started
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	if conn != nil {
		conn.Close()
	}
	if started {
		<-c.done
	}
}

// State returns the current connection-lifecycle state.
func (c *Client) State() ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Client) setState(s ConnState) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

func (c *Client) run(ctx context.Context) {
	defer close(c.done)
	defer c.setState(Disconnected)

	for {
		if ctx.Err() != nil {
			return
		}

		c.setState(Attaching)
		conn, err := c.dial(ctx)
		if err != nil {
			c.setState(Disconnected)
			log.Printf("[realtime] attach failed: %v (retry in %v)", err, c.retry)
			select {
			case <-ctx.Done():
				return
			case <-time.After(c.retry):
			}
			continue
		}

		c.mu.Lock()
		c.conn = conn
		c.state = Attached
		c.mu.Unlock()
		log.Printf("[realtime] attached to %s", c.url)

		pingCtx, pingCancel := context.WithCancel(ctx)
		go c.pingLoop(pingCtx, conn)

		c.readLoop(conn)
		pingCancel()
		conn.Close()

		c.mu.Lock()
		c.conn = nil
		c.state = Disconnected
		c.mu.Unlock()

		select {
		case <-ctx.Done():
			return
		case <-time.After(c.retry):
		}
	}
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	header := http.Header{}
	if c.token != nil {
		if t := c.token(); t != "" {
			header.Set("Authorization", "Bearer "+t)
		}
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.url, header)
	return conn, err
}

func (c *Client) readLoop(conn *websocket.Conn) {
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongTimeout))
		return nil
	})
	conn.SetReadDeadline(time.Now().Add(pongTimeout))

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}

		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		c.dispatchMessage(msg)
	}
}

// dispatchMessage decodes a wire message into events. Snapshot entries
// are delivered as ordinary presence events; their server timestamps
// let consumers drop stale values.
func (c *Client) dispatchMessage(msg Message) {
	switch msg.Type {
	case MsgSnapshot:
		var p SnapshotPayload
		if json.Unmarshal(msg.Payload, &p) != nil {
			return
		}
		for _, u := range p.Users {
			c.Dispatch(Event{Name: EventPresenceChanged, UserID: u.UserID, Status: u.Status, At: u.UpdatedAt})
		}
	case MsgPresenceDelta:
		var p PresenceDeltaPayload
		if json.Unmarshal(msg.Payload, &p) != nil {
			return
		}
		for _, u := range p.Updates {
			c.Dispatch(Event{Name: EventPresenceChanged, UserID: u.UserID, Status: u.Status, At: u.UpdatedAt})
		}
	case MsgChatAssigned:
		var p ChatAssignedPayload
		if json.Unmarshal(msg.Payload, &p) != nil {
			return
		}
		c.Dispatch(Event{Name: EventChatAssigned, UserID: p.UserID, ChatID: p.ChatID, At: p.AssignedAt})
	}
}

// pingLoop sends periodic pings on conn until the context is cancelled.
func (c *Client) pingLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.writeMu.Lock()
			conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			err := conn.WriteMessage(websocket.PingMessage, nil)
			c.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}
