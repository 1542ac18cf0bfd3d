package realtime

import (
	"sync"
	"time"
)

// Event names handlers can subscribe to.
const (
	EventPresenceChanged = "presence_changed"
	EventChatAssigned    = "chat_assigned"
)

// Event is a single realtime notification delivered to handlers.
type Event struct {
	Name   string
	UserID string
	Status string
	ChatID string
	At     time.Time
}

// Handler receives events for one subscribed name.
type Handler func(Event)

// Subscription identifies one registered handler so it can be removed.
// Go function values are not comparable, so deregistration goes through
// the token returned by On rather than the handler itself.
type Subscription struct {
	name    string
	handler Handler
}

// Channel is the publish/subscribe surface consumers depend on. The
// websocket Client is the production implementation; tests use a fake.
type Channel interface {
	On(name string, h Handler) *Subscription
	Off(sub *Subscription)
}

// Dispatcher implements the handler-registry half of Channel. It is
// embedded by Client and usable standalone as a test fake.
type Dispatcher struct {
	mu   sync.Mutex
	subs map[string][]*Subscription
}

func (d *Dispatcher) On(name string, h Handler) *Subscription {
	sub := &Subscription{name: name, handler: h}
	d.mu.Lock()
	if d.subs == nil {
		d.subs = make(map[string][]*Subscription)
	}
	d.subs[name] = append(d.subs[name], sub)
	d.mu.Unlock()
	return sub
}

func (d *Dispatcher) Off(sub *Subscription) {
	if sub == nil {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	list := d.subs[sub.name]
	for i, s := range list {
		if s == sub {
			d.subs[sub.name] = append(list[:i], list[i+1:]...)
			return
		}
	}
}

// Dispatch delivers ev to every handler registered for ev.Name. The
// handler list is snapshotted under the lock so a handler may call Off
// during delivery.
func (d *Dispatcher) Dispatch(ev Event) {
	d.mu.Lock()
	list := append([]*Subscription(nil), d.subs[ev.Name]...)
	d.mu.Unlock()
	for _, s := range list {
		s.handler(ev)
	}
}
