package hub

import (
	"context"
	"log"
	"math/rand"
	"time"
)

// Demo synthesizes chat churn for a fixed set of users so agents can be
// exercised without a real desk platform: chats are assigned and closed
// at random, driving the agents' busy/available derivation.
type Demo struct {
	store       *Store
	broadcaster *Broadcaster
	users       []string
	interval    time.Duration
	rng         *rand.Rand
}

func NewDemo(store *Store, broadcaster *Broadcaster, users []string, interval time.Duration) *Demo {
	if interval <= 0 {
		interval = 3 * time.Second
	}
	return &Demo{
		store:       store,
		broadcaster: broadcaster,
		users:       users,
		interval:    interval,
		rng:         rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (d *Demo) Start(ctx context.Context) {
	if len(d.users) == 0 {
		return
	}
	go d.run(ctx)
}

func (d *Demo) run(ctx context.Context) {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	log.Printf("Demo traffic for users: %v", d.users)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.step()
		}
	}
}

func (d *Demo) step() {
	user := d.users[d.rng.Intn(len(d.users))]

	// Bias toward assignment until the user has a few chats, then
	// toward closing, so counts wander between 0 and ~3.
	active := d.store.ChatsFor(user)
	var open []Chat
	for _, c := range active {
		if c.Status == ChatActive {
			open = append(open, c)
		}
	}

	if len(open) == 0 || (len(open) < 3 && d.rng.Intn(2) == 0) {
		chat := d.store.AssignChat(user)
		d.broadcaster.ChatAssigned(chat)
		log.Printf("[demo] assigned chat %s to %s", chat.ID, user)
		return
	}

	victim := open[d.rng.Intn(len(open))]
	if _, ok := d.store.CloseChat(victim.ID); ok {
		log.Printf("[demo] closed chat %s for %s", victim.ID, user)
	}
}
