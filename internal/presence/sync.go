package presence

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/opsdesk/presenced/internal/realtime"
)

// StatusRecord is the server's recorded status for a user.
type StatusRecord struct {
	Status    Status
	UpdatedAt time.Time
}

// API is the slice of the platform's REST surface that reconciliation
// needs.
type API interface {
	UserStatus(ctx context.Context, userID string) (StatusRecord, error)
	SetUserStatus(ctx context.Context, userID string, st Status) error
	ActiveChats(ctx context.Context, userID string) (int, error)
}

// StatusCache persists the displayed status for continuity across
// restarts. Writes are best-effort.
type StatusCache interface {
	PutStatus(st Status) error
}

// SyncerConfig holds the knobs for a Syncer.
type SyncerConfig struct {
	UserID    string
	Heartbeat time.Duration
}

// Syncer keeps one agent session's displayed status consistent with the
// server. Three update paths feed it: the count-derived reconciliation
// rule, pushed presence events from other sessions, and a fixed-interval
// heartbeat poll that repeats reconciliation regardless of push health.
// The heartbeat is the primary defense against missed or duplicated
// push events.
type Syncer struct {
	cfg     SyncerConfig
	api     API
	channel realtime.Channel
	tracker *Tracker
	cache   StatusCache // may be nil

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	done    chan struct{}
	subs    []*realtime.Subscription
}

func NewSyncer(cfg SyncerConfig, api API, channel realtime.Channel, tracker *Tracker, cache StatusCache) *Syncer {
	if cfg.Heartbeat <= 0 {
		cfg.Heartbeat = 5 * time.Second
	}
	return &Syncer{cfg: cfg, api: api, channel: channel, tracker: tracker, cache: cache}
}

// Start subscribes to the realtime channel and begins the heartbeat
// loop. No-op when the config carries no user ID (nobody logged in).
func (s *Syncer) Start(ctx context.Context) {
	if s.cfg.UserID == "" {
		return
	}

	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return
	}
	s.started = true
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	s.subs = []*realtime.Subscription{
		s.channel.On(realtime.EventPresenceChanged, s.ApplyPush),
		s.channel.On(realtime.EventChatAssigned, func(ev realtime.Event) {
			if ev.UserID != s.cfg.UserID {
				return
			}
			// Assignment only triggers a fresh reconciliation; the
			// busy/available decision always comes from the rule.
			go s.reconcileLogged(ctx, SourceServer)
		}),
	}
	s.mu.Unlock()

	go s.loop(ctx)
}

// Teardown deregisters channel handlers and stops the heartbeat.
// Idempotent; safe to call from any goroutine.
func (s *Syncer) Teardown() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	cancel := s.cancel
	done := s.done
	subs := s.subs
	s.subs = nil
	s.mu.Unlock()

	for _, sub := range subs {
		s.channel.Off(sub)
	}
	cancel()
	<-done
}

// Displayed returns the current displayed status, if one has been
// observed yet.
func (s *Syncer) Displayed() (Status, bool) {
	return s.tracker.Status()
}

func (s *Syncer) loop(ctx context.Context) {
	defer close(s.done)

	s.reconcileLogged(ctx, SourceServer)

	ticker := time.NewTicker(s.cfg.Heartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.reconcileLogged(ctx, SourceHeartbeat)
		}
	}
}

// Reconcile runs one reconciliation cycle against the server.
func (s *Syncer) Reconcile(ctx context.Context) error {
	return s.reconcile(ctx, SourceServer)
}

// reconcileLogged swallows reconciliation failures: presence sync is
// best-effort and must never interrupt the session. The stale value
// stays displayed until the next successful cycle.
func (s *Syncer) reconcileLogged(ctx context.Context, src ObservationSource) {
	if err := s.reconcile(ctx, src); err != nil && ctx.Err() == nil {
		log.Printf("[sync] reconcile failed: %v", err)
	}
}

func (s *Syncer) reconcile(ctx context.Context, src ObservationSource) error {
	userID := s.cfg.UserID

	var (
		wg       sync.WaitGroup
		rec      StatusRecord
		recErr   error
		count    int
		countErr error
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		rec, recErr = s.api.UserStatus(ctx, userID)
	}()
	go func() {
		defer wg.Done()
		count, countErr = s.api.ActiveChats(ctx, userID)
	}()
	wg.Wait()

	if recErr != nil {
		return fmt.Errorf("fetching status: %w", recErr)
	}
	if countErr != nil {
		return fmt.Errorf("fetching chats: %w", countErr)
	}

	now := time.Now()
	serverAt := rec.UpdatedAt
	if serverAt.IsZero() {
		serverAt = now
	}

	// Away is sticky: the count rule never pulls a user out of away.
	// Only an explicit status action or activity resumption does.
	if rec.Status == Away {
		s.adopt(Observation{Status: Away, Source: src, ObservedAt: serverAt})
		return nil
	}

	target := Available
	if count > 0 {
		target = Busy
	}

	if target != rec.Status {
		if err := s.api.SetUserStatus(ctx, userID, target); err != nil {
			return fmt.Errorf("updating status to %s: %w", target, err)
		}
		s.adopt(Observation{Status: target, Source: SourceLocal, ObservedAt: now})
		return nil
	}

	s.adopt(Observation{Status: rec.Status, Source: src, ObservedAt: serverAt})
	return nil
}

// ApplyPush adopts a pushed presence event for this user directly,
// bypassing reconciliation: push is authoritative and lower latency.
// Events for other users are ignored.
func (s *Syncer) ApplyPush(ev realtime.Event) {
	if ev.UserID != s.cfg.UserID {
		return
	}
	st, ok := ParseStatus(ev.Status)
	if !ok {
		return
	}
	at := ev.At
	if at.IsZero() {
		at = time.Now()
	}
	s.adopt(Observation{Status: st, Source: SourcePush, ObservedAt: at})
}

// adopt applies the observation through the monotonic tracker and, when
// it wins, mirrors the value into the display cache.
func (s *Syncer) adopt(obs Observation) {
	if !s.tracker.Apply(obs) {
		return
	}
	if s.cache != nil {
		if err := s.cache.PutStatus(obs.Status); err != nil {
			log.Printf("[sync] caching status: %v", err)
		}
	}
}
