// Package agent wires the presence components into one supervised
// lifecycle. Logout is the universal cancellation trigger: it fires the
// away flush, clears the credential, and tears every component down.
package agent

import (
	"context"
	"log"
	"sync"

	"github.com/opsdesk/presenced/internal/activity"
	"github.com/opsdesk/presenced/internal/api"
	"github.com/opsdesk/presenced/internal/config"
	"github.com/opsdesk/presenced/internal/flush"
	"github.com/opsdesk/presenced/internal/identity"
	"github.com/opsdesk/presenced/internal/inactivity"
	"github.com/opsdesk/presenced/internal/localstore"
	"github.com/opsdesk/presenced/internal/presence"
	"github.com/opsdesk/presenced/internal/realtime"
)

// Agent supervises one workstation's presence session.
type Agent struct {
	cfg     config.AgentConfig
	store   *localstore.Store
	ids     identity.Provider
	client  *api.Client
	channel *realtime.Client
	tracker *presence.Tracker
	flusher *flush.Flusher

	mu       sync.Mutex
	started  bool
	cancel   context.CancelFunc
	syncer   *presence.Syncer
	monitor  *inactivity.Monitor
	watchdog *flush.Watchdog
	source   activity.Source

	logoutOnce sync.Once
}

// statusCache adapts the local store to the syncer's cache interface.
type statusCache struct {
	store *localstore.Store
}

func (c statusCache) PutStatus(st presence.Status) error {
	return c.store.PutCachedStatus(st.String())
}

func New(cfg config.AgentConfig, store *localstore.Store) (*Agent, error) {
	wsURL, err := cfg.WSURL()
	if err != nil {
		return nil, err
	}

	tokenFn := func() string {
		t, err := store.Token()
		if err != nil {
			return ""
		}
		return t
	}

	a := &Agent{
		cfg:     cfg,
		store:   store,
		ids:     identity.NewStoreProvider(store),
		client:  api.NewClient(cfg.HubURL, store),
		channel: realtime.NewClient(wsURL, tokenFn, cfg.AttachRetry),
		tracker: presence.NewTracker(),
	}

	primary := flush.NewBeaconTransport(cfg.HubURL, store, cfg.FlushTimeout)
	fallback := flush.NewKeepaliveTransport(a.client, cfg.FlushTimeout)
	a.flusher = flush.NewFlusher(a.ids, primary, fallback)

	// Seed the display from the cached status so a restarted agent
	// shows something sensible before its first reconciliation. The
	// cache timestamp keeps any fresher observation winning.
	if cached, ok := store.CachedStatus(); ok {
		if st, valid := presence.ParseStatus(cached.Status); valid {
			a.tracker.Apply(presence.Observation{
				Status:     st,
				Source:     presence.SourceLocal,
				ObservedAt: cached.UpdatedAt,
			})
		}
	}

	return a, nil
}

// Start brings the session's components up. With no stored identity
// there is no session to protect and Start is a silent no-op.
func (a *Agent) Start(ctx context.Context) error {
	id, ok := a.ids.Current()
	if !ok {
		log.Printf("[agent] no session credential, presence idle")
		return nil
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.started {
		return nil
	}
	a.started = true
	ctx, a.cancel = context.WithCancel(ctx)

	log.Printf("[agent] starting presence session for %s (%s)", id.ID, id.Role)

	a.channel.Start(ctx)

	a.syncer = presence.NewSyncer(presence.SyncerConfig{
		UserID:    id.ID,
		Heartbeat: a.cfg.Heartbeat,
	}, a.client, a.channel, a.tracker, statusCache{a.store})
	a.syncer.Start(ctx)

	a.monitor = inactivity.NewMonitor(inactivity.Config{
		IdleTimeout: a.cfg.IdleTimeout,
		WarnSeconds: a.cfg.WarnSeconds,
	}, inactivity.Callbacks{
		Warning: func(remaining int) {
			log.Printf("[agent] inactive, logging out in %ds (signal SIGUSR1 to stay)", remaining)
		},
		Expired: a.Logout,
	})
	a.monitor.Start(id.ID)

	a.watchdog = flush.NewWatchdog(a.cfg.CompanionPID, a.cfg.WatchInterval, a.flusher.NotifyTermination)
	a.watchdog.Start(ctx)

	if a.cfg.ActivityFile != "" {
		src := activity.NewFileSource(a.cfg.ActivityFile)
		if err := src.Start(ctx, a.Touch); err != nil {
			log.Printf("[agent] activity source unavailable: %v", err)
		} else {
			a.source = src
		}
	}

	return nil
}

// Touch forwards an activity signal to the inactivity monitor.
func (a *Agent) Touch() {
	a.mu.Lock()
	m := a.monitor
	a.mu.Unlock()
	if m != nil {
		m.Touch()
	}
}

// Confirm is the explicit "stay logged in" action for the inactivity
// warning.
func (a *Agent) Confirm() {
	a.mu.Lock()
	m := a.monitor
	a.mu.Unlock()
	if m != nil {
		m.Confirm()
	}
}

// NotifyTermination performs the at-most-once away flush. Safe to call
// from signal handlers and from any number of triggers.
func (a *Agent) NotifyTermination() {
	a.flusher.NotifyTermination()
}

// Logout ends the session: flush first (while the credential still
// exists), then credential removal, then component teardown. Idempotent.
func (a *Agent) Logout() {
	a.logoutOnce.Do(func() {
		log.Printf("[agent] logging out")
		a.flusher.NotifyTermination()
		if err := a.store.ClearCredential(); err != nil {
			log.Printf("[agent] clearing credential: %v", err)
		}
		a.Teardown()
		a.tracker.Reset()
	})
}

// Displayed returns the currently displayed status, if any.
func (a *Agent) Displayed() (presence.Status, bool) {
	return a.tracker.Status()
}

// Teardown stops every component. Idempotent; each component's own
// teardown is as well.
func (a *Agent) Teardown() {
	a.mu.Lock()
	if !a.started {
		a.mu.Unlock()
		return
	}
	a.started = false
	monitor := a.monitor
	syncer := a.syncer
	watchdog := a.watchdog
	source := a.source
	cancel := a.cancel
	a.mu.Unlock()

	if monitor != nil {
		monitor.Teardown()
	}
	if syncer != nil {
		syncer.Teardown()
	}
	if watchdog != nil {
		watchdog.Stop()
	}
	if source != nil {
		source.Stop()
	}
	a.channel.Close()
	cancel()
}
