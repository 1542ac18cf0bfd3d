// Package inactivity converts raw activity signals into a bounded
// warn-then-expire decision ending in forced logout.
package inactivity

import (
	"log"
	"sync"
	"time"
)

// Phase is the state of the warn-then-expire machine.
type Phase int

const (
	Active  Phase = iota // activity resets the idle delay
	Warning              // countdown running; ordinary activity ignored
	Expired              // logout fired; terminal until a full reset
)

var phaseNames = map[Phase]string{
	Active:  "active",
	Warning: "warning",
	Expired: "expired",
}

func (p Phase) String() string {
	if n, ok := phaseNames[p]; ok {
		return n
	}
	return "unknown"
}

// Callbacks are the monitor's outward effects. Warning fires on entry
// to the warning phase with the full countdown value; Tick fires once
// per second with the remaining value; Expired fires exactly once when
// the countdown runs out. All callbacks run outside the monitor's lock.
type Callbacks struct {
	Warning func(remaining int)
	Tick    func(remaining int)
	Expired func()
}

// Config holds the two timeline knobs.
type Config struct {
	IdleTimeout time.Duration // silence before the warning appears
	WarnSeconds int           // countdown length once warned
}

// Monitor is the single-session inactivity state machine. One idle
// timer handle and one countdown goroutine are the only suspension
// points; both are cleared under the mutex before any phase change, so
// a cleared timer can never fire into a later cycle.
type Monitor struct {
	cfg       Config
	cb        Callbacks
	tickEvery time.Duration // countdown resolution; overridden in tests

	mu           sync.Mutex
	running      bool
	phase        Phase
	remaining    int
	lastActivity time.Time
	idleTimer    *time.Timer
	stopTick     chan struct{} // closed to end the countdown goroutine
}

func NewMonitor(cfg Config, cb Callbacks) *Monitor {
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = 10 * time.Minute
	}
	if cfg.WarnSeconds <= 0 {
		cfg.WarnSeconds = 60
	}
	return &Monitor{cfg: cfg, cb: cb, tickEvery: time.Second}
}

// Start arms the idle timer. No-op when userID is empty — with nobody
// logged in there is no session to protect.
func (m *Monitor) Start(userID string) {
	if userID == "" {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return
	}
	m.running = true
	m.phase = Active
	m.lastActivity = time.Now()
	m.idleTimer = time.AfterFunc(m.cfg.IdleTimeout, m.idleExpired)
}

// Touch records an activity signal. In Active it resets the idle delay;
// the single timer handle makes rapid bursts coalesce into one reset.
// In Warning it is deliberately ignored: a user moving the mouse while
// reading the warning must not silently dismiss it.
func (m *Monitor) Touch() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.running || m.phase != Active {
		return
	}
	m.lastActivity = time.Now()
	m.idleTimer.Stop()
	m.idleTimer.Reset(m.cfg.IdleTimeout)
}

// Confirm is the explicit "stay logged in" action. Only valid in
// Warning: it clears the countdown and re-enters Active with a fresh
// idle delay. A confirmation racing the final tick loses or wins
// atomically under the lock; there is no window where both apply.
func (m *Monitor) Confirm() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.running || m.phase != Warning {
		return
	}
	m.stopCountdownLocked()
	m.phase = Active
	m.remaining = 0
	m.lastActivity = time.Now()
	m.idleTimer.Stop()
	m.idleTimer.Reset(m.cfg.IdleTimeout)
	log.Printf("[inactivity] warning confirmed, session kept alive")
}

// Teardown clears all timers. Idempotent; after it returns no callback
// will fire.
func (m *Monitor) Teardown() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.running {
		return
	}
	m.running = false
	if m.idleTimer != nil {
		m.idleTimer.Stop()
	}
	m.stopCountdownLocked()
}

// Phase returns the current phase.
func (m *Monitor) Phase() Phase {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.phase
}

// Remaining returns the countdown value; meaningful only in Warning.
func (m *Monitor) Remaining() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.remaining
}

// LastActivity returns the time of the last counted activity signal.
func (m *Monitor) LastActivity() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastActivity
}

// idleExpired fires when IdleTimeout elapses with no Touch.
func (m *Monitor) idleExpired() {
	m.mu.Lock()
	if !m.running || m.phase != Active {
		m.mu.Unlock()
		return
	}
	m.phase = Warning
	m.remaining = m.cfg.WarnSeconds
	stop := make(chan struct{})
	m.stopTick = stop
	warn := m.cb.Warning
	remaining := m.remaining
	m.mu.Unlock()

	log.Printf("[inactivity] idle for %v, warning with %ds to logout", m.cfg.IdleTimeout, remaining)
	if warn != nil {
		warn(remaining)
	}
	go m.countdown(stop)
}

func (m *Monitor) countdown(stop chan struct{}) {
	ticker := time.NewTicker(m.tickEvery)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if m.tick(stop) {
				return
			}
		}
	}
}

// tick decrements the countdown. Expiry is decided here, inside the
// tick itself, so countdown completion and confirmation are mutually
// exclusive transitions out of Warning. Returns true when the countdown
// goroutine should exit.
func (m *Monitor) tick(stop chan struct{}) bool {
	m.mu.Lock()
	if !m.running || m.phase != Warning || m.stopTick != stop {
		m.mu.Unlock()
		return true
	}
	m.remaining--
	if m.remaining <= 0 {
		m.phase = Expired
		m.remaining = 0
		m.stopTick = nil
		m.idleTimer.Stop()
		expired := m.cb.Expired
		m.mu.Unlock()

		log.Printf("[inactivity] countdown expired, forcing logout")
		if expired != nil {
			expired()
		}
		return true
	}
	tickCB := m.cb.Tick
	remaining := m.remaining
	m.mu.Unlock()

	if tickCB != nil {
		tickCB(remaining)
	}
	return false
}

// stopCountdownLocked ends any running countdown goroutine. Caller
// holds m.mu.
func (m *Monitor) stopCountdownLocked() {
	if m.stopTick != nil {
		close(m.stopTick)
		m.stopTick = nil
	}
}
