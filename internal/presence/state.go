package presence

import (
	"sync"
	"time"
)

// ObservationSource identifies which update path produced an observation.
type ObservationSource int

const (
	SourceServer    ObservationSource = iota // reconciliation read of the server record
	SourcePush                               // realtime event for this user
	SourceHeartbeat                          // periodic reconciliation poll
	SourceLocal                              // optimistic local write, update in flight
)

var sourceNames = map[ObservationSource]string{
	SourceServer:    "server",
	SourcePush:      "push",
	SourceHeartbeat: "heartbeat",
	SourceLocal:     "local",
}

func (s ObservationSource) String() string {
	if n, ok := sourceNames[s]; ok {
		return n
	}
	return "unknown"
}

// Observation is one timestamped status reading from a single source.
type Observation struct {
	Status     Status
	Source     ObservationSource
	ObservedAt time.Time
}

// Tracker holds the single current observation for a session. New
// observations supersede the current one whole; they are never merged.
// Supersession is monotonic in ObservedAt: an older reading arriving
// late (a slow poll racing a fresh push or optimistic write) is dropped
// rather than letting arrival order win.
type Tracker struct {
	mu  sync.RWMutex
	cur Observation
	set bool
}

func NewTracker() *Tracker {
	return &Tracker{}
}

// Apply adopts obs as the current observation unless a strictly newer
// one is already held. Returns whether obs was adopted.
func (t *Tracker) Apply(obs Observation) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.set && obs.ObservedAt.Before(t.cur.ObservedAt) {
		return false
	}
	t.cur = obs
	t.set = true
	return true
}

// Current returns the current observation. The second return is false
// before the first Apply.
func (t *Tracker) Current() (Observation, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.cur, t.set
}

// Status returns the currently displayed status value.
func (t *Tracker) Status() (Status, bool) {
	obs, ok := t.Current()
	return obs.Status, ok
}

// Reset clears the tracker back to its unset state. Used on logout when
// the session's presence state is discarded.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cur = Observation{}
	t.set = false
}
