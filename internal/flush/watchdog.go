package flush

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/process"
)

const defaultWatchInterval = 2 * time.Second

// Watchdog watches the companion desk-application process and fires the
// termination notifier when it exits. This covers the crash path: the
// desk app going away means the session is over even though no signal
// reached this process.
type Watchdog struct {
	pid      int32
	interval time.Duration
	notify   func()

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	done    chan struct{}

	alive func(int32) (bool, error) // swapped out in tests
}

// NewWatchdog creates a watchdog for pid. notify is typically
// Flusher.NotifyTermination; the flusher's latch makes double delivery
// harmless.
func NewWatchdog(pid int32, interval time.Duration, notify func()) *Watchdog {
	if interval <= 0 {
		interval = defaultWatchInterval
	}
	return &Watchdog{
		pid:      pid,
		interval: interval,
		notify:   notify,
		alive:    process.PidExists,
	}
}

// Start begins polling. No-op for a zero pid (no companion configured).
func (w *Watchdog) Start(ctx context.Context) {
	if w.pid <= 0 {
		return
	}
	w.mu.Lock()
	if w.started {
		w.mu.Unlock()
		return
	}
	w.started = true
	ctx, w.cancel = context.WithCancel(ctx)
	w.done = make(chan struct{})
	w.mu.Unlock()

	go w.watch(ctx)
}

// Stop ends the polling loop. Idempotent.
func (w *Watchdog) Stop() {
	w.mu.Lock()
	if !w.started {
		w.mu.Unlock()
		return
	}
	w.started = false
	cancel := w.cancel
	done := w.done
	w.mu.Unlock()

	cancel()
	<-done
}

func (w *Watchdog) watch(ctx context.Context) {
	defer close(w.done)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			exists, err := w.alive(w.pid)
			if err != nil {
				log.Printf("[watchdog] checking pid %d: %v", w.pid, err)
				continue
			}
			if !exists {
				log.Printf("[watchdog] companion pid %d gone, flushing", w.pid)
				w.notify()
				return
			}
		}
	}
}
