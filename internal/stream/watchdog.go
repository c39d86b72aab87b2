package stream

import (
	"context"
	"sync"
	"time"
)

// DefaultIdleTimeout is how long the stream may go without a byte before the
// current iteration is cancelled.
const DefaultIdleTimeout = 120 * time.Second

// Watchdog cancels a context if Reset is not called within the idle window.
// Reset it on every byte observed from the stream.
type Watchdog struct {
	mu      sync.Mutex
	timer   *time.Timer
	idle    time.Duration
	cancel  context.CancelFunc
	expired bool
	stopped bool
}

// NewWatchdog derives a context from parent that is cancelled after idle
// without a Reset. Call Stop when the stream ends normally.
func NewWatchdog(parent context.Context, idle time.Duration) (*Watchdog, context.Context) {
	if idle <= 0 {
		idle = DefaultIdleTimeout
	}
	ctx, cancel := context.WithCancel(parent)
	w := &Watchdog{idle: idle, cancel: cancel}
	w.timer = time.AfterFunc(idle, w.fire)
	return w, ctx
}

func (w *Watchdog) fire() {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return
	}
	w.expired = true
	w.mu.Unlock()
	w.cancel()
}

// Reset restarts the idle window.
func (w *Watchdog) Reset() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped || w.expired {
		return
	}
	w.timer.Reset(w.idle)
}

// Stop disarms the watchdog and releases the derived context.
func (w *Watchdog) Stop() {
	w.mu.Lock()
	w.stopped = true
	w.timer.Stop()
	w.mu.Unlock()
	w.cancel()
}

// Expired reports whether the watchdog fired.
func (w *Watchdog) Expired() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.expired
}
