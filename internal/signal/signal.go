// Package signal provides process signal wiring, including the two-stage
// interrupt used by the interactive chat loop.
package signal

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"
)

// NotifyContext returns a context that is cancelled when SIGINT or SIGTERM is
// received. The returned stop function should be called to release resources.
func NotifyContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// TermContext returns a context cancelled on SIGTERM only. The chat REPL
// uses it together with Interrupt, which owns SIGINT.
func TermContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGTERM)
}

// doublePressWindow is how long after a first Ctrl-C a second press exits.
const doublePressWindow = 2 * time.Second

// Interrupt implements two-stage Ctrl-C handling for a REPL: the first press
// cancels the in-flight generation via the registered cancel func, a second
// press within the window exits the process with status 130.
type Interrupt struct {
	mu        sync.Mutex
	cancel    context.CancelFunc
	lastPress time.Time
	exit      func(int)

	ch   chan os.Signal
	done chan struct{}
}

// NewInterrupt installs the SIGINT handler. Call Close to restore default
// signal delivery.
func NewInterrupt() *Interrupt {
	i := &Interrupt{
		exit: os.Exit,
		ch:   make(chan os.Signal, 1),
		done: make(chan struct{}),
	}
	signal.Notify(i.ch, os.Interrupt)
	go i.run()
	return i
}

func (i *Interrupt) run() {
	for {
		select {
		case <-i.ch:
			i.press(time.Now())
		case <-i.done:
			return
		}
	}
}

func (i *Interrupt) press(now time.Time) {
	i.mu.Lock()
	cancel := i.cancel
	double := !i.lastPress.IsZero() && now.Sub(i.lastPress) <= doublePressWindow
	i.lastPress = now
	exit := i.exit
	i.mu.Unlock()

	if double {
		exit(130)
		return
	}
	if cancel != nil {
		cancel()
	}
}

// SetCancel registers the cancel func for the current generation. A press
// with no cancel registered only arms the double-press window.
func (i *Interrupt) SetCancel(cancel context.CancelFunc) {
	i.mu.Lock()
	i.cancel = cancel
	i.mu.Unlock()
}

// ClearCancel removes the registered cancel func after a generation ends.
func (i *Interrupt) ClearCancel() {
	i.mu.Lock()
	i.cancel = nil
	i.mu.Unlock()
}

// Close stops signal delivery to this handler.
func (i *Interrupt) Close() {
	signal.Stop(i.ch)
	close(i.done)
}
