package status

import (
	"context"
	"sync"
)

// Register is the process-wide, single-writer, multi-reader record of
// the latest transition outcome. The supervisor calls Set at the end of
// every transition; observers call Get for the current value or
// AwaitChange to block for the next one.
//
// Change notification is broadcast by channel swap: every Set closes
// the current change channel and installs a fresh one. A waiter that
// grabbed the channel before a Set is therefore released by exactly
// that Set (or has already been released by an earlier one), and sees
// that Set's outcome or a later one. Waiters registering after a Set
// only see the next future change.
type Register struct {
	mu      sync.RWMutex
	current Outcome
	changed chan struct{}
}

// NewRegister returns a register holding the initial healthy sentinel
// with no system.
func NewRegister() *Register {
	return &Register{
		current: Healthy(nil),
		changed: make(chan struct{}),
	}
}

// Get returns the latest outcome without blocking.
func (r *Register) Get() Outcome {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.current
}

// Set publishes a new outcome and releases every waiter registered
// before this call. It never blocks on observers.
func (r *Register) Set(o Outcome) {
	r.mu.Lock()
	r.current = o
	close(r.changed)
	r.changed = make(chan struct{})
	r.mu.Unlock()
}

// AwaitChange blocks until the next Set, then returns the published
// outcome. Each call observes a single change and must be repeated to
// await subsequent ones. Callers needing the current value as well
// should call Get first.
//
// Cancelling the context abandons the wait without affecting other
// waiters or leaking the registration.
func (r *Register) AwaitChange(ctx context.Context) (Outcome, error) {
	r.mu.RLock()
	changed := r.changed
	r.mu.RUnlock()

	select {
	case <-changed:
		return r.Get(), nil
	case <-ctx.Done():
		return Outcome{}, ctx.Err()
	}
}
