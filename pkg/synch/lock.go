// Package synch provides the kernel's blocking primitives: sleep locks,
// counting semaphores and spinlocks.
package synch

import (
	"github.com/sasha-s/go-deadlock"

	db "gokern/pkg/debug"
)

func init() {
	// Sleep locks may legitimately be held across slow I/O, so only
	// recursion and lock-order inversions are reported, never timeouts.
	deadlock.Opts.DeadlockTimeout = 0
	deadlock.Opts.OnPotentialDeadlock = func() {
		db.DFatalf("potential deadlock")
	}
}

// Lock is a sleep lock. A thread that waits for it is descheduled.
// Recursive acquisition by the holder is a kernel panic.
type Lock struct {
	name string
	mu   deadlock.Mutex
}

func NewLock(name string) *Lock {
	return &Lock{name: name}
}

func (l *Lock) Name() string {
	return l.name
}

func (l *Lock) Acquire() {
	l.mu.Lock()
}

func (l *Lock) Release() {
	l.mu.Unlock()
}
