// Package thread models kernel threads.
//
// A kernel thread is one goroutine. The Thread value carries the state
// the kernel asserts on at the system-call boundary: the current
// interrupt priority level and the number of spinlocks held. Kernel code
// passes the current *Thread explicitly instead of reading a global.
package thread

import (
	"fmt"
	"runtime"
	"sync/atomic"

	db "gokern/pkg/debug"
)

// Interrupt priority levels.
const (
	IPLNone = 0
	IPLHigh = 1
)

var nextID atomic.Uint64

type Thread struct {
	ID   uint64
	Name string

	curspl    atomic.Int32
	spinlocks atomic.Int32
}

func New(name string) *Thread {
	return &Thread{ID: nextID.Add(1), Name: name}
}

func (t *Thread) String() string {
	return fmt.Sprintf("%v.%d", t.Name, t.ID)
}

// Fork starts fn on a new kernel thread named name.
func Fork(name string, fn func(t *Thread)) *Thread {
	t := New(name)
	db.DPrintf(db.THREAD, "fork %v", t)
	go fn(t)
	return t
}

// Exit terminates the calling kernel thread after running its deferred
// calls. It does not return.
func Exit() {
	runtime.Goexit()
}

// Splhigh raises the priority level to IPLHigh and returns the old level.
func (t *Thread) Splhigh() int {
	return int(t.curspl.Swap(IPLHigh))
}

// Splx restores the priority level to spl and returns the old level.
func (t *Thread) Splx(spl int) int {
	return int(t.curspl.Swap(int32(spl)))
}

func (t *Thread) Spl() int {
	return int(t.curspl.Load())
}

func (t *Thread) SpinlocksHeld() int {
	return int(t.spinlocks.Load())
}

// SpinlockAcquired and SpinlockReleased are called by spinlocks only.
func (t *Thread) SpinlockAcquired() {
	t.spinlocks.Add(1)
}

func (t *Thread) SpinlockReleased() {
	if t.spinlocks.Add(-1) < 0 {
		db.DFatalf("%v released a spinlock it does not hold", t)
	}
}
