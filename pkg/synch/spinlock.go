package synch

import (
	"sync"
	"sync/atomic"

	db "gokern/pkg/debug"
	"gokern/pkg/thread"
)

// Spinlock is a short critical-section lock. Holding one raises the
// holder's priority level; the holder must not block.
type Spinlock struct {
	mu     sync.Mutex
	holder atomic.Pointer[thread.Thread]
	spl    int
}

func (s *Spinlock) Acquire(t *thread.Thread) {
	if s.holder.Load() == t {
		db.DFatalf("%v: recursive spinlock acquire", t)
	}
	spl := t.Splhigh()
	s.mu.Lock()
	s.holder.Store(t)
	s.spl = spl
	t.SpinlockAcquired()
}

func (s *Spinlock) Release(t *thread.Thread) {
	if s.holder.Load() != t {
		db.DFatalf("%v: releasing spinlock it does not hold", t)
	}
	spl := s.spl
	s.holder.Store(nil)
	s.mu.Unlock()
	t.SpinlockReleased()
	t.Splx(spl)
}

func (s *Spinlock) DoIHold(t *thread.Thread) bool {
	return s.holder.Load() == t
}
