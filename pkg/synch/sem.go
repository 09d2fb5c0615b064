package synch

import (
	"context"
	"fmt"
	"sync/atomic"

	"golang.org/x/sync/semaphore"

	db "gokern/pkg/debug"
)

// semMax is the weight backing every Semaphore; the count is the part
// of it not held.
const semMax = 1 << 40

// Semaphore is a counting semaphore. P blocks while the count is zero.
type Semaphore struct {
	name  string
	w     *semaphore.Weighted
	count atomic.Int64
}

func NewSemaphore(name string, count int) *Semaphore {
	if count < 0 || count > semMax {
		db.DFatalf("semaphore %v: initial count %d", name, count)
	}
	s := &Semaphore{name: name, w: semaphore.NewWeighted(semMax)}
	if !s.w.TryAcquire(semMax - int64(count)) {
		db.DFatalf("semaphore %v: init", name)
	}
	s.count.Store(int64(count))
	return s
}

func (s *Semaphore) String() string {
	return fmt.Sprintf("{%v %d}", s.name, s.Count())
}

func (s *Semaphore) Name() string {
	return s.name
}

// P waits until the count is positive and decrements it.
func (s *Semaphore) P() {
	if err := s.w.Acquire(context.Background(), 1); err != nil {
		db.DFatalf("semaphore %v: %v", s.name, err)
	}
	s.count.Add(-1)
	db.DPrintf(db.SYNCH, "P %v", s)
}

// V increments the count, waking one waiter if there is one.
func (s *Semaphore) V() {
	s.count.Add(1)
	s.w.Release(1)
	db.DPrintf(db.SYNCH, "V %v", s)
}

// Count is the current count. It is a snapshot for diagnostics.
func (s *Semaphore) Count() int {
	return int(s.count.Load())
}
