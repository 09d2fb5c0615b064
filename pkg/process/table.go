package process

import (
	"fmt"
	"sort"

	db "gokern/pkg/debug"
	"gokern/pkg/errno"
	"gokern/pkg/synch"
)

// Table is the process table: a fixed array indexed by PID. PID 0 is
// the kernel and never holds a process. A PID is live iff its slot is
// occupied, and a slot is only reused after it has been vacated.
//
// Methods ending in L require the caller to hold the table lock.
type Table struct {
	lock  *synch.Lock
	procs []*Process
}

// NewTable creates a table with room for maxProcs-1 processes.
func NewTable(maxProcs int) *Table {
	return &Table{
		lock:  synch.NewLock("proctable"),
		procs: make([]*Process, maxProcs),
	}
}

// Lock takes the table lock that guards every slot.
func (t *Table) Lock() {
	t.lock.Acquire()
}

// Unlock releases the table lock.
func (t *Table) Unlock() {
	t.lock.Release()
}

// Size is the number of slots, PID 0 included.
func (t *Table) Size() int {
	return len(t.procs)
}

// AllocL puts a new process in the lowest free slot. A full table is
// EAGAIN.
func (t *Table) AllocL(parentPID int, command string, maxChildren int) (*Process, error) {
	for pid := 1; pid < len(t.procs); pid++ {
		if t.procs[pid] == nil {
			p := NewProcess(pid, parentPID, command, maxChildren)
			t.procs[pid] = p
			db.DPrintf(db.PROC, "alloc %v", p)
			return p, nil
		}
	}
	return nil, fmt.Errorf("process table full (%d): %w", len(t.procs)-1, errno.EAGAIN)
}

// Alloc is AllocL with the lock taken.
func (t *Table) Alloc(parentPID int, command string, maxChildren int) (*Process, error) {
	t.Lock()
	defer t.Unlock()
	return t.AllocL(parentPID, command, maxChildren)
}

// LookupL returns the process in slot pid.
func (t *Table) LookupL(pid int) (*Process, bool) {
	if pid <= 0 || pid >= len(t.procs) || t.procs[pid] == nil {
		return nil, false
	}
	return t.procs[pid], true
}

// Lookup is LookupL with the lock taken.
func (t *Table) Lookup(pid int) (*Process, bool) {
	t.Lock()
	defer t.Unlock()
	return t.LookupL(pid)
}

// VacateL frees slot pid, which must hold p.
func (t *Table) VacateL(p *Process) {
	if p.PID <= 0 || p.PID >= len(t.procs) || t.procs[p.PID] != p {
		db.DFatalf("vacate pid %d: slot holds %v", p.PID, t.slotL(p.PID))
	}
	t.procs[p.PID] = nil
	db.DPrintf(db.PROC, "vacate %d", p.PID)
}

// Vacate is VacateL with the lock taken.
func (t *Table) Vacate(p *Process) {
	t.Lock()
	defer t.Unlock()
	t.VacateL(p)
}

func (t *Table) slotL(pid int) *Process {
	if pid < 0 || pid >= len(t.procs) {
		return nil
	}
	return t.procs[pid]
}

// Live returns the live processes in PID order.
func (t *Table) Live() []*Process {
	t.Lock()
	defer t.Unlock()
	ps := make([]*Process, 0)
	for _, p := range t.procs {
		if p != nil {
			ps = append(ps, p)
		}
	}
	sort.Slice(ps, func(i, j int) bool { return ps[i].PID < ps[j].PID })
	return ps
}

// Count returns the number of live processes.
func (t *Table) Count() int {
	t.Lock()
	defer t.Unlock()
	n := 0
	for _, p := range t.procs {
		if p != nil {
			n++
		}
	}
	return n
}
