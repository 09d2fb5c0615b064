package kern

import (
	"fmt"
	"sort"
	"sync/atomic"

	"gokern/pkg/arch"
	db "gokern/pkg/debug"
	"gokern/pkg/errno"
	"gokern/pkg/thread"
)

// A handler performs one system call. The returned value is placed in
// V0 on success; an error's errno is placed there on failure. Handlers
// that never return (exit, a successful execv) leave the trapframe to
// the new user context.
type handler func(k *Kernel, cur *Curthread, tf *arch.Trapframe) (uint32, error)

type sysent struct {
	name string
	fn   handler
}

var sysents = map[uint32]sysent{
	arch.SYS_fork:    {"fork", sysFork},
	arch.SYS_execv:   {"execv", sysExecv},
	arch.SYS__exit:   {"_exit", sysExit},
	arch.SYS_waitpid: {"waitpid", sysWaitpid},
	arch.SYS_getpid:  {"getpid", sysGetpid},
	arch.SYS_getppid: {"getppid", sysGetppid},
	arch.SYS_sbrk:    {"sbrk", sysSbrk},
	arch.SYS_open:    {"open", sysOpen},
	arch.SYS_close:   {"close", sysClose},
	arch.SYS_read:    {"read", sysRead},
	arch.SYS_write:   {"write", sysWrite},
}

// Syscall dispatches the call in tf.V0 for cur. On return V0 holds the
// result and A3 is 0, or V0 holds the errno and A3 is 1, and EPC has
// moved past the trap.
//
// The trapframe is written on the return path only, not in a deferred
// call: execv and exit leave this function by unwinding and must not
// have their new trapframe overwritten.
func (k *Kernel) Syscall(cur *Curthread, tf *arch.Trapframe) {
	assertCallable(cur.Thread, "syscall entry")

	callno := tf.V0
	var retval uint32
	var err error

	ent, ok := sysents[callno]
	if !ok {
		ent.name = "unknown"
		k.stats.call(ent.name)
		err = fmt.Errorf("syscall %d: %w", callno, errno.ENOSYS)
	} else {
		db.DPrintf(db.SYSCALL, "pid %d: %v %v", cur.Proc.PID, ent.name, tf)
		// Counted before the call: exit and execv do not come back.
		k.stats.call(ent.name)
		retval, err = ent.fn(k, cur, tf)
	}

	if err != nil {
		k.stats.fail(ent.name)
		db.DPrintf(db.SYSCALL, "pid %d: %v: %v", cur.Proc.PID, ent.name, err)
		tf.V0 = uint32(errno.Code(err))
		tf.A3 = 1
	} else {
		tf.V0 = retval
		tf.A3 = 0
	}
	tf.EPC += arch.InstrWidth

	assertCallable(cur.Thread, ent.name)
}

// assertCallable halts the kernel if t is at raised priority or holds
// a spinlock. Both are kernel bugs.
func assertCallable(t *thread.Thread, where string) {
	if spl := t.Spl(); spl != thread.IPLNone {
		db.DFatalf("%v: %v: spl %d", where, t, spl)
	}
	if n := t.SpinlocksHeld(); n != 0 {
		db.DFatalf("%v: %v: %d spinlocks held", where, t, n)
	}
}

func sysGetpid(k *Kernel, cur *Curthread, tf *arch.Trapframe) (uint32, error) {
	return uint32(cur.Proc.PID), nil
}

func sysGetppid(k *Kernel, cur *Curthread, tf *arch.Trapframe) (uint32, error) {
	return uint32(cur.Proc.ParentPID), nil
}

// CallStat counts the calls to one system call.
type CallStat struct {
	Name   string
	Calls  uint64
	Errors uint64
}

type counter struct {
	calls  atomic.Uint64
	errors atomic.Uint64
}

type callStats struct {
	byName map[string]*counter
}

func newCallStats() *callStats {
	st := &callStats{byName: make(map[string]*counter)}
	for _, ent := range sysents {
		st.byName[ent.name] = &counter{}
	}
	st.byName["unknown"] = &counter{}
	return st
}

func (st *callStats) call(name string) {
	st.byName[name].calls.Add(1)
}

func (st *callStats) fail(name string) {
	st.byName[name].errors.Add(1)
}

// Stats returns the counts of every system call made, sorted by name.
func (k *Kernel) Stats() []CallStat {
	var out []CallStat
	for name, c := range k.stats.byName {
		if n := c.calls.Load(); n > 0 {
			out = append(out, CallStat{Name: name, Calls: n, Errors: c.errors.Load()})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
