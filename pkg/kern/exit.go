package kern

import (
	"fmt"

	"gokern/pkg/arch"
	db "gokern/pkg/debug"
	"gokern/pkg/errno"
	"gokern/pkg/process"
	"gokern/pkg/thread"
	"gokern/pkg/vm"
)

func sysExit(k *Kernel, cur *Curthread, tf *arch.Trapframe) (uint32, error) {
	k.exit(cur, arch.MkWaitExit(int(int32(tf.A0))))
	return 0, nil
}

// exit ends the process of cur with the encoded status. The process
// stays a zombie until its parent has collected the status or has
// exited, then vacates its slot, releases its children from waiting on
// it, and frees its resources. It does not return.
func (k *Kernel) exit(cur *Curthread, status int) {
	p := cur.Proc
	if err := p.Terminate(status); err != nil {
		db.DFatalf("exit %v: %v", p, err)
	}
	db.DPrintf(db.EXIT, "pid %d: exit status %#x", p.PID, status)
	p.ChildDone.V()
	p.ParentAck.P()

	k.procs.Lock()
	k.procs.VacateL(p)
	if err := p.TransitionTo(process.StateReaped); err != nil {
		db.DFatalf("exit %v: %v", p, err)
	}
	for _, pid := range p.Children() {
		if c, ok := k.procs.LookupL(pid); ok && c.ParentPID == p.PID {
			db.DPrintf(db.EXIT, "pid %d: release orphan %d", p.PID, pid)
			c.ParentAck.V()
		}
	}
	k.procs.Unlock()

	if as := p.SetAddrSpace(nil); as != nil {
		as.Destroy()
	}
	p.Files.CloseAll()
	db.DPrintf(db.EXIT, "pid %d: gone after %v", p.PID, p.Lifetime())
	thread.Exit()
}

// sysWaitpid is waitpid(pid, status, options). No options are
// supported.
func sysWaitpid(k *Kernel, cur *Curthread, tf *arch.Trapframe) (uint32, error) {
	pid, ustatus, options := int(int32(tf.A0)), vm.Vaddr(tf.A1), int(tf.A2)
	if options != 0 {
		return 0, fmt.Errorf("waitpid options %#x: %w", options, errno.EINVAL)
	}
	as := cur.Proc.AddrSpace()
	if ustatus != 0 {
		// Check the status pointer before collecting the status, which
		// could not be given back.
		if ustatus%vm.WordSize != 0 {
			return 0, fmt.Errorf("waitpid status %#x: %w", ustatus, errno.EFAULT)
		}
		if err := as.CopyoutWord(0, ustatus); err != nil {
			return 0, err
		}
	}
	status, err := k.wait(cur.Proc, pid)
	if err != nil {
		return 0, err
	}
	if ustatus != 0 {
		if err := as.CopyoutWord(uint32(status), ustatus); err != nil {
			return 0, err
		}
	}
	return uint32(pid), nil
}

// wait blocks until child pid of parent has exited and returns its
// encoded status. The child is forgotten before waiting, so a second
// wait for it is ECHILD.
func (k *Kernel) wait(parent *process.Process, pid int) (int, error) {
	child, ok := k.procs.Lookup(pid)
	if !ok {
		return 0, errNoProc(pid)
	}
	if child.ParentPID != parent.PID || !parent.RemoveChild(pid) {
		return 0, fmt.Errorf("pid %d is not a child of %d: %w", pid, parent.PID, errno.ECHILD)
	}
	db.DPrintf(db.EXIT, "pid %d: wait for %d", parent.PID, pid)
	child.ChildDone.P()
	status := child.Status()
	child.ParentAck.V()
	db.DPrintf(db.EXIT, "pid %d: collected %d status %#x", parent.PID, pid, status)
	return status, nil
}
