package kern

import (
	"gokern/pkg/arch"
	db "gokern/pkg/debug"
)

func sysFork(k *Kernel, cur *Curthread, tf *arch.Trapframe) (uint32, error) {
	pid, err := k.fork(cur, tf)
	return uint32(pid), err
}

// fork duplicates the calling process. The child gets a private copy of
// the address space, shares every open file entry, and resumes after
// the trap with 0 in V0. The parent gets the child's PID.
func (k *Kernel) fork(cur *Curthread, tf *arch.Trapframe) (int, error) {
	parent := cur.Proc

	// Copying may take a while; do it before the table lock.
	as, err := parent.AddrSpace().Copy()
	if err != nil {
		return 0, err
	}

	k.procs.Lock()
	child, err := k.procs.AllocL(parent.PID, parent.Command(), k.cfg.MaxChildren)
	if err != nil {
		k.procs.Unlock()
		as.Destroy()
		return 0, err
	}
	if err := parent.AddChild(child.PID); err != nil {
		k.procs.VacateL(child)
		k.procs.Unlock()
		as.Destroy()
		return 0, err
	}
	child.SetCommand(parent.Command(), parent.Args())
	child.SetAddrSpace(as)
	k.procs.Unlock()

	// Sharing takes each entry's lock, which a read on a shared
	// descriptor may hold for a long time. Only the parent's thread
	// touches the child's descriptors before the child runs.
	child.Files = parent.Files.Fork()

	ctf := *tf
	ctf.V0 = 0
	ctf.A3 = 0
	ctf.EPC += arch.InstrWidth
	db.DPrintf(db.FORK, "pid %d: fork child %d %v", parent.PID, child.PID, &ctf)

	k.spawn(child, func(cc *Curthread) {
		if p, ok := k.procs.Lookup(child.PID); !ok || p != child {
			db.DFatalf("fork: pid %d slot holds %v", child.PID, p)
		}
		cc.Proc.AddrSpace().Activate()
		cc.CPU.EnterForkedProcess(&ctf)
	})
	return child.PID, nil
}
