package kern

import (
	"fmt"

	"gokern/pkg/arch"
	db "gokern/pkg/debug"
	"gokern/pkg/errno"
	"gokern/pkg/vfs"
	"gokern/pkg/vm"
)

func sysExecv(k *Kernel, cur *Curthread, tf *arch.Trapframe) (uint32, error) {
	return 0, k.execv(cur, vm.Vaddr(tf.A0), vm.Vaddr(tf.A1))
}

// execv replaces the program of cur with the executable at upath,
// passing it the NULL-terminated argument vector at uargv. It returns
// only on failure. Failures before the old address space is destroyed
// leave the process untouched; a failure while loading leaves it with
// an empty address space that faults on its next user access.
func (k *Kernel) execv(cur *Curthread, upath, uargv vm.Vaddr) error {
	p := cur.Proc
	old := p.AddrSpace()
	if upath == 0 {
		return fmt.Errorf("execv: null path: %w", errno.EFAULT)
	}
	path, err := old.CopyinStr(upath, k.cfg.PathMax)
	if err != nil {
		return err
	}
	if path == "" {
		return fmt.Errorf("execv: empty path: %w", errno.EINVAL)
	}
	args, err := k.copyinArgs(old, uargv)
	if err != nil {
		return err
	}

	vn, err := k.vfs.Open(path, vfs.O_RDONLY, 0)
	if err != nil {
		return err
	}

	// Nothing on this path may be deferred: entering the new program
	// unwinds this frame.
	as := vm.Create(k.coremap, k.cfg.StackPages)
	p.SetAddrSpace(as)
	old.Destroy()
	as.Activate()

	entry, err := k.loader.Load(path, vn, as)
	vn.Close()
	if err != nil {
		db.DPrintf(db.EXEC, "pid %d: load %v: %v", p.PID, path, err)
		return err
	}
	argv, sp, err := setupStack(as, args)
	if err != nil {
		return err
	}
	p.SetCommand(path, args)
	db.DPrintf(db.EXEC, "pid %d: exec %v %v entry %#x sp %#x", p.PID, path, args, entry, sp)

	cur.CPU.EnterNewProcess(len(args), argv, sp, entry)
	db.DFatalf("execv: returned from user mode")
	return nil
}

// copyinArgs copies the argument vector at uargv. The strings and their
// pointers together may not exceed ArgMax bytes.
func (k *Kernel) copyinArgs(as *vm.AddrSpace, uargv vm.Vaddr) ([]string, error) {
	if uargv == 0 {
		return nil, fmt.Errorf("execv: null argv: %w", errno.EFAULT)
	}
	var args []string
	total := 0
	for i := 0; ; i++ {
		ptr, err := as.CopyinWord(uargv + vm.Vaddr(i*vm.WordSize))
		if err != nil {
			return nil, err
		}
		if ptr == 0 {
			break
		}
		total += vm.WordSize
		if total >= k.cfg.ArgMax {
			return nil, fmt.Errorf("execv: %d args: %w", i, errno.E2BIG)
		}
		s, err := as.CopyinStr(vm.Vaddr(ptr), k.cfg.ArgMax-total)
		if errno.Is(err, errno.ENAMETOOLONG) {
			return nil, fmt.Errorf("execv: arg %d: %w", i, errno.E2BIG)
		}
		if err != nil {
			return nil, err
		}
		total += len(s) + 1
		args = append(args, s)
	}
	return args, nil
}

// setupStack defines the user stack of as and copies args onto it:
// the strings from the top down, then the NULL-terminated vector of
// their addresses below them. It returns the vector's address and the
// initial stack pointer, both StackAlign aligned.
func setupStack(as *vm.AddrSpace, args []string) (argv, sp vm.Vaddr, err error) {
	if sp, err = as.DefineStack(); err != nil {
		return 0, 0, err
	}
	ptrs := make([]uint32, len(args)+1)
	for i := len(args) - 1; i >= 0; i-- {
		sp -= vm.Vaddr(len(args[i]) + 1)
		if err := as.CopyoutStr(args[i], sp); err != nil {
			return 0, 0, err
		}
		ptrs[i] = uint32(sp)
	}
	sp &^= vm.StackAlign - 1
	sp -= vm.Vaddr(len(ptrs) * vm.WordSize)
	sp &^= vm.StackAlign - 1
	for i, ptr := range ptrs {
		if err := as.CopyoutWord(ptr, sp+vm.Vaddr(i*vm.WordSize)); err != nil {
			return 0, 0, err
		}
	}
	return sp, sp, nil
}
