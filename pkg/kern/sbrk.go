package kern

import (
	"fmt"

	"gokern/pkg/arch"
	db "gokern/pkg/debug"
	"gokern/pkg/errno"
	"gokern/pkg/vm"
)

// sysSbrk moves the heap break by delta bytes, rounded up to a word,
// and returns the old break. The break may not drop below the start of
// the heap (EINVAL) or rise into the stack (ENOMEM); either way it is
// left where it was.
func sysSbrk(k *Kernel, cur *Curthread, tf *arch.Trapframe) (uint32, error) {
	delta := int64(int32(tf.A0))
	delta = (delta + vm.WordSize - 1) &^ (vm.WordSize - 1)

	as := cur.Proc.AddrSpace()
	old := as.Break()
	brk := int64(old) + delta
	switch {
	case brk < int64(as.HeapStart()):
		return 0, fmt.Errorf("sbrk %d: break %#x below heap %#x: %w", delta, brk, as.HeapStart(), errno.EINVAL)
	case brk > int64(as.StackBase()):
		return 0, fmt.Errorf("sbrk %d: break %#x in stack: %w", delta, brk, errno.ENOMEM)
	}
	if err := as.SetBreak(vm.Vaddr(brk)); err != nil {
		return 0, err
	}
	db.DPrintf(db.VM, "pid %d: sbrk %d: %#x -> %#x", cur.Proc.PID, delta, old, brk)
	return uint32(old), nil
}
