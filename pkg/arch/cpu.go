package arch

import (
	"fmt"

	db "gokern/pkg/debug"
	"gokern/pkg/vm"
)

// Kernel is what a CPU traps into.
type Kernel interface {
	// Syscall handles the system call described by tf and updates tf
	// with the result before returning to user mode.
	Syscall(tf *Trapframe)

	// Space returns the current address space.
	Space() *vm.AddrSpace

	// Fault is called when user code cannot continue. It must not
	// return.
	Fault(sig int, err error)
}

// enterUser unwinds a running CPU back to its run loop so that it
// restarts at a new trapframe.
type enterUser struct{}

// CPU runs the user code of one process on the calling kernel thread.
type CPU struct {
	TF      Trapframe
	k       Kernel
	running bool
}

func NewCPU(k Kernel) *CPU {
	return &CPU{k: k}
}

// Syscall is the trap instruction.
func (c *CPU) Syscall() {
	c.k.Syscall(&c.TF)
}

// EnterNewProcess starts user code at entry with a fresh register set:
// argc and argv in A0 and A1 and the stack pointer at sp. It does not
// return.
func (c *CPU) EnterNewProcess(argc int, argv, sp, entry vm.Vaddr) {
	c.TF = Trapframe{A0: uint32(argc), A1: uint32(argv), SP: uint32(sp), EPC: uint32(entry)}
	db.DPrintf(db.ARCH, "enter new process %v", &c.TF)
	if c.running {
		panic(enterUser{})
	}
	c.run()
}

// EnterForkedProcess resumes user code with the registers in tf. It
// does not return.
func (c *CPU) EnterForkedProcess(tf *Trapframe) {
	c.TF = *tf
	db.DPrintf(db.ARCH, "enter forked process %v", &c.TF)
	c.run()
}

func (c *CPU) run() {
	c.running = true
	for c.step() {
	}
}

// step fetches and runs the instruction at EPC. It reports true if the
// CPU was re-entered with a new trapframe.
func (c *CPU) step() (restart bool) {
	defer func() {
		if r := recover(); r != nil {
			if _, ok := r.(enterUser); ok {
				restart = true
				return
			}
			panic(r)
		}
	}()
	epc := vm.Vaddr(c.TF.EPC)
	word, err := c.k.Space().CopyinWord(epc)
	if err != nil {
		c.k.Fault(SIGSEGV, fmt.Errorf("fetch %#x: %w", epc, err))
	}
	r, name, ok := Decode(word)
	if !ok {
		c.k.Fault(SIGILL, fmt.Errorf("illegal instruction %#x at %#x", word, epc))
	}
	db.DPrintf(db.ARCH, "exec %v at %#x", name, epc)
	r(c)
	c.k.Fault(SIGILL, fmt.Errorf("%v at %#x fell off the end", name, epc))
	return false
}

// Load copies user memory at va into b, faulting the process on a bad
// address.
func (c *CPU) Load(va vm.Vaddr, b []byte) {
	if err := c.k.Space().Copyin(va, b); err != nil {
		c.k.Fault(SIGSEGV, fmt.Errorf("load %#x: %w", va, err))
	}
}

func (c *CPU) Store(va vm.Vaddr, b []byte) {
	if err := c.k.Space().Copyout(b, va); err != nil {
		c.k.Fault(SIGSEGV, fmt.Errorf("store %#x: %w", va, err))
	}
}

func (c *CPU) LoadWord(va vm.Vaddr) uint32 {
	w, err := c.k.Space().CopyinWord(va)
	if err != nil {
		c.k.Fault(SIGSEGV, fmt.Errorf("load %#x: %w", va, err))
	}
	return w
}

func (c *CPU) StoreWord(va vm.Vaddr, w uint32) {
	if err := c.k.Space().CopyoutWord(w, va); err != nil {
		c.k.Fault(SIGSEGV, fmt.Errorf("store %#x: %w", va, err))
	}
}

// LoadStr reads a NUL-terminated string of at most max bytes.
func (c *CPU) LoadStr(va vm.Vaddr, max int) string {
	s, err := c.k.Space().CopyinStr(va, max)
	if err != nil {
		c.k.Fault(SIGSEGV, fmt.Errorf("load string %#x: %w", va, err))
	}
	return s
}
