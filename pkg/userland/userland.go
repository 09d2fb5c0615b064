// Package userland is the user-side library of the simulated machine:
// the program entry point, system call stubs and a heap allocator.
//
// A program is a Go function installed under a name; its executable
// image holds the instruction word for that name. Programs reach the
// kernel only through the CPU's trap, and move data in and out of their
// address space with the CPU's loads and stores.
package userland

import (
	"fmt"
	"sync/atomic"

	"gokern/pkg/arch"
	db "gokern/pkg/debug"
	"gokern/pkg/errno"
	"gokern/pkg/loader"
	"gokern/pkg/vm"
)

// Main is a program's main function. Its return value is the exit code.
type Main func(p *Proc) int

// argStrMax bounds one argument string read by the entry code.
const argStrMax = 64 * 1024

// Proc is the user-side state of a running program.
type Proc struct {
	c    *arch.CPU
	Args []string

	// heap allocator
	next  vm.Vaddr
	limit vm.Vaddr

	scratch    vm.Vaddr
	scratchLen int
}

// Entry returns the routine name a program installed as name runs
// under.
func Entry(name string) string {
	return "prog:" + name
}

// Install registers main as the program name and returns its
// executable image.
func Install(name string, main Main) []byte {
	arch.Register(Entry(name), func(c *arch.CPU) {
		p := &Proc{c: c}
		p.Args = p.loadArgs()
		db.DPrintf(db.USER, "start %v %v", name, p.Args)
		p.Exit(main(p))
	})
	return loader.Build(Entry(name), nil)
}

// loadArgs reads argc and argv as the kernel left them in A0 and A1.
func (p *Proc) loadArgs() []string {
	argc, argv := int(p.c.TF.A0), vm.Vaddr(p.c.TF.A1)
	args := make([]string, 0, argc)
	for i := 0; i < argc; i++ {
		ptr := p.c.LoadWord(argv + vm.Vaddr(i*vm.WordSize))
		args = append(args, p.c.LoadStr(vm.Vaddr(ptr), argStrMax))
	}
	return args
}

func (p *Proc) CPU() *arch.CPU {
	return p.c
}

// Syscall traps with call number num and arguments a0 to a2.
func (p *Proc) Syscall(num, a0, a1, a2 uint32) (uint32, error) {
	tf := &p.c.TF
	tf.V0, tf.A0, tf.A1, tf.A2 = num, a0, a1, a2
	p.c.Syscall()
	if tf.A3 != 0 {
		return 0, errno.Errno(tf.V0)
	}
	return tf.V0, nil
}

// LastResult returns V0 and A3 as the last system call left them.
func (p *Proc) LastResult() (v0, a3 uint32) {
	return p.c.TF.V0, p.c.TF.A3
}

// Malloc returns n bytes of heap, or 0 if the heap cannot grow. Memory
// is never freed.
func (p *Proc) Malloc(n int) vm.Vaddr {
	n = (n + vm.StackAlign - 1) &^ (vm.StackAlign - 1)
	if p.next == 0 || p.next+vm.Vaddr(n) > p.limit {
		grow := (n + vm.PageSize - 1) &^ (vm.PageSize - 1)
		old, err := p.Sbrk(grow)
		if err != nil {
			return 0
		}
		if old != p.limit {
			p.next = old
		}
		p.limit = old + vm.Vaddr(grow)
	}
	va := p.next
	p.next += vm.Vaddr(n)
	return va
}

// buffer returns user memory of at least n bytes for staging data
// through a system call.
func (p *Proc) buffer(n int) (vm.Vaddr, error) {
	if n <= p.scratchLen {
		return p.scratch, nil
	}
	va := p.Malloc(n)
	if va == 0 {
		return 0, errno.ENOMEM
	}
	p.scratch, p.scratchLen = va, n
	return va, nil
}

// CString copies s into the heap and returns its address.
func (p *Proc) CString(s string) (vm.Vaddr, error) {
	va := p.Malloc(len(s) + 1)
	if va == 0 {
		return 0, errno.ENOMEM
	}
	p.c.Store(va, append([]byte(s), 0))
	return va, nil
}

func (p *Proc) Open(path string, flags int, mode uint32) (int, error) {
	s, err := p.CString(path)
	if err != nil {
		return -1, err
	}
	fd, err := p.Syscall(arch.SYS_open, uint32(s), uint32(flags), mode)
	return int(fd), err
}

func (p *Proc) Close(fd int) error {
	_, err := p.Syscall(arch.SYS_close, uint32(fd), 0, 0)
	return err
}

// Read reads up to len(b) bytes from fd into b.
func (p *Proc) Read(fd int, b []byte) (int, error) {
	buf, err := p.buffer(len(b) + 1)
	if err != nil {
		return 0, err
	}
	n, err := p.Syscall(arch.SYS_read, uint32(fd), uint32(buf), uint32(len(b)))
	if err != nil {
		return 0, err
	}
	p.c.Load(buf, b[:n])
	return int(n), nil
}

func (p *Proc) Write(fd int, b []byte) (int, error) {
	buf, err := p.buffer(len(b) + 1)
	if err != nil {
		return 0, err
	}
	p.c.Store(buf, b)
	n, err := p.Syscall(arch.SYS_write, uint32(fd), uint32(buf), uint32(len(b)))
	return int(n), err
}

// Printf writes to standard output.
func (p *Proc) Printf(format string, v ...interface{}) {
	p.Write(1, []byte(fmt.Sprintf(format, v...)))
}

func (p *Proc) Getpid() int {
	pid, _ := p.Syscall(arch.SYS_getpid, 0, 0, 0)
	return int(pid)
}

func (p *Proc) Getppid() int {
	pid, _ := p.Syscall(arch.SYS_getppid, 0, 0, 0)
	return int(pid)
}

// Sbrk moves the heap break by delta and returns the old break.
func (p *Proc) Sbrk(delta int) (vm.Vaddr, error) {
	old, err := p.Syscall(arch.SYS_sbrk, uint32(int32(delta)), 0, 0)
	return vm.Vaddr(old), err
}

// Exit ends the program with code. It does not return.
func (p *Proc) Exit(code int) {
	p.Syscall(arch.SYS__exit, uint32(code), 0, 0)
	panic("userland: _exit returned")
}

// Waitpid waits for child pid and returns its PID and wait status.
func (p *Proc) Waitpid(pid int, options int) (int, int, error) {
	st, err := p.buffer(vm.WordSize)
	if err != nil {
		return 0, 0, err
	}
	r, err := p.Syscall(arch.SYS_waitpid, uint32(pid), uint32(st), uint32(options))
	if err != nil {
		return 0, 0, err
	}
	return int(r), int(p.c.LoadWord(st)), nil
}

// Execv replaces the program with path, run with args. It returns only
// on failure.
func (p *Proc) Execv(path string, args []string) error {
	s, err := p.CString(path)
	if err != nil {
		return err
	}
	argv := p.Malloc((len(args) + 1) * vm.WordSize)
	if argv == 0 {
		return errno.ENOMEM
	}
	for i, a := range args {
		as, err := p.CString(a)
		if err != nil {
			return err
		}
		p.c.StoreWord(argv+vm.Vaddr(i*vm.WordSize), uint32(as))
	}
	p.c.StoreWord(argv+vm.Vaddr(len(args)*vm.WordSize), 0)
	_, err = p.Syscall(arch.SYS_execv, uint32(s), uint32(argv), 0)
	return err
}

var forkSeq atomic.Uint64

// Fork creates a child process. In the parent it returns the child's
// PID. The child runs child in place of the caller's remaining code
// and exits with its return value.
//
// The child resumes at the instruction after the trap, so Fork first
// writes a continuation word into the heap and traps from just before
// it.
func (p *Proc) Fork(child Main) (int, error) {
	at := p.Malloc(vm.WordSize)
	if at == 0 {
		return 0, errno.ENOMEM
	}
	snap := *p
	var word uint32
	word = arch.Register(fmt.Sprintf("fork.%d", forkSeq.Add(1)), func(c *arch.CPU) {
		arch.Unregister(word)
		cp := snap
		cp.c = c
		cp.Exit(child(&cp))
	})
	p.c.StoreWord(at, word)
	p.c.TF.EPC = uint32(at) - arch.InstrWidth
	pid, err := p.Syscall(arch.SYS_fork, 0, 0, 0)
	if err != nil {
		arch.Unregister(word)
		return 0, err
	}
	return int(pid), nil
}
