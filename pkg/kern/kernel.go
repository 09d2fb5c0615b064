// Package kern is the process and system-call layer of the kernel.
//
// A Kernel owns the process table, the physical page pool, the file
// system namespace and the program loader. Every user process runs on
// its own kernel thread; the thread's Curthread is the arch.Kernel its
// CPU traps into. System calls are dispatched through a table of
// handlers (see syscall.go) that return a value or an errno.
//
// The kernel itself is the parent of the processes started with
// RunProgram and collects them with Wait.
package kern

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"gokern/pkg/arch"
	"gokern/pkg/config"
	db "gokern/pkg/debug"
	"gokern/pkg/errno"
	"gokern/pkg/fdtable"
	"gokern/pkg/loader"
	"gokern/pkg/process"
	"gokern/pkg/synch"
	"gokern/pkg/thread"
	"gokern/pkg/vfs"
	"gokern/pkg/vm"
)

// ConsolePath is opened three times as stdin, stdout and stderr of
// every program the kernel runs.
const ConsolePath = "con:"

// KernelPID is the parent PID of processes started by the kernel.
const KernelPID = 0

// Kernel owns the process table, physical memory, the file namespace
// and the kernel threads that run user processes.
type Kernel struct {
	cfg     *config.Config
	procs   *process.Table
	coremap *vm.Coremap
	vfs     *vfs.Mux
	loader  *loader.Loader
	stats   *callStats
	booted  time.Time

	// kproc stands in for the kernel as a parent. It is never in the
	// process table.
	kproc *process.Process

	threadsLock synch.Spinlock
	threads     map[uint64]*Curthread
	running     sync.WaitGroup
}

// New creates a kernel over the namespace ns.
func New(cfg *config.Config, ns *vfs.Mux) *Kernel {
	k := &Kernel{
		cfg:     cfg,
		procs:   process.NewTable(cfg.MaxProcs),
		coremap: vm.NewCoremap(cfg.RAMPages),
		vfs:     ns,
		loader:  loader.New(cfg.ImageCache),
		stats:   newCallStats(),
		booted:  time.Now(),
		kproc:   process.NewProcess(KernelPID, KernelPID, "kernel", cfg.MaxProcs),
		threads: make(map[uint64]*Curthread),
	}
	db.DPrintf(db.KERNEL, "boot: %d procs, %v, devices %v", cfg.MaxProcs, k.coremap, ns.Devices())
	return k
}

// Config returns the configuration the kernel was booted with.
func (k *Kernel) Config() *config.Config {
	return k.cfg
}

// Coremap returns the physical page allocator.
func (k *Kernel) Coremap() *vm.Coremap {
	return k.coremap
}

// Loader returns the executable loader shared by runprogram and execv.
func (k *Kernel) Loader() *loader.Loader {
	return k.loader
}

// Uptime is the time since New.
func (k *Kernel) Uptime() time.Duration {
	return time.Since(k.booted)
}

// spawn starts fn on a new kernel thread running p.
func (k *Kernel) spawn(p *process.Process, fn func(cur *Curthread)) {
	k.running.Add(1)
	thread.Fork(fmt.Sprintf("pid%d", p.PID), func(t *thread.Thread) {
		defer k.running.Done()
		cur := newCurthread(k, t, p)
		k.register(cur)
		defer k.unregister(cur)
		fn(cur)
	})
}

func (k *Kernel) register(cur *Curthread) {
	k.threadsLock.Acquire(cur.Thread)
	k.threads[cur.ID] = cur
	k.threadsLock.Release(cur.Thread)
}

func (k *Kernel) unregister(cur *Curthread) {
	k.threadsLock.Acquire(cur.Thread)
	delete(k.threads, cur.ID)
	k.threadsLock.Release(cur.Thread)
}

// Threads returns the names of the live process threads.
func (k *Kernel) Threads() []string {
	t := thread.New("ps")
	k.threadsLock.Acquire(t)
	names := make([]string, 0, len(k.threads))
	for _, cur := range k.threads {
		names = append(names, cur.String())
	}
	k.threadsLock.Release(t)
	sort.Strings(names)
	return names
}

// WaitIdle blocks until every process thread has exited.
func (k *Kernel) WaitIdle() {
	k.running.Wait()
}

// RunProgram starts path as a new child of the kernel with stdin,
// stdout and stderr on the console. It returns once the program is
// loaded and about to run, or with the error that stopped it loading,
// in which case no process is left behind.
func (k *Kernel) RunProgram(path string, args ...string) (int, error) {
	if len(args) == 0 {
		args = []string{path}
	}
	k.procs.Lock()
	p, err := k.procs.AllocL(KernelPID, path, k.cfg.MaxChildren)
	if err == nil {
		if err = k.kproc.AddChild(p.PID); err != nil {
			k.procs.VacateL(p)
		}
	}
	k.procs.Unlock()
	if err != nil {
		return 0, err
	}
	p.Files = fdtable.New(k.cfg.OpenMax)

	loaded := make(chan error, 1)
	k.spawn(p, func(cur *Curthread) {
		argv, sp, entry, err := k.runprogram(cur, path, args)
		if err != nil {
			k.abandon(p)
			loaded <- err
			return
		}
		loaded <- nil
		cur.CPU.EnterNewProcess(len(args), argv, sp, entry)
	})
	if err := <-loaded; err != nil {
		db.DPrintf(db.KERNEL, "runprogram %v: %v", path, err)
		return 0, err
	}
	db.DPrintf(db.KERNEL, "runprogram %v = pid %d", path, p.PID)
	return p.PID, nil
}

func (k *Kernel) runprogram(cur *Curthread, path string, args []string) (argv, sp, entry vm.Vaddr, err error) {
	p := cur.Proc
	for _, flags := range []int{vfs.O_RDONLY, vfs.O_WRONLY, vfs.O_WRONLY} {
		if _, err = p.Files.Open(k.vfs, ConsolePath, flags, 0); err != nil {
			return 0, 0, 0, fmt.Errorf("runprogram: console: %w", err)
		}
	}
	vn, err := k.vfs.Open(path, vfs.O_RDONLY, 0)
	if err != nil {
		return 0, 0, 0, err
	}
	defer vn.Close()

	as := vm.Create(k.coremap, k.cfg.StackPages)
	p.SetAddrSpace(as)
	as.Activate()
	if entry, err = k.loader.Load(path, vn, as); err != nil {
		return 0, 0, 0, err
	}
	if argv, sp, err = setupStack(as, args); err != nil {
		return 0, 0, 0, err
	}
	p.SetCommand(path, args)
	return argv, sp, entry, nil
}

// abandon tears down a process that never ran.
func (k *Kernel) abandon(p *process.Process) {
	k.procs.Lock()
	k.procs.VacateL(p)
	k.kproc.RemoveChild(p.PID)
	k.procs.Unlock()
	if as := p.SetAddrSpace(nil); as != nil {
		as.Destroy()
	}
	p.Files.CloseAll()
}

// Wait collects the exit status of a process started with RunProgram.
func (k *Kernel) Wait(pid int) (int, error) {
	return k.wait(k.kproc, pid)
}

// Run starts path and waits for it to exit.
func (k *Kernel) Run(path string, args ...string) (int, error) {
	pid, err := k.RunProgram(path, args...)
	if err != nil {
		return 0, err
	}
	return k.Wait(pid)
}

// ProcInfo is a snapshot of one process.
type ProcInfo struct {
	PID      int
	PPID     int
	Command  string
	Args     []string
	State    process.ProcessState
	Pages    int
	Children []int
	Lifetime time.Duration
}

func (pi ProcInfo) String() string {
	return fmt.Sprintf("%d %d %v %v %v", pi.PID, pi.PPID, pi.State, pi.Command, pi.Args)
}

// Procs lists the processes in the table.
func (k *Kernel) Procs() []ProcInfo {
	var ps []ProcInfo
	for _, p := range k.procs.Live() {
		pi := ProcInfo{
			PID:      p.PID,
			PPID:     p.ParentPID,
			Command:  p.Command(),
			Args:     p.Args(),
			State:    p.GetState(),
			Children: p.Children(),
			Lifetime: p.Lifetime(),
		}
		if as := p.AddrSpace(); as != nil {
			pi.Pages = as.Pages()
		}
		ps = append(ps, pi)
	}
	return ps
}

// Curthread is a kernel thread running a user process. It is the
// arch.Kernel the process's CPU traps into.
type Curthread struct {
	*thread.Thread
	Proc *process.Process
	CPU  *arch.CPU
	k    *Kernel
}

func newCurthread(k *Kernel, t *thread.Thread, p *process.Process) *Curthread {
	cur := &Curthread{Thread: t, Proc: p, k: k}
	cur.CPU = arch.NewCPU(cur)
	return cur
}

// Syscall is the trap from cur's CPU.
func (cur *Curthread) Syscall(tf *arch.Trapframe) {
	cur.k.Syscall(cur, tf)
}

// Space is the address space the CPU fetches and loads from.
func (cur *Curthread) Space() *vm.AddrSpace {
	return cur.Proc.AddrSpace()
}

// Fault kills the process with sig.
func (cur *Curthread) Fault(sig int, err error) {
	db.DPrintf(db.PROC, "pid %d: signal %d: %v", cur.Proc.PID, sig, err)
	cur.k.exit(cur, arch.MkWaitSig(sig))
}

// errNoProc is EINVAL for a PID with no process.
func errNoProc(pid int) error {
	return fmt.Errorf("no process %d: %w", pid, errno.EINVAL)
}
