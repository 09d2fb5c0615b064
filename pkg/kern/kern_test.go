package kern

import (
	"bytes"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gokern/pkg/arch"
	"gokern/pkg/config"
	"gokern/pkg/dev/console"
	"gokern/pkg/errno"
	"gokern/pkg/fdtable"
	"gokern/pkg/loader"
	"gokern/pkg/synch"
	"gokern/pkg/thread"
	"gokern/pkg/userland"
	"gokern/pkg/vfs"
	"gokern/pkg/vfs/memfs"
	"gokern/pkg/vm"
)

type syncBuffer struct {
	mu sync.Mutex
	b  bytes.Buffer
}

func (s *syncBuffer) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.b.Write(p)
}

func (s *syncBuffer) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.b.String()
}

type testKernel struct {
	*Kernel
	t   *testing.T
	fs  *memfs.FS
	out *syncBuffer
}

func boot(t *testing.T, tune func(cfg *config.Config)) *testKernel {
	return bootConsole(t, tune, strings.NewReader("first line\nsecond\n"))
}

// bootConsole boots with console input read from in.
func bootConsole(t *testing.T, tune func(cfg *config.Config), in io.Reader) *testKernel {
	cfg := config.Default()
	cfg.MaxProcs = 16
	cfg.RAMPages = 512
	if tune != nil {
		tune(cfg)
	}
	require.NoError(t, cfg.Validate())

	fs := memfs.New()
	require.NoError(t, fs.MkdirAll("/bin", 0755))
	out := &syncBuffer{}
	ns := vfs.NewMux(fs)
	require.NoError(t, ns.Mount("con", console.New(in, out)))
	return &testKernel{Kernel: New(cfg, ns), t: t, fs: fs, out: out}
}

// install writes an executable that runs main to /bin/name.
func (tk *testKernel) install(name string, main userland.Main) string {
	path := "/bin/" + name
	img := userland.Install(tk.t.Name()+"/"+name, main)
	require.NoError(tk.t, tk.fs.WriteFile(path, img, 0755))
	return path
}

func (tk *testKernel) run(path string, args ...string) int {
	status, err := tk.Run(path, args...)
	require.NoError(tk.t, err)
	return status
}

// idle waits for every process thread to finish and checks that
// nothing was left behind.
func (tk *testKernel) idle() {
	done := make(chan struct{})
	go func() {
		tk.WaitIdle()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		tk.t.Fatalf("threads still running: %v", tk.Threads())
	}
	assert.Empty(tk.t, tk.Procs())
	assert.Equal(tk.t, 0, tk.Coremap().Used(), "pages leaked: %v", tk.Coremap())
}

// direct returns a process whose system calls the test makes itself
// through Kernel.Syscall, without a user thread.
func (tk *testKernel) direct() *Curthread {
	p, err := tk.procs.Alloc(KernelPID, "direct", tk.cfg.MaxChildren)
	require.NoError(tk.t, err)
	p.Files = fdtable.New(tk.cfg.OpenMax)
	as := vm.Create(tk.coremap, tk.cfg.StackPages)
	require.NoError(tk.t, as.DefineRegion("text", loader.TextBase, vm.PageSize))
	_, err = as.DefineStack()
	require.NoError(tk.t, err)
	p.SetAddrSpace(as)
	return newCurthread(tk.Kernel, thread.New("direct"), p)
}

func (tk *testKernel) syscall(cur *Curthread, num, a0, a1, a2 uint32) *arch.Trapframe {
	tf := &arch.Trapframe{V0: num, A0: a0, A1: a1, A2: a2, EPC: uint32(loader.TextBase)}
	tk.Syscall(cur, tf)
	assert.Equal(tk.t, uint32(loader.TextBase)+arch.InstrWidth, tf.EPC)
	return tf
}

func assertExited(t *testing.T, status, code int) {
	t.Helper()
	require.True(t, arch.WIfExited(status), "status %#x", status)
	assert.Equal(t, code, arch.WExitStatus(status))
}

func assertErrno(t *testing.T, tf *arch.Trapframe, e errno.Errno) {
	t.Helper()
	assert.Equal(t, uint32(1), tf.A3, "a3")
	assert.Equal(t, uint32(e), tf.V0, "got %v want %v", errno.Errno(tf.V0), e)
}

func TestRunProgram(t *testing.T) {
	tk := boot(t, nil)
	path := tk.install("hello", func(p *userland.Proc) int {
		p.Printf("hello %v\n", strings.Join(p.Args, " "))
		return 0
	})
	status := tk.run(path, "hello", "world", "")
	assertExited(t, status, 0)
	assert.Equal(t, "hello hello world \n", tk.out.String())
	tk.idle()
}

func TestRunProgramDefaultArgs(t *testing.T) {
	tk := boot(t, nil)
	got := make(chan []string, 1)
	path := tk.install("args", func(p *userland.Proc) int {
		got <- p.Args
		return 0
	})
	assertExited(t, tk.run(path), 0)
	assert.Equal(t, []string{path}, <-got)
	tk.idle()
}

func TestExitStatus(t *testing.T) {
	tk := boot(t, nil)
	for _, code := range []int{0, 1, 7, 255} {
		path := tk.install("exit", func(p *userland.Proc) int {
			return code
		})
		assertExited(t, tk.run(path), code)
	}
	path := tk.install("big", func(p *userland.Proc) int {
		return 0x1ff
	})
	assertExited(t, tk.run(path), 0xff)
	tk.idle()
}

func TestRunProgramFailsCleanly(t *testing.T) {
	tk := boot(t, nil)
	require.NoError(t, tk.fs.WriteFile("/bin/junk", []byte("#!/bin/sh\n"), 0755))

	_, err := tk.RunProgram("/bin/missing")
	assert.ErrorIs(t, err, errno.ENOENT)
	_, err = tk.RunProgram("/bin/junk")
	assert.ErrorIs(t, err, errno.ENOEXEC)
	_, err = tk.RunProgram("/bin")
	assert.Error(t, err)
	tk.idle()
	assert.Zero(t, tk.fs.OpenCount("/bin/junk"))
}

func TestRunProgramWithoutConsole(t *testing.T) {
	tk := boot(t, nil)
	require.NoError(t, tk.vfs.Unmount("con"))
	path := tk.install("quiet", func(p *userland.Proc) int { return 0 })
	_, err := tk.RunProgram(path)
	assert.ErrorIs(t, err, errno.ENOENT)
	tk.idle()
}

func TestSignals(t *testing.T) {
	tk := boot(t, nil)
	segv := tk.install("segv", func(p *userland.Proc) int {
		p.CPU().LoadWord(0x10)
		return 0
	})
	status := tk.run(segv)
	require.True(t, arch.WIfSignaled(status))
	assert.Equal(t, arch.SIGSEGV, arch.WTermSig(status))

	arch.Register(t.Name()+"/falls-off", func(c *arch.CPU) {})
	require.NoError(t, tk.fs.WriteFile("/bin/ill", loader.Build(t.Name()+"/falls-off", nil), 0755))
	status = tk.run("/bin/ill")
	require.True(t, arch.WIfSignaled(status))
	assert.Equal(t, arch.SIGILL, arch.WTermSig(status))
	tk.idle()
}

func TestProcs(t *testing.T) {
	tk := boot(t, nil)
	release := make(chan struct{})
	started := make(chan int, 1)
	path := tk.install("sleeper", func(p *userland.Proc) int {
		started <- p.Getpid()
		<-release
		return 0
	})
	pid, err := tk.RunProgram(path, "sleeper", "-n")
	require.NoError(t, err)
	assert.Equal(t, pid, <-started)

	ps := tk.Procs()
	require.Len(t, ps, 1)
	assert.Equal(t, pid, ps[0].PID)
	assert.Equal(t, KernelPID, ps[0].PPID)
	assert.Equal(t, path, ps[0].Command)
	assert.Equal(t, []string{"sleeper", "-n"}, ps[0].Args)
	assert.Greater(t, ps[0].Pages, 0)
	assert.Len(t, tk.Threads(), 1)

	close(release)
	status, err := tk.Wait(pid)
	require.NoError(t, err)
	assertExited(t, status, 0)
	tk.idle()
}

func TestDispatch(t *testing.T) {
	tk := boot(t, nil)
	cur := tk.direct()

	tf := tk.syscall(cur, arch.SYS_getpid, 0, 0, 0)
	assert.Equal(t, uint32(0), tf.A3)
	assert.Equal(t, uint32(cur.Proc.PID), tf.V0)

	tf = tk.syscall(cur, arch.SYS_getppid, 0, 0, 0)
	assert.Equal(t, uint32(0), tf.A3)
	assert.Equal(t, uint32(KernelPID), tf.V0)

	for _, num := range []uint32{1, 8, 44, 99, 0xffffffff} {
		tf = tk.syscall(cur, num, 0, 0, 0)
		assertErrno(t, tf, errno.ENOSYS)
	}

	stats := map[string]CallStat{}
	for _, st := range tk.Stats() {
		stats[st.Name] = st
	}
	assert.Equal(t, uint64(1), stats["getpid"].Calls)
	assert.Equal(t, uint64(0), stats["getpid"].Errors)
	assert.Equal(t, uint64(5), stats["unknown"].Errors)
	assert.NotContains(t, stats, "fork")
}

func TestDispatchAssertions(t *testing.T) {
	tk := boot(t, nil)
	cur := tk.direct()

	spl := cur.Splhigh()
	assert.Panics(t, func() { tk.syscall(cur, arch.SYS_getpid, 0, 0, 0) })
	cur.Splx(spl)

	var sl synch.Spinlock
	sl.Acquire(cur.Thread)
	assert.Panics(t, func() { tk.syscall(cur, arch.SYS_getpid, 0, 0, 0) })
	sl.Release(cur.Thread)

	tf := tk.syscall(cur, arch.SYS_getpid, 0, 0, 0)
	assert.Equal(t, uint32(0), tf.A3)
}

// A handler that returns at raised priority or holding a spinlock is a
// kernel bug caught on the way out.
func TestDispatchAssertionsOnReturn(t *testing.T) {
	const (
		sysSplLeak  = 98
		sysSpinLeak = 99
	)
	var sl synch.Spinlock
	var spl int
	sysents[sysSplLeak] = sysent{"splleak", func(k *Kernel, cur *Curthread, tf *arch.Trapframe) (uint32, error) {
		spl = cur.Splhigh()
		return 0, nil
	}}
	sysents[sysSpinLeak] = sysent{"spinleak", func(k *Kernel, cur *Curthread, tf *arch.Trapframe) (uint32, error) {
		sl.Acquire(cur.Thread)
		return 0, nil
	}}
	defer delete(sysents, sysSplLeak)
	defer delete(sysents, sysSpinLeak)

	tk := boot(t, nil)
	cur := tk.direct()

	tf := &arch.Trapframe{V0: sysSplLeak}
	assert.Panics(t, func() { tk.Syscall(cur, tf) })
	assert.Equal(t, thread.IPLHigh, cur.Spl())
	cur.Splx(spl)

	tf = &arch.Trapframe{V0: sysSpinLeak}
	assert.Panics(t, func() { tk.Syscall(cur, tf) })
	assert.True(t, sl.DoIHold(cur.Thread))
	sl.Release(cur.Thread)

	tf = tk.syscall(cur, arch.SYS_getpid, 0, 0, 0)
	assert.Equal(t, uint32(0), tf.A3)
}
