package userland_test

import (
	"bytes"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gokern/pkg/arch"
	"gokern/pkg/config"
	"gokern/pkg/dev/console"
	"gokern/pkg/kern"
	"gokern/pkg/loader"
	"gokern/pkg/userland"
	"gokern/pkg/vfs"
	"gokern/pkg/vfs/memfs"
	"gokern/pkg/vm"
)

type output struct {
	mu sync.Mutex
	b  bytes.Buffer
}

func (o *output) Write(p []byte) (int, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.b.Write(p)
}

func (o *output) String() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.b.String()
}

// run installs main as /bin/prog on a fresh kernel, runs it with args
// and returns its wait status and console output.
func run(t *testing.T, main userland.Main, args ...string) (int, string) {
	fs := memfs.New()
	require.NoError(t, fs.MkdirAll("/bin", 0755))
	require.NoError(t, fs.WriteFile("/bin/prog", userland.Install(t.Name(), main), 0755))
	out := &output{}
	ns := vfs.NewMux(fs)
	require.NoError(t, ns.Mount("con", console.New(nil, out)))

	cfg := config.Default()
	cfg.MaxProcs = 8
	cfg.RAMPages = 256
	k := kern.New(cfg, ns)
	status, err := k.Run("/bin/prog", args...)
	require.NoError(t, err)
	k.WaitIdle()
	assert.Zero(t, k.Coremap().Used())
	return status, out.String()
}

func TestInstall(t *testing.T) {
	img := userland.Install("installed", func(p *userland.Proc) int { return 0 })
	parsed, err := loader.Parse(img)
	require.NoError(t, err)
	assert.Equal(t, userland.Entry("installed"), parsed.Entry)
	_, ok := arch.Lookup(userland.Entry("installed"))
	assert.True(t, ok)
}

func TestArgsAndExit(t *testing.T) {
	var got []string
	status, out := run(t, func(p *userland.Proc) int {
		got = p.Args
		p.Printf("%d args\n", len(p.Args))
		return 9
	}, "prog", "-v", "")
	assert.Equal(t, arch.MkWaitExit(9), status)
	assert.Equal(t, []string{"prog", "-v", ""}, got)
	assert.Equal(t, "3 args\n", out)
}

func TestMalloc(t *testing.T) {
	var vas []vm.Vaddr
	var brks []vm.Vaddr
	status, _ := run(t, func(p *userland.Proc) int {
		for _, n := range []int{1, 8, 13, vm.PageSize, 3} {
			vas = append(vas, p.Malloc(n))
			brk, _ := p.Sbrk(0)
			brks = append(brks, brk)
		}
		// Stores anywhere in an allocation succeed.
		p.CPU().StoreWord(vas[3]+vm.PageSize-vm.WordSize, 1)
		return 0
	})
	assert.Equal(t, arch.MkWaitExit(0), status)

	require.Len(t, vas, 5)
	for i, va := range vas {
		assert.NotZero(t, va)
		assert.Zero(t, va%vm.StackAlign, "allocation %d", i)
	}
	assert.Equal(t, vas[0]+8, vas[1])
	assert.Equal(t, vas[1]+8, vas[2])
	assert.Equal(t, vas[2]+16, vas[3])
	// Small allocations share the first page; the large one grows the heap.
	assert.Equal(t, brks[0], brks[2])
	assert.Greater(t, brks[3], brks[2])
}

func TestMallocExhausted(t *testing.T) {
	var va vm.Vaddr
	run(t, func(p *userland.Proc) int {
		va = p.Malloc(int(vm.UserStack))
		return 0
	})
	assert.Zero(t, va)
}

func TestForkReleasesContinuation(t *testing.T) {
	var base, childPID, parentPID, ppid int
	status, _ := run(t, func(p *userland.Proc) int {
		base = arch.Registered()
		parentPID = p.Getpid()
		var err error
		childPID, err = p.Fork(func(c *userland.Proc) int {
			ppid = c.Getppid()
			return 5
		})
		if err != nil {
			return 1
		}
		_, st, err := p.Waitpid(childPID, 0)
		if err != nil {
			return 2
		}
		return arch.WExitStatus(st)
	})
	assert.Equal(t, arch.MkWaitExit(5), status)
	assert.NotEqual(t, parentPID, childPID)
	assert.Equal(t, parentPID, ppid)
	// The fork continuation was unregistered.
	assert.Equal(t, base, arch.Registered())
}

func TestReadWriteConsole(t *testing.T) {
	status, out := run(t, func(p *userland.Proc) int {
		n, err := p.Write(1, nil)
		if err != nil || n != 0 {
			return 1
		}
		n, err = p.Read(0, make([]byte, 4))
		if err != nil || n != 0 {
			return 2
		}
		p.Write(2, []byte("to stderr\n"))
		return 0
	})
	assert.Equal(t, arch.MkWaitExit(0), status)
	assert.Equal(t, "to stderr\n", out)
}
