package main

import (
	"fmt"
	"path"
	"strconv"
	"strings"

	"gokern/pkg/arch"
	"gokern/pkg/errno"
	"gokern/pkg/userland"
	"gokern/pkg/vfs"
	"gokern/pkg/vfs/memfs"
	"gokern/pkg/vm"
)

var programs = map[string]userland.Main{
	"init":     initMain,
	"hello":    helloMain,
	"forktest": forktestMain,
	"waittest": waittestMain,
	"io":       ioMain,
	"sbrktest": sbrktestMain,
}

// initPrograms is what init runs when given no arguments.
var initPrograms = []string{"/bin/hello", "/bin/forktest", "/bin/waittest", "/bin/io", "/bin/sbrktest"}

func installPrograms(fs *memfs.FS) error {
	for _, dir := range []string{"/bin", "/tmp"} {
		if err := fs.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}
	for name, main := range programs {
		if err := fs.WriteFile("/bin/"+name, userland.Install(name, main), 0755); err != nil {
			return fmt.Errorf("install %v: %w", name, err)
		}
	}
	return nil
}

func describe(status int) string {
	if arch.WIfSignaled(status) {
		return fmt.Sprintf("killed by signal %d", arch.WTermSig(status))
	}
	return fmt.Sprintf("exit %d", arch.WExitStatus(status))
}

// init runs each program named by its arguments in a child and
// reports how it ended. It exits with the number of failures.
func initMain(p *userland.Proc) int {
	progs := initPrograms
	if len(p.Args) > 1 {
		progs = p.Args[1:]
	}
	failed := 0
	for _, prog := range progs {
		pid, err := p.Fork(func(c *userland.Proc) int {
			err := c.Execv(prog, []string{path.Base(prog)})
			c.Printf("init: execv %v: %v\n", prog, err)
			return 127
		})
		if err != nil {
			p.Printf("init: fork: %v\n", err)
			failed++
			continue
		}
		_, status, err := p.Waitpid(pid, 0)
		if err != nil {
			p.Printf("init: waitpid %d: %v\n", pid, err)
			failed++
			continue
		}
		if status != arch.MkWaitExit(0) {
			failed++
		}
		p.Printf("init: %v (pid %d): %v\n", prog, pid, describe(status))
	}
	return failed
}

func helloMain(p *userland.Proc) int {
	p.Printf("hello from pid %d (parent %d): %v\n", p.Getpid(), p.Getppid(), strings.Join(p.Args, " "))
	return 0
}

// forktest forks n children. Each sees the parent's memory as it was
// at fork time and changes its own copy; the parent's copy must not
// change.
func forktestMain(p *userland.Proc) int {
	n := 4
	if len(p.Args) > 1 {
		if v, err := strconv.Atoi(p.Args[1]); err == nil && v > 0 {
			n = v
		}
	}
	c := p.CPU()
	cell := p.Malloc(vm.WordSize)
	c.StoreWord(cell, 0xc0ffee)

	var pids []int
	for i := 1; i <= n; i++ {
		pid, err := p.Fork(func(ch *userland.Proc) int {
			if ch.CPU().LoadWord(cell) != 0xc0ffee {
				return 100
			}
			ch.CPU().StoreWord(cell, uint32(ch.Getpid()))
			return i
		})
		if err != nil {
			p.Printf("forktest: fork %d: %v\n", i, err)
			break
		}
		pids = append(pids, pid)
	}
	sum := 0
	for _, pid := range pids {
		_, status, err := p.Waitpid(pid, 0)
		if err != nil {
			p.Printf("forktest: waitpid %d: %v\n", pid, err)
			return 1
		}
		sum += arch.WExitStatus(status)
	}
	if want := len(pids) * (len(pids) + 1) / 2; sum != want {
		p.Printf("forktest: children returned %d, want %d\n", sum, want)
		return 1
	}
	if c.LoadWord(cell) != 0xc0ffee {
		p.Printf("forktest: parent memory changed\n")
		return 1
	}
	p.Printf("forktest: %d children ok\n", len(pids))
	return 0
}

// waittest checks the waitpid error cases and collects a child that
// exits before the parent waits.
func waittestMain(p *userland.Proc) int {
	check := func(what string, err error, want errno.Errno) bool {
		if !errno.Is(err, want) {
			p.Printf("waittest: %v: got %v, want %v\n", what, err, want)
			return false
		}
		return true
	}
	ok := true
	_, _, err := p.Waitpid(1<<20, 0)
	ok = check("no such pid", err, errno.EINVAL) && ok
	_, _, err = p.Waitpid(p.Getpid(), 0)
	ok = check("self", err, errno.ECHILD) && ok

	pid, err := p.Fork(func(c *userland.Proc) int { return 42 })
	if err != nil {
		p.Printf("waittest: fork: %v\n", err)
		return 1
	}
	_, _, err = p.Waitpid(pid, 1)
	ok = check("options", err, errno.EINVAL) && ok
	_, status, err := p.Waitpid(pid, 0)
	if err != nil || arch.WExitStatus(status) != 42 {
		p.Printf("waittest: child: %v %v\n", describe(status), err)
		ok = false
	}

	// A child that outlives its parent is still released.
	_, err = p.Fork(func(c *userland.Proc) int {
		if _, err := c.Fork(func(g *userland.Proc) int { return 0 }); err != nil {
			return 1
		}
		return 0
	})
	if err != nil {
		ok = false
	}
	if !ok {
		return 1
	}
	p.Printf("waittest: ok\n")
	return 0
}

// io writes a file, reads it back and appends to it. With a host
// directory mounted it copies the file to emu0:.
func ioMain(p *userland.Proc) int {
	const name = "/tmp/io.txt"
	fd, err := p.Open(name, vfs.O_WRONLY|vfs.O_CREAT|vfs.O_TRUNC, 0644)
	if err != nil {
		p.Printf("io: open %v: %v\n", name, err)
		return 1
	}
	for i := 1; i <= 3; i++ {
		p.Write(fd, []byte(fmt.Sprintf("line %d\n", i)))
	}
	p.Close(fd)

	fd, err = p.Open(name, vfs.O_WRONLY|vfs.O_APPEND, 0)
	if err != nil {
		return 1
	}
	p.Write(fd, []byte("appended\n"))
	p.Close(fd)

	data, err := readAll(p, name)
	if err != nil {
		p.Printf("io: read %v: %v\n", name, err)
		return 1
	}
	p.Printf("io: read %d bytes, %d lines\n", len(data), strings.Count(string(data), "\n"))

	hfd, err := p.Open("emu0:io.txt", vfs.O_WRONLY|vfs.O_CREAT|vfs.O_TRUNC, 0644)
	if errno.Is(err, errno.ENOENT) {
		return 0
	}
	if err != nil {
		p.Printf("io: emu0: %v\n", err)
		return 1
	}
	n, err := p.Write(hfd, data)
	p.Close(hfd)
	if err != nil {
		return 1
	}
	p.Printf("io: copied %d bytes to emu0:io.txt\n", n)
	return 0
}

func readAll(p *userland.Proc, name string) ([]byte, error) {
	fd, err := p.Open(name, vfs.O_RDONLY, 0)
	if err != nil {
		return nil, err
	}
	defer p.Close(fd)
	var data []byte
	buf := make([]byte, 16)
	for {
		n, err := p.Read(fd, buf)
		if err != nil {
			return nil, err
		}
		if n == 0 {
			return data, nil
		}
		data = append(data, buf[:n]...)
	}
}

// sbrktest grows the heap, touches it, shrinks it and checks the
// limits of the break.
func sbrktestMain(p *userland.Proc) int {
	base, err := p.Sbrk(0)
	if err != nil {
		return 1
	}
	if _, err := p.Sbrk(8 * vm.PageSize); err != nil {
		p.Printf("sbrktest: grow: %v\n", err)
		return 1
	}
	for i := 0; i < 8; i++ {
		p.CPU().StoreWord(base+vm.Vaddr(i*vm.PageSize), uint32(i))
	}
	if _, err := p.Sbrk(-8 * vm.PageSize); err != nil {
		return 1
	}
	if _, err := p.Sbrk(-vm.PageSize * 1024); !errno.Is(err, errno.EINVAL) {
		p.Printf("sbrktest: below heap: %v\n", err)
		return 1
	}
	if _, err := p.Sbrk(0x7ffffff0); !errno.Is(err, errno.ENOMEM) {
		p.Printf("sbrktest: into stack: %v\n", err)
		return 1
	}
	if brk, _ := p.Sbrk(0); brk != base {
		p.Printf("sbrktest: break %#x, want %#x\n", brk, base)
		return 1
	}
	p.Printf("sbrktest: ok\n")
	return 0
}
