// Package console implements the "con:" character device.
//
// Every open of the console shares one input stream and one output
// stream. The device has no notion of position, so the transfer offset
// is ignored.
package console

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	db "gokern/pkg/debug"
	"gokern/pkg/errno"
	"gokern/pkg/uio"
	"gokern/pkg/vfs"
)

type Console struct {
	rmu sync.Mutex
	in  *bufio.Reader

	wmu    sync.Mutex
	out    io.Writer
	nwrite int64
}

// New returns a console reading from in and writing to out. A nil in
// reads as end of file.
func New(in io.Reader, out io.Writer) *Console {
	c := &Console{out: out}
	if in != nil {
		c.in = bufio.NewReader(in)
	}
	return c
}

// Open implements vfs.FileSystem. The console has no names below it.
func (c *Console) Open(path string, flags int, mode os.FileMode) (vfs.Vnode, error) {
	if path != "" {
		return nil, fmt.Errorf("con:%v: %w", path, errno.ENOENT)
	}
	if flags&(vfs.O_CREAT|vfs.O_TRUNC) != 0 && flags&vfs.O_EXCL != 0 {
		return nil, fmt.Errorf("con: exclusive create: %w", errno.EEXIST)
	}
	return &vnode{c: c}, nil
}

// Written is the number of bytes written to the console so far.
func (c *Console) Written() int64 {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	return c.nwrite
}

type vnode struct {
	c *Console
}

// Read returns at most one line of input.
func (v *vnode) Read(u *uio.Uio) error {
	c := v.c
	if c.in == nil || u.Resid == 0 {
		return nil
	}
	c.rmu.Lock()
	defer c.rmu.Unlock()

	var line []byte
	for len(line) < u.Resid {
		b, err := c.in.ReadByte()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("con: %v: %w", err, errno.EIO)
		}
		line = append(line, b)
		if b == '\n' {
			break
		}
	}
	_, err := u.Move(line)
	return err
}

func (v *vnode) Write(u *uio.Uio) error {
	c := v.c
	buf := make([]byte, u.Resid)
	n, err := u.Move(buf)
	if err != nil {
		return err
	}
	c.wmu.Lock()
	defer c.wmu.Unlock()
	if _, err := c.out.Write(buf[:n]); err != nil {
		return fmt.Errorf("con: %v: %w", err, errno.EIO)
	}
	c.nwrite += int64(n)
	db.DPrintf(db.VFS, "con: wrote %d", n)
	return nil
}

func (v *vnode) Stat() (vfs.Stat, error) {
	return vfs.Stat{
		Name:    "con:",
		Mode:    os.ModeDevice | os.ModeCharDevice | 0666,
		ModTime: time.Time{},
	}, nil
}

func (v *vnode) Close() error {
	return nil
}
