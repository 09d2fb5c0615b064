// Package uio describes a data transfer between a file object and a
// kernel or user buffer.
//
// A Uio names the buffer, the file offset and the direction. File
// objects call Move to transfer bytes; Move advances Offset and
// decrements Resid by the amount moved, so after the transfer the
// caller reads the new offset and the count left untransferred straight
// from the Uio.
package uio

import (
	"fmt"

	"gokern/pkg/vm"
)

type Seg int

const (
	UserSpace Seg = iota
	KernelSpace
)

func (s Seg) String() string {
	if s == UserSpace {
		return "user"
	}
	return "kernel"
}

type Rw int

const (
	// Read moves data from the file object into the buffer.
	Read Rw = iota
	// Write moves data from the buffer into the file object.
	Write
)

func (rw Rw) String() string {
	if rw == Read {
		return "read"
	}
	return "write"
}

type Iovec struct {
	Kbase []byte
	Ubase vm.Vaddr
	Len   int
}

type Uio struct {
	Iov    Iovec
	Offset int64
	Resid  int
	Seg    Seg
	Rw     Rw
	Space  *vm.AddrSpace
}

// NewKernel returns a uio over the kernel buffer buf.
func NewKernel(buf []byte, off int64, rw Rw) *Uio {
	return &Uio{
		Iov:    Iovec{Kbase: buf, Len: len(buf)},
		Offset: off,
		Resid:  len(buf),
		Seg:    KernelSpace,
		Rw:     rw,
	}
}

// NewUser returns a uio over n bytes of user memory at ubase in as.
func NewUser(as *vm.AddrSpace, ubase vm.Vaddr, n int, off int64, rw Rw) *Uio {
	return &Uio{
		Iov:    Iovec{Ubase: ubase, Len: n},
		Offset: off,
		Resid:  n,
		Seg:    UserSpace,
		Rw:     rw,
		Space:  as,
	}
}

func (u *Uio) String() string {
	return fmt.Sprintf("{%v %v off %d resid %d}", u.Seg, u.Rw, u.Offset, u.Resid)
}

// Move transfers up to len(b) bytes between b and the uio's buffer in
// the uio's direction. It returns the number of bytes moved. A user
// copy fault stops the transfer; bytes moved before the fault are
// accounted for.
func (u *Uio) Move(b []byte) (int, error) {
	n := len(b)
	if n > u.Resid {
		n = u.Resid
	}
	if n == 0 {
		return 0, nil
	}
	done := u.Iov.Len - u.Resid
	var err error
	switch u.Seg {
	case KernelSpace:
		if u.Rw == Read {
			copy(u.Iov.Kbase[done:done+n], b[:n])
		} else {
			copy(b[:n], u.Iov.Kbase[done:done+n])
		}
	case UserSpace:
		va := u.Iov.Ubase + vm.Vaddr(done)
		if u.Rw == Read {
			err = u.Space.Copyout(b[:n], va)
		} else {
			err = u.Space.Copyin(va, b[:n])
		}
		if err != nil {
			return 0, err
		}
	}
	u.Offset += int64(n)
	u.Resid -= n
	return n, nil
}
