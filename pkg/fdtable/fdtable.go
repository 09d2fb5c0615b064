// Package fdtable implements per-process file descriptor tables.
//
// A descriptor names an Entry: one open of a file with its offset and
// flags. Entries are shared, not copied, when a process forks, so both
// processes see each other's offset changes. Each Entry counts the
// table slots that point at it and closes its vnode when the last one
// goes away.
//
// A Table belongs to one process and is only used by that process's
// thread. Entries may be shared by many tables and are guarded by their
// own lock.
package fdtable

import (
	"fmt"
	"os"

	db "gokern/pkg/debug"
	"gokern/pkg/errno"
	"gokern/pkg/synch"
	"gokern/pkg/uio"
	"gokern/pkg/vfs"
	"gokern/pkg/vm"
)

// Entry is one open of a file: the vnode, the flags it was opened with
// and the offset shared by every descriptor that refers to it.
type Entry struct {
	lock     *synch.Lock
	vn       vfs.Vnode
	path     string
	flags    int
	offset   int64
	refcount int
}

func (e *Entry) String() string {
	e.lock.Acquire()
	defer e.lock.Release()
	return fmt.Sprintf("{%v flags %#x off %d ref %d}", e.path, e.flags, e.offset, e.refcount)
}

// Path is the name the entry was opened with. It is empty after the
// last close.
func (e *Entry) Path() string {
	e.lock.Acquire()
	defer e.lock.Release()
	return e.path
}

// Flags are the open flags, access mode included.
func (e *Entry) Flags() int {
	return e.flags
}

// Offset is where the next read or write through the entry starts.
func (e *Entry) Offset() int64 {
	e.lock.Acquire()
	defer e.lock.Release()
	return e.offset
}

// Refcount is the number of descriptor slots that refer to the entry.
func (e *Entry) Refcount() int {
	e.lock.Acquire()
	defer e.lock.Release()
	return e.refcount
}

func (e *Entry) incref() {
	e.lock.Acquire()
	e.refcount++
	e.lock.Release()
}

// decref drops one reference. The last reference closes the vnode.
// The count is tested under the lock so that two closers cannot both
// see the last reference.
func (e *Entry) decref() error {
	e.lock.Acquire()
	defer e.lock.Release()
	if e.refcount <= 0 {
		db.DFatalf("fd entry %v: refcount %d", e.path, e.refcount)
	}
	e.refcount--
	if e.refcount > 0 {
		return nil
	}
	db.DPrintf(db.FD, "last close %v", e.path)
	err := e.vn.Close()
	e.vn = nil
	e.path = ""
	return err
}

// Table maps descriptors to entries. Slot 0, 1 and 2 are standard
// input, output and error.
type Table struct {
	files []*Entry
}

// New returns an empty table with openMax slots.
func New(openMax int) *Table {
	return &Table{files: make([]*Entry, openMax)}
}

// Size is the number of slots, OpenMax.
func (t *Table) Size() int {
	return len(t.files)
}

// Count is the number of open descriptors.
func (t *Table) Count() int {
	n := 0
	for _, e := range t.files {
		if e != nil {
			n++
		}
	}
	return n
}

// Lowest returns the lowest free descriptor.
func (t *Table) Lowest() (int, error) {
	for fd, e := range t.files {
		if e == nil {
			return fd, nil
		}
	}
	return -1, errno.EMFILE
}

// Get returns the entry fd names.
func (t *Table) Get(fd int) (*Entry, error) {
	if fd < 0 || fd >= len(t.files) || t.files[fd] == nil {
		return nil, fmt.Errorf("fd %d: %w", fd, errno.EBADF)
	}
	return t.files[fd], nil
}

// Open opens path on fs into the lowest free descriptor. An append
// open starts at the end of the file.
func (t *Table) Open(fs vfs.FileSystem, path string, flags int, mode os.FileMode) (int, error) {
	if !vfs.ValidFlags(flags) {
		return -1, fmt.Errorf("open %v flags %#x: %w", path, flags, errno.EINVAL)
	}
	fd, err := t.Lowest()
	if err != nil {
		return -1, err
	}
	vn, err := fs.Open(path, flags, mode)
	if err != nil {
		return -1, err
	}
	var off int64
	if flags&vfs.O_APPEND != 0 {
		st, err := vn.Stat()
		if err != nil {
			vn.Close()
			return -1, err
		}
		off = st.Size
	}
	t.files[fd] = &Entry{
		lock:     synch.NewLock("fd " + path),
		vn:       vn,
		path:     path,
		flags:    flags,
		offset:   off,
		refcount: 1,
	}
	db.DPrintf(db.FD, "open %v = %d", t.files[fd], fd)
	return fd, nil
}

// Read reads up to n bytes from fd into user memory at buf and
// returns the number read, which is short at end of file.
func (t *Table) Read(fd int, as *vm.AddrSpace, buf vm.Vaddr, n int) (int, error) {
	return t.transfer(fd, as, buf, n, uio.Read)
}

// Write writes n bytes from user memory at buf to fd.
func (t *Table) Write(fd int, as *vm.AddrSpace, buf vm.Vaddr, n int) (int, error) {
	return t.transfer(fd, as, buf, n, uio.Write)
}

func (t *Table) transfer(fd int, as *vm.AddrSpace, buf vm.Vaddr, n int, rw uio.Rw) (int, error) {
	e, err := t.Get(fd)
	if err != nil {
		return 0, err
	}
	if (rw == uio.Read && !vfs.CanRead(e.flags)) || (rw == uio.Write && !vfs.CanWrite(e.flags)) {
		return 0, fmt.Errorf("fd %d not open for %v: %w", fd, rw, errno.EBADF)
	}
	if buf == 0 {
		return 0, errno.EFAULT
	}
	if n < 0 {
		return 0, errno.EINVAL
	}
	if n == 0 {
		return 0, nil
	}
	if uint64(buf)+uint64(n) > uint64(vm.UserStack) {
		return 0, fmt.Errorf("fd %d buffer %#x+%d: %w", fd, buf, n, errno.EFAULT)
	}

	e.lock.Acquire()
	defer e.lock.Release()

	u := uio.NewUser(as, buf, n, e.offset, rw)
	if rw == uio.Read {
		err = e.vn.Read(u)
	} else {
		err = e.vn.Write(u)
	}
	if err != nil {
		return 0, err
	}
	e.offset = u.Offset
	return n - u.Resid, nil
}

// Close clears fd. The entry stays open while other slots refer to it.
func (t *Table) Close(fd int) error {
	e, err := t.Get(fd)
	if err != nil {
		return err
	}
	t.files[fd] = nil
	db.DPrintf(db.FD, "close %d %v", fd, e)
	return e.decref()
}

// Fork returns a table for a child process that shares every entry of
// t.
func (t *Table) Fork() *Table {
	nt := New(len(t.files))
	for fd, e := range t.files {
		if e != nil {
			e.incref()
			nt.files[fd] = e
		}
	}
	return nt
}

// CloseAll closes every descriptor, as on process exit.
func (t *Table) CloseAll() {
	for fd, e := range t.files {
		if e == nil {
			continue
		}
		if err := t.Close(fd); err != nil {
			db.DPrintf(db.FD, "close %d on exit: %v", fd, err)
		}
	}
}
