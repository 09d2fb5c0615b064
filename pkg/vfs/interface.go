package vfs

import (
	"os"
	"time"

	"gokern/pkg/uio"
)

// FileSystem is anything that can turn a path into an open Vnode.
// Implementations include MemFS (in-memory), DiskFS (host directory)
// and the console device.
type FileSystem interface {
	// Open opens path with the open flags and, when O_CREAT creates a
	// file, the permission bits in mode.
	Open(path string, flags int, mode os.FileMode) (Vnode, error)
}

// Vnode is an open file object. Reads and writes are positioned by the
// uio's offset; the vnode keeps no offset of its own.
type Vnode interface {
	// Read transfers bytes starting at u.Offset into u's buffer. At end
	// of file it transfers nothing and returns nil.
	Read(u *uio.Uio) error

	// Write transfers u's buffer into the file starting at u.Offset.
	Write(u *uio.Uio) error

	Stat() (Stat, error)

	// Close releases this open of the file.
	Close() error
}

// Stat describes a file.
type Stat struct {
	Name    string
	Ino     uint64
	Size    int64
	Mode    os.FileMode
	ModTime time.Time
	IsDir   bool
}

// Open flags, numbered as user programs pass them to open.
const (
	O_RDONLY  = 0
	O_WRONLY  = 1
	O_RDWR    = 2
	O_ACCMODE = 3 // mask for the access mode

	O_CREAT  = 4
	O_EXCL   = 8
	O_TRUNC  = 16
	O_APPEND = 32
)

const oModifiers = O_CREAT | O_EXCL | O_TRUNC | O_APPEND

// ValidFlags reports whether flags names exactly one access mode and no
// unknown bits.
func ValidFlags(flags int) bool {
	if flags < 0 || flags&^(O_ACCMODE|oModifiers) != 0 {
		return false
	}
	return flags&O_ACCMODE != O_ACCMODE
}

func CanRead(flags int) bool {
	m := flags & O_ACCMODE
	return m == O_RDONLY || m == O_RDWR
}

func CanWrite(flags int) bool {
	m := flags & O_ACCMODE
	return m == O_WRONLY || m == O_RDWR
}

// Permission bits for new files.
const (
	ModePerm = os.ModePerm
	AllPerm  = 0777
)
