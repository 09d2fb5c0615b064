// Package diskfs exposes a host directory to the kernel. It is mounted
// as the "emu0:" device, so "emu0:notes.txt" names notes.txt in the
// host directory.
//
// Host errors keep their errno values, so a missing host file fails
// open with ENOENT exactly like a missing memfs file.
package diskfs

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sys/unix"

	db "gokern/pkg/debug"
	"gokern/pkg/errno"
	"gokern/pkg/uio"
	"gokern/pkg/vfs"
)

type FS struct {
	root string
}

// New returns a filesystem rooted at the host directory root.
func New(root string) *FS {
	return &FS{root: filepath.Clean(root)}
}

func (fs *FS) Root() string {
	return fs.root
}

// hostFlags translates open flags to os flags. Offsets are kept by the
// caller, so O_APPEND only affects where the caller starts.
func hostFlags(flags int) int {
	var f int
	switch flags & vfs.O_ACCMODE {
	case vfs.O_RDONLY:
		f = os.O_RDONLY
	case vfs.O_WRONLY:
		f = os.O_WRONLY
	case vfs.O_RDWR:
		f = os.O_RDWR
	}
	if flags&vfs.O_CREAT != 0 {
		f |= os.O_CREATE
	}
	if flags&vfs.O_EXCL != 0 {
		f |= os.O_EXCL
	}
	if flags&vfs.O_TRUNC != 0 {
		f |= os.O_TRUNC
	}
	return f
}

// Open implements vfs.FileSystem.
func (fs *FS) Open(path string, flags int, mode os.FileMode) (vfs.Vnode, error) {
	if !vfs.ValidFlags(flags) {
		return nil, fmt.Errorf("%v flags %#x: %w", path, flags, errno.EINVAL)
	}
	file, err := os.OpenFile(fs.fullPath(path), hostFlags(flags), mode&vfs.ModePerm)
	if err != nil {
		return nil, hostErr(err)
	}
	db.DPrintf(db.VFS, "diskfs open %v", file.Name())
	return &diskFile{file: file, path: vfs.Clean(path)}, nil
}

// fullPath converts a path to a host path that cannot escape the root.
func (fs *FS) fullPath(path string) string {
	clean := vfs.Clean(path)
	if clean == "/" {
		return fs.root
	}
	return filepath.Join(fs.root, clean[1:])
}

// hostErr strips the os wrapper off err, keeping its errno.
func hostErr(err error) error {
	var pe *os.PathError
	if errors.As(err, &pe) {
		var e unix.Errno
		if errors.As(pe.Err, &e) {
			return fmt.Errorf("%v %v: %w", pe.Op, filepath.Base(pe.Path), e)
		}
	}
	return fmt.Errorf("%v: %w", err, errno.EIO)
}

type diskFile struct {
	file *os.File
	path string
}

func (f *diskFile) Read(u *uio.Uio) error {
	buf := make([]byte, u.Resid)
	n, err := f.file.ReadAt(buf, u.Offset)
	if err != nil && !errors.Is(err, io.EOF) {
		return hostErr(err)
	}
	_, err = u.Move(buf[:n])
	return err
}

func (f *diskFile) Write(u *uio.Uio) error {
	off := u.Offset
	buf := make([]byte, u.Resid)
	n, err := u.Move(buf)
	if err != nil {
		return err
	}
	if _, err := f.file.WriteAt(buf[:n], off); err != nil {
		return hostErr(err)
	}
	return nil
}

func (f *diskFile) Stat() (vfs.Stat, error) {
	info, err := f.file.Stat()
	if err != nil {
		return vfs.Stat{}, hostErr(err)
	}
	st := vfs.Stat{
		Name:    info.Name(),
		Size:    info.Size(),
		Mode:    info.Mode(),
		ModTime: info.ModTime(),
		IsDir:   info.IsDir(),
	}
	var ust unix.Stat_t
	if err := unix.Fstat(int(f.file.Fd()), &ust); err == nil {
		st.Ino = ust.Ino
		st.ModTime = time.Unix(ust.Mtim.Unix())
	}
	return st, nil
}

func (f *diskFile) Close() error {
	if err := f.file.Close(); err != nil {
		return hostErr(err)
	}
	return nil
}
