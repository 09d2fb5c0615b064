// Package memfs provides an in-memory filesystem. The kernel boots with
// one as its root filesystem, holding the installed program images.
package memfs

import (
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	db "gokern/pkg/debug"
	"gokern/pkg/errno"
	"gokern/pkg/uio"
	"gokern/pkg/vfs"
)

// memNode is a file or directory.
type memNode struct {
	mu       sync.RWMutex
	ino      uint64
	data     []byte
	isDir    bool
	children map[string]*memNode
	mode     os.FileMode
	mtime    time.Time
	opens    int
}

// umask is applied to the mode of new files.
var umask os.FileMode = 022

type FS struct {
	mu      sync.RWMutex
	root    *memNode
	nextIno uint64
}

func New() *FS {
	fs := &FS{}
	fs.root = fs.newNode(true, 0777)
	return fs
}

func (fs *FS) newNode(isDir bool, perm os.FileMode) *memNode {
	fs.nextIno++
	n := &memNode{
		ino:   fs.nextIno,
		isDir: isDir,
		mode:  perm & vfs.ModePerm &^ umask,
		mtime: time.Now(),
	}
	if isDir {
		n.children = make(map[string]*memNode)
		n.mode |= os.ModeDir
	}
	return n
}

// lookupL walks the tree to path. Caller holds fs.mu.
func (fs *FS) lookupL(path string) (*memNode, error) {
	node := fs.root
	for _, part := range vfs.Components(path) {
		if !node.isDir {
			return nil, fmt.Errorf("%v: %w", path, errno.ENOTDIR)
		}
		child, ok := node.children[part]
		if !ok {
			return nil, fmt.Errorf("%v: %w", path, errno.ENOENT)
		}
		node = child
	}
	return node, nil
}

// parentL returns the directory that holds path's final element.
func (fs *FS) parentL(path string) (*memNode, string, error) {
	dir, base := vfs.Split(path)
	if base == "" {
		return nil, "", fmt.Errorf("%v: %w", path, errno.EINVAL)
	}
	parent, err := fs.lookupL(dir)
	if err != nil {
		return nil, "", err
	}
	if !parent.isDir {
		return nil, "", fmt.Errorf("%v: %w", dir, errno.ENOTDIR)
	}
	return parent, base, nil
}

// Open implements vfs.FileSystem.
func (fs *FS) Open(path string, flags int, mode os.FileMode) (vfs.Vnode, error) {
	if err := vfs.ValidatePath(path); err != nil {
		return nil, err
	}
	if !vfs.ValidFlags(flags) {
		return nil, fmt.Errorf("%v flags %#x: %w", path, flags, errno.EINVAL)
	}
	path = vfs.Clean(path)

	fs.mu.Lock()
	defer fs.mu.Unlock()

	node, err := fs.lookupL(path)
	switch {
	case err == nil:
		if flags&vfs.O_CREAT != 0 && flags&vfs.O_EXCL != 0 {
			return nil, fmt.Errorf("%v: %w", path, errno.EEXIST)
		}
		if node.isDir && vfs.CanWrite(flags) {
			return nil, fmt.Errorf("%v: %w", path, errno.EISDIR)
		}
		if flags&vfs.O_TRUNC != 0 && vfs.CanWrite(flags) {
			node.mu.Lock()
			node.data = nil
			node.mtime = time.Now()
			node.mu.Unlock()
		}
	case errno.Is(err, errno.ENOENT) && flags&vfs.O_CREAT != 0:
		parent, base, perr := fs.parentL(path)
		if perr != nil {
			return nil, perr
		}
		node = fs.newNode(false, mode)
		parent.children[base] = node
		db.DPrintf(db.VFS, "memfs create %v ino %d", path, node.ino)
	default:
		return nil, err
	}
	node.opens++
	return &memFile{fs: fs, path: path, node: node}, nil
}

func (fs *FS) Stat(path string) (vfs.Stat, error) {
	if err := vfs.ValidatePath(path); err != nil {
		return vfs.Stat{}, err
	}
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	node, err := fs.lookupL(vfs.Clean(path))
	if err != nil {
		return vfs.Stat{}, err
	}
	return node.stat(vfs.Base(path)), nil
}

// OpenCount is the number of live opens of the file at path.
func (fs *FS) OpenCount(path string) int {
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	node, err := fs.lookupL(vfs.Clean(path))
	if err != nil {
		return 0
	}
	return node.opens
}

func (fs *FS) Mkdir(path string, perm os.FileMode) error {
	return fs.mkdir(path, perm, false)
}

func (fs *FS) MkdirAll(path string, perm os.FileMode) error {
	return fs.mkdir(path, perm, true)
}

func (fs *FS) mkdir(path string, perm os.FileMode, parents bool) error {
	if err := vfs.ValidatePath(path); err != nil {
		return err
	}
	fs.mu.Lock()
	defer fs.mu.Unlock()

	parts := vfs.Components(path)
	cur := fs.root
	for i, part := range parts {
		child, ok := cur.children[part]
		last := i == len(parts)-1
		switch {
		case ok && !child.isDir:
			return fmt.Errorf("%v: %w", path, errno.ENOTDIR)
		case ok && last && !parents:
			return fmt.Errorf("%v: %w", path, errno.EEXIST)
		case ok:
			cur = child
			continue
		case !last && !parents:
			return fmt.Errorf("%v: %w", path, errno.ENOENT)
		}
		child = fs.newNode(true, perm)
		cur.children[part] = child
		cur = child
	}
	return nil
}

// Remove unlinks a file or an empty directory. Opens of a removed file
// stay usable.
func (fs *FS) Remove(path string) error {
	if err := vfs.ValidatePath(path); err != nil {
		return err
	}
	fs.mu.Lock()
	defer fs.mu.Unlock()

	parent, base, err := fs.parentL(vfs.Clean(path))
	if err != nil {
		return err
	}
	child, ok := parent.children[base]
	if !ok {
		return fmt.Errorf("%v: %w", path, errno.ENOENT)
	}
	if child.isDir && len(child.children) > 0 {
		return fmt.Errorf("%v: %w", path, errno.ENOTEMPTY)
	}
	delete(parent.children, base)
	return nil
}

// ReadDir returns the sorted names in the directory at path.
func (fs *FS) ReadDir(path string) ([]string, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	node, err := fs.lookupL(vfs.Clean(path))
	if err != nil {
		return nil, err
	}
	if !node.isDir {
		return nil, fmt.Errorf("%v: %w", path, errno.ENOTDIR)
	}
	names := make([]string, 0, len(node.children))
	for n := range node.children {
		names = append(names, n)
	}
	sort.Strings(names)
	return names, nil
}

func (fs *FS) ReadFile(path string) ([]byte, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	node, err := fs.lookupL(vfs.Clean(path))
	if err != nil {
		return nil, err
	}
	if node.isDir {
		return nil, fmt.Errorf("%v: %w", path, errno.EISDIR)
	}
	node.mu.RLock()
	defer node.mu.RUnlock()
	return append([]byte(nil), node.data...), nil
}

// WriteFile replaces the contents of the file at path, creating it if
// necessary.
func (fs *FS) WriteFile(path string, data []byte, perm os.FileMode) error {
	if err := vfs.ValidatePath(path); err != nil {
		return err
	}
	path = vfs.Clean(path)
	fs.mu.Lock()
	defer fs.mu.Unlock()

	node, err := fs.lookupL(path)
	if err != nil {
		if !errno.Is(err, errno.ENOENT) {
			return err
		}
		parent, base, perr := fs.parentL(path)
		if perr != nil {
			return perr
		}
		node = fs.newNode(false, perm)
		parent.children[base] = node
	} else if node.isDir {
		return fmt.Errorf("%v: %w", path, errno.EISDIR)
	}
	node.mu.Lock()
	node.data = append([]byte(nil), data...)
	node.mtime = time.Now()
	node.mu.Unlock()
	return nil
}

func (n *memNode) stat(name string) vfs.Stat {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return vfs.Stat{
		Name:    name,
		Ino:     n.ino,
		Size:    int64(len(n.data)),
		Mode:    n.mode,
		ModTime: n.mtime,
		IsDir:   n.isDir,
	}
}

// memFile is one open of a memNode.
type memFile struct {
	fs     *FS
	path   string
	node   *memNode
	closed bool
}

func (f *memFile) Read(u *uio.Uio) error {
	if f.node.isDir {
		return fmt.Errorf("%v: %w", f.path, errno.EISDIR)
	}
	f.node.mu.RLock()
	defer f.node.mu.RUnlock()
	if u.Offset >= int64(len(f.node.data)) {
		return nil
	}
	_, err := u.Move(f.node.data[u.Offset:])
	return err
}

func (f *memFile) Write(u *uio.Uio) error {
	f.node.mu.Lock()
	defer f.node.mu.Unlock()

	off := u.Offset
	buf := make([]byte, u.Resid)
	n, err := u.Move(buf)
	if err != nil {
		return err
	}
	if end := off + int64(n); end > int64(len(f.node.data)) {
		grown := make([]byte, end)
		copy(grown, f.node.data)
		f.node.data = grown
	}
	copy(f.node.data[off:], buf[:n])
	f.node.mtime = time.Now()
	return nil
}

func (f *memFile) Stat() (vfs.Stat, error) {
	return f.node.stat(vfs.Base(f.path)), nil
}

func (f *memFile) Close() error {
	f.fs.mu.Lock()
	defer f.fs.mu.Unlock()
	if f.closed {
		db.DFatalf("memfs: %v closed twice", f.path)
	}
	f.closed = true
	f.node.opens--
	return nil
}
