package vfs

import (
	"fmt"
	"os"
	"sort"
	"sync"

	db "gokern/pkg/debug"
	"gokern/pkg/errno"
)

// Mux is the kernel's file namespace. A path of the form "name:rest"
// is opened on the filesystem or device mounted as name; any other
// path is opened on the root filesystem.
type Mux struct {
	mu     sync.RWMutex
	root   FileSystem
	mounts map[string]FileSystem
}

func NewMux(root FileSystem) *Mux {
	return &Mux{root: root, mounts: make(map[string]FileSystem)}
}

// Mount attaches fs under the device name name. Mounting a name twice
// is EEXIST.
func (m *Mux) Mount(name string, fs FileSystem) error {
	if name == "" {
		return fmt.Errorf("mount: %w", errno.EINVAL)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.mounts[name]; ok {
		return fmt.Errorf("mount %v: %w", name, errno.EEXIST)
	}
	m.mounts[name] = fs
	db.DPrintf(db.VFS, "mount %v:", name)
	return nil
}

func (m *Mux) Unmount(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.mounts[name]; !ok {
		return fmt.Errorf("unmount %v: %w", name, errno.ENOENT)
	}
	delete(m.mounts, name)
	return nil
}

// Devices lists the mounted names.
func (m *Mux) Devices() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.mounts))
	for n := range m.mounts {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func (m *Mux) Open(path string, flags int, mode os.FileMode) (Vnode, error) {
	if err := ValidatePath(path); err != nil {
		return nil, err
	}
	if !ValidFlags(flags) {
		return nil, fmt.Errorf("open %v flags %#x: %w", path, flags, errno.EINVAL)
	}
	fs, rest, err := m.resolve(path)
	if err != nil {
		return nil, err
	}
	vn, err := fs.Open(rest, flags, mode)
	if err != nil {
		db.DPrintf(db.VFS, "open %v: %v", path, err)
		return nil, err
	}
	return vn, nil
}

func (m *Mux) resolve(path string) (FileSystem, string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if dev, rest, ok := SplitDevice(path); ok {
		fs, ok := m.mounts[dev]
		if !ok {
			return nil, "", fmt.Errorf("no device %v: %w", dev, errno.ENOENT)
		}
		return fs, rest, nil
	}
	if m.root == nil {
		return nil, "", fmt.Errorf("no root filesystem: %w", errno.ENOENT)
	}
	// Processes have no working directory; relative names start at /.
	if !IsAbs(path) {
		path = Join("/", path)
	}
	return m.root, path, nil
}
