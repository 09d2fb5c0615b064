package loader

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/hashicorp/golang-lru/v2"

	"gokern/pkg/arch"
	db "gokern/pkg/debug"
	"gokern/pkg/errno"
	"gokern/pkg/uio"
	"gokern/pkg/vfs"
	"gokern/pkg/vm"
)

// Load addresses of the text page and the data segment.
const (
	TextBase vm.Vaddr = 0x00400000
	DataBase vm.Vaddr = 0x10000000
)

type imageKey struct {
	path  string
	ino   uint64
	size  int64
	mtime time.Time
}

// Loader loads images, caching parsed images by file identity.
type Loader struct {
	cache  *lru.Cache[imageKey, *Image]
	hits   atomic.Uint64
	misses atomic.Uint64
}

// New returns a loader that caches up to ncache parsed images.
func New(ncache int) *Loader {
	c, err := lru.New[imageKey, *Image](ncache)
	if err != nil {
		db.DFatalf("loader cache %d: %v", ncache, err)
	}
	return &Loader{cache: c}
}

// Stats returns the cache hit and miss counts.
func (l *Loader) Stats() (hits, misses uint64) {
	return l.hits.Load(), l.misses.Load()
}

func (l *Loader) image(path string, vn vfs.Vnode) (*Image, error) {
	st, err := vn.Stat()
	if err != nil {
		return nil, err
	}
	if st.IsDir {
		return nil, fmt.Errorf("%v: %w", path, errno.EISDIR)
	}
	if st.Size > MaxImage {
		return nil, fmt.Errorf("%v: %d bytes: %w", path, st.Size, errno.ENOEXEC)
	}
	key := imageKey{path, st.Ino, st.Size, st.ModTime}
	if img, ok := l.cache.Get(key); ok {
		l.hits.Add(1)
		return img, nil
	}
	l.misses.Add(1)

	buf := make([]byte, st.Size)
	u := uio.NewKernel(buf, 0, uio.Read)
	for u.Resid > 0 {
		resid := u.Resid
		if err := vn.Read(u); err != nil {
			return nil, err
		}
		if u.Resid == resid {
			return nil, fmt.Errorf("%v: short image: %w", path, errno.ENOEXEC)
		}
	}
	img, err := Parse(buf)
	if err != nil {
		return nil, fmt.Errorf("%v: %w", path, err)
	}
	if evict := l.cache.Add(key, img); evict {
		db.DPrintf(db.LOADER, "evict for %v", path)
	}
	return img, nil
}

// Load reads the image in vn into as and returns the entry point. as
// should be empty; on error it may hold part of the image.
func (l *Loader) Load(path string, vn vfs.Vnode, as *vm.AddrSpace) (vm.Vaddr, error) {
	img, err := l.image(path, vn)
	if err != nil {
		return 0, err
	}
	word, ok := arch.Lookup(img.Entry)
	if !ok {
		return 0, fmt.Errorf("%v: no routine %v: %w", path, img.Entry, errno.ENOEXEC)
	}
	if err := as.DefineRegion("text", TextBase, vm.PageSize); err != nil {
		return 0, err
	}
	if err := as.CopyoutWord(word, TextBase); err != nil {
		return 0, err
	}
	if len(img.Data) > 0 {
		if err := as.DefineRegion("data", DataBase, len(img.Data)); err != nil {
			return 0, err
		}
		if err := as.Copyout(img.Data, DataBase); err != nil {
			return 0, err
		}
	}
	db.DPrintf(db.LOADER, "load %v %v entry %#x", path, img, TextBase)
	return TextBase, nil
}
