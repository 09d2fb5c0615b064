package vm

import (
	"fmt"
	"sync"

	"github.com/dustin/go-humanize"

	db "gokern/pkg/debug"
	"gokern/pkg/errno"
)

// Coremap is the physical page allocator shared by all address spaces.
type Coremap struct {
	mu    sync.Mutex
	total int
	used  int
	peak  int
}

func NewCoremap(npages int) *Coremap {
	return &Coremap{total: npages}
}

func (cm *Coremap) String() string {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	return fmt.Sprintf("coremap %v/%v used, peak %v",
		humanize.IBytes(uint64(cm.used*PageSize)),
		humanize.IBytes(uint64(cm.total*PageSize)),
		humanize.IBytes(uint64(cm.peak*PageSize)))
}

// AllocPage returns a zeroed page or ENOMEM.
func (cm *Coremap) AllocPage() ([]byte, error) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	if cm.used >= cm.total {
		db.DPrintf(db.VM, "out of pages (%d)", cm.total)
		return nil, errno.ENOMEM
	}
	cm.used++
	if cm.used > cm.peak {
		cm.peak = cm.used
	}
	return make([]byte, PageSize), nil
}

func (cm *Coremap) FreePage() {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	if cm.used == 0 {
		db.DFatalf("coremap: free with no pages allocated")
	}
	cm.used--
}

func (cm *Coremap) Used() int {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	return cm.used
}

func (cm *Coremap) Free() int {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	return cm.total - cm.used
}

func (cm *Coremap) Total() int {
	return cm.total
}
