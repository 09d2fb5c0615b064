// Package vm implements user address spaces for a 32-bit machine.
//
// An address space is a set of regions (text, data, heap, stack) backed
// by pages from a shared Coremap. Pages are allocated on first touch
// inside a region; touching memory outside every region is a fault.
// Copy duplicates every resident page immediately, so a forked child
// never shares physical pages with its parent.
package vm

import (
	"fmt"
	"sort"
	"sync"

	db "gokern/pkg/debug"
	"gokern/pkg/errno"
)

type Vaddr uint32

const (
	PageSize         = 4096
	PageMask   Vaddr = PageSize - 1
	WordSize         = 4
	StackAlign       = 8

	// UserStack is the top of the user stack and the end of user space.
	UserStack Vaddr = 0x80000000
)

func PageRoundDown(v Vaddr) Vaddr {
	return v &^ PageMask
}

func PageRoundUp(v Vaddr) Vaddr {
	return (v + PageMask) &^ PageMask
}

type region struct {
	name string
	base Vaddr
	top  Vaddr
}

func (r region) contains(va Vaddr) bool {
	return va >= r.base && va < r.top
}

type AddrSpace struct {
	mu         sync.Mutex
	cm         *Coremap
	stackPages int
	regions    []region
	pages      map[Vaddr][]byte
	heapStart  Vaddr
	heapEnd    Vaddr
	hasStack   bool
	destroyed  bool
}

// Create returns an empty address space. Page 0 is never mapped.
func Create(cm *Coremap, stackPages int) *AddrSpace {
	return &AddrSpace{
		cm:         cm,
		stackPages: stackPages,
		pages:      make(map[Vaddr][]byte),
		heapStart:  PageSize,
		heapEnd:    PageSize,
	}
}

func (as *AddrSpace) String() string {
	as.mu.Lock()
	defer as.mu.Unlock()
	return fmt.Sprintf("{regions %v heap [%#x,%#x) stack %v pages %d}",
		as.regions, as.heapStart, as.heapEnd, as.hasStack, len(as.pages))
}

// DefineRegion adds a region covering [vaddr, vaddr+size), rounded out
// to page boundaries. The heap starts above the highest region.
func (as *AddrSpace) DefineRegion(name string, vaddr Vaddr, size int) error {
	as.mu.Lock()
	defer as.mu.Unlock()

	if size <= 0 || uint64(vaddr)+uint64(size) > uint64(as.stackBase()) {
		return fmt.Errorf("region %v [%#x,+%d): %w", name, vaddr, size, errno.EINVAL)
	}
	r := region{name: name, base: PageRoundDown(vaddr), top: PageRoundUp(vaddr + Vaddr(size))}
	if r.base == 0 {
		return fmt.Errorf("region %v maps page 0: %w", name, errno.EINVAL)
	}
	for _, o := range as.regions {
		if r.base < o.top && o.base < r.top {
			return fmt.Errorf("region %v overlaps %v: %w", name, o.name, errno.EINVAL)
		}
	}
	as.regions = append(as.regions, r)
	sort.Slice(as.regions, func(i, j int) bool { return as.regions[i].base < as.regions[j].base })
	if as.heapEnd == as.heapStart && r.top > as.heapStart {
		as.heapStart = r.top
		as.heapEnd = r.top
	}
	db.DPrintf(db.VM, "define region %v [%#x,%#x)", name, r.base, r.top)
	return nil
}

// DefineStack makes the user stack valid and returns the initial stack
// pointer.
func (as *AddrSpace) DefineStack() (Vaddr, error) {
	as.mu.Lock()
	defer as.mu.Unlock()
	if as.heapEnd > as.stackBase() {
		return 0, fmt.Errorf("stack overlaps heap: %w", errno.ENOMEM)
	}
	as.hasStack = true
	return UserStack, nil
}

func (as *AddrSpace) stackBase() Vaddr {
	return UserStack - Vaddr(as.stackPages*PageSize)
}

// StackBase is the lowest address of the stack region.
func (as *AddrSpace) StackBase() Vaddr {
	return as.stackBase()
}

func (as *AddrSpace) HeapStart() Vaddr {
	as.mu.Lock()
	defer as.mu.Unlock()
	return as.heapStart
}

// Break is the current end of the heap.
func (as *AddrSpace) Break() Vaddr {
	as.mu.Lock()
	defer as.mu.Unlock()
	return as.heapEnd
}

// SetBreak moves the end of the heap, releasing pages that fall
// entirely above a lowered break.
func (as *AddrSpace) SetBreak(brk Vaddr) error {
	as.mu.Lock()
	defer as.mu.Unlock()
	if brk < as.heapStart || brk > as.stackBase() {
		return fmt.Errorf("break %#x: %w", brk, errno.EINVAL)
	}
	if brk < as.heapEnd {
		for pa := PageRoundUp(brk); pa < as.heapEnd; pa += PageSize {
			if _, ok := as.pages[pa]; ok {
				delete(as.pages, pa)
				as.cm.FreePage()
			}
		}
	}
	as.heapEnd = brk
	return nil
}

func (as *AddrSpace) validL(va Vaddr) bool {
	if va < PageSize || va >= UserStack {
		return false
	}
	if va >= as.heapStart && va < as.heapEnd {
		return true
	}
	if as.hasStack && va >= as.stackBase() {
		return true
	}
	for _, r := range as.regions {
		if r.contains(va) {
			return true
		}
	}
	return false
}

// faultL resolves the page holding va, allocating it on first touch.
func (as *AddrSpace) faultL(va Vaddr) ([]byte, error) {
	if as.destroyed {
		db.DFatalf("fault %#x in destroyed address space", va)
	}
	pa := PageRoundDown(va)
	if pg, ok := as.pages[pa]; ok {
		return pg, nil
	}
	if !as.validL(va) {
		db.DPrintf(db.VM, "fault %#x: no region", va)
		return nil, errno.EFAULT
	}
	pg, err := as.cm.AllocPage()
	if err != nil {
		return nil, err
	}
	as.pages[pa] = pg
	return pg, nil
}

// Copy returns a new address space with the same layout and a private
// copy of every resident page. On ENOMEM nothing stays allocated.
func (as *AddrSpace) Copy() (*AddrSpace, error) {
	as.mu.Lock()
	defer as.mu.Unlock()

	n := Create(as.cm, as.stackPages)
	n.regions = append(n.regions, as.regions...)
	n.heapStart = as.heapStart
	n.heapEnd = as.heapEnd
	n.hasStack = as.hasStack
	for pa, pg := range as.pages {
		npg, err := as.cm.AllocPage()
		if err != nil {
			n.Destroy()
			return nil, err
		}
		copy(npg, pg)
		n.pages[pa] = npg
	}
	db.DPrintf(db.VM, "copy %d pages, %v", len(n.pages), as.cm)
	return n, nil
}

// Destroy releases every page. The address space must not be used
// afterwards.
func (as *AddrSpace) Destroy() {
	as.mu.Lock()
	defer as.mu.Unlock()
	if as.destroyed {
		db.DFatalf("address space destroyed twice")
	}
	for pa := range as.pages {
		delete(as.pages, pa)
		as.cm.FreePage()
	}
	as.destroyed = true
}

// Activate makes as the current address space of the calling CPU. With
// a software-managed TLB this only invalidates stale translations, which
// this machine does not cache.
func (as *AddrSpace) Activate() {
	db.DPrintf(db.VM, "activate %p", as)
}

// Pages is the number of resident pages.
func (as *AddrSpace) Pages() int {
	as.mu.Lock()
	defer as.mu.Unlock()
	return len(as.pages)
}
