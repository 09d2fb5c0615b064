package arch

import (
	"sync"

	db "gokern/pkg/debug"
)

// Routine is the Go code an instruction word stands for.
type Routine func(c *CPU)

// opTag marks a word as an instruction so that zeroed or data words
// never decode.
const (
	opTag  uint32 = 0x7c000000
	opMask uint32 = 0x03ffffff
)

type entry struct {
	name string
	r    Routine
}

type registry struct {
	mu     sync.RWMutex
	next   uint32
	byID   map[uint32]entry
	byName map[string]uint32
}

var routines = &registry{
	byID:   make(map[uint32]entry),
	byName: make(map[string]uint32),
}

// Register installs r under name and returns its instruction word.
// Registering a name again replaces its routine and keeps its word.
func Register(name string, r Routine) uint32 {
	routines.mu.Lock()
	defer routines.mu.Unlock()
	if id, ok := routines.byName[name]; ok {
		routines.byID[id] = entry{name, r}
		return opTag | id
	}
	routines.next++
	if routines.next > opMask {
		db.DFatalf("instruction space exhausted")
	}
	id := routines.next
	routines.byID[id] = entry{name, r}
	routines.byName[name] = id
	db.DPrintf(db.ARCH, "register %v = %#x", name, opTag|id)
	return opTag | id
}

// Unregister removes the routine named by word.
func Unregister(word uint32) {
	routines.mu.Lock()
	defer routines.mu.Unlock()
	id := word & opMask
	if e, ok := routines.byID[id]; ok {
		delete(routines.byID, id)
		delete(routines.byName, e.name)
	}
}

// Decode returns the routine named by word.
func Decode(word uint32) (Routine, string, bool) {
	if word&^opMask != opTag {
		return nil, "", false
	}
	routines.mu.RLock()
	defer routines.mu.RUnlock()
	e, ok := routines.byID[word&opMask]
	return e.r, e.name, ok
}

// Registered is the number of installed routines.
func Registered() int {
	routines.mu.RLock()
	defer routines.mu.RUnlock()
	return len(routines.byID)
}

// Lookup returns the instruction word of the routine registered as
// name.
func Lookup(name string) (uint32, bool) {
	routines.mu.RLock()
	defer routines.mu.RUnlock()
	id, ok := routines.byName[name]
	return opTag | id, ok
}
