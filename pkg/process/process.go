package process

import (
	"fmt"
	"sync"
	"time"

	"gokern/pkg/errno"
	"gokern/pkg/fdtable"
	"gokern/pkg/synch"
	"gokern/pkg/vm"
)

// ProcessState represents the state of a process in the system.
type ProcessState string

const (
	// StateRunning indicates the process has not exited.
	StateRunning ProcessState = "running"
	// StateZombie indicates the process has exited but its parent hasn't
	// collected its status.
	StateZombie ProcessState = "zombie"
	// StateReaped indicates the status was collected and the table slot
	// vacated.
	StateReaped ProcessState = "reaped"
)

// Process is the kernel's record of one process. Parent and children
// are PIDs, resolved through the Table, never pointers.
type Process struct {
	// PID is the process identifier and table index.
	PID int
	// ParentPID is the PID of the parent process; 0 is the kernel.
	ParentPID int
	// CreatedAt is when the process was created.
	CreatedAt time.Time

	// ChildDone is signalled once by exit; a waiting parent sleeps on it.
	ChildDone *synch.Semaphore
	// ParentAck is signalled when the parent has collected the status,
	// or has exited itself, and lets the exiting process finish.
	ParentAck *synch.Semaphore

	// Files is the descriptor table. Only the process's own thread
	// uses it.
	Files *fdtable.Table

	mu          sync.Mutex
	command     string
	args        []string
	state       ProcessState
	status      int
	finishedAt  time.Time
	space       *vm.AddrSpace
	children    []int
	maxChildren int
}

// NewProcess creates a running process with no address space.
func NewProcess(pid, parentPID int, command string, maxChildren int) *Process {
	name := fmt.Sprintf("pid %d", pid)
	return &Process{
		PID:         pid,
		ParentPID:   parentPID,
		command:     command,
		CreatedAt:   time.Now(),
		ChildDone:   synch.NewSemaphore(name+" child-done", 0),
		ParentAck:   synch.NewSemaphore(name+" parent-ack", 0),
		state:       StateRunning,
		maxChildren: maxChildren,
	}
}

func (p *Process) String() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return fmt.Sprintf("{pid %d ppid %d %v %v children %v}", p.PID, p.ParentPID, p.command, p.state, p.children)
}

// GetState returns the process state.
func (p *Process) GetState() ProcessState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Status returns the encoded exit status, valid once the process is a
// zombie.
func (p *Process) Status() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status
}

// FinishedAt is when the process exited.
func (p *Process) FinishedAt() time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.finishedAt
}

// AddrSpace returns the current address space, nil if there is none.
func (p *Process) AddrSpace() *vm.AddrSpace {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.space
}

// SetAddrSpace installs as and returns the previous address space.
func (p *Process) SetAddrSpace(as *vm.AddrSpace) *vm.AddrSpace {
	p.mu.Lock()
	defer p.mu.Unlock()
	old := p.space
	p.space = as
	return old
}

// Command is the program the process is running.
func (p *Process) Command() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.command
}

// Args is the program's argument vector.
func (p *Process) Args() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.args
}

// SetCommand records a new program image after exec.
func (p *Process) SetCommand(command string, args []string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.command = command
	p.args = args
}

// AddChild records pid as a child. A full child list is EAGAIN.
func (p *Process) AddChild(pid int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.children) >= p.maxChildren {
		return fmt.Errorf("pid %d: %d children: %w", p.PID, len(p.children), errno.EAGAIN)
	}
	p.children = append(p.children, pid)
	return nil
}

// RemoveChild forgets pid and reports whether it was a child.
func (p *Process) RemoveChild(pid int) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, c := range p.children {
		if c == pid {
			p.children = append(p.children[:i], p.children[i+1:]...)
			return true
		}
	}
	return false
}

// Children returns a copy of the child PID list.
func (p *Process) Children() []int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]int(nil), p.children...)
}
