// Package arch is the simulated machine: the trapframe a system call
// traps with, the call numbers, and the CPU that runs user code.
//
// User text holds instruction words. Each word names a Go routine in
// a global registry; the CPU fetches the word at EPC from the current
// address space and runs the routine it names. A routine traps into
// the kernel with CPU.Syscall, which hands the trapframe to the
// kernel's handler. Because a forked child runs on a fresh goroutine,
// a routine that must resume in the child writes its own continuation
// word into user memory and points EPC just before it.
package arch

import (
	"fmt"
)

// Trapframe is the register state saved by a trap. V0 carries the call
// number in and the result or errno out; A3 is zero on success and one
// on failure.
type Trapframe struct {
	V0  uint32
	V1  uint32
	A0  uint32
	A1  uint32
	A2  uint32
	A3  uint32
	SP  uint32
	EPC uint32
}

func (tf *Trapframe) String() string {
	return fmt.Sprintf("{v0 %d a0 %#x a1 %#x a2 %#x a3 %d sp %#x epc %#x}",
		tf.V0, tf.A0, tf.A1, tf.A2, tf.A3, tf.SP, tf.EPC)
}

// InstrWidth is the size of one instruction; a completed system call
// resumes at EPC+InstrWidth.
const InstrWidth = 4

// System call numbers.
const (
	SYS_fork    = 0
	SYS_execv   = 2
	SYS__exit   = 3
	SYS_waitpid = 4
	SYS_getpid  = 5
	SYS_getppid = 6
	SYS_sbrk    = 7
	SYS_open    = 45
	SYS_close   = 49
	SYS_read    = 50
	SYS_write   = 55
)

// Wait status encoding. The low two bits say how the process ended and
// the rest carries the exit code or signal.
const (
	wExited   = 0
	wSignaled = 1
)

// Signals a process can be killed with.
const (
	SIGILL  = 4
	SIGSEGV = 11
)

func MkWaitExit(code int) int {
	return (code&0xff)<<2 | wExited
}

func MkWaitSig(sig int) int {
	return sig<<2 | wSignaled
}

func WIfExited(status int) bool {
	return status&3 == wExited
}

func WIfSignaled(status int) bool {
	return status&3 == wSignaled
}

func WExitStatus(status int) int {
	return status >> 2
}

func WTermSig(status int) int {
	return status >> 2
}
