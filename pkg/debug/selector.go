package debug

type Tselector string

const (
	ALWAYS Tselector = "ALWAYS"
	ERROR  Tselector = "ERROR"
	TEST   Tselector = "TEST"
)

// Kernel subsystems
const (
	KERNEL  Tselector = "KERNEL"
	SYSCALL Tselector = "SYSCALL"
	PROC    Tselector = "PROC"
	FORK    Tselector = "FORK"
	EXEC    Tselector = "EXEC"
	EXIT    Tselector = "EXIT"
	FD      Tselector = "FD"
	SYNCH   Tselector = "SYNCH"
	THREAD  Tselector = "THREAD"
)

// Collaborators
const (
	VM     Tselector = "VM"
	VFS    Tselector = "VFS"
	LOADER Tselector = "LOADER"
	ARCH   Tselector = "ARCH"
	USER   Tselector = "USER"
)
