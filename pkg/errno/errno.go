// Package errno defines the kernel's error codes.
//
// Errors crossing the system-call boundary are unix.Errno values so
// that the code written into the call record is a real errno number.
// Kernel code returns them directly or wraps them with fmt.Errorf's %w;
// Code recovers the number either way.
package errno

import (
	"errors"

	"golang.org/x/sys/unix"
)

type Errno = unix.Errno

// Error kinds used by the process and file layers.
const (
	EINVAL       = unix.EINVAL       // invalid argument
	EBADF        = unix.EBADF        // bad file descriptor
	EFAULT       = unix.EFAULT       // bad user pointer
	ENOMEM       = unix.ENOMEM       // out of memory
	EMFILE       = unix.EMFILE       // descriptor table full
	EAGAIN       = unix.EAGAIN       // process table or child list full
	ENOSYS       = unix.ENOSYS       // no such system call
	ENAMETOOLONG = unix.ENAMETOOLONG // path longer than PATH_MAX
	E2BIG        = unix.E2BIG        // argument list too long
	ECHILD       = unix.ECHILD       // not a child of the caller
	ENOEXEC      = unix.ENOEXEC      // bad executable image
	ENOENT       = unix.ENOENT
	EEXIST       = unix.EEXIST
	EISDIR       = unix.EISDIR
	ENOTDIR      = unix.ENOTDIR
	ENOTEMPTY    = unix.ENOTEMPTY
	EIO          = unix.EIO
)

// Code returns the errno carried by err. nil maps to 0 and an error
// without an errno maps to EIO.
func Code(err error) Errno {
	if err == nil {
		return 0
	}
	var e Errno
	if errors.As(err, &e) {
		return e
	}
	return EIO
}

// Is reports whether err carries the errno e.
func Is(err error, e Errno) bool {
	return errors.Is(err, e)
}
