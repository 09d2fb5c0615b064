package vm

import (
	"encoding/binary"

	"gokern/pkg/errno"
)

func checkRange(va Vaddr, n int) error {
	if va == 0 || uint64(va)+uint64(n) > uint64(UserStack) {
		return errno.EFAULT
	}
	return nil
}

// Copyin copies len(dst) bytes of user memory at src into dst.
func (as *AddrSpace) Copyin(src Vaddr, dst []byte) error {
	if err := checkRange(src, len(dst)); err != nil {
		return err
	}
	as.mu.Lock()
	defer as.mu.Unlock()
	for len(dst) > 0 {
		pg, err := as.faultL(src)
		if err != nil {
			return err
		}
		n := copy(dst, pg[src&PageMask:])
		dst = dst[n:]
		src += Vaddr(n)
	}
	return nil
}

// Copyout copies src into user memory at dst.
func (as *AddrSpace) Copyout(src []byte, dst Vaddr) error {
	if err := checkRange(dst, len(src)); err != nil {
		return err
	}
	as.mu.Lock()
	defer as.mu.Unlock()
	for len(src) > 0 {
		pg, err := as.faultL(dst)
		if err != nil {
			return err
		}
		n := copy(pg[dst&PageMask:], src)
		src = src[n:]
		dst += Vaddr(n)
	}
	return nil
}

// CopyinStr copies a NUL-terminated string from user memory. max bounds
// the string length including the NUL; a longer string is ENAMETOOLONG.
func (as *AddrSpace) CopyinStr(src Vaddr, max int) (string, error) {
	if src == 0 {
		return "", errno.EFAULT
	}
	as.mu.Lock()
	defer as.mu.Unlock()
	buf := make([]byte, 0, 64)
	for i := 0; i < max; i++ {
		va := src + Vaddr(i)
		if va < src || va >= UserStack {
			return "", errno.EFAULT
		}
		pg, err := as.faultL(va)
		if err != nil {
			return "", err
		}
		c := pg[va&PageMask]
		if c == 0 {
			return string(buf), nil
		}
		buf = append(buf, c)
	}
	return "", errno.ENAMETOOLONG
}

// CopyoutStr copies s and a terminating NUL into user memory at dst.
func (as *AddrSpace) CopyoutStr(s string, dst Vaddr) error {
	b := make([]byte, len(s)+1)
	copy(b, s)
	return as.Copyout(b, dst)
}

// CopyinWord reads one big-endian machine word.
func (as *AddrSpace) CopyinWord(src Vaddr) (uint32, error) {
	var b [WordSize]byte
	if err := as.Copyin(src, b[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b[:]), nil
}

// CopyoutWord writes one big-endian machine word.
func (as *AddrSpace) CopyoutWord(w uint32, dst Vaddr) error {
	var b [WordSize]byte
	binary.BigEndian.PutUint32(b[:], w)
	return as.Copyout(b[:], dst)
}
