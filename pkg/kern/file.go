package kern

import (
	"fmt"
	"os"

	"gokern/pkg/arch"
	"gokern/pkg/errno"
	"gokern/pkg/vfs"
	"gokern/pkg/vm"
)

// sysOpen is open(path, flags, mode). Flags are checked before the
// path is looked at, so bad flags are EINVAL whether or not the file
// exists.
func sysOpen(k *Kernel, cur *Curthread, tf *arch.Trapframe) (uint32, error) {
	upath, flags, mode := vm.Vaddr(tf.A0), int(tf.A1), os.FileMode(tf.A2)
	if !vfs.ValidFlags(flags) {
		return 0, fmt.Errorf("open flags %#x: %w", flags, errno.EINVAL)
	}
	if upath == 0 {
		return 0, fmt.Errorf("open: null path: %w", errno.EFAULT)
	}
	path, err := cur.Proc.AddrSpace().CopyinStr(upath, k.cfg.PathMax)
	if err != nil {
		return 0, err
	}
	fd, err := cur.Proc.Files.Open(k.vfs, path, flags, mode&vfs.AllPerm)
	if err != nil {
		return 0, err
	}
	return uint32(fd), nil
}

// sysRead is read(fd, buf, n). It returns the count read, 0 at end of
// file.
func sysRead(k *Kernel, cur *Curthread, tf *arch.Trapframe) (uint32, error) {
	n, err := cur.Proc.Files.Read(int(int32(tf.A0)), cur.Proc.AddrSpace(), vm.Vaddr(tf.A1), int(int32(tf.A2)))
	return uint32(n), err
}

func sysWrite(k *Kernel, cur *Curthread, tf *arch.Trapframe) (uint32, error) {
	n, err := cur.Proc.Files.Write(int(int32(tf.A0)), cur.Proc.AddrSpace(), vm.Vaddr(tf.A1), int(int32(tf.A2)))
	return uint32(n), err
}

func sysClose(k *Kernel, cur *Curthread, tf *arch.Trapframe) (uint32, error) {
	return 0, cur.Proc.Files.Close(int(int32(tf.A0)))
}
