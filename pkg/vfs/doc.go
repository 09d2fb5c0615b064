// Package vfs is the kernel's file layer: the Vnode and FileSystem
// contracts, the open flags user programs pass, path helpers, and the
// Mux namespace that routes "dev:" paths to devices and mounted
// filesystems.
//
// Backends live in subpackages: memfs (in-memory tree), diskfs (a host
// directory, mounted as "emu0:") and, outside this tree, the console
// device in pkg/dev/console.
//
//	mux := vfs.NewMux(memfs.New())
//	mux.Mount("con", console.New(os.Stdin, os.Stdout))
//	vn, err := mux.Open("con:", vfs.O_WRONLY, 0)
package vfs
