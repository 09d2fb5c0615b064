package loader

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gokern/pkg/arch"
	"gokern/pkg/errno"
	"gokern/pkg/vfs"
	"gokern/pkg/vfs/memfs"
	"gokern/pkg/vm"
)

func TestParse(t *testing.T) {
	img, err := Parse(Build("prog.main", []byte("data!")))
	require.NoError(t, err)
	assert.Equal(t, "prog.main", img.Entry)
	assert.Equal(t, []byte("data!"), img.Data)

	img, err = Parse(Build("prog.main", nil))
	require.NoError(t, err)
	assert.Empty(t, img.Data)

	good := Build("prog.main", []byte("data!"))
	bad := [][]byte{
		nil,
		[]byte("#!/bin/sh\n"),
		good[:8],
		good[:len(good)-1],
		append(append([]byte(nil), good...), 0),
		Build("", nil),
	}
	for i, b := range bad {
		_, err := Parse(b)
		assert.ErrorIs(t, err, errno.ENOEXEC, "case %d", i)
	}
}

func open(t *testing.T, fs *memfs.FS, path string) vfs.Vnode {
	vn, err := fs.Open(path, vfs.O_RDONLY, 0)
	require.NoError(t, err)
	return vn
}

func TestLoad(t *testing.T) {
	word := arch.Register("loader.test", func(c *arch.CPU) {})
	fs := memfs.New()
	require.NoError(t, fs.WriteFile("/prog", Build("loader.test", []byte("hello")), 0755))

	l := New(4)
	cm := vm.NewCoremap(16)
	as := vm.Create(cm, 2)
	entry, err := l.Load("/prog", open(t, fs, "/prog"), as)
	require.NoError(t, err)
	assert.Equal(t, TextBase, entry)

	w, err := as.CopyinWord(entry)
	require.NoError(t, err)
	assert.Equal(t, word, w)
	s, err := as.CopyinStr(DataBase, 6)
	require.NoError(t, err)
	assert.Equal(t, "hello", s)
	assert.Equal(t, DataBase+vm.PageSize, as.HeapStart())

	as2 := vm.Create(cm, 2)
	_, err = l.Load("/prog", open(t, fs, "/prog"), as2)
	require.NoError(t, err)
	hits, misses := l.Stats()
	assert.Equal(t, uint64(1), hits)
	assert.Equal(t, uint64(1), misses)
}

func TestLoadErrors(t *testing.T) {
	fs := memfs.New()
	require.NoError(t, fs.WriteFile("/unknown", Build("loader.nosuch", nil), 0755))
	require.NoError(t, fs.WriteFile("/junk", []byte("junk"), 0755))
	require.NoError(t, fs.Mkdir("/dir", 0755))

	l := New(4)
	as := vm.Create(vm.NewCoremap(16), 2)
	_, err := l.Load("/unknown", open(t, fs, "/unknown"), as)
	assert.ErrorIs(t, err, errno.ENOEXEC)
	_, err = l.Load("/junk", open(t, fs, "/junk"), as)
	assert.ErrorIs(t, err, errno.ENOEXEC)
	_, err = l.Load("/dir", open(t, fs, "/dir"), as)
	assert.ErrorIs(t, err, errno.EISDIR)
}
