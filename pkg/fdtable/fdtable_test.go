package fdtable

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	db "gokern/pkg/debug"
	"gokern/pkg/errno"
	"gokern/pkg/vfs"
	"gokern/pkg/vfs/memfs"
	"gokern/pkg/vm"
)

const ubuf vm.Vaddr = vm.UserStack - 2*vm.PageSize

type tstate struct {
	t  *testing.T
	fs *memfs.FS
	as *vm.AddrSpace
}

func newTstate(t *testing.T) *tstate {
	as := vm.Create(vm.NewCoremap(32), 4)
	_, err := as.DefineStack()
	require.NoError(t, err)
	return &tstate{t: t, fs: memfs.New(), as: as}
}

func (ts *tstate) write(tab *Table, fd int, s string) int {
	require.NoError(ts.t, ts.as.Copyout([]byte(s), ubuf))
	n, err := tab.Write(fd, ts.as, ubuf, len(s))
	require.NoError(ts.t, err)
	return n
}

func (ts *tstate) read(tab *Table, fd int, n int) string {
	got, err := tab.Read(fd, ts.as, ubuf, n)
	require.NoError(ts.t, err)
	b := make([]byte, got)
	require.NoError(ts.t, ts.as.Copyin(ubuf, b))
	return string(b)
}

func TestLowestFd(t *testing.T) {
	ts := newTstate(t)
	tab := New(8)
	for i := 0; i < 4; i++ {
		fd, err := tab.Open(ts.fs, "/f", vfs.O_RDWR|vfs.O_CREAT, 0644)
		require.NoError(t, err)
		assert.Equal(t, i, fd)
	}
	require.NoError(t, tab.Close(1))
	fd, err := tab.Open(ts.fs, "/g", vfs.O_WRONLY|vfs.O_CREAT, 0644)
	require.NoError(t, err)
	assert.Equal(t, 1, fd)
	assert.Equal(t, 4, tab.Count())
}

func TestTableFull(t *testing.T) {
	ts := newTstate(t)
	tab := New(2)
	for i := 0; i < 2; i++ {
		_, err := tab.Open(ts.fs, "/f", vfs.O_RDWR|vfs.O_CREAT, 0644)
		require.NoError(t, err)
	}
	_, err := tab.Open(ts.fs, "/f", vfs.O_RDONLY, 0)
	assert.ErrorIs(t, err, errno.EMFILE)
	assert.Equal(t, 2, ts.fs.OpenCount("/f"), "no vnode leaked")
}

func TestBadFlags(t *testing.T) {
	ts := newTstate(t)
	require.NoError(t, ts.fs.WriteFile("/exists", nil, 0644))
	tab := New(4)
	for _, path := range []string{"/exists", "/missing"} {
		_, err := tab.Open(ts.fs, path, vfs.O_ACCMODE, 0)
		assert.ErrorIs(t, err, errno.EINVAL, path)
	}
	_, err := tab.Open(ts.fs, "/missing", vfs.O_RDONLY, 0)
	assert.ErrorIs(t, err, errno.ENOENT)
	assert.Equal(t, 0, tab.Count())
}

func TestRoundTrip(t *testing.T) {
	ts := newTstate(t)
	tab := New(4)
	data := "the quick brown fox"
	for n := 0; n <= len(data); n += 4 {
		path := "/rt"
		fd, err := tab.Open(ts.fs, path, vfs.O_WRONLY|vfs.O_CREAT|vfs.O_TRUNC, 0644)
		require.NoError(t, err)
		assert.Equal(t, n, ts.write(tab, fd, data[:n]))
		require.NoError(t, tab.Close(fd))

		fd, err = tab.Open(ts.fs, path, vfs.O_RDONLY, 0)
		require.NoError(t, err)
		assert.Equal(t, data[:n], ts.read(tab, fd, 64))
		require.NoError(t, tab.Close(fd))
	}
}

func TestReadWriteErrors(t *testing.T) {
	ts := newTstate(t)
	tab := New(4)
	rfd, err := tab.Open(ts.fs, "/f", vfs.O_RDONLY|vfs.O_CREAT, 0644)
	require.NoError(t, err)
	wfd, err := tab.Open(ts.fs, "/f", vfs.O_WRONLY, 0)
	require.NoError(t, err)

	_, err = tab.Read(3, ts.as, ubuf, 1)
	assert.ErrorIs(t, err, errno.EBADF)
	_, err = tab.Read(-1, ts.as, ubuf, 1)
	assert.ErrorIs(t, err, errno.EBADF)
	_, err = tab.Write(99, ts.as, ubuf, 1)
	assert.ErrorIs(t, err, errno.EBADF)
	_, err = tab.Write(rfd, ts.as, ubuf, 1)
	assert.ErrorIs(t, err, errno.EBADF, "read-only fd")
	_, err = tab.Read(wfd, ts.as, ubuf, 1)
	assert.ErrorIs(t, err, errno.EBADF, "write-only fd")
	_, err = tab.Read(rfd, ts.as, 0, 1)
	assert.ErrorIs(t, err, errno.EFAULT)
	_, err = tab.Write(wfd, ts.as, 0x20000000, 4)
	assert.ErrorIs(t, err, errno.EFAULT)

	n, err := tab.Write(wfd, ts.as, ubuf, 0)
	assert.NoError(t, err)
	assert.Equal(t, 0, n)
	n, err = tab.Read(rfd, ts.as, ubuf, 0)
	assert.NoError(t, err)
	assert.Equal(t, 0, n)

	assert.ErrorIs(t, tab.Close(3), errno.EBADF)
}

func TestAppend(t *testing.T) {
	ts := newTstate(t)
	require.NoError(t, ts.fs.WriteFile("/log", []byte("one\n"), 0644))
	tab := New(4)
	fd, err := tab.Open(ts.fs, "/log", vfs.O_WRONLY|vfs.O_APPEND, 0)
	require.NoError(t, err)
	e, _ := tab.Get(fd)
	assert.Equal(t, int64(4), e.Offset())
	ts.write(tab, fd, "two\n")

	data, err := ts.fs.ReadFile("/log")
	require.NoError(t, err)
	assert.Equal(t, "one\ntwo\n", string(data))
}

func TestForkSharesOffset(t *testing.T) {
	ts := newTstate(t)
	require.NoError(t, ts.fs.WriteFile("/f", []byte("abcdefgh"), 0644))
	parent := New(4)
	fd, err := parent.Open(ts.fs, "/f", vfs.O_RDONLY, 0)
	require.NoError(t, err)

	child := parent.Fork()
	assert.Equal(t, "abc", ts.read(parent, fd, 3))
	assert.Equal(t, "def", ts.read(child, fd, 3), "child sees parent's offset")
	assert.Equal(t, "gh", ts.read(parent, fd, 3))

	pe, _ := parent.Get(fd)
	ce, _ := child.Get(fd)
	assert.Same(t, pe, ce)
	assert.Equal(t, 2, pe.Refcount())
}

func TestCloseAfterForks(t *testing.T) {
	const k = 3
	ts := newTstate(t)
	tab := New(4)
	fd, err := tab.Open(ts.fs, "/f", vfs.O_RDWR|vfs.O_CREAT, 0644)
	require.NoError(t, err)

	tabs := []*Table{tab}
	for i := 0; i < k; i++ {
		tabs = append(tabs, tab.Fork())
	}
	for i, tb := range tabs {
		assert.Equal(t, 1, ts.fs.OpenCount("/f"), "close %d", i)
		require.NoError(t, tb.Close(fd))
	}
	assert.Equal(t, 0, ts.fs.OpenCount("/f"), "k+1th close releases the file")
}

func TestConcurrentClosers(t *testing.T) {
	ts := newTstate(t)
	tab := New(4)
	fd, err := tab.Open(ts.fs, "/f", vfs.O_RDWR|vfs.O_CREAT, 0644)
	require.NoError(t, err)
	tabs := []*Table{tab}
	for i := 0; i < 31; i++ {
		tabs = append(tabs, tab.Fork())
	}

	var g errgroup.Group
	for _, tb := range tabs {
		tb := tb
		g.Go(func() error { return tb.Close(fd) })
	}
	require.NoError(t, g.Wait())
	assert.Equal(t, 0, ts.fs.OpenCount("/f"))
}

// Close logs the shared entry while other tables drop their references.
func TestConcurrentClosersLogged(t *testing.T) {
	defer db.SetLogger(db.Logger())
	db.SetLogger(zap.NewNop())
	db.SetLabels(string(db.FD))
	defer db.SetLabels("")

	ts := newTstate(t)
	tab := New(4)
	fd, err := tab.Open(ts.fs, "/f", vfs.O_RDWR|vfs.O_CREAT, 0644)
	require.NoError(t, err)
	tabs := []*Table{tab}
	for i := 0; i < 15; i++ {
		tabs = append(tabs, tab.Fork())
	}

	var g errgroup.Group
	for _, tb := range tabs {
		tb := tb
		g.Go(func() error {
			e, err := tb.Get(fd)
			if err != nil {
				return err
			}
			_ = e.String()
			return tb.Close(fd)
		})
	}
	require.NoError(t, g.Wait())
	assert.Equal(t, 0, ts.fs.OpenCount("/f"))
}

func TestCloseAll(t *testing.T) {
	ts := newTstate(t)
	tab := New(4)
	for i := 0; i < 3; i++ {
		_, err := tab.Open(ts.fs, "/f", vfs.O_RDWR|vfs.O_CREAT, 0644)
		require.NoError(t, err)
	}
	child := tab.Fork()
	tab.CloseAll()
	assert.Equal(t, 0, tab.Count())
	assert.Equal(t, 3, ts.fs.OpenCount("/f"))
	child.CloseAll()
	assert.Equal(t, 0, ts.fs.OpenCount("/f"))
}
