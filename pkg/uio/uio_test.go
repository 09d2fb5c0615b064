package uio

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gokern/pkg/errno"
	"gokern/pkg/vm"
)

func TestKernelRead(t *testing.T) {
	buf := make([]byte, 8)
	u := NewKernel(buf, 100, Read)

	n, err := u.Move([]byte("abc"))
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	n, err = u.Move([]byte("defghijk"))
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	assert.Equal(t, "abcdefgh", string(buf))
	assert.Equal(t, int64(108), u.Offset)
	assert.Equal(t, 0, u.Resid)

	n, err = u.Move([]byte("x"))
	assert.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestKernelWrite(t *testing.T) {
	u := NewKernel([]byte("payload"), 0, Write)
	b := make([]byte, 16)
	n, err := u.Move(b)
	require.NoError(t, err)
	assert.Equal(t, "payload", string(b[:n]))
	assert.Equal(t, int64(7), u.Offset)
}

func TestUser(t *testing.T) {
	cm := vm.NewCoremap(8)
	as := vm.Create(cm, 2)
	_, err := as.DefineStack()
	require.NoError(t, err)
	ubase := vm.UserStack - 32

	u := NewUser(as, ubase, 5, 0, Read)
	n, err := u.Move([]byte("hello world"))
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	s, err := as.CopyinStr(ubase, 6)
	require.NoError(t, err)
	assert.Equal(t, "hello", s)

	u = NewUser(as, ubase, 5, 0, Write)
	b := make([]byte, 5)
	_, err = u.Move(b)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(b))

	u = NewUser(as, 0x1000, 4, 0, Read)
	_, err = u.Move([]byte("oops"))
	assert.ErrorIs(t, err, errno.EFAULT)
	assert.Equal(t, 4, u.Resid)
}
