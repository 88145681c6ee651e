package vfs

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMemFSWriteReadAt(t *testing.T) {
	fs := NewMem()
	f, err := fs.Create("a")
	require.NoError(t, err)

	_, err = f.Write([]byte("hello world"))
	require.NoError(t, err)

	buf := make([]byte, 5)
	n, err := f.ReadAt(buf, 6)
	require.NoError(t, err)
	require.Equal(t, 5, n)
	require.Equal(t, "world", string(buf))

	require.NoError(t, f.Close())
}

func TestMemFSRemoveAndReopen(t *testing.T) {
	fs := NewMem()
	_, err := fs.Create("a")
	require.NoError(t, err)

	require.NoError(t, fs.Remove("a"))

	_, err = fs.OpenReadOnly("a")
	require.Error(t, err)
}

func TestMemFSCorruptByte(t *testing.T) {
	fs := NewMem()
	f, err := fs.Create("a")
	require.NoError(t, err)
	_, err = f.Write([]byte{0x00, 0x0f, 0xf0})
	require.NoError(t, err)

	require.NoError(t, fs.CorruptByte("a", 1))

	buf := make([]byte, 3)
	_, err = f.ReadAt(buf, 0)
	require.NoError(t, err)
	require.Equal(t, byte(0xf0), buf[1])
}

func TestMemFSReadOnlyRejectsWrite(t *testing.T) {
	fs := NewMem()
	_, err := fs.Create("a")
	require.NoError(t, err)

	rf, err := fs.OpenReadOnly("a")
	require.NoError(t, err)

	_, err = rf.Write([]byte("nope"))
	require.Error(t, err)
}
