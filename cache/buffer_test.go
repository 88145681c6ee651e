package cache

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWriteBufferAppend(t *testing.T) {
	wb := &WriteBuffer{buf: make([]byte, 8)}
	require.Equal(t, 8, wb.Remaining())
	require.True(t, wb.Append([]byte("abcd")))
	require.Equal(t, 4, wb.Remaining())
	require.Equal(t, []byte("abcd"), wb.Bytes())

	// Overflow is rejected without partially writing.
	require.False(t, wb.Append([]byte("abcde")))
	require.Equal(t, []byte("abcd"), wb.Bytes())

	require.True(t, wb.Append([]byte("efgh")))
	require.Equal(t, 0, wb.Remaining())
}

func TestAllocatorBounded(t *testing.T) {
	a := NewAllocator(16, 32) // 2 buffers' worth of pipeline depth

	b1, err := a.Allocate()
	require.NoError(t, err)
	b2, err := a.Allocate()
	require.NoError(t, err)

	_, err = a.Allocate()
	require.ErrorIs(t, err, ErrNoBuffer)

	a.Release(b1)
	b3, err := a.Allocate()
	require.NoError(t, err)
	require.Equal(t, 0, b3.Len())

	a.Release(b2)
	a.Release(b3)
}

func TestAllocatorMinimumOneBuffer(t *testing.T) {
	a := NewAllocator(1<<20, 1) // pipelineDepth smaller than bufferSize
	b, err := a.Allocate()
	require.NoError(t, err)
	require.NotNil(t, b)
}
