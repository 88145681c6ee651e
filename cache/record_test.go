package cache

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRecordRoundTrip(t *testing.T) {
	key := []byte("a-test-key")
	val := []byte("some value bytes, not necessarily short")

	buf := make([]byte, recordSize(len(key), len(val)))
	encodeRecord(buf, key, val)

	gotKey, gotVal, err := decodeRecord(buf)
	require.NoError(t, err)
	require.Equal(t, key, gotKey)
	require.Equal(t, val, gotVal)
}

func TestRecordEmptyValue(t *testing.T) {
	key := []byte("k")
	var val []byte

	buf := make([]byte, recordSize(len(key), len(val)))
	encodeRecord(buf, key, val)

	gotKey, gotVal, err := decodeRecord(buf)
	require.NoError(t, err)
	require.Equal(t, key, gotKey)
	require.Empty(t, gotVal)
}

func TestRecordCRCMismatch(t *testing.T) {
	key := []byte("k")
	val := []byte("v")
	buf := make([]byte, recordSize(len(key), len(val)))
	encodeRecord(buf, key, val)

	// Flip a key byte: the lengths still agree with len(buf), so only the
	// checksum can catch it. (A flipped length byte is rejected earlier,
	// as errShortRecord.)
	buf[recordHeaderSize] ^= 0xff

	_, _, err := decodeRecord(buf)
	require.ErrorIs(t, err, errCRCMismatch)
}

func TestRecordShort(t *testing.T) {
	_, _, err := decodeRecord([]byte{1, 2, 3})
	require.ErrorIs(t, err, errShortRecord)
}
