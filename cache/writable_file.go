package cache

import (
	"sync"

	"github.com/cockroachdb/errors"

	"github.com/143230/rocksdb/internal/base"
	"github.com/143230/rocksdb/vfs"
)

// errFileEOF is returned by Append when the record would overflow
// max_file_size. The caller (InsertImpl) rotates to a new writable file
// and retries. It is distinct from ErrNoBuffer, which signals purely
// transient buffer-allocator pressure and should be retried against the
// *same* file (spec.md §4.2, §4.5).
var errFileEOF = errors.New("cache: file eof")

// bufEntry is one WriteBuffer in a WritableCacheFile's buffer list, along
// with the file-relative byte offset at which its contents begin.
type bufEntry struct {
	wb         *WriteBuffer
	diskOffset int64
	dispatched bool
}

// WritableCacheFile accepts Appends, buffers them, and dispatches full
// buffers to the Flusher in order, per spec.md §4.2.
type WritableCacheFile struct {
	fileHeader

	allocator *Allocator
	flusher   *flusher
	logger    base.Logger

	maxSize int64

	// onDrained is invoked once (outside of mu, respecting the
	// cache-level → per-file → allocator lock order from spec.md §5) when
	// the file has hit eof and every dispatched buffer has finished
	// flushing. It lets the owning MetadataIndex finalize the file
	// (spec.md §4.2 CLOSING→READONLY) without WritableCacheFile knowing
	// anything about the index.
	onDrained func(*WritableCacheFile)

	mu struct {
		sync.RWMutex
		file     vfs.File
		buffers  []*bufEntry
		size     int64 // bytes accepted into the file so far
		diskWoff int64 // bytes durably dispatched-and-flushed so far
		eof      bool
	}
}

func newWritableCacheFile(
	id CacheFileNum, path string, file vfs.File, maxSize int64,
	allocator *Allocator, fl *flusher, logger base.Logger,
	onDrained func(*WritableCacheFile),
) *WritableCacheFile {
	f := &WritableCacheFile{
		allocator: allocator,
		flusher:   fl,
		logger:    logger,
		maxSize:   maxSize,
		onDrained: onDrained,
	}
	f.cacheID = id
	f.path = path
	f.mu.file = file
	return f
}

// SizeBytes implements cacheFile.
func (f *WritableCacheFile) SizeBytes() int64 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.mu.size
}

// EOF reports whether the file has stopped accepting Appends.
func (f *WritableCacheFile) EOF() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.mu.eof
}

// Append serializes key/val as a Record and writes it into the tail
// WriteBuffer, returning its LBA. See spec.md §4.2 for the full state
// machine; in short:
//   - errFileEOF: the record doesn't fit before max_file_size; the file
//     is now closing and the caller should rotate to a new file.
//   - ErrNoBuffer: the Allocator is saturated; the caller retries against
//     this same file (InsertImpl's TryAgain).
func (f *WritableCacheFile) Append(key, val []byte) (LBA, error) {
	needed := recordSize(len(key), len(val))

	f.mu.Lock()
	if f.mu.eof {
		f.mu.Unlock()
		return LBA{}, errFileEOF
	}
	if f.mu.size+int64(needed) > f.maxSize {
		f.mu.eof = true
		drained := f.dispatchTailLocked()
		f.mu.Unlock()
		if drained {
			f.onDrained(f)
		}
		return LBA{}, errFileEOF
	}

	tail, err := f.ensureRoomLocked(needed)
	if err != nil {
		f.mu.Unlock()
		return LBA{}, err
	}

	offset := f.mu.size
	scratch := make([]byte, needed)
	encodeRecord(scratch, key, val)
	if !tail.wb.Append(scratch) {
		// Only reachable for a record larger than a whole WriteBuffer,
		// which no buffer can hold.
		f.mu.Unlock()
		return LBA{}, errors.AssertionFailedf("cache: buffer overflow after ensureRoom")
	}
	f.mu.size += int64(needed)

	var drained bool
	if tail.wb.Remaining() == 0 {
		drained = f.dispatchTailLocked()
	}
	f.mu.Unlock()
	if drained {
		f.onDrained(f)
	}

	return LBA{CacheID: f.cacheID, Offset: uint32(offset), Size: uint32(needed)}, nil
}

// ensureRoomLocked returns the current filling buffer, allocating (and, if
// necessary, dispatching the previous tail) as needed to guarantee at
// least `needed` bytes of room without ever letting a record straddle a
// buffer boundary (spec.md invariant #6). A fresh buffer has only the
// Allocator's buffer size of room, so when `needed` exceeds that the
// returned buffer is still too small. Must be called with mu held.
func (f *WritableCacheFile) ensureRoomLocked(needed int) (*bufEntry, error) {
	n := len(f.mu.buffers)
	if n > 0 {
		tail := f.mu.buffers[n-1]
		if !tail.dispatched && tail.wb.Remaining() >= needed {
			return tail, nil
		}
	}
	if n > 0 {
		f.dispatchTailLocked()
	}
	wb, err := f.allocator.Allocate()
	if err != nil {
		return nil, err
	}
	entry := &bufEntry{wb: wb, diskOffset: f.mu.size}
	f.mu.buffers = append(f.mu.buffers, entry)
	return entry, nil
}

// dispatchTailLocked hands the current tail buffer to the Flusher if it
// hasn't been already. It reports whether the file is now fully drained
// (eof set and no buffers left at all — only possible if there was never
// a buffer to dispatch in the first place). Must be called with mu held.
func (f *WritableCacheFile) dispatchTailLocked() (drained bool) {
	n := len(f.mu.buffers)
	if n == 0 {
		return f.mu.eof
	}
	tail := f.mu.buffers[n-1]
	if !tail.dispatched {
		tail.dispatched = true
		f.flusher.enqueue(f, tail)
	}
	return false
}

// Read implements cacheFile (spec.md §4.2 Read).
func (f *WritableCacheFile) Read(lba LBA, scratch []byte) (key, val []byte, ok bool) {
	f.mu.RLock()
	if f.mu.eof && len(f.mu.buffers) == 0 {
		file := f.mu.file
		f.mu.RUnlock()
		return readRecordFromFile(file, lba, scratch, f.cacheID, f.logger)
	}

	if int64(lba.Offset)+int64(lba.Size) <= f.mu.diskWoff {
		file := f.mu.file
		f.mu.RUnlock()
		return readRecordFromFile(file, lba, scratch, f.cacheID, f.logger)
	}

	for _, e := range f.mu.buffers {
		start := e.diskOffset
		end := start + int64(e.wb.Len())
		if int64(lba.Offset) >= start && int64(lba.Offset)+int64(lba.Size) <= end {
			relOff := int64(lba.Offset) - start
			src := e.wb.Bytes()[relOff : relOff+int64(lba.Size)]
			if int(lba.Size) > cap(scratch) {
				scratch = make([]byte, lba.Size)
			} else {
				scratch = scratch[:lba.Size]
			}
			copy(scratch, src)
			f.mu.RUnlock()
			k, v, err := decodeRecord(scratch)
			if err != nil {
				f.logger.Infof("cache: record parse failed at file %s offset %d: %v", f.cacheID, lba.Offset, err)
				return nil, nil, false
			}
			return k, v, true
		}
	}
	f.mu.RUnlock()
	// The buffer holding this LBA was flushed and evicted from the list
	// between us reading diskWoff and scanning buffers (or the LBA is
	// simply stale). Either way this is a safe miss, never wrong data.
	return nil, nil, false
}

// BufferWriteDone is called by the Flusher once entry's bytes have been
// durably written, in FIFO order per file (spec.md §4.2, §4.4).
func (f *WritableCacheFile) BufferWriteDone(entry *bufEntry) {
	f.mu.Lock()
	if len(f.mu.buffers) == 0 || f.mu.buffers[0] != entry {
		debugAssert(false, "BufferWriteDone out of FIFO order for file %s", f.cacheID)
	}
	f.mu.diskWoff += int64(entry.wb.Len())
	f.mu.buffers = f.mu.buffers[1:]
	drained := f.mu.eof && len(f.mu.buffers) == 0
	f.mu.Unlock()

	f.allocator.Release(entry.wb)

	if drained {
		f.onDrained(f)
	}
}

// finalize builds the RandomAccessCacheFile this WritableCacheFile
// transitions into once drained. Per spec.md §9 open question (c), it
// reuses the same already-open file handle rather than reopening the
// file, since that handle already serves positional reads concurrently
// with (now-finished) writes.
func (f *WritableCacheFile) finalize() *RandomAccessCacheFile {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return newRandomAccessCacheFile(f.cacheID, f.path, f.mu.file, f.mu.size, f.logger)
}
