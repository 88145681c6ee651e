package cache

import "sync/atomic"

// cacheFile is the common surface shared by WritableCacheFile and
// RandomAccessCacheFile (spec.md §9 "virtual base hierarchy" note). Go
// has no base-class inheritance to share state through, so the shared
// identity/refcount bookkeeping lives in fileHeader, embedded by both
// concrete types, and cacheFile is just the interface the
// MetadataIndex's FileIndex and the Cache facade operate on.
//
// The Writable→ReadOnly transition described in spec.md §4.2 is modeled
// as an in-place replacement of the interface value held in the
// FileIndex's map entry (see metadata_index.go finalizeFile), rather than a
// tagged union, since that's the natural Go shape for "this slot now
// holds a different concrete type with the same identity."
type cacheFile interface {
	// ID returns the file's cache_id.
	ID() CacheFileNum

	// Path returns the file's on-disk path, for eviction's Remove call.
	Path() string

	// Read resolves the record at lba, copying into scratch as needed.
	// ok is false for any miss: a stale or unknown LBA, CRC mismatch,
	// short read or I/O error. Parse and I/O failures are logged; none of
	// these is returned as an error (spec.md §7). Read takes no key, so
	// checking that the record's key is the one looked up is the caller's
	// job (Cache.Lookup).
	Read(lba LBA, scratch []byte) (key, val []byte, ok bool)

	// SizeBytes returns the file's current accounted size, for eviction
	// bookkeeping.
	SizeBytes() int64

	// Ref/Unref implement the refcount discipline of spec.md §5: a file
	// cannot be evicted while its refcount is non-zero.
	Ref()
	Unref()
	RefCount() int32
}

// fileHeader is the shared identity and refcount state for a CacheFile.
type fileHeader struct {
	cacheID  CacheFileNum
	path     string
	refcount atomic.Int32
}

func (h *fileHeader) ID() CacheFileNum { return h.cacheID }

func (h *fileHeader) Path() string { return h.path }

func (h *fileHeader) Ref() { h.refcount.Add(1) }

func (h *fileHeader) Unref() { h.refcount.Add(-1) }

func (h *fileHeader) RefCount() int32 { return h.refcount.Load() }
