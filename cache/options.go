package cache

import (
	"github.com/143230/rocksdb/internal/base"
	"github.com/143230/rocksdb/vfs"
)

// maxCacheFileSize is the ceiling on cache_file_size: offsets within a
// file are encoded as u32 (spec.md §3 LBA.Offset), so a file can never
// exceed 4 GiB.
const maxCacheFileSize = 1 << 32

// Options configures a Cache (spec.md §6).
type Options struct {
	// Path is the parent directory; Open creates a subdirectory beneath
	// it named by a fresh nonce.
	Path string

	// CacheSize is the total byte budget over all cache files.
	CacheSize int64

	// CacheFileSize is the max bytes per cache file. Must be <= 4 GiB.
	CacheFileSize int64

	// WriteBufferSize is the fixed size of a WriteBuffer.
	WriteBufferSize int

	// PipelineDepth bounds the Allocator's total outstanding buffer
	// bytes (spec.md §4.1). Not one of the named options in spec.md §6,
	// but required to construct the Allocator; see SPEC_FULL.md §6.
	PipelineDepth int64

	// PipelineWrites, if true, makes Insert enqueue onto the InsertQueue
	// and return immediately instead of calling InsertImpl synchronously.
	PipelineWrites bool

	// WriterQDepth is the Flusher's concurrency: 1 means a single
	// worker.
	WriterQDepth int

	// FS is the filesystem abstraction cache files are created on.
	FS vfs.FS

	// Logger receives informational and data-integrity/I/O failure
	// messages. Lookup never returns an error for these; it logs and
	// reports a miss instead (spec.md §7).
	Logger base.Logger

	// Metrics is the stats sink (SPEC_FULL.md §4 "Stats accounting"). A
	// fresh one is allocated if nil.
	Metrics *Metrics
}

// EnsureDefaults fills in unset options with a sensible default,
// following the teacher's Options.EnsureDefaults convention
// (options.go). CacheSize and Path get no default; Open rejects a
// non-positive CacheSize.
func (o *Options) EnsureDefaults() *Options {
	if o == nil {
		o = &Options{}
	}
	if o.CacheFileSize <= 0 {
		o.CacheFileSize = 64 << 20
	}
	if o.CacheFileSize > maxCacheFileSize {
		o.CacheFileSize = maxCacheFileSize
	}
	if o.WriteBufferSize <= 0 {
		o.WriteBufferSize = 1 << 20
	}
	if o.PipelineDepth <= 0 {
		o.PipelineDepth = 64 << 20
	}
	if o.WriterQDepth <= 0 {
		o.WriterQDepth = 1
	}
	if o.FS == nil {
		o.FS = vfs.Default
	}
	if o.Logger == nil {
		o.Logger = base.DefaultLogger{}
	}
	if o.Metrics == nil {
		o.Metrics = NewMetrics()
	}
	return o
}
