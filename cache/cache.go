// Package cache implements a persistent secondary block cache: a
// disk-backed cache sitting beneath an in-memory block cache and above a
// slower backing store. See SPEC_FULL.md for the full design.
package cache

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// insertQueueDepth bounds the InsertQueue's buffered channel; beyond
// this, Insert blocks (spec.md §5 "Insert (pipelined): blocks only on
// the InsertQueue bound if applied").
const insertQueueDepth = 1024

// Cache is the public facade: Insert/Lookup/Erase/Reserve/Close
// (spec.md §4.6).
type Cache struct {
	opts    *Options
	dir     string
	metrics *Metrics

	allocator *Allocator
	flusher   *flusher
	insertQ   *insertQueue // nil unless Options.PipelineWrites

	nextCacheID atomic.Uint32

	// mu is the cache-level rwlock of spec.md §5: it protects
	// MetadataIndex structural changes (FileIndex/LRU), currentFile, and
	// currentBytes, and — per spec.md §9 open question (b) — Lookup's
	// refcount acquisition, so that a file can never be chosen for
	// eviction while a Lookup is in the process of taking a reference to
	// it.
	mu struct {
		sync.RWMutex
		closed       bool
		currentFile  *WritableCacheFile
		currentBytes int64
	}

	index *MetadataIndex
}

// Open creates the cache directory (a fresh nonce beneath Options.Path)
// and the first writable file (spec.md §4.6 "Open").
func Open(opts *Options) (*Cache, error) {
	opts = opts.EnsureDefaults()
	if opts.CacheSize <= 0 {
		return nil, errors.New("cache: CacheSize must be positive")
	}

	dir := opts.FS.PathJoin(opts.Path, uuid.NewString())
	if err := opts.FS.MkdirAll(dir); err != nil {
		return nil, errors.Wrap(err, "cache: creating cache directory")
	}

	c := &Cache{
		opts:    opts,
		dir:     dir,
		metrics: opts.Metrics,
		index:   newMetadataIndex(),
	}
	c.allocator = NewAllocator(opts.WriteBufferSize, opts.PipelineDepth)
	c.flusher = newFlusher(opts.WriterQDepth, opts.Logger, c.metrics)
	if opts.PipelineWrites {
		c.insertQ = newInsertQueue(insertQueueDepth, c.insertImpl)
	}

	c.mu.Lock()
	_, err := c.rotateLocked()
	c.mu.Unlock()
	if err != nil {
		c.flusher.stop()
		return nil, errors.Wrap(err, "cache: creating first cache file")
	}
	return c, nil
}

// rotateLocked creates a fresh writable file and makes it current.
// Caller must hold c.mu (write lock). Per spec.md §5, I/O here happens
// while holding the cache-level lock — file creation is rare enough
// (only on rotation) that this is an acceptable tradeoff, matching the
// spec's own note that InsertImpl "blocks on I/O only if the current
// Append forces a Create of a new file (rare)."
func (c *Cache) rotateLocked() (*WritableCacheFile, error) {
	id := CacheFileNum(c.nextCacheID.Add(1))
	path := c.opts.FS.PathJoin(c.dir, id.String())
	f, err := c.opts.FS.Create(path)
	if err != nil {
		return nil, err
	}
	if err := f.Preallocate(0, c.opts.CacheFileSize); err != nil {
		c.opts.Logger.Infof("cache: preallocate failed for file %s: %v", id, err)
	}
	wf := newWritableCacheFile(id, path, f, c.opts.CacheFileSize, c.allocator, c.flusher, c.opts.Logger, c.onFileDrained)
	c.index.addFile(wf)
	c.mu.currentFile = wf
	c.metrics.FileCount.Inc()
	return wf, nil
}

// onFileDrained finalizes a WritableCacheFile once it has hit eof and
// finished flushing (spec.md §4.2 CLOSING→READONLY). It's called by
// WritableCacheFile without its own per-file lock held, so acquiring
// c.mu here respects the cache-level → per-file → allocator lock order
// of spec.md §5.
func (c *Cache) onFileDrained(f *WritableCacheFile) {
	rof := f.finalize()
	c.mu.Lock()
	c.index.finalizeFile(f.ID(), rof)
	c.mu.Unlock()
}

// Insert inserts key→val. Duplicate keys are idempotent no-ops that
// keep the first successfully-inserted value (spec.md §8 property 2);
// admission (spec.md §4.6 glossary: "Reserve: the admission-and-eviction
// step that precedes accepting new bytes") happens inside insertImpl,
// after the duplicate check, so that a repeated Insert of an
// already-present key never inflates currentBytes for data that is
// never actually written.
func (c *Cache) Insert(key, val []byte) error {
	if c.opts.PipelineWrites {
		c.insertQ.enqueue(key, val)
		return nil
	}
	return c.retryInsertImpl(key, val)
}

// retryInsertImpl is the non-pipelined path's synchronous equivalent of
// the insert worker's retry loop (spec.md §4.5): InsertImpl's
// ErrNoBuffer is always transient buffer-allocator pressure, never a
// permanent failure, so it's always safe to retry.
func (c *Cache) retryInsertImpl(key, val []byte) error {
	for {
		err := c.insertImpl(key, val)
		if err == nil || !errors.Is(err, ErrNoBuffer) {
			return err
		}
	}
}

// insertImpl is InsertImpl from spec.md §4.5, executed under the
// cache-level write lock. It checks for a duplicate key before
// reserving any budget: a key already present costs zero additional
// on-disk bytes, so it must not consume admission. If Append ends up
// failing after a successful Reserve — buffer-allocator pressure, or a
// rotation that can't create its new file — the reservation is given
// back before returning, so a caller that retries on ErrNoBuffer (see
// retryInsertImpl) doesn't double-charge currentBytes for the same
// logical insert.
func (c *Cache) insertImpl(key, val []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.mu.closed {
		return ErrClosed
	}
	if _, ok := c.index.keys.lookup(key); ok {
		return nil // duplicate insert: idempotent success, no new bytes
	}

	needed := int64(recordSize(len(key), len(val)))
	if err := c.reserveLocked(needed); err != nil {
		return err
	}

	var lba LBA
	for {
		var err error
		lba, err = c.mu.currentFile.Append(key, val)
		if err == nil {
			break
		}
		if errors.Is(err, errFileEOF) {
			if _, err2 := c.rotateLocked(); err2 != nil {
				c.unreserveLocked(needed)
				return err2
			}
			continue
		}
		c.unreserveLocked(needed)
		return err
	}

	if c.index.keys.insertIfAbsent(key, lba) {
		owned := append([]byte(nil), key...)
		c.index.addBlock(lba.CacheID, owned)
		c.metrics.Inserts.Inc()
		c.metrics.InsertBytes.Add(float64(lba.Size))
	}
	return nil
}

// Lookup resolves key, following spec.md §4.6 "Lookup": KeyIndex →
// FileIndex → (Ref, Read, Unref). Any miss along the way — key absent,
// file evicted out from under a stale LBA, CRC mismatch, I/O error — is
// reported uniformly as (nil, false), never an error.
func (c *Cache) Lookup(key []byte) ([]byte, bool) {
	bi, ok := c.index.keys.lookup(key)
	if !ok {
		c.metrics.Misses.Inc()
		return nil, false
	}

	c.mu.RLock()
	file, ok := c.index.fileFor(bi.LBA.CacheID)
	if ok {
		file.Ref()
	}
	c.mu.RUnlock()
	if !ok {
		// The FileIndex entry was reaped by a concurrent eviction between
		// the KeyIndex lookup above and here. spec.md §3 explicitly
		// tolerates this window as a miss, not an error.
		c.metrics.Misses.Inc()
		return nil, false
	}

	scratch := make([]byte, bi.LBA.Size)
	start := time.Now()
	gotKey, gotVal, ok := file.Read(bi.LBA, scratch)
	c.metrics.ReadLatency.Observe(time.Since(start).Seconds())
	file.Unref()
	if !ok {
		c.metrics.Misses.Inc()
		return nil, false
	}
	if string(gotKey) != string(key) {
		// Programmer error per spec.md §7 (LBA/file mismatch): never
		// serve the wrong value, even with debug assertions compiled out.
		debugAssert(false, "cache: key mismatch reading lba %+v: got %q want %q", bi.LBA, gotKey, key)
		c.metrics.Misses.Inc()
		return nil, false
	}

	out := append([]byte(nil), gotVal...)
	c.metrics.Hits.Inc()
	return out, true
}

// Erase removes key from the KeyIndex. The record stays on disk until
// its file is evicted (spec.md §4.6 "Erase is index-only").
func (c *Cache) Erase(key []byte) {
	c.index.keys.erase(key)
}

// Reserve admits size bytes into the budget, evicting whole files if
// necessary (spec.md §4.6). If no file can be evicted to make room, it
// returns ErrFull without retrying — spec.md §9 open question (a).
func (c *Cache) Reserve(size int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reserveLocked(size)
}

// reserveLocked is Reserve's body, factored out so insertImpl (which
// already holds c.mu for its whole duration) can run admission after
// its own duplicate-key check instead of through the public, self-
// locking Reserve. Caller must hold c.mu (write lock).
func (c *Cache) reserveLocked(size int64) error {
	if c.mu.closed {
		return ErrClosed
	}
	if c.mu.currentBytes+size <= c.opts.CacheSize {
		c.mu.currentBytes += size
		c.metrics.BytesInUse.Set(float64(c.mu.currentBytes))
		return nil
	}

	target := (c.opts.CacheSize * 9) / 10
	for c.mu.currentBytes+size > target {
		id, ok := c.index.evictionVictim()
		if !ok {
			return ErrFull
		}
		if err := c.evictFileLocked(id); err != nil {
			return err
		}
	}
	c.mu.currentBytes += size
	c.metrics.BytesInUse.Set(float64(c.mu.currentBytes))
	return nil
}

// unreserveLocked gives back a reservation made by reserveLocked that
// ended up not being used — Append failed after Reserve already
// succeeded. Caller must hold c.mu (write lock).
func (c *Cache) unreserveLocked(size int64) {
	c.mu.currentBytes -= size
	if c.mu.currentBytes < 0 {
		c.mu.currentBytes = 0
	}
	c.metrics.BytesInUse.Set(float64(c.mu.currentBytes))
}

// evictFileLocked deletes the backing file for id, scrubs its keys from
// the KeyIndex, and debits its size from the budget (spec.md §4.7
// "Eviction of a file"). Caller must hold c.mu (write lock); holding it
// for the entire operation — rather than dropping it to wait for the
// file's refcount — is how this implementation resolves spec.md §9's
// "await zero refcount" note: evictionVictim already skips any file
// whose refcount is non-zero, and no new Ref() can be taken on any file
// while c.mu is held for writing (spec.md §9 open question (b)), so the
// zero-refcount fact observed by evictionVictim cannot go stale before
// this function acts on it.
func (c *Cache) evictFileLocked(id CacheFileNum) error {
	file, ok := c.index.fileFor(id)
	if !ok {
		return nil
	}
	size := file.SizeBytes()
	keys := c.index.removeFile(id)
	c.index.scrubKeys(id, keys)

	if err := c.opts.FS.Remove(file.Path()); err != nil {
		c.opts.Logger.Infof("cache: failed to remove evicted file %s: %v", id, err)
	}

	c.mu.currentBytes -= size
	if c.mu.currentBytes < 0 {
		c.mu.currentBytes = 0
	}
	c.metrics.Evictions.Inc()
	c.metrics.FileCount.Dec()
	c.metrics.BytesInUse.Set(float64(c.mu.currentBytes))
	return nil
}

// Close stops the insert worker, then the Flusher, then closes every
// remaining cache file's handle (spec.md §4.6 "Close"). Any non-zero
// refcount at this point is a programmer error (spec.md §7): a caller
// that still holds a Lookup in flight while calling Close has violated
// the API's contract.
func (c *Cache) Close() error {
	c.mu.Lock()
	if c.mu.closed {
		c.mu.Unlock()
		return nil
	}
	c.mu.closed = true
	c.mu.Unlock()

	if c.insertQ != nil {
		c.insertQ.close()
	}
	c.flusher.stop()

	// Files that finish draining while the flusher stops are finalized
	// into the FileIndex, so it is only detached after the flusher is done.
	c.mu.Lock()
	files := c.index.files
	c.index.files = nil
	c.mu.Unlock()

	eg, _ := errgroup.WithContext(context.Background())
	for id, fe := range files {
		id, fe := id, fe
		eg.Go(func() error {
			if fe.file.RefCount() != 0 {
				debugAssert(false, "cache: file %s has non-zero refcount at Close", id)
				return nil
			}
			switch f := fe.file.(type) {
			case *RandomAccessCacheFile:
				return f.close()
			case *WritableCacheFile:
				return f.mu.file.Close()
			}
			return nil
		})
	}
	return eg.Wait()
}

// Metrics returns the cache's stats sink.
func (c *Cache) Metrics() *Metrics {
	return c.metrics
}

// Sync blocks until every buffer dispatched to the flusher before this
// call returns has finished being written to disk. It does not itself
// force a flush of a partially-filled buffer — only completed
// dispatches are waited on — and it does not close anything, so the
// cache remains usable afterward. Useful for tests and for callers that
// want a durability checkpoint without paying Close's cost.
func (c *Cache) Sync() {
	c.flusher.drain()
}
