package cache

import (
	"github.com/143230/rocksdb/internal/base"
	"github.com/143230/rocksdb/vfs"
)

// RandomAccessCacheFile parses records from a finalized, read-only cache
// file given an LBA (spec.md §4.3). It is the terminal state a
// WritableCacheFile transitions into once it has been drained by the
// Flusher and hits EOF.
type RandomAccessCacheFile struct {
	fileHeader

	file   vfs.File
	size   int64
	logger base.Logger
}

func newRandomAccessCacheFile(id CacheFileNum, path string, file vfs.File, size int64, logger base.Logger) *RandomAccessCacheFile {
	f := &RandomAccessCacheFile{file: file, size: size, logger: logger}
	f.cacheID = id
	f.path = path
	return f
}

// SizeBytes implements cacheFile.
func (f *RandomAccessCacheFile) SizeBytes() int64 { return f.size }

// Read implements cacheFile. Errors — short read, CRC mismatch, I/O
// failure — are all reported as a miss, per spec.md §4.3.
func (f *RandomAccessCacheFile) Read(lba LBA, scratch []byte) (key, val []byte, ok bool) {
	if lba.CacheID != f.cacheID {
		f.logger.Infof("cache: lba cache_id %s does not match file %s", lba.CacheID, f.cacheID)
		return nil, nil, false
	}
	return readRecordFromFile(f.file, lba, scratch, f.cacheID, f.logger)
}

func (f *RandomAccessCacheFile) close() error {
	return f.file.Close()
}
