package cache

import (
	"github.com/143230/rocksdb/internal/base"
	"github.com/143230/rocksdb/vfs"
)

// readRecordFromFile performs the positional-read-then-CRC-validate dance
// shared by RandomAccessCacheFile.Read and WritableCacheFile.Read's
// already-flushed-range case (spec.md §4.3, §9 open question (c)).
func readRecordFromFile(file vfs.File, lba LBA, scratch []byte, id CacheFileNum, logger base.Logger) (key, val []byte, ok bool) {
	if int(lba.Size) > cap(scratch) {
		scratch = make([]byte, lba.Size)
	} else {
		scratch = scratch[:lba.Size]
	}
	n, err := file.ReadAt(scratch, int64(lba.Offset))
	if err != nil || n != len(scratch) {
		logger.Infof("cache: short/failed read at file %s offset %d: %v", id, lba.Offset, err)
		return nil, nil, false
	}
	k, v, err := decodeRecord(scratch)
	if err != nil {
		logger.Infof("cache: record parse failed at file %s offset %d: %v", id, lba.Offset, err)
		return nil, nil, false
	}
	return k, v, true
}
