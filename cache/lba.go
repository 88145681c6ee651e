package cache

import "fmt"

// CacheFileNum identifies a CacheFile. cache_ids are allocated strictly
// increasing in creation order (spec.md invariant #4), mirroring how the
// teacher models on-disk file identifiers as a dedicated type
// (base.DiskFileNum) rather than a bare integer, so that a cache_id can
// never be silently confused with an offset or a size at a call site.
type CacheFileNum uint32

// String implements fmt.Stringer. The cache directory holds one file per
// cache_id, named by its decimal value (spec.md §6).
func (n CacheFileNum) String() string {
	return fmt.Sprintf("%d", uint32(n))
}

// LBA (Logical Block Address) locates a single record within the cache
// (spec.md §3). An LBA is immutable once returned by Append/InsertImpl.
type LBA struct {
	CacheID CacheFileNum
	Offset  uint32
	Size    uint32
}
