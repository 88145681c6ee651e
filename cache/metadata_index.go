package cache

import (
	"container/list"
	"sync"

	"github.com/cespare/xxhash/v2"
)

// BlockInfo is the KeyIndex's value type: a key and the LBA it currently
// resolves to (spec.md §3). It holds no pointer to the owning file; that
// file is identified by LBA.CacheID.
type BlockInfo struct {
	Key []byte
	LBA LBA
}

// numKeyShards is the number of independent KeyIndex shards. Sharding by
// key hash, as the teacher's secondary cache shards by (fileNum, offset)
// hash (objstorage/objstorageprovider/sharedcache/shared_cache.go
// getShard), lets concurrent Lookups/Inserts/Erases on unrelated keys
// proceed without contending on a single mutex.
const numKeyShards = 64

// keyIndex is the KeyIndex half of the MetadataIndex (spec.md §3, §4.7):
// a concurrent hash map from key to BlockInfo, sharded by key hash so
// that shards other than the one a given key hashes to are never
// touched by an operation on that key.
type keyIndex struct {
	shards [numKeyShards]keyShard
}

type keyShard struct {
	mu sync.RWMutex
	m  map[string]*BlockInfo
}

func newKeyIndex() *keyIndex {
	ki := &keyIndex{}
	for i := range ki.shards {
		ki.shards[i].m = make(map[string]*BlockInfo)
	}
	return ki
}

func (ki *keyIndex) shardFor(key []byte) *keyShard {
	h := xxhash.Sum64(key)
	return &ki.shards[h%numKeyShards]
}

func (ki *keyIndex) lookup(key []byte) (BlockInfo, bool) {
	s := ki.shardFor(key)
	s.mu.RLock()
	defer s.mu.RUnlock()
	bi, ok := s.m[string(key)]
	if !ok {
		return BlockInfo{}, false
	}
	return *bi, true
}

// insertIfAbsent inserts key→lba iff key is not already present,
// implementing the idempotent-insert invariant from spec.md §3/§8: a
// duplicate Insert is a no-op that keeps the first value.
func (ki *keyIndex) insertIfAbsent(key []byte, lba LBA) (inserted bool) {
	s := ki.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.m[string(key)]; ok {
		return false
	}
	// Copy the key: the caller's slice may be reused/mutated after Insert
	// returns.
	owned := make([]byte, len(key))
	copy(owned, key)
	s.m[string(owned)] = &BlockInfo{Key: owned, LBA: lba}
	return true
}

func (ki *keyIndex) erase(key []byte) (BlockInfo, bool) {
	s := ki.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	bi, ok := s.m[string(key)]
	if !ok {
		return BlockInfo{}, false
	}
	delete(s.m, string(key))
	return *bi, true
}

// eraseExact removes key only if its current LBA still matches lba. It's
// used during eviction to drop a KeyIndex entry for a key that belonged
// to the evicted file without clobbering a newer entry for the same key
// that may have been re-inserted into a different file in the meantime.
func (ki *keyIndex) eraseExact(key []byte, lba LBA) {
	s := ki.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	if bi, ok := s.m[string(key)]; ok && bi.LBA == lba {
		delete(s.m, string(key))
	}
}

// fileEntry is the FileIndex's value: the file itself, the keys it owns
// (for eviction-time KeyIndex cleanup, spec.md §4.5 step 3's
// "cacheFile.Add"), and its position in the eviction LRU once finalized.
type fileEntry struct {
	file cacheFile
	keys [][]byte
	lru  *list.Element // nil until finalized (writable files aren't evictable)
}

// MetadataIndex is the cache-wide KeyIndex plus the FileIndex/eviction
// LRU (spec.md §3, §4.7). The KeyIndex half manages its own locking; the
// FileIndex/LRU half is protected by the Cache facade's cache-level
// rwlock, since file creation, finalization, and eviction are structural
// changes that need to be serialized against Lookup's refcount
// acquisition (spec.md §9 open question (b)).
type MetadataIndex struct {
	keys  *keyIndex
	files map[CacheFileNum]*fileEntry
	lru   *list.List // of CacheFileNum, front = least-recently-finalized
}

func newMetadataIndex() *MetadataIndex {
	return &MetadataIndex{
		keys:  newKeyIndex(),
		files: make(map[CacheFileNum]*fileEntry),
		lru:   list.New(),
	}
}

// addFile registers a newly-created (writable) file. Caller must hold
// the cache-level write lock.
func (idx *MetadataIndex) addFile(f cacheFile) {
	idx.files[f.ID()] = &fileEntry{file: f}
}

// fileFor resolves a cache_id to its file. Caller must hold the
// cache-level lock (read lock suffices).
func (idx *MetadataIndex) fileFor(id CacheFileNum) (cacheFile, bool) {
	fe, ok := idx.files[id]
	if !ok {
		return nil, false
	}
	return fe.file, true
}

// addBlock attaches key to the file's owned-keys list, for eviction-time
// KeyIndex cleanup. Caller must hold the cache-level write lock.
func (idx *MetadataIndex) addBlock(id CacheFileNum, key []byte) {
	fe, ok := idx.files[id]
	if !ok {
		debugAssert(false, "addBlock for unknown file %s", id)
		return
	}
	fe.keys = append(fe.keys, key)
}

// finalizeFile replaces the WritableCacheFile at id with its
// RandomAccessCacheFile counterpart and makes it eligible for eviction.
// Caller must hold the cache-level write lock.
func (idx *MetadataIndex) finalizeFile(id CacheFileNum, rof *RandomAccessCacheFile) {
	fe, ok := idx.files[id]
	if !ok {
		debugAssert(false, "finalizeFile for unknown file %s", id)
		return
	}
	fe.file = rof
	fe.lru = idx.lru.PushBack(id)
}

// evictionVictim returns the least-recently-finalized evictable
// (refcount-zero, read-only) file, if any. Caller must hold the
// cache-level write lock, and keeps holding it while it removes the
// chosen victim, so the refcount observed here cannot go stale.
func (idx *MetadataIndex) evictionVictim() (CacheFileNum, bool) {
	for e := idx.lru.Front(); e != nil; e = e.Next() {
		id := e.Value.(CacheFileNum)
		fe := idx.files[id]
		if fe == nil {
			continue
		}
		if fe.file.RefCount() == 0 {
			return id, true
		}
	}
	return 0, false
}

// removeFile detaches id from the FileIndex and LRU and returns its
// owned keys, so the caller can delete the backing file and scrub the
// KeyIndex. Caller must hold the cache-level write lock.
func (idx *MetadataIndex) removeFile(id CacheFileNum) [][]byte {
	fe, ok := idx.files[id]
	if !ok {
		return nil
	}
	delete(idx.files, id)
	if fe.lru != nil {
		idx.lru.Remove(fe.lru)
	}
	return fe.keys
}

// scrubKeys removes every KeyIndex entry in keys that still points at
// lbaFileNum, per spec.md §4.7 eviction: "iterate its per-file BlockInfo
// list and remove each from KeyIndex."
func (idx *MetadataIndex) scrubKeys(lbaFileNum CacheFileNum, keys [][]byte) {
	for _, k := range keys {
		bi, ok := idx.keys.lookup(k)
		if ok && bi.LBA.CacheID == lbaFileNum {
			idx.keys.eraseExact(k, bi.LBA)
		}
	}
}
