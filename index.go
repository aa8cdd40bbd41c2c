package kvstorage

import (
	"sync"
	"sync/atomic"

	"github.com/spaolacci/murmur3"
)

// indexEntry stores the location of the latest record for a key.
type indexEntry struct {
	offset    int64  // frame position in the data file
	size      uint32 // full frame length in bytes
	valueSize uint32 // logical (uncompressed) value length
}

const indexShardCount = 16 // power of two

// index is the in-memory key -> location map. It is split into shards
// selected by the 64-bit MurmurHash3 of the key; each shard carries its own
// read-write lock. Removed keys are dropped from the map entirely; the
// tombstone frames on disk only matter for replay ordering.
type index struct {
	shards [indexShardCount]indexShard

	// Maintained incrementally so Count and TotalSize never scan.
	count      int64
	valueBytes int64 // sum of live logical value sizes
	frameBytes int64 // sum of live frame sizes on disk
}

type indexShard struct {
	mu      sync.RWMutex
	entries map[string]indexEntry
}

func newIndex() *index {
	ix := &index{}
	for i := range ix.shards {
		ix.shards[i].entries = make(map[string]indexEntry)
	}
	return ix
}

func (ix *index) shard(key string) *indexShard {
	h := murmur3.Sum64([]byte(key))
	return &ix.shards[h&(indexShardCount-1)]
}

// get retrieves the entry for key.
func (ix *index) get(key string) (indexEntry, bool) {
	s := ix.shard(key)
	s.mu.RLock()
	entry, ok := s.entries[key]
	s.mu.RUnlock()
	return entry, ok
}

// put records the latest location for key, replacing any prior entry.
func (ix *index) put(key string, entry indexEntry) {
	s := ix.shard(key)
	s.mu.Lock()
	prev, existed := s.entries[key]
	s.entries[key] = entry
	s.mu.Unlock()

	if existed {
		atomic.AddInt64(&ix.valueBytes, int64(entry.valueSize)-int64(prev.valueSize))
		atomic.AddInt64(&ix.frameBytes, int64(entry.size)-int64(prev.size))
	} else {
		atomic.AddInt64(&ix.count, 1)
		atomic.AddInt64(&ix.valueBytes, int64(entry.valueSize))
		atomic.AddInt64(&ix.frameBytes, int64(entry.size))
	}
}

// remove drops the entry for key, returning it if it existed.
func (ix *index) remove(key string) (indexEntry, bool) {
	s := ix.shard(key)
	s.mu.Lock()
	entry, existed := s.entries[key]
	if existed {
		delete(s.entries, key)
	}
	s.mu.Unlock()

	if existed {
		atomic.AddInt64(&ix.count, -1)
		atomic.AddInt64(&ix.valueBytes, -int64(entry.valueSize))
		atomic.AddInt64(&ix.frameBytes, -int64(entry.size))
	}
	return entry, existed
}

// has checks whether key is live.
func (ix *index) has(key string) bool {
	_, ok := ix.get(key)
	return ok
}

// forEach invokes fn for every live entry. Iteration order is unspecified.
// fn must not call back into the index.
func (ix *index) forEach(fn func(key string, entry indexEntry) error) error {
	for i := range ix.shards {
		s := &ix.shards[i]
		s.mu.RLock()
		for key, entry := range s.entries {
			if err := fn(key, entry); err != nil {
				s.mu.RUnlock()
				return err
			}
		}
		s.mu.RUnlock()
	}
	return nil
}

// keys returns all live keys.
func (ix *index) keys() []string {
	keys := make([]string, 0, ix.liveCount())
	for i := range ix.shards {
		s := &ix.shards[i]
		s.mu.RLock()
		for key := range s.entries {
			keys = append(keys, key)
		}
		s.mu.RUnlock()
	}
	return keys
}

// clear drops every entry and resets the counters.
func (ix *index) clear() {
	for i := range ix.shards {
		s := &ix.shards[i]
		s.mu.Lock()
		s.entries = make(map[string]indexEntry)
		s.mu.Unlock()
	}
	atomic.StoreInt64(&ix.count, 0)
	atomic.StoreInt64(&ix.valueBytes, 0)
	atomic.StoreInt64(&ix.frameBytes, 0)
}

// liveCount returns the number of live keys.
func (ix *index) liveCount() int64 {
	return atomic.LoadInt64(&ix.count)
}

// liveValueBytes returns the sum of live logical value sizes.
func (ix *index) liveValueBytes() int64 {
	return atomic.LoadInt64(&ix.valueBytes)
}

// liveFrameBytes returns the on-disk bytes occupied by live frames.
func (ix *index) liveFrameBytes() int64 {
	return atomic.LoadInt64(&ix.frameBytes)
}
