package kvstorage

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/golang/snappy"
)

// rwLocker is the store's concurrency guard. It is a real sync.RWMutex in
// thread-safe mode and a no-op otherwise.
type rwLocker interface {
	Lock()
	Unlock()
	RLock()
	RUnlock()
}

type noLock struct{}

func (noLock) Lock()    {}
func (noLock) Unlock()  {}
func (noLock) RLock()   {}
func (noLock) RUnlock() {}

// Store is a file-backed key-value store. A Store exclusively owns its
// backing file and in-memory index; writers serialize on a single
// read-write lock while readers proceed concurrently.
type Store struct {
	mu   rwLocker
	opts *Options

	path  string
	log   *appendLog
	index *index

	closed      bool
	compactions uint64
}

// Stats describes the current state of a store.
type Stats struct {
	Keys         int64  `json:"keys"`          // live key count
	LogicalSize  int64  `json:"logical_size"`  // sum of live value lengths
	FileSize     int64  `json:"file_size"`     // physical size of the backing file
	GarbageBytes int64  `json:"garbage_bytes"` // bytes reclaimable by compaction
	Compactions  uint64 `json:"compactions"`   // compactions run since open
}

// Open opens or creates the store backed by the file at path, replaying it
// to rebuild the in-memory index. A torn frame at the tail (crash
// mid-append) is truncated away; everything before it is kept. Passing nil
// opts uses DefaultOptions.
func Open(path string, opts *Options) (*Store, error) {
	opts, err := opts.norm()
	if err != nil {
		return nil, err
	}

	if info, err := os.Stat(path); err == nil && info.IsDir() {
		return nil, fmt.Errorf("kvstorage: path %q is a directory", path)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("kvstorage: failed to create data directory: %w", err)
		}
	}
	// A leftover temp file means a compaction crashed before its rename
	// committed; the original file is still authoritative.
	os.Remove(path + compactSuffix)

	log, err := openLog(path, opts.Compression)
	if err != nil {
		return nil, err
	}

	s := &Store{
		mu:    noLock{},
		opts:  opts,
		path:  path,
		log:   log,
		index: newIndex(),
	}
	if opts.ThreadSafe {
		s.mu = &sync.RWMutex{}
	}

	if err := s.rebuildIndex(); err != nil {
		log.file.Close()
		return nil, err
	}

	if opts.CompactOnOpen {
		if err := s.maybeCompact(); err != nil {
			log.file.Close()
			return nil, err
		}
	}
	return s, nil
}

// rebuildIndex replays every frame in append order. Replay order makes
// last-write-wins fall out naturally: later value records overwrite index
// entries and tombstones drop them.
func (s *Store) rebuildIndex() error {
	maxStored := s.log.compression.maxStoredValue(s.opts.MaxValueSize)
	return s.log.replay(s.opts.MaxKeySize, maxStored, func(rec record, offset int64, size int) error {
		if rec.tombstone {
			s.index.remove(rec.key)
			return nil
		}
		valueSize := len(rec.value)
		if s.log.compression == SnappyCompression {
			n, err := snappy.DecodedLen(rec.value)
			if err != nil {
				return err
			}
			valueSize = n
		}
		s.index.put(rec.key, indexEntry{
			offset:    offset,
			size:      uint32(size),
			valueSize: uint32(valueSize),
		})
		return nil
	})
}

// Set stores value under key, replacing any earlier value. The write is
// durable before Set returns (see Options.SyncWrites); on failure the index
// is untouched and the failed bytes are invisible.
func (s *Store) Set(key string, value []byte) error {
	if len(key) == 0 || len(key) > s.opts.MaxKeySize {
		return ErrInvalidKey
	}
	if len(value) > s.opts.MaxValueSize {
		return ErrInvalidValue
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}

	stored := value
	if s.log.compression == SnappyCompression {
		stored = snappy.Encode(nil, value)
	}

	frame := encodeRecord(make([]byte, 0, frameLen(len(key), len(stored), false)), key, stored, false)
	offset, err := s.log.append(frame)
	if err != nil {
		return err
	}
	if s.opts.SyncWrites {
		if err := s.log.sync(); err != nil {
			return err
		}
	}

	s.index.put(key, indexEntry{
		offset:    offset,
		size:      uint32(len(frame)),
		valueSize: uint32(len(value)),
	})
	return s.maybeCompact()
}

// Get retrieves the value for key. The second result is false when the key
// was never set or was removed; that is not an error.
func (s *Store) Get(key string) ([]byte, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, false, ErrClosed
	}

	entry, ok := s.index.get(key)
	if !ok {
		return nil, false, nil
	}
	value, err := s.readValue(key, entry)
	if err != nil {
		return nil, false, err
	}
	return value, true, nil
}

// readValue fetches and verifies the record an index entry points at.
func (s *Store) readValue(key string, entry indexEntry) ([]byte, error) {
	buf := make([]byte, entry.size)
	if err := s.log.readAt(buf, entry.offset); err != nil {
		return nil, err
	}
	rec, err := decodeRecord(buf, s.opts.MaxKeySize, s.log.compression.maxStoredValue(s.opts.MaxValueSize))
	if err != nil {
		return nil, err
	}
	if rec.tombstone || rec.key != key {
		return nil, fmt.Errorf("kvstorage: index points at record for %q: %w", rec.key, ErrCorrupt)
	}
	if s.log.compression == SnappyCompression {
		value, err := snappy.Decode(nil, rec.value)
		if err != nil {
			return nil, fmt.Errorf("kvstorage: snappy decode: %w", ErrCorrupt)
		}
		return value, nil
	}
	return rec.value, nil
}

// Exists reports whether key is live.
func (s *Store) Exists(key string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return false, ErrClosed
	}
	return s.index.has(key), nil
}

// Remove deletes key. Removing an absent key succeeds and appends nothing.
func (s *Store) Remove(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if err := s.removeLocked(key); err != nil {
		return err
	}
	return s.maybeCompact()
}

// RemoveMany deletes every key in keys. A nil or empty slice succeeds
// trivially. The first failure aborts the batch; keys removed before it
// stay removed.
func (s *Store) RemoveMany(keys []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	for _, key := range keys {
		if err := s.removeLocked(key); err != nil {
			return err
		}
	}
	return s.maybeCompact()
}

func (s *Store) removeLocked(key string) error {
	if len(key) == 0 || len(key) > s.opts.MaxKeySize {
		return ErrInvalidKey
	}
	if !s.index.has(key) {
		return nil // idempotent
	}

	frame := encodeRecord(make([]byte, 0, frameLen(len(key), 0, true)), key, nil, true)
	if _, err := s.log.append(frame); err != nil {
		return err
	}
	if s.opts.SyncWrites {
		if err := s.log.sync(); err != nil {
			return err
		}
	}
	s.index.remove(key)
	return nil
}

// RemoveAll resets the store to empty, shrinking the backing file to its
// header. Durable before returning.
func (s *Store) RemoveAll() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if err := s.log.truncateTo(int64(fileHeaderSize)); err != nil {
		return err
	}
	if err := s.log.sync(); err != nil {
		return err
	}
	s.index.clear()
	return nil
}

// AllValues returns every live value. Order is unspecified.
func (s *Store) AllValues() ([][]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}

	values := make([][]byte, 0, s.index.liveCount())
	err := s.index.forEach(func(key string, entry indexEntry) error {
		value, err := s.readValue(key, entry)
		if err != nil {
			return err
		}
		values = append(values, value)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return values, nil
}

// Keys returns every live key. Order is unspecified.
func (s *Store) Keys() ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}
	return s.index.keys(), nil
}

// Count returns the number of live keys. It is zero on a closed store.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return 0
	}
	return int(s.index.liveCount())
}

// TotalSize returns the sum of live value lengths in bytes, not counting
// keys or framing. It shrinks immediately on Remove; the bytes on disk are
// reclaimed later by compaction.
func (s *Store) TotalSize() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return 0
	}
	return s.index.liveValueBytes()
}

// Sync forces all pending writes to stable storage.
func (s *Store) Sync() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	return s.log.sync()
}

// Stats returns counters describing the store.
func (s *Store) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return Stats{}
	}
	return Stats{
		Keys:         s.index.liveCount(),
		LogicalSize:  s.index.liveValueBytes(),
		FileSize:     s.log.size,
		GarbageBytes: s.garbage(),
		Compactions:  s.compactions,
	}
}

// Close flushes pending writes and releases the backing file. Any call
// after Close fails with ErrClosed. Closing twice is a no-op.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.log.close()
}
