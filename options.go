package kvstorage

import "github.com/golang/snappy"

// Compression is the codec applied to value bytes before framing.
type Compression byte

// Supported compression codecs
const (
	NoCompression Compression = iota
	SnappyCompression
	unknownCompression
)

func (c Compression) isValid() bool {
	return c < unknownCompression
}

// maxStoredValue bounds the on-disk value length the decoder accepts.
// MaxValueSize limits the logical value, but snappy can expand
// incompressible input, so the stored bytes of a value at the bound may
// legitimately be longer.
func (c Compression) maxStoredValue(maxValueSize int) int {
	if c == SnappyCompression {
		return snappy.MaxEncodedLen(maxValueSize)
	}
	return maxValueSize
}

// Options configure a Store. Start from DefaultOptions and override fields;
// passing nil to Open is equivalent to DefaultOptions().
type Options struct {
	// ThreadSafe guards every operation with a read-write lock. Disable it
	// only when the store is confined to a single goroutine.
	ThreadSafe bool

	// SyncWrites fsyncs the backing file before a write returns. When
	// disabled, writes are still flushed to the OS but an OS crash may
	// lose the tail of the log.
	SyncWrites bool

	// Compression is the codec for value bytes. The codec is recorded in
	// the file header, so reopening an existing store always uses the
	// codec the file was created with.
	Compression Compression

	// MaxKeySize is the largest accepted key, in bytes.
	MaxKeySize int

	// MaxValueSize is the largest accepted value, in bytes.
	MaxValueSize int

	// CompactMinGarbage is the least amount of reclaimable garbage, in
	// bytes, before automatic compaction is considered.
	CompactMinGarbage int64

	// CompactGarbageRatio is the fraction of the file that must be
	// garbage before automatic compaction runs.
	CompactGarbageRatio float64

	// CompactOnOpen runs a compaction check right after replay.
	CompactOnOpen bool
}

// DefaultOptions returns the options used when Open is given nil.
func DefaultOptions() *Options {
	return &Options{
		ThreadSafe:          true,
		SyncWrites:          true,
		Compression:         NoCompression,
		MaxKeySize:          64 * 1024,
		MaxValueSize:        1 << 30,
		CompactMinGarbage:   4 * 1024,
		CompactGarbageRatio: 0.5,
	}
}

func (o *Options) norm() (*Options, error) {
	if o == nil {
		return DefaultOptions(), nil
	}

	oo := *o
	if !oo.Compression.isValid() {
		return nil, errBadCompression
	}
	def := DefaultOptions()
	if oo.MaxKeySize < 1 {
		oo.MaxKeySize = def.MaxKeySize
	}
	if oo.MaxValueSize < 1 {
		oo.MaxValueSize = def.MaxValueSize
	}
	if oo.CompactMinGarbage < 1 {
		oo.CompactMinGarbage = def.CompactMinGarbage
	}
	if oo.CompactGarbageRatio <= 0 || oo.CompactGarbageRatio > 1 {
		oo.CompactGarbageRatio = def.CompactGarbageRatio
	}
	return &oo, nil
}
