package kvstorage

import "errors"

// Common errors
var (
	// ErrInvalidKey is returned when a key is empty or exceeds MaxKeySize.
	ErrInvalidKey = errors.New("kvstorage: invalid key")

	// ErrInvalidValue is returned when a value exceeds MaxValueSize.
	ErrInvalidValue = errors.New("kvstorage: value too large")

	// ErrCorrupt is returned when a record read after open fails its
	// checksum or framing checks. Corruption found while replaying the
	// file at open time is handled by truncating the torn tail instead.
	ErrCorrupt = errors.New("kvstorage: data corruption detected")

	// ErrClosed is returned by any call made after Close.
	ErrClosed = errors.New("kvstorage: store is closed")
)

var (
	errBadMagic       = errors.New("kvstorage: bad magic byte sequence")
	errBadVersion     = errors.New("kvstorage: unsupported format version")
	errBadCompression = errors.New("kvstorage: bad compression codec")
)
