package kvstorage

import (
	"bufio"
	"fmt"
	"io"
	"os"
)

// RecordInfo describes one frame in a store file, as seen by ScanFile.
type RecordInfo struct {
	Offset    int64
	Key       string
	ValueLen  int // stored length; 0 for tombstones
	Tombstone bool
}

// ScanFile walks every frame of the store file at path in append order,
// without opening it as a Store. Unlike Open, it reports a torn or corrupt
// tail as an ErrCorrupt error instead of truncating, which makes it useful
// for offline inspection. fn returning false stops the walk early.
func ScanFile(path string, fn func(info RecordInfo) bool) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("kvstorage: failed to open data file: %w", err)
	}
	defer file.Close()

	l := appendLog{file: file}
	if err := l.readHeader(); err != nil {
		return err
	}
	if _, err := file.Seek(int64(fileHeaderSize), io.SeekStart); err != nil {
		return fmt.Errorf("kvstorage: failed to seek to first frame: %w", err)
	}

	def := DefaultOptions()
	maxStored := l.compression.maxStoredValue(def.MaxValueSize)
	reader := bufio.NewReaderSize(file, writeBufferSize)
	offset := int64(fileHeaderSize)

	for {
		rec, n, err := readRecord(reader, def.MaxKeySize, maxStored)
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("kvstorage: frame at offset %d: %w", offset, err)
		}
		if !fn(RecordInfo{
			Offset:    offset,
			Key:       rec.key,
			ValueLen:  len(rec.value),
			Tombstone: rec.tombstone,
		}) {
			return nil
		}
		offset += int64(n)
	}
}
