package kvstorage

import (
	"bufio"
	"fmt"
	"io"
	"os"
)

// File header: magic(8) + format version(1) + compression codec(1)
var magic = []byte{113, 100, 75, 86, 19, 88, 7, 203}

const (
	formatVersion  = 1
	fileHeaderSize = 8 + 1 + 1 // magic + version + compression

	writeBufferSize = 64 * 1024
)

// appendLog owns the single backing file. Frames are only ever appended;
// existing byte ranges are immutable, so concurrent ReadAt calls are safe
// while the single writer extends the file.
type appendLog struct {
	path        string
	file        *os.File
	writer      *bufio.Writer
	size        int64 // logical end of valid data
	compression Compression

	// broken is set when a failed append could not be rolled back; from
	// then on the write position is untrustworthy and every further
	// append fails with it.
	broken error
}

// openLog opens or creates the backing file at path and validates its
// header. For a new (or effectively empty) file the header is written with
// the requested codec; for an existing file the codec recorded in the
// header wins.
func openLog(path string, compression Compression) (*appendLog, error) {
	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, fmt.Errorf("kvstorage: failed to open data file: %w", err)
	}

	l := &appendLog{
		path:        path,
		file:        file,
		compression: compression,
	}

	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("kvstorage: failed to stat data file: %w", err)
	}

	switch {
	case info.Size() < int64(fileHeaderSize):
		// New store, or a crash before the header made it to disk.
		if err := l.writeHeader(); err != nil {
			file.Close()
			return nil, err
		}
	default:
		if err := l.readHeader(); err != nil {
			file.Close()
			return nil, err
		}
		l.size = info.Size()
	}

	if _, err := file.Seek(l.size, io.SeekStart); err != nil {
		file.Close()
		return nil, fmt.Errorf("kvstorage: failed to seek to end: %w", err)
	}
	l.writer = bufio.NewWriterSize(file, writeBufferSize)
	return l, nil
}

func (l *appendLog) writeHeader() error {
	hdr := make([]byte, 0, fileHeaderSize)
	hdr = append(hdr, magic...)
	hdr = append(hdr, formatVersion, byte(l.compression))

	if err := l.file.Truncate(0); err != nil {
		return fmt.Errorf("kvstorage: failed to truncate data file: %w", err)
	}
	if _, err := l.file.WriteAt(hdr, 0); err != nil {
		return fmt.Errorf("kvstorage: failed to write file header: %w", err)
	}
	if err := l.file.Sync(); err != nil {
		return fmt.Errorf("kvstorage: failed to sync file header: %w", err)
	}
	l.size = int64(fileHeaderSize)
	return nil
}

func (l *appendLog) readHeader() error {
	hdr := make([]byte, fileHeaderSize)
	if _, err := l.file.ReadAt(hdr, 0); err != nil {
		return fmt.Errorf("kvstorage: failed to read file header: %w", err)
	}
	for i, b := range magic {
		if hdr[i] != b {
			return errBadMagic
		}
	}
	if hdr[8] != formatVersion {
		return errBadVersion
	}
	c := Compression(hdr[9])
	if !c.isValid() {
		return errBadCompression
	}
	l.compression = c
	return nil
}

// append writes a fully framed record and returns its offset. The frame is
// flushed to the OS before the offset is returned, so a subsequent ReadAt
// observes it. On failure the log is resynced to its last good size and the
// caller must not publish the offset.
func (l *appendLog) append(frame []byte) (int64, error) {
	if l.broken != nil {
		return 0, l.broken
	}

	offset := l.size
	if _, err := l.writer.Write(frame); err != nil {
		l.resync()
		return 0, fmt.Errorf("kvstorage: failed to write frame: %w", err)
	}
	if err := l.writer.Flush(); err != nil {
		l.resync()
		return 0, fmt.Errorf("kvstorage: failed to flush: %w", err)
	}
	l.size += int64(len(frame))
	return offset, nil
}

// resync discards a partially written tail after a failed append so later
// frames never interleave with garbage. If the rollback itself fails the
// log is marked broken and refuses further appends.
func (l *appendLog) resync() {
	if err := l.file.Truncate(l.size); err != nil {
		l.broken = fmt.Errorf("kvstorage: failed to discard torn tail: %w", err)
		return
	}
	if _, err := l.file.Seek(l.size, io.SeekStart); err != nil {
		l.broken = fmt.Errorf("kvstorage: failed to reposition after failed append: %w", err)
		return
	}
	l.writer.Reset(l.file)
}

// readAt fills buf from the given offset.
func (l *appendLog) readAt(buf []byte, offset int64) error {
	if _, err := l.file.ReadAt(buf, offset); err != nil {
		return fmt.Errorf("kvstorage: failed to read at offset %d: %w", offset, err)
	}
	return nil
}

// truncateTo discards everything at and beyond offset.
func (l *appendLog) truncateTo(offset int64) error {
	if err := l.file.Truncate(offset); err != nil {
		return fmt.Errorf("kvstorage: failed to truncate to %d: %w", offset, err)
	}
	if _, err := l.file.Seek(offset, io.SeekStart); err != nil {
		return fmt.Errorf("kvstorage: failed to seek to %d: %w", offset, err)
	}
	l.writer.Reset(l.file)
	l.size = offset
	return nil
}

// sync forces pending writes to stable storage.
func (l *appendLog) sync() error {
	if err := l.writer.Flush(); err != nil {
		return fmt.Errorf("kvstorage: failed to flush: %w", err)
	}
	if err := l.file.Sync(); err != nil {
		return fmt.Errorf("kvstorage: failed to sync: %w", err)
	}
	return nil
}

// replay decodes frames in order from the start of the log, invoking fn for
// each. The first torn or corrupt frame (or an fn error) marks the end of
// trusted data: the file is truncated there and replay stops without error.
func (l *appendLog) replay(maxKeySize, maxValueSize int, fn func(rec record, offset int64, size int) error) error {
	if _, err := l.file.Seek(int64(fileHeaderSize), io.SeekStart); err != nil {
		return fmt.Errorf("kvstorage: failed to seek to first frame: %w", err)
	}

	reader := bufio.NewReaderSize(l.file, writeBufferSize)
	offset := int64(fileHeaderSize)

	for offset < l.size {
		rec, n, err := readRecord(reader, maxKeySize, maxValueSize)
		if err == io.EOF {
			break
		}
		if err != nil {
			// Torn write from a crash mid-append. Everything before
			// this frame is intact; drop the rest.
			return l.truncateTo(offset)
		}
		if err := fn(rec, offset, n); err != nil {
			return l.truncateTo(offset)
		}
		offset += int64(n)
	}

	// Restore the write position for appends.
	if _, err := l.file.Seek(l.size, io.SeekStart); err != nil {
		return fmt.Errorf("kvstorage: failed to seek to end: %w", err)
	}
	l.writer.Reset(l.file)
	return nil
}

// close flushes and releases the file.
func (l *appendLog) close() error {
	if err := l.sync(); err != nil {
		l.file.Close()
		return err
	}
	return l.file.Close()
}
