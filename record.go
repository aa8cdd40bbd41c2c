package kvstorage

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"
)

// Frame format: KeyLen(4) + ValueLen(4) + Key + Value + CRC32(4)
// A ValueLen of 0xFFFFFFFF marks a tombstone; tombstone frames carry no
// value bytes. The CRC covers everything before it.
const (
	frameHeaderSize = 4 + 4 // key length + value length
	frameCRCSize    = 4
	tombstoneLen    = 0xFFFFFFFF
)

// record is a single decoded frame.
type record struct {
	key       string
	value     []byte // stored bytes; compressed when the file codec says so
	tombstone bool
}

// frameLen returns the full encoded size of a frame.
func frameLen(keyLen, valueLen int, tombstone bool) int {
	if tombstone {
		valueLen = 0
	}
	return frameHeaderSize + keyLen + valueLen + frameCRCSize
}

// encodeRecord appends a framed record to buf and returns the result.
func encodeRecord(buf []byte, key string, value []byte, tombstone bool) []byte {
	valueLen := uint32(len(value))
	if tombstone {
		valueLen = tombstoneLen
		value = nil
	}

	start := len(buf)
	var hdr [frameHeaderSize]byte
	binary.BigEndian.PutUint32(hdr[0:4], uint32(len(key)))
	binary.BigEndian.PutUint32(hdr[4:8], valueLen)

	buf = append(buf, hdr[:]...)
	buf = append(buf, key...)
	buf = append(buf, value...)

	crc := crc32.ChecksumIEEE(buf[start:])
	var sum [frameCRCSize]byte
	binary.BigEndian.PutUint32(sum[:], crc)
	return append(buf, sum[:]...)
}

// decodeRecord parses a single frame occupying exactly buf.
func decodeRecord(buf []byte, maxKeySize, maxValueSize int) (record, error) {
	if len(buf) < frameHeaderSize+frameCRCSize {
		return record{}, fmt.Errorf("kvstorage: frame too short (%d bytes): %w", len(buf), ErrCorrupt)
	}

	keyLen := binary.BigEndian.Uint32(buf[0:4])
	valueLen := binary.BigEndian.Uint32(buf[4:8])
	tombstone := valueLen == tombstoneLen
	if tombstone {
		valueLen = 0
	}
	// Compare as uint64: on a 32-bit platform a corrupt length near 2^32
	// would wrap negative through int and slip past the check.
	if uint64(keyLen) > uint64(maxKeySize) || uint64(valueLen) > uint64(maxValueSize) {
		return record{}, fmt.Errorf("kvstorage: implausible frame lengths (key=%d value=%d): %w", keyLen, valueLen, ErrCorrupt)
	}

	total := frameHeaderSize + int(keyLen) + int(valueLen) + frameCRCSize
	if len(buf) != total {
		return record{}, fmt.Errorf("kvstorage: frame length mismatch (want %d, have %d): %w", total, len(buf), ErrCorrupt)
	}

	body := buf[:total-frameCRCSize]
	stored := binary.BigEndian.Uint32(buf[total-frameCRCSize:])
	if crc32.ChecksumIEEE(body) != stored {
		return record{}, fmt.Errorf("kvstorage: checksum mismatch: %w", ErrCorrupt)
	}

	key := buf[frameHeaderSize : frameHeaderSize+keyLen]
	value := buf[frameHeaderSize+keyLen : total-frameCRCSize]

	rec := record{key: string(key), tombstone: tombstone}
	if !tombstone {
		rec.value = append([]byte(nil), value...)
	}
	return rec, nil
}

// readRecord reads one frame from r. It returns the decoded record and the
// number of bytes the frame occupies. io.EOF means a clean end of the log;
// any torn or corrupt frame is reported as ErrCorrupt.
func readRecord(r io.Reader, maxKeySize, maxValueSize int) (record, int, error) {
	var hdr [frameHeaderSize]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		if err == io.EOF {
			return record{}, 0, io.EOF
		}
		return record{}, 0, fmt.Errorf("kvstorage: torn frame header: %w", ErrCorrupt)
	}

	keyLen := binary.BigEndian.Uint32(hdr[0:4])
	valueLen := binary.BigEndian.Uint32(hdr[4:8])
	tombstone := valueLen == tombstoneLen
	if tombstone {
		valueLen = 0
	}
	if uint64(keyLen) > uint64(maxKeySize) || uint64(valueLen) > uint64(maxValueSize) {
		return record{}, 0, fmt.Errorf("kvstorage: implausible frame lengths (key=%d value=%d): %w", keyLen, valueLen, ErrCorrupt)
	}

	total := frameHeaderSize + int(keyLen) + int(valueLen) + frameCRCSize
	buf := make([]byte, total)
	copy(buf, hdr[:])
	if _, err := io.ReadFull(r, buf[frameHeaderSize:]); err != nil {
		return record{}, 0, fmt.Errorf("kvstorage: torn frame body: %w", ErrCorrupt)
	}

	rec, err := decodeRecord(buf, maxKeySize, maxValueSize)
	if err != nil {
		return record{}, 0, err
	}
	return rec, total, nil
}
