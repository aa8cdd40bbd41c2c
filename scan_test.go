package kvstorage

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestScanFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.db")

	s, err := Open(path, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Set("a", []byte("1")); err != nil {
		t.Fatal(err)
	}
	if err := s.Set("b", []byte("22")); err != nil {
		t.Fatal(err)
	}
	if err := s.Set("a", []byte("111")); err != nil {
		t.Fatal(err)
	}
	if err := s.Remove("b"); err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}

	// Unlike a live Store, the scan sees every frame ever appended.
	var got []RecordInfo
	if err := ScanFile(path, func(info RecordInfo) bool {
		got = append(got, info)
		return true
	}); err != nil {
		t.Fatalf("ScanFile: %v", err)
	}

	want := []struct {
		key       string
		valueLen  int
		tombstone bool
	}{
		{"a", 1, false},
		{"b", 2, false},
		{"a", 3, false},
		{"b", 0, true},
	}
	if len(got) != len(want) {
		t.Fatalf("scanned %d frames, want %d", len(got), len(want))
	}
	offset := int64(fileHeaderSize)
	for i, w := range want {
		g := got[i]
		if g.Key != w.key || g.ValueLen != w.valueLen || g.Tombstone != w.tombstone {
			t.Errorf("frame %d = %+v, want %+v", i, g, w)
		}
		if g.Offset != offset {
			t.Errorf("frame %d offset = %d, want %d", i, g.Offset, offset)
		}
		offset += int64(frameLen(len(w.key), w.valueLen, w.tombstone))
	}

	// Early stop.
	count := 0
	if err := ScanFile(path, func(RecordInfo) bool {
		count++
		return count < 2
	}); err != nil {
		t.Fatalf("ScanFile early stop: %v", err)
	}
	if count != 2 {
		t.Errorf("visited %d frames, want 2", count)
	}

	// A torn tail is reported, not hidden.
	full, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	tornPath := filepath.Join(t.TempDir(), "torn.db")
	if err := os.WriteFile(tornPath, full[:len(full)-3], 0644); err != nil {
		t.Fatal(err)
	}
	if err := ScanFile(tornPath, func(RecordInfo) bool { return true }); !errors.Is(err, ErrCorrupt) {
		t.Errorf("torn file: err = %v, want ErrCorrupt", err)
	}
}
