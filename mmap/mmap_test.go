package mmap

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
)

func TestHintHas(t *testing.T) {
	h := RandomAccess
	if !h.Has(RandomAccess) || h.Has(SequentialAccess) {
		t.Fatalf("Hint.Has returned unexpected results for %v", h)
	}
}

func TestOpen(t *testing.T) {
	dir := t.TempDir()
	content := bytes.Repeat([]byte{0x42, 0x17}, 5000)
	path := filepath.Join(dir, "archive.bin")
	if err := os.WriteFile(path, content, 0666); err != nil {
		t.Fatal(err)
	}

	for _, hint := range []Hint{0, SequentialAccess, RandomAccess} {
		mf, err := Open(path, hint)
		if err != nil {
			t.Fatalf("Open: %v", err)
		}
		if !bytes.Equal(mf.Data, content) {
			t.Fatalf("Data = %d bytes, wanted %d", len(mf.Data), len(content))
		}
		if err := mf.Close(); err != nil {
			t.Fatalf("Close: %v", err)
		}
		if mf.Data != nil {
			t.Fatalf("Data not cleared by Close")
		}
	}
}

func TestOpen_Empty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty")
	if err := os.WriteFile(path, nil, 0666); err != nil {
		t.Fatal(err)
	}
	mf, err := Open(path, 0)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if mf.Data == nil || len(mf.Data) != 0 {
		t.Fatalf("Data = %v, wanted empty", mf.Data)
	}
	if err := mf.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestOpen_Missing(t *testing.T) {
	if _, err := Open(filepath.Join(t.TempDir(), "nope"), 0); !os.IsNotExist(err) {
		t.Fatalf("Open(missing) = %v, wanted not-exist error", err)
	}
}
