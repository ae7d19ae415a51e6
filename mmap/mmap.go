// Package mmap maps archive files into memory read-only, so that large
// tagged archives can be read without copying them onto the heap.
package mmap

import (
	"fmt"
	"math"
	"os"
)

type Hint uint

const (
	// SequentialAccess requests aggressive read-ahead. Maps to
	// MADV_SEQUENTIAL on Unix.
	SequentialAccess Hint = 1 << 0

	// RandomAccess says read-ahead is less useful than normally. Maps to
	// MADV_RANDOM on Unix.
	RandomAccess Hint = 1 << 1
)

func (h Hint) Has(v Hint) bool {
	return h&v != 0
}

// File is a read-only mapping of a whole file. Data must not be modified
// and must not be used after Close.
type File struct {
	Data []byte
	f    *os.File
}

// Open maps the file at path. Empty files are not mapped and yield an empty
// Data.
func Open(path string, hint Hint) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	size := fi.Size()
	if size == 0 {
		return &File{Data: []byte{}, f: f}, nil
	}
	if size > math.MaxInt {
		f.Close()
		return nil, fmt.Errorf("%s: %d bytes is too large to map", path, size)
	}
	b, err := mmap(f, int(size), hint)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("mmap %s: %w", path, err)
	}
	return &File{Data: b, f: f}, nil
}

func (mf *File) Close() error {
	var err error
	if len(mf.Data) > 0 {
		err = munmap(mf.Data)
	}
	mf.Data = nil
	if cerr := mf.f.Close(); err == nil {
		err = cerr
	}
	return err
}
