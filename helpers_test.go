package starchive

import (
	"errors"
	"strings"
	"testing"
)

var allFormats = []Format{FormatBinary, FormatTagged, FormatText}

func must[T any](v T, err error) T {
	if err != nil {
		panic(err)
	}
	return v
}

func ensure(err error) {
	if err != nil {
		panic(err)
	}
}

// write encodes an archive in the given format.
func write(t testing.TB, f Format, opt Options, fn func(root Slot)) []byte {
	t.Helper()
	w := NewWriter(f)
	ar := New(w, opt)
	fn(ar.Open())
	if err := ar.Close(); err != nil {
		t.Fatalf("Close() = %v, wanted nil", err)
	}
	return w.Data()
}

// read decodes an archive and returns the data error, if any.
func read(t testing.TB, f Format, data []byte, opt Options, fn func(root Slot)) error {
	t.Helper()
	r, err := NewReader(f, data)
	if err != nil {
		return err
	}
	ar := New(r, opt)
	fn(ar.Open())
	return ar.Close()
}

func expectUsagePanic(t *testing.T, substr string, fn func()) {
	t.Helper()
	defer func() {
		t.Helper()
		e := recover()
		if e == nil {
			t.Fatalf("no panic, wanted usage error containing %q", substr)
		}
		ue, ok := e.(*UsageError)
		if !ok {
			panic(e)
		}
		if !strings.Contains(ue.Msg, substr) {
			t.Fatalf("panic %q, wanted usage error containing %q", ue.Msg, substr)
		}
	}()
	fn()
}

func expectDataError(t *testing.T, err error, sentinel error) {
	t.Helper()
	if err == nil {
		t.Fatalf("err = nil, wanted %v", sentinel)
	}
	var de *DataError
	if !errors.As(err, &de) {
		t.Fatalf("err = %T %v, wanted *DataError", err, err)
	}
	if !errors.Is(err, ErrCorrupt) {
		t.Fatalf("errors.Is(%v, ErrCorrupt) = false, wanted true", err)
	}
	if sentinel != nil && !errors.Is(err, sentinel) {
		t.Fatalf("err = %v, wanted %v", err, sentinel)
	}
}
