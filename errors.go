package starchive

import (
	"errors"
	"fmt"
)

var (
	// ErrCorrupt matches every *DataError via errors.Is.
	ErrCorrupt = errors.New("corrupt archive")

	ErrTruncated      = errors.New("unexpected end of data")
	ErrTypeMismatch   = errors.New("value type mismatch")
	ErrDigestMismatch = errors.New("raw data digest mismatch")
	ErrMissingField   = errors.New("missing field")

	// ErrNotRepresentable is returned by writers for values their format
	// cannot store without loss. It is not a data error.
	ErrNotRepresentable = errors.New("value cannot be represented in this format")
)

// DataError reports malformed archive data. These come from corrupted or
// hand-edited files, not from bugs in the calling code, so they are returned
// rather than panicked.
type DataError struct {
	Data []byte
	Off  int
	Err  error
	Msg  string
}

func dataErrf(data []byte, off int, err error, format string, args ...any) error {
	return &DataError{data, off, err, fmt.Sprintf(format, args...)}
}

func (e *DataError) Unwrap() error {
	return e.Err
}

func (e *DataError) Is(target error) bool {
	return target == ErrCorrupt
}

func (e *DataError) Error() string {
	const prefixLen = 64
	const suffixLen = 32
	n := len(e.Data)
	if n == 0 {
		if e.Err != nil {
			return fmt.Sprintf("%s: %v", e.Msg, e.Err)
		}
		return e.Msg
	}
	if n <= prefixLen+suffixLen {
		if e.Err != nil {
			return fmt.Sprintf("%s: %v: (%d@%d) %x", e.Msg, e.Err, n, e.Off, e.Data)
		} else {
			return fmt.Sprintf("%s: (%d@%d) %x", e.Msg, n, e.Off, e.Data)
		}
	} else {
		p, s := e.Data[:prefixLen], e.Data[n-suffixLen:]
		if e.Err != nil {
			return fmt.Sprintf("%s: %v: (%d@%d) %x...%x", e.Msg, e.Err, n, e.Off, p, s)
		} else {
			return fmt.Sprintf("%s: (%d@%d) %x...%x", e.Msg, n, e.Off, p, s)
		}
	}
}

// UsageError is the panic value for structural contract violations: claiming
// a stale slot, reusing a field name, writing the wrong number of array
// elements and so on. These are bugs in the serialization code.
type UsageError struct {
	Msg string
}

func (e *UsageError) Error() string {
	return "starchive: " + e.Msg
}

func usagef(format string, args ...any) {
	panic(&UsageError{fmt.Sprintf(format, args...)})
}
