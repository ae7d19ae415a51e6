package starchive

import (
	"log/slog"
)

type Options struct {
	// Trusting skips structural bookkeeping: slot ownership, duplicate
	// names and element counts are not checked. Use it once the
	// serialization code is known to be correct.
	Trusting bool

	Logger  *slog.Logger
	Verbose bool
}

type elementType uint8

const (
	elementRoot elementType = iota
	elementRecord
	elementArray
	elementStream
	elementMap
)

var elementTypeNames = [...]string{"root", "record", "array", "stream", "map"}

func (t elementType) String() string {
	return elementTypeNames[t]
}

// elementID identifies a slot or container. IDs are handed out in
// increasing order and never reused within one archive.
type elementID int

const rootElementID elementID = 1

// scope is an open container on the scope stack.
type scope struct {
	id    elementID
	typ   elementType
	index int // elements consumed so far
	count int // expected elements for arrays and maps, -1 when unknown
	names map[string]struct{}
}

// Archive drives a Formatter through a strictly forward traversal. Callers
// get a Slot from Open and descend through records, arrays, streams and
// maps; each Slot takes exactly one value. Moving to a sibling or a parent
// closes everything deeper, and a closed container can never be reopened.
//
// An Archive is not safe for concurrent use.
type Archive struct {
	f       Formatter
	loading bool
	strict  bool
	logger  *slog.Logger
	verbose bool

	nextID   elementID
	slotID   elementID
	slotOpen bool
	scopes   []scope
	opened   bool
	closed   bool
}

func New(f Formatter, o Options) *Archive {
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return &Archive{
		f:       f,
		loading: f.IsLoading(),
		strict:  !o.Trusting,
		logger:  o.Logger,
		verbose: o.Verbose,
		nextID:  rootElementID + 1,
	}
}

func (ar *Archive) IsLoading() bool {
	return ar.loading
}

func (ar *Archive) Formatter() Formatter {
	return ar.f
}

// Err returns the first data error reported by the formatter.
func (ar *Archive) Err() error {
	return ar.f.Err()
}

// Open returns the root slot.
func (ar *Archive) Open() Slot {
	if ar.opened {
		usagef("archive already opened")
	}
	ar.opened = true
	ar.scopes = append(ar.scopes[:0], scope{id: rootElementID, typ: elementRoot, count: -1})
	if ar.verbose {
		ar.logger.Debug("starchive: open", "loading", ar.loading, "strict", ar.strict)
	}
	return Slot{ar: ar, depth: 0, id: ar.newSlot()}
}

// Close leaves every open container, finishes the formatter and returns
// the first data error, if any. Closing twice is a no-op.
func (ar *Archive) Close() error {
	if !ar.opened {
		usagef("archive closed without being opened")
	}
	if ar.closed {
		return ar.f.Err()
	}
	ar.setScope(0, rootElementID)
	ar.closed = true
	err := ar.f.Close()
	if err != nil {
		ar.logger.Warn("starchive: archive closed with error", "loading", ar.loading, "err", err)
	} else if ar.verbose {
		ar.logger.Debug("starchive: closed", "loading", ar.loading, "elements", int(ar.nextID-rootElementID-1))
	}
	return err
}

func (ar *Archive) newSlot() elementID {
	id := ar.nextID
	ar.nextID++
	ar.slotID, ar.slotOpen = id, true
	return id
}

// enterSlot claims the current slot. Only the most recently produced slot
// can be claimed.
func (ar *Archive) enterSlot(id elementID) {
	if ar.closed {
		usagef("archive is closed")
	}
	if ar.strict && (!ar.slotOpen || ar.slotID != id) {
		if ar.slotOpen {
			usagef("slot %d is stale, current slot is %d", id, ar.slotID)
		}
		usagef("slot %d is stale, it has already been written or left", id)
	}
	ar.slotOpen = false
}

func (ar *Archive) enterSlotAs(id elementID, typ elementType, count int) {
	ar.enterSlot(id)
	ar.scopes = append(ar.scopes, scope{id: id, typ: typ, count: count})
}

// leaveSlot finishes a value in the innermost container.
func (ar *Archive) leaveSlot() {
	top := &ar.scopes[len(ar.scopes)-1]
	switch top.typ {
	case elementRecord:
		ar.f.LeaveField()
	case elementArray:
		ar.f.LeaveArrayElement()
	case elementStream:
		ar.f.LeaveStreamElement()
	case elementMap:
		ar.f.LeaveMapElement()
	}
	top.index++
}

// setScope makes the container at the given depth the innermost one,
// closing every deeper container on the way out. It only ever closes; a
// container that has been left cannot become current again.
func (ar *Archive) setScope(depth int, id elementID) {
	if ar.closed {
		usagef("archive is closed")
	}
	if ar.strict {
		if depth >= len(ar.scopes) || ar.scopes[depth].id != id {
			usagef("container %d has already been closed", id)
		}
		if ar.slotOpen {
			usagef("slot %d must be written before moving on", ar.slotID)
		}
	}
	for d := len(ar.scopes) - 1; d > depth; d-- {
		e := &ar.scopes[d]
		switch e.typ {
		case elementRecord:
			ar.f.LeaveRecord()
		case elementArray:
			if ar.strict && e.index != e.count {
				usagef("array %d closed after %d of %d elements", e.id, e.index, e.count)
			}
			ar.f.LeaveArray()
		case elementStream:
			ar.f.LeaveStream()
		case elementMap:
			if ar.strict && e.index != e.count {
				usagef("map %d closed after %d of %d elements", e.id, e.index, e.count)
			}
			ar.f.LeaveMap()
		}
		ar.scopes = ar.scopes[:d]
		ar.leaveSlot()
	}
}

// scopeAt returns the container at depth. Only trusting mode lets a handle
// outlive its container; such a handle gets a detached scope and the
// traversal carries on with fresh element ids.
func (ar *Archive) scopeAt(depth int) *scope {
	if depth < len(ar.scopes) {
		return &ar.scopes[depth]
	}
	return &scope{count: -1}
}

// current returns the scope a handle refers to, which must still be open.
func (ar *Archive) current(depth int, id elementID) *scope {
	if depth >= len(ar.scopes) || ar.scopes[depth].id != id {
		usagef("container %d has already been closed", id)
	}
	return &ar.scopes[depth]
}

// claimName records a field or map key in strict mode. Names read back
// from data are checked by the formatters, which report repeats as data
// errors. A reader that has failed returns empty keys, so they are not
// tracked.
func (ar *Archive) claimName(sc *scope, name string, what string) {
	if !ar.strict || (ar.loading && ar.f.Err() != nil) {
		return
	}
	if sc.names == nil {
		sc.names = make(map[string]struct{})
	}
	if _, dup := sc.names[name]; dup {
		usagef("duplicate %s %q", what, name)
	}
	sc.names[name] = struct{}{}
}

func (ar *Archive) annotated() AnnotatedFormatter {
	af, ok := ar.f.(AnnotatedFormatter)
	if !ok || !ar.loading {
		usagef("%T cannot describe its data", ar.f)
	}
	return af
}
