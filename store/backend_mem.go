package store

import (
	"bytes"
	"fmt"
	"slices"
	"sort"
	"sync"
)

// memBackend is a transient backend for tests and scratch stores. Every
// transaction works on a private copy; committing a write swaps it in.
type memBackend struct {
	mu      sync.Mutex
	cond    *sync.Cond
	buckets map[string]*memBucket
	closed  bool
	writer  bool
}

func newMemBackend() *memBackend {
	s := &memBackend{buckets: make(map[string]*memBucket)}
	s.cond = sync.NewCond(&s.mu)
	return s
}

func (s *memBackend) BeginTx(writable bool) (backendTx, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, fmt.Errorf("store closed")
	}
	if writable {
		for s.writer && !s.closed {
			s.cond.Wait()
		}
		if s.closed {
			return nil, fmt.Errorf("store closed")
		}
		s.writer = true
	}

	snap := make(map[string]*memBucket, len(s.buckets))
	for k, b := range s.buckets {
		snap[k] = b.clone()
	}
	return &memTx{base: s, writable: writable, buckets: snap}, nil
}

func (s *memBackend) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.buckets = nil
	s.cond.Broadcast()
	return nil
}

type memTx struct {
	base     *memBackend
	writable bool
	buckets  map[string]*memBucket
	closed   bool
}

func (tx *memTx) closeLocked() {
	if tx.closed {
		return
	}
	tx.closed = true
	if tx.writable {
		tx.base.writer = false
		tx.base.cond.Broadcast()
	}
}

func (tx *memTx) Bucket(name string) backendBucket {
	if tx.closed {
		panic("tx is closed")
	}
	b := tx.buckets[name]
	if b == nil {
		return nil
	}
	return memBucketHandle{tx: tx, b: b}
}

func (tx *memTx) CreateBucket(name string) (backendBucket, error) {
	if tx.closed {
		panic("tx is closed")
	}
	if !tx.writable {
		return nil, fmt.Errorf("tx not writable")
	}
	b := tx.buckets[name]
	if b == nil {
		b = &memBucket{}
		tx.buckets[name] = b
	}
	return memBucketHandle{tx: tx, b: b}, nil
}

func (tx *memTx) Commit() error {
	if tx.closed {
		return nil
	}
	if !tx.writable {
		return fmt.Errorf("tx not writable")
	}
	tx.base.mu.Lock()
	defer tx.base.mu.Unlock()
	if tx.base.closed {
		tx.closeLocked()
		return fmt.Errorf("store closed")
	}
	tx.base.buckets = tx.buckets
	tx.closeLocked()
	return nil
}

func (tx *memTx) Rollback() error {
	tx.base.mu.Lock()
	defer tx.base.mu.Unlock()
	tx.closeLocked()
	return nil
}

type memKV struct {
	key   []byte
	value []byte
}

type memBucket struct {
	items []memKV // sorted by key
}

func (b *memBucket) clone() *memBucket {
	out := &memBucket{items: make([]memKV, len(b.items))}
	for i, kv := range b.items {
		out.items[i] = memKV{key: slices.Clone(kv.key), value: slices.Clone(kv.value)}
	}
	return out
}

func (b *memBucket) search(key []byte) int {
	return sort.Search(len(b.items), func(i int) bool {
		return bytes.Compare(b.items[i].key, key) >= 0
	})
}

type memBucketHandle struct {
	tx *memTx
	b  *memBucket
}

func (h memBucketHandle) find(key []byte) (int, bool) {
	i := h.b.search(key)
	return i, i < len(h.b.items) && bytes.Equal(h.b.items[i].key, key)
}

func (h memBucketHandle) Get(key []byte) []byte {
	i, ok := h.find(key)
	if !ok {
		return nil
	}
	return h.b.items[i].value
}

func (h memBucketHandle) Put(key, value []byte) error {
	if !h.tx.writable {
		return fmt.Errorf("tx not writable")
	}
	key, value = slices.Clone(key), slices.Clone(value)
	i, ok := h.find(key)
	if ok {
		h.b.items[i].value = value
		return nil
	}
	h.b.items = slices.Insert(h.b.items, i, memKV{key: key, value: value})
	return nil
}

func (h memBucketHandle) Delete(key []byte) error {
	if !h.tx.writable {
		return fmt.Errorf("tx not writable")
	}
	if i, ok := h.find(key); ok {
		h.b.items = slices.Delete(h.b.items, i, i+1)
	}
	return nil
}

func (h memBucketHandle) Cursor() backendCursor {
	return &memCursor{b: h.b, pos: -1}
}

type memCursor struct {
	b   *memBucket
	pos int
}

func (c *memCursor) at() ([]byte, []byte) {
	if c.pos < 0 || c.pos >= len(c.b.items) {
		return nil, nil
	}
	kv := c.b.items[c.pos]
	return kv.key, kv.value
}

func (c *memCursor) Seek(seek []byte) ([]byte, []byte) {
	c.pos = c.b.search(seek)
	return c.at()
}

func (c *memCursor) Next() ([]byte, []byte) {
	c.pos++
	return c.at()
}
