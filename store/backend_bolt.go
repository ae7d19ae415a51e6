package store

import (
	"unsafe"

	"go.etcd.io/bbolt"
)

type boltBackend struct {
	bdb *bbolt.DB
}

func (s *boltBackend) BeginTx(writable bool) (backendTx, error) {
	btx, err := s.bdb.Begin(writable)
	if err != nil {
		return nil, err
	}
	return &boltTx{btx: btx}, nil
}

func (s *boltBackend) Close() error {
	return s.bdb.Close()
}

type boltTx struct {
	btx *bbolt.Tx
}

func (tx *boltTx) Bucket(name string) backendBucket {
	b := tx.btx.Bucket(unsafeBytesFromString(name))
	if b == nil {
		return nil
	}
	return boltBucket{b: b}
}

func (tx *boltTx) CreateBucket(name string) (backendBucket, error) {
	b, err := tx.btx.CreateBucketIfNotExists([]byte(name))
	if err != nil {
		return nil, err
	}
	return boltBucket{b: b}, nil
}

func (tx *boltTx) Commit() error { return tx.btx.Commit() }

func (tx *boltTx) Rollback() error {
	err := tx.btx.Rollback()
	if err == bbolt.ErrTxClosed {
		return nil
	}
	return err
}

type boltBucket struct {
	b *bbolt.Bucket
}

func (b boltBucket) Get(key []byte) []byte       { return b.b.Get(key) }
func (b boltBucket) Put(key, value []byte) error { return b.b.Put(key, value) }
func (b boltBucket) Delete(key []byte) error     { return b.b.Delete(key) }
func (b boltBucket) Cursor() backendCursor       { return boltCursor{c: b.b.Cursor()} }

type boltCursor struct {
	c *bbolt.Cursor
}

func (c boltCursor) Seek(seek []byte) ([]byte, []byte) { return c.c.Seek(seek) }
func (c boltCursor) Next() ([]byte, []byte)            { return c.c.Next() }

func unsafeBytesFromString(s string) []byte {
	return unsafe.Slice(unsafe.StringData(s), len(s))
}
