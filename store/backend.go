package store

// backend is a transactional sorted key-value store (Bolt, in-memory).
type backend interface {
	BeginTx(writable bool) (backendTx, error)
	Close() error
}

type backendTx interface {
	// Bucket returns nil if the bucket doesn't exist.
	Bucket(name string) backendBucket

	// CreateBucket creates a bucket if it doesn't exist.
	CreateBucket(name string) (backendBucket, error)

	Commit() error

	// Rollback aborts the transaction. It is safe to call after Commit.
	Rollback() error
}

// backendBucket is a sorted key-value collection. Returned slices are only
// valid until the transaction ends.
type backendBucket interface {
	Get(key []byte) []byte
	Put(key, value []byte) error
	Delete(key []byte) error
	Cursor() backendCursor
}

type backendCursor interface {
	// Seek moves to the first key >= seek.
	Seek(seek []byte) (key, value []byte)
	Next() (key, value []byte)
}
