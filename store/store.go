// Package store keeps encoded archives in a bbolt database under string
// names. Every blob carries a checksummed header recording its format, so
// readers do not need to know how an archive was written.
package store

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.etcd.io/bbolt"

	"github.com/andreyvit/starchive"
)

var ErrNotFound = errors.New("archive not found")

const archivesBucket = "archives"

type Options struct {
	// Compress stores blobs zstd-compressed when that makes them smaller.
	Compress  bool
	IsTesting bool
	Logger    *slog.Logger
	Verbose   bool

	// Now is used to stamp modification times. Defaults to time.Now.
	Now func() time.Time
}

type Store struct {
	be       backend
	compress bool
	logger   *slog.Logger
	verbose  bool
	now      func() time.Time
}

// Info describes a stored archive.
type Info struct {
	Name       string
	Format     starchive.Format
	Size       int64 // decoded size
	StoredSize int64 // size on disk including the header
	Compressed bool
	Modified   time.Time
}

func Open(path string, opt Options) (*Store, error) {
	bopt := &bbolt.Options{}
	*bopt = *bbolt.DefaultOptions
	bopt.Timeout = 10 * time.Second
	if opt.IsTesting {
		bopt.NoSync = true
		bopt.NoFreelistSync = true
	} else {
		bopt.FreelistType = bbolt.FreelistMapType
	}
	bdb, err := bbolt.Open(path, 0666, bopt)
	if err != nil {
		return nil, fmt.Errorf("starchive/store: %w", err)
	}
	return newStore(&boltBackend{bdb: bdb}, opt), nil
}

// OpenMemory returns a store that lives only as long as the process.
func OpenMemory(opt Options) *Store {
	return newStore(newMemBackend(), opt)
}

func newStore(be backend, o Options) *Store {
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return &Store{
		be:       be,
		compress: o.Compress,
		logger:   o.Logger,
		verbose:  o.Verbose,
		now:      o.Now,
	}
}

func (s *Store) Close() error {
	return s.be.Close()
}

func (s *Store) read(f func(b backendBucket) error) error {
	tx, err := s.be.BeginTx(false)
	if err != nil {
		return fmt.Errorf("starchive/store: %w", err)
	}
	defer tx.Rollback()
	b := tx.Bucket(archivesBucket)
	if b == nil {
		return f(nil)
	}
	return f(b)
}

func (s *Store) write(f func(b backendBucket) error) error {
	tx, err := s.be.BeginTx(true)
	if err != nil {
		return fmt.Errorf("starchive/store: %w", err)
	}
	defer tx.Rollback()
	b, err := tx.CreateBucket(archivesBucket)
	if err != nil {
		return fmt.Errorf("starchive/store: %w", err)
	}
	if err := f(b); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("starchive/store: commit: %w", err)
	}
	return nil
}

func checkName(name string) error {
	if name == "" {
		return fmt.Errorf("starchive/store: empty archive name")
	}
	return nil
}

// Put stores data, an archive encoded in format f, replacing any previous
// archive with the same name.
func (s *Store) Put(name string, f starchive.Format, data []byte) error {
	if err := checkName(name); err != nil {
		return err
	}
	blob := encodeBlob(f, data, s.compress, s.now())
	err := s.write(func(b backendBucket) error {
		if err := b.Put([]byte(name), blob); err != nil {
			return fmt.Errorf("starchive/store: put %q: %w", name, err)
		}
		return nil
	})
	if err == nil && s.verbose {
		s.logger.Debug("starchive/store: put", "name", name, "format", f, "size", len(data), "stored", len(blob))
	}
	return err
}

// Get returns the format and decoded bytes of the named archive. A damaged
// blob yields a *starchive.DataError.
func (s *Store) Get(name string) (starchive.Format, []byte, error) {
	var (
		format starchive.Format
		data   []byte
	)
	err := s.read(func(b backendBucket) error {
		var blob []byte
		if b != nil {
			blob = b.Get([]byte(name))
		}
		if blob == nil {
			return fmt.Errorf("starchive/store: %q: %w", name, ErrNotFound)
		}
		h, payload, err := decodeBlob(blob)
		if err != nil {
			s.logger.Warn("starchive/store: damaged archive", "name", name, "err", err)
			return err
		}
		format = starchive.Format(h.Format)
		data = payload
		return nil
	})
	return format, data, err
}

func (s *Store) Stat(name string) (Info, error) {
	var info Info
	err := s.read(func(b backendBucket) error {
		var blob []byte
		if b != nil {
			blob = b.Get([]byte(name))
		}
		if blob == nil {
			return fmt.Errorf("starchive/store: %q: %w", name, ErrNotFound)
		}
		h, err := decodeBlobHeader(blob)
		if err != nil {
			return err
		}
		info = h.info(name, len(blob))
		return nil
	})
	return info, err
}

func (s *Store) Delete(name string) error {
	return s.write(func(b backendBucket) error {
		key := []byte(name)
		if b.Get(key) == nil {
			return fmt.Errorf("starchive/store: %q: %w", name, ErrNotFound)
		}
		return b.Delete(key)
	})
}

// List returns the archives whose names start with prefix, sorted by name.
// Blobs with a damaged header are skipped and logged.
func (s *Store) List(prefix string) ([]Info, error) {
	var result []Info
	err := s.read(func(b backendBucket) error {
		if b == nil {
			return nil
		}
		p := []byte(prefix)
		c := b.Cursor()
		for k, v := c.Seek(p); k != nil && bytes.HasPrefix(k, p); k, v = c.Next() {
			h, err := decodeBlobHeader(v)
			if err != nil {
				s.logger.Warn("starchive/store: skipping damaged archive", "name", string(k), "err", err)
				continue
			}
			result = append(result, h.info(string(k), len(v)))
		}
		return nil
	})
	return result, err
}

// Save encodes an archive in format f by calling fn on its root slot and
// stores the result.
func (s *Store) Save(name string, f starchive.Format, opt starchive.Options, fn func(root starchive.Slot)) error {
	w := starchive.NewWriter(f)
	ar := starchive.New(w, opt)
	fn(ar.Open())
	if err := ar.Close(); err != nil {
		return err
	}
	return s.Put(name, f, w.Data())
}

// Load reads the named archive and calls fn on its root slot. Data errors
// found while fn runs are returned.
func (s *Store) Load(name string, opt starchive.Options, fn func(root starchive.Slot)) error {
	f, data, err := s.Get(name)
	if err != nil {
		return err
	}
	r, err := starchive.NewReader(f, data)
	if err != nil {
		return fmt.Errorf("starchive/store: %q: %w", name, err)
	}
	ar := starchive.New(r, opt)
	fn(ar.Open())
	return ar.Close()
}
