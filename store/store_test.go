package store

import (
	"bytes"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/andreyvit/starchive"
)

var testTime = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

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

func setup(t testing.TB, bolt bool, compress bool) *Store {
	opt := Options{Compress: compress, IsTesting: true, Now: func() time.Time { return testTime }}
	var s *Store
	if bolt {
		s = must(Open(filepath.Join(t.TempDir(), "test.db"), opt))
	} else {
		s = OpenMemory(opt)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func forEachBackend(t *testing.T, f func(t *testing.T, bolt bool)) {
	t.Run("mem", func(t *testing.T) { f(t, false) })
	t.Run("bolt", func(t *testing.T) { f(t, true) })
}

func compressible(n int) []byte {
	return bytes.Repeat([]byte("starchive "), n/10)
}

func TestStore_PutGet(t *testing.T) {
	forEachBackend(t, func(t *testing.T, bolt bool) {
		for _, compress := range []bool{false, true} {
			s := setup(t, bolt, compress)
			data := compressible(1000)
			ensure(s.Put("levels/one", starchive.FormatTagged, data))
			ensure(s.Put("levels/empty", starchive.FormatBinary, nil))

			f, got, err := s.Get("levels/one")
			if err != nil || f != starchive.FormatTagged || !bytes.Equal(got, data) {
				t.Fatalf("Get = %v, %d bytes, %v, wanted tagged, %d bytes", f, len(got), err, len(data))
			}
			f, got, err = s.Get("levels/empty")
			if err != nil || f != starchive.FormatBinary || got == nil || len(got) != 0 {
				t.Fatalf("Get(empty) = %v, %v, %v, wanted binary, []byte{}", f, got, err)
			}

			info := must(s.Stat("levels/one"))
			if info.Size != int64(len(data)) || info.Compressed != compress || info.Format != starchive.FormatTagged {
				t.Fatalf("Stat = %+v, wanted size %d compressed %v", info, len(data), compress)
			}
			if compress && info.StoredSize >= info.Size {
				t.Fatalf("StoredSize = %d, wanted less than %d", info.StoredSize, info.Size)
			}
			if !compress && info.StoredSize != info.Size+blobHeaderSize {
				t.Fatalf("StoredSize = %d, wanted %d", info.StoredSize, info.Size+blobHeaderSize)
			}
			if !info.Modified.Equal(testTime) {
				t.Fatalf("Modified = %v, wanted %v", info.Modified, testTime)
			}
		}
	})
}

func TestStore_IncompressibleStoredRaw(t *testing.T) {
	s := setup(t, false, true)
	data := []byte{0x8f, 0x13, 0x77}
	ensure(s.Put("tiny", starchive.FormatBinary, data))
	if info := must(s.Stat("tiny")); info.Compressed {
		t.Fatalf("Compressed = true for a 3-byte archive, wanted false")
	}
}

func TestStore_NotFound(t *testing.T) {
	forEachBackend(t, func(t *testing.T, bolt bool) {
		s := setup(t, bolt, false)
		if _, _, err := s.Get("nope"); !errors.Is(err, ErrNotFound) {
			t.Fatalf("Get(nope) = %v, wanted ErrNotFound", err)
		}
		if _, err := s.Stat("nope"); !errors.Is(err, ErrNotFound) {
			t.Fatalf("Stat(nope) = %v, wanted ErrNotFound", err)
		}
		if err := s.Delete("nope"); !errors.Is(err, ErrNotFound) {
			t.Fatalf("Delete(nope) = %v, wanted ErrNotFound", err)
		}
		if infos := must(s.List("")); len(infos) != 0 {
			t.Fatalf("List on empty store = %v, wanted none", infos)
		}
		if err := s.Put("", starchive.FormatBinary, nil); err == nil {
			t.Fatalf("Put with empty name succeeded")
		}
	})
}

func TestStore_ListDelete(t *testing.T) {
	forEachBackend(t, func(t *testing.T, bolt bool) {
		s := setup(t, bolt, false)
		for _, name := range []string{"b/2", "a/1", "b/1", "c"} {
			ensure(s.Put(name, starchive.FormatText, []byte("{}")))
		}
		names := func(prefix string) []string {
			var result []string
			for _, info := range must(s.List(prefix)) {
				result = append(result, info.Name)
			}
			return result
		}
		if got := names("b/"); len(got) != 2 || got[0] != "b/1" || got[1] != "b/2" {
			t.Fatalf("List(b/) = %q, wanted [b/1 b/2]", got)
		}
		if got := names(""); len(got) != 4 || got[0] != "a/1" {
			t.Fatalf("List() = %q, wanted 4 names starting with a/1", got)
		}

		ensure(s.Delete("b/1"))
		if got := names("b/"); len(got) != 1 || got[0] != "b/2" {
			t.Fatalf("List(b/) after delete = %q, wanted [b/2]", got)
		}
	})
}

// damage rewrites the stored blob in place.
func damage(t *testing.T, s *Store, name string, fn func(blob []byte)) {
	tx := must(s.be.BeginTx(true))
	defer tx.Rollback()
	b := must(tx.CreateBucket(archivesBucket))
	blob := bytes.Clone(b.Get([]byte(name)))
	fn(blob)
	ensure(b.Put([]byte(name), blob))
	ensure(tx.Commit())
}

func TestStore_Damaged(t *testing.T) {
	forEachBackend(t, func(t *testing.T, bolt bool) {
		s := setup(t, bolt, true)
		data := compressible(500)
		ensure(s.Put("ok", starchive.FormatTagged, data))
		ensure(s.Put("payload", starchive.FormatTagged, data))
		ensure(s.Put("magic", starchive.FormatTagged, data))

		damage(t, s, "payload", func(blob []byte) { blob[len(blob)-1] ^= 0xff })
		damage(t, s, "magic", func(blob []byte) { blob[0] = 'X' })

		_, _, err := s.Get("payload")
		var de *starchive.DataError
		if !errors.As(err, &de) || !errors.Is(err, ErrChecksum) || !errors.Is(err, starchive.ErrCorrupt) {
			t.Fatalf("Get(payload) = %v, wanted checksum DataError", err)
		}
		if _, err := s.Stat("payload"); err != nil {
			t.Fatalf("Stat(payload) = %v, wanted header to decode", err)
		}

		if _, _, err := s.Get("magic"); !errors.Is(err, starchive.ErrCorrupt) {
			t.Fatalf("Get(magic) = %v, wanted ErrCorrupt", err)
		}
		infos := must(s.List(""))
		if len(infos) != 2 || infos[0].Name != "ok" || infos[1].Name != "payload" {
			t.Fatalf("List() = %+v, wanted ok and payload only", infos)
		}
	})
}

func TestBlob_Header(t *testing.T) {
	blob := encodeBlob(starchive.FormatText, []byte("{}"), false, testTime)
	if len(blob) != blobHeaderSize+2 || string(blob[:4]) != "SARC" {
		t.Fatalf("blob = %x, wanted SARC header and 2 payload bytes", blob)
	}
	h, payload := must2(decodeBlob(blob))
	if h.Format != uint8(starchive.FormatText) || h.RawSize != 2 || string(payload) != "{}" {
		t.Fatalf("decodeBlob = %+v, %q", h, payload)
	}

	t.Run("future version", func(t *testing.T) {
		bad := bytes.Clone(blob)
		bad[4] = 7
		if _, err := decodeBlobHeader(bad); !errors.Is(err, ErrUnsupportedVersion) {
			t.Fatalf("decodeBlobHeader = %v, wanted ErrUnsupportedVersion", err)
		}
	})
	t.Run("truncated", func(t *testing.T) {
		if _, err := decodeBlobHeader(blob[:10]); !errors.Is(err, starchive.ErrTruncated) {
			t.Fatalf("decodeBlobHeader = %v, wanted ErrTruncated", err)
		}
	})
	t.Run("size mismatch", func(t *testing.T) {
		bad := bytes.Clone(blob)
		bad[8] = 3
		sum := blobChecksum(bad)
		for i := range 8 {
			bad[blobHeaderSize-8+i] = byte(sum >> (8 * i))
		}
		if _, _, err := decodeBlob(bad); !errors.Is(err, starchive.ErrTruncated) {
			t.Fatalf("decodeBlob = %v, wanted ErrTruncated", err)
		}
	})
}

func must2[A, B any](a A, b B, err error) (A, B) {
	if err != nil {
		panic(err)
	}
	return a, b
}

func TestStore_SaveLoad(t *testing.T) {
	forEachBackend(t, func(t *testing.T, bolt bool) {
		s := setup(t, bolt, true)
		type level struct {
			Name    string
			Enemies []int32
		}
		serialize := func(l *level) func(root starchive.Slot) {
			return func(root starchive.Slot) {
				rec := root.EnterRecord()
				rec.EnterField("Name").String(&l.Name)
				n := len(l.Enemies)
				arr := rec.EnterField("Enemies").EnterArray(&n)
				if root.IsLoading() {
					l.Enemies = make([]int32, n)
				}
				for i := range l.Enemies {
					arr.EnterElement().Int32(&l.Enemies[i])
				}
			}
		}

		for _, f := range []starchive.Format{starchive.FormatBinary, starchive.FormatTagged, starchive.FormatText} {
			orig := level{Name: "Castle", Enemies: []int32{3, 1, 4, 1, 5}}
			ensure(s.Save("level", f, starchive.Options{}, serialize(&orig)))

			var got level
			ensure(s.Load("level", starchive.Options{}, serialize(&got)))
			if got.Name != orig.Name || len(got.Enemies) != 5 || got.Enemies[4] != 5 {
				t.Fatalf("%v: Load = %+v, wanted %+v", f, got, orig)
			}
			if info := must(s.Stat("level")); info.Format != f {
				t.Fatalf("Stat().Format = %v, wanted %v", info.Format, f)
			}
		}

		err := s.Load("missing", starchive.Options{}, func(root starchive.Slot) {
			t.Fatalf("callback invoked for a missing archive")
		})
		if !errors.Is(err, ErrNotFound) {
			t.Fatalf("Load(missing) = %v, wanted ErrNotFound", err)
		}
	})
}

func TestStore_ReopenBolt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reopen.db")
	s := must(Open(path, Options{IsTesting: true}))
	ensure(s.Put("kept", starchive.FormatText, []byte(`{"A": 1}`)))
	ensure(s.Close())

	s = must(Open(path, Options{IsTesting: true}))
	defer s.Close()
	_, data, err := s.Get("kept")
	if err != nil || string(data) != `{"A": 1}` {
		t.Fatalf("Get after reopen = %q, %v", data, err)
	}
}
