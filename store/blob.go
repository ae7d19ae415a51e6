package store

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/klauspost/compress/zstd"

	"github.com/andreyvit/starchive"
)

var (
	ErrChecksum           = errors.New("checksum mismatch")
	ErrUnsupportedVersion = errors.New("unsupported blob version")
)

const (
	blobVersion0   = 0
	blobHeaderSize = 32

	blobFlagZstd = 1 << 0
)

var blobMagic = [4]byte{'S', 'A', 'R', 'C'}

// blobHeader precedes every stored archive. Checksum covers the rest of the
// header and the stored payload.
type blobHeader struct {
	Magic    [4]byte
	Version  uint8
	Format   uint8
	Flags    uint8
	Reserved uint8
	RawSize  uint64
	Modified int64 // unix nanoseconds
	Checksum uint64
}

func (h *blobHeader) info(name string, storedSize int) Info {
	return Info{
		Name:       name,
		Format:     starchive.Format(h.Format),
		Size:       int64(h.RawSize),
		StoredSize: int64(storedSize),
		Compressed: h.Flags&blobFlagZstd != 0,
		Modified:   time.Unix(0, h.Modified),
	}
}

var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic("starchive/store: zstd encoder initialization failed: " + err.Error())
	}
	zstdDecoder, err = zstd.NewReader(nil)
	if err != nil {
		panic("starchive/store: zstd decoder initialization failed: " + err.Error())
	}
}

func encodeBlob(f starchive.Format, data []byte, compress bool, now time.Time) []byte {
	h := blobHeader{
		Magic:    blobMagic,
		Version:  blobVersion0,
		Format:   uint8(f),
		RawSize:  uint64(len(data)),
		Modified: now.UnixNano(),
	}
	payload := data
	if compress {
		compressed := zstdEncoder.EncodeAll(data, make([]byte, 0, len(data)))
		if len(compressed) < len(data) {
			payload = compressed
			h.Flags |= blobFlagZstd
		}
	}

	blob := make([]byte, blobHeaderSize, blobHeaderSize+len(payload))
	_, err := binary.Encode(blob, binary.LittleEndian, &h)
	if err != nil {
		panic(err)
	}
	blob = append(blob, payload...)
	h.Checksum = blobChecksum(blob)
	binary.LittleEndian.PutUint64(blob[blobHeaderSize-8:], h.Checksum)
	return blob
}

func blobChecksum(blob []byte) uint64 {
	var d xxhash.Digest
	d.Reset()
	d.Write(blob[:blobHeaderSize-8])
	d.Write(blob[blobHeaderSize:])
	return d.Sum64()
}

// corrupt copies blob, which may point into memory owned by the backend.
func corrupt(blob []byte, off int, err error, msg string) error {
	return &starchive.DataError{Data: bytes.Clone(blob), Off: off, Err: err, Msg: msg}
}

func decodeBlobHeader(blob []byte) (*blobHeader, error) {
	if len(blob) < blobHeaderSize {
		return nil, corrupt(blob, 0, starchive.ErrTruncated, "store: blob shorter than header")
	}
	var h blobHeader
	n, err := binary.Decode(blob[:blobHeaderSize], binary.LittleEndian, &h)
	if err != nil {
		panic(err)
	}
	if n != blobHeaderSize {
		panic("internal size mismatch")
	}
	if h.Magic != blobMagic {
		return nil, corrupt(blob, 0, nil, "store: bad magic")
	}
	if h.Version > blobVersion0 {
		return nil, ErrUnsupportedVersion
	}
	return &h, nil
}

// decodeBlob verifies the checksum and returns the decoded payload in a
// freshly allocated slice.
func decodeBlob(blob []byte) (*blobHeader, []byte, error) {
	h, err := decodeBlobHeader(blob)
	if err != nil {
		return nil, nil, err
	}
	if sum := blobChecksum(blob); sum != h.Checksum {
		return nil, nil, corrupt(blob, blobHeaderSize-8, ErrChecksum, fmt.Sprintf("store: blob damaged, checksum %016x, computed %016x", h.Checksum, sum))
	}
	payload := blob[blobHeaderSize:]
	if h.Flags&blobFlagZstd != 0 {
		data, err := zstdDecoder.DecodeAll(payload, nil)
		if err != nil {
			return nil, nil, corrupt(blob, blobHeaderSize, err, "store: decompression failed")
		}
		payload = data
	} else {
		payload = bytes.Clone(payload)
	}
	if uint64(len(payload)) != h.RawSize {
		return nil, nil, corrupt(blob, blobHeaderSize, starchive.ErrTruncated, "store: decoded size mismatch")
	}
	if payload == nil {
		payload = []byte{}
	}
	return h, payload, nil
}
