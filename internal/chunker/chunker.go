// Package chunker provides the content-addressing and compression
// primitives shared by the chunk store and the client pipelines: hashing a
// chunk's plain bytes with BLAKE3 and compressing/decompressing chunk
// payloads with a single streaming block compressor (DEFLATE), as the
// design assumes no compression-algorithm agility.
package chunker

import (
	"bytes"
	"compress/flate"
	"errors"
	"fmt"
	"io"

	"github.com/zeebo/blake3"
)

// ErrTooBig is returned by DecompressUpTo when the decompressed stream
// exceeds the caller's size bound.
var ErrTooBig = errors.New("chunker: decompressed size exceeds limit")

// Hash returns the BLAKE3 digest of a chunk's uncompressed bytes — the
// content address used throughout the store and wire protocol.
func Hash(plain []byte) [32]byte {
	var out [32]byte
	h := blake3.New()
	h.Write(plain)
	copy(out[:], h.Sum(nil))
	return out
}

// Compress deflates plain bytes into a chunk's on-disk/on-wire compressed
// form.
func Compress(plain []byte) ([]byte, error) {
	var buf bytes.Buffer
	w, err := flate.NewWriter(&buf, flate.BestSpeed)
	if err != nil {
		return nil, fmt.Errorf("chunker: compress: %w", err)
	}
	if _, err := w.Write(plain); err != nil {
		return nil, fmt.Errorf("chunker: compress: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("chunker: compress: %w", err)
	}
	return buf.Bytes(), nil
}

// Decompress inflates cdata and verifies it produced exactly size bytes.
func Decompress(cdata []byte, size int) ([]byte, error) {
	r := flate.NewReader(bytes.NewReader(cdata))
	defer r.Close()
	out := make([]byte, size)
	if _, err := io.ReadFull(r, out); err != nil {
		return nil, fmt.Errorf("chunker: decompress: %w", err)
	}
	// Confirm the stream doesn't have trailing data beyond size, which
	// would mean cdata and size disagree about the chunk's contents.
	var extra [1]byte
	if n, _ := r.Read(extra[:]); n != 0 {
		return nil, fmt.Errorf("chunker: decompress: payload longer than declared size %d", size)
	}
	return out, nil
}

// DecompressUpTo inflates cdata with no prior knowledge of the plain size,
// refusing to produce more than maxSize+1 bytes. It returns an error if the
// stream decompresses to more than maxSize bytes, without needing to
// buffer the whole (potentially much larger) output first.
func DecompressUpTo(cdata []byte, maxSize int) ([]byte, error) {
	r := flate.NewReader(bytes.NewReader(cdata))
	defer r.Close()
	out, err := io.ReadAll(io.LimitReader(r, int64(maxSize)+1))
	if err != nil {
		return nil, fmt.Errorf("chunker: decompress: %w", err)
	}
	if len(out) > maxSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrTooBig, maxSize)
	}
	return out, nil
}

// Range is a contiguous in-use byte range of a disk, as produced by the
// diskscan package: the unit the store pipeline reads, compresses, and
// hashes one at a time.
type Range struct {
	Start uint64
	Size  uint32
}

// ReadCompressHash reads one disk range via r, compresses it, and hashes
// the plain bytes, returning the (hash, plain size, compressed bytes)
// tuple the store pipeline needs to build a Chunk descriptor.
func ReadCompressHash(r io.ReaderAt, rng Range) (hash [32]byte, plainSize int, cdata []byte, err error) {
	plain := make([]byte, rng.Size)
	if _, err = r.ReadAt(plain, int64(rng.Start)); err != nil {
		return hash, 0, nil, fmt.Errorf("chunker: read range at %d: %w", rng.Start, err)
	}
	hash = Hash(plain)
	cdata, err = Compress(plain)
	if err != nil {
		return hash, 0, nil, err
	}
	return hash, len(plain), cdata, nil
}
