package chunker

import (
	"bytes"
	"math/rand"
	"testing"
)

func TestCompressDecompressRoundTrip(t *testing.T) {
	plain := make([]byte, 64*1024)
	rand.New(rand.NewSource(7)).Read(plain)

	cdata, err := Compress(plain)
	if err != nil {
		t.Fatalf("Compress: %v", err)
	}
	got, err := Decompress(cdata, len(plain))
	if err != nil {
		t.Fatalf("Decompress: %v", err)
	}
	if !bytes.Equal(got, plain) {
		t.Fatal("decompressed bytes differ from original")
	}
}

func TestDecompressRejectsSizeMismatch(t *testing.T) {
	plain := bytes.Repeat([]byte{0x42}, 4096)
	cdata, err := Compress(plain)
	if err != nil {
		t.Fatalf("Compress: %v", err)
	}
	if _, err := Decompress(cdata, len(plain)-10); err == nil {
		t.Fatal("expected error when declared size is shorter than the stream")
	}
}

func TestHashIsContentAddressed(t *testing.T) {
	a := Hash([]byte("hello"))
	b := Hash([]byte("hello"))
	c := Hash([]byte("world"))
	if a != b {
		t.Fatal("identical input must hash identically")
	}
	if a == c {
		t.Fatal("different input must hash differently")
	}
}

type readerAt struct{ data []byte }

func (r readerAt) ReadAt(p []byte, off int64) (int, error) {
	return copy(p, r.data[off:]), nil
}

func TestReadCompressHash(t *testing.T) {
	disk := readerAt{data: bytes.Repeat([]byte("pixie"), 1000)}
	hash, size, cdata, err := ReadCompressHash(disk, Range{Start: 5, Size: 10})
	if err != nil {
		t.Fatalf("ReadCompressHash: %v", err)
	}
	if size != 10 {
		t.Fatalf("expected plain size 10, got %d", size)
	}
	want := Hash(disk.data[5:15])
	if hash != want {
		t.Fatal("hash mismatch")
	}
	got, err := Decompress(cdata, size)
	if err != nil || !bytes.Equal(got, disk.data[5:15]) {
		t.Fatalf("round trip through cdata failed: %v", err)
	}
}
