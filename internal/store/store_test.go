package store

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/olimpiadi-informatica/pixie-sub000/internal/chunker"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	if err := os.Mkdir(filepath.Join(dir, chunksDirName), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.Mkdir(filepath.Join(dir, imagesDirName), 0o755); err != nil {
		t.Fatal(err)
	}
	s, err := Load(dir, func(name string) bool { return name == "base" })
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	return s
}

func addTestChunk(t *testing.T, s *Store, plain []byte) Chunk {
	t.Helper()
	cdata, err := chunker.Compress(plain)
	if err != nil {
		t.Fatalf("Compress: %v", err)
	}
	if err := s.AddChunk(cdata); err != nil {
		t.Fatalf("AddChunk: %v", err)
	}
	hash := ChunkHash(chunker.Hash(plain))
	return Chunk{Hash: hash, Start: 0, Size: uint32(len(plain)), Csize: uint32(len(cdata))}
}

func TestAddChunkIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	plain := []byte("hello world")
	c1 := addTestChunk(t, s, plain)
	if !s.HasChunk(c1.Hash) {
		t.Fatal("expected chunk to be indexed")
	}
	if err := func() error {
		cdata, _ := chunker.Compress(plain)
		return s.AddChunk(cdata)
	}(); err != nil {
		t.Fatalf("re-adding an existing chunk should be a no-op: %v", err)
	}
	stats := s.imagesStats.Borrow()
	if stats.TotalCsize != uint64(c1.Csize) {
		t.Fatalf("expected total_csize to count the chunk once, got %d", stats.TotalCsize)
	}
}

func TestAddChunkRejectsOversize(t *testing.T) {
	s := newTestStore(t)
	plain := make([]byte, MaxChunkSize+1)
	cdata, err := chunker.Compress(plain)
	if err != nil {
		t.Fatalf("Compress: %v", err)
	}
	if err := s.AddChunk(cdata); !errors.Is(err, ErrChunkTooBig) {
		t.Fatalf("expected ErrChunkTooBig, got %v", err)
	}
}

func TestAddImageRejectsMissingChunk(t *testing.T) {
	s := newTestStore(t)
	img := &Image{Disk: []Chunk{{Hash: ChunkHash{0xAA}}}}
	if err := s.AddImage("base", img); !errors.Is(err, ErrChunkMissing) {
		t.Fatalf("expected ErrChunkMissing, got %v", err)
	}
}

func TestAddImageRejectsUnknownName(t *testing.T) {
	s := newTestStore(t)
	img := &Image{}
	if err := s.AddImage("nope", img); !errors.Is(err, ErrUnknownImage) {
		t.Fatalf("expected ErrUnknownImage, got %v", err)
	}
}

func TestAddImageWritesCurrentAndSnapshot(t *testing.T) {
	s := newTestStore(t)
	c := addTestChunk(t, s, []byte("disk bytes"))
	img := &Image{BootOptionID: 1, Disk: []Chunk{c}}
	if err := s.AddImage("base", img); err != nil {
		t.Fatalf("AddImage: %v", err)
	}

	data, err := s.GetImageSerialized("base")
	if err != nil || data == nil {
		t.Fatalf("expected base manifest present, err=%v", err)
	}

	stats := s.imagesStats.Borrow()
	found := false
	for name := range stats.Images {
		if name != "base" {
			found = true
		}
	}
	if !found {
		t.Fatal("expected a timestamped snapshot entry alongside the current pointer")
	}

	cs := s.chunksStats[c.Hash]
	if cs.RefCnt != 2 {
		t.Fatalf("expected ref_cnt 2 (current + snapshot), got %d", cs.RefCnt)
	}
	if stats.Reclaimable != 0 {
		t.Fatalf("expected reclaimable to drop to 0 once referenced, got %d", stats.Reclaimable)
	}
}

func TestDeleteImageDecrementsRefsAndGCReclaims(t *testing.T) {
	s := newTestStore(t)
	c := addTestChunk(t, s, []byte("disk bytes"))
	img := &Image{Disk: []Chunk{c}}
	if err := s.AddImage("base", img); err != nil {
		t.Fatalf("AddImage: %v", err)
	}

	var snapshotName string
	for name := range s.imagesStats.Borrow().Images {
		if name != "base" {
			snapshotName = name
		}
	}

	if err := s.DeleteImage("base"); err != nil {
		t.Fatalf("DeleteImage(base): %v", err)
	}
	if err := s.DeleteImage(snapshotName); err != nil {
		t.Fatalf("DeleteImage(snapshot): %v", err)
	}

	if s.chunksStats[c.Hash].RefCnt != 0 {
		t.Fatalf("expected ref_cnt 0 after deleting both manifests, got %d", s.chunksStats[c.Hash].RefCnt)
	}
	if err := s.GCChunks(); err != nil {
		t.Fatalf("GCChunks: %v", err)
	}
	if s.HasChunk(c.Hash) {
		t.Fatal("expected chunk to be collected")
	}
	if _, err := os.Stat(s.chunkPath(c.Hash)); !os.IsNotExist(err) {
		t.Fatal("expected chunk file removed from disk")
	}
}

func TestRollbackImageRestoresSnapshot(t *testing.T) {
	s := newTestStore(t)
	c1 := addTestChunk(t, s, []byte("first version"))
	if err := s.AddImage("base", &Image{Disk: []Chunk{c1}}); err != nil {
		t.Fatalf("AddImage v1: %v", err)
	}
	var firstSnapshot string
	for name := range s.imagesStats.Borrow().Images {
		if name != "base" {
			firstSnapshot = name
		}
	}

	c2 := addTestChunk(t, s, []byte("second version"))
	if err := s.AddImage("base", &Image{Disk: []Chunk{c2}}); err != nil {
		t.Fatalf("AddImage v2: %v", err)
	}

	if err := s.RollbackImage(firstSnapshot); err != nil {
		t.Fatalf("RollbackImage: %v", err)
	}

	data, err := s.GetImageSerialized("base")
	if err != nil || data == nil {
		t.Fatalf("expected base manifest present after rollback, err=%v", err)
	}
	if s.chunksStats[c1.Hash].RefCnt == 0 {
		t.Fatal("expected rolled-back chunk's ref_cnt to be restored")
	}
}

func TestGCChunksRetainsFailedDeletion(t *testing.T) {
	s := newTestStore(t)
	c := addTestChunk(t, s, []byte("orphan"))
	// Remove the file out-of-band so os.Remove inside GCChunks fails,
	// exercising the retain-on-error path.
	if err := os.Remove(s.chunkPath(c.Hash)); err != nil {
		t.Fatalf("pre-remove chunk file: %v", err)
	}
	if err := s.GCChunks(); err == nil {
		t.Fatal("expected GCChunks to report the failed deletion")
	}
	if _, ok := s.chunksStats[c.Hash]; !ok {
		t.Fatal("expected chunk entry to be retained after failed deletion")
	}
}
