package store

import (
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/olimpiadi-informatica/pixie-sub000/internal/chunker"
	"github.com/olimpiadi-informatica/pixie-sub000/internal/observability"
	"github.com/olimpiadi-informatica/pixie-sub000/internal/watch"
)

const (
	chunksDirName = "chunks"
	imagesDirName = "images"

	// MaxChunkSize bounds both the decompressed size accepted by AddChunk
	// and the codec's packet indexing space; see internal/codec's init
	// assertion for the corresponding wire-format invariant.
	MaxChunkSize = 4 << 20
)

var (
	// ErrChunkMissing is returned when a manifest references a chunk hash
	// that is not present in the store.
	ErrChunkMissing = errors.New("store: chunk missing")
	// ErrUnknownImage is returned when an operation names an image not
	// declared in the server's configured image list.
	ErrUnknownImage = errors.New("store: unknown image")
	// ErrManifestNotFound is returned by operations addressing a manifest
	// name that has never been written (or has been deleted).
	ErrManifestNotFound = errors.New("store: manifest not found")
	// ErrChunkTooBig is returned by AddChunk when the decompressed payload
	// exceeds MaxChunkSize.
	ErrChunkTooBig = errors.New("store: decompressed chunk exceeds max size")
	// ErrInvalidManifestName rejects malformed "name@version" arguments.
	ErrInvalidManifestName = errors.New("store: invalid manifest name")
)

// Store is the server's content-addressed chunk database. All mutating
// operations on chunk/image state funnel through imagesStats, a watch.Cell
// whose Modify callbacks also take the chunksStats lock, so image and chunk
// operations observe and publish a single consistent snapshot.
type Store struct {
	storageDir string
	validImage func(name string) bool

	mu          sync.Mutex // guards chunksStats; when both are held, imagesStats' lock (via Modify) is taken first
	chunksStats map[ChunkHash]ChunkStats

	imagesStats *watch.Cell[ImagesStats]

	Logger *observability.Logger
}

func (s *Store) chunkPath(h ChunkHash) string {
	return filepath.Join(s.storageDir, chunksDirName, hex.EncodeToString(h[:]))
}

func (s *Store) imagePath(name string) string {
	return filepath.Join(s.storageDir, imagesDirName, name)
}

// Load walks storageDir's chunks/ and images/ subdirectories, reconciling
// in-memory chunk reference counts from the manifests found on disk. It is
// the sole source of truth for ref_cnt: the authoritative reconciliation
// happens here on every startup rather than via a separately-persisted
// counter, so a crash mid-mutation can never leave a stale ref_cnt behind.
func Load(storageDir string, validImage func(name string) bool) (*Store, error) {
	chunksDir := filepath.Join(storageDir, chunksDirName)
	entries, err := os.ReadDir(chunksDir)
	if err != nil {
		return nil, fmt.Errorf("store: open chunks dir: %w", err)
	}

	chunksStats := make(map[ChunkHash]ChunkStats, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		raw, err := hex.DecodeString(entry.Name())
		if err != nil || len(raw) != 32 {
			continue // stray tmp file or foreign entry; not part of the store
		}
		info, err := entry.Info()
		if err != nil {
			return nil, fmt.Errorf("store: stat chunk %s: %w", entry.Name(), err)
		}
		var hash ChunkHash
		copy(hash[:], raw)
		chunksStats[hash] = ChunkStats{Csize: uint64(info.Size())}
	}

	imagesDir := filepath.Join(storageDir, imagesDirName)
	imageEntries, err := os.ReadDir(imagesDir)
	if err != nil {
		return nil, fmt.Errorf("store: open images dir: %w", err)
	}

	images := make(map[string]ImageSummary, len(imageEntries))
	for _, entry := range imageEntries {
		if entry.IsDir() {
			continue
		}
		path := filepath.Join(imagesDir, entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("store: read image %s: %w", path, err)
		}
		var img Image
		if err := cbor.Unmarshal(data, &img); err != nil {
			return nil, fmt.Errorf("store: decode image %s: %w", path, err)
		}
		for _, c := range img.Disk {
			stats, ok := chunksStats[c.Hash]
			if !ok {
				return nil, fmt.Errorf("%w: %s referenced by %s", ErrChunkMissing, hex.EncodeToString(c.Hash[:]), entry.Name())
			}
			stats.RefCnt++
			chunksStats[c.Hash] = stats
		}
		images[entry.Name()] = ImageSummary{Size: img.Size(), Csize: img.Csize()}
	}

	var totalCsize, reclaimable uint64
	for _, stats := range chunksStats {
		totalCsize += stats.Csize
		if stats.RefCnt == 0 {
			reclaimable += stats.Csize
		}
	}

	return &Store{
		storageDir:  storageDir,
		validImage:  validImage,
		chunksStats: chunksStats,
		imagesStats: watch.NewCell(ImagesStats{
			TotalCsize:  totalCsize,
			Reclaimable: reclaimable,
			Images:      images,
		}),
	}, nil
}

// HasChunk reports whether hash is present in the store.
func (s *Store) HasChunk(hash ChunkHash) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.chunksStats[hash]
	return ok
}

// ChunkCsize returns the compressed size of hash and true, or (0, false) if
// hash is not indexed.
func (s *Store) ChunkCsize(hash ChunkHash) (uint64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stats, ok := s.chunksStats[hash]
	if !ok {
		return 0, false
	}
	return stats.Csize, true
}

// GetChunkCdata returns the compressed bytes of hash, or nil with no error
// if hash is not indexed.
func (s *Store) GetChunkCdata(hash ChunkHash) ([]byte, error) {
	s.mu.Lock()
	_, ok := s.chunksStats[hash]
	s.mu.Unlock()
	if !ok {
		return nil, nil
	}
	data, err := os.ReadFile(s.chunkPath(hash))
	if err != nil {
		return nil, fmt.Errorf("store: read chunk %s: %w", hex.EncodeToString(hash[:]), err)
	}
	return data, nil
}

// AddChunk decompresses cdata, verifies its size, and indexes it under the
// BLAKE3 hash of the decompressed bytes. Re-adding an already-known chunk
// is a silent no-op. Stats and the on-disk file are updated together under
// the same lock, so a concurrent reader never observes an indexed chunk
// whose file is not yet written.
func (s *Store) AddChunk(cdata []byte) error {
	plain, err := chunker.DecompressUpTo(cdata, MaxChunkSize)
	if err != nil {
		if errors.Is(err, chunker.ErrTooBig) {
			return fmt.Errorf("%w", ErrChunkTooBig)
		}
		return fmt.Errorf("store: decompress chunk: %w", err)
	}
	hash := ChunkHash(chunker.Hash(plain))

	var writeErr error
	stored := false
	s.imagesStats.Modify(func(stats *ImagesStats) bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		if _, exists := s.chunksStats[hash]; exists {
			return false
		}
		path := s.chunkPath(hash)
		if writeErr = atomicWrite(path, cdata); writeErr != nil {
			return false
		}
		s.chunksStats[hash] = ChunkStats{Csize: uint64(len(cdata))}
		stats.TotalCsize += uint64(len(cdata))
		stats.Reclaimable += uint64(len(cdata))
		stored = true
		return true
	})
	if stored && s.Logger != nil {
		s.Logger.ChunkStored(hex.EncodeToString(hash[:]), len(plain), len(cdata))
	}
	return writeErr
}

// GCChunks deletes every chunk file whose reference count is zero and
// updates the aggregate stats accordingly. A chunk whose file deletion
// fails is retained in chunksStats so a subsequent GC pass can retry it;
// the single imagesStats.Modify call covers both the deletion and the
// counter update for every chunk in the pass, so no intermediate state is
// ever observable by a concurrent add_image.
func (s *Store) GCChunks() error {
	start := time.Now()
	var firstErr error
	var removed int
	var reclaimed uint64
	s.imagesStats.Modify(func(stats *ImagesStats) bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		changed := false
		for hash, cs := range s.chunksStats {
			if cs.RefCnt != 0 {
				continue
			}
			if err := os.Remove(s.chunkPath(hash)); err != nil {
				if firstErr == nil {
					firstErr = fmt.Errorf("store: gc remove %s: %w", hex.EncodeToString(hash[:]), err)
				}
				continue
			}
			delete(s.chunksStats, hash)
			stats.TotalCsize -= cs.Csize
			stats.Reclaimable -= cs.Csize
			removed++
			reclaimed += cs.Csize
			changed = true
		}
		return changed
	})
	if s.Logger != nil {
		s.Logger.GCCompleted(removed, reclaimed, time.Since(start))
	}
	return firstErr
}

// GetImageSerialized returns the raw CBOR bytes of image, or nil with no
// error if image has never been written.
func (s *Store) GetImageSerialized(image string) ([]byte, error) {
	if !s.validImage(firstComponent(image)) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownImage, image)
	}
	data, err := os.ReadFile(s.imagePath(image))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("store: read image %s: %w", image, err)
	}
	return data, nil
}

// writeImageLocked persists one manifest entry under the given full name
// and adjusts ref counts: new chunks' refs are incremented before any old
// chunks' refs (from a previous manifest of the same name) are
// decremented, so an interrupted write never drops an in-use chunk's
// count to zero. Callers must hold s.mu and be inside an imagesStats
// Modify callback.
func (s *Store) writeImageLocked(stats *ImagesStats, fullName string, img *Image) error {
	path := s.imagePath(fullName)

	var oldChunks []Chunk
	if _, exists := stats.Images[fullName]; exists {
		old, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("store: read previous image %s: %w", fullName, err)
		}
		var oldImg Image
		if err := cbor.Unmarshal(old, &oldImg); err != nil {
			return fmt.Errorf("store: decode previous image %s: %w", fullName, err)
		}
		oldChunks = oldImg.Disk
	}

	data, err := cbor.Marshal(img)
	if err != nil {
		return fmt.Errorf("store: encode image %s: %w", fullName, err)
	}
	if err := atomicWrite(path, data); err != nil {
		return fmt.Errorf("store: write image %s: %w", fullName, err)
	}

	if stats.Images == nil {
		stats.Images = make(map[string]ImageSummary)
	}
	stats.Images[fullName] = ImageSummary{Size: img.Size(), Csize: img.Csize()}

	for _, c := range img.Disk {
		cs := s.chunksStats[c.Hash]
		if cs.RefCnt == 0 {
			stats.Reclaimable -= cs.Csize
		}
		cs.RefCnt++
		s.chunksStats[c.Hash] = cs
	}
	for _, c := range oldChunks {
		cs := s.chunksStats[c.Hash]
		cs.RefCnt--
		if cs.RefCnt == 0 {
			stats.Reclaimable += cs.Csize
		}
		s.chunksStats[c.Hash] = cs
	}
	return nil
}

// AddImage validates that every referenced chunk is indexed, then
// atomically writes both the "current" manifest name and a timestamped
// snapshot referencing the same chunks.
func (s *Store) AddImage(name string, img *Image) error {
	if !s.validImage(name) {
		return fmt.Errorf("%w: %s", ErrUnknownImage, name)
	}
	s.mu.Lock()
	for _, c := range img.Disk {
		if _, ok := s.chunksStats[c.Hash]; !ok {
			s.mu.Unlock()
			return fmt.Errorf("%w: %s", ErrChunkMissing, hex.EncodeToString(c.Hash[:]))
		}
	}
	s.mu.Unlock()

	version := time.Now().UTC().Format("2006-01-02T15:04:05.000000000Z")
	nameWithVersion := fmt.Sprintf("%s@%s", name, version)

	var err error
	s.imagesStats.Modify(func(stats *ImagesStats) bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		if err = s.writeImageLocked(stats, name, img); err != nil {
			return false
		}
		if err = s.writeImageLocked(stats, nameWithVersion, img); err != nil {
			return false
		}
		return true
	})
	return err
}

// RollbackImage copies a snapshot's contents back to its "current"
// pointer, using the same ref-count-adjust sequence as AddImage.
func (s *Store) RollbackImage(fullName string) error {
	name, _, err := splitManifestName(fullName)
	if err != nil {
		return err
	}
	if !s.validImage(name) {
		return fmt.Errorf("%w: %s", ErrUnknownImage, name)
	}

	_, known := s.imagesStats.Borrow().Images[fullName]
	if !known {
		return fmt.Errorf("%w: %s", ErrManifestNotFound, fullName)
	}

	data, err := os.ReadFile(s.imagePath(fullName))
	if err != nil {
		return fmt.Errorf("store: read snapshot %s: %w", fullName, err)
	}
	var img Image
	if err := cbor.Unmarshal(data, &img); err != nil {
		return fmt.Errorf("store: decode snapshot %s: %w", fullName, err)
	}

	s.imagesStats.Modify(func(stats *ImagesStats) bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		if err = s.writeImageLocked(stats, name, &img); err != nil {
			return false
		}
		return true
	})
	return err
}

// DeleteImage removes a manifest and decrements the reference count of
// every chunk it names.
func (s *Store) DeleteImage(fullName string) error {
	name, _, err := splitManifestName(fullName)
	if err != nil {
		return err
	}
	if !s.validImage(name) {
		return fmt.Errorf("%w: %s", ErrUnknownImage, name)
	}

	var opErr error
	s.imagesStats.Modify(func(stats *ImagesStats) bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		if _, known := stats.Images[fullName]; !known {
			opErr = fmt.Errorf("%w: %s", ErrManifestNotFound, fullName)
			return false
		}
		path := s.imagePath(fullName)
		data, err := os.ReadFile(path)
		if err != nil {
			opErr = fmt.Errorf("store: read image %s: %w", fullName, err)
			return false
		}
		var img Image
		if err := cbor.Unmarshal(data, &img); err != nil {
			opErr = fmt.Errorf("store: decode image %s: %w", fullName, err)
			return false
		}
		if err := os.Remove(path); err != nil {
			opErr = fmt.Errorf("store: remove image %s: %w", fullName, err)
			return false
		}
		delete(stats.Images, fullName)
		for _, c := range img.Disk {
			cs := s.chunksStats[c.Hash]
			cs.RefCnt--
			if cs.RefCnt == 0 {
				stats.Reclaimable += cs.Csize
			}
			s.chunksStats[c.Hash] = cs
		}
		return true
	})
	return opErr
}

// SubscribeImages returns a Receiver that yields the latest ImagesStats
// snapshot each time the store's chunk or image set changes.
func (s *Store) SubscribeImages() *watch.Receiver[ImagesStats] {
	return s.imagesStats.Subscribe()
}

// ImagesStats returns the current snapshot without blocking, for operator
// tooling that just wants a point-in-time read.
func (s *Store) ImagesStats() ImagesStats {
	return s.imagesStats.Borrow()
}

func splitManifestName(fullName string) (name, version string, err error) {
	idx := -1
	for i, r := range fullName {
		if r == '@' {
			if idx != -1 {
				return "", "", fmt.Errorf("%w: %s", ErrInvalidManifestName, fullName)
			}
			idx = i
		}
	}
	if idx == -1 {
		return "", "", fmt.Errorf("%w: %s", ErrInvalidManifestName, fullName)
	}
	return fullName[:idx], fullName[idx+1:], nil
}

func firstComponent(name string) string {
	for i, r := range name {
		if r == '@' {
			return name[:i]
		}
	}
	return name
}
