// Package store implements the server's content-addressed chunk database:
// an on-disk directory of compressed, BLAKE3-addressed chunks plus a
// directory of image manifests referencing them by hash, with in-memory
// reference counts reconciled from disk on load.
package store

// ChunkHash is a BLAKE3 digest of a chunk's uncompressed bytes.
type ChunkHash [32]byte

// Chunk is one entry of an image's disk manifest: a byte range on the
// source device, its content address, and its two sizes.
type Chunk struct {
	Hash  ChunkHash `cbor:"1,keyasint"`
	Start uint64    `cbor:"2,keyasint"`
	Size  uint32    `cbor:"3,keyasint"`
	Csize uint32    `cbor:"4,keyasint"`
}

// Image is a full disk manifest: boot metadata plus the ordered, disjoint
// sequence of chunks that reconstruct the disk.
type Image struct {
	BootOptionID uint16  `cbor:"1,keyasint"`
	BootEntry    []byte  `cbor:"2,keyasint"`
	Disk         []Chunk `cbor:"3,keyasint"`
}

// Size returns the total uncompressed size of the image's disk.
func (img *Image) Size() uint64 {
	var total uint64
	for _, c := range img.Disk {
		total += uint64(c.Size)
	}
	return total
}

// Csize returns the total compressed, on-disk size of the image's disk.
func (img *Image) Csize() uint64 {
	var total uint64
	for _, c := range img.Disk {
		total += uint64(c.Csize)
	}
	return total
}

// ChunkStats is the in-memory bookkeeping record for one stored chunk.
type ChunkStats struct {
	Csize  uint64
	RefCnt uint32
}

// ImageSummary is the lightweight per-manifest record published in
// ImagesStats: just enough to answer admin/status queries without
// re-reading every manifest file.
type ImageSummary struct {
	Size  uint64
	Csize uint64
}

// ImagesStats is the live aggregate published to subscribers whenever the
// chunk store or image set changes.
type ImagesStats struct {
	TotalCsize  uint64
	Reclaimable uint64
	Images      map[string]ImageSummary
}

func cloneImagesStats(s ImagesStats) ImagesStats {
	images := make(map[string]ImageSummary, len(s.Images))
	for k, v := range s.Images {
		images[k] = v
	}
	return ImagesStats{TotalCsize: s.TotalCsize, Reclaimable: s.Reclaimable, Images: images}
}
