package agent

import (
	"bytes"
	"testing"

	"github.com/olimpiadi-informatica/pixie-sub000/internal/chunker"
	"github.com/olimpiadi-informatica/pixie-sub000/internal/store"
)

func TestSplitChunkPacket(t *testing.T) {
	var hash store.ChunkHash
	hash[0] = 0xAB
	packet := append(append([]byte{}, hash[:]...), []byte{1, 2, 3}...)

	got, rest, ok := splitChunkPacket(packet)
	if !ok {
		t.Fatal("expected ok")
	}
	if got != hash {
		t.Fatalf("hash mismatch: got %x want %x", got, hash)
	}
	if !bytes.Equal(rest, []byte{1, 2, 3}) {
		t.Fatalf("payload mismatch: got %v", rest)
	}
}

func TestSplitChunkPacketTooShort(t *testing.T) {
	if _, _, ok := splitChunkPacket(make([]byte, chunkHashLen)); ok {
		t.Fatal("expected rejection of a packet with no payload past the hash")
	}
}

func TestGroupChunksByHashCollectsEveryOffset(t *testing.T) {
	var hash store.ChunkHash
	hash[0] = 0x11
	disk := []store.Chunk{
		{Hash: hash, Start: 0, Size: 8, Csize: 4},
		{Hash: hash, Start: 64, Size: 8, Csize: 4},
		{Hash: hash, Start: 128, Size: 8, Csize: 4},
	}
	need := groupChunksByHash(disk)
	if len(need) != 1 {
		t.Fatalf("expected 1 group, got %d", len(need))
	}
	g := need[hash]
	if len(g.Offsets) != 3 {
		t.Fatalf("expected 3 offsets, got %v", g.Offsets)
	}
	for i, want := range []uint64{0, 64, 128} {
		if g.Offsets[i] != want {
			t.Fatalf("offset %d: got %d want %d", i, g.Offsets[i], want)
		}
	}
}

func TestPrescanDiskReconstructsEveryOffsetOfADedupedChunk(t *testing.T) {
	plain := []byte("duplicated chunk contents")
	hash := store.ChunkHash(chunker.Hash(plain))

	dev := newMemDevice(256)
	// Only offset 0 holds the right bytes; 64 and 128 are still zeroed,
	// as if this is a fresh disk with one matching region.
	if _, err := dev.WriteAt(plain, 0); err != nil {
		t.Fatalf("seed WriteAt: %v", err)
	}

	need := map[store.ChunkHash]*chunkFetch{
		hash: {Size: uint32(len(plain)), Offsets: []uint64{0, 64, 128}},
	}
	c := &Client{Disk: dev}
	if err := c.prescanDisk(need); err != nil {
		t.Fatalf("prescanDisk: %v", err)
	}
	if len(need) != 0 {
		t.Fatalf("expected prescan to satisfy the chunk locally, still need: %v", need)
	}

	for _, offset := range []int64{0, 64, 128} {
		got := make([]byte, len(plain))
		if _, err := dev.ReadAt(got, offset); err != nil {
			t.Fatalf("ReadAt %d: %v", offset, err)
		}
		if !bytes.Equal(got, plain) {
			t.Fatalf("offset %d: got %q want %q", offset, got, plain)
		}
	}
}

func TestPrescanDiskLeavesUnmatchedChunksPending(t *testing.T) {
	var hash store.ChunkHash
	hash[0] = 0x42
	dev := newMemDevice(256)

	need := map[store.ChunkHash]*chunkFetch{
		hash: {Size: 16, Offsets: []uint64{0, 64}},
	}
	c := &Client{Disk: dev}
	if err := c.prescanDisk(need); err != nil {
		t.Fatalf("prescanDisk: %v", err)
	}
	if len(need) != 1 {
		t.Fatalf("expected the unmatched chunk to remain pending, got %v", need)
	}
}

func TestMaxChunksInMemoryFloor(t *testing.T) {
	c := &Client{}
	if got := c.maxChunksInMemory(); got != minChunksInMemory {
		t.Fatalf("expected floor of %d with no RAM budget set, got %d", minChunksInMemory, got)
	}

	c.MaxRAMBudget = uint64(store.MaxChunkSize) * 1000
	if got := c.maxChunksInMemory(); got != 1000 {
		t.Fatalf("expected 1000 decoders for a 1000-chunk budget, got %d", got)
	}
}

func TestLastSeenLRUTouchAndRemove(t *testing.T) {
	var a, b, c store.ChunkHash
	a[0], b[0], c[0] = 1, 2, 3

	seen := touchLastSeen(touchLastSeen(touchLastSeen(nil, a), b), c)
	// touching a moves it to the back.
	seen = touchLastSeen(seen, a)
	want := []store.ChunkHash{b, c, a}
	if len(seen) != len(want) {
		t.Fatalf("got %v want %v", seen, want)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Fatalf("got %v want %v", seen, want)
		}
	}

	seen = removeLastSeen(seen, c)
	if len(seen) != 2 || seen[0] != b || seen[1] != a {
		t.Fatalf("unexpected lastSeen after removal: %v", seen)
	}
}
