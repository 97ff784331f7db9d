package agent

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/olimpiadi-informatica/pixie-sub000/internal/chunker"
	"github.com/olimpiadi-informatica/pixie-sub000/internal/codec"
	"github.com/olimpiadi-informatica/pixie-sub000/internal/store"
	"github.com/olimpiadi-informatica/pixie-sub000/internal/wire"
)

// minChunksInMemory is the decoder LRU's floor, regardless of how small
// MaxRAMBudget is set.
const minChunksInMemory = 128

// requestTimeout is how long receiveChunks waits for a broadcast packet
// before re-requesting whatever is still missing.
const requestTimeout = 100 * time.Millisecond

// maxRequestBatch bounds how many missing hashes go into one request
// datagram, keeping it well under a UDP MTU.
const maxRequestBatch = 40

// chunkFetch is one hash's worth of work: the plain/compressed sizes
// needed to size a codec.Decoder, and every disk offset a copy of this
// chunk belongs at. The same chunk can appear at multiple offsets when
// the image deduplicates repeated content (e.g. zero-filled regions).
type chunkFetch struct {
	Size    uint32
	Csize   uint32
	Offsets []uint64
}

// doFlash implements the Flash action: fetch the named image's manifest,
// reconstruct every referenced chunk, and write each chunk's decompressed
// bytes to every disk offset it belongs at. A local prescan first looks
// for chunks the disk already holds (from a prior, partially-completed
// flash or from data that happens to coincide) before anything is
// requested over the network. The boot target is only updated once every
// chunk has landed.
func (c *Client) doFlash(ctx context.Context, name string) error {
	conn, err := c.dial()
	if err != nil {
		return err
	}
	req, err := wire.EncodeGetImage(name)
	if err != nil {
		conn.Close()
		return err
	}
	resp, err := c.roundTrip(conn, req)
	conn.Close()
	if err != nil {
		return fmt.Errorf("agent: get image: %w", err)
	}

	var img store.Image
	if err := cbor.Unmarshal(resp, &img); err != nil {
		return fmt.Errorf("agent: decode image manifest: %w", err)
	}

	need := groupChunksByHash(img.Disk)

	if err := c.prescanDisk(need); err != nil {
		return err
	}

	if err := c.receiveChunks(ctx, need); err != nil {
		return err
	}

	if c.Boot != nil {
		if err := c.Boot.SetRebootTarget(img.BootOptionID, img.BootEntry); err != nil {
			return fmt.Errorf("agent: set reboot target: %w", err)
		}
	}
	return nil
}

const chunkHashLen = 32

// groupChunksByHash collects every disk offset sharing a hash into one
// chunkFetch, so a chunk that dedups across several offsets is fetched
// and written only once.
func groupChunksByHash(disk []store.Chunk) map[store.ChunkHash]*chunkFetch {
	need := make(map[store.ChunkHash]*chunkFetch, len(disk))
	for _, ch := range disk {
		g, ok := need[ch.Hash]
		if !ok {
			g = &chunkFetch{Size: ch.Size, Csize: ch.Csize}
			need[ch.Hash] = g
		}
		g.Offsets = append(g.Offsets, ch.Start)
	}
	return need
}

// prescanDisk reads every candidate offset of each still-needed chunk and
// hashes it; if any offset already holds the right bytes, it copies them
// to the chunk's other offsets and drops the hash from need entirely,
// with no network I/O at all. This recovers chunks a prior, interrupted
// flash already wrote, and any content a fresh disk happens to share with
// the image (e.g. zero regions).
func (c *Client) prescanDisk(need map[store.ChunkHash]*chunkFetch) error {
	for hash, g := range need {
		buf := make([]byte, g.Size)
		foundAt := -1
		for i, offset := range g.Offsets {
			if _, err := c.Disk.ReadAt(buf, int64(offset)); err != nil {
				return fmt.Errorf("agent: prescan read at %d: %w", offset, err)
			}
			if store.ChunkHash(chunker.Hash(buf)) == hash {
				foundAt = i
				break
			}
		}
		if foundAt < 0 {
			continue
		}
		for i, offset := range g.Offsets {
			if i == foundAt {
				continue
			}
			if _, err := c.Disk.WriteAt(buf, int64(offset)); err != nil {
				return fmt.Errorf("agent: prescan write at %d: %w", offset, err)
			}
		}
		delete(need, hash)
	}
	return nil
}

// receiveChunks listens for broadcast chunk packets on c.ChunksAddr,
// reassembling each needed chunk with a codec.Decoder and writing its
// plain bytes to every offset it belongs at, until need is empty or ctx
// is cancelled. Every requestTimeout with no packet, it re-requests up to
// maxRequestBatch of whatever is still missing, since the broadcast's
// round-robin order may not reach a given chunk for a while. In-flight
// decoders are capped by an LRU list so a large image can't grow memory
// without bound.
func (c *Client) receiveChunks(ctx context.Context, need map[store.ChunkHash]*chunkFetch) error {
	if len(need) == 0 {
		return nil
	}

	pconn, err := net.ListenPacket("udp4", c.ChunksAddr)
	if err != nil {
		return fmt.Errorf("agent: listen chunks: %w", err)
	}
	defer pconn.Close()

	decoders := make(map[store.ChunkHash]*codec.Decoder, len(need))
	lastSeen := make([]store.ChunkHash, 0, len(need))
	maxChunks := c.maxChunksInMemory()

	var total uint64
	for _, g := range need {
		total += uint64(g.Size)
	}
	var done uint64

	buf := make([]byte, 64<<10)
	for len(need) > 0 {
		if err := ctx.Err(); err != nil {
			return err
		}

		if err := pconn.SetReadDeadline(time.Now().Add(requestTimeout)); err != nil {
			return fmt.Errorf("agent: set read deadline: %w", err)
		}
		n, _, err := pconn.ReadFrom(buf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				c.requestMissing(need, maxRequestBatch)
				continue
			}
			return fmt.Errorf("agent: read chunk packet: %w", err)
		}

		hash, packet, ok := splitChunkPacket(buf[:n])
		if !ok {
			continue
		}
		g, wanted := need[hash]
		if !wanted {
			continue
		}

		dec, ok := decoders[hash]
		if !ok {
			dec = codec.NewDecoder(int(g.Csize))
			decoders[hash] = dec
		}
		lastSeen = touchLastSeen(lastSeen, hash)

		if err := dec.AddPacket(packet); err != nil {
			continue
		}
		if cdata, complete := dec.Finish(); complete {
			plain, err := chunker.Decompress(cdata, int(g.Size))
			if err != nil {
				return fmt.Errorf("agent: decompress chunk: %w", err)
			}
			for _, offset := range g.Offsets {
				if _, err := c.Disk.WriteAt(plain, int64(offset)); err != nil {
					return fmt.Errorf("agent: write chunk at %d: %w", offset, err)
				}
			}

			delete(need, hash)
			delete(decoders, hash)
			lastSeen = removeLastSeen(lastSeen, hash)

			done += uint64(g.Size)
			c.reportProgress(done, total)
		}

		if len(lastSeen) > maxChunks {
			evict := lastSeen[0]
			lastSeen = lastSeen[1:]
			delete(decoders, evict)
		}
	}
	return nil
}

// maxChunksInMemory mirrors the original's max(128, RAM budget /
// MAX_CHUNK_SIZE): however large MaxRAMBudget is, the decoder LRU never
// holds fewer than minChunksInMemory in-flight chunks.
func (c *Client) maxChunksInMemory() int {
	n := int(c.MaxRAMBudget / store.MaxChunkSize)
	if n < minChunksInMemory {
		return minChunksInMemory
	}
	return n
}

func touchLastSeen(seen []store.ChunkHash, hash store.ChunkHash) []store.ChunkHash {
	return append(removeLastSeen(seen, hash), hash)
}

func removeLastSeen(seen []store.ChunkHash, hash store.ChunkHash) []store.ChunkHash {
	for i, h := range seen {
		if h == hash {
			return append(seen[:i], seen[i+1:]...)
		}
	}
	return seen
}

func (c *Client) requestMissing(need map[store.ChunkHash]*chunkFetch, max int) {
	if c.ControlAddr == "" || len(need) == 0 {
		return
	}
	hashes := make([]store.ChunkHash, 0, max)
	for h := range need {
		hashes = append(hashes, h)
		if len(hashes) >= max {
			break
		}
	}
	body, err := wire.EncodeRequestChunks(hashes)
	if err != nil {
		c.Logger.Error(err, "encode request chunks")
		return
	}
	conn, err := net.Dial("udp", c.ControlAddr)
	if err != nil {
		c.Logger.Error(err, "dial control udp for chunk request")
		return
	}
	defer conn.Close()
	if _, err := conn.Write(body); err != nil {
		c.Logger.Error(err, "send chunk request")
	}
}

func splitChunkPacket(buf []byte) (store.ChunkHash, []byte, bool) {
	var hash store.ChunkHash
	if len(buf) <= chunkHashLen {
		return hash, nil, false
	}
	copy(hash[:], buf[:chunkHashLen])
	return hash, buf[chunkHashLen:], true
}
