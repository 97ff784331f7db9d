package agent

import (
	"context"
	"fmt"

	"github.com/olimpiadi-informatica/pixie-sub000/internal/chunker"
	"github.com/olimpiadi-informatica/pixie-sub000/internal/diskscan"
	"github.com/olimpiadi-informatica/pixie-sub000/internal/store"
	"github.com/olimpiadi-informatica/pixie-sub000/internal/wire"
)

// doStore implements the Store action: scan the local disk's in-use
// ranges, upload any chunk the server doesn't already have, and finish by
// uploading the assembled manifest under name.
func (c *Client) doStore(ctx context.Context, name string) error {
	ranges, err := diskscan.Scan(c.Disk)
	if err != nil {
		return fmt.Errorf("agent: scan disk: %w", err)
	}

	conn, err := c.dial()
	if err != nil {
		return err
	}
	defer conn.Close()

	var total uint64
	for _, rng := range ranges {
		total += uint64(rng.Size)
	}

	chunks := make([]store.Chunk, 0, len(ranges))
	var done uint64
	for _, rng := range ranges {
		if err := ctx.Err(); err != nil {
			return err
		}

		hash, plainSize, cdata, err := chunker.ReadCompressHash(c.Disk, rng)
		if err != nil {
			return err
		}

		hasReq, err := wire.EncodeHasChunk(hash)
		if err != nil {
			return err
		}
		hasResp, err := c.roundTrip(conn, hasReq)
		if err != nil {
			return fmt.Errorf("agent: has chunk: %w", err)
		}
		has, err := wire.DecodeBool(hasResp)
		if err != nil {
			return err
		}
		if !has {
			upReq, err := wire.EncodeUploadChunk(cdata)
			if err != nil {
				return err
			}
			upResp, err := c.roundTrip(conn, upReq)
			if err != nil {
				return fmt.Errorf("agent: upload chunk: %w", err)
			}
			outcome, err := wire.DecodeOutcome(upResp)
			if err != nil {
				return err
			}
			if outcome != "" {
				return fmt.Errorf("agent: upload chunk rejected: %s", outcome)
			}
		}

		chunks = append(chunks, store.Chunk{
			Hash:  hash,
			Start: rng.Start,
			Size:  uint32(plainSize),
			Csize: uint32(len(cdata)),
		})

		done += uint64(rng.Size)
		c.reportProgress(done, total)
	}

	imgReq, err := wire.EncodeUploadImage(name, store.Image{Disk: chunks})
	if err != nil {
		return err
	}
	imgResp, err := c.roundTrip(conn, imgReq)
	if err != nil {
		return fmt.Errorf("agent: upload image: %w", err)
	}
	outcome, err := wire.DecodeOutcome(imgResp)
	if err != nil {
		return err
	}
	if outcome != "" {
		return fmt.Errorf("agent: upload image rejected: %s", outcome)
	}
	return nil
}
