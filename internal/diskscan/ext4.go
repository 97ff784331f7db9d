package diskscan

const (
	ext4SuperblockOffset = 1024
	ext4Magic            = 0xEF53
	ext4IncompatBit64     = 0x80
	ext4RoCompatSparseSB = 0x1
)

// hasSuperblock reports whether block group g carries a backup superblock
// and group descriptor table under the sparse_super layout: groups 0 and 1,
// and groups whose number is a power of 3, 5, or 7.
func hasSuperblock(g uint64) bool {
	if g == 0 || g == 1 {
		return true
	}
	for _, base := range []uint64{3, 5, 7} {
		p := base
		for p <= g {
			if p == g {
				return true
			}
			p *= base
		}
	}
	return false
}

func ceilDiv(a, b uint64) uint64 {
	return (a + b - 1) / b
}

func ext4Chunks(disk Disk, start, end uint64) ([]interval, bool, error) {
	sb := make([]byte, 1024)
	if _, err := disk.ReadAt(sb, int64(start+ext4SuperblockOffset)); err != nil {
		return nil, false, nil
	}
	if le16(sb, 0x38) != ext4Magic {
		return nil, false, nil
	}
	incompat := le32(sb, 0x60)
	roCompat := le32(sb, 0x64)
	if incompat&ext4IncompatBit64 == 0 || roCompat&ext4RoCompatSparseSB == 0 {
		return nil, false, nil
	}

	logBlockSize := le32(sb, 0x18)
	blockSize := uint64(1024) << logBlockSize
	blocksPerGroup := uint64(le32(sb, 0x20))
	blocksCount := le64Split(sb, 0x04, 0x150)
	if blockSize == 0 || blocksPerGroup == 0 || blocksCount == 0 {
		return nil, false, nil
	}
	groups := (blocksCount + blocksPerGroup - 1) / blocksPerGroup

	descSize := uint64(le16(sb, 0xFE))
	if descSize == 0 {
		descSize = 32
	}
	reservedGdtBlocks := uint64(le16(sb, 0xCE))

	gdtStart := start + ext4SuperblockOffset + 1024
	if blockSize > 2048 {
		// the GDT occupies the block following the superblock's block
		gdtStart = start + blockSize
	}
	gdtBytes := make([]byte, groups*descSize)
	if _, err := disk.ReadAt(gdtBytes, int64(gdtStart)); err != nil {
		return nil, false, nil
	}

	var chunks []interval
	for g := uint64(0); g < groups; g++ {
		desc := gdtBytes[g*descSize : g*descSize+descSize]
		flags := le16(desc, 0x12)
		const blockUninit = 0x2

		groupStartBlock := g * blocksPerGroup
		groupBlocks := blocksPerGroup
		if g == groups-1 {
			groupBlocks = blocksCount - groupStartBlock
		}
		groupStart := start + groupStartBlock*blockSize

		if flags&blockUninit != 0 {
			if hasSuperblock(g) {
				// Only the backup superblock + GDT + reserved GDT
				// blocks are live in an otherwise-empty group.
				blocksForSpecialGroup := 1 + ceilDiv(descSize*groups, blockSize) + reservedGdtBlocks
				reserved := blocksForSpecialGroup * blockSize
				if reserved > groupBlocks*blockSize {
					reserved = groupBlocks * blockSize
				}
				chunks = append(chunks, interval{Start: groupStart, Size: reserved})
			}
			continue
		}

		bitmapBlock := le64Split(desc, 0x00, 0x20)
		bitmap := make([]byte, blockSize)
		if _, err := disk.ReadAt(bitmap, int64(start+bitmapBlock*blockSize)); err != nil {
			return nil, false, nil
		}
		for b := uint64(0); b < groupBlocks; b++ {
			byteIdx, bit := b/8, b%8
			if bitmap[byteIdx]&(1<<bit) == 0 {
				continue
			}
			blockStart := groupStart + b*blockSize
			chunks = append(chunks, interval{Start: blockStart, Size: blockSize})
		}
	}
	return coalesce(chunks), true, nil
}

// coalesce merges adjacent intervals so later stages operate on a compact
// list rather than one entry per filesystem block.
func coalesce(ivs []interval) []interval {
	if len(ivs) == 0 {
		return ivs
	}
	out := ivs[:1]
	for _, iv := range ivs[1:] {
		last := &out[len(out)-1]
		if last.end() == iv.Start {
			last.Size += iv.Size
		} else {
			out = append(out, iv)
		}
	}
	return out
}
