package diskscan

import (
	"bytes"
	"fmt"
	"hash/crc32"
)

// sectorSize is assumed fixed at the conventional 512 bytes; GPT itself
// does not encode the device's logical sector size, and every image this
// service images in practice uses 512-byte sectors.
const sectorSize = 512

const gptSignature = "EFI PART"

type gptPartition struct {
	start uint64 // byte offset, inclusive
	end   uint64 // byte offset, exclusive
}

// parseGPT reads the GPT header at LBA 1 and its partition entry array. It
// returns ok=false (not an error) when the device has no valid GPT header,
// so the caller falls back to treating the whole device as one partition.
func parseGPT(disk Disk) (parts []gptPartition, ok bool, err error) {
	header := make([]byte, sectorSize)
	if _, err = disk.ReadAt(header, sectorSize); err != nil {
		return nil, false, nil
	}
	if !bytes.Equal(header[:8], []byte(gptSignature)) {
		return nil, false, nil
	}

	headerSize := le32(header, 12)
	if int(headerSize) > len(header) || headerSize < 92 {
		return nil, false, nil
	}
	storedCRC := le32(header, 16)
	check := make([]byte, headerSize)
	copy(check, header[:headerSize])
	check[16], check[17], check[18], check[19] = 0, 0, 0, 0
	if crc32.ChecksumIEEE(check[:headerSize]) != storedCRC {
		return nil, false, nil
	}

	entryLBA := le64(header, 72)
	numEntries := le32(header, 80)
	entrySize := le32(header, 84)
	if entrySize == 0 || numEntries == 0 || numEntries > 4096 {
		return nil, false, fmt.Errorf("gpt: implausible partition array (n=%d, size=%d)", numEntries, entrySize)
	}

	tableBytes := make([]byte, int(numEntries)*int(entrySize))
	if _, err = disk.ReadAt(tableBytes, int64(entryLBA)*sectorSize); err != nil {
		return nil, false, fmt.Errorf("gpt: read partition array: %w", err)
	}

	var zeroGUID [16]byte
	for i := uint32(0); i < numEntries; i++ {
		entry := tableBytes[i*entrySize : i*entrySize+entrySize]
		if bytes.Equal(entry[:16], zeroGUID[:]) {
			continue // unused entry
		}
		startLBA := le64(entry, 32)
		endLBA := le64(entry, 40) // inclusive, per the UEFI spec
		parts = append(parts, gptPartition{
			start: startLBA * sectorSize,
			end:   (endLBA + 1) * sectorSize,
		})
	}
	if len(parts) == 0 {
		return nil, false, nil
	}
	return parts, true, nil
}
