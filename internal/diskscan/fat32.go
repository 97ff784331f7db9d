package diskscan

// FAT32 layout: a 512-byte (at least) EBPB at the partition start, with the
// ASCII string "FAT32   " at offset 0x52 of the boot sector confirming the
// filesystem type.

func fat32Chunks(disk Disk, start, end uint64) ([]interval, bool, error) {
	boot := make([]byte, 512)
	if _, err := disk.ReadAt(boot, int64(start)); err != nil {
		return nil, false, nil
	}
	if string(boot[0x52:0x52+8]) != "FAT32   " {
		return nil, false, nil
	}

	bytesPerSector := le16(boot, 0x0B)
	sectorsPerCluster := boot[0x0D]
	reservedSectors := le16(boot, 0x0E)
	tableCount := boot[0x10]
	fatSize32 := le32(boot, 0x24)
	if bytesPerSector == 0 || sectorsPerCluster == 0 || fatSize32 == 0 {
		return nil, false, nil
	}

	fatStart := start + uint64(reservedSectors)*uint64(bytesPerSector)
	fatBytes := make([]byte, int(fatSize32)*int(bytesPerSector))
	if _, err := disk.ReadAt(fatBytes, int64(fatStart)); err != nil {
		return nil, false, nil
	}

	firstDataSector := uint64(reservedSectors) + uint64(tableCount)*uint64(fatSize32)
	clusterSize := uint64(sectorsPerCluster) * uint64(bytesPerSector)

	var chunks []interval
	// Reserved area + FAT tables are always live.
	reservedEnd := start + firstDataSector*uint64(bytesPerSector)
	if reservedEnd > start {
		chunks = append(chunks, interval{Start: start, Size: reservedEnd - start})
	}

	numEntries := len(fatBytes) / 4
	for cluster := 2; cluster < numEntries; cluster++ {
		entry := le32(fatBytes, cluster*4) & 0x0FFFFFFF
		if entry == 0 {
			continue
		}
		clusterStart := reservedEnd + uint64(cluster-2)*clusterSize
		if clusterStart+clusterSize > end {
			break
		}
		chunks = append(chunks, interval{Start: clusterStart, Size: clusterSize})
	}
	return chunks, true, nil
}
