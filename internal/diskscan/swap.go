package diskscan

// Linux swap has no free-space structure worth tracking: once formatted,
// every page in its region is considered live data for imaging purposes.
// Recognition is a single magic string, "SWAPSPACE2", at the last 10 bytes
// of the first page.
const swapPageSize = 4096

func swapChunks(disk Disk, start, end uint64) ([]interval, bool, error) {
	page := make([]byte, swapPageSize)
	if _, err := disk.ReadAt(page, int64(start)); err != nil {
		return nil, false, nil
	}
	if string(page[swapPageSize-10:]) != "SWAPSPACE2" {
		return nil, false, nil
	}
	return []interval{{Start: start, Size: end - start}}, true, nil
}
