package agent

import (
	"fmt"
	"os"
	"unsafe"

	"golang.org/x/sys/unix"
)

// FileBlockDevice backs BlockDevice with a regular file or block-special
// device opened for read-write.
type FileBlockDevice struct {
	f    *os.File
	size int64
}

// OpenBlockDevice opens path as a BlockDevice. A plain Stat reports zero
// size for a block-special file, so size is learned via the BLKGETSIZE64
// ioctl when the path names one; knownSize overrides both when nonzero.
func OpenBlockDevice(path string, knownSize int64) (*FileBlockDevice, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("agent: open block device %s: %w", path, err)
	}
	size := knownSize
	if size == 0 {
		info, err := f.Stat()
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("agent: stat block device %s: %w", path, err)
		}
		if info.Mode()&os.ModeDevice != 0 {
			size, err = blockDeviceSize(f)
			if err != nil {
				f.Close()
				return nil, fmt.Errorf("agent: size block device %s: %w", path, err)
			}
		} else {
			size = info.Size()
		}
	}
	return &FileBlockDevice{f: f, size: size}, nil
}

// blockDeviceSize reads a block device's size in bytes via the
// BLKGETSIZE64 ioctl, the only way to learn it on Linux (a regular Stat
// always reports zero for block-special files).
func blockDeviceSize(f *os.File) (int64, error) {
	var size uint64
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, f.Fd(), unix.BLKGETSIZE64, uintptr(unsafe.Pointer(&size)))
	if errno != 0 {
		return 0, errno
	}
	return int64(size), nil
}

func (d *FileBlockDevice) ReadAt(p []byte, off int64) (int, error)  { return d.f.ReadAt(p, off) }
func (d *FileBlockDevice) WriteAt(p []byte, off int64) (int, error) { return d.f.WriteAt(p, off) }
func (d *FileBlockDevice) Size() int64                              { return d.size }
func (d *FileBlockDevice) Close() error                             { return d.f.Close() }
