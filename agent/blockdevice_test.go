package agent

import "testing"

// memDevice is an in-memory BlockDevice for tests that don't need a real
// file on disk.
type memDevice struct {
	data []byte
}

func newMemDevice(size int) *memDevice {
	return &memDevice{data: make([]byte, size)}
}

func (d *memDevice) ReadAt(p []byte, off int64) (int, error) {
	n := copy(p, d.data[off:])
	return n, nil
}

func (d *memDevice) WriteAt(p []byte, off int64) (int, error) {
	n := copy(d.data[off:], p)
	return n, nil
}

func (d *memDevice) Size() int64 { return int64(len(d.data)) }

func TestMemDeviceRoundTrip(t *testing.T) {
	dev := newMemDevice(16)
	if _, err := dev.WriteAt([]byte("hello"), 4); err != nil {
		t.Fatalf("WriteAt: %v", err)
	}
	buf := make([]byte, 5)
	if _, err := dev.ReadAt(buf, 4); err != nil {
		t.Fatalf("ReadAt: %v", err)
	}
	if string(buf) != "hello" {
		t.Fatalf("got %q want hello", buf)
	}
}
