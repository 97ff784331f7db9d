package store

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// atomicWrite writes data to path by first writing to a uniquely-named
// sibling temporary file, then renaming it into place. On crash, path is
// guaranteed to be either absent, or to contain the complete previous or
// new contents; a stray tmp file may be left behind, never a partial path.
func atomicWrite(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmpPath := filepath.Join(dir, uuid.NewString()+".tmp")

	f, err := os.OpenFile(tmpPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("write temp file %s: %w", tmpPath, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close temp file %s: %w", tmpPath, err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename %s to %s: %w", tmpPath, path, err)
	}
	return nil
}
