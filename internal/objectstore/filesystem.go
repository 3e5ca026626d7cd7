package objectstore

import (
	"os"
	"path/filepath"
)

// WriteFileAtomic writes data to a temp file in tmpDir and renames it over
// path, so readers observe either the old or the new content. tmpDir must be
// on the same filesystem as path.
func WriteFileAtomic(tmpDir string, path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(tmpDir, "put-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}

	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	return nil
}
