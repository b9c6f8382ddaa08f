package render

import (
	"fmt"
	"os"
	"path/filepath"
)

// FileStore keeps artifacts as plain files under a single directory. The
// returned ref is the absolute path of the stored file.
type FileStore struct {
	dir string
}

// NewFileStore returns a store rooted at dir. The directory is created on
// first Put.
func NewFileStore(dir string) *FileStore {
	return &FileStore{dir: dir}
}

// Put writes data under name, replacing any previous artifact atomically.
func (s *FileStore) Put(name string, data []byte) (string, error) {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return "", fmt.Errorf("creating artifact dir: %w", err)
	}
	path, err := filepath.Abs(filepath.Join(s.dir, filepath.Base(name)))
	if err != nil {
		return "", err
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return "", fmt.Errorf("writing artifact: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("publishing artifact: %w", err)
	}
	return path, nil
}
