// Package osfs implements ports.FileSystem on the local disk.
package osfs

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"
)

// FS is the local-disk file collaborator. The zero value is ready to use.
type FS struct{}

// New returns a local-disk file system.
func New() *FS {
	return &FS{}
}

// ReadFile returns the whole file.
func (FS) ReadFile(path string) ([]byte, error) {
	return os.ReadFile(path)
}

// WriteFile truncates and rewrites path in place, so the inode, owner and
// permissions of the existing file are kept.
func (FS) WriteFile(path string, data []byte) error {
	perm := os.FileMode(0644)
	if info, err := os.Stat(path); err == nil {
		perm = info.Mode().Perm()
	}
	return os.WriteFile(path, data, perm)
}

// ModTime returns the last-modified time.
func (FS) ModTime(path string) (time.Time, error) {
	info, err := os.Stat(path)
	if err != nil {
		return time.Time{}, err
	}
	return info.ModTime(), nil
}

// SetModTime sets the last-modified time. Access time is set to the same value.
func (FS) SetModTime(path string, t time.Time) error {
	if err := os.Chtimes(path, t, t); err != nil {
		return fmt.Errorf("set mtime: %w", err)
	}
	return nil
}

// Exists reports whether path is a regular file.
func (FS) Exists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

// ListFiles returns regular files directly inside dir, sorted by name.
func (FS) ListFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var files []string
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		files = append(files, filepath.Join(dir, e.Name()))
	}
	sort.Strings(files)
	return files, nil
}
