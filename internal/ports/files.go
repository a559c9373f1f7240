package ports

import "time"

// FileSystem is the host's file collaborator. Project files are small, so
// everything is whole-file and synchronous.
type FileSystem interface {
	ReadFile(path string) ([]byte, error)

	// WriteFile replaces the file contents, keeping its permissions.
	WriteFile(path string, data []byte) error

	ModTime(path string) (time.Time, error)
	SetModTime(path string, t time.Time) error

	// Exists reports whether path is an existing regular file.
	Exists(path string) bool

	// ListFiles returns the absolute paths of regular files directly inside
	// dir (no recursion), sorted by name.
	ListFiles(dir string) ([]string, error)
}
