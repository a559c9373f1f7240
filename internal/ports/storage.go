// Package ports holds what the fixer needs from the outside world: the
// directory watcher and its pause bracket, file access with modification
// times, the directive replacer, and the fix journal, plus the value types
// that cross those boundaries.
package ports

import "time"

// FixKind says which document type a fix applied to.
type FixKind string

const (
	FixSolution FixKind = "solution"
	FixProject  FixKind = "project"
)

// FixRecord describes one rewrite that reached disk.
type FixRecord struct {
	ID    string    `json:"id"`
	Path  string    `json:"path"`
	Kind  FixKind   `json:"kind"`
	Fixed int       `json:"fixed"` // references or directives corrected
	At    time.Time `json:"at"`
}

// Journal persists the history of applied fixes.
// The backing store (bbolt) is project-scoped: each projectID gets its own
// namespace. Writes are serialized by the adapter.
type Journal interface {
	// Record appends a fix to the project's history.
	Record(projectID string, rec FixRecord) error

	// Recent returns up to limit records, newest first.
	// limit <= 0 returns the whole history.
	Recent(projectID string, limit int) ([]FixRecord, error)

	// DeleteProject removes all history for a project.
	// Idempotent: deleting a nonexistent project is not an error.
	DeleteProject(projectID string) error
}
