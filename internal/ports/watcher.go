package ports

// ChangeKind classifies a filesystem notification.
type ChangeKind int

const (
	// ChangeCreated is a new file appearing in the watched directory.
	ChangeCreated ChangeKind = iota

	// ChangeChanged covers content, size, and last-write/creation-time changes.
	ChangeChanged

	// ChangeRenamed is reported for the old name of a renamed file.
	ChangeRenamed

	// ChangeDeleted is a file removal. Deletions never reach subscribers.
	ChangeDeleted
)

// String returns the change kind name.
func (k ChangeKind) String() string {
	switch k {
	case ChangeCreated:
		return "created"
	case ChangeChanged:
		return "changed"
	case ChangeRenamed:
		return "renamed"
	case ChangeDeleted:
		return "deleted"
	default:
		return "unknown"
	}
}

// ChangeEvent is a single notification for one file. It is consumed once.
type ChangeEvent struct {
	Kind ChangeKind
	Path string // absolute
}

// Category selects which subscriber list receives an event.
type Category int

const (
	// CategorySolution receives paths ending in the solution extension.
	CategorySolution Category = iota

	// CategoryProject receives paths ending in the project extension.
	CategoryProject
)

// String returns the category name used in logs.
func (c Category) String() string {
	switch c {
	case CategorySolution:
		return "solution"
	case CategoryProject:
		return "project"
	default:
		return "unknown"
	}
}

// SubscriptionID identifies a registered handler for Unsubscribe.
type SubscriptionID uint64

// Pauser lets a writer hide its own changes from the watcher.
// Pause keeps the OS handle open; Resume restarts the watch if no handle exists.
type Pauser interface {
	Pause()
	Resume() error
}

// DirWatcher monitors a single directory (non-recursive) and fans out
// change notifications to per-category subscribers.
type DirWatcher interface {
	Pauser

	// Start replaces any active watch with a fresh one. Safe to call repeatedly.
	// Failure to create the OS watch is returned and not retried.
	Start() error

	// Stop releases the OS handle. Subscribers stay registered.
	// Safe to call multiple times and before Start.
	Stop() error

	// Subscribe registers a handler. Handlers in one category run in
	// registration order, on the watcher's delivery goroutine.
	Subscribe(cat Category, handler func(path string)) SubscriptionID

	// Unsubscribe removes a handler. Unknown IDs are ignored.
	Unsubscribe(id SubscriptionID)

	// Watching reports whether an OS handle is currently open.
	Watching() bool
}
