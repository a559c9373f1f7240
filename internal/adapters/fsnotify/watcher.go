// Package fsnotify implements ports.DirWatcher using github.com/fsnotify/fsnotify.
// It watches one project directory (non-recursive), drops deletions, and routes
// solution and project file paths to their subscribers. Delivery can be paused
// without closing the OS handle so the fixer can write invisibly.
package fsnotify

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/corey/slnfix/internal/ports"
	"github.com/fsnotify/fsnotify"
)

// Default drain windows applied on Resume.
const (
	DefaultResumeQuiet = 30 * time.Millisecond
	maxResumeDrain     = 500 * time.Millisecond
)

// Options configures which extensions map to which category.
type Options struct {
	SolutionExt string // default ".sln"
	ProjectExt  string // default ".csproj"
	// ResumeQuiet is how long the event stream must stay silent before a
	// Resume takes effect. Zero means DefaultResumeQuiet.
	ResumeQuiet time.Duration
	Logger      *slog.Logger
}

type subscription struct {
	id      ports.SubscriptionID
	handler func(path string)
}

// Watcher implements ports.DirWatcher using fsnotify.
// One mutex guards the handle, the paused flag, and both subscriber lists.
type Watcher struct {
	root        string
	solutionExt string
	projectExt  string
	resumeQuiet time.Duration
	logger      *slog.Logger

	mu     sync.Mutex
	fw     *fsnotify.Watcher
	done   chan struct{}
	resume chan struct{}
	paused bool
	// pauseGen counts Pause calls; resumeGen is pauseGen as of the latest
	// Resume. Delivery restarts only when they agree after a drain.
	pauseGen  uint64
	resumeGen uint64
	subs      map[ports.Category][]subscription
	nextID    ports.SubscriptionID
}

// NewWatcher creates a watcher for root. Nothing is watched until Start.
func NewWatcher(root string, opts Options) *Watcher {
	if opts.SolutionExt == "" {
		opts.SolutionExt = ".sln"
	}
	if opts.ProjectExt == "" {
		opts.ProjectExt = ".csproj"
	}
	if opts.ResumeQuiet <= 0 {
		opts.ResumeQuiet = DefaultResumeQuiet
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Watcher{
		root:        root,
		solutionExt: opts.SolutionExt,
		projectExt:  opts.ProjectExt,
		resumeQuiet: opts.ResumeQuiet,
		logger:      opts.Logger.With("component", "watcher"),
		subs:        make(map[ports.Category][]subscription),
	}
}

// Root returns the watched directory.
func (w *Watcher) Root() string {
	return w.root
}

// Start stops any existing watch and begins monitoring the root.
// Always leaves at most one active watch.
func (w *Watcher) Start() error {
	if err := w.Stop(); err != nil {
		w.logger.Warn("closing previous watch", "error", err)
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watch: %w", err)
	}
	if err := fw.Add(w.root); err != nil {
		fw.Close()
		return fmt.Errorf("watch %s: %w", w.root, err)
	}

	w.fw = fw
	w.done = make(chan struct{})
	w.resume = make(chan struct{}, 1)
	w.paused = false
	go w.loop(fw, w.done, w.resume)

	w.logger.Debug("watch started", "path", w.root)
	return nil
}

// Stop releases the OS handle. Safe to call multiple times and before Start.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.stopLocked()
}

func (w *Watcher) stopLocked() error {
	if w.fw == nil {
		return nil
	}
	close(w.done)
	err := w.fw.Close()
	w.fw = nil
	w.done = nil
	w.resume = nil
	w.paused = false
	w.logger.Debug("watch stopped", "path", w.root)
	return err
}

// Pause stops event delivery but keeps the handle open.
func (w *Watcher) Pause() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.fw != nil {
		w.paused = true
		w.pauseGen++
	}
}

// Resume re-enables delivery. It does not block: the event loop first
// discards everything already queued by the OS for writes made while paused,
// waits for the stream to stay quiet for ResumeQuiet, and only then clears
// the paused flag. A Pause in the meantime cancels the pending resume.
// If the handle is gone (stopped unexpectedly), it falls back to Start.
func (w *Watcher) Resume() error {
	w.mu.Lock()
	if w.fw != nil {
		if w.paused {
			w.resumeGen = w.pauseGen
			select {
			case w.resume <- struct{}{}:
			default:
			}
		}
		w.mu.Unlock()
		return nil
	}
	w.mu.Unlock()

	w.logger.Warn("resume without an active watch, restarting", "path", w.root)
	return w.Start()
}

// Watching reports whether an OS handle is open.
func (w *Watcher) Watching() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.fw != nil
}

// Paused reports whether delivery is currently suppressed, including the
// drain that follows a Resume.
func (w *Watcher) Paused() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.paused
}

// Subscribe registers handler for cat. Handlers run in registration order.
func (w *Watcher) Subscribe(cat ports.Category, handler func(path string)) ports.SubscriptionID {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.nextID++
	w.subs[cat] = append(w.subs[cat], subscription{id: w.nextID, handler: handler})
	return w.nextID
}

// Unsubscribe removes the handler registered under id.
func (w *Watcher) Unsubscribe(id ports.SubscriptionID) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for cat, list := range w.subs {
		for i, s := range list {
			if s.id != id {
				continue
			}
			kept := make([]subscription, 0, len(list)-1)
			kept = append(kept, list[:i]...)
			kept = append(kept, list[i+1:]...)
			w.subs[cat] = kept
			return
		}
	}
}

func (w *Watcher) loop(fw *fsnotify.Watcher, done, resume chan struct{}) {
	for {
		select {
		case event, ok := <-fw.Events:
			if !ok {
				return
			}
			w.handle(event, done)

		case <-resume:
			if !w.drain(fw, done) {
				return
			}
			w.mu.Lock()
			if w.done == done && w.resumeGen == w.pauseGen {
				w.paused = false
			}
			w.mu.Unlock()

		case err, ok := <-fw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("watch error", "error", err)

		case <-done:
			return
		}
	}
}

// drain discards events until none has arrived for resumeQuiet, bounded by
// maxResumeDrain. It reports false when the watch closed underneath it.
func (w *Watcher) drain(fw *fsnotify.Watcher, done chan struct{}) bool {
	quiet := time.NewTimer(w.resumeQuiet)
	defer quiet.Stop()
	limit := time.NewTimer(maxResumeDrain)
	defer limit.Stop()

	dropped := 0
	for {
		select {
		case _, ok := <-fw.Events:
			if !ok {
				return false
			}
			dropped++
			quiet.Reset(w.resumeQuiet)
		case err, ok := <-fw.Errors:
			if !ok {
				return false
			}
			w.logger.Warn("watch error", "error", err)
		case <-quiet.C:
			w.logger.Debug("resumed", "dropped", dropped)
			return true
		case <-limit.C:
			w.logger.Debug("resumed before the stream went quiet", "dropped", dropped)
			return true
		case <-done:
			return false
		}
	}
}

// handle drops events that arrive while paused or after this loop's
// handle was replaced, then dispatches.
func (w *Watcher) handle(event fsnotify.Event, done chan struct{}) {
	w.mu.Lock()
	stale := w.done != done
	paused := w.paused
	w.mu.Unlock()
	if stale || paused {
		return
	}
	w.dispatch(ports.ChangeEvent{Kind: kindOf(event.Op), Path: event.Name})
}

// dispatch routes one change to its subscribers. The handler lists are
// snapshotted under the lock and invoked outside it, so a handler may call
// back into the watcher.
func (w *Watcher) dispatch(ev ports.ChangeEvent) {
	switch ev.Kind {
	case ports.ChangeDeleted:
		return
	case ports.ChangeRenamed:
		// fsnotify reports the old name; the new name arrives as a create.
		if _, err := os.Lstat(ev.Path); err != nil {
			return
		}
	}

	if strings.HasSuffix(ev.Path, w.solutionExt) {
		w.fire(ports.CategorySolution, ev.Path)
	}
	if strings.HasSuffix(ev.Path, w.projectExt) {
		w.fire(ports.CategoryProject, ev.Path)
	}
}

func (w *Watcher) fire(cat ports.Category, path string) {
	w.mu.Lock()
	list := make([]subscription, len(w.subs[cat]))
	copy(list, w.subs[cat])
	w.mu.Unlock()

	for _, s := range list {
		s.handler(path)
	}
}

// kindOf maps an fsnotify op to a change kind. Removal takes precedence,
// then rename, so a combined op is never treated as a live file.
func kindOf(op fsnotify.Op) ports.ChangeKind {
	switch {
	case op.Has(fsnotify.Remove):
		return ports.ChangeDeleted
	case op.Has(fsnotify.Rename):
		return ports.ChangeRenamed
	case op.Has(fsnotify.Create):
		return ports.ChangeCreated
	default:
		return ports.ChangeChanged
	}
}
