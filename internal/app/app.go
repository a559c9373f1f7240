// Package app wires together all adapters and domain logic.
// It provides lifecycle management for the slnfix daemon: create, start,
// before-reload, reload, stop.
package app

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/corey/slnfix/internal/adapters/ahocorasick"
	"github.com/corey/slnfix/internal/adapters/bbolt"
	fsw "github.com/corey/slnfix/internal/adapters/fsnotify"
	"github.com/corey/slnfix/internal/adapters/osfs"
	"github.com/corey/slnfix/internal/adapters/socket"
	"github.com/corey/slnfix/internal/config"
	"github.com/corey/slnfix/internal/domain/fixer"
	"github.com/corey/slnfix/internal/domain/status"
	"github.com/corey/slnfix/internal/logging"
	"github.com/corey/slnfix/internal/ports"
)

// fullPassKey coalesces queued full passes.
const fullPassKey = "fix-all"

// App is the top-level container wiring all components together.
type App struct {
	ProjectRoot string
	ProjectID   string
	Paths       *Paths

	Store   *bbolt.Store
	Watcher *fsw.Watcher
	Fixer   *fixer.Fixer
	Queue   *IdleQueue
	Server  *socket.Server
	Tracker *status.Tracker

	logger *slog.Logger

	reloadMu sync.Mutex // serializes Reload
	mu       sync.Mutex // guards cfg, subs
	cfg     *config.Config
	subs    []ports.SubscriptionID
	started time.Time
}

// Config holds initialization parameters for the App.
type Config struct {
	ProjectRoot string
	ProjectID   string       // journal namespace (default: base of ProjectRoot)
	DBPath      string       // path to bbolt file (default: .slnfix/slnfix.db)
	ConfigPath  string       // path to YAML config (default: .slnfix/config.yaml)
	SocketPath  string       // control socket (default: socket.SocketPath(ProjectRoot))
	Logger      *slog.Logger // nil: built from the config's log section
	LogWriter   io.Writer    // destination for the built logger (default: stderr)
}

// New creates an App with all dependencies wired. Does not start services.
func New(cfg Config) (*App, error) {
	cfg, paths, err := resolve(cfg)
	if err != nil {
		return nil, err
	}

	pc, err := config.Load(cfg.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.New(pc.Log, cfg.LogWriter)
	}

	replacer, err := ahocorasick.NewReplacer(pc.Rules)
	if err != nil {
		return nil, fmt.Errorf("build rules: %w", err)
	}

	store, err := bbolt.NewStore(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	watcher := fsw.NewWatcher(cfg.ProjectRoot, fsw.Options{
		SolutionExt: pc.SolutionExt,
		ProjectExt:  pc.ProjectExt,
		Logger:      logger,
	})

	fx := fixer.New(fixer.Config{
		Root:                   cfg.ProjectRoot,
		ProjectID:              cfg.ProjectID,
		FS:                     osfs.New(),
		Watcher:                watcher,
		Replacer:               replacer,
		Journal:                store,
		Logger:                 logger,
		SolutionExt:            pc.SolutionExt,
		ProjectExt:             pc.ProjectExt,
		PreserveProjectModTime: pc.PreserveProjectMTime,
	})

	a := &App{
		ProjectRoot: cfg.ProjectRoot,
		ProjectID:   cfg.ProjectID,
		Paths:       paths,
		Store:       store,
		Watcher:     watcher,
		Fixer:       fx,
		Queue:       NewIdleQueue(pc.Settle, logger),
		Tracker:     status.NewTracker(),
		logger:      logger,
		cfg:         pc,
	}
	a.Server = socket.NewServer(cfg.SocketPath, a)
	return a, nil
}

// resolve fills defaults and creates the state directory.
func resolve(cfg Config) (Config, *Paths, error) {
	if cfg.ProjectRoot == "" {
		return cfg, nil, fmt.Errorf("project root required")
	}
	root, err := filepath.Abs(cfg.ProjectRoot)
	if err != nil {
		return cfg, nil, fmt.Errorf("resolve root: %w", err)
	}
	cfg.ProjectRoot = root
	if cfg.ProjectID == "" {
		cfg.ProjectID = filepath.Base(root)
	}

	paths := NewPaths(root)
	if err := paths.EnsureDirs(); err != nil {
		return cfg, nil, fmt.Errorf("create %s: %w", paths.Root, err)
	}
	if cfg.DBPath == "" {
		cfg.DBPath = paths.DB
	}
	if cfg.ConfigPath == "" {
		cfg.ConfigPath = paths.Config
	}
	if cfg.SocketPath == "" {
		cfg.SocketPath = socket.SocketPath(root)
	}
	return cfg, paths, nil
}

// Start brings the daemon up: socket, queue, handlers, watch, then the
// initial full pass on the queue. A watch that cannot be created is logged
// and not retried; the daemon still serves fix-now requests.
func (a *App) Start() error {
	if err := a.Server.Start(); err != nil {
		return fmt.Errorf("start server: %w", err)
	}
	a.mu.Lock()
	a.started = time.Now()
	a.mu.Unlock()

	a.Queue.Start()
	a.subscribe()

	if err := a.Watcher.Start(); err != nil {
		a.logger.Error("file watcher unavailable", "root", a.ProjectRoot, "error", err)
	}

	a.Queue.Defer(fullPassKey, a.fullPass)
	a.logger.Info("daemon started", "root", a.ProjectRoot, "socket", a.Server.Addr())
	return nil
}

// subscribe registers the category handlers once. Reloads reuse them.
func (a *App) subscribe() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.subs) > 0 {
		return
	}
	a.subs = append(a.subs,
		a.Watcher.Subscribe(ports.CategorySolution, a.onSolutionChanged),
		a.Watcher.Subscribe(ports.CategoryProject, a.onProjectChanged),
	)
}

// BeforeReload stops the watch ahead of a reload. Subscriptions stay registered.
func (a *App) BeforeReload() {
	if err := a.Watcher.Stop(); err != nil {
		a.logger.Warn("stop watcher", "error", err)
	}
}

// Reload re-reads the config, swaps the rule set between passes, and starts
// the watch again. Extension and settle changes take effect on restart.
func (a *App) Reload() error {
	a.reloadMu.Lock()
	defer a.reloadMu.Unlock()
	a.logger.Debug("reloading config", "path", a.Paths.Config)

	a.BeforeReload()

	pc, err := config.Load(a.Paths.Config)
	if err != nil {
		a.restartWatch()
		return fmt.Errorf("load config: %w", err)
	}
	replacer, err := ahocorasick.NewReplacer(pc.Rules)
	if err != nil {
		a.restartWatch()
		return fmt.Errorf("build rules: %w", err)
	}

	a.mu.Lock()
	prev := a.cfg
	a.mu.Unlock()
	if pc.SolutionExt != prev.SolutionExt || pc.ProjectExt != prev.ProjectExt || pc.Settle != prev.Settle {
		a.logger.Warn("extension or settle change needs a daemon restart",
			"solution_ext", pc.SolutionExt, "project_ext", pc.ProjectExt, "settle", pc.Settle)
		pc.SolutionExt, pc.ProjectExt, pc.Settle = prev.SolutionExt, prev.ProjectExt, prev.Settle
	}

	apply := func() error {
		a.Fixer.SetReplacer(replacer)
		a.Fixer.SetPreserveProjectModTime(pc.PreserveProjectMTime)
		return nil
	}
	// Swap on the queue so no pass sees half a config.
	if err := a.Queue.Do(apply); errors.Is(err, ErrQueueStopped) {
		apply()
	}

	a.mu.Lock()
	a.cfg = pc
	a.mu.Unlock()

	a.subscribe()
	a.restartWatch()
	a.Queue.Defer(fullPassKey, a.fullPass)
	a.logger.Info("config reloaded", "rules", len(pc.Rules))
	return nil
}

func (a *App) restartWatch() {
	if err := a.Watcher.Start(); err != nil {
		a.logger.Error("file watcher unavailable", "root", a.ProjectRoot, "error", err)
	}
}

// Stop gracefully shuts down all services and writes the final status.
func (a *App) Stop() error {
	if err := a.Watcher.Stop(); err != nil {
		a.logger.Warn("stop watcher", "error", err)
	}
	a.Server.Stop()
	a.Queue.Stop()
	a.writeStatus()
	a.logger.Info("daemon stopped", "root", a.ProjectRoot)
	return a.Store.Close()
}

// onSolutionChanged runs on the watcher's delivery goroutine and only enqueues.
func (a *App) onSolutionChanged(path string) {
	a.Queue.Defer(path, func() error {
		res, err := a.Fixer.FixSolution(path)
		return a.observe([]fixer.Result{res}, skipVanished(err))
	})
}

// onProjectChanged runs on the watcher's delivery goroutine and only enqueues.
func (a *App) onProjectChanged(path string) {
	a.Queue.Defer(path, func() error {
		res, err := a.Fixer.FixProject(path)
		return a.observe([]fixer.Result{res}, skipVanished(err))
	})
}

// skipVanished drops not-exist errors: the file went away between the event
// and the queued run, so there is nothing left to fix.
func skipVanished(err error) error {
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

func (a *App) fullPass() error {
	_, err := a.runFullPass()
	return err
}

func (a *App) runFullPass() (fixer.Summary, error) {
	sum, err := a.Fixer.FixAll()
	return sum, a.observe(summaryResults(sum), err)
}

// observe feeds a pass into the tracker and refreshes the status file.
func (a *App) observe(results []fixer.Result, err error) error {
	a.Tracker.Observe(time.Now(), results, err)
	a.writeStatus()
	return err
}

func (a *App) writeStatus() {
	data := a.Tracker.Generate(a.ProjectRoot, a.Watcher.Watching())
	if err := status.WriteJSON(a.Paths.Status, data); err != nil {
		a.logger.Warn("write status", "path", a.Paths.Status, "error", err)
	}
}

// FixNow runs a full pass on the queue, behind any pending event passes,
// and waits for it.
func (a *App) FixNow() (socket.FixResult, error) {
	var sum fixer.Summary
	err := a.Queue.Do(func() error {
		var err error
		sum, err = a.runFullPass()
		return err
	})
	if errors.Is(err, ErrQueueStopped) {
		return socket.FixResult{}, err
	}
	return toFixResult(sum, err), err
}

// ReloadConfig is the socket form of Reload.
func (a *App) ReloadConfig() (socket.ReloadResult, error) {
	if err := a.Reload(); err != nil {
		return socket.ReloadResult{}, err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	return socket.ReloadResult{
		Rules:    len(a.cfg.Rules),
		Settle:   a.cfg.Settle.String(),
		Watching: a.Watcher.Watching(),
	}, nil
}

// Status reports the daemon's current state.
func (a *App) Status() socket.StatusResult {
	a.mu.Lock()
	rules := len(a.cfg.Rules)
	started := a.started
	a.mu.Unlock()

	sln, err := a.Fixer.SolutionPath()
	found := err == nil
	if !found {
		sln = filepath.Join(a.ProjectRoot, filepath.Base(a.ProjectRoot)+a.Config().SolutionExt)
	}

	qs := a.Queue.Stats()
	st := socket.StatusResult{
		Root:          a.ProjectRoot,
		Solution:      sln,
		SolutionFound: found,
		Watching:      a.Watcher.Watching(),
		Paused:        a.Watcher.Paused(),
		Rules:         rules,
		TotalFixed:    a.Tracker.TotalFixed(),
		Queue: socket.QueueStatus{
			Pending:   qs.Pending,
			Ran:       qs.Ran,
			Failed:    qs.Failed,
			Coalesced: qs.Coalesced,
		},
	}
	if !started.IsZero() {
		st.Uptime = time.Since(started).Round(time.Second).String()
	}
	if last := a.Tracker.LastPass(); last != nil {
		st.LastPass = last.At
	}
	return st
}

// History returns up to limit journal records, newest first.
func (a *App) History(limit int) (socket.HistoryResult, error) {
	recs, err := a.Store.Recent(a.ProjectID, limit)
	if err != nil {
		return socket.HistoryResult{}, err
	}
	return socket.HistoryResult{Records: recs, Count: len(recs)}, nil
}

// Config returns the active configuration.
func (a *App) Config() config.Config {
	a.mu.Lock()
	defer a.mu.Unlock()
	return *a.cfg
}

// RunOnce performs a single full pass without starting the daemon: no watch,
// no queue, no socket. Used by `slnfix fix` when no daemon is running.
func RunOnce(cfg Config) (socket.FixResult, error) {
	cfg, _, err := resolve(cfg)
	if err != nil {
		return socket.FixResult{}, err
	}
	pc, err := config.Load(cfg.ConfigPath)
	if err != nil {
		return socket.FixResult{}, fmt.Errorf("load config: %w", err)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.New(pc.Log, cfg.LogWriter)
	}
	replacer, err := ahocorasick.NewReplacer(pc.Rules)
	if err != nil {
		return socket.FixResult{}, fmt.Errorf("build rules: %w", err)
	}
	store, err := bbolt.NewStore(cfg.DBPath)
	if err != nil {
		return socket.FixResult{}, fmt.Errorf("open store: %w", err)
	}
	defer store.Close()

	fx := fixer.New(fixer.Config{
		Root:                   cfg.ProjectRoot,
		ProjectID:              cfg.ProjectID,
		FS:                     osfs.New(),
		Replacer:               replacer,
		Journal:                store,
		Logger:                 logger,
		SolutionExt:            pc.SolutionExt,
		ProjectExt:             pc.ProjectExt,
		PreserveProjectModTime: pc.PreserveProjectMTime,
	})

	start := time.Now()
	sum, err := fx.FixAll()
	res := toFixResult(sum, err)
	res.Elapsed = time.Since(start).Round(time.Millisecond).String()
	return res, err
}

func summaryResults(sum fixer.Summary) []fixer.Result {
	results := make([]fixer.Result, 0, len(sum.Projects)+1)
	if sum.Solution != nil {
		results = append(results, *sum.Solution)
	}
	return append(results, sum.Projects...)
}

func toFileResult(r fixer.Result) socket.FileResult {
	return socket.FileResult{Path: r.Path, Kind: r.Kind, Fixed: r.Fixed, Written: r.Written}
}

func toFixResult(sum fixer.Summary, err error) socket.FixResult {
	out := socket.FixResult{
		Projects: make([]socket.FileResult, 0, len(sum.Projects)),
		Fixed:    sum.Fixed(),
	}
	if sum.Solution != nil {
		fr := toFileResult(*sum.Solution)
		out.Solution = &fr
	}
	for _, p := range sum.Projects {
		out.Projects = append(out.Projects, toFileResult(p))
	}
	out.Errors = errorMessages(err)
	return out
}

// errorMessages flattens a joined error into its messages.
func errorMessages(err error) []string {
	if err == nil {
		return nil
	}
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		var msgs []string
		for _, e := range joined.Unwrap() {
			msgs = append(msgs, errorMessages(e)...)
		}
		return msgs
	}
	return []string{err.Error()}
}
