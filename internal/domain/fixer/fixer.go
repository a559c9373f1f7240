// Package fixer keeps a project's solution file and project files in line with
// the naming and output-path conventions. It owns the pause-around-write
// protocol with the watcher: every rewrite happens while watcher delivery is
// paused, so the fixer never reacts to its own writes.
//
// All fixes are idempotent. A file that already conforms is never written, so
// a second pass over the same content produces no write and no event.
package fixer

import (
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/corey/slnfix/internal/ports"
)

// ErrSolutionNotFound is returned when <root>/<base(root)><ext> does not exist.
var ErrSolutionNotFound = errors.New("solution file not found")

// Default directive rewritten in project files.
const (
	DeprecatedOutputPath = `<OutputPath>Temp\bin\Debug\</OutputPath>`
	CanonicalOutputPath  = `<OutputPath>Library\ScriptAssemblies\</OutputPath>`
)

// DefaultRules is the project-file rule set used when none is configured.
func DefaultRules() []ports.Rule {
	return []ports.Rule{{Deprecated: DeprecatedOutputPath, Canonical: CanonicalOutputPath}}
}

// Config holds the fixer's collaborators. Root, FS and Replacer are required.
type Config struct {
	Root      string
	ProjectID string // journal namespace; defaults to base(Root)
	FS        ports.FileSystem
	Watcher   ports.Pauser // nil: writes are not bracketed
	Replacer  ports.TextReplacer
	Journal   ports.Journal // nil: fixes are only logged
	Logger    *slog.Logger

	SolutionExt string // default ".sln"
	ProjectExt  string // default ".csproj"

	// PreserveProjectModTime restores a project file's mtime after a rewrite,
	// as is always done for the solution file. Off by default.
	PreserveProjectModTime bool
}

// Result describes the outcome of fixing one file.
type Result struct {
	Path    string        `json:"path"`
	Kind    ports.FixKind `json:"kind"`
	Fixed   int           `json:"fixed"`
	Written bool          `json:"written"`
}

// Summary is the outcome of a full pass.
type Summary struct {
	Solution *Result  `json:"solution,omitempty"` // nil when the solution file is missing
	Projects []Result `json:"projects"`
}

// Fixed returns the total number of corrections across the pass.
func (s Summary) Fixed() int {
	n := 0
	if s.Solution != nil {
		n += s.Solution.Fixed
	}
	for _, p := range s.Projects {
		n += p.Fixed
	}
	return n
}

// Fixer applies the solution and project rules. Not safe for concurrent use:
// callers serialize passes (the app runs them on a single-threaded queue).
type Fixer struct {
	root                 string
	projectID            string
	fs                   ports.FileSystem
	watcher              ports.Pauser
	replacer             ports.TextReplacer
	journal              ports.Journal
	logger               *slog.Logger
	solutionExt          string
	projectExt           string
	preserveProjectMTime bool

	solutionRule *SolutionRule
}

// New creates a Fixer from cfg, filling defaults.
func New(cfg Config) *Fixer {
	if cfg.SolutionExt == "" {
		cfg.SolutionExt = ".sln"
	}
	if cfg.ProjectExt == "" {
		cfg.ProjectExt = ".csproj"
	}
	if cfg.ProjectID == "" {
		cfg.ProjectID = filepath.Base(cfg.Root)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Watcher == nil {
		cfg.Watcher = nopPauser{}
	}
	return &Fixer{
		root:                 cfg.Root,
		projectID:            cfg.ProjectID,
		fs:                   cfg.FS,
		watcher:              cfg.Watcher,
		replacer:             cfg.Replacer,
		journal:              cfg.Journal,
		logger:               cfg.Logger.With("component", "fixer"),
		solutionExt:          cfg.SolutionExt,
		projectExt:           cfg.ProjectExt,
		preserveProjectMTime: cfg.PreserveProjectModTime,
		solutionRule:         NewSolutionRule(cfg.ProjectExt),
	}
}

// SetReplacer swaps the project-file rule set. Call it between passes.
func (f *Fixer) SetReplacer(r ports.TextReplacer) {
	f.replacer = r
}

// SetPreserveProjectModTime toggles mtime restoration for project files.
func (f *Fixer) SetPreserveProjectModTime(v bool) {
	f.preserveProjectMTime = v
}

// SolutionPath locates <root>/<base(root)><ext>.
func (f *Fixer) SolutionPath() (string, error) {
	name := filepath.Base(f.root) + f.solutionExt
	p := filepath.Join(f.root, name)
	if !f.fs.Exists(p) {
		return "", fmt.Errorf("%w: %s", ErrSolutionNotFound, p)
	}
	return p, nil
}

// FixSolution corrects project declarations in the solution file at path.
// The file is written only when at least one declaration changed, and its
// last-modified time is restored afterwards.
func (f *Fixer) FixSolution(path string) (Result, error) {
	res := Result{Path: path, Kind: ports.FixSolution}

	data, err := f.fs.ReadFile(path)
	if err != nil {
		return res, fmt.Errorf("read solution %s: %w", path, err)
	}

	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	lines, fixed := f.solutionRule.FixLines(SplitLines(string(data)), name)
	if fixed == 0 {
		return res, nil
	}

	if err := f.write(path, []byte(JoinLines(lines)), true); err != nil {
		return res, err
	}
	res.Fixed = fixed
	res.Written = true

	f.logger.Info("fixed solution file", "path", path, "references", fixed)
	f.record(res)
	return res, nil
}

// FixProject replaces deprecated directives in the project file at path.
// The file is written only when a deprecated directive was present.
func (f *Fixer) FixProject(path string) (Result, error) {
	res := Result{Path: path, Kind: ports.FixProject}

	data, err := f.fs.ReadFile(path)
	if err != nil {
		return res, fmt.Errorf("read project %s: %w", path, err)
	}

	text, replaced := f.replacer.ReplaceAll(string(data))
	if replaced == 0 {
		return res, nil
	}

	if err := f.write(path, []byte(text), f.preserveProjectMTime); err != nil {
		return res, err
	}
	res.Fixed = replaced
	res.Written = true

	f.logger.Info("fixed project file", "path", path, "directives", replaced)
	f.record(res)
	return res, nil
}

// FixProjects runs FixProject on every project file directly inside root.
// A failing file does not stop the others; errors are joined.
func (f *Fixer) FixProjects() ([]Result, error) {
	files, err := f.fs.ListFiles(f.root)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", f.root, err)
	}

	var results []Result
	var errs []error
	for _, p := range files {
		if !strings.HasSuffix(p, f.projectExt) {
			continue
		}
		res, err := f.FixProject(p)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		results = append(results, res)
	}
	return results, errors.Join(errs...)
}

// FixAll is the full pass run at startup and on "fix now": the solution file
// first, then every project file. A missing solution file is logged and does
// not stop project fixing.
func (f *Fixer) FixAll() (Summary, error) {
	var sum Summary
	var errs []error

	if sln, err := f.SolutionPath(); err != nil {
		f.logger.Error("solution file not found", "path", filepath.Join(f.root, filepath.Base(f.root)+f.solutionExt))
	} else {
		res, err := f.FixSolution(sln)
		if err != nil {
			errs = append(errs, err)
		} else {
			sum.Solution = &res
		}
	}

	projects, err := f.FixProjects()
	sum.Projects = projects
	if err != nil {
		errs = append(errs, err)
	}
	return sum, errors.Join(errs...)
}

// write replaces path's content with the watcher paused. With preserveMTime
// the original last-modified time is captured first and restored after the
// write. Resume runs even when the write fails.
func (f *Fixer) write(path string, data []byte, preserveMTime bool) error {
	var mtime time.Time
	if preserveMTime {
		t, err := f.fs.ModTime(path)
		if err != nil {
			return fmt.Errorf("stat %s: %w", path, err)
		}
		mtime = t
	}

	f.watcher.Pause()
	err := f.fs.WriteFile(path, data)
	if err == nil && preserveMTime {
		err = f.fs.SetModTime(path, mtime)
	}
	if rerr := f.watcher.Resume(); rerr != nil {
		f.logger.Warn("resume watcher", "error", rerr)
	}

	if err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

func (f *Fixer) record(res Result) {
	if f.journal == nil {
		return
	}
	rec := ports.FixRecord{Path: res.Path, Kind: res.Kind, Fixed: res.Fixed, At: time.Now()}
	if err := f.journal.Record(f.projectID, rec); err != nil {
		f.logger.Warn("journal fix", "path", res.Path, "error", err)
	}
}

type nopPauser struct{}

func (nopPauser) Pause()        {}
func (nopPauser) Resume() error { return nil }
