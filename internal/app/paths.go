package app

import (
	"os"
	"path/filepath"
	"strconv"
)

// DirName is the per-project state directory under the project root.
const DirName = ".slnfix"

// Paths holds all resolved filesystem paths for the .slnfix/ project directory.
type Paths struct {
	Root   string // .slnfix/
	DB     string // .slnfix/slnfix.db
	Config string // .slnfix/config.yaml
	Status string // .slnfix/status.json

	LogDir    string // .slnfix/log/
	DaemonLog string // .slnfix/log/daemon.log

	RunDir   string // .slnfix/run/
	PIDFile  string // .slnfix/run/daemon.pid
	HTTPPort string // .slnfix/run/http.port
}

// NewPaths constructs all resolved paths from a project root directory.
func NewPaths(projectRoot string) *Paths {
	root := filepath.Join(projectRoot, DirName)
	return &Paths{
		Root:   root,
		DB:     filepath.Join(root, "slnfix.db"),
		Config: filepath.Join(root, "config.yaml"),
		Status: filepath.Join(root, "status.json"),

		LogDir:    filepath.Join(root, "log"),
		DaemonLog: filepath.Join(root, "log", "daemon.log"),

		RunDir:   filepath.Join(root, "run"),
		PIDFile:  filepath.Join(root, "run", "daemon.pid"),
		HTTPPort: filepath.Join(root, "run", "http.port"),
	}
}

// EnsureDirs creates all subdirectories under .slnfix/. Idempotent.
func (p *Paths) EnsureDirs() error {
	for _, d := range []string{p.Root, p.LogDir, p.RunDir} {
		if err := os.MkdirAll(d, 0755); err != nil {
			return err
		}
	}
	return nil
}

// WritePID records pid in the run directory.
func (p *Paths) WritePID(pid int) error {
	return os.WriteFile(p.PIDFile, []byte(strconv.Itoa(pid)), 0644)
}

// ReadPID returns the recorded daemon pid, or 0 when none is recorded.
func (p *Paths) ReadPID() int {
	data, err := os.ReadFile(p.PIDFile)
	if err != nil {
		return 0
	}
	pid, err := strconv.Atoi(string(data))
	if err != nil {
		return 0
	}
	return pid
}

// CleanEphemeral removes ephemeral runtime files.
// Called on clean daemon shutdown.
func (p *Paths) CleanEphemeral() {
	os.Remove(p.PIDFile)
	os.Remove(p.HTTPPort)
}
