// Package status summarizes fix activity for the slnfix daemon.
//
// The daemon writes a JSON status file after every pass so editors and
// scripts can show what was last corrected without talking to the socket.
package status

import (
	"encoding/json"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/corey/slnfix/internal/domain/fixer"
)

// StatusFile is the filename within the .slnfix directory where status JSON is written.
const StatusFile = "status.json"

// StatusData is the JSON payload written to the status file.
type StatusData struct {
	Root       string   `json:"root"`
	Watching   bool     `json:"watching"`
	Passes     int      `json:"passes"`
	TotalFixed int      `json:"total_fixed"`
	LastPass   *Pass    `json:"last_pass,omitempty"`
	TopFiles   []string `json:"top_files"`
}

// Pass describes one completed fix pass.
type Pass struct {
	At     time.Time `json:"at"`
	Files  int       `json:"files"`  // files written
	Fixed  int       `json:"fixed"`  // corrections applied
	Failed bool      `json:"failed"` // the pass returned an error
}

// Tracker accumulates pass outcomes. Safe for concurrent use.
type Tracker struct {
	mu      sync.Mutex
	passes  int
	total   int
	last    *Pass
	perFile map[string]int
}

// NewTracker returns an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{perFile: make(map[string]int)}
}

// Observe records a pass that produced results and err.
func (t *Tracker) Observe(at time.Time, results []fixer.Result, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	p := &Pass{At: at, Failed: err != nil}
	for _, r := range results {
		if !r.Written {
			continue
		}
		p.Files++
		p.Fixed += r.Fixed
		t.perFile[r.Path] += r.Fixed
	}
	t.passes++
	t.total += p.Fixed
	t.last = p
}

// LastPass returns a copy of the most recent pass, or nil before the first.
func (t *Tracker) LastPass() *Pass {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.last == nil {
		return nil
	}
	p := *t.last
	return &p
}

// TotalFixed returns the corrections applied since the tracker was created.
func (t *Tracker) TotalFixed() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.total
}

// Generate produces a StatusData from the tracker state.
func (t *Tracker) Generate(root string, watching bool) *StatusData {
	t.mu.Lock()
	defer t.mu.Unlock()

	sd := &StatusData{
		Root:       root,
		Watching:   watching,
		Passes:     t.passes,
		TotalFixed: t.total,
		TopFiles:   topFiles(t.perFile, 3),
	}
	if t.last != nil {
		p := *t.last
		sd.LastPass = &p
	}
	return sd
}

// WriteJSON writes the status data as JSON to a file. Readers never see a
// partial file: the data goes to a sibling temp file that is renamed over path.
func WriteJSON(path string, data *StatusData) error {
	b, err := json.Marshal(data)
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, b, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// topFiles returns the n most-corrected paths, ties broken by path.
func topFiles(perFile map[string]int, n int) []string {
	if len(perFile) == 0 {
		return nil
	}

	type fc struct {
		path  string
		fixed int
	}

	files := make([]fc, 0, len(perFile))
	for p, c := range perFile {
		if c > 0 {
			files = append(files, fc{p, c})
		}
	}

	sort.Slice(files, func(i, j int) bool {
		if files[i].fixed != files[j].fixed {
			return files[i].fixed > files[j].fixed
		}
		return files[i].path < files[j].path
	})

	limit := n
	if limit > len(files) {
		limit = len(files)
	}

	result := make([]string, limit)
	for i := 0; i < limit; i++ {
		result[i] = files[i].path
	}
	return result
}
