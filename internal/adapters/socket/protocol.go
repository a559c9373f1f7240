// Package socket implements a JSON-over-Unix-socket protocol for the slnfix daemon.
// The protocol uses newline-delimited JSON: each message is one JSON object + \n.
package socket

import (
	"crypto/sha256"
	"fmt"
	"path/filepath"
	"time"

	"github.com/corey/slnfix/internal/ports"
)

// SocketPath returns the Unix socket path for a given project root.
// Format: /tmp/slnfix-{first12hex}.sock
func SocketPath(projectRoot string) string {
	abs, err := filepath.Abs(projectRoot)
	if err != nil {
		abs = projectRoot
	}
	h := sha256.Sum256([]byte(abs))
	return fmt.Sprintf("/tmp/slnfix-%x.sock", h[:6])
}

// Method names for the protocol.
const (
	MethodFix      = "fix"
	MethodStatus   = "status"
	MethodHistory  = "history"
	MethodReload   = "reload"
	MethodShutdown = "shutdown"
)

// Request is the wire format for client-to-server messages.
type Request struct {
	ID     string      `json:"id"`
	Method string      `json:"method"`
	Params interface{} `json:"params,omitempty"`
}

// Response is the wire format for server-to-client messages.
type Response struct {
	ID     string      `json:"id"`
	Result interface{} `json:"result,omitempty"`
	Error  string      `json:"error,omitempty"`
}

// FileResult is the outcome of fixing one file.
type FileResult struct {
	Path    string        `json:"path"`
	Kind    ports.FixKind `json:"kind"`
	Fixed   int           `json:"fixed"`
	Written bool          `json:"written"`
}

// FixResult is the result of a fix request: one full pass over the project.
type FixResult struct {
	Solution *FileResult  `json:"solution,omitempty"` // nil when the solution file is missing
	Projects []FileResult `json:"projects"`
	Fixed    int          `json:"fixed"`
	Elapsed  string       `json:"elapsed"`
	Errors   []string     `json:"errors,omitempty"`
}

// QueueStatus mirrors the idle queue counters.
type QueueStatus struct {
	Pending   int    `json:"pending"`
	Ran       uint64 `json:"ran"`
	Failed    uint64 `json:"failed"`
	Coalesced uint64 `json:"coalesced"`
}

// StatusResult is the result of a status request.
type StatusResult struct {
	Root          string      `json:"root"`
	Solution      string      `json:"solution"`
	SolutionFound bool        `json:"solution_found"`
	Watching      bool        `json:"watching"`
	Paused        bool        `json:"paused"`
	Rules         int         `json:"rules"`
	Uptime        string      `json:"uptime"`
	LastPass      time.Time   `json:"last_pass,omitempty"`
	TotalFixed    int         `json:"total_fixed"`
	Queue         QueueStatus `json:"queue"`
}

// HistoryParams is the params for a history request.
type HistoryParams struct {
	Limit int `json:"limit"`
}

// HistoryResult is the result of a history request, newest first.
type HistoryResult struct {
	Records []ports.FixRecord `json:"records"`
	Count   int               `json:"count"`
}

// ReloadResult is the result of a reload request.
type ReloadResult struct {
	Rules    int    `json:"rules"`
	Settle   string `json:"settle"`
	Watching bool   `json:"watching"`
}
