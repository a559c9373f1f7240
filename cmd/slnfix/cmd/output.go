package cmd

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/corey/slnfix/internal/adapters/socket"
	"github.com/corey/slnfix/internal/ports"
	"github.com/fatih/color"
)

var (
	bold   = color.New(color.Bold).SprintFunc()
	cyan   = color.New(color.FgCyan).SprintFunc()
	green  = color.New(color.FgGreen).SprintFunc()
	yellow = color.New(color.FgYellow).SprintFunc()
	red    = color.New(color.FgRed, color.Bold).SprintFunc()
	gray   = color.New(color.FgHiBlack).SprintFunc()
)

// displayPath shortens path relative to root when it lies inside it.
func displayPath(root, path string) string {
	if rel, err := filepath.Rel(root, path); err == nil && !strings.HasPrefix(rel, "..") {
		return rel
	}
	return path
}

func plural(n int, one, many string) string {
	if n == 1 {
		return fmt.Sprintf("%d %s", n, one)
	}
	return fmt.Sprintf("%d %s", n, many)
}

func unitFor(kind ports.FixKind, n int) string {
	if kind == ports.FixSolution {
		return plural(n, "reference", "references")
	}
	return plural(n, "directive", "directives")
}

// formatFixResult renders a pass summary:
//
//	⚡ 3 fixes │ 4 files checked │ 12ms
//	  ✓ MyProj.sln  2 references
//	  ✓ Assembly-CSharp.csproj  1 directive
func formatFixResult(root string, res *socket.FixResult) string {
	checked := len(res.Projects)
	if res.Solution != nil {
		checked++
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%s │ %s checked", bold("⚡ "+plural(res.Fixed, "fix", "fixes")), plural(checked, "file", "files")))
	if res.Elapsed != "" {
		sb.WriteString(" │ " + res.Elapsed)
	}
	sb.WriteString("\n")

	write := func(r socket.FileResult) {
		if !r.Written {
			return
		}
		sb.WriteString(fmt.Sprintf("  %s %s  %s\n", green("✓"), cyan(displayPath(root, r.Path)), unitFor(r.Kind, r.Fixed)))
	}
	if res.Solution != nil {
		write(*res.Solution)
	} else {
		sb.WriteString(fmt.Sprintf("  %s solution file not found\n", yellow("!")))
	}
	for _, p := range res.Projects {
		write(p)
	}
	for _, e := range res.Errors {
		sb.WriteString(fmt.Sprintf("  %s %s\n", red("✗"), e))
	}
	return sb.String()
}

// formatStatus renders a daemon status report.
func formatStatus(st *socket.StatusResult) string {
	var sb strings.Builder
	sb.WriteString(bold("⚡ slnfix daemon") + "\n")
	sb.WriteString(fmt.Sprintf("  Root:       %s\n", st.Root))

	sln := green("✓ ") + displayPath(st.Root, st.Solution)
	if !st.SolutionFound {
		sln = yellow("✗ missing ") + displayPath(st.Root, st.Solution)
	}
	sb.WriteString(fmt.Sprintf("  Solution:   %s\n", sln))

	watch := green("✓ watching")
	switch {
	case !st.Watching:
		watch = yellow("✗ not watching")
	case st.Paused:
		watch = yellow("paused")
	}
	sb.WriteString(fmt.Sprintf("  Watch:      %s\n", watch))
	sb.WriteString(fmt.Sprintf("  Rules:      %d\n", st.Rules))
	sb.WriteString(fmt.Sprintf("  Uptime:     %s\n", st.Uptime))
	sb.WriteString(fmt.Sprintf("  Fixed:      %d\n", st.TotalFixed))
	if !st.LastPass.IsZero() {
		sb.WriteString(fmt.Sprintf("  Last pass:  %s\n", st.LastPass.Local().Format(time.DateTime)))
	}
	sb.WriteString(fmt.Sprintf("  Queue:      %d pending, %d ran, %d failed, %d coalesced\n",
		st.Queue.Pending, st.Queue.Ran, st.Queue.Failed, st.Queue.Coalesced))
	return sb.String()
}

// formatHistory renders journal records, newest first.
func formatHistory(root string, recs []ports.FixRecord) string {
	if len(recs) == 0 {
		return gray("no fixes recorded") + "\n"
	}
	var sb strings.Builder
	for _, r := range recs {
		sb.WriteString(fmt.Sprintf("%s  %-8s %s  %s\n",
			gray(r.At.Local().Format(time.DateTime)),
			string(r.Kind),
			cyan(displayPath(root, r.Path)),
			unitFor(r.Kind, r.Fixed)))
	}
	return sb.String()
}
