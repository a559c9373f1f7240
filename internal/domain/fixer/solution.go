package fixer

import (
	"path"
	"regexp"
	"strings"
)

// projectLinePrefix marks a project declaration in a solution file.
const projectLinePrefix = `Project("{`

// SolutionRule rewrites project declarations in solution files so each
// declared name equals the base name of the project file it references:
//
//	Project("{FAE04EC0-…}") = "Old", "Sub\Core.csproj", "{…}"
//	Project("{FAE04EC0-…}") = "Core", "Sub\Core.csproj", "{…}"
type SolutionRule struct {
	re *regexp.Regexp
}

// NewSolutionRule builds the declaration pattern for project files ending in projectExt.
func NewSolutionRule(projectExt string) *SolutionRule {
	// 1: ` = "<name>",` fragment, 2: declared name, 3: referenced path without extension
	pattern := `^Project\("\{[^"]*\}"\)( = "([^"]*)",) "([^"]*)` + regexp.QuoteMeta(projectExt) + `"`
	return &SolutionRule{re: regexp.MustCompile(pattern)}
}

// FixLines returns the corrected lines and the number of declarations changed.
// The input slice is not modified. Declarations whose referenced base name
// equals solutionName are self-references and are left untouched. Lines that
// start like a declaration but do not match the pattern are skipped.
func (r *SolutionRule) FixLines(lines []string, solutionName string) ([]string, int) {
	out := make([]string, len(lines))
	copy(out, lines)

	fixed := 0
	for i, line := range out {
		if !strings.HasPrefix(line, projectLinePrefix) {
			continue
		}
		m := r.re.FindStringSubmatchIndex(line)
		if m == nil {
			continue
		}
		declared := line[m[4]:m[5]]
		base := projectBaseName(line[m[6]:m[7]])
		if base == solutionName || base == declared {
			continue
		}
		out[i] = line[:m[2]] + ` = "` + base + `",` + line[m[3]:]
		fixed++
	}
	return out, fixed
}

// projectBaseName returns the last element of a solution-relative path.
// Solution files use backslashes regardless of platform.
func projectBaseName(rel string) string {
	return path.Base(strings.ReplaceAll(rel, `\`, "/"))
}

// SplitLines splits text on "\n". A trailing "\r" stays on its line, so
// JoinLines(SplitLines(s)) == s for any s, CRLF files included.
func SplitLines(text string) []string {
	return strings.Split(text, "\n")
}

// JoinLines joins lines with "\n".
func JoinLines(lines []string) string {
	return strings.Join(lines, "\n")
}
