package ports

// TextReplacer rewrites every occurrence of a fixed set of literal patterns
// in one pass. Matches do not overlap; at each position the longest pattern wins.
type TextReplacer interface {
	// ReplaceAll returns the rewritten text and how many occurrences were replaced.
	// When the count is zero the input is returned unchanged.
	ReplaceAll(text string) (string, int)
}

// Rule maps one deprecated literal to its canonical replacement.
type Rule struct {
	Deprecated string `yaml:"deprecated" json:"deprecated" validate:"required"`
	Canonical  string `yaml:"canonical" json:"canonical"`
}
