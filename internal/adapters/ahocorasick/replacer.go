// Package ahocorasick rewrites literal directives in project files using an
// Aho-Corasick automaton. It wraps the petar-dambovaliev/aho-corasick library
// so every configured rule is found in a single pass over the text.
package ahocorasick

import (
	"errors"
	"fmt"
	"strings"

	"github.com/corey/slnfix/internal/ports"
	aho "github.com/petar-dambovaliev/aho-corasick"
)

// ErrUnstableRule is returned when a canonical directive contains a deprecated
// one. Such a rule set would rewrite its own output on every pass.
var ErrUnstableRule = errors.New("canonical directive contains a deprecated directive")

// Replacer implements ports.TextReplacer.
type Replacer struct {
	automaton aho.AhoCorasick
	rules     []ports.Rule
}

// NewReplacer compiles the automaton for rules. Rules must have a non-empty,
// unique deprecated literal, and no canonical literal may contain any
// deprecated literal.
func NewReplacer(rules []ports.Rule) (*Replacer, error) {
	seen := make(map[string]bool, len(rules))
	patterns := make([]string, len(rules))
	for i, r := range rules {
		if r.Deprecated == "" {
			return nil, fmt.Errorf("rule %d: empty deprecated directive", i)
		}
		if seen[r.Deprecated] {
			return nil, fmt.Errorf("rule %d: duplicate deprecated directive %q", i, r.Deprecated)
		}
		seen[r.Deprecated] = true
		patterns[i] = r.Deprecated
	}
	for i, r := range rules {
		for _, p := range patterns {
			if strings.Contains(r.Canonical, p) {
				return nil, fmt.Errorf("rule %d: %w: %q", i, ErrUnstableRule, p)
			}
		}
	}

	builder := aho.NewAhoCorasickBuilder(aho.Opts{
		MatchKind: aho.LeftMostLongestMatch,
		DFA:       true,
	})

	rs := make([]ports.Rule, len(rules))
	copy(rs, rules)
	return &Replacer{
		automaton: builder.Build(patterns),
		rules:     rs,
	}, nil
}

// ReplaceAll substitutes every deprecated directive with its canonical form.
// Text between matches is copied byte-for-byte. When one deprecated literal
// sits inside another, the automaton can report overlapping matches; on the
// first overlap the rest of the text is rescanned from the end of the last
// applied match.
func (r *Replacer) ReplaceAll(text string) (string, int) {
	if len(r.rules) == 0 {
		return text, 0
	}
	matches := r.automaton.FindAll(text)
	if len(matches) == 0 {
		return text, 0
	}

	var b strings.Builder
	b.Grow(len(text))
	n, last, base := 0, 0, 0
	for len(matches) > 0 {
		overlap := false
		for _, m := range matches {
			start := base + m.Start()
			if start < last {
				overlap = true
				break
			}
			b.WriteString(text[last:start])
			b.WriteString(r.rules[m.Pattern()].Canonical)
			last = base + m.End()
			n++
		}
		if !overlap {
			break
		}
		base = last
		matches = r.automaton.FindAll(text[last:])
	}
	b.WriteString(text[last:])
	return b.String(), n
}

// Rules returns a copy of the compiled rule set.
func (r *Replacer) Rules() []ports.Rule {
	rs := make([]ports.Rule, len(r.rules))
	copy(rs, r.rules)
	return rs
}
