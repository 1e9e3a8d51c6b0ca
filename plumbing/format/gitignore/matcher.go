package gitignore

import "errors"

var errMalformedClass = errors.New("malformed character class")

// Matcher defines a global multi-pattern matcher for gitignore patterns.
type Matcher interface {
	// Match matches patterns in the order of priorities. As soon as an
	// inclusion or exclusion is found, not further matching is performed.
	Match(path []string, isDir bool) bool
}

// NewMatcher constructs a new matcher. Patterns must be given in the order
// of increasing priority: the last match wins, and patterns from nearer
// ignore files must come after those from farther ones.
func NewMatcher(ps []Pattern) Matcher {
	return &matcher{ps}
}

type matcher struct {
	patterns []Pattern
}

func (m *matcher) Match(path []string, isDir bool) bool {
	n := len(m.patterns)
	for i := n - 1; i >= 0; i-- {
		if match := m.patterns[i].Match(path, isDir); match > NoMatch {
			return match == Exclude
		}
	}
	return false
}
