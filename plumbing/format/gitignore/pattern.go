// Package gitignore implements ignore-file semantics: pattern parsing and
// matching, and the loading of global, repository and per-directory ignore
// files.
package gitignore

import "strings"

// MatchResult defines outcomes of a match, no match, exclusion or inclusion.
type MatchResult int

const (
	// NoMatch defines the no match outcome of a match check
	NoMatch MatchResult = iota
	// Exclude defines an exclusion of a file as a result of a match check
	Exclude
	// Include defines an explicit inclusion of a file as a result of a match check
	Include
)

const (
	inclusionPrefix = "!"
	zeroToManyDirs  = "**"
	patternDirSep   = "/"
)

// Pattern defines a single gitignore pattern.
type Pattern interface {
	// Match matches the given path to the pattern.
	Match(path []string, isDir bool) MatchResult
}

type pattern struct {
	domain    []string
	pattern   []string
	inclusion bool
	dirOnly   bool
	isGlob    bool
}

// ParsePattern parses a gitignore pattern string into the Pattern structure.
// The domain is the path of the directory the pattern was read in, split on
// `/`; nearer domains bind the pattern to their subtree.
func ParsePattern(p string, domain []string) Pattern {
	res := pattern{domain: domain}

	if strings.HasPrefix(p, inclusionPrefix) {
		res.inclusion = true
		p = p[1:]
	}

	if !strings.HasSuffix(p, "\\ ") {
		p = strings.TrimRight(p, " ")
	}

	if strings.HasSuffix(p, patternDirSep) {
		res.dirOnly = true
		p = p[:len(p)-1]
	}

	if strings.Contains(p, patternDirSep) {
		res.isGlob = true
	}

	res.pattern = strings.Split(p, patternDirSep)
	return &res
}

func (p *pattern) Match(path []string, isDir bool) MatchResult {
	if len(path) <= len(p.domain) {
		return NoMatch
	}
	for i, e := range p.domain {
		if path[i] != e {
			return NoMatch
		}
	}

	path = path[len(p.domain):]
	if p.isGlob && !p.globMatch(path, isDir) {
		return NoMatch
	} else if !p.isGlob && !p.simpleNameMatch(path, isDir) {
		return NoMatch
	}

	if p.inclusion {
		return Include
	}

	return Exclude
}

// simpleNameMatch matches a pattern without `/` against any path component.
func (p *pattern) simpleNameMatch(path []string, isDir bool) bool {
	for i, name := range path {
		if match, err := wildmatch(p.pattern[0], name); err != nil || !match {
			continue
		}

		if p.dirOnly && !isDir && i == len(path)-1 {
			return false
		}

		return true
	}

	return false
}

// globMatch matches an anchored pattern, component by component, honoring
// `**` spans.
func (p *pattern) globMatch(path []string, isDir bool) bool {
	matched := false
	canTraverse := false
	for i, pattern := range p.pattern {
		if pattern == "" {
			canTraverse = false
			continue
		}

		if pattern == zeroToManyDirs {
			if i == len(p.pattern)-1 {
				break
			}

			canTraverse = true
			continue
		}

		if strings.Contains(pattern, zeroToManyDirs) {
			return false
		}

		if len(path) == 0 {
			return false
		}

		if canTraverse {
			canTraverse = false
			for len(path) > 0 {
				e := path[0]
				path = path[1:]
				if match, err := wildmatch(pattern, e); err != nil {
					return false
				} else if match {
					matched = true
					break
				} else if len(path) == 0 {
					// if nothing left then fail
					matched = false
				}
			}
		} else {
			if match, err := wildmatch(pattern, path[0]); err != nil || !match {
				return false
			}

			matched = true
			path = path[1:]
		}
	}

	if matched && p.dirOnly && !isDir && len(path) == 0 {
		matched = false
	}

	return matched
}

// wildmatch matches a single path component against a shell pattern with
// `*`, `?` and character classes. A malformed class reports an error.
func wildmatch(pattern, name string) (bool, error) {
	px, nx := 0, 0
	backPx, backNx := -1, -1

	for nx < len(name) {
		if px < len(pattern) {
			switch pattern[px] {
			case '*':
				backPx, backNx = px, nx
				px++
				continue
			case '?':
				px++
				nx++
				continue
			case '[':
				ok, skip, err := matchClass(pattern[px:], name[nx])
				if err != nil {
					return false, err
				}

				if ok {
					px += skip
					nx++
					continue
				}
			case '\\':
				if px+1 < len(pattern) && pattern[px+1] == name[nx] {
					px += 2
					nx++
					continue
				}
			default:
				if pattern[px] == name[nx] {
					px++
					nx++
					continue
				}
			}
		}

		if backPx >= 0 {
			backNx++
			px, nx = backPx+1, backNx
			continue
		}

		return false, nil
	}

	for px < len(pattern) && pattern[px] == '*' {
		px++
	}

	return px == len(pattern), nil
}

// matchClass matches one byte against the character class starting at
// pattern[0] == '['. It returns whether the byte matched and how many
// pattern bytes the class spans.
func matchClass(pattern string, c byte) (bool, int, error) {
	// find closing bracket, honoring a leading `!` and a literal first `]`
	i := 1
	negate := false
	if i < len(pattern) && (pattern[i] == '!' || pattern[i] == '^') {
		negate = true
		i++
	}

	start := i
	for i < len(pattern) && (i == start || pattern[i] != ']') {
		i++
	}

	if i >= len(pattern) {
		return false, 0, errMalformedClass
	}

	matched := false
	for j := start; j < i; j++ {
		if j+2 < i && pattern[j+1] == '-' {
			if pattern[j] <= c && c <= pattern[j+2] {
				matched = true
			}
			j += 2
			continue
		}

		if pattern[j] == c {
			matched = true
		}
	}

	if negate {
		matched = !matched
	}

	return matched, i + 1, nil
}
