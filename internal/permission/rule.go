package permission

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
)

// Pattern specificity classes, most specific first. Within a class, longer
// literal content wins; across equal specificity, the later source wins.
const (
	classExact  = 3 // no wildcards
	classPrefix = 2 // literal followed by a trailing * only
	classGlob   = 1 // wildcards elsewhere
	classAny    = 0 // bare catch-all
)

// Rule is one compiled permission rule. Rules are immutable after
// compilation.
type Rule struct {
	Kind    Kind
	Pattern string
	Action  Action

	re      *regexp.Regexp
	class   int
	literal int // count of non-wildcard characters, tiebreak inside a class
	rank    int // source rank: builtin 0, agent 1, project 2, session 3
	seq     int // insertion order within the merged set
}

// compileRule validates and prepares a rule for matching.
func compileRule(kind Kind, pattern string, action Action, rank, seq int) (Rule, error) {
	if pattern == "" {
		pattern = "*"
	}
	re, err := patternRegexp(pattern)
	if err != nil {
		return Rule{}, fmt.Errorf("pattern %q: %w", pattern, err)
	}
	class, literal := classify(pattern)
	return Rule{
		Kind:    kind,
		Pattern: pattern,
		Action:  action,
		re:      re,
		class:   class,
		literal: literal,
		rank:    rank,
		seq:     seq,
	}, nil
}

// patternRegexp converts a permission glob to an anchored regexp. `*` and
// `**` match any run of characters including path separators; `?` matches
// one character. Patterns match whole values.
func patternRegexp(pattern string) (*regexp.Regexp, error) {
	var b strings.Builder
	b.WriteString("^")
	for _, r := range pattern {
		switch r {
		case '*':
			b.WriteString(".*")
		case '?':
			b.WriteString(".")
		default:
			b.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	b.WriteString("$")
	re, err := regexp.Compile(b.String())
	if err != nil {
		return nil, err
	}
	return re, nil
}

func classify(pattern string) (class, literal int) {
	stripped := strings.Map(func(r rune) rune {
		if r == '*' || r == '?' {
			return -1
		}
		return r
	}, pattern)
	literal = len(stripped)

	if literal == 0 {
		return classAny, 0
	}
	if !strings.ContainsAny(pattern, "*?") {
		return classExact, literal
	}
	trimmed := strings.TrimRight(pattern, "*")
	if !strings.ContainsAny(trimmed, "*?") {
		return classPrefix, len(trimmed)
	}
	return classGlob, literal
}

// moreSpecific orders rules for the decision scan: higher class first, then
// more literal content, then later source, then later insertion.
func moreSpecific(a, b Rule) bool {
	if a.class != b.class {
		return a.class > b.class
	}
	if a.literal != b.literal {
		return a.literal > b.literal
	}
	if a.rank != b.rank {
		return a.rank > b.rank
	}
	return a.seq > b.seq
}

// matches reports whether the rule applies to a scope value. Path-scoped
// kinds also try the basename and the worktree-relative form so that
// patterns like "*.env" catch "./.env" and nested paths.
func (r Rule) matches(value, worktree string) bool {
	if r.re.MatchString(value) {
		return true
	}
	if !pathScoped[r.Kind] || value == "" {
		return false
	}
	cleaned := filepath.Clean(value)
	if cleaned != value && r.re.MatchString(cleaned) {
		return true
	}
	if base := filepath.Base(cleaned); base != cleaned && r.re.MatchString(base) {
		return true
	}
	if worktree != "" {
		abs := absolutize(cleaned, worktree)
		if abs != cleaned && r.re.MatchString(abs) {
			return true
		}
		if rel, err := filepath.Rel(worktree, abs); err == nil {
			if rel != cleaned && !strings.HasPrefix(rel, "..") && r.re.MatchString(rel) {
				return true
			}
		}
	}
	return false
}

func absolutize(path, worktree string) string {
	if filepath.IsAbs(path) {
		return filepath.Clean(path)
	}
	return filepath.Join(worktree, path)
}

// outsideWorktree reports whether a path-scoped value resolves outside the
// worktree root.
func outsideWorktree(value, worktree string) bool {
	if value == "" || worktree == "" {
		return false
	}
	abs := absolutize(value, worktree)
	root := filepath.Clean(worktree)
	if abs == root {
		return false
	}
	return !strings.HasPrefix(abs, root+string(filepath.Separator))
}
