// Package classify assigns a severity to detected changes using keyword
// heuristics over content diffs and commit subjects.
package classify

import (
	"fmt"
	"strings"

	"github.com/joestump/skillwatch/internal/fingerprint"
)

// Classification is the severity tag assigned to a detected change.
type Classification string

const (
	Breaking Classification = "BREAKING"
	Additive Classification = "ADDITIVE"
	Cosmetic Classification = "COSMETIC"
	Error    Classification = "ERROR"
	None     Classification = "NONE"
)

// All lists every classification in report order.
var All = []Classification{Breaking, Additive, Cosmetic, Error, None}

// Parse converts s (case-insensitive) into a Classification.
func Parse(s string) (Classification, error) {
	c := Classification(strings.ToUpper(strings.TrimSpace(s)))
	for _, known := range All {
		if c == known {
			return c, nil
		}
	}
	return "", fmt.Errorf("unknown classification %q", s)
}

func (c Classification) String() string { return string(c) }

// Checked in order; the first family with a hit wins.
var (
	breakingKeywords = []string{
		"removed", "breaking", "deprecated", "no longer", "must now",
		"required", "mandatory",
	}
	additiveKeywords = []string{
		"new", "added", "now supports", "introducing", "optional",
		"can now", "also",
	}
	deprecationKeywords = []string{
		"deprecat", "removed", "breaking", "rename", "replace",
		"migrate", "backward compat", "backwards compat",
	}
)

// Content classifies a change from oldContent to newContent. No previous
// content means an initial capture, which is always ADDITIVE.
func Content(oldContent, newContent string) Classification {
	if oldContent == "" {
		return Additive
	}

	diff := strings.ToLower(fingerprint.Diff(oldContent, newContent).Text())
	if containsAny(diff, breakingKeywords) {
		return Breaking
	}
	if containsAny(diff, additiveKeywords) {
		return Additive
	}
	return Cosmetic
}

// Commit is the part of a commit the classifier looks at.
type Commit struct {
	Hash    string
	Subject string
}

// Deprecations returns the commits whose subject mentions a
// deprecation-style keyword.
func Deprecations(commits []Commit) []Commit {
	var flagged []Commit
	for _, c := range commits {
		if containsAny(strings.ToLower(c.Subject), deprecationKeywords) {
			flagged = append(flagged, c)
		}
	}
	return flagged
}

// Commits classifies a batch of commits from a source repository. Any
// deprecation-style subject escalates the whole batch to BREAKING.
func Commits(commits []Commit, watchedTouched bool) Classification {
	switch {
	case len(Deprecations(commits)) > 0:
		return Breaking
	case watchedTouched:
		return Additive
	case len(commits) > 0:
		return Cosmetic
	default:
		return None
	}
}

func containsAny(s string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(s, kw) {
			return true
		}
	}
	return false
}
