package fingerprint

import (
	"fmt"
	"sort"
	"strings"
)

// LineDiff is the symmetric line-set difference between two texts.
type LineDiff struct {
	Added   []string
	Removed []string
}

// Diff computes the line-set difference between old and new. Line order and
// duplicates are ignored; the returned slices are sorted.
func Diff(old, new string) LineDiff {
	oldSet := lineSet(old)
	newSet := lineSet(new)

	var d LineDiff
	for l := range newSet {
		if _, ok := oldSet[l]; !ok {
			d.Added = append(d.Added, l)
		}
	}
	for l := range oldSet {
		if _, ok := newSet[l]; !ok {
			d.Removed = append(d.Removed, l)
		}
	}
	sort.Strings(d.Added)
	sort.Strings(d.Removed)
	return d
}

// Text joins every differing line with a single space.
func (d LineDiff) Text() string {
	lines := make([]string, 0, len(d.Added)+len(d.Removed))
	lines = append(lines, d.Added...)
	lines = append(lines, d.Removed...)
	return strings.Join(lines, " ")
}

// Empty reports whether the two texts had identical line sets.
func (d LineDiff) Empty() bool {
	return len(d.Added) == 0 && len(d.Removed) == 0
}

// Summary describes a content change in one short line: "initial capture"
// when there was no previous content, "+N -M lines" otherwise.
func Summary(old, new string) string {
	if old == "" {
		return "initial capture"
	}
	d := Diff(old, new)
	return fmt.Sprintf("+%d -%d lines", len(d.Added), len(d.Removed))
}

func lineSet(s string) map[string]struct{} {
	set := make(map[string]struct{})
	if s == "" {
		return set
	}
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.TrimSuffix(s, "\n")
	for _, l := range strings.Split(s, "\n") {
		set[l] = struct{}{}
	}
	return set
}
