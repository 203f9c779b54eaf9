// Package freshness reports skills whose sources have not been checked
// recently. It only reads the store and never blocks on the network.
package freshness

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/joestump/skillwatch/internal/config"
	"github.com/joestump/skillwatch/internal/store"
)

// DefaultThreshold is the age after which a source check is stale.
const DefaultThreshold = 7 * 24 * time.Hour

// ParseThreshold parses "7d", "24h" or a bare day count such as "14".
func ParseThreshold(s string) (time.Duration, error) {
	v := strings.ToLower(strings.TrimSpace(s))
	unit := 24 * time.Hour
	switch {
	case strings.HasSuffix(v, "d"):
		v = strings.TrimSuffix(v, "d")
	case strings.HasSuffix(v, "h"):
		v = strings.TrimSuffix(v, "h")
		unit = time.Hour
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid threshold %q", s)
	}
	return time.Duration(n) * unit, nil
}

// LastChecker reports when a source was last observed; *store.Store
// implements it.
type LastChecker interface {
	LastCheckedAt(source string) (string, error)
}

// SourceStatus is the freshness of one dependency.
type SourceStatus struct {
	Source      string `json:"source"`
	LastChecked string `json:"last_checked,omitempty"`
	AgeDays     *int   `json:"age_days"`
	Stale       bool   `json:"is_stale"`
}

// Result is the freshness of one skill. The oldest dependency check decides.
type Result struct {
	Skill         string         `json:"name"`
	Stale         bool           `json:"is_stale"`
	LastChecked   string         `json:"last_checked,omitempty"`
	StalenessDays *int           `json:"staleness_days"`
	Sources       []SourceStatus `json:"sources,omitempty"`
	Message       string         `json:"message,omitempty"`
}

// Checker evaluates skills of a watchlist against a threshold.
type Checker struct {
	checks    LastChecker
	watchlist *config.Watchlist
	threshold time.Duration
	now       func() time.Time
}

// Option configures a Checker.
type Option func(*Checker)

// WithClock overrides the current time.
func WithClock(now func() time.Time) Option {
	return func(c *Checker) { c.now = now }
}

// NewChecker creates a Checker. A zero threshold means DefaultThreshold.
func NewChecker(checks LastChecker, w *config.Watchlist, threshold time.Duration, opts ...Option) *Checker {
	if threshold == 0 {
		threshold = DefaultThreshold
	}
	c := &Checker{checks: checks, watchlist: w, threshold: threshold, now: time.Now}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Check evaluates one skill. An undeclared skill is reported stale rather
// than returned as an error.
func (c *Checker) Check(skill string) (*Result, error) {
	sk, ok := c.watchlist.Skill(skill)
	if !ok {
		return &Result{
			Skill:   skill,
			Stale:   true,
			Message: fmt.Sprintf("Skill %q not found in config", skill),
		}, nil
	}

	now := c.now().UTC()
	res := &Result{Skill: skill}
	var oldest time.Time

	for _, src := range sk.Sources {
		ts, err := c.checks.LastCheckedAt(src)
		if err != nil {
			return nil, fmt.Errorf("last check of %s: %w", src, err)
		}
		status := SourceStatus{Source: src, Stale: true}
		if ts != "" {
			at, err := store.ParseTime(ts)
			if err != nil {
				return nil, fmt.Errorf("last check of %s: %w", src, err)
			}
			age := now.Sub(at)
			days := int(age / (24 * time.Hour))
			status.LastChecked = ts
			status.AgeDays = &days
			status.Stale = age > c.threshold
			if oldest.IsZero() || at.Before(oldest) {
				oldest = at
			}
		}
		res.Sources = append(res.Sources, status)
	}

	if oldest.IsZero() {
		res.Stale = true
		res.Message = fmt.Sprintf("%s has never been checked. Run `skillwatch check` to capture initial state.", skill)
		return res, nil
	}

	age := now.Sub(oldest)
	days := int(age / (24 * time.Hour))
	res.LastChecked = store.FormatTime(oldest)
	res.StalenessDays = &days
	res.Stale = age > c.threshold
	if res.Stale {
		res.Message = fmt.Sprintf("%s was last checked %d days ago. Run `skillwatch check` to see what changed.", skill, days)
	}
	return res, nil
}

// CheckAll evaluates every declared skill, or only the one named.
func (c *Checker) CheckAll(skill string) ([]*Result, error) {
	names := []string{skill}
	if skill == "" {
		names = names[:0]
		for _, sk := range c.watchlist.Skills {
			names = append(names, sk.Name)
		}
	}
	out := make([]*Result, 0, len(names))
	for _, name := range names {
		r, err := c.Check(name)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}
