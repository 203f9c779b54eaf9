package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// ErrInvalidWatchlist is returned for structurally valid YAML that violates
// the watchlist rules (unknown kind, missing location, dangling source).
var ErrInvalidWatchlist = errors.New("invalid watchlist")

// SourceKind tags the variant of a Source.
type SourceKind string

const (
	KindDocs   SourceKind = "docs"
	KindSource SourceKind = "source"
)

// ParseKind maps a document kind to a SourceKind. "source-repository" is
// accepted as an alias of "source".
func ParseKind(s string) (SourceKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "docs":
		return KindDocs, nil
	case "source", "source-repository":
		return KindSource, nil
	default:
		return "", fmt.Errorf("%w: unknown source kind %q", ErrInvalidWatchlist, s)
	}
}

// Source is a watched origin: either a *DocsSource or a *RepoSource.
type Source interface {
	Name() string
	Kind() SourceKind
	Location() string
	// Attributes returns the descriptive attributes that version the source.
	Attributes() map[string]any
	isSource()
}

// DocsSource is a documentation bundle, optionally paired with a local
// static document.
type DocsSource struct {
	SourceName   string
	URL          string
	WatchedUnits []string
	LocalFile    string
	HTMLFallback bool
}

func (d *DocsSource) Name() string     { return d.SourceName }
func (d *DocsSource) Kind() SourceKind { return KindDocs }
func (d *DocsSource) Location() string { return d.URL }
func (d *DocsSource) isSource()        {}

// Attributes implements Source.
func (d *DocsSource) Attributes() map[string]any {
	return map[string]any{
		"kind":          string(KindDocs),
		"location":      d.URL,
		"local_file":    d.LocalFile,
		"html_fallback": d.HTMLFallback,
		"watched_units": d.WatchedUnits,
	}
}

// RepoSource is a source-code repository scanned over a lookback window.
type RepoSource struct {
	SourceName   string
	URL          string
	WatchedPaths []string
	Lookback     string
}

func (r *RepoSource) Name() string     { return r.SourceName }
func (r *RepoSource) Kind() SourceKind { return KindSource }
func (r *RepoSource) Location() string { return r.URL }
func (r *RepoSource) isSource()        {}

// Attributes implements Source.
func (r *RepoSource) Attributes() map[string]any {
	return map[string]any{
		"kind":          string(KindSource),
		"location":      r.URL,
		"lookback":      r.Lookback,
		"watched_units": r.WatchedPaths,
	}
}

// Skill is a consuming artifact and the sources it depends on.
type Skill struct {
	Name       string
	Path       string
	Sources    []string
	AutoUpdate bool
}

// Attributes returns the descriptive attributes that version the skill.
// Dependencies are versioned separately as edges.
func (s Skill) Attributes() map[string]any {
	return map[string]any{
		"path":        s.Path,
		"auto_update": s.AutoUpdate,
	}
}

// Watchlist is the validated declarative configuration. Sources and skills
// are sorted by name.
type Watchlist struct {
	Sources []Source
	Skills  []Skill
}

// Source returns the source with the given name.
func (w *Watchlist) Source(name string) (Source, bool) {
	for _, s := range w.Sources {
		if s.Name() == name {
			return s, true
		}
	}
	return nil, false
}

// Skill returns the skill with the given name.
func (w *Watchlist) Skill(name string) (Skill, bool) {
	for _, s := range w.Skills {
		if s.Name == name {
			return s, true
		}
	}
	return Skill{}, false
}

// SourcesOfKind returns the sources of one kind, in name order.
func (w *Watchlist) SourcesOfKind(kind SourceKind) []Source {
	var out []Source
	for _, s := range w.Sources {
		if s.Kind() == kind {
			out = append(out, s)
		}
	}
	return out
}

type rawWatchlist struct {
	Sources map[string]rawSource `yaml:"sources"`
	Skills  map[string]rawSkill  `yaml:"skills"`
}

type rawSource struct {
	Kind         string   `yaml:"kind"`
	Location     string   `yaml:"location"`
	WatchedUnits []string `yaml:"watchedUnits"`
	LocalFile    string   `yaml:"localFile"`
	HTMLFallback bool     `yaml:"htmlFallback"`
	Lookback     string   `yaml:"lookback"`
}

type rawSkill struct {
	Path       string   `yaml:"path"`
	Sources    []string `yaml:"sources"`
	AutoUpdate bool     `yaml:"autoUpdate"`
}

// LoadWatchlist reads and validates the watchlist document at path.
func LoadWatchlist(path string) (*Watchlist, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read watchlist: %w", err)
	}
	w, err := ParseWatchlist(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return w, nil
}

// ParseWatchlist decodes and validates a watchlist document. Unknown fields
// are rejected.
func ParseWatchlist(data []byte) (*Watchlist, error) {
	var raw rawWatchlist
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&raw); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decode watchlist: %w", err)
	}

	w := &Watchlist{}
	for name, rs := range raw.Sources {
		src, err := buildSource(name, rs)
		if err != nil {
			return nil, err
		}
		w.Sources = append(w.Sources, src)
	}
	sort.Slice(w.Sources, func(i, j int) bool { return w.Sources[i].Name() < w.Sources[j].Name() })

	for name, rs := range raw.Skills {
		if strings.TrimSpace(rs.Path) == "" {
			return nil, fmt.Errorf("%w: skill %q: missing path", ErrInvalidWatchlist, name)
		}
		for _, dep := range rs.Sources {
			if _, ok := raw.Sources[dep]; !ok {
				return nil, fmt.Errorf("%w: skill %q depends on undeclared source %q", ErrInvalidWatchlist, name, dep)
			}
		}
		deps := append([]string(nil), rs.Sources...)
		sort.Strings(deps)
		w.Skills = append(w.Skills, Skill{
			Name:       name,
			Path:       rs.Path,
			Sources:    deps,
			AutoUpdate: rs.AutoUpdate,
		})
	}
	sort.Slice(w.Skills, func(i, j int) bool { return w.Skills[i].Name < w.Skills[j].Name })

	return w, nil
}

func buildSource(name string, rs rawSource) (Source, error) {
	kind, err := ParseKind(rs.Kind)
	if err != nil {
		return nil, fmt.Errorf("source %q: %w", name, err)
	}

	switch kind {
	case KindDocs:
		if rs.Location == "" && rs.LocalFile == "" {
			return nil, fmt.Errorf("%w: docs source %q: needs location or localFile", ErrInvalidWatchlist, name)
		}
		if rs.Lookback != "" {
			return nil, fmt.Errorf("%w: docs source %q: lookback applies to source repositories only", ErrInvalidWatchlist, name)
		}
		return &DocsSource{
			SourceName:   name,
			URL:          rs.Location,
			WatchedUnits: rs.WatchedUnits,
			LocalFile:    rs.LocalFile,
			HTMLFallback: rs.HTMLFallback,
		}, nil
	default:
		if rs.Location == "" {
			return nil, fmt.Errorf("%w: source %q: missing location", ErrInvalidWatchlist, name)
		}
		if rs.LocalFile != "" || rs.HTMLFallback {
			return nil, fmt.Errorf("%w: source %q: localFile and htmlFallback apply to docs sources only", ErrInvalidWatchlist, name)
		}
		return &RepoSource{
			SourceName:   name,
			URL:          rs.Location,
			WatchedPaths: rs.WatchedUnits,
			Lookback:     rs.Lookback,
		}, nil
	}
}
