// Package measure estimates the context cost of skills: it discovers skill
// directories, measures every content file and rolls the sizes up into a
// token budget.
package measure

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/joestump/skillwatch/internal/config"
	"github.com/joestump/skillwatch/internal/fingerprint"
	"github.com/joestump/skillwatch/internal/store"
)

// Token budget thresholds. One token is estimated as four characters.
const (
	BudgetWarn     = 4000
	BudgetCritical = 8000
)

// FileType groups skill files in budget reports.
type FileType string

const (
	SkillMD   FileType = "skill_md"
	CommandMD FileType = "command_md"
	Reference FileType = "reference"
	Agent     FileType = "agent"
	Hook      FileType = "hook"
	Script    FileType = "script"
	Other     FileType = "other"
)

// FileTypes lists every file type in report order.
var FileTypes = []FileType{SkillMD, Reference, Agent, Hook, CommandMD, Script, Other}

// Status is the budget verdict of a skill.
type Status string

const (
	StatusOK       Status = "OK"
	StatusOver     Status = "OVER"
	StatusCritical Status = "CRITICAL"
)

// SkipDirs are never descended into.
var SkipDirs = map[string]bool{
	"__pycache__":  true,
	".backup":      true,
	"node_modules": true,
	".git":         true,
	"coderef":      true,
	".venv":        true,
	"internal":     true,
	"state":        true,
}

const contentGlob = "**/*.{md,py,yaml,yml,json,txt,sh,toml}"

// File is the measurement of one skill file.
type File struct {
	Path   string   `json:"path"` // relative to the skill directory
	Type   FileType `json:"type"`
	Lines  int      `json:"lines"`
	Words  int      `json:"words"`
	Chars  int      `json:"chars"`
	Tokens int      `json:"tokens"`
	Hash   string   `json:"content_hash"`
}

// Skill is the measurement of one skill directory.
type Skill struct {
	Name        string `json:"skill_name"`
	Dir         string `json:"skill_path"`
	Files       []File `json:"files"`
	TotalTokens int    `json:"total_tokens"`
}

// Status classifies the skill's total against the budget thresholds.
func (s *Skill) Status() Status {
	switch {
	case s.TotalTokens > BudgetCritical:
		return StatusCritical
	case s.TotalTokens > BudgetWarn:
		return StatusOver
	default:
		return StatusOK
	}
}

// TokensByType sums tokens per file type.
func (s *Skill) TokensByType() map[FileType]int {
	out := make(map[FileType]int)
	for _, f := range s.Files {
		out[f.Type] += f.Tokens
	}
	return out
}

func skipped(rel string) bool {
	for _, part := range strings.Split(rel, "/") {
		if SkipDirs[part] || strings.Contains(part, ".backup") {
			return true
		}
	}
	return false
}

// Discover returns every directory under root that holds a SKILL.md,
// sorted, skipping backup and vendored trees.
func Discover(root string) ([]string, error) {
	matches, err := doublestar.Glob(os.DirFS(root), "**/SKILL.md")
	if err != nil {
		return nil, fmt.Errorf("discover skills: %w", err)
	}
	var dirs []string
	for _, m := range matches {
		if skipped(m) {
			continue
		}
		dirs = append(dirs, filepath.Join(root, filepath.FromSlash(path.Dir(m))))
	}
	sort.Strings(dirs)
	return dirs, nil
}

// ClassifyFile returns the file type of rel, a slash-separated path relative
// to the skill directory.
func ClassifyFile(rel string) FileType {
	name := path.Base(rel)
	switch name {
	case "SKILL.md":
		return SkillMD
	case "COMMAND.md":
		return CommandMD
	}

	if parent, _, nested := strings.Cut(rel, "/"); nested {
		switch parent {
		case "references":
			return Reference
		case "agents":
			return Agent
		case "hooks":
			return Hook
		case "scripts":
			return Script
		case "commands":
			return CommandMD
		case "skills":
			return Reference
		}
	}

	switch path.Ext(name) {
	case ".md":
		return Reference
	case ".py":
		return Script
	default:
		return Other
	}
}

// MeasureFile counts the lines, words and characters of the file at p.
// Content that is not valid UTF-8 is counted in bytes only.
func MeasureFile(p string) (File, error) {
	data, err := os.ReadFile(p)
	if err != nil {
		return File{}, fmt.Errorf("read %s: %w", p, err)
	}
	f := File{Hash: fingerprint.Bytes(data)}
	if !utf8.Valid(data) {
		f.Chars = len(data)
	} else {
		text := string(data)
		f.Chars = utf8.RuneCountInString(text)
		f.Words = len(strings.Fields(text))
		f.Lines = countLines(text)
	}
	f.Tokens = f.Chars / 4
	return f, nil
}

func countLines(text string) int {
	if text == "" {
		return 0
	}
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.TrimSuffix(text, "\n")
	return strings.Count(text, "\n") + 1
}

// MeasureSkill measures every content file of the skill in dir. A missing
// directory yields an empty measurement.
func MeasureSkill(name, dir string) (*Skill, error) {
	sk := &Skill{Name: name, Dir: dir}
	if _, err := os.Stat(dir); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return sk, nil
		}
		return nil, fmt.Errorf("stat %s: %w", dir, err)
	}

	matches, err := doublestar.Glob(os.DirFS(dir), contentGlob, doublestar.WithFilesOnly())
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", dir, err)
	}
	sort.Strings(matches)

	for _, rel := range matches {
		if strings.HasPrefix(path.Base(rel), ".") || skipped(path.Dir(rel)) {
			continue
		}
		f, err := MeasureFile(filepath.Join(dir, filepath.FromSlash(rel)))
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return nil, err
		}
		f.Path = rel
		f.Type = ClassifyFile(rel)
		sk.Files = append(sk.Files, f)
		sk.TotalTokens += f.Tokens
	}
	return sk, nil
}

// ErrUnknownSkill is returned when a named skill is neither configured nor
// discovered.
var ErrUnknownSkill = errors.New("skill not found")

// Configured measures the skills of w, or only the one named. Relative skill
// paths resolve against baseDir.
func Configured(w *config.Watchlist, baseDir, name string) ([]*Skill, error) {
	skills := w.Skills
	if name != "" {
		sk, ok := w.Skill(name)
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownSkill, name)
		}
		skills = []config.Skill{sk}
	}

	var out []*Skill
	for _, sk := range skills {
		dir := sk.Path
		if !filepath.IsAbs(dir) {
			dir = filepath.Join(baseDir, dir)
		}
		m, err := MeasureSkill(sk.Name, dir)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}

// Discovered measures every skill found under root, or only the one whose
// directory is named name.
func Discovered(root, name string) ([]*Skill, error) {
	dirs, err := Discover(root)
	if err != nil {
		return nil, err
	}
	var out []*Skill
	for _, dir := range dirs {
		base := filepath.Base(dir)
		if name != "" && base != name {
			continue
		}
		m, err := MeasureSkill(base, dir)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	if name != "" && len(out) == 0 {
		return nil, fmt.Errorf("%w: %q under %s", ErrUnknownSkill, name, root)
	}
	return out, nil
}

// Record writes one ContentMeasurement fact per file. The skill must be a
// current skill in the store.
func Record(st *store.Store, sk *Skill) error {
	return st.InTx(func(tx *store.Store) error {
		for _, f := range sk.Files {
			err := tx.RecordContentMeasurement(store.ContentMeasurement{
				Skill:       sk.Name,
				FilePath:    f.Path,
				FileType:    string(f.Type),
				Lines:       f.Lines,
				Words:       f.Words,
				Chars:       f.Chars,
				ContentHash: f.Hash,
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
}
