package skillcheck

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/joestump/skillwatch/internal/config"
	"github.com/joestump/skillwatch/internal/store"
)

// StageMode is the update mode recorded for staged skills.
const StageMode = "apply-local"

// StageResult describes one staging run.
type StageResult struct {
	Skill         string               `json:"skill"`
	Path          string               `json:"path"`
	Changes       []store.ChangeRecord `json:"changes"`
	PreValidation *Result              `json:"pre_validation,omitempty"`
	BackupPath    string               `json:"backup_path,omitempty"`
}

// Staged reports whether a backup was taken and an attempt recorded.
func (r *StageResult) Staged() bool { return r.BackupPath != "" }

// Stager prepares skills for a manual update: it validates, backs up the
// skill directory and records a pending-review update attempt. Skill files
// are never edited.
type Stager struct {
	store     *store.Store
	watchlist *config.Watchlist
	validator *Validator
	baseDir   string
}

// NewStager creates a Stager. Relative skill paths resolve against baseDir.
func NewStager(st *store.Store, w *config.Watchlist, v *Validator, baseDir string) *Stager {
	return &Stager{store: st, watchlist: w, validator: v, baseDir: baseDir}
}

// SkillDir resolves the directory of a configured skill.
func SkillDir(sk config.Skill, baseDir string) string {
	if filepath.IsAbs(sk.Path) {
		return sk.Path
	}
	return filepath.Join(baseDir, sk.Path)
}

// Stage collects the changes of the skill's sources since its last update
// attempt. Without changes nothing is written.
func (s *Stager) Stage(ctx context.Context, skill string) (*StageResult, error) {
	sk, ok := s.watchlist.Skill(skill)
	if !ok {
		return nil, fmt.Errorf("stage %s: %w", skill, store.ErrUnknownSkill)
	}
	res := &StageResult{Skill: skill, Path: SkillDir(sk, s.baseDir)}

	since, err := s.store.LastUpdateAttempt(skill)
	if err != nil {
		return nil, err
	}
	res.Changes, err = s.store.ChangesForSkill(skill, since)
	if err != nil {
		return nil, err
	}
	if len(res.Changes) == 0 {
		return res, nil
	}

	res.PreValidation = s.validator.Validate(ctx, res.Path)
	backup := res.Path + ".backup"

	err = s.store.InTx(func(tx *store.Store) error {
		if err := Record(tx, skill, res.PreValidation, "pre-update"); err != nil {
			return err
		}
		if err := copyTree(res.Path, backup); err != nil {
			return fmt.Errorf("back up %s: %w", res.Path, err)
		}
		return tx.RecordUpdateAttempt(store.UpdateAttempt{
			Skill:          skill,
			Mode:           StageMode,
			Status:         "pending_review",
			ChangesApplied: len(res.Changes),
			BackupPath:     backup,
		})
	})
	if err != nil {
		return nil, err
	}
	res.BackupPath = backup
	return res, nil
}

// copyTree replaces dst with a copy of src.
func copyTree(src, dst string) error {
	if err := os.RemoveAll(dst); err != nil {
		return err
	}
	return filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		info, err := d.Info()
		if err != nil {
			return err
		}
		switch {
		case d.IsDir():
			return os.MkdirAll(target, info.Mode().Perm()|0o700)
		case !info.Mode().IsRegular():
			return nil
		}
		in, err := os.Open(path)
		if err != nil {
			return err
		}
		defer in.Close() //nolint:errcheck
		out, err := os.OpenFile(target, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, info.Mode().Perm())
		if err != nil {
			return err
		}
		if _, err := io.Copy(out, in); err != nil {
			out.Close() //nolint:errcheck
			return err
		}
		return out.Close()
	})
}

// Context renders the update context for whoever edits the skill.
func (r *StageResult) Context() string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Update Context for %s\n\n", r.Skill)

	current := "(missing)"
	if p, ok := findSkillMD(r.Path); ok {
		if data, err := os.ReadFile(p); err == nil {
			current = string(data)
		}
	}
	fmt.Fprintf(&b, "## Current SKILL.md\n```markdown\n%s\n```\n\n## Detected Changes\n\n", current)

	for _, c := range r.Changes {
		switch c.TargetKind {
		case "commits":
			n := 0
			if c.CommitCount != nil {
				n = *c.CommitCount
			}
			fmt.Fprintf(&b, "- [%s] Source code change in **%s**: %d new commits (latest: `%s`)\n",
				c.Classification, c.Source, n, c.CommitHash)
		default:
			hash := c.NewHash
			if len(hash) > 12 {
				hash = hash[:12]
			}
			fmt.Fprintf(&b, "- [%s] Documentation change in **%s**: `%s` (hash: `%s`)\n",
				c.Classification, c.Source, c.Label(), hash)
		}
	}

	fmt.Fprintf(&b, "\n## Next Steps\n\n")
	fmt.Fprintf(&b, "1. Review the changes above and edit the skill files as needed\n")
	fmt.Fprintf(&b, "2. Validate: `skillwatch validate %s`\n", r.Skill)
	if r.BackupPath != "" {
		fmt.Fprintf(&b, "3. If satisfied, remove the backup: `rm -rf %s`\n", r.BackupPath)
	}
	return b.String()
}
