package store

import (
	"encoding/json"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/joestump/skillwatch/internal/classify"
	"github.com/joestump/skillwatch/internal/config"
	"github.com/joestump/skillwatch/internal/watermark"
)

// Snapshot is the flat, legacy-compatible projection of current state. It
// holds no history.
type Snapshot struct {
	Docs    map[string]*DocsState   `json:"docs,omitempty"`
	Sources map[string]*SourceCheck `json:"sources,omitempty"`
}

// DocsState is the snapshot of one docs source.
type DocsState struct {
	Watermark       *SnapshotWatermark      `json:"_watermark,omitempty"`
	Pages           map[string]SnapshotPage `json:"_pages,omitempty"`
	FileHash        string                  `json:"_file_hash,omitempty"`
	FileLastChecked string                  `json:"_file_last_checked,omitempty"`
}

// SnapshotWatermark is the watermark entry of a docs source.
type SnapshotWatermark struct {
	LastModified string `json:"last_modified"`
	ETag         string `json:"etag"`
	LastChecked  string `json:"last_checked"`
}

// SnapshotPage is the fingerprint entry of one page.
type SnapshotPage struct {
	Hash           string `json:"hash"`
	ContentPreview string `json:"content_preview"`
	LastChecked    string `json:"last_checked"`
	LastChanged    string `json:"last_changed"`
}

// ImportSummary counts the facts written by ImportSnapshot.
type ImportSummary struct {
	Watermarks   int      `json:"watermarks"`
	Pages        int      `json:"pages"`
	FileHashes   int      `json:"file_hashes"`
	SourceChecks int      `json:"source_checks"`
	Skipped      []string `json:"skipped,omitempty"`
}

// ExportSnapshot projects the latest state of every current source.
func (s *Store) ExportSnapshot() (*Snapshot, error) {
	snap := &Snapshot{}

	docs, err := s.CurrentSources(config.KindDocs)
	if err != nil {
		return nil, err
	}
	for _, src := range docs {
		state, err := s.exportDocs(src.Name)
		if err != nil {
			return nil, err
		}
		if state == nil {
			continue
		}
		if snap.Docs == nil {
			snap.Docs = make(map[string]*DocsState)
		}
		snap.Docs[src.Name] = state
	}

	repos, err := s.CurrentSources(config.KindSource)
	if err != nil {
		return nil, err
	}
	for _, src := range repos {
		check, err := s.LatestSourceCheck(src.Name)
		if err != nil {
			return nil, err
		}
		if check == nil {
			continue
		}
		if snap.Sources == nil {
			snap.Sources = make(map[string]*SourceCheck)
		}
		snap.Sources[src.Name] = check
	}
	return snap, nil
}

func (s *Store) exportDocs(name string) (*DocsState, error) {
	state := &DocsState{}
	empty := true

	wm, err := s.LatestWatermark(name)
	if err != nil {
		return nil, err
	}
	if wm != nil {
		state.Watermark = &SnapshotWatermark{LastModified: wm.LastModified, ETag: wm.ETag, LastChecked: wm.CheckedAt}
		empty = false
	}

	pages, err := s.PageHashes(name)
	if err != nil {
		return nil, err
	}
	if len(pages) > 0 {
		state.Pages = make(map[string]SnapshotPage, len(pages))
		for url, p := range pages {
			checked := p.LastChanged
			if wm != nil {
				checked = wm.CheckedAt
			}
			state.Pages[url] = SnapshotPage{
				Hash:           p.Hash,
				ContentPreview: p.ContentPreview,
				LastChecked:    checked,
				LastChanged:    p.LastChanged,
			}
		}
		empty = false
	}

	fh, err := s.FileHash(name)
	if err != nil {
		return nil, err
	}
	if fh != nil {
		state.FileHash = fh.Hash
		state.FileLastChecked = fh.LastChecked
		empty = false
	}

	if empty {
		return nil, nil
	}
	return state, nil
}

// ImportSnapshot replays a flat snapshot as facts tagged migrate_state, in a
// single transaction. Entries naming unknown sources, or a source of the
// other kind, are skipped. Original timestamps are kept.
func (s *Store) ImportSnapshot(snap *Snapshot) (ImportSummary, error) {
	var summary ImportSummary
	err := s.InTx(func(tx *Store) error {
		var err error
		summary, err = tx.importSnapshot(snap)
		return err
	})
	if err != nil {
		return ImportSummary{}, fmt.Errorf("import snapshot: %w", err)
	}
	return summary, nil
}

func (s *Store) importSnapshot(snap *Snapshot) (ImportSummary, error) {
	var summary ImportSummary

	kinds, err := s.currentKinds()
	if err != nil {
		return summary, err
	}

	for _, name := range sortedKeys(snap.Docs) {
		state := snap.Docs[name]
		if state == nil || kinds[name] != config.KindDocs {
			summary.Skipped = append(summary.Skipped, "docs/"+name)
			continue
		}

		if wm := state.Watermark; wm != nil {
			checked := watermark.Watermark{
				LastModified: wm.LastModified,
				ETag:         wm.ETag,
				CheckedAt:    s.importTime(wm.LastChecked),
			}
			if err := s.RecordWatermarkCheck(name, checked, true, RecordSourceMigrateState); err != nil {
				return summary, err
			}
			summary.Watermarks++
		}

		for _, url := range sortedKeys(state.Pages) {
			page := state.Pages[url]
			if page.Hash == "" {
				key, err := s.sourceKey(name)
				if err != nil {
					return summary, err
				}
				if _, err := s.ensurePage(key, url); err != nil {
					return summary, err
				}
				continue
			}
			err := s.RecordChange(Change{
				Source:         name,
				Target:         &PageTarget{URL: url},
				Classification: classify.Additive,
				NewHash:        page.Hash,
				Summary:        "imported from state.json",
				ContentPreview: page.ContentPreview,
				RecordSource:   RecordSourceMigrateState,
				DetectedAt:     s.importTime(page.LastChanged),
			})
			if err != nil {
				return summary, err
			}
			summary.Pages++
		}

		if state.FileHash != "" {
			err := s.RecordChange(Change{
				Source:         name,
				Target:         &FileTarget{},
				Classification: classify.Additive,
				NewHash:        state.FileHash,
				Summary:        "imported from state.json (local file)",
				RecordSource:   RecordSourceMigrateState,
				DetectedAt:     s.importTime(state.FileLastChecked),
			})
			if err != nil {
				return summary, err
			}
			summary.FileHashes++
		}
	}

	for _, name := range sortedKeys(snap.Sources) {
		check := snap.Sources[name]
		if check == nil || kinds[name] != config.KindSource {
			summary.Skipped = append(summary.Skipped, "sources/"+name)
			continue
		}
		if check.LastCommit == "" && check.CommitsSinceLast == 0 {
			continue
		}
		err := s.RecordChange(Change{
			Source:         name,
			Target:         &CommitTarget{Hash: check.LastCommit, Count: check.CommitsSinceLast},
			Classification: classify.Additive,
			Summary:        "imported from state.json (source repo)",
			RecordSource:   RecordSourceMigrateState,
			DetectedAt:     s.importTime(check.LastChecked),
		})
		if err != nil {
			return summary, err
		}
		summary.SourceChecks++
	}
	return summary, nil
}

func (s *Store) currentKinds() (map[string]config.SourceKind, error) {
	sources, err := s.CurrentSources("")
	if err != nil {
		return nil, err
	}
	kinds := make(map[string]config.SourceKind, len(sources))
	for _, src := range sources {
		kinds[src.Name] = config.SourceKind(src.Kind)
	}
	return kinds, nil
}

func sortedKeys[V any](m map[string]V) []string {
	return slices.Sorted(maps.Keys(m))
}

// importTime parses an imported timestamp, defaulting to now.
func (s *Store) importTime(v string) time.Time {
	t, err := ParseTime(s.normalizeTime(v))
	if err != nil {
		return s.now()
	}
	return t
}

// ExportSnapshotFile writes the snapshot as indented JSON to path.
func (s *Store) ExportSnapshotFile(path string) (*Snapshot, error) {
	snap, err := s.ExportSnapshot()
	if err != nil {
		return nil, err
	}
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal snapshot: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create snapshot dir: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return nil, fmt.Errorf("write snapshot: %w", err)
	}
	return snap, nil
}

// ImportSnapshotFile reads a snapshot from path and imports it.
func (s *Store) ImportSnapshotFile(path string) (ImportSummary, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return ImportSummary{}, fmt.Errorf("read snapshot: %w", err)
	}
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return ImportSummary{}, fmt.Errorf("parse snapshot: %w", err)
	}
	return s.ImportSnapshot(&snap)
}
