package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/joestump/skillwatch/internal/classify"
	"github.com/joestump/skillwatch/internal/config"
	"github.com/joestump/skillwatch/internal/fingerprint"
	"github.com/joestump/skillwatch/internal/identify"
	"github.com/joestump/skillwatch/internal/store"
)

// DocsResult is the outcome of checking one documentation source.
type DocsResult struct {
	Source string `json:"source"`
	// Probed is false when the source has no bundle location.
	Probed           bool     `json:"probed"`
	WatermarkChanged bool     `json:"watermark_changed"`
	Compared         int      `json:"compared"`
	Changes          []Change `json:"changes"`
	Missing          []string `json:"missing,omitempty"`
	Notices          []string `json:"notices,omitempty"`
}

// Docs checks documentation sources.
type Docs struct {
	detector   WatermarkDetector
	identifier ContentIdentifier
	baseDir    string
	logger     *slog.Logger
}

// DocsOption configures a Docs checker.
type DocsOption func(*Docs)

// WithBaseDir resolves relative local file paths against dir.
func WithBaseDir(dir string) DocsOption {
	return func(d *Docs) { d.baseDir = dir }
}

// WithDocsLogger sets the logger.
func WithDocsLogger(l *slog.Logger) DocsOption {
	return func(d *Docs) { d.logger = l }
}

// NewDocs creates a Docs checker.
func NewDocs(detector WatermarkDetector, identifier ContentIdentifier, opts ...DocsOption) *Docs {
	d := &Docs{
		detector:   detector,
		identifier: identifier,
		logger:     discardLogger(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Check runs the docs pipeline for src and records every outcome in st.
// Network failures become ERROR changes; only store errors are returned.
func (d *Docs) Check(ctx context.Context, st *store.Store, src *config.DocsSource) (*DocsResult, error) {
	res := &DocsResult{Source: src.SourceName}

	if src.URL != "" {
		if err := d.checkBundle(ctx, st, src, res); err != nil {
			return nil, err
		}
	}
	if src.LocalFile != "" {
		if err := d.checkLocalFile(st, src, res); err != nil {
			return nil, err
		}
	}
	return res, nil
}

func (d *Docs) checkBundle(ctx context.Context, st *store.Store, src *config.DocsSource, res *DocsResult) error {
	name := src.SourceName
	res.Probed = true

	last, err := st.LatestWatermark(name)
	if err != nil {
		return err
	}
	changed, wm := d.detector.Detect(ctx, src.URL, last.Watermark())
	res.WatermarkChanged = changed

	if changed {
		complete, err := d.identifyBundle(ctx, st, src, res)
		if err != nil {
			return err
		}
		// Until every fetch succeeds the stored indicators stay in place, so
		// the next run identifies again.
		if !complete {
			wm = last.Watermark()
		}
	} else {
		d.logger.Debug("watermark unchanged", "source", name)
	}

	// A failed probe hands back the stored watermark; the check itself
	// happens now.
	wm.CheckedAt = time.Time{}
	return st.RecordWatermarkCheck(name, wm, changed, store.RecordSourceDocsMonitor)
}

// identifyBundle records the units of the bundle that differ from stored
// state. It reports false when the bundle or a fallback page could not be
// fetched.
func (d *Docs) identifyBundle(ctx context.Context, st *store.Store, src *config.DocsSource, res *DocsResult) (bool, error) {
	name := src.SourceName
	pages, err := st.PageHashes(name)
	if err != nil {
		return false, err
	}
	stored := make(map[string]identify.StoredUnit, len(pages))
	for url, p := range pages {
		stored[url] = identify.StoredUnit{Hash: p.Hash, Content: p.ContentPreview}
	}

	found, err := d.identifier.Identify(ctx, src.URL, src.WatchedUnits, stored)
	if err != nil {
		d.logger.Warn("bundle fetch failed", "source", name, "location", src.URL, "error", err)
		return false, d.record(st, res, store.Change{
			Source:         name,
			Target:         &store.BundleTarget{URL: src.URL},
			Classification: classify.Error,
			Summary:        fmt.Sprintf("fetch failed: %v", err),
		})
	}
	res.Compared = found.Compared

	for _, uc := range found.Changes {
		if err := d.recordUnit(st, res, name, uc); err != nil {
			return false, err
		}
	}

	complete := true
	res.Missing = found.Missing
	for _, url := range found.Missing {
		if !src.HTMLFallback {
			res.Notices = append(res.Notices, "watched unit not in bundle: "+url)
			continue
		}
		ok, err := d.fallback(ctx, st, res, name, url, stored)
		if err != nil {
			return false, err
		}
		complete = complete && ok
	}
	return complete, nil
}

// fallback fetches a watched unit missing from the bundle as its own page.
// It reports false when the page could not be fetched.
func (d *Docs) fallback(ctx context.Context, st *store.Store, res *DocsResult, name, url string, stored map[string]identify.StoredUnit) (bool, error) {
	unit, err := d.identifier.FetchPage(ctx, url)
	if err != nil {
		d.logger.Warn("page fetch failed", "source", name, "url", url, "error", err)
		return false, d.record(st, res, store.Change{
			Source:         name,
			Target:         &store.PageTarget{URL: url},
			Classification: classify.Error,
			Summary:        fmt.Sprintf("fetch failed: %v", err),
		})
	}
	res.Notices = append(res.Notices, "watched unit fetched as page: "+url)

	found := identify.Compare([]identify.Unit{unit}, nil, stored)
	res.Compared += found.Compared
	for _, uc := range found.Changes {
		if err := d.recordUnit(st, res, name, uc); err != nil {
			return false, err
		}
	}
	return true, nil
}

func (d *Docs) recordUnit(st *store.Store, res *DocsResult, name string, uc identify.UnitChange) error {
	return d.record(st, res, store.Change{
		Source:         name,
		Target:         &store.PageTarget{URL: uc.URL},
		Classification: classify.Content(uc.OldContent, uc.NewContent),
		OldHash:        uc.OldHash,
		NewHash:        uc.NewHash,
		Summary:        fingerprint.Summary(uc.OldContent, uc.NewContent),
		ContentPreview: uc.NewContent,
	})
}

func (d *Docs) checkLocalFile(st *store.Store, src *config.DocsSource, res *DocsResult) error {
	name := src.SourceName
	fh, err := st.FileHash(name)
	if err != nil {
		return err
	}
	var storedHash string
	if fh != nil {
		storedHash = fh.Hash
	}

	path := src.LocalFile
	if !filepath.IsAbs(path) && d.baseDir != "" {
		path = filepath.Join(d.baseDir, path)
	}
	fc, err := identify.CheckLocalFile(path, storedHash)
	if err != nil {
		d.logger.Warn("local file check failed", "source", name, "path", path, "error", err)
		res.Notices = append(res.Notices, fmt.Sprintf("local file %s: %v", src.LocalFile, err))
		return nil
	}
	if fc == nil {
		return nil
	}
	return d.record(st, res, store.Change{
		Source:         name,
		Target:         &store.FileTarget{Path: src.LocalFile},
		Classification: fc.Classification,
		OldHash:        fc.OldHash,
		NewHash:        fc.NewHash,
		Summary:        fc.Summary,
	})
}

func (d *Docs) record(st *store.Store, res *DocsResult, c store.Change) error {
	if c.RecordSource == "" {
		c.RecordSource = store.RecordSourceDocsMonitor
	}
	if err := st.RecordChange(c); err != nil {
		return err
	}
	res.Changes = append(res.Changes, Change{
		Target:         targetLabel(c.Target),
		Classification: c.Classification,
		OldHash:        c.OldHash,
		NewHash:        c.NewHash,
		Summary:        c.Summary,
	})
	return nil
}

func targetLabel(t store.Target) string {
	switch v := t.(type) {
	case *store.PageTarget:
		return v.URL
	case *store.FileTarget:
		return "file://" + v.Path
	case *store.BundleTarget:
		return v.URL
	case *store.CommitTarget:
		return "commit:" + v.Hash
	default:
		return ""
	}
}
