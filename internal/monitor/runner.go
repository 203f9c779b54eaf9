package monitor

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/joestump/skillwatch/internal/config"
	"github.com/joestump/skillwatch/internal/store"
)

// CheckScript names check batches in the load log.
const CheckScript = "check"

// Filter narrows a batch.
type Filter struct {
	// Source restricts the batch to one source by name.
	Source string
	// Kind restricts the batch to one source kind.
	Kind config.SourceKind
	// Since overrides the lookback of source repositories.
	Since string
}

// Report collects the results of one batch.
type Report struct {
	Docs          []*DocsResult `json:"docs"`
	Repos         []*RepoResult `json:"repos"`
	FactsInserted int64         `json:"facts_inserted"`
}

// ChangeCount is the number of changes recorded by the batch.
func (r *Report) ChangeCount() int {
	n := 0
	for _, d := range r.Docs {
		n += len(d.Changes)
	}
	for _, s := range r.Repos {
		if s.Recorded {
			n++
		}
	}
	return n
}

// Runner checks the configured sources one at a time.
type Runner struct {
	store     *store.Store
	watchlist *config.Watchlist
	docs      *Docs
	repos     *Repos
	out       io.Writer
	logger    *slog.Logger
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithProgress prints per-source progress lines to w.
func WithProgress(w io.Writer) RunnerOption {
	return func(r *Runner) { r.out = w }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) RunnerOption {
	return func(r *Runner) { r.logger = l }
}

// NewRunner creates a Runner over the sources of w.
func NewRunner(st *store.Store, w *config.Watchlist, docs *Docs, repos *Repos, opts ...RunnerOption) *Runner {
	r := &Runner{
		store:     st,
		watchlist: w,
		docs:      docs,
		repos:     repos,
		out:       io.Discard,
		logger:    discardLogger(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// selectSources applies the filter. Naming an undeclared source, or a
// source of a kind other than the requested one, is a configuration error.
func (r *Runner) selectSources(f Filter) ([]config.Source, error) {
	if f.Source != "" {
		src, ok := r.watchlist.Source(f.Source)
		if !ok {
			return nil, fmt.Errorf("%w %q", ErrUnknownSource, f.Source)
		}
		if f.Kind != "" && src.Kind() != f.Kind {
			return nil, fmt.Errorf("source %q is %s, not %s", f.Source, src.Kind(), f.Kind)
		}
		return []config.Source{src}, nil
	}
	if f.Kind != "" {
		return r.watchlist.SourcesOfKind(f.Kind), nil
	}
	return r.watchlist.Sources, nil
}

// Run checks every selected source in name order. Each source is written in
// its own transaction, so an abort keeps the sources already checked. A
// network failure never stops the batch; a store error does.
func (r *Runner) Run(ctx context.Context, f Filter) (*Report, error) {
	sources, err := r.selectSources(f)
	if err != nil {
		return nil, err
	}

	if err := r.store.LogLoadStart(CheckScript); err != nil {
		return nil, err
	}
	before := r.store.FactsInserted()
	report := &Report{}

	for _, src := range sources {
		if err := ctx.Err(); err != nil {
			return nil, r.fail(before, err)
		}
		fmt.Fprintf(r.out, "Checking %s (%s)...\n", src.Name(), src.Kind())
		r.logger.Info("checking source", "source", src.Name(), "kind", src.Kind())

		err := r.store.InTx(func(tx *store.Store) error {
			switch s := src.(type) {
			case *config.DocsSource:
				res, err := r.docs.Check(ctx, tx, s)
				if err != nil {
					return err
				}
				report.Docs = append(report.Docs, res)
				r.printDocs(res)
			case *config.RepoSource:
				res, err := r.repos.Check(ctx, tx, s, f.Since)
				if err != nil {
					return err
				}
				report.Repos = append(report.Repos, res)
				r.printRepo(res)
			}
			return nil
		})
		if err != nil {
			return nil, r.fail(before, fmt.Errorf("check %s: %w", src.Name(), err))
		}
	}

	report.FactsInserted = r.store.FactsInserted() - before
	if err := r.store.LogLoadEnd(CheckScript, report.FactsInserted, store.LoadSuccess, ""); err != nil {
		return nil, err
	}
	r.logger.Info("check complete", "sources", len(sources), "facts", report.FactsInserted)
	return report, nil
}

func (r *Runner) fail(before int64, cause error) error {
	rows := r.store.FactsInserted() - before
	if err := r.store.LogLoadEnd(CheckScript, rows, store.LoadFailed, cause.Error()); err != nil {
		r.logger.Error("log load end", "error", err)
	}
	return cause
}

func (r *Runner) printDocs(res *DocsResult) {
	switch {
	case res.Probed && !res.WatermarkChanged && len(res.Changes) == 0:
		fmt.Fprintln(r.out, "  no change (watermark match)")
	case len(res.Changes) == 0:
		fmt.Fprintln(r.out, "  no changes")
	default:
		fmt.Fprintf(r.out, "  %d change(s) detected\n", len(res.Changes))
	}
	for _, n := range res.Notices {
		fmt.Fprintf(r.out, "  note: %s\n", n)
	}
}

func (r *Runner) printRepo(res *RepoResult) {
	switch {
	case res.Skipped != "":
		fmt.Fprintf(r.out, "  skipped (%s)\n", res.Skipped)
	case len(res.Commits) == 0:
		fmt.Fprintln(r.out, "  no commits in window")
	default:
		fmt.Fprintf(r.out, "  %d commits, %d files changed [%s]\n", len(res.Commits), res.ChangedFiles, res.Classification)
	}
}
