package main

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/joestump/skillwatch/internal/classify"
	"github.com/joestump/skillwatch/internal/config"
	"github.com/joestump/skillwatch/internal/gitscan"
	"github.com/joestump/skillwatch/internal/identify"
	"github.com/joestump/skillwatch/internal/monitor"
	"github.com/joestump/skillwatch/internal/watermark"
)

func checkCmd() *cobra.Command {
	var source, kind, since string
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Check watched sources for changes and record them",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			switch config.SourceKind(kind) {
			case "", config.KindDocs, config.KindSource:
			default:
				return fmt.Errorf("unknown source kind %q (want docs or source)", kind)
			}

			a := newApp()
			st, w, err := a.syncedStore()
			if err != nil {
				return err
			}
			defer st.Close() //nolint:errcheck

			detector := watermark.NewDetector(a.cfg.ProbeTimeout,
				watermark.WithUserAgent(a.cfg.UserAgent),
				watermark.WithLogger(a.logger))
			identifier := identify.New(a.cfg.FetchTimeout,
				identify.WithUserAgent(a.cfg.UserAgent),
				identify.WithMaxBytes(a.cfg.MaxFetchBytes),
				identify.WithLogger(a.logger))
			scanner := gitscan.New(&gitscan.ExecRunner{},
				gitscan.WithCloneTimeout(a.cfg.CloneTimeout),
				gitscan.WithLogger(a.logger))

			runner := monitor.NewRunner(st, w,
				monitor.NewDocs(detector, identifier,
					monitor.WithBaseDir(filepath.Dir(a.cfg.ConfigPath)),
					monitor.WithDocsLogger(a.logger)),
				monitor.NewRepos(scanner, monitor.WithReposLogger(a.logger)),
				monitor.WithProgress(cmd.OutOrStdout()),
				monitor.WithLogger(a.logger))

			report, err := runner.Run(cmd.Context(), monitor.Filter{
				Source: source,
				Kind:   config.SourceKind(kind),
				Since:  since,
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "\n%d change(s) detected, %d fact(s) recorded\n",
				report.ChangeCount(), report.FactsInserted)
			return nil
		},
	}
	cmd.Flags().StringVar(&source, "source", "", "check only this source")
	cmd.Flags().StringVar(&kind, "kind", "", "check only sources of this kind (docs or source)")
	cmd.Flags().StringVar(&since, "since", "", "override the lookback of source repositories (e.g. \"14 days ago\")")
	return cmd
}

func historyCmd() *cobra.Command {
	var days int
	var classification string
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recently detected changes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if days < 0 {
				return fmt.Errorf("--days must not be negative")
			}
			classification = strings.ToUpper(classification)
			if classification != "" {
				if _, err := classify.Parse(classification); err != nil {
					return err
				}
			}

			st, err := newApp().openStore()
			if err != nil {
				return err
			}
			defer st.Close() //nolint:errcheck

			changes, err := st.RecentChanges(days, classification)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(changes) == 0 {
				fmt.Fprintf(out, "No changes in the last %d days.\n", days)
				return nil
			}
			for _, c := range changes {
				fmt.Fprintf(out, "%s  %-9s %-20s %s\n", shortTime(c.DetectedAt), c.Classification, c.Source, c.Label())
				if c.Summary != "" {
					fmt.Fprintf(out, "    %s\n", c.Summary)
				}
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&days, "days", 7, "look back this many days")
	cmd.Flags().StringVar(&classification, "classification", "", "only changes with this classification")
	return cmd
}

func statsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show schema version, table sizes and current dimensions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := newApp().openStore()
			if err != nil {
				return err
			}
			defer st.Close() //nolint:errcheck

			version, err := st.SchemaVersion()
			if err != nil {
				return err
			}
			tables, err := st.Stats()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Schema version: %d\n\n", version)
			for _, t := range tables {
				fmt.Fprintf(out, "  %-28s %d\n", t.Table, t.Rows)
			}

			sources, err := st.CurrentSources("")
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "\nSources (%d):\n", len(sources))
			for _, s := range sources {
				last, err := st.LastCheckedAt(s.Name)
				if err != nil {
					return err
				}
				if last == "" {
					last = "never"
				}
				fmt.Fprintf(out, "  %-24s %-7s last checked %s\n", s.Name, s.Kind, last)
			}

			skills, err := st.CurrentSkills()
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "\nSkills (%d):\n", len(skills))
			for _, s := range skills {
				fmt.Fprintf(out, "  %-24s %s\n", s.Name, s.Path)
			}
			return nil
		},
	}
}

func exportCmd() *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write the flat snapshot of current state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a := newApp()
			if output == "" {
				output = a.cfg.StatePath
			}
			st, err := a.openStore()
			if err != nil {
				return err
			}
			defer st.Close() //nolint:errcheck

			snap, err := st.ExportSnapshotFile(output)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Exported %d docs source(s) and %d repository source(s) to %s\n",
				len(snap.Docs), len(snap.Sources), output)
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "output path (default: --state)")
	return cmd
}

func importCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import FILE",
		Short: "Import a flat snapshot as historical facts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, _, err := newApp().syncedStore()
			if err != nil {
				return err
			}
			defer st.Close() //nolint:errcheck

			sum, err := st.ImportSnapshotFile(args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Imported %d watermark(s), %d page(s), %d file hash(es), %d source check(s)\n",
				sum.Watermarks, sum.Pages, sum.FileHashes, sum.SourceChecks)
			for _, s := range sum.Skipped {
				fmt.Fprintf(out, "  skipped %s\n", s)
			}
			return nil
		},
	}
}

func resetCmd() *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Delete every recorded fact, keeping dimensions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return fmt.Errorf("reset deletes all history; pass --yes to confirm")
			}
			st, err := newApp().openStore()
			if err != nil {
				return err
			}
			defer st.Close() //nolint:errcheck

			n, err := st.Reset()
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted %d row(s)\n", n)
			return nil
		},
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "confirm the reset")
	return cmd
}
