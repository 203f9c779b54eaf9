package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/joestump/skillwatch/internal/freshness"
	"github.com/joestump/skillwatch/internal/measure"
	"github.com/joestump/skillwatch/internal/skillcheck"
	"github.com/joestump/skillwatch/internal/store"
)

func freshnessCmd() *cobra.Command {
	var threshold string
	var quiet bool
	cmd := &cobra.Command{
		Use:   "freshness [skill]",
		Short: "Report skills whose sources have not been checked recently",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			limit, err := freshness.ParseThreshold(threshold)
			if err != nil {
				return err
			}
			a := newApp()
			w, err := a.watchlist()
			if err != nil {
				return err
			}
			st, err := a.openStore()
			if err != nil {
				return err
			}
			defer st.Close() //nolint:errcheck

			var skill string
			if len(args) == 1 {
				skill = args[0]
			}
			results, err := freshness.NewChecker(st, w, limit).CheckAll(skill)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, r := range results {
				switch {
				case r.Stale:
					fmt.Fprintf(out, "STALE  %s\n", r.Message)
				case !quiet:
					fmt.Fprintf(out, "OK     %s (last checked %d days ago)\n", r.Skill, *r.StalenessDays)
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&threshold, "threshold", "7d", "staleness threshold (e.g. 7d, 36h)")
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "only report stale skills")
	return cmd
}

func budgetCmd() *cobra.Command {
	var trend bool
	cmd := &cobra.Command{
		Use:   "budget [skill]",
		Short: "Show recorded token budgets",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var skill string
			if len(args) == 1 {
				skill = args[0]
			}
			st, err := newApp().openStore()
			if err != nil {
				return err
			}
			defer st.Close() //nolint:errcheck

			out := cmd.OutOrStdout()
			if trend {
				points, err := st.SkillBudgetTrend(skill)
				if err != nil {
					return err
				}
				for _, p := range points {
					fmt.Fprintf(out, "%s  %-24s %6d tokens (%d files)\n", p.Date, p.SkillName, p.TotalTokens, p.FileCount)
				}
				return nil
			}

			rows, err := st.SkillBudget(skill)
			if err != nil {
				return err
			}
			if len(rows) == 0 {
				fmt.Fprintln(out, "No measurements recorded. Run `skillwatch measure --record` first.")
				return nil
			}
			critical := false
			for _, b := range rows {
				status := budgetStatus(b.TotalTokens)
				critical = critical || status == measure.StatusCritical
				fmt.Fprintf(out, "%-24s %6d tokens  SKILL.md %d  references %d  files %d  [%s]\n",
					b.SkillName, b.TotalTokens, b.SkillMDTokens, b.ReferenceTokens, b.FileCount, status)
			}
			if critical {
				return &exitError{code: 2}
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&trend, "trend", false, "show the daily trend instead of the latest budget")
	return cmd
}

func budgetStatus(tokens int) measure.Status {
	return (&measure.Skill{TotalTokens: tokens}).Status()
}

func measureCmd() *cobra.Command {
	var skill, dir string
	var record bool
	cmd := &cobra.Command{
		Use:   "measure",
		Short: "Measure the token cost of skill files",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a := newApp()

			var skills []*measure.Skill
			var err error
			if dir != "" {
				skills, err = measure.Discovered(dir, skill)
			} else {
				w, werr := a.watchlist()
				if werr != nil {
					return werr
				}
				skills, err = measure.Configured(w, a.cfg.SkillsDir, skill)
			}
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			critical := false
			for _, sk := range skills {
				printMeasurement(out, sk)
				critical = critical || sk.Status() == measure.StatusCritical
			}

			if record {
				st, _, err := a.syncedStore()
				if err != nil {
					return err
				}
				defer st.Close() //nolint:errcheck
				for _, sk := range skills {
					if err := measure.Record(st, sk); err != nil {
						return fmt.Errorf("record %s: %w", sk.Name, err)
					}
				}
				fmt.Fprintf(out, "\nRecorded %d measurement(s)\n", st.FactsInserted())
			}
			if critical {
				return &exitError{code: 2}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&skill, "skill", "", "measure only this skill")
	cmd.Flags().StringVar(&dir, "dir", "", "discover skills under this directory instead of the watchlist")
	cmd.Flags().BoolVar(&record, "record", false, "record the measurements in the history database")
	return cmd
}

func printMeasurement(out io.Writer, sk *measure.Skill) {
	fmt.Fprintf(out, "%-24s %6d tokens [%s]\n", sk.Name, sk.TotalTokens, sk.Status())
	byType := sk.TokensByType()
	for _, ft := range measure.FileTypes {
		if n, ok := byType[ft]; ok {
			fmt.Fprintf(out, "    %-12s %6d\n", ft, n)
		}
	}
}

func validateCmd() *cobra.Command {
	var trigger string
	cmd := &cobra.Command{
		Use:   "validate <skill>",
		Short: "Validate a skill and record the result",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a := newApp()
			st, w, err := a.syncedStore()
			if err != nil {
				return err
			}
			defer st.Close() //nolint:errcheck

			sk, ok := w.Skill(args[0])
			if !ok {
				return fmt.Errorf("validate %s: %w", args[0], store.ErrUnknownSkill)
			}
			res := a.validator().Validate(cmd.Context(), skillcheck.SkillDir(sk, a.cfg.SkillsDir))
			if err := skillcheck.Record(st, sk.Name, res, trigger); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			for _, e := range res.Errors {
				fmt.Fprintf(out, "error:   %s\n", e)
			}
			for _, wn := range res.Warnings {
				fmt.Fprintf(out, "warning: %s\n", wn)
			}
			if !res.Valid {
				fmt.Fprintf(out, "%s is invalid\n", sk.Name)
				return &exitError{code: 1}
			}
			fmt.Fprintf(out, "%s is valid\n", sk.Name)
			return nil
		},
	}
	cmd.Flags().StringVar(&trigger, "trigger", "manual", "trigger recorded with the result")
	return cmd
}

func (a *app) validator() *skillcheck.Validator {
	return skillcheck.NewValidator(skillcheck.ExecRunner{},
		skillcheck.WithCommand(a.cfg.ValidatorCmd),
		skillcheck.WithTimeout(a.cfg.ValidatorTimeout),
		skillcheck.WithLogger(a.logger))
}

func stageCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stage <skill>",
		Short: "Back up a skill and print the changes it needs to absorb",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a := newApp()
			st, w, err := a.syncedStore()
			if err != nil {
				return err
			}
			defer st.Close() //nolint:errcheck

			res, err := skillcheck.NewStager(st, w, a.validator(), a.cfg.SkillsDir).Stage(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if !res.Staged() {
				fmt.Fprintf(cmd.OutOrStdout(), "No changes for %s since its last update attempt.\n", res.Skill)
				return nil
			}
			fmt.Fprint(cmd.OutOrStdout(), res.Context())
			return nil
		},
	}
}
