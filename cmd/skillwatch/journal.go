package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/joestump/skillwatch/internal/journal"
)

func journalCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "journal",
		Short: "Buffer and ingest editing-session events",
	}
	cmd.AddCommand(journalAppendCmd(), journalIngestCmd(), journalWatchCmd(), journalQueryCmd())
	return cmd
}

func journalAppendCmd() *cobra.Command {
	var ev journal.Event
	var metadata string
	cmd := &cobra.Command{
		Use:   "append",
		Short: "Append one event to the buffer (reads a JSON payload from stdin without --event-type)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a := newApp()
			redactor := journal.NewRedactor(os.Environ())
			if ev.EventType == "" {
				payload, err := io.ReadAll(cmd.InOrStdin())
				if err != nil {
					return fmt.Errorf("read payload: %w", err)
				}
				return journal.AppendRaw(a.cfg.JournalPath, ev.SessionID, []byte(redactor.Redact(string(payload))))
			}
			if metadata != "" {
				if err := json.Unmarshal([]byte(metadata), &ev.Metadata); err != nil {
					return fmt.Errorf("parse --metadata: %w", err)
				}
			}
			if ev.WorkingDir == "" {
				ev.WorkingDir, _ = os.Getwd()
			}
			return journal.Append(a.cfg.JournalPath, redactor.Event(ev))
		},
	}
	f := cmd.Flags()
	f.StringVar(&ev.SessionID, "session-id", os.Getenv("SKILLWATCH_SESSION_ID"), "editing session id")
	f.StringVar(&ev.EventType, "event-type", "", "event type (e.g. file_modified)")
	f.StringVar(&ev.TargetPath, "target-path", "", "path the event refers to")
	f.StringVar(&ev.WorkingDir, "working-dir", "", "working directory (default: current)")
	f.StringVar(&metadata, "metadata", "", "JSON object of extra attributes")
	return cmd
}

func journalIngestCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ingest",
		Short: "Record buffered events in the history database",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a := newApp()
			st, err := a.openStore()
			if err != nil {
				return err
			}
			defer st.Close() //nolint:errcheck

			n, err := journal.Ingest(a.cfg.JournalPath, st)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Ingested %d event(s)\n", n)
			return nil
		},
	}
}

func journalWatchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Ingest the buffer whenever it is written, until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a := newApp()
			st, err := a.openStore()
			if err != nil {
				return err
			}
			defer st.Close() //nolint:errcheck

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Watching %s\n", a.cfg.JournalPath)
			err = journal.Watch(cmd.Context(), a.cfg.JournalPath, func(context.Context) error {
				n, err := journal.Ingest(a.cfg.JournalPath, st)
				if n > 0 {
					fmt.Fprintf(out, "Ingested %d event(s)\n", n)
				}
				return err
			}, journal.WithLogger(a.logger))
			return err
		},
	}
}

func journalQueryCmd() *cobra.Command {
	var session string
	var days, limit int
	cmd := &cobra.Command{
		Use:   "query",
		Short: "List recorded session events, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if days < 0 || limit <= 0 {
				return fmt.Errorf("--days must not be negative and --limit must be positive")
			}
			st, err := newApp().openStore()
			if err != nil {
				return err
			}
			defer st.Close() //nolint:errcheck

			events, err := st.SessionActivity(session, days, limit)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, e := range events {
				fmt.Fprintf(out, "%s  %-12s %-16s %s\n", shortTime(e.EventAt), shortID(e.SessionID), e.EventType, e.TargetPath)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&session, "session", "", "only events of this session")
	cmd.Flags().IntVar(&days, "days", 7, "look back this many days (0 for all)")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum events")
	return cmd
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
