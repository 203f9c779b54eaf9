package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/joestump/skillwatch/internal/config"
	"github.com/joestump/skillwatch/internal/skillcheck"
	"github.com/joestump/skillwatch/internal/store"
	"github.com/joestump/skillwatch/internal/watermark"
)

// exitError ends the process with code without printing anything more.
type exitError struct{ code int }

func (e *exitError) Error() string { return fmt.Sprintf("exit status %d", e.code) }

func main() {
	rootCmd := &cobra.Command{
		Use:           "skillwatch",
		Short:         "Change detection and history for skill dependencies",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	f := rootCmd.PersistentFlags()
	f.String("db", ".skillwatch/skillwatch.db", "path to the history database")
	f.String("config", "skillwatch.yaml", "path to the watchlist document")
	f.String("state", ".skillwatch/state.json", "path to the flat snapshot document")
	f.String("journal", ".skillwatch/journal.jsonl", "path to the session event buffer")
	f.String("skills-dir", ".", "directory that relative skill paths resolve against")
	f.Duration("probe-timeout", watermark.DefaultTimeout, "timeout of watermark probes")
	f.Duration("fetch-timeout", 30*time.Second, "timeout of content fetches")
	f.Duration("clone-timeout", 120*time.Second, "timeout of repository clones")
	f.Duration("validator-timeout", skillcheck.DefaultTimeout, "timeout of one validator run")
	f.String("validator-cmd", skillcheck.DefaultCommand, "external skill validator command")
	f.String("user-agent", "skillwatch/"+config.Version, "User-Agent of HTTP requests")
	f.Int64("max-fetch-bytes", 20<<20, "maximum size of one fetched document")
	f.String("log-level", "warn", "log level (debug, info, warn, error)")

	// Viper keys use underscores so they match the SKILLWATCH_* env suffix.
	bindFlag := func(viperKey, flagName string) {
		_ = viper.BindPFlag(viperKey, f.Lookup(flagName))
	}
	bindFlag("db", "db")
	bindFlag("config", "config")
	bindFlag("state", "state")
	bindFlag("journal", "journal")
	bindFlag("skills_dir", "skills-dir")
	bindFlag("probe_timeout", "probe-timeout")
	bindFlag("fetch_timeout", "fetch-timeout")
	bindFlag("clone_timeout", "clone-timeout")
	bindFlag("validator_timeout", "validator-timeout")
	bindFlag("validator_cmd", "validator-cmd")
	bindFlag("user_agent", "user-agent")
	bindFlag("max_fetch_bytes", "max-fetch-bytes")
	bindFlag("log_level", "log-level")

	viper.SetEnvPrefix("SKILLWATCH")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))

	rootCmd.AddCommand(
		checkCmd(),
		historyCmd(),
		statsCmd(),
		exportCmd(),
		importCmd(),
		resetCmd(),
		freshnessCmd(),
		budgetCmd(),
		measureCmd(),
		validateCmd(),
		stageCmd(),
		journalCmd(),
		serveMCPCmd(),
		installMCPCmd(),
		versionCmd(),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		var exit *exitError
		if errors.As(err, &exit) {
			os.Exit(exit.code)
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// app is the per-invocation environment shared by every command.
type app struct {
	cfg    config.Config
	logger *slog.Logger
	runID  string
}

func newApp() *app {
	cfg := config.Load()
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		level = slog.LevelWarn
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	runID := uuid.NewString()
	return &app{cfg: cfg, logger: logger.With("run_id", runID), runID: runID}
}

// openStore opens and migrates the history database. Facts written through
// it carry the invocation's run id.
func (a *app) openStore() (*store.Store, error) {
	if err := os.MkdirAll(filepath.Dir(a.cfg.DBPath), 0o755); err != nil {
		return nil, fmt.Errorf("create database dir: %w", err)
	}
	st, err := store.Open(a.cfg.DBPath, store.WithLogger(a.logger))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	st.SetSessionID(a.runID)
	return st, nil
}

func (a *app) watchlist() (*config.Watchlist, error) {
	w, err := config.LoadWatchlist(a.cfg.ConfigPath)
	if err != nil {
		return nil, err
	}
	return w, nil
}

// syncedStore opens the store and brings its dimensions in line with the
// watchlist.
func (a *app) syncedStore() (*store.Store, *config.Watchlist, error) {
	w, err := a.watchlist()
	if err != nil {
		return nil, nil, err
	}
	st, err := a.openStore()
	if err != nil {
		return nil, nil, err
	}
	if _, err := st.SyncDimensions(w); err != nil {
		st.Close() //nolint:errcheck
		return nil, nil, err
	}
	return st, w, nil
}

// shortTime trims a stored timestamp to the second.
func shortTime(ts string) string {
	if len(ts) > 19 {
		return ts[:19]
	}
	return ts
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "skillwatch %s\n", config.Version)
		},
	}
}
