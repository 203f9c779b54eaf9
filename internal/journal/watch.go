package journal

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce is how long Watch waits for more writes before calling fn.
const DefaultDebounce = 500 * time.Millisecond

type watchConfig struct {
	debounce time.Duration
	logger   *slog.Logger
}

// WatchOption configures Watch.
type WatchOption func(*watchConfig)

// WithDebounce sets the quiet period after a write before fn runs.
func WithDebounce(d time.Duration) WatchOption {
	return func(c *watchConfig) { c.debounce = d }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) WatchOption {
	return func(c *watchConfig) { c.logger = l }
}

// Watch calls fn once, then again after every burst of writes to the buffer
// at path, until ctx is done. The buffer need not exist yet; its directory
// is watched. An error from fn stops the loop and is returned.
func Watch(ctx context.Context, path string, fn func(context.Context) error, opts ...WatchOption) error {
	cfg := watchConfig{
		debounce: DefaultDebounce,
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	path = filepath.Clean(path)
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create journal dir: %w", err)
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("start watcher: %w", err)
	}
	defer w.Close() //nolint:errcheck
	if err := w.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	cfg.logger.Info("watching journal", "path", path, "debounce", cfg.debounce)

	if err := fn(ctx); err != nil {
		return err
	}

	timer := time.NewTimer(cfg.debounce)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != path || !ev.Has(fsnotify.Write|fsnotify.Create) {
				continue
			}
			cfg.logger.Debug("journal written", "op", ev.Op.String())
			timer.Reset(cfg.debounce)

		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			cfg.logger.Error("watcher error", "error", err)

		case <-timer.C:
			if err := fn(ctx); err != nil {
				return err
			}
		}
	}
}
