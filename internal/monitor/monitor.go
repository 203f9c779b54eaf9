// Package monitor drives the per-source check pipelines: watermark probe,
// unit identification and classification for documentation bundles, and
// shallow-clone commit analysis for source repositories. Every outcome is
// written to the store.
package monitor

import (
	"context"
	"errors"
	"io"
	"log/slog"

	"github.com/joestump/skillwatch/internal/classify"
	"github.com/joestump/skillwatch/internal/identify"
	"github.com/joestump/skillwatch/internal/watermark"
)

// ErrUnknownSource is returned when a check names a source that the
// watchlist does not declare.
var ErrUnknownSource = errors.New("unknown source")

// WatermarkDetector probes a bundle location for conditional metadata.
type WatermarkDetector interface {
	Detect(ctx context.Context, location string, stored watermark.Watermark) (bool, watermark.Watermark)
}

// ContentIdentifier fetches bundles and individual pages.
type ContentIdentifier interface {
	Identify(ctx context.Context, location string, watched []string, stored map[string]identify.StoredUnit) (*identify.Result, error)
	FetchPage(ctx context.Context, url string) (identify.Unit, error)
}

// Change is one recorded change, as reported back to the caller.
type Change struct {
	Target         string                  `json:"target"`
	Classification classify.Classification `json:"classification"`
	OldHash        string                  `json:"old_hash"`
	NewHash        string                  `json:"new_hash"`
	Summary        string                  `json:"summary"`
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
