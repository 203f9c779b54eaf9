// Package watermark decides whether a remote bundle needs a full fetch by
// probing its conditional metadata (Last-Modified and ETag).
package watermark

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// DefaultTimeout bounds a single probe.
const DefaultTimeout = 10 * time.Second

// Watermark is the conditional metadata last observed for a location.
type Watermark struct {
	LastModified string
	ETag         string
	CheckedAt    time.Time
}

// Empty reports whether the watermark carries no conditional indicator.
func (w Watermark) Empty() bool {
	return w.LastModified == "" && w.ETag == ""
}

// Detector probes locations with HEAD requests.
type Detector struct {
	client    *http.Client
	userAgent string
	logger    *slog.Logger
	now       func() time.Time
}

// Option configures a Detector.
type Option func(*Detector)

// WithClient replaces the HTTP client used for probes.
func WithClient(c *http.Client) Option {
	return func(d *Detector) { d.client = c }
}

// WithUserAgent sets the User-Agent header sent with each probe.
func WithUserAgent(ua string) Option {
	return func(d *Detector) { d.userAgent = ua }
}

// WithLogger sets the logger for probe failures.
func WithLogger(l *slog.Logger) Option {
	return func(d *Detector) { d.logger = l }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(d *Detector) { d.now = now }
}

// NewDetector creates a Detector whose probes time out after timeout.
func NewDetector(timeout time.Duration, opts ...Option) *Detector {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	d := &Detector{
		client: &http.Client{Timeout: timeout},
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Detect probes location and compares its indicators with stored.
//
// An unreachable origin, a timeout or a non-2xx answer reports changed=true
// and hands back stored unchanged. A response without Last-Modified and
// ETag also reports changed=true since nothing can be compared.
func (d *Detector) Detect(ctx context.Context, location string, stored Watermark) (bool, Watermark) {
	resp, err := d.head(ctx, location)
	if err != nil {
		d.logger.Warn("watermark probe failed", "location", location, "error", err)
		return true, stored
	}

	current := Watermark{
		LastModified: resp.Header.Get("Last-Modified"),
		ETag:         resp.Header.Get("ETag"),
		CheckedAt:    d.now().UTC(),
	}
	if current.Empty() {
		return true, current
	}

	changed := current.LastModified != stored.LastModified || current.ETag != stored.ETag
	return changed, current
}

func (d *Detector) head(ctx context.Context, location string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, location, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if d.userAgent != "" {
		req.Header.Set("User-Agent", d.userAgent)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("head: %w", err)
	}
	resp.Body.Close() //nolint:errcheck

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, http.StatusText(resp.StatusCode))
	}
	return resp, nil
}
