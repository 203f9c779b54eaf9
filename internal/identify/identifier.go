package identify

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/joestump/skillwatch/internal/fingerprint"
)

const (
	// DefaultTimeout bounds a full bundle or page fetch.
	DefaultTimeout = 30 * time.Second
	// DefaultMaxBytes caps the size of a fetched body.
	DefaultMaxBytes int64 = 64 << 20
)

// StoredUnit is the last recorded state of a unit.
type StoredUnit struct {
	Hash    string
	Content string // preview of the content at the time it was recorded
}

// UnitChange is a unit whose fingerprint differs from the stored one.
type UnitChange struct {
	URL        string
	Title      string
	OldHash    string
	NewHash    string
	OldContent string
	NewContent string
}

// Result is the outcome of comparing a set of units against stored state.
type Result struct {
	Changes []UnitChange
	// Compared counts the units that passed the watch filter.
	Compared int
	// Missing lists watched URLs absent from the fetched units.
	Missing []string
}

// Identifier fetches bundles and pages over HTTP.
type Identifier struct {
	client    *http.Client
	userAgent string
	maxBytes  int64
	logger    *slog.Logger
}

// Option configures an Identifier.
type Option func(*Identifier)

// WithClient replaces the HTTP client.
func WithClient(c *http.Client) Option {
	return func(i *Identifier) { i.client = c }
}

// WithUserAgent sets the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(i *Identifier) { i.userAgent = ua }
}

// WithMaxBytes caps the size of fetched bodies.
func WithMaxBytes(n int64) Option {
	return func(i *Identifier) {
		if n > 0 {
			i.maxBytes = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(i *Identifier) { i.logger = l }
}

// New creates an Identifier whose fetches time out after timeout.
func New(timeout time.Duration, opts ...Option) *Identifier {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	i := &Identifier{
		client:   &http.Client{Timeout: timeout},
		maxBytes: DefaultMaxBytes,
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Identify fetches the bundle at location, splits it into units and compares
// the units selected by watched (all of them when watched is empty) with
// stored. An empty bundle is not an error.
func (i *Identifier) Identify(ctx context.Context, location string, watched []string, stored map[string]StoredUnit) (*Result, error) {
	body, _, err := i.get(ctx, location)
	if err != nil {
		return nil, err
	}

	units := Split(string(body))
	i.logger.Debug("bundle split", "location", location, "units", len(units))
	return Compare(units, watched, stored), nil
}

// Compare filters units to watched (all when empty), fingerprints each and
// returns those whose fingerprint differs from stored.
func Compare(units []Unit, watched []string, stored map[string]StoredUnit) *Result {
	res := &Result{}

	selected := units
	if len(watched) > 0 {
		want := make(map[string]bool, len(watched))
		for _, u := range watched {
			want[u] = true
		}
		present := make(map[string]bool, len(units))
		selected = nil
		for _, u := range units {
			if want[u.URL] {
				selected = append(selected, u)
				present[u.URL] = true
			}
		}
		for _, u := range watched {
			if !present[u] {
				res.Missing = append(res.Missing, u)
			}
		}
	}

	for _, u := range selected {
		res.Compared++
		hash := fingerprint.Content(u.Content)
		old := stored[u.URL]
		if hash == old.Hash {
			continue
		}
		res.Changes = append(res.Changes, UnitChange{
			URL:        u.URL,
			Title:      u.Title,
			OldHash:    old.Hash,
			NewHash:    hash,
			OldContent: old.Content,
			NewContent: u.Content,
		})
	}
	return res
}

func (i *Identifier) get(ctx context.Context, location string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, location, nil)
	if err != nil {
		return nil, "", fmt.Errorf("create request: %w", err)
	}
	if i.userAgent != "" {
		req.Header.Set("User-Agent", i.userAgent)
	}

	resp, err := i.client.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("fetch: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("HTTP %d: %s", resp.StatusCode, http.StatusText(resp.StatusCode))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, i.maxBytes+1))
	if err != nil {
		return nil, "", fmt.Errorf("read body: %w", err)
	}
	if int64(len(body)) > i.maxBytes {
		return nil, "", fmt.Errorf("content too large (exceeds %d bytes)", i.maxBytes)
	}
	return body, resp.Header.Get("Content-Type"), nil
}
