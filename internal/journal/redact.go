package journal

import (
	"net/url"
	"sort"
	"strings"
)

// secretSuffixes mark environment variables whose values never reach the
// buffer.
var secretSuffixes = []string{"_TOKEN", "_KEY", "_SECRET", "_PASSWORD", "_CREDENTIALS"}

// minSecretLen keeps short values like "1" from redacting unrelated text.
const minSecretLen = 6

// Redactor replaces known secret values with [REDACTED:NAME] placeholders.
type Redactor struct {
	values       []string // longest first, so overlapping secrets redact whole
	replacements map[string]string
}

// NewRedactor collects secrets from environ ("NAME=value" entries, as from
// os.Environ). Both raw and URL-encoded forms are replaced.
func NewRedactor(environ []string) *Redactor {
	r := &Redactor{replacements: make(map[string]string)}
	for _, env := range environ {
		name, value, ok := strings.Cut(env, "=")
		if !ok || len(value) < minSecretLen || !isSecretName(name) {
			continue
		}
		r.add(value, "[REDACTED:"+name+"]")
		if encoded := url.QueryEscape(value); encoded != value {
			r.add(encoded, "[REDACTED:"+name+":urlencoded]")
		}
	}
	sort.Slice(r.values, func(i, j int) bool {
		if len(r.values[i]) != len(r.values[j]) {
			return len(r.values[i]) > len(r.values[j])
		}
		return r.values[i] < r.values[j]
	})
	return r
}

func isSecretName(name string) bool {
	upper := strings.ToUpper(name)
	for _, suffix := range secretSuffixes {
		if strings.HasSuffix(upper, suffix) {
			return true
		}
	}
	return false
}

func (r *Redactor) add(value, placeholder string) {
	if _, ok := r.replacements[value]; !ok {
		r.values = append(r.values, value)
	}
	r.replacements[value] = placeholder
}

// Redact returns s with every known secret replaced. A nil Redactor passes s
// through.
func (r *Redactor) Redact(s string) string {
	if r == nil {
		return s
	}
	for _, v := range r.values {
		s = strings.ReplaceAll(s, v, r.replacements[v])
	}
	return s
}

// Event redacts the free-text fields of ev, including string metadata
// values at any depth.
func (r *Redactor) Event(ev Event) Event {
	if r == nil || len(r.values) == 0 {
		return ev
	}
	ev.TargetPath = r.Redact(ev.TargetPath)
	ev.WorkingDir = r.Redact(ev.WorkingDir)
	if ev.Metadata != nil {
		ev.Metadata = r.redactValue(ev.Metadata).(map[string]any)
	}
	return ev
}

func (r *Redactor) redactValue(v any) any {
	switch t := v.(type) {
	case string:
		return r.Redact(t)
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = r.redactValue(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = r.redactValue(val)
		}
		return out
	default:
		return v
	}
}
