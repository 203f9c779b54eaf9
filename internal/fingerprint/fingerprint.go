// Package fingerprint provides deterministic content digests, surrogate keys
// and line-set diffing. Everything here is pure and stateless.
package fingerprint

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// Normalize returns the canonical form of s used before fingerprinting:
// line endings folded to LF, Unicode NFC, surrounding whitespace trimmed.
func Normalize(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	return strings.TrimSpace(norm.NFC.String(s))
}

// Content returns the hex SHA-256 of the normalized form of s.
func Content(s string) string {
	sum := sha256.Sum256([]byte(Normalize(s)))
	return hex.EncodeToString(sum[:])
}

// Bytes returns the hex SHA-256 of b without any normalization.
func Bytes(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// absentPart stands in for a missing natural-key component.
const absentPart = "-1"

// Key derives a surrogate key from natural-key parts. Empty parts are encoded
// as "-1". The tuple is hashed in its JSON array form so part boundaries can
// never be confused.
func Key(parts ...string) string {
	tuple := make([]string, len(parts))
	for i, p := range parts {
		if p == "" {
			p = absentPart
		}
		tuple[i] = norm.NFC.String(p)
	}
	data, _ := json.Marshal(tuple)
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:16])
}

// Attributes returns an order-independent digest of descriptive attributes.
// Map keys are sorted, nil values and empty slices are dropped, strings are
// NFC normalized and string slices are sorted, so two logically identical
// attribute sets always produce the same digest.
func Attributes(attrs map[string]any) string {
	canon := make(map[string]any, len(attrs))
	for k, v := range attrs {
		switch val := v.(type) {
		case nil:
			continue
		case string:
			canon[k] = norm.NFC.String(val)
		case []string:
			if len(val) == 0 {
				continue
			}
			sorted := make([]string, len(val))
			for i, s := range val {
				sorted[i] = norm.NFC.String(s)
			}
			sort.Strings(sorted)
			canon[k] = sorted
		default:
			canon[k] = val
		}
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	// encoding/json writes map keys in sorted order.
	_ = enc.Encode(canon)

	sum := sha256.Sum256(bytes.TrimSpace(buf.Bytes()))
	return hex.EncodeToString(sum[:])
}
