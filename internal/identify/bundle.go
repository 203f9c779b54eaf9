// Package identify fetches documentation bundles and pages, splits them into
// addressable units and reports the units whose fingerprint changed.
package identify

import (
	"bytes"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

const sourcePrefix = "Source: "

// Unit is one addressable section of a documentation bundle.
type Unit struct {
	URL     string
	Title   string
	Content string
}

// Split breaks a bundle into units. A unit begins at a "# heading" line that
// is immediately followed by a "Source: http(s)://..." line; its content is
// everything up to the next unit, trimmed. Text before the first delimiter is
// ignored. When a URL appears twice the later content wins but the unit keeps
// its first position.
func Split(bundle string) []Unit {
	lines := strings.Split(strings.ReplaceAll(bundle, "\r\n", "\n"), "\n")

	var starts []int
	for i := 0; i+1 < len(lines); i++ {
		if isHeading(lines[i]) && isSourceLine(lines[i+1]) {
			starts = append(starts, i)
		}
	}

	var units []Unit
	index := make(map[string]int)
	for n, start := range starts {
		end := len(lines)
		if n+1 < len(starts) {
			end = starts[n+1]
		}

		url := strings.TrimSpace(strings.TrimPrefix(lines[start+1], sourcePrefix))
		u := Unit{
			URL:     url,
			Title:   headingText(lines[start]),
			Content: strings.TrimSpace(strings.Join(lines[start+2:end], "\n")),
		}
		if i, ok := index[url]; ok {
			units[i] = u
			continue
		}
		index[url] = len(units)
		units = append(units, u)
	}
	return units
}

func isHeading(line string) bool {
	return strings.HasPrefix(line, "# ") && len(line) > 2
}

func isSourceLine(line string) bool {
	rest, ok := strings.CutPrefix(line, sourcePrefix)
	if !ok {
		return false
	}
	return strings.HasPrefix(rest, "http://") || strings.HasPrefix(rest, "https://")
}

var headingParser = goldmark.New()

// headingText renders a markdown heading line to plain text, dropping
// emphasis, code and link markup.
func headingText(line string) string {
	src := []byte(line)
	doc := headingParser.Parser().Parse(text.NewReader(src))

	var buf bytes.Buffer
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch t := n.(type) {
		case *ast.Text:
			buf.Write(t.Segment.Value(src))
			if t.SoftLineBreak() || t.HardLineBreak() {
				buf.WriteByte(' ')
			}
		case *ast.String:
			buf.Write(t.Value)
		}
		return ast.WalkContinue, nil
	})

	title := strings.TrimSpace(buf.String())
	if title == "" {
		return strings.TrimSpace(strings.TrimPrefix(line, "#"))
	}
	return title
}
