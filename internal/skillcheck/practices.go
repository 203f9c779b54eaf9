package skillcheck

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Recommended SKILL.md size limits.
const (
	MaxSkillLines = 500
	MaxSkillWords = 5000
)

var (
	whatPhrases = []string{"use when", "use for", "handles", "manages", "creates", "generates", "monitors", "validates", "analyzes"}
	whenPhrases = []string{"use when", "when user", "when the", "if user", "trigger", "mention"}
)

func findSkillMD(dir string) (string, bool) {
	for _, name := range []string{"SKILL.md", "skill.md"} {
		p := filepath.Join(dir, name)
		if info, err := os.Stat(p); err == nil && !info.IsDir() {
			return p, true
		}
	}
	return "", false
}

// splitFrontmatter separates a leading "---" YAML block from the body.
func splitFrontmatter(content string) (map[string]any, string, error) {
	normalized := strings.ReplaceAll(content, "\r\n", "\n")
	if !strings.HasPrefix(normalized, "---\n") {
		return nil, normalized, fmt.Errorf("missing frontmatter")
	}
	rest := normalized[len("---\n"):]
	end := strings.Index(rest, "\n---")
	if end < 0 {
		return nil, normalized, fmt.Errorf("unterminated frontmatter")
	}
	var meta map[string]any
	if err := yaml.Unmarshal([]byte(rest[:end]), &meta); err != nil {
		return nil, normalized, fmt.Errorf("parse frontmatter: %w", err)
	}
	body := strings.TrimPrefix(rest[end+len("\n---"):], "\n")
	return meta, body, nil
}

func containsAny(s string, phrases []string) bool {
	for _, p := range phrases {
		if strings.Contains(s, p) {
			return true
		}
	}
	return false
}

// BestPractices returns advisory warnings for the skill in dir.
func BestPractices(dir string) []string {
	skillMD, ok := findSkillMD(dir)
	if !ok {
		return []string{"SKILL.md not found"}
	}
	data, err := os.ReadFile(skillMD)
	if err != nil {
		return []string{fmt.Sprintf("SKILL.md unreadable: %v", err)}
	}
	content := string(data)

	var warnings []string
	if n := len(strings.Split(strings.TrimSuffix(content, "\n"), "\n")); content != "" && n > MaxSkillLines {
		warnings = append(warnings, fmt.Sprintf(
			"SKILL.md has %d lines (recommended max: %d). Consider moving detailed docs to references/.", n, MaxSkillLines))
	}
	if n := len(strings.Fields(content)); n > MaxSkillWords {
		warnings = append(warnings, fmt.Sprintf(
			"SKILL.md has %d words (recommended max: %d). Consider using progressive disclosure.", n, MaxSkillWords))
	}

	// The external validator reports frontmatter errors.
	meta, body, err := splitFrontmatter(content)
	if err != nil {
		return warnings
	}

	if desc, _ := meta["description"].(string); desc != "" {
		lower := strings.ToLower(desc)
		if !containsAny(lower, whatPhrases) {
			warnings = append(warnings,
				"Description may be missing WHAT the skill does. Include verbs like 'handles', 'generates', 'monitors'.")
		}
		if !containsAny(lower, whenPhrases) {
			warnings = append(warnings,
				"Description may be missing WHEN to use it (trigger conditions). Include phrases like 'Use when user says...' or trigger keywords.")
		}
		if strings.ContainsAny(desc, "<>") {
			warnings = append(warnings,
				"Description contains angle brackets (< >), which are forbidden in frontmatter.")
		}
	}

	if _, err := os.Stat(filepath.Join(dir, "README.md")); err == nil {
		warnings = append(warnings,
			"README.md found in skill folder. Keep all documentation in SKILL.md or references/.")
	}

	entries, err := os.ReadDir(filepath.Join(dir, "references"))
	if err == nil {
		lowerBody := strings.ToLower(body)
		for _, e := range entries {
			if strings.HasPrefix(e.Name(), ".") {
				continue
			}
			if !strings.Contains(lowerBody, strings.ToLower(e.Name())) {
				warnings = append(warnings, fmt.Sprintf(
					"Reference file '%s' may not be linked from SKILL.md.", e.Name()))
			}
		}
	}
	return warnings
}
