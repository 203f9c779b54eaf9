package mcpserver

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// ServerEntry is one stdio server of an MCP client configuration.
type ServerEntry struct {
	Command string   `json:"command"`
	Args    []string `json:"args,omitempty"`
}

// Install registers entry under name in the "mcpServers" map of the client
// configuration at path, creating the file when missing. Other servers and
// top-level keys are kept; an existing entry of the same name is replaced.
// It reports whether an entry was replaced.
func Install(path, name string, entry ServerEntry) (bool, error) {
	cfg, err := readJSONFile(path)
	if err != nil {
		return false, fmt.Errorf("reading MCP config: %w", err)
	}

	servers, _ := cfg["mcpServers"].(map[string]any)
	if servers == nil {
		if _, present := cfg["mcpServers"]; present {
			return false, fmt.Errorf("reading MCP config: mcpServers is not an object")
		}
		servers = make(map[string]any)
	}
	_, replaced := servers[name]
	servers[name] = entry
	cfg["mcpServers"] = servers

	if err := writeJSONFile(path, cfg); err != nil {
		return false, fmt.Errorf("writing MCP config: %w", err)
	}
	return replaced, nil
}

// readJSONFile reads a JSON object; a missing file reads as empty.
func readJSONFile(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return map[string]any{}, nil
	}
	if err != nil {
		return nil, err
	}
	var result map[string]any
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, err
	}
	if result == nil {
		result = map[string]any{}
	}
	return result, nil
}

// writeJSONFile writes v as indented JSON, replacing path atomically.
func writeJSONFile(path string, v any) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	out = append(out, '\n')
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, out, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
