package mcpserver

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func readConfig(t *testing.T, path string) map[string]any {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	var cfg map[string]any
	if err := json.Unmarshal(data, &cfg); err != nil {
		t.Fatal(err)
	}
	return cfg
}

func TestInstallCreatesConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", ".mcp.json")

	replaced, err := Install(path, "skillwatch", ServerEntry{Command: "/usr/bin/skillwatch", Args: []string{"serve-mcp"}})
	if err != nil {
		t.Fatalf("Install: %v", err)
	}
	if replaced {
		t.Error("nothing should be replaced in a new file")
	}
	servers := readConfig(t, path)["mcpServers"].(map[string]any)
	entry := servers["skillwatch"].(map[string]any)
	if entry["command"] != "/usr/bin/skillwatch" {
		t.Errorf("unexpected entry: %v", entry)
	}
}

func TestInstallKeepsOtherServers(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".mcp.json")
	existing := `{
  "mcpServers": {
    "other": {"command": "other-server"},
    "skillwatch": {"command": "old"}
  },
  "theme": "dark"
}`
	if err := os.WriteFile(path, []byte(existing), 0o644); err != nil {
		t.Fatal(err)
	}

	replaced, err := Install(path, "skillwatch", ServerEntry{Command: "new", Args: []string{"serve-mcp", "--db", "/data/sw.db"}})
	if err != nil {
		t.Fatal(err)
	}
	if !replaced {
		t.Error("expected the old entry to be replaced")
	}

	cfg := readConfig(t, path)
	if cfg["theme"] != "dark" {
		t.Error("top-level keys should be kept")
	}
	servers := cfg["mcpServers"].(map[string]any)
	if _, ok := servers["other"]; !ok {
		t.Error("other servers should be kept")
	}
	args := servers["skillwatch"].(map[string]any)["args"].([]any)
	if len(args) != 3 || args[2] != "/data/sw.db" {
		t.Errorf("unexpected args: %v", args)
	}
	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Error("temporary file left behind")
	}
}

func TestInstallRejectsMalformed(t *testing.T) {
	dir := t.TempDir()
	for name, content := range map[string]string{
		"broken.json":  "{not json",
		"servers.json": `{"mcpServers": ["x"]}`,
	} {
		path := filepath.Join(dir, name)
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
		if _, err := Install(path, "skillwatch", ServerEntry{Command: "x"}); err == nil {
			t.Errorf("%s: expected an error", name)
		}
		data, _ := os.ReadFile(path)
		if string(data) != content {
			t.Errorf("%s: malformed config must not be overwritten", name)
		}
	}
}
