package mcp

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadFileConfigJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mcp.json")
	data := `{
  "mcpServers": {
    "Files": {"command": "npx", "args": ["-y", "@modelcontextprotocol/server-filesystem", "/tmp"], "env": {"DEBUG": "1"}},
    "off": {"command": "uvx", "enabled": false}
  }
}`
	if err := os.WriteFile(path, []byte(data), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFileConfig(path)
	if err != nil {
		t.Fatalf("LoadFileConfig: %v", err)
	}
	if names := cfg.ServerNames(); len(names) != 2 || names[0] != "Files" {
		t.Fatalf("ServerNames = %v", names)
	}
	files := cfg.Servers["Files"]
	if !files.IsEnabled() || len(files.Args) != 3 || files.Env["DEBUG"] != "1" {
		t.Fatalf("Files = %+v", files)
	}
	if cfg.Servers["off"].IsEnabled() {
		t.Fatal("off should be disabled")
	}

	sc := files.ServerConfig("Files")
	if sc.ID != "config_files" || sc.Name != "Files" || sc.Command != "npx" {
		t.Fatalf("ServerConfig = %+v", sc)
	}
}

func TestLoadFileConfigYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mcp.yaml")
	data := "mcpServers:\n  git:\n    command: uvx\n    args: [mcp-server-git]\n    cwd: /src\n"
	if err := os.WriteFile(path, []byte(data), 0644); err != nil {
		t.Fatal(err)
	}
	cfg, err := LoadFileConfig(path)
	if err != nil {
		t.Fatalf("LoadFileConfig: %v", err)
	}
	git := cfg.Servers["git"]
	if git.Command != "uvx" || git.Cwd != "/src" || len(git.Args) != 1 {
		t.Fatalf("git = %+v", git)
	}
}

func TestLoadFileConfigMissing(t *testing.T) {
	cfg, err := LoadFileConfig(filepath.Join(t.TempDir(), "nope.json"))
	if err != nil {
		t.Fatalf("LoadFileConfig: %v", err)
	}
	if cfg.Servers == nil || len(cfg.Servers) != 0 {
		t.Fatalf("Servers = %v", cfg.Servers)
	}
}

func TestFileConfigSaveReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "mcp.json")
	cfg := &FileConfig{}
	cfg.AddServer("fetch", FileServer{Command: "uvx", Args: []string{"mcp-server-fetch"}})
	cfg.AddServer("tmp", FileServer{Command: "x"})
	if !cfg.RemoveServer("tmp") || cfg.RemoveServer("tmp") {
		t.Fatal("RemoveServer should report existence")
	}
	if err := cfg.Save(path); err != nil {
		t.Fatalf("Save: %v", err)
	}
	loaded, err := LoadFileConfig(path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if len(loaded.Servers) != 1 || loaded.Servers["fetch"].Args[0] != "mcp-server-fetch" {
		t.Fatalf("reloaded = %+v", loaded.Servers)
	}
}

func TestServerIDFromName(t *testing.T) {
	tests := map[string]string{
		"Files":            "config_files",
		"My Server!":       "config_my_server",
		"git-tools":        "config_git-tools",
		"  weird//name  ":  "config_weird_name",
		"__":               "config_server",
		"Ünïcode Tool 2":   "config_n_code_tool_2",
	}
	for in, want := range tests {
		if got := ServerIDFromName(in); got != want {
			t.Errorf("ServerIDFromName(%q) = %q, want %q", in, got, want)
		}
	}
}
