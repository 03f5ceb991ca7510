package mcp

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// FileConfig is the mcp.json file: {"mcpServers": {name: {...}}}. YAML is
// accepted too.
type FileConfig struct {
	Servers map[string]FileServer `json:"mcpServers" yaml:"mcpServers"`
}

// FileServer is one entry of the file. Enabled defaults to true.
type FileServer struct {
	Command     string            `json:"command" yaml:"command"`
	Args        []string          `json:"args,omitempty" yaml:"args,omitempty"`
	Env         map[string]string `json:"env,omitempty" yaml:"env,omitempty"`
	Cwd         string            `json:"cwd,omitempty" yaml:"cwd,omitempty"`
	Enabled     *bool             `json:"enabled,omitempty" yaml:"enabled,omitempty"`
	Description string            `json:"description,omitempty" yaml:"description,omitempty"`
}

// IsEnabled reports whether the server should start automatically.
func (s FileServer) IsEnabled() bool {
	return s.Enabled == nil || *s.Enabled
}

// ServerConfig converts a named entry into a launch config.
func (s FileServer) ServerConfig(name string) ServerConfig {
	return ServerConfig{
		ID:      ServerIDFromName(name),
		Name:    name,
		Command: s.Command,
		Args:    s.Args,
		Env:     s.Env,
		Cwd:     s.Cwd,
	}
}

// LoadFileConfig reads the server file. A missing file is an empty config.
func LoadFileConfig(path string) (*FileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &FileConfig{Servers: make(map[string]FileServer)}, nil
		}
		return nil, err
	}

	var cfg FileConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if cfg.Servers == nil {
		cfg.Servers = make(map[string]FileServer)
	}
	return &cfg, nil
}

// Save writes the config as indented JSON.
func (c *FileConfig) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// ServerNames returns the configured server names, sorted.
func (c *FileConfig) ServerNames() []string {
	names := make([]string, 0, len(c.Servers))
	for name := range c.Servers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// AddServer adds or replaces a server entry.
func (c *FileConfig) AddServer(name string, s FileServer) {
	if c.Servers == nil {
		c.Servers = make(map[string]FileServer)
	}
	c.Servers[name] = s
}

// RemoveServer deletes a server entry, reporting whether it existed.
func (c *FileConfig) RemoveServer(name string) bool {
	if _, ok := c.Servers[name]; ok {
		delete(c.Servers, name)
		return true
	}
	return false
}

var (
	invalidIDChars = regexp.MustCompile(`[^a-z0-9_-]+`)
	repeatedUnders = regexp.MustCompile(`_+`)
)

// ServerIDFromName derives the registry id of a server defined in the file.
func ServerIDFromName(name string) string {
	id := strings.ToLower(strings.TrimSpace(name))
	id = invalidIDChars.ReplaceAllString(id, "_")
	id = repeatedUnders.ReplaceAllString(id, "_")
	id = strings.Trim(id, "_-")
	if id == "" {
		id = "server"
	}
	return "config_" + id
}
