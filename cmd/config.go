package cmd

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/samsaffron/aye/internal/config"
	"github.com/samsaffron/aye/internal/credentials"
	"github.com/samsaffron/aye/internal/llm"
	"github.com/samsaffron/aye/internal/mcp"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage aye configuration",
	Long: `View or edit your aye configuration.

Examples:
  aye config                          # show effective config
  aye config edit                     # edit in $EDITOR
  aye config set server.port 9000
  aye config get default_model
  aye config reset                    # reset to defaults`,
	RunE: configShow,
}

var configEditCmd = &cobra.Command{
	Use:   "edit",
	Short: "Edit configuration file in $EDITOR",
	Args:  cobra.NoArgs,
	RunE:  configEdit,
}

var configEditMCPCmd = &cobra.Command{
	Use:   "edit-mcp",
	Short: "Edit the mcpServers file in $EDITOR",
	Args:  cobra.NoArgs,
	RunE:  configEditMCP,
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Print configuration file path",
	Args:  cobra.NoArgs,
	RunE:  configPath,
}

var configResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Reset configuration to defaults",
	Long:  `Reset the configuration file to default values. This overwrites any existing configuration.`,
	Args:  cobra.NoArgs,
	RunE:  configReset,
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Long: `Set a configuration value while preserving comments.

Examples:
  aye config set default_model anthropic:claude-3-5-sonnet-20241022
  aye config set providers.groq.api_key '${GROQ_API_KEY}'
  aye config set mcp.client mcp-go`,
	Args:              cobra.ExactArgs(2),
	RunE:              configSet,
	ValidArgsFunction: configKeyCompletion,
}

var configGetCmd = &cobra.Command{
	Use:               "get <key>",
	Short:             "Get a configuration value from the file",
	Args:              cobra.ExactArgs(1),
	RunE:              configGet,
	ValidArgsFunction: configKeyCompletion,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configEditCmd, configEditMCPCmd, configPathCmd, configResetCmd, configSetCmd, configGetCmd)
}

func configShow(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()

	path := configFile
	if path == "" {
		path, _ = config.GetConfigPath()
	}
	if _, err := os.Stat(path); err != nil {
		fmt.Fprintf(out, "%s %s\n\n", mutedStyle.Render("# no config file at"), mutedStyle.Render(path))
	} else {
		fmt.Fprintf(out, "%s %s\n\n", mutedStyle.Render("# config:"), path)
	}

	view := effectiveConfig(cfg)
	enc := yaml.NewEncoder(out)
	enc.SetIndent(2)
	if err := enc.Encode(view); err != nil {
		return err
	}
	if err := enc.Close(); err != nil {
		return err
	}

	fmt.Fprintln(out)
	fmt.Fprintln(out, boldStyle.Render("credentials:"))
	resolver := credentials.NewResolver(cfg.ProviderKeys())
	for _, a := range llm.Adapters {
		printCredentialStatus(out, a, resolver)
	}
	return nil
}

// effectiveConfig is the loaded config as a YAML tree with keys masked.
func effectiveConfig(cfg *config.Config) map[string]any {
	providers := map[string]any{}
	for name, p := range cfg.Providers {
		entry := map[string]any{}
		if p.APIKey != "" {
			entry["api_key"] = credentials.Mask(p.APIKey)
		}
		if p.BaseURL != "" {
			entry["base_url"] = p.BaseURL
		}
		if p.DefaultModel != "" {
			entry["default_model"] = p.DefaultModel
		}
		providers[name] = entry
	}
	token := ""
	if cfg.Server.Token != "" {
		token = credentials.Mask(cfg.Server.Token)
	}
	mcpPath, _ := cfg.MCPConfigPath()
	return map[string]any{
		"log_level":       cfg.LogLevel,
		"log_format":      cfg.LogFormat,
		"request_timeout": cfg.RequestTimeout.String(),
		"default_model":   cfg.DefaultModel,
		"server": map[string]any{
			"host":          cfg.Server.Host,
			"port":          cfg.Server.Port,
			"token":         token,
			"allow_no_auth": cfg.Server.AllowNoAuth,
			"cors_origins":  cfg.Server.CORSOrigins,
		},
		"database": map[string]any{
			"enabled": cfg.Database.Enabled,
			"path":    cfg.Database.Path,
		},
		"mcp": map[string]any{
			"config_path":     mcpPath,
			"client":          cfg.MCP.Client,
			"connect_timeout": cfg.MCP.ConnectTimeout.String(),
			"call_timeout":    cfg.MCP.CallTimeout.String(),
			"autostart":       cfg.MCP.Autostart,
			"startup_wait":    cfg.MCP.StartupWait.String(),
		},
		"stream": map[string]any{
			"include_accumulated": cfg.Stream.IncludeAccumulated,
			"capture_tool_calls":  cfg.Stream.CaptureToolCalls,
			"buffer_size":         cfg.Stream.BufferSize,
			"cleanup_interval":    cfg.Stream.CleanupInterval.String(),
		},
		"retry": map[string]any{
			"enabled":      cfg.Retry.Enabled,
			"max_attempts": cfg.Retry.MaxAttempts,
			"base_backoff": cfg.Retry.BaseBackoff.String(),
			"max_backoff":  cfg.Retry.MaxBackoff.String(),
		},
		"providers": providers,
	}
}

func printCredentialStatus(w io.Writer, a llm.Adapter, r *credentials.Resolver) {
	name := fmt.Sprintf("  %-10s", a.String())
	if !a.RequiresKey() {
		fmt.Fprintf(w, "%s %s\n", name, mutedStyle.Render("no key needed"))
		return
	}
	key, err := r.Resolve(a)
	if err != nil {
		fmt.Fprintf(w, "%s %s %s\n", name, errStyle.Render("missing"), mutedStyle.Render("(set "+a.EnvVar()+")"))
		return
	}
	fmt.Fprintf(w, "%s %s %s\n", name, okStyle.Render("set"), mutedStyle.Render(credentials.Mask(key)))
}

func openEditor(path string) error {
	editor := os.Getenv("EDITOR")
	if editor == "" {
		editor = os.Getenv("VISUAL")
	}
	if editor == "" {
		editor = "vi"
	}
	editorCmd := exec.Command(editor, path)
	editorCmd.Stdin = os.Stdin
	editorCmd.Stdout = os.Stdout
	editorCmd.Stderr = os.Stderr
	return editorCmd.Run()
}

func configEdit(cmd *cobra.Command, args []string) error {
	path, err := config.GetConfigPath()
	if err != nil {
		return fmt.Errorf("failed to get config path: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := os.WriteFile(path, []byte(defaultConfigContent()), 0644); err != nil {
			return fmt.Errorf("failed to create config file: %w", err)
		}
	}
	return openEditor(path)
}

func configEditMCP(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	path, err := cfg.MCPConfigPath()
	if err != nil {
		return fmt.Errorf("failed to get MCP config path: %w", err)
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		empty := &mcp.FileConfig{Servers: make(map[string]mcp.FileServer)}
		if err := empty.Save(path); err != nil {
			return fmt.Errorf("failed to create MCP config file: %w", err)
		}
	}
	return openEditor(path)
}

func configPath(cmd *cobra.Command, args []string) error {
	path := configFile
	if path == "" {
		var err error
		if path, err = config.GetConfigPath(); err != nil {
			return err
		}
	}
	fmt.Fprintln(cmd.OutOrStdout(), path)
	return nil
}

func configReset(cmd *cobra.Command, args []string) error {
	path, err := config.GetConfigPath()
	if err != nil {
		return fmt.Errorf("failed to get config path: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(defaultConfigContent()), 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Config reset to defaults: %s\n", path)
	return nil
}

func defaultConfigContent() string {
	return `# aye configuration
# Run 'aye config edit' to modify

log_level: info
log_format: text
default_model: gpt-4o-mini

server:
  host: 127.0.0.1
  port: 8765
  # token: ${AYE_TOKEN}
  cors_origins: []

database:
  enabled: true
  # path: ~/.local/share/aye/aye.db

mcp:
  client: go-sdk         # go-sdk or mcp-go
  connect_timeout: 30s
  call_timeout: 60s
  autostart: true
  startup_wait: 10s

stream:
  include_accumulated: true
  capture_tool_calls: true

retry:
  enabled: false
  max_attempts: 5

providers:
  # openai:
  #   api_key: ${OPENAI_API_KEY}
  # anthropic:
  #   api_key: ${ANTHROPIC_API_KEY}
  #   default_model: claude-3-5-sonnet-20241022
  ollama:
    base_url: http://localhost:11434/v1
`
}

// configFilePath is the file that set and get operate on.
func configFilePath() (string, error) {
	if configFile != "" {
		return configFile, nil
	}
	return config.GetConfigPath()
}

func configSet(cmd *cobra.Command, args []string) error {
	key, value := args[0], args[1]

	path, err := configFilePath()
	if err != nil {
		return fmt.Errorf("failed to get config path: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	var root yaml.Node
	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
		root = yaml.Node{Kind: yaml.DocumentNode, Content: []*yaml.Node{{Kind: yaml.MappingNode}}}
	case err != nil:
		return fmt.Errorf("failed to read config: %w", err)
	default:
		if err := yaml.Unmarshal(data, &root); err != nil {
			return fmt.Errorf("failed to parse config: %w", err)
		}
		if root.Kind == 0 {
			root = yaml.Node{Kind: yaml.DocumentNode, Content: []*yaml.Node{{Kind: yaml.MappingNode}}}
		}
	}

	if err := setYAMLValue(&root, strings.Split(key, "."), value); err != nil {
		return fmt.Errorf("failed to set value: %w", err)
	}

	var buf bytes.Buffer
	encoder := yaml.NewEncoder(&buf)
	encoder.SetIndent(2)
	if err := encoder.Encode(&root); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	encoder.Close()

	if err := os.WriteFile(path, buf.Bytes(), 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s = %s\n", key, value)
	return nil
}

// setYAMLValue walks path through the mapping tree, creating keys as
// needed, and sets the final key to a scalar.
func setYAMLValue(root *yaml.Node, path []string, value string) error {
	if root.Kind != yaml.DocumentNode || len(root.Content) == 0 {
		return fmt.Errorf("invalid document structure")
	}
	current := root.Content[0]
	if current.Kind != yaml.MappingNode {
		return fmt.Errorf("root is not a mapping")
	}

	for i, part := range path {
		isLast := i == len(path)-1
		found := false
		for j := 0; j < len(current.Content); j += 2 {
			if current.Content[j].Value != part {
				continue
			}
			next := current.Content[j+1]
			if isLast {
				next.Kind = yaml.ScalarNode
				next.Tag = ""
				next.Content = nil
				next.Value = value
			} else {
				if next.Kind != yaml.MappingNode {
					next.Kind = yaml.MappingNode
					next.Content = nil
					next.Value = ""
					next.Tag = ""
				}
				current = next
			}
			found = true
			break
		}
		if found {
			continue
		}

		keyNode := &yaml.Node{Kind: yaml.ScalarNode, Value: part}
		if isLast {
			current.Content = append(current.Content, keyNode, &yaml.Node{Kind: yaml.ScalarNode, Value: value})
		} else {
			mapping := &yaml.Node{Kind: yaml.MappingNode}
			current.Content = append(current.Content, keyNode, mapping)
			current = mapping
		}
	}
	return nil
}

func configGet(cmd *cobra.Command, args []string) error {
	path, err := configFilePath()
	if err != nil {
		return fmt.Errorf("failed to get config path: %w", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("config file does not exist")
		}
		return fmt.Errorf("failed to read config: %w", err)
	}

	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return fmt.Errorf("failed to parse config: %w", err)
	}
	value, err := getYAMLValue(&root, strings.Split(args[0], "."))
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), value)
	return nil
}

// getYAMLValue returns the scalar at path.
func getYAMLValue(root *yaml.Node, path []string) (string, error) {
	if root.Kind != yaml.DocumentNode || len(root.Content) == 0 {
		return "", fmt.Errorf("invalid document structure")
	}
	current := root.Content[0]
	for _, part := range path {
		if current.Kind != yaml.MappingNode {
			return "", fmt.Errorf("path not found: expected mapping")
		}
		found := false
		for j := 0; j < len(current.Content); j += 2 {
			if current.Content[j].Value == part {
				current = current.Content[j+1]
				found = true
				break
			}
		}
		if !found {
			return "", fmt.Errorf("key not found: %s", part)
		}
	}
	if current.Kind == yaml.ScalarNode {
		return current.Value, nil
	}
	return "", fmt.Errorf("value is not a scalar")
}

var configKeys = []string{
	"log_level", "log_format", "request_timeout", "default_model",
	"server.host", "server.port", "server.token", "server.allow_no_auth",
	"database.enabled", "database.path",
	"mcp.config_path", "mcp.client", "mcp.connect_timeout", "mcp.call_timeout", "mcp.autostart", "mcp.startup_wait",
	"stream.include_accumulated", "stream.capture_tool_calls", "stream.buffer_size", "stream.cleanup_interval",
	"retry.enabled", "retry.max_attempts", "retry.base_backoff", "retry.max_backoff",
}

func configKeyCompletion(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
	if len(args) > 0 {
		return nil, cobra.ShellCompDirectiveNoFileComp
	}
	keys := append([]string(nil), configKeys...)
	for _, a := range llm.Adapters {
		for _, field := range []string{"api_key", "base_url", "default_model"} {
			keys = append(keys, "providers."+a.String()+"."+field)
		}
	}
	var out []string
	for _, k := range keys {
		if strings.HasPrefix(k, toComplete) {
			out = append(out, k)
		}
	}
	return out, cobra.ShellCompDirectiveNoFileComp
}
