package config

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/samsaffron/aye/internal/llm"
	"github.com/samsaffron/aye/internal/store"
	"github.com/spf13/viper"
)

type Config struct {
	LogLevel       string                    `mapstructure:"log_level"`
	LogFormat      string                    `mapstructure:"log_format"`
	RequestTimeout time.Duration             `mapstructure:"request_timeout"`
	DefaultModel   string                    `mapstructure:"default_model"`
	Server         ServerConfig              `mapstructure:"server"`
	Database       store.Config              `mapstructure:"database"`
	MCP            MCPConfig                 `mapstructure:"mcp"`
	Stream         StreamConfig              `mapstructure:"stream"`
	Retry          RetryConfig               `mapstructure:"retry"`
	Providers      map[string]ProviderConfig `mapstructure:"providers"`
}

// ServerConfig configures the HTTP command surface of `aye serve`.
type ServerConfig struct {
	Host        string   `mapstructure:"host"`
	Port        int      `mapstructure:"port"`
	Token       string   `mapstructure:"token"`
	AllowNoAuth bool     `mapstructure:"allow_no_auth"`
	CORSOrigins []string `mapstructure:"cors_origins"`
}

// MCPConfig configures tool server connections.
type MCPConfig struct {
	ConfigPath     string        `mapstructure:"config_path"` // mcpServers file, defaults to mcp.json in the config dir
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	CallTimeout    time.Duration `mapstructure:"call_timeout"`
	Client         string        `mapstructure:"client"` // go-sdk or mcp-go
	Autostart      bool          `mapstructure:"autostart"`
	StartupWait    time.Duration `mapstructure:"startup_wait"`
}

// StreamConfig configures streaming sessions.
type StreamConfig struct {
	IncludeAccumulated bool          `mapstructure:"include_accumulated"`
	CaptureToolCalls   bool          `mapstructure:"capture_tool_calls"`
	BufferSize         int           `mapstructure:"buffer_size"` // per event subscriber
	CleanupInterval    time.Duration `mapstructure:"cleanup_interval"`
}

// RetryConfig configures automatic provider retries. Disabled by default.
type RetryConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	MaxAttempts int           `mapstructure:"max_attempts"`
	BaseBackoff time.Duration `mapstructure:"base_backoff"`
	MaxBackoff  time.Duration `mapstructure:"max_backoff"`
}

// ProviderConfig holds per-adapter settings. APIKey supports ${VAR} / $VAR.
type ProviderConfig struct {
	APIKey       string `mapstructure:"api_key"`
	BaseURL      string `mapstructure:"base_url"`
	DefaultModel string `mapstructure:"default_model"`
}

// Load reads the config file at path, or config.yaml from the config
// directory when path is empty. A missing default file is not an error.
func Load(path string) (*Config, error) {
	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		configPath, err := GetConfigDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get config dir: %w", err)
		}
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(configPath)
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("AYE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok || path != "" {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.resolve(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "text")
	v.SetDefault("request_timeout", 0)
	v.SetDefault("default_model", "gpt-4o-mini")

	v.SetDefault("server.host", "127.0.0.1")
	v.SetDefault("server.port", 8765)
	v.SetDefault("server.token", "")
	v.SetDefault("server.allow_no_auth", false)
	v.SetDefault("server.cors_origins", []string{})

	v.SetDefault("database.enabled", true)
	v.SetDefault("database.path", "")

	v.SetDefault("mcp.config_path", "")
	v.SetDefault("mcp.connect_timeout", 30*time.Second)
	v.SetDefault("mcp.call_timeout", 60*time.Second)
	v.SetDefault("mcp.client", "go-sdk")
	v.SetDefault("mcp.autostart", true)
	v.SetDefault("mcp.startup_wait", 10*time.Second)

	v.SetDefault("stream.include_accumulated", true)
	v.SetDefault("stream.capture_tool_calls", true)
	v.SetDefault("stream.buffer_size", 256)
	v.SetDefault("stream.cleanup_interval", time.Minute)

	v.SetDefault("retry.enabled", false)
	v.SetDefault("retry.max_attempts", 5)
	v.SetDefault("retry.base_backoff", time.Second)
	v.SetDefault("retry.max_backoff", 30*time.Second)

	// Other adapters default to their public endpoints.
	v.SetDefault("providers.ollama.base_url", "http://localhost:11434/v1")
}

func (c *Config) resolve() error {
	c.Server.Token = expandEnv(c.Server.Token)
	c.Database.Path = expandPath(c.Database.Path)
	c.MCP.ConfigPath = expandPath(c.MCP.ConfigPath)

	for name, p := range c.Providers {
		if _, err := llm.LookupAdapter(name); err != nil {
			return fmt.Errorf("providers.%s: %w", name, err)
		}
		p.APIKey = strings.TrimSpace(expandEnv(p.APIKey))
		p.BaseURL = expandEnv(p.BaseURL)
		c.Providers[name] = p
	}

	if c.MCP.Client != "go-sdk" && c.MCP.Client != "mcp-go" {
		return fmt.Errorf("mcp.client must be go-sdk or mcp-go, got %q", c.MCP.Client)
	}
	return nil
}

// ProviderKeys returns the API keys configured in the file, keyed by adapter.
// They seed the credential cache; environment variables remain the fallback.
func (c *Config) ProviderKeys() map[llm.Adapter]string {
	keys := make(map[llm.Adapter]string)
	for name, p := range c.Providers {
		a, ok := llm.ParseAdapter(name)
		if !ok || p.APIKey == "" {
			continue
		}
		keys[a] = p.APIKey
	}
	return keys
}

// LLMClientConfig converts the provider settings into gateway configuration.
func (c *Config) LLMClientConfig() llm.ClientConfig {
	cc := llm.ClientConfig{
		RequestTimeout: c.RequestTimeout,
		Adapters:       make(map[llm.Adapter]llm.AdapterConfig),
	}
	for name, p := range c.Providers {
		if a, ok := llm.ParseAdapter(name); ok && p.BaseURL != "" {
			cc.Adapters[a] = llm.AdapterConfig{BaseURL: p.BaseURL}
		}
	}
	if c.Retry.Enabled {
		cc.Retry = &llm.RetryConfig{
			MaxAttempts: c.Retry.MaxAttempts,
			BaseBackoff: c.Retry.BaseBackoff,
			MaxBackoff:  c.Retry.MaxBackoff,
		}
	}
	return cc
}

// DefaultModelFor returns the configured default model of an adapter, or
// the global default model.
func (c *Config) DefaultModelFor(a llm.Adapter) string {
	if p, ok := c.Providers[a.String()]; ok && p.DefaultModel != "" {
		return a.String() + ":" + p.DefaultModel
	}
	return c.DefaultModel
}

// MCPConfigPath returns the mcpServers file location.
func (c *Config) MCPConfigPath() (string, error) {
	if c.MCP.ConfigPath != "" {
		return c.MCP.ConfigPath, nil
	}
	dir, err := GetConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "mcp.json"), nil
}

// ParseLogLevel maps a level name to a slog level. Unknown names are errors.
func ParseLogLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("unknown log level %q", s)
}

// NewLogger builds the root logger. format is "text" or "json".
func NewLogger(w io.Writer, level slog.Level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// expandEnv expands ${VAR} or $VAR in a string
func expandEnv(s string) string {
	if strings.HasPrefix(s, "${") && strings.HasSuffix(s, "}") {
		varName := s[2 : len(s)-1]
		return os.Getenv(varName)
	}
	if strings.HasPrefix(s, "$") {
		return os.Getenv(s[1:])
	}
	return s
}

// expandPath expands environment references and a leading ~/.
func expandPath(p string) string {
	p = expandEnv(p)
	if strings.HasPrefix(p, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, p[2:])
		}
	}
	return p
}

// GetConfigDir returns the XDG config directory for aye.
// Uses $XDG_CONFIG_HOME if set, otherwise ~/.config
func GetConfigDir() (string, error) {
	if xdgHome := os.Getenv("XDG_CONFIG_HOME"); xdgHome != "" {
		return filepath.Join(xdgHome, "aye"), nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(homeDir, ".config", "aye"), nil
}

// GetConfigPath returns the path where the config file should be located
func GetConfigPath() (string, error) {
	configDir, err := GetConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(configDir, "config.yaml"), nil
}

// Exists returns true if a config file exists
func Exists() bool {
	path, err := GetConfigPath()
	if err != nil {
		return false
	}
	_, err = os.Stat(path)
	return err == nil
}
