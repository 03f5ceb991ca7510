package config

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/samsaffron/aye/internal/llm"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.LogLevel != "info" || cfg.LogFormat != "text" {
		t.Errorf("log = %q/%q, want info/text", cfg.LogLevel, cfg.LogFormat)
	}
	if cfg.Server.Host != "127.0.0.1" || cfg.Server.Port != 8765 {
		t.Errorf("server = %s:%d", cfg.Server.Host, cfg.Server.Port)
	}
	if !cfg.Database.Enabled {
		t.Error("database should be enabled by default")
	}
	if cfg.MCP.Client != "go-sdk" || cfg.MCP.ConnectTimeout != 30*time.Second || !cfg.MCP.Autostart {
		t.Errorf("mcp = %+v", cfg.MCP)
	}
	if !cfg.Stream.IncludeAccumulated || !cfg.Stream.CaptureToolCalls || cfg.Stream.CleanupInterval != time.Minute {
		t.Errorf("stream = %+v", cfg.Stream)
	}
	if cfg.Retry.Enabled {
		t.Error("retry should be disabled by default")
	}
	if cfg.LLMClientConfig().Retry != nil {
		t.Error("LLMClientConfig().Retry should be nil when retry is disabled")
	}
}

func TestLoadFile(t *testing.T) {
	t.Setenv("TEST_AYE_OPENAI_KEY", "sk-from-env")
	path := writeConfig(t, `
log_level: debug
log_format: json
request_timeout: 45s
server:
  port: 9000
  token: secret
  cors_origins: ["http://localhost:5173"]
mcp:
  client: mcp-go
  connect_timeout: 5s
stream:
  include_accumulated: false
retry:
  enabled: true
  max_attempts: 3
  base_backoff: 250ms
providers:
  openai:
    api_key: ${TEST_AYE_OPENAI_KEY}
    default_model: gpt-4o
  groq:
    api_key: "  gsk-literal  "
    base_url: https://proxy.example/v1
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.LogLevel != "debug" || cfg.LogFormat != "json" {
		t.Errorf("log = %q/%q", cfg.LogLevel, cfg.LogFormat)
	}
	if cfg.RequestTimeout != 45*time.Second {
		t.Errorf("request_timeout = %v", cfg.RequestTimeout)
	}
	if cfg.Server.Port != 9000 || cfg.Server.Token != "secret" {
		t.Errorf("server = %+v", cfg.Server)
	}
	if len(cfg.Server.CORSOrigins) != 1 || cfg.Server.CORSOrigins[0] != "http://localhost:5173" {
		t.Errorf("cors_origins = %v", cfg.Server.CORSOrigins)
	}
	if cfg.MCP.Client != "mcp-go" || cfg.MCP.ConnectTimeout != 5*time.Second {
		t.Errorf("mcp = %+v", cfg.MCP)
	}
	if cfg.MCP.CallTimeout != 60*time.Second {
		t.Errorf("unset mcp.call_timeout should keep its default, got %v", cfg.MCP.CallTimeout)
	}
	if cfg.Stream.IncludeAccumulated {
		t.Error("stream.include_accumulated should be false")
	}

	keys := cfg.ProviderKeys()
	if keys[llm.AdapterOpenAI] != "sk-from-env" {
		t.Errorf("openai key = %q, want expanded env value", keys[llm.AdapterOpenAI])
	}
	if keys[llm.AdapterGroq] != "gsk-literal" {
		t.Errorf("groq key = %q, want trimmed literal", keys[llm.AdapterGroq])
	}
	if _, ok := keys[llm.AdapterOllama]; ok {
		t.Error("ollama has no key and should not be seeded")
	}

	cc := cfg.LLMClientConfig()
	if cc.RequestTimeout != 45*time.Second {
		t.Errorf("client timeout = %v", cc.RequestTimeout)
	}
	if cc.Retry == nil || cc.Retry.MaxAttempts != 3 || cc.Retry.BaseBackoff != 250*time.Millisecond {
		t.Errorf("client retry = %+v", cc.Retry)
	}
	if cc.Adapters[llm.AdapterGroq].BaseURL != "https://proxy.example/v1" {
		t.Errorf("groq base url = %q", cc.Adapters[llm.AdapterGroq].BaseURL)
	}
	if cc.Adapters[llm.AdapterOllama].BaseURL != "http://localhost:11434/v1" {
		t.Errorf("ollama base url = %q", cc.Adapters[llm.AdapterOllama].BaseURL)
	}

	if got := cfg.DefaultModelFor(llm.AdapterOpenAI); got != "openai:gpt-4o" {
		t.Errorf("DefaultModelFor(openai) = %q", got)
	}
	if got := cfg.DefaultModelFor(llm.AdapterGemini); got != cfg.DefaultModel {
		t.Errorf("DefaultModelFor(gemini) = %q, want global default", got)
	}
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("AYE_LOG_LEVEL", "warn")
	t.Setenv("AYE_SERVER_PORT", "7000")
	path := writeConfig(t, "log_level: debug\n")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.LogLevel != "warn" {
		t.Errorf("log_level = %q, want env override", cfg.LogLevel)
	}
	if cfg.Server.Port != 7000 {
		t.Errorf("server.port = %d, want env override", cfg.Server.Port)
	}
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{"unknown provider", "providers:\n  anthropik:\n    api_key: x\n", "providers.anthropik"},
		{"bad mcp client", "mcp:\n  client: grpc\n", "mcp.client"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.content))
			if err == nil {
				t.Fatal("Load() expected error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Load() error = %v, want it to mention %q", err, tt.want)
			}
		})
	}

	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("Load() of an explicit missing file should fail")
	}
}

func TestMCPConfigPath(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)

	cfg := &Config{}
	got, err := cfg.MCPConfigPath()
	if err != nil {
		t.Fatalf("MCPConfigPath() error = %v", err)
	}
	if want := filepath.Join(dir, "aye", "mcp.json"); got != want {
		t.Errorf("MCPConfigPath() = %q, want %q", got, want)
	}

	cfg.MCP.ConfigPath = "/etc/aye/servers.json"
	if got, _ := cfg.MCPConfigPath(); got != "/etc/aye/servers.json" {
		t.Errorf("MCPConfigPath() = %q, want override", got)
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    slog.Level
		wantErr bool
	}{
		{"debug", slog.LevelDebug, false},
		{"INFO", slog.LevelInfo, false},
		{"", slog.LevelInfo, false},
		{"warning", slog.LevelWarn, false},
		{" error ", slog.LevelError, false},
		{"trace", slog.LevelInfo, true},
	}
	for _, tt := range tests {
		got, err := ParseLogLevel(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseLogLevel(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseLogLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf, slog.LevelInfo, "json")
	logger.Debug("hidden")
	logger.Info("shown", "mcp_server", "fs")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("got %d log lines, want 1: %q", len(lines), buf.String())
	}
	var rec map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &rec); err != nil {
		t.Fatalf("json log line: %v", err)
	}
	if rec["msg"] != "shown" || rec["mcp_server"] != "fs" {
		t.Errorf("record = %v", rec)
	}

	buf.Reset()
	NewLogger(&buf, slog.LevelDebug, "text").Debug("plain")
	if !strings.Contains(buf.String(), "msg=plain") {
		t.Errorf("text log = %q", buf.String())
	}
}

func TestExpandEnv(t *testing.T) {
	t.Setenv("AYE_TEST_SECRET", "s3cret")
	tests := map[string]string{
		"${AYE_TEST_SECRET}": "s3cret",
		"$AYE_TEST_SECRET":   "s3cret",
		"literal":            "literal",
		"":                   "",
	}
	for in, want := range tests {
		if got := expandEnv(in); got != want {
			t.Errorf("expandEnv(%q) = %q, want %q", in, got, want)
		}
	}
}
