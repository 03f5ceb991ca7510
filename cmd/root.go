package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

// Version is set at build time.
var Version = "dev"

var (
	configFile string
	logLevel   string
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Config file (default $XDG_CONFIG_HOME/aye/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Override log level (debug, info, warn, error)")
}

var rootCmd = &cobra.Command{
	Use:   "aye",
	Short: "MCP tool servers and streaming LLM chat behind one command surface",
	Long: `aye manages Model Context Protocol tool servers and streams chat
completions from OpenAI, Anthropic, Gemini, Cohere, Groq, xAI, DeepSeek
and Ollama.

Examples:
  aye serve                                  # HTTP + websocket command surface
  aye mcp add fs -- npx -y @modelcontextprotocol/server-filesystem /tmp
  aye mcp tools fs                           # list a server's tools
  aye providers list                         # which providers have keys
  aye chat -m claude-3-5-sonnet-20241022 "hello"`,
	Version:           Version,
	SilenceUsage:      true,
	CompletionOptions: cobra.CompletionOptions{DisableDefaultCmd: true},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
