package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/samsaffron/aye/internal/app"
	"github.com/samsaffron/aye/internal/config"
	"github.com/samsaffron/aye/internal/mcp"
	"github.com/samsaffron/aye/internal/signal"
	"github.com/samsaffron/aye/internal/store"
	"github.com/spf13/cobra"
)

var (
	mcpAddName string
	mcpAddEnv  []string
	mcpAddCwd  string
	mcpWait    time.Duration
	mcpJSON    bool
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Manage MCP (Model Context Protocol) tool servers",
	Long: `Manage MCP tool servers.

Servers added with "aye mcp add" are saved in the database and restored by
"aye serve". Servers listed in the mcpServers file are started too.

Examples:
  aye mcp list
  aye mcp add fs -- npx -y @modelcontextprotocol/server-filesystem /tmp
  aye mcp test fs
  aye mcp tools fs
  aye mcp call fs read_file '{"path":"/tmp/notes.txt"}'
  aye mcp remove fs`,
}

var mcpListCmd = &cobra.Command{
	Use:   "list",
	Short: "List saved and file-configured servers",
	Args:  cobra.NoArgs,
	RunE:  mcpList,
}

var mcpAddCmd = &cobra.Command{
	Use:   "add <id> -- <command> [args...]",
	Short: "Save a server and check that it connects",
	Args:  cobra.MinimumNArgs(2),
	RunE:  mcpAdd,
}

var mcpRemoveCmd = &cobra.Command{
	Use:   "remove <id>",
	Short: "Forget a saved server",
	Args:  cobra.ExactArgs(1),
	RunE:  mcpRemove,
}

var mcpTestCmd = &cobra.Command{
	Use:   "test <id>",
	Short: "Start a server, complete the handshake and list its tools",
	Args:  cobra.ExactArgs(1),
	RunE:  mcpTest,
}

var mcpToolsCmd = &cobra.Command{
	Use:   "tools <id>",
	Short: "Print a server's tools",
	Args:  cobra.ExactArgs(1),
	RunE:  mcpTools,
}

var mcpCallCmd = &cobra.Command{
	Use:   "call <id> <tool> [json-arguments]",
	Short: "Call a tool and print its content",
	Args:  cobra.RangeArgs(2, 3),
	RunE:  mcpCall,
}

var mcpPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Print the mcpServers file path",
	Args:  cobra.NoArgs,
	RunE:  mcpPath,
}

func init() {
	mcpAddCmd.Flags().StringVar(&mcpAddName, "name", "", "Display name (defaults to the id)")
	mcpAddCmd.Flags().StringArrayVarP(&mcpAddEnv, "env", "e", nil, "Environment variable KEY=VALUE (repeatable)")
	mcpAddCmd.Flags().StringVar(&mcpAddCwd, "cwd", "", "Working directory for the server process")
	for _, c := range []*cobra.Command{mcpAddCmd, mcpTestCmd, mcpToolsCmd, mcpCallCmd} {
		c.Flags().DurationVar(&mcpWait, "wait", 30*time.Second, "How long to wait for the server to connect")
	}
	mcpToolsCmd.Flags().BoolVar(&mcpJSON, "json", false, "Print tools as JSON")

	rootCmd.AddCommand(mcpCmd)
	mcpCmd.AddCommand(mcpListCmd, mcpAddCmd, mcpRemoveCmd, mcpTestCmd, mcpToolsCmd, mcpCallCmd, mcpPathCmd)
}

func mcpList(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background())
	defer stop()
	cfg, a, _, err := bootstrap(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	out := cmd.OutOrStdout()
	saved, err := a.PersistedServers(ctx)
	if err != nil {
		return err
	}
	path, err := cfg.MCPConfigPath()
	if err != nil {
		return err
	}
	file, err := mcp.LoadFileConfig(path)
	if err != nil {
		return fmt.Errorf("load %s: %w", path, err)
	}

	if len(saved) == 0 && len(file.Servers) == 0 {
		fmt.Fprintln(out, "No MCP servers configured.")
		fmt.Fprintln(out)
		fmt.Fprintln(out, "Add one with: aye mcp add <id> -- <command> [args...]")
		return nil
	}

	if len(saved) > 0 {
		fmt.Fprintf(out, "%s (%d):\n\n", boldStyle.Render("Saved servers"), len(saved))
		for _, rec := range saved {
			printServerRecord(out, rec)
		}
	}
	if len(file.Servers) > 0 {
		if len(saved) > 0 {
			fmt.Fprintln(out)
		}
		fmt.Fprintf(out, "%s (%d):\n\n", boldStyle.Render("From "+path), len(file.Servers))
		for _, name := range file.ServerNames() {
			entry := file.Servers[name]
			state := okStyle.Render("enabled")
			if !entry.IsEnabled() {
				state = mutedStyle.Render("disabled")
			}
			fmt.Fprintf(out, "  %s %s\n", name, mutedStyle.Render("("+mcp.ServerIDFromName(name)+", "+state+")"))
			fmt.Fprintf(out, "    command: %s %s\n", entry.Command, strings.Join(entry.Args, " "))
			if entry.Description != "" {
				fmt.Fprintf(out, "    %s\n", mutedStyle.Render(entry.Description))
			}
		}
	}
	return nil
}

func printServerRecord(out io.Writer, rec store.ServerRecord) {
	c := rec.Config
	label := c.ID
	if c.Name != "" && c.Name != c.ID {
		label += " " + mutedStyle.Render("("+c.Name+")")
	}
	if !rec.Enabled {
		label += " " + mutedStyle.Render("[disabled]")
	}
	fmt.Fprintf(out, "  %s  %s\n", label, statusText(rec.LastStatus))
	fmt.Fprintf(out, "    command: %s %s\n", c.Command, strings.Join(c.Args, " "))
	if len(c.Env) > 0 {
		fmt.Fprintf(out, "    env: %d variables\n", len(c.Env))
	}
	if c.Cwd != "" {
		fmt.Fprintf(out, "    cwd: %s\n", c.Cwd)
	}
	if rec.LastError != "" {
		fmt.Fprintf(out, "    %s\n", errStyle.Render(rec.LastError))
	}
}

func parseEnvFlags(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	env := make(map[string]string, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		if !ok || strings.TrimSpace(k) == "" {
			return nil, fmt.Errorf("invalid --env %q (want KEY=VALUE)", p)
		}
		env[strings.TrimSpace(k)] = v
	}
	return env, nil
}

func mcpAdd(cmd *cobra.Command, args []string) error {
	env, err := parseEnvFlags(mcpAddEnv)
	if err != nil {
		return err
	}
	sc := mcp.ServerConfig{
		ID:      args[0],
		Name:    mcpAddName,
		Command: args[1],
		Args:    args[2:],
		Env:     env,
		Cwd:     mcpAddCwd,
	}

	ctx, stop := signal.NotifyContext(context.Background())
	defer stop()
	_, a, _, err := bootstrap(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.AddServer(ctx, sc); err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Saved %s\n", sc.ID)

	st := waitForServer(ctx, a, sc.ID, mcpWait)
	printStatusLine(out, st)
	return nil
}

func mcpRemove(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background())
	defer stop()
	_, a, _, err := bootstrap(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	id := args[0]
	if _, err := a.PersistedServer(ctx, id); errors.Is(err, store.ErrNotFound) {
		fmt.Fprintf(cmd.OutOrStdout(), "No saved server %s\n", id)
		return nil
	}
	if err := a.RemoveServer(ctx, id); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Removed %s\n", id)
	return nil
}

// resolveServer finds a server by saved id, or by name or id in the
// mcpServers file.
func resolveServer(ctx context.Context, cfg *config.Config, a *app.App, id string) (mcp.ServerConfig, error) {
	if rec, err := a.PersistedServer(ctx, id); err == nil {
		return rec.Config, nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return mcp.ServerConfig{}, err
	}

	path, err := cfg.MCPConfigPath()
	if err != nil {
		return mcp.ServerConfig{}, err
	}
	file, err := mcp.LoadFileConfig(path)
	if err != nil {
		return mcp.ServerConfig{}, fmt.Errorf("load %s: %w", path, err)
	}
	for _, name := range file.ServerNames() {
		if name == id || mcp.ServerIDFromName(name) == id {
			return file.Servers[name].ServerConfig(name), nil
		}
	}
	return mcp.ServerConfig{}, fmt.Errorf("%w: %s", mcp.ErrServerNotFound, id)
}

// connectServer starts the named server in this process and waits for it.
func connectServer(ctx context.Context, cfg *config.Config, a *app.App, id string) (mcp.ServerStatus, error) {
	sc, err := resolveServer(ctx, cfg, a, id)
	if err != nil {
		return mcp.ServerStatus{}, err
	}
	st, err := a.Connect(ctx, sc, mcpWait)
	if err != nil {
		return st, err
	}
	switch st.Status {
	case mcp.StatusConnected:
		return st, nil
	case mcp.StatusConnecting:
		return st, fmt.Errorf("%s did not connect within %s", sc.ID, mcpWait)
	}
	return st, fmt.Errorf("%s failed to connect (see log for details)", sc.ID)
}

func waitForServer(ctx context.Context, a *app.App, id string, wait time.Duration) mcp.ServerStatus {
	deadline := time.Now().Add(wait)
	for {
		st, err := a.GetStatus(id)
		if err != nil || st.Status != mcp.StatusConnecting || time.Now().After(deadline) {
			return st
		}
		select {
		case <-ctx.Done():
			return st
		case <-time.After(50 * time.Millisecond):
		}
	}
}

func printStatusLine(out io.Writer, st mcp.ServerStatus) {
	fmt.Fprintf(out, "%s: %s", st.ID, statusText(st.Status))
	if st.Status == mcp.StatusConnected {
		fmt.Fprintf(out, " %s", mutedStyle.Render(fmt.Sprintf("(%d tools)", len(st.Tools))))
	}
	fmt.Fprintln(out)
}

func mcpTest(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background())
	defer stop()
	cfg, a, _, err := bootstrap(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Testing %s...\n", args[0])
	start := time.Now()
	st, err := connectServer(ctx, cfg, a, args[0])
	if st.ID != "" {
		printStatusLine(out, st)
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Handshake and tool listing took %s\n", time.Since(start).Round(time.Millisecond))
	for _, t := range st.Tools {
		fmt.Fprintf(out, "  - %s\n", t.Name)
	}
	return nil
}

func mcpTools(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background())
	defer stop()
	cfg, a, _, err := bootstrap(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	out := cmd.OutOrStdout()
	st, err := connectServer(ctx, cfg, a, args[0])
	if err != nil {
		snap := a.LastKnownTools(ctx, args[0])
		if snap == nil {
			return err
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "%s\n", warnStyle.Render(fmt.Sprintf("%v; showing last known tools from %s", err, snap.UpdatedAt.Format(time.RFC3339))))
		return printTools(out, args[0], snap.Tools)
	}
	return printTools(out, st.ID, st.Tools)
}

func printTools(out io.Writer, id string, tools []mcp.Tool) error {
	if mcpJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(tools)
	}
	if len(tools) == 0 {
		fmt.Fprintf(out, "%s exposes no tools.\n", id)
		return nil
	}
	for _, t := range tools {
		fmt.Fprintf(out, "%s\n", boldStyle.Render(t.Name))
		if t.Description != "" {
			fmt.Fprintf(out, "  %s\n", t.Description)
		}
		if props, ok := t.InputSchema["properties"].(map[string]any); ok && len(props) > 0 {
			names := make([]string, 0, len(props))
			for name := range props {
				names = append(names, name)
			}
			sort.Strings(names)
			fmt.Fprintf(out, "  %s\n", mutedStyle.Render("args: "+strings.Join(names, ", ")))
		}
	}
	return nil
}

func mcpCall(cmd *cobra.Command, args []string) error {
	arguments := map[string]any{}
	if len(args) == 3 {
		if err := json.Unmarshal([]byte(args[2]), &arguments); err != nil {
			return fmt.Errorf("arguments must be a JSON object: %w", err)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background())
	defer stop()
	cfg, a, _, err := bootstrap(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	st, err := connectServer(ctx, cfg, a, args[0])
	if err != nil {
		return err
	}
	resp, err := a.CallTool(ctx, mcp.ToolCallRequest{ServerID: st.ID, ToolName: args[1], Arguments: arguments})
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	for _, item := range resp.Content {
		if text, ok := item["text"].(string); ok && item["type"] == "text" {
			fmt.Fprintln(out, text)
			continue
		}
		data, _ := json.MarshalIndent(item, "", "  ")
		fmt.Fprintln(out, string(data))
	}
	if !resp.Success {
		return fmt.Errorf("tool %s failed: %s", args[1], resp.Error)
	}
	return nil
}

func mcpPath(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	path, err := cfg.MCPConfigPath()
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), path)
	return nil
}
