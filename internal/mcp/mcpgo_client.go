package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"sync"

	mcpclient "github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/client/transport"
	mcpgo "github.com/mark3labs/mcp-go/mcp"
)

// mcpgoClient is the ProtocolClient backed by mark3labs/mcp-go. It pins the
// handshake to ProtocolVersion.
type mcpgoClient struct {
	config ServerConfig
	logger *slog.Logger

	mu     sync.Mutex
	client *mcpclient.Client
	cancel context.CancelFunc
	closed bool
}

func newMCPGoClient(cfg ServerConfig, logger *slog.Logger) *mcpgoClient {
	return &mcpgoClient{config: cfg, logger: logger}
}

func (c *mcpgoClient) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return fmt.Errorf("%w: %s: client closed", ErrNotConnected, c.config.ID)
	}
	if c.client != nil {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	trans := transport.NewStdioWithOptions(c.config.Command, envSlice(c.config.Env), c.config.Args,
		transport.WithCommandFunc(c.command))
	client := mcpclient.NewClient(trans)

	// The stdio transport ties the process to this context, so it must
	// outlive the handshake deadline in ctx.
	runCtx, cancel := context.WithCancel(context.Background())
	if err := client.Start(runCtx); err != nil {
		cancel()
		return startError(c.config.ID, err)
	}

	req := mcpgo.InitializeRequest{}
	req.Params.ProtocolVersion = ProtocolVersion
	req.Params.ClientInfo = mcpgo.Implementation{Name: ClientName, Version: ClientVersion}
	if _, err := client.Initialize(ctx, req); err != nil {
		_ = client.Close()
		cancel()
		return fmt.Errorf("%w: %s: %v", ErrHandshakeFailed, c.config.ID, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		_ = client.Close()
		cancel()
		return fmt.Errorf("%w: %s: client closed during handshake", ErrNotConnected, c.config.ID)
	}
	c.client = client
	c.cancel = cancel
	return nil
}

// command builds the server process: parent environment plus the configured
// overrides, started in the configured working directory.
func (c *mcpgoClient) command(ctx context.Context, name string, env []string, args []string) (*exec.Cmd, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Env = append(os.Environ(), env...)
	cmd.Dir = c.config.Cwd
	return cmd, nil
}

func (c *mcpgoClient) current() (*mcpclient.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.client == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotConnected, c.config.ID)
	}
	return c.client, nil
}

func (c *mcpgoClient) ListTools(ctx context.Context) ([]Tool, error) {
	client, err := c.current()
	if err != nil {
		return nil, err
	}

	var tools []Tool
	req := mcpgo.ListToolsRequest{}
	for {
		result, err := client.ListTools(ctx, req)
		if err != nil {
			return nil, fmt.Errorf("list tools from %s: %w", c.config.ID, err)
		}
		for _, t := range result.Tools {
			tools = append(tools, Tool{
				Name:        t.Name,
				Description: t.Description,
				InputSchema: mcpgoSchema(t),
			})
		}
		if result.NextCursor == "" {
			break
		}
		req.Params.Cursor = result.NextCursor
	}
	return tools, nil
}

// mcpgoSchema reads the schema through the tool's own JSON encoding, which
// covers both structured and raw input schemas.
func mcpgoSchema(t mcpgo.Tool) map[string]any {
	data, err := json.Marshal(t)
	if err != nil {
		return map[string]any{}
	}
	var wire struct {
		InputSchema map[string]any `json:"inputSchema"`
	}
	if err := json.Unmarshal(data, &wire); err != nil || wire.InputSchema == nil {
		return map[string]any{}
	}
	return wire.InputSchema
}

func (c *mcpgoClient) CallTool(ctx context.Context, name string, args map[string]any) (*CallResult, error) {
	client, err := c.current()
	if err != nil {
		return nil, err
	}
	if args == nil {
		args = map[string]any{}
	}
	result, err := client.CallTool(ctx, mcpgo.CallToolRequest{
		Params: mcpgo.CallToolParams{
			Name:      name,
			Arguments: args,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("call tool %s: %w", name, err)
	}
	return &CallResult{Content: toMaps(result.Content), IsError: result.IsError}, nil
}

func (c *mcpgoClient) Done() <-chan struct{} {
	return nil
}

func (c *mcpgoClient) Close() error {
	c.mu.Lock()
	client, cancel := c.client, c.cancel
	c.client, c.cancel = nil, nil
	c.closed = true
	c.mu.Unlock()

	if client == nil {
		return nil
	}
	err := client.Close()
	cancel()
	return err
}
