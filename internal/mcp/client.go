package mcp

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"sync"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"
)

// sdkClient is the ProtocolClient backed by the official go-sdk.
type sdkClient struct {
	config ServerConfig

	mu      sync.Mutex
	session *sdkmcp.ClientSession
	done    chan struct{}
	closed  bool
}

func newSDKClient(cfg ServerConfig) *sdkClient {
	return &sdkClient{config: cfg}
}

// createStdioTransport builds a fresh command each time; an exec.Cmd cannot
// be started twice. The command is not bound to any context so that a
// connect timeout does not kill a server that connected in time.
func (c *sdkClient) createStdioTransport() sdkmcp.Transport {
	cmd := exec.Command(c.config.Command, c.config.Args...)
	if len(c.config.Env) > 0 {
		cmd.Env = append(os.Environ(), envSlice(c.config.Env)...)
	}
	cmd.Dir = c.config.Cwd
	return &sdkmcp.CommandTransport{Command: cmd}
}

func (c *sdkClient) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return fmt.Errorf("%w: %s: client closed", ErrNotConnected, c.config.ID)
	}
	if c.session != nil {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	client := sdkmcp.NewClient(&sdkmcp.Implementation{
		Name:    ClientName,
		Version: ClientVersion,
	}, nil)

	session, err := client.Connect(ctx, c.createStdioTransport(), nil)
	if err != nil {
		return startError(c.config.ID, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		_ = session.Close()
		return fmt.Errorf("%w: %s: client closed during handshake", ErrNotConnected, c.config.ID)
	}
	c.session = session
	c.done = make(chan struct{})

	go func(session *sdkmcp.ClientSession, done chan struct{}) {
		_ = session.Wait()
		close(done)
	}(session, c.done)
	return nil
}

func (c *sdkClient) current() (*sdkmcp.ClientSession, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotConnected, c.config.ID)
	}
	return c.session, nil
}

func (c *sdkClient) ListTools(ctx context.Context) ([]Tool, error) {
	session, err := c.current()
	if err != nil {
		return nil, err
	}

	var tools []Tool
	params := &sdkmcp.ListToolsParams{}
	for {
		result, err := session.ListTools(ctx, params)
		if err != nil {
			return nil, fmt.Errorf("list tools from %s: %w", c.config.ID, err)
		}
		for _, t := range result.Tools {
			tools = append(tools, Tool{
				Name:        t.Name,
				Description: t.Description,
				InputSchema: schemaMap(t.InputSchema),
			})
		}
		if result.NextCursor == "" {
			break
		}
		params = &sdkmcp.ListToolsParams{Cursor: result.NextCursor}
	}
	return tools, nil
}

func (c *sdkClient) CallTool(ctx context.Context, name string, args map[string]any) (*CallResult, error) {
	session, err := c.current()
	if err != nil {
		return nil, err
	}
	if args == nil {
		args = map[string]any{}
	}
	result, err := session.CallTool(ctx, &sdkmcp.CallToolParams{
		Name:      name,
		Arguments: args,
	})
	if err != nil {
		return nil, fmt.Errorf("call tool %s: %w", name, err)
	}
	return &CallResult{Content: toMaps(result.Content), IsError: result.IsError}, nil
}

func (c *sdkClient) Done() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.done
}

func (c *sdkClient) Close() error {
	c.mu.Lock()
	session := c.session
	c.session = nil
	c.closed = true
	c.mu.Unlock()

	if session == nil {
		return nil
	}
	return session.Close()
}
