package mcp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// ConnectionOptions bounds the blocking operations of a Connection.
// Zero means no limit.
type ConnectionOptions struct {
	ConnectTimeout time.Duration
	CallTimeout    time.Duration
}

// Connection manages one subprocess-backed tool server. Status and tools are
// locked separately so status reads never wait on a tool listing.
type Connection struct {
	config   ServerConfig
	factory  ClientFactory
	opts     ConnectionOptions
	logger   *slog.Logger
	onStatus func(StatusUpdate)

	statusMu sync.RWMutex
	status   ConnectionStatus
	client   ProtocolClient
	started  bool
	closed   bool
	stop     chan struct{}

	toolsMu        sync.RWMutex
	tools          []Tool
	toolsUpdatedAt time.Time
}

// NewConnection validates cfg and builds its protocol client without
// starting the process.
func NewConnection(cfg ServerConfig, factory ClientFactory, opts ConnectionOptions, logger *slog.Logger) (*Connection, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.CheckLaunchable(); err != nil {
		return nil, err
	}
	client, err := factory(cfg)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrLaunchFailed, cfg.ID, err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Name == "" {
		cfg.Name = cfg.ID
	}
	return &Connection{
		config:  cfg,
		factory: factory,
		opts:    opts,
		logger:  logger.With("mcp_server", cfg.ID),
		status:  StatusDisconnected,
		client:  client,
	}, nil
}

// Config returns the config the connection was built from.
func (c *Connection) Config() ServerConfig {
	return c.config
}

func (c *Connection) notify(status ConnectionStatus, err error) {
	if c.onStatus == nil {
		return
	}
	update := StatusUpdate{ID: c.config.ID, Name: c.config.Name, Status: status, Err: err}
	if status == StatusConnected {
		update.Tools = c.Tools()
	}
	c.onStatus(update)
}

// Status returns the current lifecycle state.
func (c *Connection) Status() ConnectionStatus {
	c.statusMu.RLock()
	defer c.statusMu.RUnlock()
	return c.status
}

// markConnecting moves a registered connection into Connecting before the
// connect goroutine is scheduled.
func (c *Connection) markConnecting() {
	c.statusMu.Lock()
	if c.closed || c.status == StatusConnecting || c.status == StatusConnected {
		c.statusMu.Unlock()
		return
	}
	c.status = StatusConnecting
	c.statusMu.Unlock()
	c.notify(StatusConnecting, nil)
}

// Connect starts the server, performs the handshake and loads the tool list.
// It is the only way out of the Error state.
func (c *Connection) Connect(ctx context.Context) error {
	c.statusMu.Lock()
	switch {
	case c.closed:
		c.statusMu.Unlock()
		return fmt.Errorf("%w: %s was removed", ErrNotConnected, c.config.ID)
	case c.status == StatusConnected:
		c.statusMu.Unlock()
		return nil
	}
	if c.started {
		// A client that has been started once is spent; build a fresh one.
		_ = c.client.Close()
		client, err := c.factory(c.config)
		if err != nil {
			c.status = StatusError
			c.statusMu.Unlock()
			err = fmt.Errorf("%w: %s: %v", ErrLaunchFailed, c.config.ID, err)
			c.notify(StatusError, err)
			return err
		}
		c.client = client
	}
	c.started = true
	client := c.client
	wasConnecting := c.status == StatusConnecting
	c.status = StatusConnecting
	c.statusMu.Unlock()
	if !wasConnecting {
		c.notify(StatusConnecting, nil)
	}

	connectCtx := ctx
	if c.opts.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		connectCtx, cancel = context.WithTimeout(ctx, c.opts.ConnectTimeout)
		defer cancel()
	}

	if err := client.Start(connectCtx); err != nil {
		if errors.Is(connectCtx.Err(), context.DeadlineExceeded) && !errors.Is(err, ErrLaunchFailed) {
			err = fmt.Errorf("%w: %s: timed out after %s", ErrHandshakeFailed, c.config.ID, c.opts.ConnectTimeout)
		}
		return c.fail(client, err)
	}

	tools, err := client.ListTools(connectCtx)
	if err != nil {
		return c.fail(client, fmt.Errorf("%w: %s: %v", ErrHandshakeFailed, c.config.ID, err))
	}

	c.statusMu.Lock()
	if c.closed || c.client != client {
		c.statusMu.Unlock()
		_ = client.Close()
		return fmt.Errorf("%w: %s was removed while connecting", ErrNotConnected, c.config.ID)
	}
	c.status = StatusConnected
	c.stop = make(chan struct{})
	stop := c.stop
	c.statusMu.Unlock()

	c.replaceTools(tools)
	c.notify(StatusConnected, nil)
	c.logger.Info("mcp server connected", "tools", len(tools))

	go c.monitor(client, stop)
	return nil
}

// fail records a failed connect attempt. Attempts superseded by a removal or
// a newer attempt leave the status alone.
func (c *Connection) fail(client ProtocolClient, err error) error {
	_ = client.Close()
	c.statusMu.Lock()
	if c.closed || c.client != client {
		c.statusMu.Unlock()
		return err
	}
	c.status = StatusError
	c.statusMu.Unlock()

	c.logger.Warn("mcp server connection failed", "error", err)
	c.notify(StatusError, err)
	return err
}

// monitor marks the connection Error when the server process exits on its own.
func (c *Connection) monitor(client ProtocolClient, stop <-chan struct{}) {
	done := client.Done()
	if done == nil {
		return
	}
	select {
	case <-stop:
		return
	case <-done:
	}

	c.statusMu.Lock()
	if c.closed || c.client != client || c.status != StatusConnected {
		c.statusMu.Unlock()
		return
	}
	c.status = StatusError
	c.statusMu.Unlock()

	err := fmt.Errorf("mcp server %s exited", c.config.ID)
	c.logger.Warn("mcp server process exited")
	c.notify(StatusError, err)
}

func (c *Connection) replaceTools(tools []Tool) {
	if tools == nil {
		tools = []Tool{}
	}
	c.toolsMu.Lock()
	c.tools = tools
	c.toolsUpdatedAt = time.Now()
	c.toolsMu.Unlock()
}

// LoadTools re-lists the server's tools. On failure the previous list is kept
// and the connection stays Connected.
func (c *Connection) LoadTools(ctx context.Context) error {
	c.statusMu.RLock()
	status, client := c.status, c.client
	c.statusMu.RUnlock()
	if status != StatusConnected {
		return fmt.Errorf("%w: %s is %s", ErrNotConnected, c.config.ID, status)
	}

	tools, err := client.ListTools(ctx)
	if err != nil {
		c.logger.Warn("tool listing failed; keeping previous tools", "error", err, "tools_updated_at", c.ToolsUpdatedAt())
		return err
	}
	c.replaceTools(tools)
	return nil
}

// Tools returns the cached tools from the last successful listing.
func (c *Connection) Tools() []Tool {
	c.toolsMu.RLock()
	defer c.toolsMu.RUnlock()
	return c.tools
}

// ToolsUpdatedAt is the time of the last successful listing, zero if none.
func (c *Connection) ToolsUpdatedAt() time.Time {
	c.toolsMu.RLock()
	defer c.toolsMu.RUnlock()
	return c.toolsUpdatedAt
}

// CallTool invokes a tool. It always returns a response; failures are
// reported with Success false.
func (c *Connection) CallTool(ctx context.Context, name string, args map[string]any) ToolCallResponse {
	c.statusMu.RLock()
	status, client := c.status, c.client
	c.statusMu.RUnlock()
	if status != StatusConnected {
		return ToolCallResponse{
			Content: []map[string]any{},
			Error:   fmt.Sprintf("server %s is %s", c.config.ID, status),
		}
	}

	if c.opts.CallTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.opts.CallTimeout)
		defer cancel()
	}

	result, err := client.CallTool(ctx, name, args)
	if err != nil {
		c.logger.Warn("tool call failed", "tool", name, "error", err)
		return ToolCallResponse{Content: []map[string]any{}, Error: err.Error()}
	}
	resp := ToolCallResponse{Success: !result.IsError, Content: result.Content}
	if resp.Content == nil {
		resp.Content = []map[string]any{}
	}
	if result.IsError {
		resp.Error = toolErrorText(result.Content)
	}
	return resp
}

// toolErrorText joins the text items of an error result.
func toolErrorText(content []map[string]any) string {
	var msg string
	for _, item := range content {
		if text, ok := item["text"].(string); ok {
			if msg != "" {
				msg += "\n"
			}
			msg += text
		}
	}
	if msg == "" {
		msg = "tool returned an error"
	}
	return msg
}

// Disconnect marks the connection Disconnected and tears down the process.
// A removed connection never reconnects.
func (c *Connection) Disconnect() {
	c.statusMu.Lock()
	if c.closed {
		c.statusMu.Unlock()
		return
	}
	c.closed = true
	c.status = StatusDisconnected
	client := c.client
	if c.stop != nil {
		close(c.stop)
		c.stop = nil
	}
	c.statusMu.Unlock()

	if err := client.Close(); err != nil {
		c.logger.Debug("closing mcp client", "error", err)
	}
	c.notify(StatusDisconnected, nil)
}

// Snapshot returns the connection's id, name, status and tools.
func (c *Connection) Snapshot() ServerStatus {
	s := ServerStatus{
		ID:     c.config.ID,
		Name:   c.config.Name,
		Status: c.Status(),
	}
	c.toolsMu.RLock()
	s.Tools = c.tools
	if !c.toolsUpdatedAt.IsZero() {
		at := c.toolsUpdatedAt
		s.ToolsUpdatedAt = &at
	}
	c.toolsMu.RUnlock()
	if s.Tools == nil {
		s.Tools = []Tool{}
	}
	return s
}
