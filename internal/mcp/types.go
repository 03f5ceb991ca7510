package mcp

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"time"
)

var (
	// ErrServerNotFound is returned when no connection is registered under an id.
	ErrServerNotFound = errors.New("mcp server not found")
	// ErrInvalidConfig is returned for a server config missing its id or command.
	ErrInvalidConfig = errors.New("invalid mcp server config")
	// ErrLaunchFailed is returned when the server process cannot be started.
	ErrLaunchFailed = errors.New("mcp server launch failed")
	// ErrHandshakeFailed is returned when the process starts but the protocol
	// handshake or first tool listing does not complete.
	ErrHandshakeFailed = errors.New("mcp handshake failed")
	// ErrNotConnected is returned for operations that need a live connection.
	ErrNotConnected = errors.New("mcp server not connected")
)

// ServerConfig is the launch spec of one stdio tool server.
type ServerConfig struct {
	ID      string            `json:"id"`
	Name    string            `json:"name"`
	Command string            `json:"command"`
	Args    []string          `json:"args,omitempty"`
	Env     map[string]string `json:"env,omitempty"`
	Cwd     string            `json:"cwd,omitempty"`
}

// Validate checks the structural shape of the config.
func (c ServerConfig) Validate() error {
	if c.ID == "" {
		return fmt.Errorf("%w: id is required", ErrInvalidConfig)
	}
	if c.Command == "" {
		return fmt.Errorf("%w: command is required for %s", ErrInvalidConfig, c.ID)
	}
	return nil
}

// CheckLaunchable verifies the command resolves and the working directory
// exists, without starting anything.
func (c ServerConfig) CheckLaunchable() error {
	if _, err := exec.LookPath(c.Command); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrLaunchFailed, c.ID, err)
	}
	if c.Cwd != "" {
		info, err := os.Stat(c.Cwd)
		if err != nil {
			return fmt.Errorf("%w: %s: working directory: %v", ErrLaunchFailed, c.ID, err)
		}
		if !info.IsDir() {
			return fmt.Errorf("%w: %s: %s is not a directory", ErrLaunchFailed, c.ID, c.Cwd)
		}
	}
	return nil
}

// Tool describes one callable tool of a server.
type Tool struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	InputSchema map[string]any `json:"input_schema,omitempty"`
}

// ConnectionStatus is the lifecycle state of a Connection.
type ConnectionStatus string

const (
	StatusDisconnected ConnectionStatus = "disconnected"
	StatusConnecting   ConnectionStatus = "connecting"
	StatusConnected    ConnectionStatus = "connected"
	StatusError        ConnectionStatus = "error"
)

// ServerStatus is a point-in-time snapshot of a Connection.
type ServerStatus struct {
	ID             string           `json:"id"`
	Name           string           `json:"name"`
	Status         ConnectionStatus `json:"status"`
	Tools          []Tool           `json:"tools"`
	ToolsUpdatedAt *time.Time       `json:"tools_updated_at,omitempty"`
}

// ServerTools pairs a server id with its cached tools.
type ServerTools struct {
	ServerID string `json:"server_id"`
	Tools    []Tool `json:"tools"`
}

// ToolCallRequest targets one tool on one server.
type ToolCallRequest struct {
	ServerID  string         `json:"server_id"`
	ToolName  string         `json:"tool_name"`
	Arguments map[string]any `json:"arguments"`
}

// ToolCallResponse is the outcome of a tool call. Failures are reported in
// Error with Success false, never as a Go error.
type ToolCallResponse struct {
	Success bool             `json:"success"`
	Content []map[string]any `json:"content"`
	Error   string           `json:"error,omitempty"`
}

// StatusUpdate is sent when a server's status changes. Tools is set on the
// transition to Connected.
type StatusUpdate struct {
	ID     string
	Name   string
	Status ConnectionStatus
	Err    error
	Tools  []Tool
}
