package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os/exec"
)

const (
	// ProtocolVersion is the MCP revision requested during the handshake.
	ProtocolVersion = "2024-11-05"
	ClientName      = "aye-mcp"
	ClientVersion   = "0.1.0"
)

// CallResult is the raw outcome of a tools/call request.
type CallResult struct {
	Content []map[string]any
	IsError bool
}

// ProtocolClient is one client session with a stdio tool server.
type ProtocolClient interface {
	// Start launches the process and performs the handshake.
	Start(ctx context.Context) error
	ListTools(ctx context.Context) ([]Tool, error)
	CallTool(ctx context.Context, name string, args map[string]any) (*CallResult, error)
	// Done is closed when the server process goes away. Backends that cannot
	// observe this return nil.
	Done() <-chan struct{}
	Close() error
}

// ClientFactory builds an unstarted ProtocolClient for a config.
type ClientFactory func(cfg ServerConfig) (ProtocolClient, error)

// Backend names accepted by NewClientFactory.
const (
	BackendGoSDK = "go-sdk"
	BackendMCPGo = "mcp-go"
)

// NewClientFactory returns the factory for a protocol backend. An empty name
// selects the go-sdk backend.
func NewClientFactory(backend string, logger *slog.Logger) (ClientFactory, error) {
	if logger == nil {
		logger = slog.Default()
	}
	switch backend {
	case "", BackendGoSDK:
		return func(cfg ServerConfig) (ProtocolClient, error) {
			return newSDKClient(cfg), nil
		}, nil
	case BackendMCPGo:
		return func(cfg ServerConfig) (ProtocolClient, error) {
			return newMCPGoClient(cfg, logger.With("mcp_server", cfg.ID)), nil
		}, nil
	}
	return nil, fmt.Errorf("unknown mcp client backend %q (want %s or %s)", backend, BackendGoSDK, BackendMCPGo)
}

// startError tags a Start failure as a launch or a handshake failure.
func startError(id string, err error) error {
	var execErr *exec.Error
	var pathErr *fs.PathError
	if errors.As(err, &execErr) || errors.As(err, &pathErr) {
		return fmt.Errorf("%w: %s: %v", ErrLaunchFailed, id, err)
	}
	return fmt.Errorf("%w: %s: %v", ErrHandshakeFailed, id, err)
}

// toMaps re-encodes protocol content values as plain JSON objects.
func toMaps[T any](content []T) []map[string]any {
	out := make([]map[string]any, 0, len(content))
	for _, c := range content {
		data, err := json.Marshal(c)
		if err != nil {
			continue
		}
		var m map[string]any
		if err := json.Unmarshal(data, &m); err != nil {
			continue
		}
		out = append(out, m)
	}
	return out
}

// schemaMap converts a schema of unknown shape into a map.
func schemaMap(schema any) map[string]any {
	switch s := schema.(type) {
	case nil:
		return map[string]any{}
	case map[string]any:
		return s
	}
	data, err := json.Marshal(schema)
	if err != nil {
		return map[string]any{}
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil || m == nil {
		return map[string]any{}
	}
	return m
}

// envSlice renders env as KEY=VALUE pairs.
func envSlice(env map[string]string) []string {
	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, fmt.Sprintf("%s=%s", k, v))
	}
	return out
}
