package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/samsaffron/aye/internal/mcp"
)

// ErrNotFound is returned when no server is persisted under an id.
var ErrNotFound = errors.New("not found")

// Store persists registered tool servers and their last tool listing.
type Store interface {
	// Servers
	SaveServer(ctx context.Context, cfg mcp.ServerConfig, enabled bool) error
	GetServer(ctx context.Context, id string) (*ServerRecord, error)
	ListServers(ctx context.Context) ([]ServerRecord, error)
	SetEnabled(ctx context.Context, id string, enabled bool) error
	DeleteServer(ctx context.Context, id string) error

	// Status and tool snapshots
	RecordStatus(ctx context.Context, id string, status mcp.ConnectionStatus, errText string) error
	SaveTools(ctx context.Context, id string, tools []mcp.Tool) error
	LoadTools(ctx context.Context, id string) (*ToolSnapshot, error)

	Close() error
}

// ServerRecord is a persisted server and its last observed status.
type ServerRecord struct {
	Config     mcp.ServerConfig     `json:"config"`
	Enabled    bool                 `json:"enabled"`
	LastStatus mcp.ConnectionStatus `json:"last_status,omitempty"`
	LastError  string               `json:"last_error,omitempty"`
	CreatedAt  time.Time            `json:"created_at"`
	UpdatedAt  time.Time            `json:"updated_at"`
}

// ToolSnapshot is the tool list of a server as of its last successful listing.
type ToolSnapshot struct {
	ServerID  string     `json:"server_id"`
	Tools     []mcp.Tool `json:"tools"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// Config holds persistence configuration.
type Config struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"` // Optional DB path override (supports :memory:)
}

// DefaultConfig returns the default persistence configuration.
func DefaultConfig() Config {
	return Config{Enabled: true}
}

// GetDataDir returns the XDG data directory for aye.
// Uses $XDG_DATA_HOME if set, otherwise ~/.local/share
func GetDataDir() (string, error) {
	if xdgData := os.Getenv("XDG_DATA_HOME"); xdgData != "" {
		return filepath.Join(xdgData, "aye"), nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(homeDir, ".local", "share", "aye"), nil
}

// ResolveDBPath returns path when set, otherwise the default database
// location under the data directory.
func ResolveDBPath(path string) (string, error) {
	if path != "" {
		return path, nil
	}
	dataDir, err := GetDataDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dataDir, "aye.db"), nil
}

// NewStore creates a Store based on the configuration.
// If persistence is disabled, returns a no-op store.
func NewStore(cfg Config) (Store, error) {
	if !cfg.Enabled {
		return &NoopStore{}, nil
	}
	return NewSQLiteStore(cfg)
}
