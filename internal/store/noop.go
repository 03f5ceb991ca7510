package store

import (
	"context"

	"github.com/samsaffron/aye/internal/mcp"
)

// NoopStore is a Store that persists nothing.
type NoopStore struct{}

var _ Store = (*NoopStore)(nil)

func (s *NoopStore) SaveServer(ctx context.Context, cfg mcp.ServerConfig, enabled bool) error {
	return nil
}

func (s *NoopStore) GetServer(ctx context.Context, id string) (*ServerRecord, error) {
	return nil, ErrNotFound
}

func (s *NoopStore) ListServers(ctx context.Context) ([]ServerRecord, error) {
	return nil, nil
}

func (s *NoopStore) SetEnabled(ctx context.Context, id string, enabled bool) error {
	return nil
}

func (s *NoopStore) DeleteServer(ctx context.Context, id string) error {
	return nil
}

func (s *NoopStore) RecordStatus(ctx context.Context, id string, status mcp.ConnectionStatus, errText string) error {
	return nil
}

func (s *NoopStore) SaveTools(ctx context.Context, id string, tools []mcp.Tool) error {
	return nil
}

func (s *NoopStore) LoadTools(ctx context.Context, id string) (*ToolSnapshot, error) {
	return nil, ErrNotFound
}

func (s *NoopStore) Close() error {
	return nil
}
