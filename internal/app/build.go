package app

import (
	"fmt"
	"log/slog"

	"github.com/samsaffron/aye/internal/config"
	"github.com/samsaffron/aye/internal/credentials"
	"github.com/samsaffron/aye/internal/events"
	"github.com/samsaffron/aye/internal/llm"
	"github.com/samsaffron/aye/internal/mcp"
	"github.com/samsaffron/aye/internal/store"
	"github.com/samsaffron/aye/internal/stream"
)

// Build wires an App from configuration.
func Build(cfg *config.Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}

	creds := credentials.NewResolver(cfg.ProviderKeys())
	client := llm.NewClient(creds, cfg.LLMClientConfig(), logger)

	factory, err := mcp.NewClientFactory(cfg.MCP.Client, logger)
	if err != nil {
		return nil, err
	}
	servers := mcp.NewManager(factory, mcp.ConnectionOptions{
		ConnectTimeout: cfg.MCP.ConnectTimeout,
		CallTimeout:    cfg.MCP.CallTimeout,
	}, logger)

	bus := events.New()
	streams := stream.NewManager(client, bus, stream.Config{
		IncludeAccumulated: cfg.Stream.IncludeAccumulated,
		CaptureToolCalls:   cfg.Stream.CaptureToolCalls,
	}, logger)

	st, err := store.NewStore(cfg.Database)
	if err != nil {
		servers.StopAll()
		return nil, fmt.Errorf("open store: %w", err)
	}

	return New(Deps{
		Credentials:     creds,
		LLM:             client,
		MCP:             servers,
		Streams:         streams,
		Store:           st,
		Bus:             bus,
		Logger:          logger,
		DefaultModel:    cfg.DefaultModel,
		CleanupInterval: cfg.Stream.CleanupInterval,
	}), nil
}
