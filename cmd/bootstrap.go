package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/samsaffron/aye/internal/app"
	"github.com/samsaffron/aye/internal/config"
)

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	return cfg, nil
}

func newLogger(cfg *config.Config) (*slog.Logger, error) {
	level, err := config.ParseLogLevel(cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	return config.NewLogger(os.Stderr, level, cfg.LogFormat), nil
}

// bootstrap loads configuration and builds a started App. The caller must
// Close the App.
func bootstrap(ctx context.Context) (*config.Config, *app.App, *slog.Logger, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, nil, err
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return nil, nil, nil, err
	}
	a, err := app.Build(cfg, logger)
	if err != nil {
		return nil, nil, nil, err
	}
	a.Start(ctx)
	return cfg, a, logger, nil
}

// autostartServers reconnects persisted servers and starts the enabled
// entries of the mcpServers file, waiting up to cfg.MCP.StartupWait.
func autostartServers(ctx context.Context, cfg *config.Config, a *app.App, logger *slog.Logger) error {
	if !cfg.MCP.Autostart {
		return nil
	}
	restored, err := a.Restore(ctx)
	if err != nil {
		return err
	}
	path, err := cfg.MCPConfigPath()
	if err != nil {
		return err
	}
	res, err := a.StartupFromFile(ctx, path, cfg.MCP.StartupWait)
	if err != nil {
		return err
	}
	logger.Info("mcp servers started", "restored", restored, "total", res.Total, "succeeded", res.Succeeded, "failed", res.Failed)
	return nil
}
