package mcp

import (
	"context"
	"time"
)

// StartupResult summarizes StartupFromConfig.
type StartupResult struct {
	Total     int               `json:"total"`
	Succeeded int               `json:"succeeded"`
	Failed    int               `json:"failed"`
	Errors    map[string]string `json:"errors,omitempty"`
}

// StartupFromConfig registers every enabled server in cfg and waits up to
// wait for each to leave Connecting. Servers still connecting when the wait
// runs out count as failed but stay registered.
func (m *Manager) StartupFromConfig(ctx context.Context, cfg *FileConfig, wait time.Duration) StartupResult {
	res := StartupResult{Errors: map[string]string{}}
	var ids []string
	for _, name := range cfg.ServerNames() {
		entry := cfg.Servers[name]
		if !entry.IsEnabled() {
			continue
		}
		res.Total++
		sc := entry.ServerConfig(name)
		if err := m.AddServer(sc); err != nil {
			res.Failed++
			res.Errors[name] = err.Error()
			continue
		}
		ids = append(ids, sc.ID)
	}

	deadline := time.Now().Add(wait)
	for _, id := range ids {
		status := m.WaitSettled(ctx, id, deadline)
		if status == StatusConnected {
			res.Succeeded++
			continue
		}
		res.Failed++
		conn, _ := m.load(id)
		name := id
		if conn != nil {
			name = conn.config.Name
		}
		res.Errors[name] = "status " + string(status)
	}
	if len(res.Errors) == 0 {
		res.Errors = nil
	}
	m.logger.Info("mcp startup finished", "total", res.Total, "succeeded", res.Succeeded, "failed", res.Failed)
	return res
}

// WaitSettled polls a server until it leaves Connecting or the deadline passes.
func (m *Manager) WaitSettled(ctx context.Context, id string, deadline time.Time) ConnectionStatus {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		conn, ok := m.load(id)
		if !ok {
			return StatusDisconnected
		}
		status := conn.Status()
		if status != StatusConnecting || !time.Now().Before(deadline) {
			return status
		}
		select {
		case <-ctx.Done():
			return status
		case <-ticker.C:
		}
	}
}
