package mcp

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
)

// Manager is the registry of connections keyed by server id. Operations on
// different ids never wait on each other.
type Manager struct {
	conns   sync.Map // id -> *Connection
	factory ClientFactory
	opts    ConnectionOptions
	logger  *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	statusMu   sync.RWMutex
	statusChan chan<- StatusUpdate
}

// NewManager creates a manager whose connections are built with factory.
func NewManager(factory ClientFactory, opts ConnectionOptions, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		factory: factory,
		opts:    opts,
		logger:  logger,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// SetStatusChannel sets a channel to receive status updates. Sends never
// block; updates are dropped when the channel is full.
func (m *Manager) SetStatusChannel(ch chan<- StatusUpdate) {
	m.statusMu.Lock()
	m.statusChan = ch
	m.statusMu.Unlock()
}

func (m *Manager) sendStatus(update StatusUpdate) {
	m.statusMu.RLock()
	ch := m.statusChan
	m.statusMu.RUnlock()
	if ch != nil {
		select {
		case ch <- update:
		default:
			m.logger.Debug("status update dropped", "mcp_server", update.ID, "status", update.Status)
		}
	}
}

func (m *Manager) load(id string) (*Connection, bool) {
	v, ok := m.conns.Load(id)
	if !ok {
		return nil, false
	}
	return v.(*Connection), true
}

// AddServer registers cfg, replacing and disconnecting any connection with
// the same id, and connects in the background. A nil error means the server
// was accepted, not that it connected.
func (m *Manager) AddServer(cfg ServerConfig) error {
	conn, err := NewConnection(cfg, m.factory, m.opts, m.logger)
	if err != nil {
		return err
	}
	conn.onStatus = m.sendStatus

	if prev, loaded := m.conns.Swap(cfg.ID, conn); loaded {
		m.logger.Info("replacing mcp server", "mcp_server", cfg.ID)
		prev.(*Connection).Disconnect()
	}

	conn.markConnecting()
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		if err := conn.Connect(m.ctx); err != nil {
			m.logger.Error("mcp server failed to connect", "mcp_server", cfg.ID, "error", err)
		}
	}()
	return nil
}

// RemoveServer disconnects and forgets a server. Unknown ids are ignored.
func (m *Manager) RemoveServer(id string) {
	if v, ok := m.conns.LoadAndDelete(id); ok {
		v.(*Connection).Disconnect()
		m.logger.Info("mcp server removed", "mcp_server", id)
	}
}

// CallTool dispatches req to its server. Only a missing server is an error;
// tool failures are reported in the response.
func (m *Manager) CallTool(ctx context.Context, req ToolCallRequest) (ToolCallResponse, error) {
	conn, ok := m.load(req.ServerID)
	if !ok {
		return ToolCallResponse{}, fmt.Errorf("%w: %s", ErrServerNotFound, req.ServerID)
	}
	return conn.CallTool(ctx, req.ToolName, req.Arguments), nil
}

// Status returns the snapshot of one server.
func (m *Manager) Status(id string) (ServerStatus, bool) {
	conn, ok := m.load(id)
	if !ok {
		return ServerStatus{}, false
	}
	return conn.Snapshot(), true
}

// Config returns the config a server was registered with.
func (m *Manager) Config(id string) (ServerConfig, bool) {
	conn, ok := m.load(id)
	if !ok {
		return ServerConfig{}, false
	}
	return conn.Config(), true
}

// List returns a snapshot of every registered server, sorted by id.
func (m *Manager) List() []ServerStatus {
	out := []ServerStatus{}
	m.conns.Range(func(_, v any) bool {
		out = append(out, v.(*Connection).Snapshot())
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// AllTools returns the tools of every server with a non-empty tool cache.
func (m *Manager) AllTools() []ServerTools {
	out := []ServerTools{}
	m.conns.Range(func(k, v any) bool {
		if tools := v.(*Connection).Tools(); len(tools) > 0 {
			out = append(out, ServerTools{ServerID: k.(string), Tools: tools})
		}
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ServerID < out[j].ServerID })
	return out
}

// Reconnect runs a fresh connect attempt and waits for it.
func (m *Manager) Reconnect(ctx context.Context, id string) error {
	conn, ok := m.load(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrServerNotFound, id)
	}
	return conn.Connect(ctx)
}

// RefreshTools re-lists a server's tools.
func (m *Manager) RefreshTools(ctx context.Context, id string) error {
	conn, ok := m.load(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrServerNotFound, id)
	}
	return conn.LoadTools(ctx)
}

// StopAll disconnects every server and waits for pending connect attempts.
func (m *Manager) StopAll() {
	m.cancel()
	m.conns.Range(func(k, v any) bool {
		m.conns.Delete(k)
		v.(*Connection).Disconnect()
		return true
	})
	m.wg.Wait()
}
