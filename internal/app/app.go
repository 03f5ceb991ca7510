// Package app is the command surface: every operation the UI layer can
// invoke, wired over the MCP and streaming managers, the credential
// resolver, the provider gateway and persistence.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/samsaffron/aye/internal/credentials"
	"github.com/samsaffron/aye/internal/events"
	"github.com/samsaffron/aye/internal/llm"
	"github.com/samsaffron/aye/internal/mcp"
	"github.com/samsaffron/aye/internal/store"
	"github.com/samsaffron/aye/internal/stream"
)

// ErrInvalidRequest marks a call rejected for its arguments.
var ErrInvalidRequest = errors.New("invalid request")

// Deps are the collaborators an App operates over.
type Deps struct {
	Credentials  *credentials.Resolver
	LLM          *llm.Client
	MCP          *mcp.Manager
	Streams      *stream.Manager
	Store        store.Store
	Bus          *events.Bus
	Logger       *slog.Logger
	DefaultModel string
	// CleanupInterval is how often finished stream sessions are swept; zero
	// disables the janitor.
	CleanupInterval time.Duration
}

// App owns the long-lived managers for the life of the process.
type App struct {
	creds        *credentials.Resolver
	llm          *llm.Client
	mcp          *mcp.Manager
	streams      *stream.Manager
	store        store.Store
	bus          *events.Bus
	logger       *slog.Logger
	cleanupEvery time.Duration

	runtimeMu sync.RWMutex
	runtime   RuntimeConfig

	statusCh  chan mcp.StatusUpdate
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	startOnce sync.Once
	closeOnce sync.Once
}

// New assembles an App. Call Start before serving requests.
func New(d Deps) *App {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.Store == nil {
		d.Store = &store.NoopStore{}
	}
	a := &App{
		creds:        d.Credentials,
		llm:          d.LLM,
		mcp:          d.MCP,
		streams:      d.Streams,
		store:        d.Store,
		bus:          d.Bus,
		logger:       d.Logger,
		runtime:      RuntimeConfig{DefaultModel: d.DefaultModel, ModelDefaults: map[string]ModelDefaults{}},
		cleanupEvery: d.CleanupInterval,
		statusCh:     make(chan mcp.StatusUpdate, 64),
	}
	a.mcp.SetStatusChannel(a.statusCh)
	return a
}

// Events returns the bus UI listeners subscribe to.
func (a *App) Events() *events.Bus {
	return a.bus
}

// Start launches the status pump and the stream janitor.
func (a *App) Start(ctx context.Context) {
	a.startOnce.Do(func() {
		ctx, a.cancel = context.WithCancel(ctx)
		a.wg.Add(1)
		go func() {
			defer a.wg.Done()
			a.pumpStatus(ctx)
		}()
		if a.cleanupEvery > 0 {
			a.wg.Add(1)
			go func() {
				defer a.wg.Done()
				a.streams.RunJanitor(ctx, a.cleanupEvery)
			}()
		}
	})
}

// Close stops every stream and server connection and closes persistence.
func (a *App) Close() error {
	var err error
	a.closeOnce.Do(func() {
		a.streams.StopAll()
		a.mcp.StopAll()
		if a.cancel != nil {
			a.cancel()
		}
		a.wg.Wait()
		err = a.store.Close()
	})
	return err
}

// ServerStatusEvent is the payload of an mcp-server-status event.
type ServerStatusEvent struct {
	ID     string               `json:"id"`
	Name   string               `json:"name"`
	Status mcp.ConnectionStatus `json:"status"`
	Error  string               `json:"error,omitempty"`
	Tools  int                  `json:"tools,omitempty"`
}

// pumpStatus persists every status transition and republishes it on the bus.
func (a *App) pumpStatus(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case u := <-a.statusCh:
			a.handleStatus(ctx, u)
		}
	}
}

func (a *App) handleStatus(ctx context.Context, u mcp.StatusUpdate) {
	errText := ""
	if u.Err != nil {
		errText = u.Err.Error()
	}
	if err := a.store.RecordStatus(ctx, u.ID, u.Status, errText); err != nil {
		a.logger.Warn("failed to record server status", "mcp_server", u.ID, "error", err)
	}
	if u.Status == mcp.StatusConnected {
		if err := a.store.SaveTools(ctx, u.ID, u.Tools); err != nil {
			a.logger.Warn("failed to save tool snapshot", "mcp_server", u.ID, "error", err)
		}
	}
	a.bus.Publish(events.Event{
		Name: events.NameServerStatus,
		Payload: ServerStatusEvent{
			ID:     u.ID,
			Name:   u.Name,
			Status: u.Status,
			Error:  errText,
			Tools:  len(u.Tools),
		},
	})
}

// Restore re-registers every enabled persisted server. It returns how many
// were accepted for connection.
func (a *App) Restore(ctx context.Context) (int, error) {
	recs, err := a.store.ListServers(ctx)
	if err != nil {
		return 0, fmt.Errorf("list persisted servers: %w", err)
	}
	n := 0
	for _, rec := range recs {
		if !rec.Enabled {
			continue
		}
		if err := a.mcp.AddServer(rec.Config); err != nil {
			a.logger.Warn("failed to restore mcp server", "mcp_server", rec.Config.ID, "error", err)
			continue
		}
		n++
	}
	return n, nil
}

// StartupFromFile registers the enabled servers of an mcpServers file.
// Servers started this way are not persisted.
func (a *App) StartupFromFile(ctx context.Context, path string, wait time.Duration) (mcp.StartupResult, error) {
	cfg, err := mcp.LoadFileConfig(path)
	if err != nil {
		return mcp.StartupResult{}, err
	}
	return a.mcp.StartupFromConfig(ctx, cfg, wait), nil
}

// AddServer registers a server, starts connecting it in the background and
// persists it. Success means accepted for connection.
func (a *App) AddServer(ctx context.Context, cfg mcp.ServerConfig) error {
	if cfg.Name == "" {
		cfg.Name = cfg.ID
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := cfg.CheckLaunchable(); err != nil {
		return err
	}
	// Persist first so the status pump finds the row for this server.
	if err := a.store.SaveServer(ctx, cfg, true); err != nil {
		a.logger.Warn("failed to persist mcp server", "mcp_server", cfg.ID, "error", err)
	}
	return a.mcp.AddServer(cfg)
}

// RemoveServer disconnects and forgets a server. Unknown ids are a no-op.
func (a *App) RemoveServer(ctx context.Context, id string) error {
	a.mcp.RemoveServer(id)
	if err := a.store.DeleteServer(ctx, id); err != nil {
		a.logger.Warn("failed to delete persisted mcp server", "mcp_server", id, "error", err)
	}
	return nil
}

// ListServers returns one status per registered server.
func (a *App) ListServers() []mcp.ServerStatus {
	return a.mcp.List()
}

// GetStatus returns one server's status.
func (a *App) GetStatus(id string) (mcp.ServerStatus, error) {
	st, ok := a.mcp.Status(id)
	if !ok {
		return mcp.ServerStatus{}, fmt.Errorf("%w: %s", mcp.ErrServerNotFound, id)
	}
	return st, nil
}

// ServerDetail is a server's live status. LastKnownTools carries the
// persisted listing while the server is not connected.
type ServerDetail struct {
	mcp.ServerStatus
	LastKnownTools *store.ToolSnapshot `json:"last_known_tools,omitempty"`
}

// ServerDetail returns the status of id plus its last persisted tools when
// it is not connected.
func (a *App) ServerDetail(ctx context.Context, id string) (ServerDetail, error) {
	st, err := a.GetStatus(id)
	if err != nil {
		return ServerDetail{}, err
	}
	d := ServerDetail{ServerStatus: st}
	if st.Status != mcp.StatusConnected {
		d.LastKnownTools = a.LastKnownTools(ctx, id)
	}
	return d, nil
}

// LastKnownTools returns the persisted tool snapshot of id, or nil when
// there is none.
func (a *App) LastKnownTools(ctx context.Context, id string) *store.ToolSnapshot {
	snap, err := a.store.LoadTools(ctx, id)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			a.logger.Warn("failed to load tool snapshot", "mcp_server", id, "error", err)
		}
		return nil
	}
	return snap
}

// Reconnect retries connecting a server, typically one in Error.
func (a *App) Reconnect(ctx context.Context, id string) error {
	return a.mcp.Reconnect(ctx, id)
}

// RefreshTools re-lists a connected server's tools and snapshots them.
func (a *App) RefreshTools(ctx context.Context, id string) error {
	if err := a.mcp.RefreshTools(ctx, id); err != nil {
		return err
	}
	if st, ok := a.mcp.Status(id); ok {
		if err := a.store.SaveTools(ctx, id, st.Tools); err != nil {
			a.logger.Warn("failed to save tool snapshot", "mcp_server", id, "error", err)
		}
	}
	return nil
}

// GetAllTools returns the cached tools of every server that has any.
func (a *App) GetAllTools() []mcp.ServerTools {
	return a.mcp.AllTools()
}

// CallTool invokes a tool. Tool failures come back in the response.
func (a *App) CallTool(ctx context.Context, req mcp.ToolCallRequest) (mcp.ToolCallResponse, error) {
	return a.mcp.CallTool(ctx, req)
}

// ExecuteToolCall runs a model-produced call against its server.
func (a *App) ExecuteToolCall(ctx context.Context, call llm.ToolCall) (mcp.ToolCallResponse, error) {
	return a.mcp.ExecuteToolCall(ctx, call)
}

// StreamRequest is a start_stream call.
type StreamRequest struct {
	stream.Request
	// UseMCPTools offers every cached MCP tool to the model.
	UseMCPTools bool `json:"use_mcp_tools,omitempty"`
}

// StartStream begins a streaming generation and returns its id at once.
func (a *App) StartStream(req StreamRequest) (string, error) {
	r := req.Request
	r.Model, r.Options = a.resolveRequest(r.Model, r.Options)
	if req.UseMCPTools {
		r.Tools = append(r.Tools, mcp.ToolSpecs(a.mcp)...)
	}
	return a.streams.StartStream(r)
}

// StopStream cancels a stream. Unknown ids are a no-op.
func (a *App) StopStream(id string) {
	a.streams.StopStream(id)
}

func (a *App) PauseStream(id string) error {
	return a.streams.PauseStream(id)
}

func (a *App) ResumeStream(id string) error {
	return a.streams.ResumeStream(id)
}

// ListStreams describes the registered stream sessions.
func (a *App) ListStreams() []stream.Info {
	return a.streams.List()
}

// ChatRequest is a send_message call.
type ChatRequest struct {
	Model       string                `json:"model"`
	Messages    []stream.MessageInput `json:"messages"`
	Options     llm.Options           `json:"options"`
	UseMCPTools bool                  `json:"use_mcp_tools,omitempty"`
}

// SendMessage runs a non-streaming chat call. Provider failures are returned.
func (a *App) SendMessage(ctx context.Context, req ChatRequest) (*llm.ChatResponse, error) {
	model, opts := a.resolveRequest(req.Model, req.Options)
	if len(req.Messages) == 0 {
		return nil, fmt.Errorf("%w: at least one message is required", ErrInvalidRequest)
	}
	msgs := make([]llm.Message, 0, len(req.Messages))
	for _, m := range req.Messages {
		msgs = append(msgs, llm.Message{Role: llm.ParseRole(m.Role), Content: m.Content})
	}
	chat := llm.ChatRequest{Model: model, Messages: msgs, Options: opts}
	if req.UseMCPTools {
		chat.Tools = mcp.ToolSpecs(a.mcp)
	}
	return a.llm.ExecChat(ctx, chat)
}

// ProviderOperationResponse reports a key mutation.
type ProviderOperationResponse struct {
	Success  bool   `json:"success"`
	Message  string `json:"message"`
	Provider string `json:"provider"`
}

// SaveKey caches an API key for a provider. Persisting it is the caller's
// job.
func (a *App) SaveKey(provider, key string) (ProviderOperationResponse, error) {
	adapter, err := llm.LookupAdapter(provider)
	if err != nil {
		return ProviderOperationResponse{}, err
	}
	if strings.TrimSpace(key) == "" {
		return ProviderOperationResponse{}, fmt.Errorf("%w: api key for %s is empty", ErrInvalidRequest, adapter)
	}
	a.creds.Save(adapter, key)
	return ProviderOperationResponse{
		Success:  true,
		Message:  "API key saved for " + adapter.String(),
		Provider: adapter.String(),
	}, nil
}

// RemoveKey drops a provider's cached API key.
func (a *App) RemoveKey(provider string) (ProviderOperationResponse, error) {
	adapter, err := llm.LookupAdapter(provider)
	if err != nil {
		return ProviderOperationResponse{}, err
	}
	a.creds.Remove(adapter)
	return ProviderOperationResponse{
		Success:  true,
		Message:  "API key removed for " + adapter.String(),
		Provider: adapter.String(),
	}, nil
}

// GetProviderConfigs describes every provider and whether it has a key.
func (a *App) GetProviderConfigs() []llm.ProviderInfo {
	return llm.Catalog(a.creds.Has)
}

// ConfiguredProviders lists providers with a cached key.
func (a *App) ConfiguredProviders() []string {
	return a.creds.ConfiguredProviders()
}

// TestProviderConnection sends a tiny prompt to the provider's cheapest
// model. Provider failures report false; unknown providers and missing keys
// are errors.
func (a *App) TestProviderConnection(ctx context.Context, provider string) (bool, error) {
	adapter, err := llm.LookupAdapter(provider)
	if err != nil {
		return false, err
	}
	return a.llm.TestConnection(ctx, adapter)
}

// ListModels lists a provider's models.
func (a *App) ListModels(ctx context.Context, provider string) ([]llm.ModelInfo, error) {
	adapter, err := llm.LookupAdapter(provider)
	if err != nil {
		return nil, err
	}
	return a.llm.ListModels(ctx, adapter)
}

// PersistedServers lists every saved server with its last recorded status.
func (a *App) PersistedServers(ctx context.Context) ([]store.ServerRecord, error) {
	return a.store.ListServers(ctx)
}

// PersistedServer returns one saved server, or store.ErrNotFound.
func (a *App) PersistedServer(ctx context.Context, id string) (*store.ServerRecord, error) {
	return a.store.GetServer(ctx, id)
}

// Connect registers a server without persisting it and waits up to wait for
// it to leave Connecting.
func (a *App) Connect(ctx context.Context, cfg mcp.ServerConfig, wait time.Duration) (mcp.ServerStatus, error) {
	if err := a.mcp.AddServer(cfg); err != nil {
		return mcp.ServerStatus{}, err
	}
	a.mcp.WaitSettled(ctx, cfg.ID, time.Now().Add(wait))
	return a.GetStatus(cfg.ID)
}
