package cmd

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/samsaffron/aye/internal/app"
	"github.com/samsaffron/aye/internal/credentials"
	"github.com/samsaffron/aye/internal/llm"
	"github.com/samsaffron/aye/internal/mcp"
	"github.com/samsaffron/aye/internal/signal"
	"github.com/samsaffron/aye/internal/store"
	"github.com/samsaffron/aye/internal/stream"
	"github.com/spf13/cobra"
)

var (
	serveHost        string
	servePort        int
	serveToken       string
	serveAllowNoAuth bool
	serveCORSOrigins []string
	serveNoAutostart bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP and websocket command surface",
	Long: `Run an HTTP server exposing MCP server management, tool calls,
streaming chat and provider keys. Events are pushed over a websocket.

Endpoints:
  GET    /healthz
  GET    /v1/mcp/servers               POST /v1/mcp/servers
  GET    /v1/mcp/servers/{id}          DELETE /v1/mcp/servers/{id}
  POST   /v1/mcp/servers/{id}/connect  POST /v1/mcp/servers/{id}/refresh
  GET    /v1/mcp/tools                 POST /v1/mcp/tools/call
  GET    /v1/streams                   POST /v1/streams
  DELETE /v1/streams/{id}              POST /v1/streams/{id}/pause|resume
  POST   /v1/chat
  GET    /v1/providers                 PUT|DELETE /v1/providers/{name}/key
  POST   /v1/providers/{name}/test     GET /v1/providers/{name}/models
  GET    /v1/events                    (websocket)

Flags override the server section of the config file.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&serveHost, "host", "", "Bind host (default from config, 127.0.0.1)")
	serveCmd.Flags().IntVar(&servePort, "port", 0, "Bind port (default from config, 8765)")
	serveCmd.Flags().StringVar(&serveToken, "token", "", "Bearer token for API auth (auto-generated if omitted)")
	serveCmd.Flags().BoolVar(&serveAllowNoAuth, "allow-no-auth", false, "Disable auth (only allowed on loopback host)")
	serveCmd.Flags().StringArrayVar(&serveCORSOrigins, "cors-origin", nil, "Allowed CORS origin (repeatable, or '*' for all)")
	serveCmd.Flags().BoolVar(&serveNoAutostart, "no-autostart", false, "Do not start persisted or configured MCP servers")
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background())
	defer stop()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	flags := cmd.Flags()
	if flags.Changed("host") {
		cfg.Server.Host = serveHost
	}
	if flags.Changed("port") {
		cfg.Server.Port = servePort
	}
	if flags.Changed("token") {
		cfg.Server.Token = serveToken
	}
	if flags.Changed("allow-no-auth") {
		cfg.Server.AllowNoAuth = serveAllowNoAuth
	}
	if flags.Changed("cors-origin") {
		cfg.Server.CORSOrigins = serveCORSOrigins
	}
	if serveNoAutostart {
		cfg.MCP.Autostart = false
	}

	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return fmt.Errorf("invalid port %d (must be 1-65535)", cfg.Server.Port)
	}
	requireAuth := !cfg.Server.AllowNoAuth
	if !requireAuth && !isLoopbackHost(cfg.Server.Host) {
		return fmt.Errorf("--allow-no-auth is only allowed on loopback hosts (got %q)", cfg.Server.Host)
	}
	token := strings.TrimSpace(cfg.Server.Token)
	if requireAuth && token == "" {
		generated, err := generateServeToken()
		if err != nil {
			return fmt.Errorf("generate auth token: %w", err)
		}
		token = generated
	}

	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	a, err := app.Build(cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()
	a.Start(ctx)

	if err := autostartServers(ctx, cfg, a, logger); err != nil {
		logger.Warn("mcp autostart failed", "error", err)
	}

	s := newServeServer(serveServerConfig{
		host:        cfg.Server.Host,
		port:        cfg.Server.Port,
		requireAuth: requireAuth,
		token:       token,
		corsOrigins: append([]string(nil), cfg.Server.CORSOrigins...),
		eventBuffer: cfg.Stream.BufferSize,
	}, a, logger)

	if err := s.Start(); err != nil {
		return err
	}

	fmt.Fprintf(cmd.ErrOrStderr(), "aye serve listening on http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Fprintf(cmd.ErrOrStderr(), "auth: %s\n", authSummary(requireAuth))
	if requireAuth {
		fmt.Fprintf(cmd.ErrOrStderr(), "token: %s\n", token)
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "default model: %s\n", cfg.DefaultModel)

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.Stop(shutdownCtx)
}

func authSummary(required bool) string {
	if required {
		return "bearer required"
	}
	return "disabled"
}

func isLoopbackHost(host string) bool {
	h := strings.TrimSpace(strings.ToLower(host))
	return h == "127.0.0.1" || h == "localhost" || h == "::1"
}

func generateServeToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

type serveServerConfig struct {
	host        string
	port        int
	requireAuth bool
	token       string
	corsOrigins []string
	eventBuffer int
}

type serveServer struct {
	cfg      serveServerConfig
	app      *app.App
	logger   *slog.Logger
	server   *http.Server
	upgrader websocket.Upgrader
}

func newServeServer(cfg serveServerConfig, a *app.App, logger *slog.Logger) *serveServer {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.eventBuffer <= 0 {
		cfg.eventBuffer = 256
	}
	s := &serveServer{cfg: cfg, app: a, logger: logger}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin:     s.checkOrigin,
	}
	return s
}

func (s *serveServer) handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/healthz", s.handleHealth)

	mux.HandleFunc("GET /v1/mcp/servers", s.auth(s.handleListServers))
	mux.HandleFunc("POST /v1/mcp/servers", s.auth(s.handleAddServer))
	mux.HandleFunc("GET /v1/mcp/servers/{id}", s.auth(s.handleGetServer))
	mux.HandleFunc("DELETE /v1/mcp/servers/{id}", s.auth(s.handleRemoveServer))
	mux.HandleFunc("POST /v1/mcp/servers/{id}/connect", s.auth(s.handleReconnect))
	mux.HandleFunc("POST /v1/mcp/servers/{id}/refresh", s.auth(s.handleRefreshTools))
	mux.HandleFunc("GET /v1/mcp/tools", s.auth(s.handleListTools))
	mux.HandleFunc("POST /v1/mcp/tools/call", s.auth(s.handleCallTool))

	mux.HandleFunc("GET /v1/streams", s.auth(s.handleListStreams))
	mux.HandleFunc("POST /v1/streams", s.auth(s.handleStartStream))
	mux.HandleFunc("DELETE /v1/streams/{id}", s.auth(s.handleStopStream))
	mux.HandleFunc("POST /v1/streams/{id}/pause", s.auth(s.handlePauseStream))
	mux.HandleFunc("POST /v1/streams/{id}/resume", s.auth(s.handleResumeStream))
	mux.HandleFunc("POST /v1/chat", s.auth(s.handleChat))

	mux.HandleFunc("GET /v1/providers", s.auth(s.handleListProviders))
	mux.HandleFunc("PUT /v1/providers/{name}/key", s.auth(s.handleSaveKey))
	mux.HandleFunc("DELETE /v1/providers/{name}/key", s.auth(s.handleRemoveKey))
	mux.HandleFunc("POST /v1/providers/{name}/test", s.auth(s.handleTestProvider))
	mux.HandleFunc("GET /v1/providers/{name}/models", s.auth(s.handleListModels))

	mux.HandleFunc("GET /v1/models", s.auth(s.handleListAllModels))
	mux.HandleFunc("GET /v1/models/info", s.auth(s.handleModelInfo))
	mux.HandleFunc("POST /v1/models/test", s.auth(s.handleTestModel))
	mux.HandleFunc("PUT /v1/models/defaults", s.auth(s.handleSetModelDefaults))
	mux.HandleFunc("GET /v1/config", s.auth(s.handleGetConfig))
	mux.HandleFunc("PUT /v1/config", s.auth(s.handleUpdateConfig))

	mux.HandleFunc("GET /v1/events", s.auth(s.handleEvents))

	return s.cors(mux.ServeHTTP)
}

func (s *serveServer) Start() error {
	s.server = &http.Server{
		Addr:              net.JoinHostPort(s.cfg.host, fmt.Sprint(s.cfg.port)),
		Handler:           s.handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		err := s.server.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("start server: %w", err)
		}
		return nil
	case <-time.After(50 * time.Millisecond):
		return nil
	}
}

func (s *serveServer) Stop(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func (s *serveServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.Header().Set("Allow", "GET, HEAD")
		writeAPIError(w, http.StatusMethodNotAllowed, "invalid_request_error", "method not allowed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"servers": len(s.app.ListServers()),
		"streams": len(s.app.ListStreams()),
	})
}

// auth requires the bearer token. Websocket upgrades may pass it as the
// token query parameter instead, since browsers cannot set the header.
func (s *serveServer) auth(next http.HandlerFunc) http.HandlerFunc {
	if !s.cfg.requireAuth {
		return next
	}
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions {
			next(w, r)
			return
		}
		gotToken, ok := requestToken(r)
		if !ok || subtle.ConstantTimeCompare([]byte(gotToken), []byte(s.cfg.token)) != 1 {
			writeAPIError(w, http.StatusUnauthorized, "invalid_api_key", "invalid authentication credentials")
			return
		}
		next(w, r)
	}
}

func requestToken(r *http.Request) (string, bool) {
	const prefix = "Bearer "
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, prefix) {
		return strings.TrimSpace(strings.TrimPrefix(auth, prefix)), true
	}
	if websocket.IsWebSocketUpgrade(r) {
		if t := r.URL.Query().Get("token"); t != "" {
			return t, true
		}
	}
	return "", false
}

func (s *serveServer) corsAllowed() (map[string]struct{}, bool) {
	allowed := make(map[string]struct{}, len(s.cfg.corsOrigins))
	allowAll := false
	for _, origin := range s.cfg.corsOrigins {
		o := strings.TrimSpace(origin)
		if o == "" {
			continue
		}
		if o == "*" {
			allowAll = true
			continue
		}
		allowed[o] = struct{}{}
	}
	return allowed, allowAll
}

func (s *serveServer) cors(next http.HandlerFunc) http.HandlerFunc {
	allowed, allowAll := s.corsAllowed()

	return func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" {
			if allowAll {
				w.Header().Set("Access-Control-Allow-Origin", "*")
			} else if _, ok := allowed[origin]; ok {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Vary", "Origin")
			}
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type")
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next(w, r)
	}
}

// checkOrigin accepts websocket upgrades from the CORS allow-list, from the
// server's own host, and from non-browser clients that send no Origin.
func (s *serveServer) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	allowed, allowAll := s.corsAllowed()
	if allowAll {
		return true
	}
	if _, ok := allowed[origin]; ok {
		return true
	}
	u, err := url.Parse(origin)
	return err == nil && strings.EqualFold(u.Host, r.Host)
}

// MCP servers

func (s *serveServer) handleListServers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"servers": s.app.ListServers()})
}

func (s *serveServer) handleAddServer(w http.ResponseWriter, r *http.Request) {
	var cfg mcp.ServerConfig
	if !decodeRequest(w, r, &cfg) {
		return
	}
	if err := s.app.AddServer(r.Context(), cfg); err != nil {
		writeAppError(w, err)
		return
	}
	st, err := s.app.GetStatus(cfg.ID)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, st)
}

func (s *serveServer) handleGetServer(w http.ResponseWriter, r *http.Request) {
	d, err := s.app.ServerDetail(r.Context(), r.PathValue("id"))
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (s *serveServer) handleRemoveServer(w http.ResponseWriter, r *http.Request) {
	if err := s.app.RemoveServer(r.Context(), r.PathValue("id")); err != nil {
		writeAppError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *serveServer) handleReconnect(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.app.Reconnect(r.Context(), id); err != nil {
		writeAppError(w, err)
		return
	}
	s.handleGetServer(w, r)
}

func (s *serveServer) handleRefreshTools(w http.ResponseWriter, r *http.Request) {
	if err := s.app.RefreshTools(r.Context(), r.PathValue("id")); err != nil {
		writeAppError(w, err)
		return
	}
	s.handleGetServer(w, r)
}

func (s *serveServer) handleListTools(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"servers": s.app.GetAllTools()})
}

func (s *serveServer) handleCallTool(w http.ResponseWriter, r *http.Request) {
	var req mcp.ToolCallRequest
	if !decodeRequest(w, r, &req) {
		return
	}
	if req.ServerID == "" || req.ToolName == "" {
		writeAPIError(w, http.StatusBadRequest, "invalid_request_error", "server_id and tool_name are required")
		return
	}
	resp, err := s.app.CallTool(r.Context(), req)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// Streams and chat

func (s *serveServer) handleListStreams(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"streams": s.app.ListStreams()})
}

func (s *serveServer) handleStartStream(w http.ResponseWriter, r *http.Request) {
	var req app.StreamRequest
	if !decodeRequest(w, r, &req) {
		return
	}
	if len(req.Messages) == 0 {
		writeAPIError(w, http.StatusBadRequest, "invalid_request_error", "at least one message is required")
		return
	}
	id, err := s.app.StartStream(req)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"stream_id": id})
}

func (s *serveServer) handleStopStream(w http.ResponseWriter, r *http.Request) {
	s.app.StopStream(r.PathValue("id"))
	w.WriteHeader(http.StatusNoContent)
}

func (s *serveServer) handlePauseStream(w http.ResponseWriter, r *http.Request) {
	if err := s.app.PauseStream(r.PathValue("id")); err != nil {
		writeAppError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *serveServer) handleResumeStream(w http.ResponseWriter, r *http.Request) {
	if err := s.app.ResumeStream(r.PathValue("id")); err != nil {
		writeAppError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *serveServer) handleChat(w http.ResponseWriter, r *http.Request) {
	var req app.ChatRequest
	if !decodeRequest(w, r, &req) {
		return
	}
	resp, err := s.app.SendMessage(r.Context(), req)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// Providers

func (s *serveServer) handleListProviders(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"providers":  s.app.GetProviderConfigs(),
		"configured": s.app.ConfiguredProviders(),
	})
}

func (s *serveServer) handleSaveKey(w http.ResponseWriter, r *http.Request) {
	var body struct {
		APIKey string `json:"api_key"`
	}
	if !decodeRequest(w, r, &body) {
		return
	}
	resp, err := s.app.SaveKey(r.PathValue("name"), body.APIKey)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *serveServer) handleRemoveKey(w http.ResponseWriter, r *http.Request) {
	resp, err := s.app.RemoveKey(r.PathValue("name"))
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *serveServer) handleTestProvider(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	ok, err := s.app.TestProviderConnection(r.Context(), name)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"provider": name, "success": ok})
}

func (s *serveServer) handleListModels(w http.ResponseWriter, r *http.Request) {
	models, err := s.app.ListModels(r.Context(), r.PathValue("name"))
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"models": models})
}

// Models and runtime config

func (s *serveServer) handleListAllModels(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"models": s.app.ListAvailableModels(r.Context())})
}

// Model identifiers may contain "/", so the model is a query parameter.
func (s *serveServer) handleModelInfo(w http.ResponseWriter, r *http.Request) {
	model := strings.TrimSpace(r.URL.Query().Get("model"))
	if model == "" {
		writeAPIError(w, http.StatusBadRequest, "invalid_request_error", "model query parameter is required")
		return
	}
	writeJSON(w, http.StatusOK, s.app.ModelInfo(model))
}

func (s *serveServer) handleTestModel(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Model string `json:"model"`
	}
	if !decodeRequest(w, r, &req) {
		return
	}
	ok, err := s.app.TestModelConnection(r.Context(), req.Model)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"model": req.Model, "success": ok})
}

func (s *serveServer) handleSetModelDefaults(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Model string `json:"model"`
		app.ModelDefaults
	}
	if !decodeRequest(w, r, &req) {
		return
	}
	if err := s.app.SetModelDefaults(req.Model, req.ModelDefaults); err != nil {
		writeAppError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *serveServer) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.app.GetConfig())
}

func (s *serveServer) handleUpdateConfig(w http.ResponseWriter, r *http.Request) {
	var cfg app.RuntimeConfig
	if !decodeRequest(w, r, &cfg) {
		return
	}
	if err := s.app.UpdateConfig(cfg); err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.app.GetConfig())
}

// Events

const (
	eventsWriteWait  = 10 * time.Second
	eventsPongWait   = 60 * time.Second
	eventsPingPeriod = eventsPongWait * 9 / 10
)

// handleEvents upgrades to a websocket and forwards every bus event as a
// JSON text frame until either side closes. Client frames are discarded.
func (s *serveServer) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	bus := s.app.Events()
	sub := bus.Subscribe(s.cfg.eventBuffer)
	defer bus.Unsubscribe(sub)

	s.logger.Debug("event listener connected", "remote", r.RemoteAddr)

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		conn.SetReadLimit(4096)
		_ = conn.SetReadDeadline(time.Now().Add(eventsPongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(eventsPongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					s.logger.Debug("event listener read failed", "error", err)
				}
				return
			}
		}
	}()

	ping := time.NewTicker(eventsPingPeriod)
	defer ping.Stop()

	for {
		select {
		case <-closed:
			return
		case <-r.Context().Done():
			return
		case ev, ok := <-sub:
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"), time.Now().Add(eventsWriteWait))
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(eventsWriteWait))
			if err := conn.WriteJSON(ev); err != nil {
				s.logger.Debug("event listener write failed", "error", err)
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(eventsWriteWait)); err != nil {
				return
			}
		}
	}
}

// Helpers

func decodeRequest(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := requireJSONContentType(r); err != nil {
		writeAPIError(w, http.StatusUnsupportedMediaType, "invalid_request_error", err.Error())
		return false
	}
	if err := decodeJSONBody(r, dst); err != nil {
		writeAPIError(w, http.StatusBadRequest, "invalid_request_error", fmt.Sprintf("invalid JSON body: %v", err))
		return false
	}
	return true
}

// errorStatus maps an App error to an HTTP status and error type.
func errorStatus(err error) (int, string) {
	var (
		unknown    *llm.UnknownAdapterError
		missingKey *credentials.NotFoundError
		provider   *llm.Error
	)
	switch {
	case errors.Is(err, mcp.ErrServerNotFound),
		errors.Is(err, stream.ErrSessionNotFound),
		errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, mcp.ErrInvalidConfig),
		errors.Is(err, mcp.ErrLaunchFailed),
		errors.Is(err, app.ErrInvalidRequest),
		errors.As(err, &unknown):
		return http.StatusBadRequest, "invalid_request_error"
	case errors.As(err, &missingKey):
		return http.StatusBadRequest, "missing_credentials"
	case errors.Is(err, mcp.ErrNotConnected):
		return http.StatusConflict, "not_connected"
	case errors.As(err, &provider):
		return http.StatusBadGateway, "provider_" + string(provider.Kind)
	case errors.Is(err, mcp.ErrHandshakeFailed):
		return http.StatusBadGateway, "mcp_handshake_failed"
	}
	return http.StatusInternalServerError, "internal_error"
}

func writeAppError(w http.ResponseWriter, err error) {
	status, errType := errorStatus(err)
	writeAPIError(w, status, errType, err.Error())
}

func writeAPIError(w http.ResponseWriter, status int, errorType, message string) {
	writeJSON(w, status, map[string]any{
		"error": map[string]any{
			"message": message,
			"type":    errorType,
		},
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func decodeJSONBody(r *http.Request, dst any) error {
	defer r.Body.Close()
	dec := json.NewDecoder(io.LimitReader(r.Body, 10<<20))
	if err := dec.Decode(dst); err != nil {
		return err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return fmt.Errorf("request body must contain a single JSON object")
	}
	return nil
}

func requireJSONContentType(r *http.Request) error {
	contentType := r.Header.Get("Content-Type")
	if strings.TrimSpace(contentType) == "" {
		return fmt.Errorf("Content-Type must be application/json")
	}
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return fmt.Errorf("invalid Content-Type header")
	}
	if mediaType != "application/json" {
		return fmt.Errorf("Content-Type must be application/json")
	}
	return nil
}
