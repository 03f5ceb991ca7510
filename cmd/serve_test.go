package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/samsaffron/aye/internal/app"
	"github.com/samsaffron/aye/internal/credentials"
	"github.com/samsaffron/aye/internal/events"
	"github.com/samsaffron/aye/internal/llm"
	"github.com/samsaffron/aye/internal/mcp"
	"github.com/samsaffron/aye/internal/store"
	"github.com/samsaffron/aye/internal/stream"
)

const testToken = "secret"

type fakeToolServer struct {
	done chan struct{}
}

func (f *fakeToolServer) Start(ctx context.Context) error { return nil }

func (f *fakeToolServer) ListTools(ctx context.Context) ([]mcp.Tool, error) {
	return []mcp.Tool{{Name: "echo", Description: "Echo input", InputSchema: map[string]any{"type": "object"}}}, nil
}

func (f *fakeToolServer) CallTool(ctx context.Context, name string, args map[string]any) (*mcp.CallResult, error) {
	return &mcp.CallResult{Content: []map[string]any{{"type": "text", "text": fmt.Sprint(args["text"])}}}, nil
}

func (f *fakeToolServer) Done() <-chan struct{} { return f.done }
func (f *fakeToolServer) Close() error          { return nil }

type serveTestEnv struct {
	srv  *httptest.Server
	app  *app.App
	mock *llm.MockProvider
}

func newServeTestEnv(t *testing.T) *serveTestEnv {
	t.Helper()

	creds := credentials.NewResolver(map[llm.Adapter]string{llm.AdapterOpenAI: "sk-test"}).
		WithGetenv(func(string) string { return "" })
	mock := llm.NewMockProvider("openai")
	client := llm.NewClient(creds, llm.ClientConfig{}, nil).
		WithProviderFactory(func(a llm.Adapter, _ string) (llm.Provider, error) { return mock, nil })
	servers := mcp.NewManager(func(cfg mcp.ServerConfig) (mcp.ProtocolClient, error) {
		return &fakeToolServer{done: make(chan struct{})}, nil
	}, mcp.ConnectionOptions{ConnectTimeout: time.Second}, nil)
	bus := events.New()

	a := app.New(app.Deps{
		Credentials:  creds,
		LLM:          client,
		MCP:          servers,
		Streams:      stream.NewManager(client, bus, stream.DefaultConfig(), nil),
		Store:        &store.NoopStore{},
		Bus:          bus,
		DefaultModel: "gpt-4o-mini",
	})
	a.Start(context.Background())

	s := newServeServer(serveServerConfig{requireAuth: true, token: testToken}, a, nil)
	srv := httptest.NewServer(s.handler())
	t.Cleanup(func() {
		srv.Close()
		_ = a.Close()
	})
	return &serveTestEnv{srv: srv, app: a, mock: mock}
}

func (e *serveTestEnv) do(t *testing.T, method, path string, body any) *http.Response {
	t.Helper()
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		r = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, e.srv.URL+path, r)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	req.Header.Set("Authorization", "Bearer "+testToken)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeResponse(t *testing.T, resp *http.Response, dst any) {
	t.Helper()
	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func expectStatus(t *testing.T, resp *http.Response, want int) {
	t.Helper()
	if resp.StatusCode != want {
		body, _ := io.ReadAll(resp.Body)
		t.Fatalf("status = %d, want %d (body %s)", resp.StatusCode, want, body)
	}
}

func TestServeAuthMiddleware(t *testing.T) {
	srv := &serveServer{cfg: serveServerConfig{requireAuth: true, token: "secret"}}
	h := srv.auth(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	tests := []struct {
		name   string
		method string
		header string
		want   int
	}{
		{"missing", http.MethodGet, "", http.StatusUnauthorized},
		{"wrong", http.MethodGet, "Bearer nope", http.StatusUnauthorized},
		{"not bearer", http.MethodGet, "Basic secret", http.StatusUnauthorized},
		{"valid", http.MethodGet, "Bearer secret", http.StatusNoContent},
		{"preflight", http.MethodOptions, "", http.StatusNoContent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, "/v1/mcp/servers", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rr := httptest.NewRecorder()
			h(rr, req)
			if rr.Code != tt.want {
				t.Fatalf("status = %d, want %d", rr.Code, tt.want)
			}
		})
	}
}

func TestServeAuthQueryTokenOnlyForWebsocket(t *testing.T) {
	srv := &serveServer{cfg: serveServerConfig{requireAuth: true, token: "secret"}}
	h := srv.auth(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	plain := httptest.NewRequest(http.MethodGet, "/v1/events?token=secret", nil)
	rr := httptest.NewRecorder()
	h(rr, plain)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("plain request with query token: status = %d, want 401", rr.Code)
	}

	upgrade := httptest.NewRequest(http.MethodGet, "/v1/events?token=secret", nil)
	upgrade.Header.Set("Connection", "Upgrade")
	upgrade.Header.Set("Upgrade", "websocket")
	rr = httptest.NewRecorder()
	h(rr, upgrade)
	if rr.Code != http.StatusNoContent {
		t.Fatalf("upgrade request with query token: status = %d, want 204", rr.Code)
	}
}

func TestServeCORS(t *testing.T) {
	srv := &serveServer{cfg: serveServerConfig{corsOrigins: []string{"https://app.example"}}}
	h := srv.cors(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodOptions, "/v1/streams", nil)
	req.Header.Set("Origin", "https://app.example")
	rr := httptest.NewRecorder()
	h(rr, req)
	if rr.Code != http.StatusNoContent {
		t.Fatalf("preflight status = %d, want 204", rr.Code)
	}
	if got := rr.Header().Get("Access-Control-Allow-Origin"); got != "https://app.example" {
		t.Fatalf("allow origin = %q", got)
	}

	req = httptest.NewRequest(http.MethodGet, "/v1/streams", nil)
	req.Header.Set("Origin", "https://evil.example")
	rr = httptest.NewRecorder()
	h(rr, req)
	if got := rr.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Fatalf("unexpected allow origin %q for unlisted origin", got)
	}
}

func TestServeCheckOrigin(t *testing.T) {
	srv := &serveServer{cfg: serveServerConfig{corsOrigins: []string{"https://app.example"}}}
	tests := []struct {
		origin string
		want   bool
	}{
		{"", true},
		{"https://app.example", true},
		{"http://example.com", true},
		{"https://evil.example", false},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodGet, "http://example.com/v1/events", nil)
		if tt.origin != "" {
			req.Header.Set("Origin", tt.origin)
		}
		if got := srv.checkOrigin(req); got != tt.want {
			t.Errorf("checkOrigin(%q) = %v, want %v", tt.origin, got, tt.want)
		}
	}
}

func TestServeHealth(t *testing.T) {
	env := newServeTestEnv(t)
	resp, err := http.Get(env.srv.URL + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	defer resp.Body.Close()
	expectStatus(t, resp, http.StatusOK)
	var body map[string]any
	decodeResponse(t, resp, &body)
	if body["status"] != "ok" {
		t.Fatalf("health body = %v", body)
	}
}

func TestServeRequiresAuth(t *testing.T) {
	env := newServeTestEnv(t)
	resp, err := http.Get(env.srv.URL + "/v1/mcp/servers")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	expectStatus(t, resp, http.StatusUnauthorized)
}

func TestServeServerLifecycle(t *testing.T) {
	env := newServeTestEnv(t)

	resp := env.do(t, http.MethodPost, "/v1/mcp/servers", mcp.ServerConfig{ID: "fs", Command: "echo"})
	expectStatus(t, resp, http.StatusAccepted)

	deadline := time.Now().Add(5 * time.Second)
	var st mcp.ServerStatus
	for {
		resp = env.do(t, http.MethodGet, "/v1/mcp/servers/fs", nil)
		expectStatus(t, resp, http.StatusOK)
		decodeResponse(t, resp, &st)
		if st.Status == mcp.StatusConnected {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("server never connected, last status %q", st.Status)
		}
		time.Sleep(10 * time.Millisecond)
	}
	if st.Name != "fs" || len(st.Tools) != 1 {
		t.Fatalf("status = %+v", st)
	}

	resp = env.do(t, http.MethodGet, "/v1/mcp/servers", nil)
	expectStatus(t, resp, http.StatusOK)
	var list struct {
		Servers []mcp.ServerStatus `json:"servers"`
	}
	decodeResponse(t, resp, &list)
	if len(list.Servers) != 1 || list.Servers[0].ID != "fs" {
		t.Fatalf("servers = %+v", list.Servers)
	}

	resp = env.do(t, http.MethodGet, "/v1/mcp/tools", nil)
	expectStatus(t, resp, http.StatusOK)
	var tools struct {
		Servers []mcp.ServerTools `json:"servers"`
	}
	decodeResponse(t, resp, &tools)
	if len(tools.Servers) != 1 || tools.Servers[0].Tools[0].Name != "echo" {
		t.Fatalf("tools = %+v", tools.Servers)
	}

	resp = env.do(t, http.MethodPost, "/v1/mcp/tools/call", mcp.ToolCallRequest{
		ServerID:  "fs",
		ToolName:  "echo",
		Arguments: map[string]any{"text": "hi"},
	})
	expectStatus(t, resp, http.StatusOK)
	var call mcp.ToolCallResponse
	decodeResponse(t, resp, &call)
	if !call.Success || len(call.Content) != 1 || call.Content[0]["text"] != "hi" {
		t.Fatalf("call = %+v", call)
	}

	resp = env.do(t, http.MethodDelete, "/v1/mcp/servers/fs", nil)
	expectStatus(t, resp, http.StatusNoContent)
	resp = env.do(t, http.MethodGet, "/v1/mcp/servers/fs", nil)
	expectStatus(t, resp, http.StatusNotFound)
}

func TestServeErrorsMapToStatus(t *testing.T) {
	env := newServeTestEnv(t)

	tests := []struct {
		name   string
		method string
		path   string
		body   any
		want   int
	}{
		{"unknown server", http.MethodGet, "/v1/mcp/servers/nope", nil, http.StatusNotFound},
		{"tool on unknown server", http.MethodPost, "/v1/mcp/tools/call", mcp.ToolCallRequest{ServerID: "nope", ToolName: "x"}, http.StatusNotFound},
		{"missing command", http.MethodPost, "/v1/mcp/servers", mcp.ServerConfig{ID: "x"}, http.StatusBadRequest},
		{"pause unknown stream", http.MethodPost, "/v1/streams/nope/pause", nil, http.StatusNotFound},
		{"stop unknown stream", http.MethodDelete, "/v1/streams/nope", nil, http.StatusNoContent},
		{"stream without messages", http.MethodPost, "/v1/streams", map[string]any{"model": "gpt-4o-mini"}, http.StatusBadRequest},
		{"chat without messages", http.MethodPost, "/v1/chat", map[string]any{}, http.StatusBadRequest},
		{"unknown provider", http.MethodGet, "/v1/providers/nope/models", nil, http.StatusBadRequest},
		{"missing key", http.MethodPost, "/v1/providers/anthropic/test", nil, http.StatusBadRequest},
		{"empty key", http.MethodPut, "/v1/providers/groq/key", map[string]string{"api_key": " "}, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := env.do(t, tt.method, tt.path, tt.body)
			expectStatus(t, resp, tt.want)
		})
	}
}

func TestServeRejectsNonJSONBody(t *testing.T) {
	env := newServeTestEnv(t)
	req, _ := http.NewRequest(http.MethodPost, env.srv.URL+"/v1/chat", strings.NewReader(`{}`))
	req.Header.Set("Authorization", "Bearer "+testToken)
	req.Header.Set("Content-Type", "text/plain")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	defer resp.Body.Close()
	expectStatus(t, resp, http.StatusUnsupportedMediaType)
}

func TestServeChat(t *testing.T) {
	env := newServeTestEnv(t)
	env.mock.AddTextResponse("hello there")

	resp := env.do(t, http.MethodPost, "/v1/chat", app.ChatRequest{
		Messages: []stream.MessageInput{{Role: "user", Content: "hi"}},
	})
	expectStatus(t, resp, http.StatusOK)
	var chat llm.ChatResponse
	decodeResponse(t, resp, &chat)
	if chat.Content != "hello there" || chat.Provider != "openai" {
		t.Fatalf("chat = %+v", chat)
	}
}

func TestServeProviderKeys(t *testing.T) {
	env := newServeTestEnv(t)

	resp := env.do(t, http.MethodPut, "/v1/providers/groq/key", map[string]string{"api_key": "gsk_test"})
	expectStatus(t, resp, http.StatusOK)
	var op app.ProviderOperationResponse
	decodeResponse(t, resp, &op)
	if !op.Success || op.Provider != "groq" {
		t.Fatalf("save = %+v", op)
	}

	resp = env.do(t, http.MethodGet, "/v1/providers", nil)
	expectStatus(t, resp, http.StatusOK)
	var list struct {
		Providers  []llm.ProviderInfo `json:"providers"`
		Configured []string           `json:"configured"`
	}
	decodeResponse(t, resp, &list)
	if len(list.Providers) != len(llm.Adapters) {
		t.Fatalf("providers = %d, want %d", len(list.Providers), len(llm.Adapters))
	}
	for _, p := range list.Providers {
		if p.Name == "groq" && !p.IsConfigured {
			t.Fatal("groq should be configured after saving a key")
		}
	}
	if strings.Join(list.Configured, ",") != "groq,openai" {
		t.Fatalf("configured = %v", list.Configured)
	}

	resp = env.do(t, http.MethodDelete, "/v1/providers/groq/key", nil)
	expectStatus(t, resp, http.StatusOK)
}

func TestServeStreamEventsOverWebsocket(t *testing.T) {
	env := newServeTestEnv(t)
	env.mock.AddTextResponse("streamed reply")

	before := env.app.Events().SubscriberCount()
	wsURL := "ws" + strings.TrimPrefix(env.srv.URL, "http") + "/v1/events?token=" + testToken
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(5 * time.Second)
	for env.app.Events().SubscriberCount() <= before {
		if time.Now().After(deadline) {
			t.Fatal("websocket listener never subscribed")
		}
		time.Sleep(5 * time.Millisecond)
	}

	resp := env.do(t, http.MethodPost, "/v1/streams", map[string]any{
		"messages": []map[string]string{{"role": "user", "content": "hi"}},
	})
	expectStatus(t, resp, http.StatusAccepted)
	var started struct {
		StreamID string `json:"stream_id"`
	}
	decodeResponse(t, resp, &started)
	if started.StreamID == "" {
		t.Fatal("empty stream id")
	}

	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var types []string
	var final string
	for {
		var ev struct {
			Name    string         `json:"event"`
			Payload stream.Payload `json:"payload"`
		}
		if err := conn.ReadJSON(&ev); err != nil {
			t.Fatalf("read event: %v (got %v)", err, types)
		}
		if ev.Name != events.NameStream || ev.Payload.StreamID != started.StreamID {
			continue
		}
		types = append(types, string(ev.Payload.EventType))
		if ev.Payload.EventType == stream.EventError {
			t.Fatalf("stream failed: %v", ev.Payload.Data)
		}
		if ev.Payload.EventType == stream.EventEnd {
			final, _ = ev.Payload.Data["final_response"].(string)
			break
		}
	}
	if types[0] != string(stream.EventStart) {
		t.Fatalf("first event = %s, want Start (all %v)", types[0], types)
	}
	if final != "streamed reply" {
		t.Fatalf("final_response = %q", final)
	}
}

func TestErrorStatus(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("wrap: %w", mcp.ErrServerNotFound), http.StatusNotFound},
		{stream.ErrSessionNotFound, http.StatusNotFound},
		{store.ErrNotFound, http.StatusNotFound},
		{mcp.ErrInvalidConfig, http.StatusBadRequest},
		{&llm.UnknownAdapterError{Name: "x"}, http.StatusBadRequest},
		{&credentials.NotFoundError{Adapter: llm.AdapterGroq, EnvVar: "GROQ_API_KEY"}, http.StatusBadRequest},
		{mcp.ErrNotConnected, http.StatusConflict},
		{&llm.Error{Kind: llm.KindRateLimit, Provider: "openai", Message: "slow down"}, http.StatusBadGateway},
		{fmt.Errorf("%w: srv: EOF", mcp.ErrHandshakeFailed), http.StatusBadGateway},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got, _ := errorStatus(tt.err); got != tt.want {
			t.Errorf("errorStatus(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
	if _, errType := errorStatus(fmt.Errorf("%w: srv: EOF", mcp.ErrHandshakeFailed)); errType != "mcp_handshake_failed" {
		t.Errorf("handshake error type = %q", errType)
	}
}

func TestServeModelsAndRuntimeConfig(t *testing.T) {
	env := newServeTestEnv(t)

	resp := env.do(t, http.MethodGet, "/v1/models", nil)
	expectStatus(t, resp, http.StatusOK)
	var all struct {
		Models map[string][]string `json:"models"`
	}
	decodeResponse(t, resp, &all)
	if len(all.Models) != len(llm.Adapters) || len(all.Models["openai"]) == 0 {
		t.Fatalf("models = %v", all.Models)
	}
	if got, ok := all.Models["anthropic"]; !ok || len(got) != 0 {
		t.Errorf("anthropic = %#v, want empty list", got)
	}

	resp = env.do(t, http.MethodGet, "/v1/models/info?model=openai/gpt-4o", nil)
	expectStatus(t, resp, http.StatusOK)
	var info llm.ModelDetails
	decodeResponse(t, resp, &info)
	if info.Provider != "openai" || !info.Available || !info.Capabilities.Vision {
		t.Errorf("info = %+v", info)
	}
	expectStatus(t, env.do(t, http.MethodGet, "/v1/models/info", nil), http.StatusBadRequest)

	env.mock.AddTextResponse("hello")
	resp = env.do(t, http.MethodPost, "/v1/models/test", map[string]any{"model": "gpt-4o"})
	expectStatus(t, resp, http.StatusOK)
	var tested struct {
		Model   string `json:"model"`
		Success bool   `json:"success"`
	}
	decodeResponse(t, resp, &tested)
	if tested.Model != "gpt-4o" || !tested.Success {
		t.Errorf("test = %+v", tested)
	}

	resp = env.do(t, http.MethodPut, "/v1/models/defaults", map[string]any{
		"model":   "gpt-4o-mini",
		"options": map[string]any{"max_tokens": 77},
	})
	expectStatus(t, resp, http.StatusNoContent)
	expectStatus(t, env.do(t, http.MethodPut, "/v1/models/defaults", map[string]any{"model": ""}), http.StatusBadRequest)

	resp = env.do(t, http.MethodGet, "/v1/config", nil)
	expectStatus(t, resp, http.StatusOK)
	var cfg app.RuntimeConfig
	decodeResponse(t, resp, &cfg)
	if cfg.DefaultModel != "gpt-4o-mini" || cfg.ModelDefaults["gpt-4o-mini"].Options.MaxTokens != 77 {
		t.Fatalf("config = %+v", cfg)
	}

	resp = env.do(t, http.MethodPut, "/v1/config", map[string]any{
		"default_model":   "gpt-4o",
		"default_options": map[string]any{"max_tokens": 12},
	})
	expectStatus(t, resp, http.StatusOK)
	decodeResponse(t, resp, &cfg)
	if cfg.DefaultModel != "gpt-4o" || cfg.DefaultOptions.MaxTokens != 12 || len(cfg.ModelDefaults) != 0 {
		t.Errorf("updated config = %+v", cfg)
	}

	env.mock.AddTextResponse("pong")
	resp = env.do(t, http.MethodPost, "/v1/chat", map[string]any{
		"messages": []map[string]any{{"role": "user", "content": "ping"}},
	})
	expectStatus(t, resp, http.StatusOK)
	last := env.mock.Requests[len(env.mock.Requests)-1]
	if last.Model != "gpt-4o" || last.MaxOutputTokens != 12 {
		t.Errorf("chat request = %+v", last)
	}
}
