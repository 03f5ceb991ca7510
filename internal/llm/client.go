package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"
)

// CredentialSource supplies the API key for an adapter at call time.
// Adapters that need no key resolve to "".
type CredentialSource interface {
	Resolve(a Adapter) (string, error)
}

// AdapterConfig overrides per-adapter connection settings.
type AdapterConfig struct {
	BaseURL string
}

// ClientConfig configures a Client.
type ClientConfig struct {
	RequestTimeout time.Duration
	Retry          *RetryConfig // nil disables automatic retries
	Adapters       map[Adapter]AdapterConfig
}

// ProviderFactory builds the Provider for an adapter given its resolved key.
type ProviderFactory func(a Adapter, apiKey string) (Provider, error)

// ChatRequest is one chat call through the gateway.
type ChatRequest struct {
	Model    string
	Messages []Message
	Options  Options
	Tools    []ToolSpec
}

// Client is the multi-provider gateway. It holds no per-call state; the
// credential for each call is resolved when the call is made.
type Client struct {
	creds   CredentialSource
	cfg     ClientConfig
	factory ProviderFactory
	logger  *slog.Logger
}

// NewClient creates a gateway that builds SDK-backed providers.
func NewClient(creds CredentialSource, cfg ClientConfig, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Client{creds: creds, cfg: cfg, logger: logger}
	c.factory = c.newProvider
	return c
}

// WithProviderFactory replaces how providers are constructed.
func (c *Client) WithProviderFactory(f ProviderFactory) *Client {
	c.factory = f
	return c
}

// Provider returns a ready provider for the adapter, wrapped with retry when configured.
func (c *Client) Provider(a Adapter) (Provider, error) {
	key, err := c.creds.Resolve(a)
	if err != nil {
		return nil, err
	}
	p, err := c.factory(a, key)
	if err != nil {
		return nil, err
	}
	if c.cfg.Retry != nil && c.cfg.Retry.MaxAttempts > 1 {
		p = WrapWithRetry(p, *c.cfg.Retry)
	}
	return p, nil
}

func (c *Client) baseURL(a Adapter, fallback string) string {
	if ac, ok := c.cfg.Adapters[a]; ok && ac.BaseURL != "" {
		return ac.BaseURL
	}
	return fallback
}

func (c *Client) newProvider(a Adapter, apiKey string) (Provider, error) {
	timeout := c.cfg.RequestTimeout
	switch a {
	case AdapterOpenAI:
		return NewOpenAIProvider(OpenAIOptions{Name: "OpenAI", APIKey: apiKey, BaseURL: c.baseURL(a, ""), RequestTimeout: timeout}), nil
	case AdapterAnthropic:
		return NewAnthropicProvider(AnthropicOptions{APIKey: apiKey, BaseURL: c.baseURL(a, ""), RequestTimeout: timeout}), nil
	case AdapterGemini:
		return NewGeminiProvider(GeminiOptions{APIKey: apiKey, RequestTimeout: timeout}), nil
	case AdapterCohere:
		return NewOpenAIProvider(OpenAIOptions{Name: "Cohere", APIKey: apiKey, BaseURL: c.baseURL(a, cohereBaseURL), RequestTimeout: timeout}), nil
	case AdapterGroq:
		return NewOpenAIProvider(OpenAIOptions{Name: "Groq", APIKey: apiKey, BaseURL: c.baseURL(a, groqBaseURL), RequestTimeout: timeout}), nil
	case AdapterXAI:
		return NewOpenAIProvider(OpenAIOptions{Name: "xAI", APIKey: apiKey, BaseURL: c.baseURL(a, xaiBaseURL), RequestTimeout: timeout}), nil
	case AdapterDeepSeek:
		return NewOpenAIProvider(OpenAIOptions{Name: "DeepSeek", APIKey: apiKey, BaseURL: c.baseURL(a, deepseekBaseURL), RequestTimeout: timeout}), nil
	case AdapterOllama:
		return NewOpenAIProvider(OpenAIOptions{Name: "Ollama", APIKey: apiKey, BaseURL: c.baseURL(a, ollamaBaseURL), RequestTimeout: timeout}), nil
	}
	return nil, fmt.Errorf("no provider for adapter %s", a)
}

// ExecChatStream opens a streaming chat call. The model identifier selects
// the adapter (see ResolveModel).
func (c *Client) ExecChatStream(ctx context.Context, req ChatRequest) (Stream, error) {
	adapter, model := ResolveModel(req.Model)
	p, err := c.Provider(adapter)
	if err != nil {
		return nil, err
	}
	c.logger.Debug("opening chat stream", "adapter", adapter.String(), "model", model, "messages", len(req.Messages), "tools", len(req.Tools))
	return p.Stream(ctx, Request{
		Model:           model,
		Messages:        req.Messages,
		Tools:           req.Tools,
		MaxOutputTokens: req.Options.MaxTokens,
		Temperature:     req.Options.Temperature,
		TopP:            req.Options.TopP,
	})
}

// ExecChat runs a chat call to completion and returns the collected result.
func (c *Client) ExecChat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	start := time.Now()
	adapter, model := ResolveModel(req.Model)
	stream, err := c.ExecChatStream(ctx, req)
	if err != nil {
		return nil, err
	}
	defer stream.Close()

	resp := &ChatResponse{Model: model, Provider: adapter.String()}
	var text strings.Builder
	for {
		ev, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, ClassifyError(adapter.String(), err)
		}
		switch ev.Type {
		case EventTextDelta:
			text.WriteString(ev.Text)
		case EventToolCall:
			if ev.Tool != nil {
				resp.ToolCalls = append(resp.ToolCalls, *ev.Tool)
			}
		case EventUsage:
			resp.Usage = ev.Use
		case EventError:
			return nil, ClassifyError(adapter.String(), ev.Err)
		}
	}

	resp.Content = text.String()
	resp.Metadata = ResponseMetadata{
		Timestamp:      time.Now().UTC(),
		ResponseTimeMS: time.Since(start).Milliseconds(),
		Streamed:       false,
	}
	return resp, nil
}

// ListModels asks the provider for its models, falling back to the catalog
// when the provider cannot enumerate them.
func (c *Client) ListModels(ctx context.Context, a Adapter) ([]ModelInfo, error) {
	p, err := c.Provider(a)
	if err != nil {
		return nil, err
	}
	if r, ok := p.(*RetryProvider); ok {
		p = r.inner
	}
	if lister, ok := p.(ModelLister); ok {
		models, err := lister.ListModels(ctx)
		if err != nil {
			return nil, ClassifyError(a.String(), err)
		}
		return models, nil
	}
	info := CatalogEntry(a)
	models := make([]ModelInfo, 0, len(info.Models))
	for _, id := range info.Models {
		models = append(models, ModelInfo{ID: id})
	}
	return models, nil
}

// TestConnection sends a minimal prompt to the adapter's cheapest model.
// A provider failure is logged and reported as false; a missing credential
// is returned as an error.
func (c *Client) TestConnection(ctx context.Context, a Adapter) (bool, error) {
	_, err := c.ExecChat(ctx, ChatRequest{
		Model:    a.String() + ":" + TestModel(a),
		Messages: []Message{UserText("Hello")},
		Options:  Options{MaxTokens: 16},
	})
	var classified *Error
	switch {
	case err == nil:
		return true, nil
	case errors.As(err, &classified):
		c.logger.Warn("provider connection test failed", "provider", a.String(), "category", classified.Category(), "error", err)
		return false, nil
	default:
		return false, err
	}
}
