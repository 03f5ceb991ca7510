package llm

import (
	"context"
	"errors"
	"strings"
	"sync"
)

// ModelCapabilities are the features a model is expected to support.
type ModelCapabilities struct {
	Streaming        bool     `json:"streaming"`
	Tools            bool     `json:"tools"`
	Vision           bool     `json:"vision"`
	MaxContextLength *int     `json:"max_context_length,omitempty"`
	Modalities       []string `json:"modalities"`
}

// ModelDetails describes one model identifier as the gateway would route it.
type ModelDetails struct {
	Name         string            `json:"name"`
	Provider     string            `json:"provider"`
	Available    bool              `json:"available"`
	Capabilities ModelCapabilities `json:"capabilities"`
	Metadata     map[string]any    `json:"metadata"`
}

// ModelInfo resolves model to its adapter and reports its capabilities.
// A model is available when its adapter has a usable credential.
func (c *Client) ModelInfo(model string) ModelDetails {
	if strings.TrimSpace(model) == "" {
		return ModelDetails{
			Name:         model,
			Provider:     "unknown",
			Capabilities: ModelCapabilities{Modalities: []string{}},
			Metadata:     map[string]any{},
		}
	}
	adapter, name := ResolveModel(model)
	_, credErr := c.creds.Resolve(adapter)
	return ModelDetails{
		Name:      model,
		Provider:  adapter.String(),
		Available: credErr == nil,
		Capabilities: ModelCapabilities{
			Streaming:  true,
			Tools:      adapterSupportsTools(adapter),
			Vision:     modelSupportsVision(adapter, name),
			Modalities: []string{"text"},
		},
		Metadata: map[string]any{"model": name},
	}
}

func adapterSupportsTools(a Adapter) bool {
	switch a {
	case AdapterOpenAI, AdapterAnthropic, AdapterGemini:
		return true
	}
	return false
}

func modelSupportsVision(a Adapter, name string) bool {
	lower := strings.ToLower(name)
	switch {
	case strings.Contains(lower, "vision"), strings.Contains(lower, "4o"):
		return true
	case a == AdapterAnthropic && strings.HasPrefix(lower, "claude-3"):
		return true
	case a == AdapterGemini:
		return true
	}
	return false
}

// TestModelConnection sends "Hello" to one specific model. Provider failures
// are logged and reported as false; a missing credential is returned.
func (c *Client) TestModelConnection(ctx context.Context, model string) (bool, error) {
	_, err := c.ExecChat(ctx, ChatRequest{
		Model:    model,
		Messages: []Message{UserText("Hello")},
		Options:  Options{MaxTokens: 16},
	})
	var classified *Error
	switch {
	case err == nil:
		return true, nil
	case errors.As(err, &classified):
		c.logger.Warn("model connection test failed", "model", model, "category", classified.Category(), "error", err)
		return false, nil
	default:
		return false, err
	}
}

// ListAllModels lists the models of every adapter concurrently. An adapter
// whose listing fails maps to an empty list.
func (c *Client) ListAllModels(ctx context.Context) map[string][]string {
	out := make(map[string][]string, len(Adapters))
	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	for _, a := range Adapters {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ids := []string{}
			models, err := c.ListModels(ctx, a)
			if err != nil {
				c.logger.Debug("model listing failed", "provider", a.String(), "error", err)
			}
			for _, m := range models {
				ids = append(ids, m.ID)
			}
			mu.Lock()
			out[a.String()] = ids
			mu.Unlock()
		}()
	}
	wg.Wait()
	return out
}
