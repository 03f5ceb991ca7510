package app

import (
	"context"
	"fmt"
	"maps"
	"strings"

	"github.com/samsaffron/aye/internal/llm"
)

// ModelDefaults are option defaults applied to every request for one model.
type ModelDefaults struct {
	Options llm.Options `json:"options"`
}

// RuntimeConfig is the chat configuration that can be changed while the
// process runs. It is not written back to the config file.
type RuntimeConfig struct {
	DefaultModel   string                   `json:"default_model"`
	DefaultOptions llm.Options              `json:"default_options"`
	ModelDefaults  map[string]ModelDefaults `json:"model_defaults"`
}

func (c RuntimeConfig) clone() RuntimeConfig {
	c.ModelDefaults = maps.Clone(c.ModelDefaults)
	if c.ModelDefaults == nil {
		c.ModelDefaults = map[string]ModelDefaults{}
	}
	return c
}

func validateOptions(o llm.Options) error {
	if o.MaxTokens < 0 {
		return fmt.Errorf("%w: max_tokens must not be negative", ErrInvalidRequest)
	}
	return nil
}

// GetConfig returns a copy of the runtime configuration.
func (a *App) GetConfig() RuntimeConfig {
	a.runtimeMu.RLock()
	defer a.runtimeMu.RUnlock()
	return a.runtime.clone()
}

// UpdateConfig replaces the runtime configuration.
func (a *App) UpdateConfig(cfg RuntimeConfig) error {
	if err := validateOptions(cfg.DefaultOptions); err != nil {
		return err
	}
	for model, d := range cfg.ModelDefaults {
		if strings.TrimSpace(model) == "" {
			return fmt.Errorf("%w: model defaults need a model name", ErrInvalidRequest)
		}
		if err := validateOptions(d.Options); err != nil {
			return err
		}
	}
	cfg = cfg.clone()
	a.runtimeMu.Lock()
	a.runtime = cfg
	a.runtimeMu.Unlock()
	a.logger.Info("runtime config updated", "default_model", cfg.DefaultModel, "model_defaults", len(cfg.ModelDefaults))
	return nil
}

// SetModelDefaults sets the option defaults of one model.
func (a *App) SetModelDefaults(model string, d ModelDefaults) error {
	model = strings.TrimSpace(model)
	if model == "" {
		return fmt.Errorf("%w: model is required", ErrInvalidRequest)
	}
	if err := validateOptions(d.Options); err != nil {
		return err
	}
	a.runtimeMu.Lock()
	if a.runtime.ModelDefaults == nil {
		a.runtime.ModelDefaults = map[string]ModelDefaults{}
	}
	a.runtime.ModelDefaults[model] = d
	a.runtimeMu.Unlock()
	a.logger.Info("model defaults set", "model", model)
	return nil
}

// resolveRequest picks the model for a request and fills its unset options
// from the model's defaults, then from the global defaults. Model defaults
// match the identifier as given or the bare name after an adapter prefix.
func (a *App) resolveRequest(model string, opts llm.Options) (string, llm.Options) {
	a.runtimeMu.RLock()
	defer a.runtimeMu.RUnlock()

	if strings.TrimSpace(model) == "" {
		model = a.runtime.DefaultModel
	}
	d, ok := a.runtime.ModelDefaults[model]
	if !ok {
		_, bare := llm.ResolveModel(model)
		d, ok = a.runtime.ModelDefaults[bare]
	}
	if ok {
		opts = opts.WithDefaults(d.Options)
	}
	return model, opts.WithDefaults(a.runtime.DefaultOptions)
}

// ModelInfo reports how a model identifier is routed and what it supports.
func (a *App) ModelInfo(model string) llm.ModelDetails {
	return a.llm.ModelInfo(model)
}

// TestModelConnection sends a minimal prompt to one model.
func (a *App) TestModelConnection(ctx context.Context, model string) (bool, error) {
	if strings.TrimSpace(model) == "" {
		return false, fmt.Errorf("%w: model is required", ErrInvalidRequest)
	}
	return a.llm.TestModelConnection(ctx, model)
}

// ListAvailableModels maps every adapter to its models; adapters that cannot
// be listed map to an empty list.
func (a *App) ListAvailableModels(ctx context.Context) map[string][]string {
	return a.llm.ListAllModels(ctx)
}
