package llm

import (
	"fmt"
	"strings"

	"github.com/sahilm/fuzzy"
)

// Adapter identifies one provider calling convention. The set is closed:
// every switch over Adapter in this package is exhaustive.
type Adapter int

const (
	AdapterOpenAI Adapter = iota
	AdapterAnthropic
	AdapterGemini
	AdapterCohere
	AdapterGroq
	AdapterXAI
	AdapterDeepSeek
	AdapterOllama
)

// Adapters lists every supported adapter in catalog order.
var Adapters = []Adapter{
	AdapterOpenAI,
	AdapterAnthropic,
	AdapterGemini,
	AdapterCohere,
	AdapterGroq,
	AdapterXAI,
	AdapterDeepSeek,
	AdapterOllama,
}

func (a Adapter) String() string {
	switch a {
	case AdapterOpenAI:
		return "openai"
	case AdapterAnthropic:
		return "anthropic"
	case AdapterGemini:
		return "gemini"
	case AdapterCohere:
		return "cohere"
	case AdapterGroq:
		return "groq"
	case AdapterXAI:
		return "xai"
	case AdapterDeepSeek:
		return "deepseek"
	case AdapterOllama:
		return "ollama"
	}
	return fmt.Sprintf("adapter(%d)", int(a))
}

// EnvVar returns the environment variable consulted when no key is cached.
// Ollama runs locally and has none.
func (a Adapter) EnvVar() string {
	switch a {
	case AdapterOpenAI:
		return "OPENAI_API_KEY"
	case AdapterAnthropic:
		return "ANTHROPIC_API_KEY"
	case AdapterGemini:
		return "GEMINI_API_KEY"
	case AdapterCohere:
		return "COHERE_API_KEY"
	case AdapterGroq:
		return "GROQ_API_KEY"
	case AdapterXAI:
		return "XAI_API_KEY"
	case AdapterDeepSeek:
		return "DEEPSEEK_API_KEY"
	case AdapterOllama:
		return ""
	}
	return ""
}

// RequiresKey reports whether calls through this adapter need a credential.
func (a Adapter) RequiresKey() bool {
	return a != AdapterOllama
}

// ParseAdapter resolves a provider name. "grok" and "google" are accepted aliases.
func ParseAdapter(name string) (Adapter, bool) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "openai":
		return AdapterOpenAI, true
	case "anthropic", "claude":
		return AdapterAnthropic, true
	case "gemini", "google":
		return AdapterGemini, true
	case "cohere":
		return AdapterCohere, true
	case "groq":
		return AdapterGroq, true
	case "xai", "grok":
		return AdapterXAI, true
	case "deepseek":
		return AdapterDeepSeek, true
	case "ollama":
		return AdapterOllama, true
	}
	return 0, false
}

// UnknownAdapterError is returned when a provider name does not match any adapter.
type UnknownAdapterError struct {
	Name       string
	Suggestion string
}

func (e *UnknownAdapterError) Error() string {
	if e.Suggestion != "" {
		return fmt.Sprintf("unknown provider %q (did you mean %q?)", e.Name, e.Suggestion)
	}
	return fmt.Sprintf("unknown provider %q", e.Name)
}

// LookupAdapter is ParseAdapter with a descriptive error for unknown names.
func LookupAdapter(name string) (Adapter, error) {
	if a, ok := ParseAdapter(name); ok {
		return a, nil
	}
	return 0, &UnknownAdapterError{Name: name, Suggestion: SuggestAdapter(name)}
}

// SuggestAdapter returns the closest adapter name to a mistyped one, or "".
func SuggestAdapter(name string) string {
	names := make([]string, len(Adapters))
	for i, a := range Adapters {
		names[i] = a.String()
	}
	matches := fuzzy.Find(strings.ToLower(name), names)
	if len(matches) == 0 {
		return ""
	}
	return matches[0].Str
}

var groqModels = []string{
	"llama-3.1-8b-instant",
	"llama-3.3-70b-versatile",
	"llama3-70b-8192",
	"llama3-8b-8192",
	"mixtral-8x7b-32768",
	"gemma2-9b-it",
}

// ResolveModel splits a model identifier into its adapter and the model name
// sent to the provider. "adapter:model" and "adapter/model" select the
// adapter explicitly; bare names are matched by prefix, falling back to Ollama.
func ResolveModel(model string) (Adapter, string) {
	model = strings.TrimSpace(model)
	for _, sep := range []string{"::", ":", "/"} {
		if prefix, rest, ok := strings.Cut(model, sep); ok && rest != "" {
			if a, ok := ParseAdapter(prefix); ok {
				return a, rest
			}
		}
	}

	lower := strings.ToLower(model)
	for _, id := range groqModels {
		if lower == id {
			return AdapterGroq, model
		}
	}
	switch {
	case strings.HasPrefix(lower, "gpt"),
		strings.HasPrefix(lower, "chatgpt"),
		strings.HasPrefix(lower, "o1"),
		strings.HasPrefix(lower, "o3"),
		strings.HasPrefix(lower, "o4"):
		return AdapterOpenAI, model
	case strings.HasPrefix(lower, "claude"):
		return AdapterAnthropic, model
	case strings.HasPrefix(lower, "gemini"):
		return AdapterGemini, model
	case strings.HasPrefix(lower, "command"):
		return AdapterCohere, model
	case strings.HasPrefix(lower, "grok"):
		return AdapterXAI, model
	case strings.HasPrefix(lower, "deepseek"):
		return AdapterDeepSeek, model
	}
	return AdapterOllama, model
}
