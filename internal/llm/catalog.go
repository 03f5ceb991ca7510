package llm

// ProviderInfo describes a provider for display and configuration.
type ProviderInfo struct {
	Name         string   `json:"name"`
	DisplayName  string   `json:"display_name"`
	Description  string   `json:"description"`
	KeyFormat    string   `json:"key_format"`
	Website      string   `json:"website"`
	Models       []string `json:"models"`
	RequiresKey  bool     `json:"requires_key"`
	IsConfigured bool     `json:"is_configured"`
}

// CatalogEntry returns the static description of an adapter.
func CatalogEntry(a Adapter) ProviderInfo {
	info := ProviderInfo{Name: a.String(), RequiresKey: a.RequiresKey()}
	switch a {
	case AdapterOpenAI:
		info.DisplayName = "OpenAI"
		info.Description = "GPT-4, GPT-4o, and ChatGPT models"
		info.KeyFormat = "sk-..."
		info.Website = "https://platform.openai.com/api-keys"
		info.Models = []string{"gpt-4o", "gpt-4o-mini", "gpt-4-turbo"}
	case AdapterAnthropic:
		info.DisplayName = "Anthropic"
		info.Description = "Claude 3.5 Sonnet, Claude 3 Haiku, and Claude 3 Opus"
		info.KeyFormat = "sk-ant-..."
		info.Website = "https://console.anthropic.com/settings/keys"
		info.Models = []string{"claude-3-5-sonnet-20241022", "claude-3-haiku-20240307"}
	case AdapterGemini:
		info.DisplayName = "Google Gemini"
		info.Description = "Gemini 2.0 Flash, Gemini 1.5 Pro models"
		info.KeyFormat = "AI..."
		info.Website = "https://aistudio.google.com/app/apikey"
		info.Models = []string{"gemini-2.0-flash", "gemini-1.5-pro"}
	case AdapterCohere:
		info.DisplayName = "Cohere"
		info.Description = "Command and Command Light models"
		info.KeyFormat = "co-..."
		info.Website = "https://dashboard.cohere.com/api-keys"
		info.Models = []string{"command", "command-light"}
	case AdapterGroq:
		info.DisplayName = "Groq"
		info.Description = "Ultra-fast inference for Llama, Mixtral models"
		info.KeyFormat = "gsk_..."
		info.Website = "https://console.groq.com/keys"
		info.Models = []string{"llama-3.1-8b-instant", "mixtral-8x7b-32768"}
	case AdapterXAI:
		info.DisplayName = "xAI"
		info.Description = "Grok models from xAI"
		info.KeyFormat = "xai-..."
		info.Website = "https://console.x.ai/"
		info.Models = []string{"grok-beta"}
	case AdapterDeepSeek:
		info.DisplayName = "DeepSeek"
		info.Description = "DeepSeek Chat and Coder models"
		info.KeyFormat = "sk-..."
		info.Website = "https://platform.deepseek.com/api_keys"
		info.Models = []string{"deepseek-chat", "deepseek-coder"}
	case AdapterOllama:
		info.DisplayName = "Ollama"
		info.Description = "Local models served by Ollama"
		info.Website = "https://ollama.com/library"
		info.Models = []string{"llama3.2", "qwen2.5", "mistral"}
	}
	return info
}

// TestModel is the cheapest model used to verify an adapter's credentials.
func TestModel(a Adapter) string {
	switch a {
	case AdapterOpenAI:
		return "gpt-4o-mini"
	case AdapterAnthropic:
		return "claude-3-haiku-20240307"
	case AdapterGemini:
		return "gemini-2.0-flash"
	case AdapterCohere:
		return "command-light"
	case AdapterGroq:
		return "llama-3.1-8b-instant"
	case AdapterXAI:
		return "grok-beta"
	case AdapterDeepSeek:
		return "deepseek-chat"
	case AdapterOllama:
		return "llama3.2"
	}
	return ""
}

// Catalog describes every adapter. configured reports whether a credential
// is available for an adapter; it is not consulted for keyless adapters.
func Catalog(configured func(Adapter) bool) []ProviderInfo {
	out := make([]ProviderInfo, 0, len(Adapters))
	for _, a := range Adapters {
		info := CatalogEntry(a)
		info.IsConfigured = !a.RequiresKey() || (configured != nil && configured(a))
		out = append(out, info)
	}
	return out
}
