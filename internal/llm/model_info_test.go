package llm

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestModelInfo(t *testing.T) {
	client, _ := newTestClient(staticCreds{AdapterOpenAI: "sk"}, nil)

	tests := []struct {
		model     string
		provider  string
		available bool
		tools     bool
		vision    bool
	}{
		{"gpt-4o", "openai", true, true, true},
		{"claude-3-5-sonnet-20241022", "anthropic", false, true, true},
		{"groq:llama-3.1-8b-instant", "groq", false, false, false},
		{"llama3.2", "ollama", true, false, false},
		{"llama3.2-vision", "ollama", true, false, true},
	}
	for _, tt := range tests {
		info := client.ModelInfo(tt.model)
		if info.Name != tt.model || info.Provider != tt.provider {
			t.Errorf("ModelInfo(%q) name/provider = %q/%q", tt.model, info.Name, info.Provider)
		}
		if info.Available != tt.available {
			t.Errorf("ModelInfo(%q).Available = %v, want %v", tt.model, info.Available, tt.available)
		}
		if info.Capabilities.Tools != tt.tools || info.Capabilities.Vision != tt.vision {
			t.Errorf("ModelInfo(%q).Capabilities = %+v", tt.model, info.Capabilities)
		}
		if !info.Capabilities.Streaming {
			t.Errorf("ModelInfo(%q) should stream", tt.model)
		}
	}

	empty := client.ModelInfo("")
	if empty.Provider != "unknown" || empty.Available || empty.Capabilities.Streaming {
		t.Errorf("ModelInfo(\"\") = %+v", empty)
	}
}

func TestTestModelConnection(t *testing.T) {
	mock := NewMockProvider("groq").AddTextResponse("hi").AddError(errors.New("503 service unavailable"))
	client, _ := newTestClient(staticCreds{AdapterGroq: "gsk"}, map[Adapter]*MockProvider{AdapterGroq: mock})

	ok, err := client.TestModelConnection(context.Background(), "groq:mixtral-8x7b-32768")
	if err != nil || !ok {
		t.Fatalf("first test = (%v, %v), want (true, nil)", ok, err)
	}
	if got := mock.Requests[0]; got.Model != "mixtral-8x7b-32768" || len(got.Messages) != 1 {
		t.Errorf("request = %+v", got)
	}

	ok, err = client.TestModelConnection(context.Background(), "groq:mixtral-8x7b-32768")
	if err != nil || ok {
		t.Fatalf("second test = (%v, %v), want (false, nil)", ok, err)
	}

	ok, err = client.TestModelConnection(context.Background(), "claude-3-haiku-20240307")
	if ok || err == nil {
		t.Fatalf("missing key = (%v, %v), want (false, error)", ok, err)
	}
}

func TestListAllModels(t *testing.T) {
	providers := map[Adapter]Provider{
		AdapterOpenAI: NewMockProvider("openai"),
		AdapterOllama: NewMockProvider("ollama"),
	}
	client := NewClient(staticCreds{AdapterOpenAI: "sk", AdapterGroq: "gsk"}, ClientConfig{}, nil).
		WithProviderFactory(func(a Adapter, _ string) (Provider, error) {
			p, ok := providers[a]
			if !ok {
				return nil, fmt.Errorf("no provider for %s", a)
			}
			return p, nil
		})

	all := client.ListAllModels(context.Background())
	if len(all) != len(Adapters) {
		t.Fatalf("adapters listed = %d, want %d", len(all), len(Adapters))
	}
	if got := all["openai"]; len(got) != len(CatalogEntry(AdapterOpenAI).Models) || got[0] != "gpt-4o" {
		t.Errorf("openai = %v", got)
	}
	if got := all["ollama"]; len(got) != len(CatalogEntry(AdapterOllama).Models) {
		t.Errorf("ollama = %v", got)
	}
	for _, name := range []string{"anthropic", "groq"} {
		got, ok := all[name]
		if !ok || got == nil || len(got) != 0 {
			t.Errorf("%s = %#v, want empty list", name, got)
		}
	}
}

func TestOptionsWithDefaults(t *testing.T) {
	low, high := 0.2, 0.9
	got := Options{MaxTokens: 100}.WithDefaults(Options{Temperature: &low, MaxTokens: 10, TopP: &high})
	if got.MaxTokens != 100 || got.Temperature == nil || *got.Temperature != low || got.TopP == nil || *got.TopP != high {
		t.Fatalf("WithDefaults = %+v", got)
	}
	got = Options{Temperature: &high}.WithDefaults(Options{Temperature: &low})
	if *got.Temperature != high {
		t.Fatalf("explicit temperature overridden: %v", *got.Temperature)
	}
}
