package credentials

import (
	"errors"
	"sync"
	"testing"

	"github.com/samsaffron/aye/internal/llm"
)

func fakeEnv(vars map[string]string) func(string) string {
	return func(k string) string { return vars[k] }
}

func TestResolveCacheWinsOverEnv(t *testing.T) {
	r := NewResolver(map[llm.Adapter]string{llm.AdapterOpenAI: "sk-cached"}).
		WithGetenv(fakeEnv(map[string]string{"OPENAI_API_KEY": "sk-env"}))

	key, err := r.Resolve(llm.AdapterOpenAI)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if key != "sk-cached" {
		t.Fatalf("key = %q, want cached key", key)
	}
}

func TestResolveEnvFallback(t *testing.T) {
	r := NewResolver(nil).WithGetenv(fakeEnv(map[string]string{"GROQ_API_KEY": " gsk-env "}))
	key, err := r.Resolve(llm.AdapterGroq)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if key != "gsk-env" {
		t.Fatalf("key = %q", key)
	}
}

func TestResolveNotFoundNamesEnvVar(t *testing.T) {
	r := NewResolver(nil).WithGetenv(fakeEnv(nil))
	_, err := r.Resolve(llm.AdapterAnthropic)
	var nf *NotFoundError
	if !errors.As(err, &nf) {
		t.Fatalf("error = %v, want *NotFoundError", err)
	}
	if nf.EnvVar != "ANTHROPIC_API_KEY" || nf.Adapter != llm.AdapterAnthropic {
		t.Fatalf("NotFoundError = %+v", nf)
	}
}

func TestResolveKeylessAdapter(t *testing.T) {
	r := NewResolver(nil).WithGetenv(fakeEnv(nil))
	key, err := r.Resolve(llm.AdapterOllama)
	if err != nil || key != "" {
		t.Fatalf("Resolve(ollama) = (%q, %v), want (\"\", nil)", key, err)
	}
	if !r.Has(llm.AdapterOllama) {
		t.Fatal("keyless adapter should always report configured")
	}
}

func TestSaveAndRemove(t *testing.T) {
	r := NewResolver(nil).WithGetenv(fakeEnv(map[string]string{"XAI_API_KEY": "xai-env"}))

	r.Save(llm.AdapterXAI, "xai-saved")
	if key, _ := r.Resolve(llm.AdapterXAI); key != "xai-saved" {
		t.Fatalf("after save key = %q", key)
	}
	if got := r.ConfiguredProviders(); len(got) != 1 || got[0] != "xai" {
		t.Fatalf("ConfiguredProviders = %v", got)
	}

	r.Remove(llm.AdapterXAI)
	if key, _ := r.Resolve(llm.AdapterXAI); key != "xai-env" {
		t.Fatalf("after remove key = %q, want env fallback", key)
	}

	r.Save(llm.AdapterXAI, "x")
	r.Save(llm.AdapterXAI, "  ")
	if len(r.ConfiguredProviders()) != 0 {
		t.Fatal("saving an empty key should remove the entry")
	}
}

func TestResolverConcurrentAccess(t *testing.T) {
	r := NewResolver(nil).WithGetenv(fakeEnv(nil))
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			r.Save(llm.AdapterDeepSeek, "k")
		}()
		go func() {
			defer wg.Done()
			_, _ = r.Resolve(llm.AdapterDeepSeek)
			r.Has(llm.AdapterDeepSeek)
		}()
	}
	wg.Wait()
	if !r.Has(llm.AdapterDeepSeek) {
		t.Fatal("expected key after concurrent saves")
	}
}

func TestMask(t *testing.T) {
	tests := map[string]string{
		"":                 "",
		"short":            "*****",
		"sk-abcdefghijklm": "********jklm",
	}
	for in, want := range tests {
		if got := Mask(in); got != want {
			t.Errorf("Mask(%q) = %q, want %q", in, got, want)
		}
	}
}
