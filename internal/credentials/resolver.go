// Package credentials resolves provider API keys from an in-memory cache with
// an environment-variable fallback.
package credentials

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/samsaffron/aye/internal/llm"
)

// NotFoundError is returned when neither the cache nor the environment holds
// a key for an adapter that requires one.
type NotFoundError struct {
	Adapter llm.Adapter
	EnvVar  string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("no API key for %s: save one or set %s", e.Adapter, e.EnvVar)
}

// Resolver is safe for concurrent use. Save and Remove only touch memory;
// persisting keys is the caller's business.
type Resolver struct {
	mu     sync.RWMutex
	keys   map[llm.Adapter]string
	getenv func(string) string
}

// NewResolver creates a resolver seeded with keys, typically loaded from a
// vault or config file at startup.
func NewResolver(keys map[llm.Adapter]string) *Resolver {
	r := &Resolver{keys: make(map[llm.Adapter]string), getenv: os.Getenv}
	for a, k := range keys {
		if k = strings.TrimSpace(k); k != "" {
			r.keys[a] = k
		}
	}
	return r
}

// WithGetenv replaces the environment lookup.
func (r *Resolver) WithGetenv(getenv func(string) string) *Resolver {
	r.getenv = getenv
	return r
}

// Resolve returns the key for a. A cached key wins over the environment.
// Keyless adapters resolve to "" without error.
func (r *Resolver) Resolve(a llm.Adapter) (string, error) {
	r.mu.RLock()
	key, ok := r.keys[a]
	r.mu.RUnlock()
	if ok {
		return key, nil
	}
	if !a.RequiresKey() {
		return "", nil
	}
	if v := strings.TrimSpace(r.getenv(a.EnvVar())); v != "" {
		return v, nil
	}
	return "", &NotFoundError{Adapter: a, EnvVar: a.EnvVar()}
}

// Has reports whether Resolve would return a key for a.
func (r *Resolver) Has(a llm.Adapter) bool {
	if !a.RequiresKey() {
		return true
	}
	_, err := r.Resolve(a)
	return err == nil
}

// Save caches key for a. An empty key removes the entry.
func (r *Resolver) Save(a llm.Adapter, key string) {
	key = strings.TrimSpace(key)
	if key == "" {
		r.Remove(a)
		return
	}
	r.mu.Lock()
	r.keys[a] = key
	r.mu.Unlock()
}

// Remove drops the cached key for a. The environment fallback still applies.
func (r *Resolver) Remove(a llm.Adapter) {
	r.mu.Lock()
	delete(r.keys, a)
	r.mu.Unlock()
}

// ConfiguredProviders lists the adapters holding a cached key, sorted by name.
// Keys only present in the environment are not included.
func (r *Resolver) ConfiguredProviders() []string {
	r.mu.RLock()
	out := make([]string, 0, len(r.keys))
	for a := range r.keys {
		out = append(out, a.String())
	}
	r.mu.RUnlock()
	sort.Strings(out)
	return out
}

// Mask hides all but the last four characters of a secret. Secrets of eight
// characters or fewer are hidden entirely.
func Mask(secret string) string {
	if len(secret) <= 8 {
		return strings.Repeat("*", len(secret))
	}
	return strings.Repeat("*", 8) + secret[len(secret)-4:]
}
