package model

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/c360studio/semplan/llm"
)

// Registry holds the configured providers in preference order.
// It is safe for concurrent use.
type Registry struct {
	mu          sync.RWMutex
	providers   []llm.ProviderConfig
	preferences map[Operation][]string
	health      *healthState
	now         func() time.Time
}

// NewRegistry creates a registry over providers, which must already be
// filtered to those that are usable (credential present or optional).
// Their order is the default preference order; duplicates keep the first.
func NewRegistry(providers []llm.ProviderConfig) *Registry {
	r := &Registry{
		preferences: make(map[Operation][]string),
		health:      newHealthState(DefaultHealthConfig()),
		now:         time.Now,
	}
	seen := make(map[string]bool, len(providers))
	for _, p := range providers {
		if p.Name == "" || seen[p.Name] {
			continue
		}
		seen[p.Name] = true
		r.providers = append(r.providers, p)
	}
	return r
}

// Len returns the number of configured providers.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.providers)
}

// Names returns provider names in default preference order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.providers))
	for _, p := range r.providers {
		names = append(names, p.Name)
	}
	return names
}

// Get returns the configuration for a provider.
func (r *Registry) Get(name string) (llm.ProviderConfig, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, p := range r.providers {
		if p.Name == name {
			return p, true
		}
	}
	return llm.ProviderConfig{}, false
}

// Has reports whether name is configured.
func (r *Registry) Has(name string) bool {
	_, ok := r.Get(name)
	return ok
}

// SetPreference sets the provider order for one operation. Names that are
// not configured are ignored when the chain is built.
func (r *Registry) SetPreference(op Operation, names []string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.preferences[op] = append([]string(nil), names...)
}

// Chain returns every configured provider for op: the operation's
// preferred providers first, then the rest in default order.
func (r *Registry) Chain(op Operation) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	configured := make(map[string]bool, len(r.providers))
	for _, p := range r.providers {
		configured[p.Name] = true
	}

	chain := make([]string, 0, len(r.providers))
	added := make(map[string]bool, len(r.providers))
	for _, name := range r.preferences[op] {
		if configured[name] && !added[name] {
			chain = append(chain, name)
			added[name] = true
		}
	}
	for _, p := range r.providers {
		if !added[p.Name] {
			chain = append(chain, p.Name)
		}
	}
	return chain
}

// Primary returns the first provider of op's chain.
func (r *Registry) Primary(op Operation) (string, bool) {
	chain := r.Chain(op)
	if len(chain) == 0 {
		return "", false
	}
	return chain[0], true
}

// Alternate returns the first provider in op's chain other than exclude
// whose circuit is closed. If every other provider is unavailable, the
// first other provider is returned anyway.
func (r *Registry) Alternate(op Operation, exclude string) (string, bool) {
	var first string
	for _, name := range r.Chain(op) {
		if name == exclude {
			continue
		}
		if first == "" {
			first = name
		}
		if r.IsEndpointAvailable(name) {
			return name, true
		}
	}
	return first, first != ""
}

// providerView is the key-free JSON form of a provider.
type providerView struct {
	Name    string          `json:"name"`
	Dialect string          `json:"dialect"`
	Model   string          `json:"model,omitempty"`
	BaseURL string          `json:"base_url,omitempty"`
	HasKey  bool            `json:"has_key"`
	Health  *EndpointHealth `json:"health,omitempty"`
}

// MarshalJSON implements json.Marshaler. API keys are never included.
func (r *Registry) MarshalJSON() ([]byte, error) {
	r.mu.RLock()
	providers := append([]llm.ProviderConfig(nil), r.providers...)
	prefs := make(map[Operation][]string, len(r.preferences))
	for op, names := range r.preferences {
		prefs[op] = names
	}
	r.mu.RUnlock()

	views := make([]providerView, 0, len(providers))
	for _, p := range providers {
		views = append(views, providerView{
			Name:    p.Name,
			Dialect: p.Dialect,
			Model:   p.Model,
			BaseURL: p.BaseURL,
			HasKey:  p.APIKey != "",
			Health:  r.GetEndpointHealth(p.Name),
		})
	}

	return json.Marshal(struct {
		Providers   []providerView         `json:"providers"`
		Preferences map[Operation][]string `json:"preferences,omitempty"`
	}{
		Providers:   views,
		Preferences: prefs,
	})
}
