package llm

import (
	"net/http"
	"sort"
	"sync"
	"time"
)

// ProviderConfig is the immutable configuration of one provider client.
type ProviderConfig struct {
	// Name identifies the provider in errors, logs and the registry
	// (e.g. "openrouter").
	Name string

	// Dialect selects the wire format ("openai", "anthropic").
	Dialect string

	APIKey  string
	BaseURL string
	Model   string

	// MaxTokens limits response length. 0 uses the dialect default.
	MaxTokens int

	Temperature float64

	// Timeout bounds a single HTTP call. 0 means DefaultTimeout.
	Timeout time.Duration

	// RequestsPerSecond spaces outgoing requests. 0 disables limiting.
	RequestsPerSecond float64

	// Headers are sent with every request (e.g. OpenRouter attribution).
	Headers map[string]string
}

// DefaultTimeout bounds a single provider HTTP call.
const DefaultTimeout = 30 * time.Second

// Provider is a wire dialect: how a chat request is encoded and sent.
type Provider interface {
	// Name returns the dialect identifier (e.g., "openai", "anthropic").
	Name() string

	// BuildURL constructs the full API endpoint URL.
	BuildURL(baseURL string) string

	// SetHeaders adds authentication and dialect headers to the request.
	SetHeaders(req *http.Request, cfg ProviderConfig)

	// BuildRequestBody creates the JSON request body.
	// temperature is nil to use provider default, or a pointer to explicit value.
	BuildRequestBody(model string, messages []Message, temperature *float64, maxTokens int) ([]byte, error)

	// ParseResponse extracts the response from dialect-specific JSON.
	ParseResponse(body []byte, model string) (*Response, error)
}

// providerRegistry holds registered dialects.
var (
	providerRegistry = make(map[string]Provider)
	providerMu       sync.RWMutex
)

// RegisterProvider adds a dialect to the registry.
func RegisterProvider(p Provider) {
	providerMu.Lock()
	defer providerMu.Unlock()
	providerRegistry[p.Name()] = p
}

// GetProvider retrieves a dialect by name.
func GetProvider(name string) Provider {
	providerMu.RLock()
	defer providerMu.RUnlock()
	return providerRegistry[name]
}

// ListProviders returns all registered dialect names, sorted.
func ListProviders() []string {
	providerMu.RLock()
	defer providerMu.RUnlock()

	names := make([]string, 0, len(providerRegistry))
	for name := range providerRegistry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
