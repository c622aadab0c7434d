// Package config provides configuration loading and management for semplan.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/c360studio/semplan/llm"
	"github.com/c360studio/semplan/model"
)

// ErrNoConfig is returned when a configuration file does not exist.
var ErrNoConfig = errors.New("config file not found")

// Session store drivers.
const (
	SessionDriverFile   = "file"
	SessionDriverSQLite = "sqlite"
)

// Config represents the complete semplan configuration
type Config struct {
	// DefaultProvider is tried first when no provider is named.
	DefaultProvider string `yaml:"default_provider,omitempty" toml:"default_provider"`
	// Order is the default preference order of providers.
	Order []string `yaml:"order,omitempty" toml:"order"`
	// Providers maps a provider name to its endpoint settings.
	Providers map[string]ProviderConfig `yaml:"providers" toml:"providers"`
	// Operations optionally overrides the order for generate, refine or critique.
	Operations map[string][]string `yaml:"operations,omitempty" toml:"operations"`

	Retry   RetryConfig        `yaml:"retry" toml:"retry"`
	Health  model.HealthConfig `yaml:"health" toml:"health"`
	Session SessionConfig      `yaml:"session" toml:"session"`

	// HistoryWindow is how many recent conversation messages accompany a request.
	HistoryWindow int `yaml:"history_window" toml:"history_window"`
}

// ProviderConfig configures one chat-completion endpoint
type ProviderConfig struct {
	// Dialect selects the wire format (openai, ollama, anthropic).
	Dialect string `yaml:"dialect" toml:"dialect"`
	BaseURL string `yaml:"base_url,omitempty" toml:"base_url"`
	Model   string `yaml:"model,omitempty" toml:"model"`
	// APIKey is usually left empty and supplied via SEMPLAN_<NAME>_API_KEY.
	APIKey    string `yaml:"api_key,omitempty" toml:"api_key"`
	MaxTokens int    `yaml:"max_tokens,omitempty" toml:"max_tokens"`
	// Temperature is a pointer so an overlay can set 0 explicitly.
	Temperature *float64 `yaml:"temperature,omitempty" toml:"temperature"`
	// Timeout bounds a single HTTP attempt.
	Timeout           time.Duration     `yaml:"timeout,omitempty" toml:"timeout"`
	RequestsPerSecond float64           `yaml:"requests_per_second,omitempty" toml:"requests_per_second"`
	Headers           map[string]string `yaml:"headers,omitempty" toml:"headers"`
	// KeyOptional marks local endpoints that accept unauthenticated requests.
	KeyOptional bool `yaml:"key_optional,omitempty" toml:"key_optional"`
	// Enabled defaults to true when unset.
	Enabled *bool `yaml:"enabled,omitempty" toml:"enabled"`
}

// TemperatureValue returns the configured temperature, or
// DefaultTemperature when unset.
func (p ProviderConfig) TemperatureValue() float64 {
	if p.Temperature == nil {
		return DefaultTemperature
	}
	return *p.Temperature
}

// IsEnabled reports whether the provider may be used.
func (p ProviderConfig) IsEnabled() bool {
	return p.Enabled == nil || *p.Enabled
}

// RetryConfig configures backoff for transient provider failures
type RetryConfig struct {
	MaxRetries    int           `yaml:"max_retries" toml:"max_retries"`
	BaseDelay     time.Duration `yaml:"base_delay" toml:"base_delay"`
	MaxDelay      time.Duration `yaml:"max_delay" toml:"max_delay"`
	BackoffFactor float64       `yaml:"backoff_factor" toml:"backoff_factor"`
}

// LLM converts to the client's retry configuration.
func (r RetryConfig) LLM() llm.RetryConfig {
	return llm.RetryConfig{
		MaxRetries:    r.MaxRetries,
		BaseDelay:     r.BaseDelay,
		MaxDelay:      r.MaxDelay,
		BackoffFactor: r.BackoffFactor,
	}
}

// SessionConfig configures where conversations and plans are kept
type SessionConfig struct {
	// Driver is "file" (one JSON document per session) or "sqlite".
	Driver string `yaml:"driver" toml:"driver"`
	// Path is a directory for the file driver and a database file for sqlite.
	// Empty means the user data directory.
	Path string `yaml:"path,omitempty" toml:"path"`
}

// DefaultTemperature is sent when a provider sets no temperature.
const DefaultTemperature = 0.2

func boolPtr(b bool) *bool { return &b }

func floatPtr(f float64) *float64 { return &f }

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() *Config {
	retry := llm.DefaultRetryConfig()
	return &Config{
		Order: []string{"openrouter", "openai", "anthropic", "groq", "ollama"},
		Providers: map[string]ProviderConfig{
			"openrouter": {
				Dialect:     "openai",
				BaseURL:     "https://openrouter.ai/api/v1",
				Model:       "openai/gpt-4o-mini",
				MaxTokens:   4096,
				Temperature: floatPtr(DefaultTemperature),
				Headers: map[string]string{
					"HTTP-Referer": "https://github.com/c360studio/semplan",
					"X-Title":      "semplan",
				},
			},
			"openai": {
				Dialect:     "openai",
				BaseURL:     "https://api.openai.com/v1",
				Model:       "gpt-4o-mini",
				MaxTokens:   4096,
				Temperature: floatPtr(DefaultTemperature),
			},
			"anthropic": {
				Dialect:     "anthropic",
				BaseURL:     "https://api.anthropic.com",
				Model:       "claude-3-5-haiku-latest",
				MaxTokens:   4096,
				Temperature: floatPtr(DefaultTemperature),
			},
			"groq": {
				Dialect:     "openai",
				BaseURL:     "https://api.groq.com/openai/v1",
				Model:       "llama-3.3-70b-versatile",
				MaxTokens:   4096,
				Temperature: floatPtr(DefaultTemperature),
			},
			"ollama": {
				Dialect:     "ollama",
				BaseURL:     "http://localhost:11434/v1",
				Model:       "llama3.2",
				Temperature: floatPtr(DefaultTemperature),
				Timeout:     2 * time.Minute,
				KeyOptional: true,
				Enabled:     boolPtr(false),
			},
		},
		Retry: RetryConfig{
			MaxRetries:    retry.MaxRetries,
			BaseDelay:     retry.BaseDelay,
			MaxDelay:      retry.MaxDelay,
			BackoffFactor: retry.BackoffFactor,
		},
		Health: model.DefaultHealthConfig(),
		Session: SessionConfig{
			Driver: SessionDriverFile,
		},
		HistoryWindow: 20,
	}
}

// Validate checks that the configuration is valid
func (c *Config) Validate() error {
	for name, p := range c.Providers {
		if name == "" {
			return fmt.Errorf("providers: empty provider name")
		}
		if p.Dialect == "" {
			return fmt.Errorf("providers.%s.dialect is required", name)
		}
		if t := p.TemperatureValue(); t < 0 || t > 2 {
			return fmt.Errorf("providers.%s.temperature must be between 0 and 2", name)
		}
		if p.RequestsPerSecond < 0 {
			return fmt.Errorf("providers.%s.requests_per_second must not be negative", name)
		}
	}
	for _, name := range c.Order {
		if _, ok := c.Providers[name]; !ok {
			return fmt.Errorf("order: unknown provider %q", name)
		}
	}
	if c.DefaultProvider != "" {
		if _, ok := c.Providers[c.DefaultProvider]; !ok {
			return fmt.Errorf("default_provider: unknown provider %q", c.DefaultProvider)
		}
	}
	for op, names := range c.Operations {
		if model.ParseOperation(op) == "" {
			return fmt.Errorf("operations: unknown operation %q", op)
		}
		for _, name := range names {
			if _, ok := c.Providers[name]; !ok {
				return fmt.Errorf("operations.%s: unknown provider %q", op, name)
			}
		}
	}
	if c.Retry.MaxRetries < 0 {
		return fmt.Errorf("retry.max_retries must not be negative")
	}
	if c.Retry.BackoffFactor != 0 && c.Retry.BackoffFactor < 1 {
		return fmt.Errorf("retry.backoff_factor must be at least 1")
	}
	switch c.Session.Driver {
	case SessionDriverFile, SessionDriverSQLite:
	default:
		return fmt.Errorf("session.driver must be %q or %q", SessionDriverFile, SessionDriverSQLite)
	}
	return nil
}

// ProviderNames returns every provider name in preference order: the
// default provider, then Order, then the remaining names alphabetically.
func (c *Config) ProviderNames() []string {
	names := make([]string, 0, len(c.Providers))
	seen := make(map[string]bool, len(c.Providers))
	add := func(name string) {
		if _, ok := c.Providers[name]; ok && !seen[name] {
			seen[name] = true
			names = append(names, name)
		}
	}

	add(c.DefaultProvider)
	for _, name := range c.Order {
		add(name)
	}
	rest := make([]string, 0, len(c.Providers))
	for name := range c.Providers {
		if !seen[name] {
			rest = append(rest, name)
		}
	}
	sort.Strings(rest)
	for _, name := range rest {
		add(name)
	}
	return names
}

// ProviderConfigs returns the usable providers in preference order. A
// provider is usable when it is enabled and keys yields a credential for
// it, or it is marked key_optional.
func (c *Config) ProviderConfigs(keys KeyFunc) []llm.ProviderConfig {
	var out []llm.ProviderConfig
	for _, name := range c.ProviderNames() {
		p := c.Providers[name]
		if !p.IsEnabled() {
			continue
		}

		var key string
		if keys != nil {
			key, _ = keys(name)
		}
		if key == "" && !p.KeyOptional {
			continue
		}

		out = append(out, llm.ProviderConfig{
			Name:              name,
			Dialect:           p.Dialect,
			APIKey:            key,
			BaseURL:           p.BaseURL,
			Model:             p.Model,
			MaxTokens:         p.MaxTokens,
			Temperature:       p.TemperatureValue(),
			Timeout:           p.Timeout,
			RequestsPerSecond: p.RequestsPerSecond,
			Headers:           p.Headers,
		})
	}
	return out
}

// LoadFromFile loads configuration from a YAML file, or a TOML file when
// the name ends in .toml. Missing files yield an error wrapping ErrNoConfig.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNoConfig, path)
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := &Config{}
	if isTOML(path) {
		if _, err := toml.Decode(string(data), config); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	} else if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return config, nil
}

// SaveToFile saves configuration as YAML, or TOML when the name ends in .toml
func (c *Config) SaveToFile(path string) error {
	// Ensure parent directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	var data []byte
	if isTOML(path) {
		var sb strings.Builder
		if err := toml.NewEncoder(&sb).Encode(c); err != nil {
			return fmt.Errorf("failed to marshal config: %w", err)
		}
		data = []byte(sb.String())
	} else {
		var err error
		if data, err = yaml.Marshal(c); err != nil {
			return fmt.Errorf("failed to marshal config: %w", err)
		}
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

func isTOML(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".toml")
}

// Merge merges another config into this one (other takes precedence for non-zero values)
func (c *Config) Merge(other *Config) {
	if other == nil {
		return
	}

	if other.DefaultProvider != "" {
		c.DefaultProvider = other.DefaultProvider
	}
	if len(other.Order) > 0 {
		c.Order = append([]string(nil), other.Order...)
	}

	if c.Providers == nil {
		c.Providers = make(map[string]ProviderConfig)
	}
	for name, p := range other.Providers {
		base, ok := c.Providers[name]
		if !ok {
			c.Providers[name] = p
			continue
		}
		c.Providers[name] = mergeProvider(base, p)
	}

	for op, names := range other.Operations {
		if c.Operations == nil {
			c.Operations = make(map[string][]string)
		}
		c.Operations[op] = append([]string(nil), names...)
	}

	// Retry
	if other.Retry.MaxRetries != 0 {
		c.Retry.MaxRetries = other.Retry.MaxRetries
	}
	if other.Retry.BaseDelay != 0 {
		c.Retry.BaseDelay = other.Retry.BaseDelay
	}
	if other.Retry.MaxDelay != 0 {
		c.Retry.MaxDelay = other.Retry.MaxDelay
	}
	if other.Retry.BackoffFactor != 0 {
		c.Retry.BackoffFactor = other.Retry.BackoffFactor
	}

	// Health
	if other.Health.FailureThreshold != 0 {
		c.Health.FailureThreshold = other.Health.FailureThreshold
	}
	if other.Health.RecoveryTimeout != 0 {
		c.Health.RecoveryTimeout = other.Health.RecoveryTimeout
	}

	// Session
	if other.Session.Driver != "" {
		c.Session.Driver = other.Session.Driver
	}
	if other.Session.Path != "" {
		c.Session.Path = other.Session.Path
	}

	if other.HistoryWindow != 0 {
		c.HistoryWindow = other.HistoryWindow
	}
}

func mergeProvider(base, other ProviderConfig) ProviderConfig {
	if other.Dialect != "" {
		base.Dialect = other.Dialect
	}
	if other.BaseURL != "" {
		base.BaseURL = other.BaseURL
	}
	if other.Model != "" {
		base.Model = other.Model
	}
	if other.APIKey != "" {
		base.APIKey = other.APIKey
	}
	if other.MaxTokens != 0 {
		base.MaxTokens = other.MaxTokens
	}
	if other.Temperature != nil {
		base.Temperature = floatPtr(*other.Temperature)
	}
	if other.Timeout != 0 {
		base.Timeout = other.Timeout
	}
	if other.RequestsPerSecond != 0 {
		base.RequestsPerSecond = other.RequestsPerSecond
	}
	if len(other.Headers) > 0 {
		merged := make(map[string]string, len(base.Headers)+len(other.Headers))
		for k, v := range base.Headers {
			merged[k] = v
		}
		for k, v := range other.Headers {
			merged[k] = v
		}
		base.Headers = merged
	}
	if other.KeyOptional {
		base.KeyOptional = true
	}
	if other.Enabled != nil {
		base.Enabled = boolPtr(*other.Enabled)
	}
	return base
}
