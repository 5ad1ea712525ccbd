// Package config loads the application configuration from an optional
// YAML file with environment overrides. Secrets (API keys, connection
// strings) come from the environment only and are never written to the
// config file.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Model routing defaults. Unknown providers fall back to openai.
const (
	DefaultProvider = "openai"
	DefaultModel    = "gpt-5.2"
)

// Providers with a native adapter.
const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
)

type (
	// Config is the root configuration.
	Config struct {
		// Provider selects the model adapter: "openai" or "anthropic".
		Provider string `yaml:"provider"`
		// Model is the provider model identifier.
		Model string `yaml:"model"`
		// MaxSteps caps reasoning steps per run. Zero uses the engine
		// default.
		MaxSteps int `yaml:"maxSteps"`
		// SystemPrompt overrides the agent system prompt.
		SystemPrompt string `yaml:"systemPrompt"`
		// InternalTools extends the reserved tool name set suppressed
		// from public output.
		InternalTools []string `yaml:"internalTools"`

		Audit    Audit    `yaml:"audit"`
		HTTP     HTTP     `yaml:"http"`
		Coalesce Coalesce `yaml:"coalesce"`

		// AnthropicAPIKey and OpenAIAPIKey are environment-only.
		AnthropicAPIKey string `yaml:"-"`
		OpenAIAPIKey    string `yaml:"-"`
		// MongoURI is environment-only; set to enable the Mongo audit
		// backend.
		MongoURI string `yaml:"-"`
	}

	// Audit configures the audit recorder.
	Audit struct {
		// Backend is "jsonl", "mongo", or "none".
		Backend string `yaml:"backend"`
		// Path is the NDJSON log file for the jsonl backend.
		Path string `yaml:"path"`
		// Database is the Mongo database for the mongo backend.
		Database string `yaml:"database"`
	}

	// HTTP configures the SSE server.
	HTTP struct {
		// Addr is the listen address.
		Addr string `yaml:"addr"`
		// AllowedOrigins configures CORS. Empty allows any origin.
		AllowedOrigins []string `yaml:"allowedOrigins"`
	}

	// Coalesce overrides the controller flush windows.
	Coalesce struct {
		// Text is the answer text window in milliseconds.
		Text int `yaml:"textMs"`
		// Progress is the tool progress window in milliseconds.
		Progress int `yaml:"progressMs"`
	}
)

// Default returns the configuration with all defaults applied.
func Default() *Config {
	return &Config{
		Provider: DefaultProvider,
		Model:    DefaultModel,
		Audit: Audit{
			Backend:  "jsonl",
			Path:     "logs/audit.jsonl",
			Database: "dexter",
		},
		HTTP: HTTP{Addr: ":8080"},
	}
}

// Load reads the YAML file at path when it exists, then applies
// environment overrides. An empty path skips the file entirely.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}
	cfg.applyEnv()
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("DEXTER_MODEL_PROVIDER"); v != "" {
		c.Provider = v
	}
	if v := os.Getenv("DEXTER_MODEL"); v != "" {
		c.Model = v
	}
	if v := os.Getenv("DEXTER_MAX_STEPS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.MaxSteps = n
		}
	}
	if v := os.Getenv("DEXTER_HTTP_ADDR"); v != "" {
		c.HTTP.Addr = v
	}
	if v := os.Getenv("DEXTER_AUDIT_BACKEND"); v != "" {
		c.Audit.Backend = v
	}
	if v := os.Getenv("DEXTER_AUDIT_PATH"); v != "" {
		c.Audit.Path = v
	}
	c.AnthropicAPIKey = os.Getenv("ANTHROPIC_API_KEY")
	c.OpenAIAPIKey = os.Getenv("OPENAI_API_KEY")
	c.MongoURI = os.Getenv("MONGO_URI")
}

// normalize lowercases the provider and routes unknown providers to the
// default.
func (c *Config) normalize() {
	c.Provider = strings.ToLower(strings.TrimSpace(c.Provider))
	switch c.Provider {
	case ProviderOpenAI, ProviderAnthropic:
	default:
		c.Provider = DefaultProvider
	}
	if c.Model == "" {
		c.Model = DefaultModel
	}
}

// Validate checks cross-field consistency.
func (c *Config) Validate() error {
	switch c.Audit.Backend {
	case "jsonl", "mongo", "none":
	default:
		return fmt.Errorf("unknown audit backend %q", c.Audit.Backend)
	}
	if c.Audit.Backend == "jsonl" && c.Audit.Path == "" {
		return fmt.Errorf("audit path is required for the jsonl backend")
	}
	if c.Audit.Backend == "mongo" && c.MongoURI == "" {
		return fmt.Errorf("MONGO_URI is required for the mongo backend")
	}
	if c.MaxSteps < 0 {
		return fmt.Errorf("maxSteps must not be negative")
	}
	if c.Coalesce.Text < 0 || c.Coalesce.Progress < 0 {
		return fmt.Errorf("coalescing windows must not be negative")
	}
	return nil
}

// APIKey returns the key for the configured provider.
func (c *Config) APIKey() string {
	if c.Provider == ProviderAnthropic {
		return c.AnthropicAPIKey
	}
	return c.OpenAIAPIKey
}

// TextFlush returns the configured text coalescing window, zero when
// unset.
func (c *Config) TextFlush() time.Duration {
	return time.Duration(c.Coalesce.Text) * time.Millisecond
}

// ProgressFlush returns the configured progress coalescing window, zero
// when unset.
func (c *Config) ProgressFlush() time.Duration {
	return time.Duration(c.Coalesce.Progress) * time.Millisecond
}
