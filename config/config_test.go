package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "openai", cfg.Provider)
	assert.Equal(t, "gpt-5.2", cfg.Model)
	assert.Equal(t, "jsonl", cfg.Audit.Backend)
	assert.Equal(t, ":8080", cfg.HTTP.Addr)
}

func TestLoadYAMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dexter.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
provider: anthropic
model: claude-sonnet-4-5
maxSteps: 7
internalTools:
  - updateWorkingMemory
  - scratchpad
audit:
  backend: none
http:
  addr: ":9090"
  allowedOrigins:
    - https://dexter.example.com
coalesce:
  textMs: 50
  progressMs: 150
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "anthropic", cfg.Provider)
	assert.Equal(t, "claude-sonnet-4-5", cfg.Model)
	assert.Equal(t, 7, cfg.MaxSteps)
	assert.Equal(t, []string{"updateWorkingMemory", "scratchpad"}, cfg.InternalTools)
	assert.Equal(t, "none", cfg.Audit.Backend)
	assert.Equal(t, ":9090", cfg.HTTP.Addr)
	assert.Equal(t, []string{"https://dexter.example.com"}, cfg.HTTP.AllowedOrigins)
	assert.Equal(t, 50*time.Millisecond, cfg.TextFlush())
	assert.Equal(t, 150*time.Millisecond, cfg.ProgressFlush())
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "openai", cfg.Provider)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("DEXTER_MODEL_PROVIDER", "anthropic")
	t.Setenv("DEXTER_MODEL", "claude-sonnet-4-5")
	t.Setenv("DEXTER_MAX_STEPS", "3")
	t.Setenv("DEXTER_HTTP_ADDR", ":7070")
	t.Setenv("ANTHROPIC_API_KEY", "sk-test")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "anthropic", cfg.Provider)
	assert.Equal(t, "claude-sonnet-4-5", cfg.Model)
	assert.Equal(t, 3, cfg.MaxSteps)
	assert.Equal(t, ":7070", cfg.HTTP.Addr)
	assert.Equal(t, "sk-test", cfg.APIKey())
}

func TestUnknownProviderFallsBack(t *testing.T) {
	t.Setenv("DEXTER_MODEL_PROVIDER", "mistral")
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "openai", cfg.Provider)
}

func TestValidate(t *testing.T) {
	cases := map[string]func(*Config){
		"unknown audit backend": func(c *Config) { c.Audit.Backend = "postgres" },
		"jsonl without path":    func(c *Config) { c.Audit.Backend = "jsonl"; c.Audit.Path = "" },
		"mongo without uri":     func(c *Config) { c.Audit.Backend = "mongo"; c.MongoURI = "" },
		"negative max steps":    func(c *Config) { c.MaxSteps = -1 },
		"negative window":       func(c *Config) { c.Coalesce.Text = -5 },
	}
	for name, mutate := range cases {
		cfg := Default()
		mutate(cfg)
		assert.Error(t, cfg.Validate(), name)
	}
}

func TestLoadRejectsMalformedYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("provider: [unclosed"), 0o600))
	_, err := Load(path)
	require.Error(t, err)
}
