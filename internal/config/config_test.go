package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := `
server:
  addr: ":9000"
  sync_timeout: 30s
generator:
  provider: mock
  attempts: 3
  count: 2
jobs:
  max_concurrent: 2
  artifact_dir: /tmp/flows
  verify_command: "maestro test {file}"
poller:
  slice_max: 4s
  interval: 500ms
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":9000", cfg.Server.Addr)
	assert.Equal(t, 30*time.Second, cfg.Server.SyncTimeout)
	assert.Equal(t, "mock", cfg.Generator.Provider)
	assert.Equal(t, 3, cfg.Generator.Attempts)
	assert.Equal(t, 2, cfg.Generator.Count)
	assert.EqualValues(t, 2, cfg.Jobs.MaxConcurrent)
	assert.Equal(t, "maestro test {file}", cfg.Jobs.VerifyCommand)
	assert.Equal(t, 4*time.Second, cfg.Poller.SliceMax)
	assert.Equal(t, 500*time.Millisecond, cfg.Poller.Interval)

	// untouched keys keep their defaults
	assert.Equal(t, 8000, cfg.Prompt.MaxChars)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, 5*time.Second, cfg.Poller.QueryTimeout)
}

func TestEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("generator:\n  provider: openai\n"), 0o644))
	t.Setenv("COPPER_GENERATOR_PROVIDER", "mock")
	t.Setenv("COPPER_PROVIDERS_OPENAI_API_KEY", "sk-test")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "mock", cfg.Generator.Provider)
	assert.Equal(t, "sk-test", cfg.Providers.OpenAI.APIKey)
}

func TestLoadMissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 2, cfg.Generator.Attempts)
	assert.Equal(t, 3, cfg.Generator.Count)
	assert.Equal(t, 8*time.Second, cfg.Poller.SliceMax)
}

func TestValidateRejects(t *testing.T) {
	cases := map[string]func(*Config){
		"attempts above max":   func(c *Config) { c.Generator.Attempts = 6 },
		"attempts zero":        func(c *Config) { c.Generator.Attempts = 0 },
		"unknown provider":     func(c *Config) { c.Generator.Provider = "llama" },
		"zero count":           func(c *Config) { c.Generator.Count = 0 },
		"bad log format":       func(c *Config) { c.Logging.Format = "xml" },
		"no concurrency":       func(c *Config) { c.Jobs.MaxConcurrent = 0 },
		"two verifiers":        func(c *Config) { c.Jobs.VerifyCommand = "x"; c.Jobs.VerifyAgentURL = "http://agent" },
		"interval over slice":  func(c *Config) { c.Poller.Interval = 10 * time.Second },
		"no sync timeout":      func(c *Config) { c.Server.SyncTimeout = 0 },
		"non-positive chars":   func(c *Config) { c.Prompt.MaxChars = 0 },
		"bad verbosity":        func(c *Config) { c.Generator.Verbosity = "loud" },
		"empty artifact dir":   func(c *Config) { c.Jobs.ArtifactDir = " " },
		"zero proposal budget": func(c *Config) { c.Generator.ProposalTimeout = 0 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := Default()
			mutate(cfg)
			require.Error(t, cfg.Validate())
		})
	}
}
