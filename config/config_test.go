package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lexmesh/lexmesh/engine"
	"github.com/lexmesh/lexmesh/logging"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "lexmesh.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, DriverMemory, cfg.Store.Driver)
	assert.Equal(t, 3, cfg.Escalation.Threshold)
	assert.Equal(t, "admin", cfg.Escalation.DefaultApprover)
	assert.Equal(t, "anthropic", cfg.Providers.Default)
	assert.Equal(t, engine.DefaultConfig, cfg.Engine())
}

func TestLoadFileThenEnvironment(t *testing.T) {
	path := writeFile(t, `
runtime:
  deadline: 30s
  max_iterations: 4
  language: de
escalation:
  threshold: 5
store:
  driver: sqlite
  dsn: /tmp/lexmesh.db
providers:
  fallbacks:
    claude-sonnet-4-20250514: claude-3-5-haiku-latest
`)

	t.Setenv("LEXMESH_RUNTIME_MAX_ITERATIONS", "7")
	t.Setenv("LEXMESH_PROVIDERS_ANTHROPIC_API_KEY", "sk-test")
	t.Setenv("LEXMESH_REDIS_ADDR", "localhost:6379")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 30*time.Second, cfg.Runtime.Deadline)
	assert.Equal(t, 7, cfg.Runtime.MaxIterations)
	assert.Equal(t, "de", cfg.Runtime.Language)
	assert.Equal(t, 5, cfg.Escalation.Threshold)
	assert.Equal(t, DriverSQLite, cfg.Store.Driver)
	assert.Equal(t, "claude-3-5-haiku-latest", cfg.Providers.Fallbacks["claude-sonnet-4-20250514"])
	assert.True(t, cfg.Providers.Anthropic.Enabled())
	assert.False(t, cfg.Providers.OpenAI.Enabled())
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)

	ec := cfg.Engine()
	assert.Equal(t, 30*time.Second, ec.Deadline)
	assert.Equal(t, 7, ec.MaxIterations)
	assert.Equal(t, engine.DefaultConfig.TokenBudget, ec.TokenBudget)
}

func TestLoadEnvironmentMap(t *testing.T) {
	t.Setenv("LEXMESH_PROVIDERS_FALLBACKS", "gpt-4o:gpt-4o-mini,claude-opus-4:claude-sonnet-4")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, map[string]string{
		"gpt-4o":        "gpt-4o-mini",
		"claude-opus-4": "claude-sonnet-4",
	}, cfg.Providers.Fallbacks)
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	path := writeFile(t, "runtime:\n  deadlines: 5s\n")

	_, err := Load(path)
	require.Error(t, err)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestLoadEmptyFile(t *testing.T) {
	cfg, err := Load(writeFile(t, ""))
	require.NoError(t, err)
	assert.Equal(t, DriverMemory, cfg.Store.Driver)
}

func TestLoadInvalidEnvironment(t *testing.T) {
	t.Setenv("LEXMESH_RUNTIME_DEADLINE", "soon")

	_, err := Load("")
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
		ok     bool
	}{
		{name: "defaults", mutate: func(*Config) {}, ok: true},
		{name: "postgres with dsn", mutate: func(c *Config) {
			c.Store.Driver, c.Store.DSN = DriverPostgres, "postgres://localhost/lexmesh"
		}, ok: true},
		{name: "sqlite without dsn", mutate: func(c *Config) { c.Store.Driver = DriverSQLite }},
		{name: "unknown driver", mutate: func(c *Config) { c.Store.Driver = "mongo" }},
		{name: "unknown level", mutate: func(c *Config) { c.Log.Level = "loud" }},
		{name: "unknown format", mutate: func(c *Config) { c.Log.Format = "xml" }},
		{name: "unknown language", mutate: func(c *Config) { c.Runtime.Language = "fr" }},
		{name: "negative deadline", mutate: func(c *Config) { c.Runtime.Deadline = -time.Second }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestEngineZeroValuesKeepDefaults(t *testing.T) {
	cfg := &Config{}
	assert.Equal(t, engine.DefaultConfig, cfg.Engine())
}

func TestLogger(t *testing.T) {
	cfg := Default()
	cfg.Log.Level = "debug"

	var l logging.Logger = cfg.Logger()
	assert.NotNil(t, l)
}
