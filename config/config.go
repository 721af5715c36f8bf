// Package config loads runtime settings from an optional YAML file and
// LEXMESH_* environment variables. Environment values win over the file,
// the file wins over defaults.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	"github.com/lexmesh/lexmesh/engine"
	"github.com/lexmesh/lexmesh/escalation"
	"github.com/lexmesh/lexmesh/logging"
)

// Prefix is the environment variable prefix.
const Prefix = "LEXMESH"

// Store drivers.
const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

type Config struct {
	Runtime    RuntimeConfig    `yaml:"runtime"`
	Escalation EscalationConfig `yaml:"escalation"`
	Providers  ProvidersConfig  `yaml:"providers"`
	Store      StoreConfig      `yaml:"store"`
	Redis      RedisConfig      `yaml:"redis"`
	Log        LogConfig        `yaml:"log"`
	Scheduler  SchedulerConfig  `yaml:"scheduler"`
	Workflow   WorkflowConfig   `yaml:"workflow"`
}

// --- Runtime ---

type RuntimeConfig struct {
	Deadline           time.Duration `yaml:"deadline"`
	MaxIterations      int           `yaml:"max_iterations" split_words:"true"`
	TokenBudget        int           `yaml:"token_budget" split_words:"true"`
	KeepRecent         int           `yaml:"keep_recent" split_words:"true"`
	ContentMaxChars    int           `yaml:"content_max_chars" split_words:"true"`
	ToolResultMaxChars int           `yaml:"tool_result_max_chars" split_words:"true"`
	Language           string        `yaml:"language"`
}

// --- Escalation ---

type EscalationConfig struct {
	Threshold       int    `yaml:"threshold"`
	DefaultApprover string `yaml:"default_approver" split_words:"true"`
	// CounterTTL expires idle Redis failure counters.
	CounterTTL time.Duration `yaml:"counter_ttl" split_words:"true"`
}

// --- Providers ---

type ProvidersConfig struct {
	// Default is used for model identifiers without a "provider:" prefix.
	Default   string            `yaml:"default"`
	Anthropic ProviderConfig    `yaml:"anthropic"`
	OpenAI    ProviderConfig    `yaml:"openai"`
	Fallbacks map[string]string `yaml:"fallbacks"`
}

type ProviderConfig struct {
	APIKey  string  `yaml:"api_key" split_words:"true"`
	BaseURL string  `yaml:"base_url" split_words:"true"`
	Model   string  `yaml:"model"`
	RPS     float64 `yaml:"rps"`
	Burst   int     `yaml:"burst"`
}

// Enabled reports whether the provider has credentials.
func (p ProviderConfig) Enabled() bool { return p.APIKey != "" }

// --- Storage ---

type StoreConfig struct {
	Driver string `yaml:"driver"`
	// DSN is a file path for sqlite and a connection string for postgres.
	DSN string `yaml:"dsn"`
}

type RedisConfig struct {
	// Addr enables shared failure counters; empty keeps them in memory.
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// --- Logging ---

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// --- Jobs ---

type SchedulerConfig struct {
	JobsFile string `yaml:"jobs_file" split_words:"true"`
}

type WorkflowConfig struct {
	File string `yaml:"file"`
}

// Default returns the built-in settings.
func Default() *Config {
	rc := engine.DefaultConfig

	return &Config{
		Runtime: RuntimeConfig{
			Deadline:           rc.Deadline,
			MaxIterations:      rc.MaxIterations,
			TokenBudget:        rc.TokenBudget,
			KeepRecent:         rc.KeepRecent,
			ContentMaxChars:    rc.ContentMaxChars,
			ToolResultMaxChars: rc.ToolResultMaxChars,
			Language:           rc.Language,
		},
		Escalation: EscalationConfig{
			Threshold:       escalation.DefaultThreshold,
			DefaultApprover: "admin",
		},
		Providers: ProvidersConfig{
			Default:   "anthropic",
			Fallbacks: map[string]string{},
			Anthropic: ProviderConfig{Burst: 1},
			OpenAI:    ProviderConfig{Burst: 1},
		},
		Store: StoreConfig{Driver: DriverMemory},
		Log:   LogConfig{Level: "info", Format: "text"},
	}
}

// Load reads path (if non-empty) and applies environment overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}

		if err := decodeYAML(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := envconfig.Process(Prefix, cfg); err != nil {
		return nil, fmt.Errorf("environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func decodeYAML(data []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}

	return nil
}

// Validate checks values that cannot be defaulted.
func (c *Config) Validate() error {
	var errs []error

	switch c.Store.Driver {
	case DriverMemory:
	case DriverSQLite, DriverPostgres:
		if c.Store.DSN == "" {
			errs = append(errs, fmt.Errorf("store: %s requires a dsn", c.Store.Driver))
		}
	default:
		errs = append(errs, fmt.Errorf("store: unknown driver %q", c.Store.Driver))
	}

	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, fmt.Errorf("log: %w", err))
	}

	if c.Log.Format != "text" && c.Log.Format != "json" {
		errs = append(errs, fmt.Errorf("log: unknown format %q", c.Log.Format))
	}

	if c.Runtime.Language != "en" && c.Runtime.Language != "de" {
		errs = append(errs, fmt.Errorf("runtime: unsupported language %q", c.Runtime.Language))
	}

	if c.Runtime.Deadline < 0 {
		errs = append(errs, errors.New("runtime: deadline must not be negative"))
	}

	return errors.Join(errs...)
}

// Engine converts the runtime section. Zero values fall back to the engine
// defaults.
func (c *Config) Engine() engine.Config {
	d := engine.DefaultConfig
	r := c.Runtime

	if r.Deadline > 0 {
		d.Deadline = r.Deadline
	}

	if r.MaxIterations > 0 {
		d.MaxIterations = r.MaxIterations
	}

	if r.TokenBudget > 0 {
		d.TokenBudget = r.TokenBudget
	}

	if r.KeepRecent > 0 {
		d.KeepRecent = r.KeepRecent
	}

	if r.ContentMaxChars > 0 {
		d.ContentMaxChars = r.ContentMaxChars
	}

	if r.ToolResultMaxChars > 0 {
		d.ToolResultMaxChars = r.ToolResultMaxChars
	}

	if r.Language != "" {
		d.Language = r.Language
	}

	return d
}

// Logger builds the configured runtime logger writing to stderr.
func (c *Config) Logger() *logging.RuntimeLogger {
	level, err := logging.ParseLevel(c.Log.Level)
	if err != nil {
		level = logging.LogLevelInfo
	}

	return logging.NewLogger(&logging.LoggerConfig{
		Level:     level,
		Format:    c.Log.Format,
		Output:    os.Stderr,
		Component: "lexmesh",
	})
}
