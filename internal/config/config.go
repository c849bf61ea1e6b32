package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the service configuration loaded from YAML and ENV.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Generator GeneratorConfig `mapstructure:"generator"`
	Providers ProvidersConfig `mapstructure:"providers"`
	Jobs      JobsConfig      `mapstructure:"jobs"`
	Prompt    PromptConfig    `mapstructure:"prompt"`
	Poller    PollerConfig    `mapstructure:"poller"`
}

// ServerConfig describes the HTTP listener.
type ServerConfig struct {
	Addr           string        `mapstructure:"addr"`
	SyncTimeout    time.Duration `mapstructure:"sync_timeout"` // wait budget of the synchronous endpoint
	MetricsEnabled bool          `mapstructure:"metrics_enabled"`
}

// LoggingConfig controls logger behaviour.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // console or json
}

// GeneratorConfig tunes the constrained generation loop.
type GeneratorConfig struct {
	Provider         string        `mapstructure:"provider"` // openai, gemini or mock
	Model            string        `mapstructure:"model"`
	Attempts         int           `mapstructure:"attempts"`
	Count            int           `mapstructure:"count"`
	ProposalTimeout  time.Duration `mapstructure:"proposal_timeout"`
	Verbosity        string        `mapstructure:"verbosity"`
	MinimalReasoning bool          `mapstructure:"minimal_reasoning"`
}

// ProviderConfig holds the connection details of one proposal backend.
type ProviderConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	APIKey  string        `mapstructure:"api_key"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type ProvidersConfig struct {
	OpenAI ProviderConfig `mapstructure:"openai"`
	Gemini ProviderConfig `mapstructure:"gemini"`
}

// JobsConfig covers execution, persistence and downstream verification of jobs.
type JobsConfig struct {
	MaxConcurrent  int64         `mapstructure:"max_concurrent"`
	ArtifactDir    string        `mapstructure:"artifact_dir"`
	LedgerPath     string        `mapstructure:"ledger_path"`
	KeyDir         string        `mapstructure:"key_dir"`
	HistoryPath    string        `mapstructure:"history_path"`
	VerifyCommand  string        `mapstructure:"verify_command"`
	VerifyTimeout  time.Duration `mapstructure:"verify_timeout"`
	VerifyAgentURL string        `mapstructure:"verify_agent_url"`
}

type PromptConfig struct {
	MaxChars int `mapstructure:"max_chars"`
}

type PollerConfig struct {
	SliceMax     time.Duration `mapstructure:"slice_max"`
	Interval     time.Duration `mapstructure:"interval"`
	QueryTimeout time.Duration `mapstructure:"query_timeout"`
}

// Load reads configuration from path, or from config.yaml in the working
// directory or ./configs when path is empty. A missing default file is not an
// error. Environment variables override file values (prefix COPPER_, dots
// replaced with underscores).
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("COPPER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path == "" {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("configs")
	} else {
		v.SetConfigFile(path)
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) || path != "" {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Default returns the configuration produced by defaults alone.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	var cfg Config
	_ = v.Unmarshal(&cfg)
	return &cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":5055")
	v.SetDefault("server.sync_timeout", 5*time.Minute)
	v.SetDefault("server.metrics_enabled", true)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")

	v.SetDefault("generator.provider", "openai")
	v.SetDefault("generator.model", "gpt-5-mini")
	v.SetDefault("generator.attempts", 2)
	v.SetDefault("generator.count", 3)
	v.SetDefault("generator.proposal_timeout", 120*time.Second)
	v.SetDefault("generator.verbosity", "low")
	v.SetDefault("generator.minimal_reasoning", true)

	v.SetDefault("providers.openai.base_url", "https://api.openai.com")
	v.SetDefault("providers.openai.api_key", "")
	v.SetDefault("providers.openai.timeout", 120*time.Second)
	v.SetDefault("providers.gemini.api_key", "")
	v.SetDefault("providers.gemini.timeout", 120*time.Second)

	v.SetDefault("jobs.max_concurrent", 4)
	v.SetDefault("jobs.artifact_dir", "./data/artifacts")
	v.SetDefault("jobs.ledger_path", "./data/ledger.jsonl")
	v.SetDefault("jobs.key_dir", "./keys")
	v.SetDefault("jobs.history_path", "./data/history.db")
	v.SetDefault("jobs.verify_command", "")
	v.SetDefault("jobs.verify_timeout", 5*time.Minute)
	v.SetDefault("jobs.verify_agent_url", "")

	v.SetDefault("prompt.max_chars", 8000)

	v.SetDefault("poller.slice_max", 8*time.Second)
	v.SetDefault("poller.interval", time.Second)
	v.SetDefault("poller.query_timeout", 5*time.Second)
}

// Validate performs basic sanity checks on configuration values.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Server.Addr) == "" {
		return errors.New("server.addr must be set")
	}
	if c.Server.SyncTimeout <= 0 {
		return errors.New("server.sync_timeout must be > 0")
	}

	switch strings.ToLower(strings.TrimSpace(c.Logging.Format)) {
	case "", "console", "json":
	default:
		return fmt.Errorf("logging.format must be console or json, got %q", c.Logging.Format)
	}

	switch strings.ToLower(strings.TrimSpace(c.Generator.Provider)) {
	case "openai", "gemini", "mock":
	default:
		return fmt.Errorf("generator.provider must be one of openai, gemini, mock, got %q", c.Generator.Provider)
	}
	if c.Generator.Attempts < 1 || c.Generator.Attempts > 5 {
		return fmt.Errorf("generator.attempts must be within [1,5], got %d", c.Generator.Attempts)
	}
	if c.Generator.Count < 1 {
		return errors.New("generator.count must be > 0")
	}
	if c.Generator.ProposalTimeout <= 0 {
		return errors.New("generator.proposal_timeout must be > 0")
	}
	switch strings.ToLower(strings.TrimSpace(c.Generator.Verbosity)) {
	case "", "low", "medium", "high":
	default:
		return fmt.Errorf("generator.verbosity must be one of low, medium, high, got %q", c.Generator.Verbosity)
	}

	if c.Jobs.MaxConcurrent <= 0 {
		return errors.New("jobs.max_concurrent must be > 0")
	}
	if strings.TrimSpace(c.Jobs.ArtifactDir) == "" {
		return errors.New("jobs.artifact_dir must be set")
	}
	if c.Jobs.VerifyCommand != "" && c.Jobs.VerifyAgentURL != "" {
		return errors.New("jobs.verify_command and jobs.verify_agent_url are mutually exclusive")
	}
	if c.Jobs.VerifyTimeout < 0 {
		return errors.New("jobs.verify_timeout must be >= 0")
	}

	if c.Prompt.MaxChars <= 0 {
		return errors.New("prompt.max_chars must be > 0")
	}

	if c.Poller.SliceMax <= 0 || c.Poller.Interval <= 0 || c.Poller.QueryTimeout <= 0 {
		return errors.New("poller durations must be > 0")
	}
	if c.Poller.Interval > c.Poller.SliceMax {
		return errors.New("poller.interval must not exceed poller.slice_max")
	}

	return nil
}
