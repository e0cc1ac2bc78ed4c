package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/sdejongh/binsight/pkg/models"
	"gopkg.in/yaml.v3"
)

// Environment variables honoured on top of the config file
const (
	EnvOllamaModel   = "OLLAMA_MODEL"
	EnvOllamaBaseURL = "OLLAMA_BASE_URL"
	EnvOpenAIKey     = "OPENAI_REV_ENG_API_KEY"
	EnvAnalysisMode  = "DEFAULT_ANALYSIS_MODE"
	EnvLogFile       = "LOG_FILE"
	EnvLogLevel      = "LOG_LEVEL"
	EnvHistoryDB     = "BINSIGHT_HISTORY_DB"
)

// LoadFromFile loads configuration from a YAML file on top of the defaults
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// SaveToFile saves configuration to a YAML file
func SaveToFile(cfg *Config, path string) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	// never persist secrets picked up from the environment
	out := *cfg
	out.LLM.APIKey = ""

	data, err := yaml.Marshal(&out)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// DefaultConfigPath returns the default configuration file path
func DefaultConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}

	return filepath.Join(home, ".config", "binsight", "config.yaml"), nil
}

// Load reads path, or the default location when path is empty. A missing
// default file yields the defaults; a missing explicit file is an error.
// Environment overrides are applied afterwards.
func Load(path string) (*Config, error) {
	explicit := path != ""
	if !explicit {
		var err error
		if path, err = DefaultConfigPath(); err != nil {
			return nil, err
		}
	}

	cfg, err := LoadFromFile(path)
	if err != nil {
		if explicit || !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
		cfg = Default()
	}

	cfg.ApplyEnv(os.Getenv)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// ApplyEnv overrides settings from environment variables. getenv is
// os.Getenv outside tests.
func (c *Config) ApplyEnv(getenv func(string) string) {
	if v := getenv(EnvAnalysisMode); v != "" {
		c.Analysis.Mode = models.AnalysisMode(strings.ToLower(v))
	}
	if v := getenv(EnvLogFile); v != "" {
		c.Logging.File = v
		c.Logging.Enabled = true
	}
	if v := getenv(EnvLogLevel); v != "" {
		c.Logging.Level = strings.ToLower(v)
	}
	if v := getenv(EnvHistoryDB); v != "" {
		c.History.Path = v
	}
	c.applyBackendEnv(getenv)
}

// applyBackendEnv fills backend-specific settings. Only the variables of
// the selected backend apply.
func (c *Config) applyBackendEnv(getenv func(string) string) {
	switch c.LLM.Backend {
	case models.BackendOpenAI:
		if v := getenv(EnvOpenAIKey); v != "" {
			c.LLM.APIKey = v
		}
	default:
		if v := getenv(EnvOllamaModel); v != "" {
			c.LLM.Model = v
		}
		if v := getenv(EnvOllamaBaseURL); v != "" {
			c.LLM.BaseURL = v
		}
	}
}

// SelectBackend switches the LLM backend, clearing the model and endpoint
// of the previous one before re-reading the environment
func (c *Config) SelectBackend(backend models.LLMBackend, getenv func(string) string) {
	if backend == "" || backend == c.LLM.Backend {
		return
	}
	c.LLM.Backend = backend
	c.LLM.Model = ""
	c.LLM.BaseURL = ""
	c.LLM.APIKey = ""
	c.applyBackendEnv(getenv)
}
