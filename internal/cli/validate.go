package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/sdejongh/binsight/internal/platform"
	"github.com/sdejongh/binsight/pkg/config"
	"github.com/sdejongh/binsight/pkg/models"
)

// loadConfig loads configuration from file (or defaults), applies the
// environment and then the global flags
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(globalFlags.ConfigFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	applyGlobalFlags(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// applyGlobalFlags overrides config values with global flags
func applyGlobalFlags(cfg *config.Config) {
	if globalFlags.LogFile != "" {
		cfg.Logging.File = globalFlags.LogFile
		cfg.Logging.Enabled = true
	}
	if globalFlags.LogLevel != "" {
		cfg.Logging.Level = strings.ToLower(globalFlags.LogLevel)
	}
	if globalFlags.NoHistory {
		cfg.History.Enabled = false
	}

	// Disable progress in quiet mode
	if globalFlags.Quiet {
		cfg.Output.Progress = false
		cfg.Output.Quiet = true
	}
}

// applyAnalysisFlags overrides the analysis mode and LLM backend
func applyAnalysisFlags(cfg *config.Config, f analysisFlags) error {
	if f.Mode != "" {
		mode := models.AnalysisMode(strings.ToLower(f.Mode))
		if !mode.Valid() {
			return fmt.Errorf("invalid analysis mode: %s (valid: quick, standard, deep)", f.Mode)
		}
		cfg.Analysis.Mode = mode
	}

	if f.Backend != "" {
		backend := models.LLMBackend(strings.ToLower(f.Backend))
		if backend != models.BackendLocal && backend != models.BackendOpenAI {
			return fmt.Errorf("invalid LLM type: %s (valid: local, openai)", f.Backend)
		}
		cfg.SelectBackend(backend, os.Getenv)
	}

	if cfg.LLM.Backend == models.BackendOpenAI && cfg.LLM.APIKey == "" {
		return fmt.Errorf("openai backend requires %s", config.EnvOpenAIKey)
	}

	return cfg.Validate()
}

// validateOutputFormat checks an -o value
func validateOutputFormat(format string) error {
	switch format {
	case "human", "json":
		return nil
	}
	return fmt.Errorf("invalid output format: %s (valid: human, json)", format)
}

// validateArtifacts checks that every path is a readable regular file
func validateArtifacts(paths ...string) error {
	for _, path := range paths {
		if err := platform.ValidateArtifact(path); err != nil {
			return err
		}
	}
	return nil
}

// newAnalysisOperation describes an agent run for logging and history
func newAnalysisOperation(cfg *config.Config, binary string) (*models.AnalysisOperation, error) {
	op := &models.AnalysisOperation{
		ID:            newID(),
		BinaryPath:    binary,
		Mode:          cfg.Analysis.Mode,
		Backend:       cfg.LLM.Backend,
		Model:         cfg.LLM.ResolvedModel(),
		MaxIterations: cfg.LLM.MaxIterations,
		CreatedAt:     now(),
	}

	if err := op.Validate(); err != nil {
		return nil, err
	}
	return op, nil
}
