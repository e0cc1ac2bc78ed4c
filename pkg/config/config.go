package config

import (
	"time"

	"github.com/sdejongh/binsight/pkg/models"
)

// Config represents the application configuration
type Config struct {
	Compare  CompareConfig  `yaml:"compare"`
	LLM      LLMConfig      `yaml:"llm"`
	Analysis AnalysisConfig `yaml:"analysis"`
	Tools    ToolsConfig    `yaml:"tools"`
	CPG      CPGConfig      `yaml:"cpg"`
	Batch    BatchConfig    `yaml:"batch"`
	History  HistoryConfig  `yaml:"history"`
	Output   OutputConfig   `yaml:"output"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// CompareConfig holds artifact comparator settings
type CompareConfig struct {
	Algorithm   models.DigestAlgorithm     `yaml:"algorithm" validate:"oneof=md5 sha256 blake3"`
	PrefixBytes int                        `yaml:"prefix_bytes" validate:"min=1"`
	BufferSize  int                        `yaml:"buffer_size" validate:"min=4096"`
	ReadLimit   string                     `yaml:"read_limit" validate:"rate"` // e.g. "50M", empty = unlimited
	Strings     models.StringExtractorKind `yaml:"strings" validate:"oneof=external builtin"`
	Thresholds  ThresholdsConfig           `yaml:"thresholds"`
}

// ThresholdsConfig holds the overall assessment thresholds
type ThresholdsConfig struct {
	SizePercent   float64 `yaml:"size_percent" validate:"gt=0"`
	StringJaccard float64 `yaml:"string_jaccard" validate:"gte=0,lte=100"`
	ByteRatio     float64 `yaml:"byte_ratio" validate:"gte=0,lte=1"`
}

// LLMConfig holds chat-completions settings
type LLMConfig struct {
	Backend        models.LLMBackend `yaml:"backend" validate:"oneof=local openai"`
	Model          string            `yaml:"model"`    // empty = backend default
	BaseURL        string            `yaml:"base_url" validate:"omitempty,url"`
	APIKey         string            `yaml:"api_key,omitempty"`
	MaxIterations  int               `yaml:"max_iterations" validate:"min=1"`
	SessionWindow  int               `yaml:"session_window" validate:"min=2"`
	MaxOutputSize  int               `yaml:"max_output_size" validate:"min=256"`
	HTTPTimeout    time.Duration     `yaml:"http_timeout" validate:"gt=0"`
	MaxRetries     int               `yaml:"max_retries" validate:"min=0,max=10"`
	RetryBaseDelay time.Duration     `yaml:"retry_base_delay" validate:"gte=0"`
}

// AnalysisConfig holds analysis engine settings
type AnalysisConfig struct {
	Mode models.AnalysisMode `yaml:"mode" validate:"analysismode"`
}

// ToolsConfig holds paths of external programs
type ToolsConfig struct {
	GCC           string `yaml:"gcc" validate:"required"`
	Strings       string `yaml:"strings" validate:"required"`
	R2            string `yaml:"r2" validate:"required"`
	Csmith        string `yaml:"csmith" validate:"required"`
	CsmithInclude string `yaml:"csmith_include"`
	JoernParse    string `yaml:"joern_parse" validate:"required"`
	JoernExport   string `yaml:"joern_export" validate:"required"`
}

// CPGConfig holds code property graph comparison settings
type CPGConfig struct {
	GEDTimeout time.Duration `yaml:"ged_timeout" validate:"gt=0"`
}

// BatchConfig holds generate-and-analyze settings
type BatchConfig struct {
	Workers   int    `yaml:"workers" validate:"min=1,max=64"`
	OutputDir string `yaml:"output_dir" validate:"required"`
	Count     int    `yaml:"count" validate:"min=1"`
}

// HistoryConfig holds the SQLite history settings
type HistoryConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"` // empty = platform default
}

// OutputConfig holds output-related settings
type OutputConfig struct {
	Format   string `yaml:"format" validate:"oneof=human json"`
	Progress bool   `yaml:"progress"` // Show progress bars
	Quiet    bool   `yaml:"quiet"`    // Suppress non-error output
}

// LoggingConfig holds logging-related settings
type LoggingConfig struct {
	Enabled    bool   `yaml:"enabled"`
	Format     string `yaml:"format" validate:"logformat"`
	Level      string `yaml:"level" validate:"loglevel"`
	File       string `yaml:"file"` // empty = stderr only
	MaxSizeMB  int    `yaml:"max_size_mb" validate:"min=1"`
	MaxBackups int    `yaml:"max_backups" validate:"min=0"`
	MaxAgeDays int    `yaml:"max_age_days" validate:"min=0"`
}

// Backend defaults
const (
	DefaultLocalBaseURL  = "http://localhost:11434/v1"
	DefaultLocalModel    = "qwen2.5-coder:7b"
	DefaultOpenAIBaseURL = "https://api.openai.com/v1"
	DefaultOpenAIModel   = "o4-mini"
)

// Default returns the default configuration
func Default() *Config {
	return &Config{
		Compare: CompareConfig{
			Algorithm:   models.DigestMD5,
			PrefixBytes: 10000,
			BufferSize:  65536,
			Strings:     models.ExtractorExternal,
			Thresholds: ThresholdsConfig{
				SizePercent:   10,
				StringJaccard: 70,
				ByteRatio:     0.7,
			},
		},
		LLM: LLMConfig{
			Backend:        models.BackendLocal,
			MaxIterations:  20,
			SessionWindow:  40,
			MaxOutputSize:  16000,
			HTTPTimeout:    5 * time.Minute,
			MaxRetries:     3,
			RetryBaseDelay: time.Second,
		},
		Analysis: AnalysisConfig{
			Mode: models.ModeStandard,
		},
		Tools: ToolsConfig{
			GCC:           "gcc",
			Strings:       "strings",
			R2:            "r2",
			Csmith:        "csmith",
			CsmithInclude: "/usr/include/csmith",
			JoernParse:    "joern-parse",
			JoernExport:   "joern-export",
		},
		CPG: CPGConfig{
			GEDTimeout: 10 * time.Second,
		},
		Batch: BatchConfig{
			Workers:   1,
			OutputDir: "generated",
			Count:     5,
		},
		History: HistoryConfig{
			Enabled: true,
		},
		Output: OutputConfig{
			Format:   "human",
			Progress: true,
		},
		Logging: LoggingConfig{
			Enabled:    false,
			Format:     "json",
			Level:      "info",
			File:       "logs/analysis.log",
			MaxSizeMB:  10,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
	}
}

// ResolvedBaseURL returns the endpoint for the configured backend
func (c LLMConfig) ResolvedBaseURL() string {
	if c.BaseURL != "" {
		return c.BaseURL
	}
	if c.Backend == models.BackendOpenAI {
		return DefaultOpenAIBaseURL
	}
	return DefaultLocalBaseURL
}

// ResolvedModel returns the model for the configured backend
func (c LLMConfig) ResolvedModel() string {
	if c.Model != "" {
		return c.Model
	}
	if c.Backend == models.BackendOpenAI {
		return DefaultOpenAIModel
	}
	return DefaultLocalModel
}
