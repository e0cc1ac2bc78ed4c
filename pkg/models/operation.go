package models

import (
	"time"
)

// AnalysisMode selects how deep the analysis engine digs before the agent starts
type AnalysisMode string

const (
	// ModeQuick runs the basic auto-analysis pass
	ModeQuick AnalysisMode = "quick"
	// ModeStandard adds function and reference analysis
	ModeStandard AnalysisMode = "standard"
	// ModeDeep enables every experimental analysis pass
	ModeDeep AnalysisMode = "deep"
)

// Valid reports whether m is a known analysis mode
func (m AnalysisMode) Valid() bool {
	switch m {
	case ModeQuick, ModeStandard, ModeDeep:
		return true
	}
	return false
}

// LLMBackend selects which chat-completions endpoint the agent talks to
type LLMBackend string

const (
	// BackendLocal uses an Ollama server
	BackendLocal LLMBackend = "local"
	// BackendOpenAI uses the OpenAI API
	BackendOpenAI LLMBackend = "openai"
)

// DigestAlgorithm is the content hash used by the comparator
type DigestAlgorithm string

const (
	// DigestMD5 is the default, fast 128-bit digest
	DigestMD5 DigestAlgorithm = "md5"
	// DigestSHA256 is the 256-bit SHA-2 digest
	DigestSHA256 DigestAlgorithm = "sha256"
	// DigestBLAKE3 is the 256-bit BLAKE3 digest
	DigestBLAKE3 DigestAlgorithm = "blake3"
)

// StringExtractorKind selects how printable strings are pulled out of artifacts
type StringExtractorKind string

const (
	// ExtractorExternal shells out to the strings(1) utility
	ExtractorExternal StringExtractorKind = "external"
	// ExtractorBuiltin scans for printable runs in-process
	ExtractorBuiltin StringExtractorKind = "builtin"
)

// AnalysisOperation describes one agent-driven analysis of a binary
type AnalysisOperation struct {
	ID            string
	BinaryPath    string
	Mode          AnalysisMode
	Backend       LLMBackend
	Model         string
	MaxIterations int
	CreatedAt     time.Time
	StartedAt     *time.Time
	CompletedAt   *time.Time
}

// Validate checks if the operation configuration is valid
func (op *AnalysisOperation) Validate() error {
	if op.BinaryPath == "" {
		return &ValidationError{Field: "BinaryPath", Message: "binary path is required"}
	}
	if !op.Mode.Valid() {
		return &ValidationError{Field: "Mode", Message: "mode must be quick, standard or deep"}
	}
	if op.Backend != BackendLocal && op.Backend != BackendOpenAI {
		return &ValidationError{Field: "Backend", Message: "backend must be local or openai"}
	}
	if op.MaxIterations < 1 {
		return &ValidationError{Field: "MaxIterations", Message: "max iterations must be at least 1"}
	}
	return nil
}

// ValidationError represents a validation error
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Field + ": " + e.Message
}
