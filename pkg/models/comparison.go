package models

import (
	"errors"
	"fmt"
	"time"
)

// ComparisonReport is the similarity report between an original artifact
// and a reconstructed candidate. It is a pure function of the two files.
type ComparisonReport struct {
	ID             string         `json:"id"`
	Original       string         `json:"original"`
	Candidate      string         `json:"candidate"`
	ComparedAt     time.Time      `json:"compared_at"`
	Size           SizeStats      `json:"size"`
	Hash           HashStats      `json:"hash"`
	Strings        StringStats    `json:"string_stats"`
	ByteSimilarity ByteSimilarity `json:"byte_similarity"`
	Overall        Overall        `json:"overall"`
}

// SizeStats compares file sizes taken from filesystem metadata
type SizeStats struct {
	SizeOriginal int64 `json:"size_original"`
	SizeOther    int64 `json:"size_other"`
	SizeDiff     int64 `json:"size_diff"`
	// SizeDiffPercent is nil when the original is empty
	SizeDiffPercent *float64 `json:"size_diff_percent"`
}

// PercentString renders SizeDiffPercent, or "N/A" when it is undefined
func (s SizeStats) PercentString() string {
	if s.SizeDiffPercent == nil {
		return "N/A"
	}
	return fmt.Sprintf("%.2f%%", *s.SizeDiffPercent)
}

// HashStats holds full-content digests
type HashStats struct {
	Algorithm    DigestAlgorithm `json:"algorithm"`
	HashOriginal string          `json:"hash_original"`
	HashOther    string          `json:"hash_other"`
	HashMatch    bool            `json:"hash_match"`
}

// StringStats compares the printable-string sets of both artifacts
type StringStats struct {
	OriginalCount             int     `json:"original_count"`
	CandidateCount            int     `json:"candidate_count"`
	Common                    int     `json:"common"`
	UniqueOriginal            int     `json:"unique_original"`
	UniqueCandidate           int     `json:"unique_candidate"`
	JaccardIndexPercent       float64 `json:"jaccard_index_percent"`
	OverlapCoefficientPercent float64 `json:"overlap_coefficient_percent"`
	CoverageOfOriginalPercent float64 `json:"coverage_of_original_percent"`
}

// ByteSimilarity is a matching-blocks ratio over a bounded prefix
type ByteSimilarity struct {
	Ratio       float64 `json:"ratio"`
	PrefixBytes int     `json:"prefix_bytes"`
}

// Overall summarizes the report against fixed thresholds
type Overall struct {
	HashMatch            bool `json:"hash_match"`
	SizeCloselyMatches   bool `json:"size_closely_matches"`
	HighStringSimilarity bool `json:"high_string_similarity"`
	HighBinarySimilarity bool `json:"high_binary_similarity"`
}

// ComparisonStage names the comparator step that failed
type ComparisonStage string

const (
	StageSize ComparisonStage = "size"
	StageHash ComparisonStage = "hash"
	StageRead ComparisonStage = "read"
)

// ComparisonError is returned when an artifact cannot be read
type ComparisonError struct {
	Path  string
	Stage ComparisonStage
	Err   error
}

func (e *ComparisonError) Error() string {
	return fmt.Sprintf("compare %s: %s: %v", e.Stage, e.Path, e.Err)
}

func (e *ComparisonError) Unwrap() error {
	return e.Err
}

// ComparisonErrorPath returns the offending path when err is a ComparisonError
func ComparisonErrorPath(err error) (string, bool) {
	var ce *ComparisonError
	if errors.As(err, &ce) {
		return ce.Path, true
	}
	return "", false
}
