package models

import (
	"fmt"
	"time"
)

// CPGComparison holds code-property-graph similarity measures between the
// original source and the decompiled source. Nil pointers mean the metric
// could not be computed (timeout or empty graph).
type CPGComparison struct {
	SimilarityScore      float64  `json:"similarity_score"`
	GraphEditDistance    *float64 `json:"graph_edit_distance"`
	AvgSimRankSimilarity *float64 `json:"avg_simrank_similarity"`
	NodeDifference       int      `json:"node_difference"`
	EdgeDifference       int      `json:"edge_difference"`
	DensityDifference    float64  `json:"density_difference"`
	OriginalNodes        int      `json:"original_nodes"`
	OriginalEdges        int      `json:"original_edges"`
	CandidateNodes       int      `json:"candidate_nodes"`
	CandidateEdges       int      `json:"candidate_edges"`
}

// SourceDiff summarizes a line-level diff between two C sources
type SourceDiff struct {
	LinesEqual    int     `json:"lines_equal"`
	LinesInserted int     `json:"lines_inserted"`
	LinesDeleted  int     `json:"lines_deleted"`
	Similarity    float64 `json:"similarity"`
	Identical     bool    `json:"identical"`
}

// ItemStatus is the outcome of one generate-and-analyze item
type ItemStatus string

const (
	// ItemSucceeded means every stage of the item completed
	ItemSucceeded ItemStatus = "succeeded"
	// ItemFailed means a stage aborted the item
	ItemFailed ItemStatus = "failed"
)

// BatchItemResult records everything produced for one generated program
type BatchItemResult struct {
	Source           string            `json:"source"`
	Binary           string            `json:"binary,omitempty"`
	DecompiledSource string            `json:"decompiled_source,omitempty"`
	DecompiledBinary string            `json:"decompiled_binary,omitempty"`
	BinaryComparison *ComparisonReport `json:"binary_comparison,omitempty"`
	CPGComparison    *CPGComparison    `json:"cpg_comparison,omitempty"`
	SourceDiff       *SourceDiff       `json:"source_diff,omitempty"`
	Status           ItemStatus        `json:"status"`
	FailedStage      string            `json:"failed_stage,omitempty"`
	Error            string            `json:"error,omitempty"`
	Duration         time.Duration     `json:"duration"`
}

// BatchReport represents the results of a generate-and-analyze run
type BatchReport struct {
	// Run details
	RunID     string       `json:"run_id"`
	OutputDir string       `json:"output_dir"`
	Mode      AnalysisMode `json:"mode"`
	Backend   LLMBackend   `json:"backend"`

	// Timing
	StartTime time.Time     `json:"start_time"`
	EndTime   time.Time     `json:"end_time"`
	Duration  time.Duration `json:"duration"`

	Items []BatchItemResult `json:"items"`

	// Overall status
	Status RunStatus `json:"status"`
}

// Counts returns the number of succeeded and failed items
func (r *BatchReport) Counts() (succeeded, failed int) {
	for _, item := range r.Items {
		if item.Status == ItemSucceeded {
			succeeded++
		} else {
			failed++
		}
	}
	return succeeded, failed
}

// Finalize derives the run status from the item outcomes
func (r *BatchReport) Finalize(cancelled bool) {
	r.EndTime = time.Now()
	r.Duration = r.EndTime.Sub(r.StartTime)

	succeeded, failed := r.Counts()
	switch {
	case cancelled:
		r.Status = StatusCancelled
	case failed == 0:
		r.Status = StatusSuccess
	case succeeded == 0:
		r.Status = StatusFailed
	default:
		r.Status = StatusPartial
	}
}

// RunStatus represents the overall result
type RunStatus string

const (
	// StatusSuccess indicates all items completed successfully
	StatusSuccess RunStatus = "success"
	// StatusPartial indicates some items failed
	StatusPartial RunStatus = "partial"
	// StatusFailed indicates the run failed
	StatusFailed RunStatus = "failed"
	// StatusCancelled indicates the run was cancelled
	StatusCancelled RunStatus = "cancelled"
)

// ExitCode returns the appropriate exit code for the run status
func (s RunStatus) ExitCode() int {
	switch s {
	case StatusSuccess:
		return 0
	case StatusPartial:
		return 1
	case StatusFailed:
		return 2
	case StatusCancelled:
		return 3
	default:
		return 2
	}
}

// ChatTurn is one persisted message of a conversation
type ChatTurn struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// ChatSession groups the turns exchanged about one artifact
type ChatSession struct {
	ID        string       `json:"id"`
	Artifact  string       `json:"artifact"`
	Mode      AnalysisMode `json:"mode"`
	Backend   LLMBackend   `json:"backend"`
	CreatedAt time.Time    `json:"created_at"`
}

func (s ChatSession) String() string {
	return fmt.Sprintf("%s %s (%s, %s)", s.ID, s.Artifact, s.Mode, s.Backend)
}
