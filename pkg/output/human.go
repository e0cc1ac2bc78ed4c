package output

import (
	"fmt"
	"io"
	"path/filepath"
	"time"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	"github.com/sdejongh/binsight/pkg/models"
)

var (
	okMark   = color.New(color.FgGreen).Sprint("✓")
	failMark = color.New(color.FgRed).Sprint("✗")
)

// HumanFormatter formats batch output in human-readable format
type HumanFormatter struct {
	writer     io.Writer
	totalItems int
	startTime  time.Time
}

// NewHumanFormatter creates a new human-readable formatter
func NewHumanFormatter() *HumanFormatter {
	return &HumanFormatter{}
}

// Start initializes the formatter
func (f *HumanFormatter) Start(writer io.Writer, totalItems int, maxWorkers int) error {
	f.writer = writer
	f.totalItems = totalItems
	f.startTime = time.Now()

	if writer != nil {
		fmt.Fprintf(writer, "Analyzing %d generated programs (%d workers)\n", totalItems, max(maxWorkers, 1))
	}

	return nil
}

// Progress reports progress during the run
func (f *HumanFormatter) Progress(update ProgressUpdate) error {
	if f.writer == nil {
		return nil
	}

	switch update.Type {
	case "item_start":
		fmt.Fprintf(f.writer, "[%d/%d] Analyzing %s...\n",
			update.CurrentItem, f.totalItems, update.Source)

	case "item_complete":
		fmt.Fprintf(f.writer, "[%d/%d] %s %s\n",
			update.CurrentItem, f.totalItems, okMark, update.Source)

	case "item_error":
		fmt.Fprintf(f.writer, "[%d/%d] %s %s (%s): %v\n",
			update.CurrentItem, f.totalItems, failMark,
			update.Source, update.Stage, update.Error)
	}

	return nil
}

// Complete prints the results table and summary
func (f *HumanFormatter) Complete(report *models.BatchReport) error {
	if f.writer == nil {
		f.writer = io.Discard
	}
	return WriteBatchReport(f.writer, report)
}

// Error reports an error
func (f *HumanFormatter) Error(err error) error {
	if f.writer != nil {
		fmt.Fprintf(f.writer, "Error: %v\n", err)
	}
	return nil
}

// Name returns the formatter name
func (f *HumanFormatter) Name() string {
	return "human"
}

// WriteBatchReport prints one table row per item followed by a summary
func WriteBatchReport(w io.Writer, report *models.BatchReport) error {
	fmt.Fprintf(w, "\nAnalysis Results\n")

	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Original File", "Decompiled File", "Size Difference", "Hash Match", "CPG Similarity", "Node Difference", "Edge Difference"})
	table.SetAutoWrapText(false)
	for _, item := range report.Items {
		table.Append(batchRow(item))
	}
	table.Render()

	succeeded, failed := report.Counts()
	fmt.Fprintf(w, "\n")
	fmt.Fprintf(w, "Run %s completed in %s\n", report.RunID, formatDuration(report.Duration))
	fmt.Fprintf(w, "  Output:    %s\n", report.OutputDir)
	fmt.Fprintf(w, "  Mode:      %s (%s)\n", report.Mode, report.Backend)
	fmt.Fprintf(w, "  Succeeded: %d\n", succeeded)
	fmt.Fprintf(w, "  Failed:    %d\n", failed)
	fmt.Fprintf(w, "\nStatus: %s\n", report.Status)

	if failed > 0 {
		fmt.Fprintf(w, "\nErrors:\n")
		for _, item := range report.Items {
			if item.Status == models.ItemFailed {
				fmt.Fprintf(w, "  %s (%s): %s\n", item.Source, item.FailedStage, item.Error)
			}
		}
	}
	return nil
}

func batchRow(item models.BatchItemResult) []string {
	if item.Status == models.ItemFailed {
		return []string{item.Source, "Failed", "N/A", "N/A", "N/A", "N/A", "N/A"}
	}
	row := []string{item.Source, item.DecompiledSource, "N/A", "N/A", "N/A", "N/A", "N/A"}
	if c := item.BinaryComparison; c != nil {
		row[2] = c.Size.PercentString()
		row[3] = yesNo(c.Hash.HashMatch)
	}
	if c := item.CPGComparison; c != nil {
		row[4] = fmt.Sprintf("%.2f%%", c.SimilarityScore*100)
		row[5] = fmt.Sprint(c.NodeDifference)
		row[6] = fmt.Sprint(c.EdgeDifference)
	}
	return row
}

// WriteComparison prints a comparison report
func WriteComparison(w io.Writer, r *models.ComparisonReport) error {
	fmt.Fprintf(w, "Binary Comparison\n")
	fmt.Fprintf(w, "=================\n\n")
	fmt.Fprintf(w, "Original:  %s\n", r.Original)
	fmt.Fprintf(w, "Candidate: %s\n\n", r.Candidate)

	fmt.Fprintf(w, "Size:\n")
	fmt.Fprintf(w, "  Original:   %s (%d bytes)\n", formatBytes(r.Size.SizeOriginal), r.Size.SizeOriginal)
	fmt.Fprintf(w, "  Candidate:  %s (%d bytes)\n", formatBytes(r.Size.SizeOther), r.Size.SizeOther)
	fmt.Fprintf(w, "  Difference: %d bytes (%s)\n\n", r.Size.SizeDiff, r.Size.PercentString())

	fmt.Fprintf(w, "Hash (%s):\n", r.Hash.Algorithm)
	fmt.Fprintf(w, "  Original:   %s\n", r.Hash.HashOriginal)
	fmt.Fprintf(w, "  Candidate:  %s\n", r.Hash.HashOther)
	fmt.Fprintf(w, "  Match:      %s\n\n", yesNo(r.Hash.HashMatch))

	s := r.Strings
	fmt.Fprintf(w, "Strings:\n")
	fmt.Fprintf(w, "  Original:   %d\n", s.OriginalCount)
	fmt.Fprintf(w, "  Candidate:  %d\n", s.CandidateCount)
	fmt.Fprintf(w, "  Common:     %d (unique: %d original, %d candidate)\n", s.Common, s.UniqueOriginal, s.UniqueCandidate)
	fmt.Fprintf(w, "  Jaccard:    %.2f%%\n", s.JaccardIndexPercent)
	fmt.Fprintf(w, "  Overlap:    %.2f%%\n", s.OverlapCoefficientPercent)
	fmt.Fprintf(w, "  Coverage:   %.2f%%\n\n", s.CoverageOfOriginalPercent)

	fmt.Fprintf(w, "Byte similarity: %.4f (first %d bytes)\n\n", r.ByteSimilarity.Ratio, r.ByteSimilarity.PrefixBytes)

	fmt.Fprintf(w, "Assessment:\n")
	fmt.Fprintf(w, "  %s hash match\n", mark(r.Overall.HashMatch))
	fmt.Fprintf(w, "  %s size closely matches\n", mark(r.Overall.SizeCloselyMatches))
	fmt.Fprintf(w, "  %s high string similarity\n", mark(r.Overall.HighStringSimilarity))
	fmt.Fprintf(w, "  %s high binary similarity\n", mark(r.Overall.HighBinarySimilarity))
	return nil
}

// WriteCPGComparison prints a CPG comparison
func WriteCPGComparison(w io.Writer, original, candidate string, c *models.CPGComparison) error {
	fmt.Fprintf(w, "CPG Comparison\n")
	fmt.Fprintf(w, "==============\n\n")
	fmt.Fprintf(w, "Original:  %s (%d nodes, %d edges)\n", filepath.Base(original), c.OriginalNodes, c.OriginalEdges)
	fmt.Fprintf(w, "Candidate: %s (%d nodes, %d edges)\n\n", filepath.Base(candidate), c.CandidateNodes, c.CandidateEdges)
	fmt.Fprintf(w, "  Similarity score:    %.2f%%\n", c.SimilarityScore*100)
	fmt.Fprintf(w, "  Graph edit distance: %s\n", optional(c.GraphEditDistance, "%.0f"))
	fmt.Fprintf(w, "  Average SimRank:     %s\n", optional(c.AvgSimRankSimilarity, "%.4f"))
	fmt.Fprintf(w, "  Node difference:     %d\n", c.NodeDifference)
	fmt.Fprintf(w, "  Edge difference:     %d\n", c.EdgeDifference)
	fmt.Fprintf(w, "  Density difference:  %.6f\n", c.DensityDifference)
	return nil
}

// WriteSourceDiff prints line-diff statistics
func WriteSourceDiff(w io.Writer, d models.SourceDiff) error {
	fmt.Fprintf(w, "Source diff: %d equal, %d inserted, %d deleted lines (similarity %.2f%%)\n",
		d.LinesEqual, d.LinesInserted, d.LinesDeleted, d.Similarity*100)
	return nil
}

func optional(v *float64, format string) string {
	if v == nil {
		return "N/A"
	}
	return fmt.Sprintf(format, *v)
}

func mark(ok bool) string {
	if ok {
		return okMark
	}
	return failMark
}

func yesNo(ok bool) string {
	if ok {
		return "Yes"
	}
	return "No"
}

// formatBytes formats bytes in human-readable format
func formatBytes(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(bytes)/float64(div), "KMGTPE"[exp])
}

// formatDuration formats duration in human-readable format
func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm%ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	return fmt.Sprintf("%dh%dm", int(d.Hours()), int(d.Minutes())%60)
}
