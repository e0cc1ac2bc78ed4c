package output

import (
	"fmt"
	"io"

	"github.com/sdejongh/binsight/pkg/models"
)

// ProgressUpdate represents a progress notification during a batch run
type ProgressUpdate struct {
	Type        string // "item_start", "item_stage", "item_complete", "item_error"
	Source      string
	Stage       string
	CurrentItem int
	TotalItems  int
	Error       error
}

// Formatter defines the interface for batch run output.
// Implementations include human-readable, progress bar and JSON formatters.
type Formatter interface {
	// Start initializes the formatter for a new run
	// maxWorkers indicates the number of parallel workers for display purposes
	Start(writer io.Writer, totalItems int, maxWorkers int) error

	// Progress reports progress during the run
	Progress(update ProgressUpdate) error

	// Complete finalizes output and displays the results table
	Complete(report *models.BatchReport) error

	// Error reports an error during the run
	Error(err error) error

	// Name returns the formatter name
	Name() string
}

// NewFormatter returns the formatter for format ("human" or "json").
// Human output becomes a progress bar when showProgress is set and w is a
// terminal.
func NewFormatter(format string, showProgress bool, w io.Writer) (Formatter, error) {
	switch format {
	case "json":
		return NewJSONFormatter(), nil
	case "human", "":
		if showProgress && IsTerminal(w) {
			return NewProgressFormatter(), nil
		}
		return NewHumanFormatter(), nil
	default:
		return nil, fmt.Errorf("unknown output format %q (use human or json)", format)
	}
}
