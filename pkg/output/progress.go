package output

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	"github.com/cheggaaa/pb/v3"
	"github.com/sdejongh/binsight/pkg/models"
	"golang.org/x/term"
)

const progressTemplate = `{{string . "prefix"}}{{counters . }} {{bar . "[" "=" ">" " " "]"}} {{percent . }} {{etime . }} {{string . "current"}}`

// getUpdateInterval returns the progress refresh interval based on OS
// Windows terminals have higher latency with ANSI sequences, so we use a longer interval
func getUpdateInterval() time.Duration {
	if runtime.GOOS == "windows" {
		return 300 * time.Millisecond
	}
	return 100 * time.Millisecond
}

// IsTerminal reports whether w is a terminal
func IsTerminal(w io.Writer) bool {
	file, ok := w.(*os.File)
	return ok && term.IsTerminal(int(file.Fd()))
}

// terminalWidth returns the width of w, or 120 when it cannot be detected
// (pipe, redirect, etc.)
func terminalWidth(w io.Writer) int {
	if file, ok := w.(*os.File); ok {
		if width, _, err := term.GetSize(int(file.Fd())); err == nil && width > 0 {
			return width
		}
	}
	return 120
}

// ProgressFormatter shows a progress bar over the batch items and prints
// failures above it
type ProgressFormatter struct {
	mu        sync.Mutex
	writer    io.Writer
	bar       *pb.ProgressBar
	active    map[int]string // item index -> "source: stage"
	failures  int
	startTime time.Time
}

// NewProgressFormatter creates a new progress bar formatter
func NewProgressFormatter() *ProgressFormatter {
	return &ProgressFormatter{
		active: make(map[int]string),
	}
}

// Start initializes the formatter
func (f *ProgressFormatter) Start(writer io.Writer, totalItems int, maxWorkers int) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if writer == nil {
		writer = os.Stdout
	}
	f.writer = writer
	f.startTime = time.Now()

	f.bar = pb.ProgressBarTemplate(progressTemplate).New(totalItems)
	f.bar.SetWriter(writer)
	f.bar.SetWidth(terminalWidth(writer))
	f.bar.SetRefreshRate(getUpdateInterval())
	f.bar.Set("prefix", fmt.Sprintf("Analyzing (%d workers) ", max(maxWorkers, 1)))
	f.bar.Start()
	return nil
}

// Progress reports progress during the run
func (f *ProgressFormatter) Progress(update ProgressUpdate) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.bar == nil {
		return nil
	}

	switch update.Type {
	case "item_start":
		f.active[update.CurrentItem] = filepath.Base(update.Source)
	case "item_stage":
		f.active[update.CurrentItem] = fmt.Sprintf("%s: %s", filepath.Base(update.Source), update.Stage)
	case "item_complete":
		delete(f.active, update.CurrentItem)
		f.bar.Increment()
	case "item_error":
		delete(f.active, update.CurrentItem)
		f.failures++
		f.bar.Increment()
	}
	f.bar.Set("current", f.currentLabel())
	return nil
}

// currentLabel shows the lowest-numbered active item
func (f *ProgressFormatter) currentLabel() string {
	lowest := -1
	for i := range f.active {
		if lowest < 0 || i < lowest {
			lowest = i
		}
	}
	if lowest < 0 {
		return ""
	}
	return f.active[lowest]
}

// Complete stops the bar and prints the results table
func (f *ProgressFormatter) Complete(report *models.BatchReport) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.bar != nil {
		f.bar.Set("current", "")
		f.bar.Finish()
	}
	if f.writer == nil {
		f.writer = io.Discard
	}
	return WriteBatchReport(f.writer, report)
}

// Error reports an error
func (f *ProgressFormatter) Error(err error) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.writer != nil {
		fmt.Fprintf(f.writer, "\n%s Error: %v\n", failMark, err)
	}
	return nil
}

// Name returns the formatter name
func (f *ProgressFormatter) Name() string {
	return "progress"
}
