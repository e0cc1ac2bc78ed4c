package output

import (
	"encoding/json"
	"io"
	"os"
	"sync"
	"time"

	"github.com/sdejongh/binsight/pkg/models"
)

// JSONFormatter formats output as JSON for automation and scripting
type JSONFormatter struct {
	mu         sync.Mutex
	writer     io.Writer
	totalItems int
	startTime  time.Time
	events     []JSONEvent
}

// JSONEvent represents a single event recorded during the run
type JSONEvent struct {
	Timestamp time.Time `json:"timestamp"`
	Type      string    `json:"type"`
	Source    string    `json:"source,omitempty"`
	Stage     string    `json:"stage,omitempty"`
	Error     string    `json:"error,omitempty"`
}

// JSONReportData is the document written on completion
type JSONReportData struct {
	Status     string              `json:"status"`
	Duration   string              `json:"duration"`
	DurationMs int64               `json:"duration_ms"`
	Succeeded  int                 `json:"succeeded"`
	Failed     int                 `json:"failed"`
	Report     *models.BatchReport `json:"report"`
	Events     []JSONEvent         `json:"events,omitempty"`
}

// NewJSONFormatter creates a new JSON formatter
func NewJSONFormatter() *JSONFormatter {
	return &JSONFormatter{
		events: make([]JSONEvent, 0),
	}
}

// Start initializes the formatter
func (f *JSONFormatter) Start(writer io.Writer, totalItems int, maxWorkers int) error {
	if writer == nil {
		writer = os.Stdout
	}
	f.writer = writer
	f.totalItems = totalItems
	f.startTime = time.Now()
	f.record(JSONEvent{Type: "start"})
	return nil
}

// Progress records item failures; progress itself is not streamed so the
// output stays a single parseable document
func (f *JSONFormatter) Progress(update ProgressUpdate) error {
	if update.Type == "item_error" && update.Error != nil {
		f.record(JSONEvent{Type: "item_error", Source: update.Source, Stage: update.Stage, Error: update.Error.Error()})
	}
	return nil
}

// Complete writes the report
func (f *JSONFormatter) Complete(report *models.BatchReport) error {
	if f.writer == nil {
		f.writer = io.Discard
	}

	succeeded, failed := report.Counts()
	f.record(JSONEvent{Type: "complete"})

	f.mu.Lock()
	defer f.mu.Unlock()
	return WriteJSON(f.writer, JSONReportData{
		Status:     string(report.Status),
		Duration:   report.Duration.Round(time.Millisecond).String(),
		DurationMs: report.Duration.Milliseconds(),
		Succeeded:  succeeded,
		Failed:     failed,
		Report:     report,
		Events:     f.events,
	})
}

// Error reports an error
func (f *JSONFormatter) Error(err error) error {
	f.record(JSONEvent{Type: "error", Error: err.Error()})
	return nil
}

// Name returns the formatter name
func (f *JSONFormatter) Name() string {
	return "json"
}

func (f *JSONFormatter) record(e JSONEvent) {
	e.Timestamp = time.Now()
	f.mu.Lock()
	f.events = append(f.events, e)
	f.mu.Unlock()
}

// WriteJSON writes v as indented JSON
func WriteJSON(w io.Writer, v any) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}
