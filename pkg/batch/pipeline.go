// Package batch runs the generate-and-analyze loop: random C programs are
// compiled, decompiled by the agent, rebuilt and compared at the source,
// graph and binary level.
package batch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sdejongh/binsight/pkg/cpg"
	"github.com/sdejongh/binsight/pkg/logging"
	"github.com/sdejongh/binsight/pkg/models"
	"github.com/sdejongh/binsight/pkg/output"
	"github.com/sdejongh/binsight/pkg/storage"
	"github.com/sdejongh/binsight/pkg/toolchain"
)

// Stage names reported in progress updates and failed items
const (
	StageCompileOriginal   = "compile_original"
	StageAnalyze           = "analyze"
	StageExtract           = "extract"
	StageSave              = "save"
	StageCPG               = "cpg"
	StageCompileDecompiled = "compile_decompiled"
	StageCompare           = "compare"
	StageDiff              = "diff"
	StageWriteAnalysis     = "write_analysis"
	StageCancelled         = "cancelled"
)

// ProgramSource produces the C programs to analyze
type ProgramSource interface {
	Generate(ctx context.Context, dir string, n int) ([]string, error)
}

// Compiler builds C sources
type Compiler interface {
	Compile(ctx context.Context, src, out string, optimize bool) (*toolchain.CompileResult, error)
}

// Analyzer returns the agent's answer (markdown with C code) for a binary
type Analyzer interface {
	Analyze(ctx context.Context, binary string) (string, error)
}

// GraphBuilder produces the CPG of a C source
type GraphBuilder interface {
	Generate(ctx context.Context, cFile string) *cpg.Graph
}

// Comparer compares two binaries
type Comparer interface {
	Compare(ctx context.Context, originalPath, candidatePath string) (*models.ComparisonReport, error)
}

// Recorder persists finished items
type Recorder interface {
	SaveBatchResult(ctx context.Context, runID string, item *models.BatchItemResult) (string, error)
}

// Deps are the collaborators of a pipeline. Graphs and Recorder are
// optional.
type Deps struct {
	Programs ProgramSource
	Compiler Compiler
	Analyzer Analyzer
	Graphs   GraphBuilder
	Comparer Comparer
	Backend  storage.Backend
	Recorder Recorder
}

// Options configures a run
type Options struct {
	OutputDir string
	Count     int
	Workers   int
	Mode      models.AnalysisMode
	Backend   models.LLMBackend
	CPG       cpg.Options
}

// Pipeline runs generate-and-analyze over a bounded worker pool
type Pipeline struct {
	deps      Deps
	opts      Options
	logger    logging.Logger
	semaphore chan struct{}

	// formatter calls are serialized
	mu        sync.Mutex
	formatter output.Formatter
}

// New creates a pipeline
func New(deps Deps, opts Options, logger logging.Logger) *Pipeline {
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if logger == nil {
		logger = logging.NewNullLogger()
	}
	return &Pipeline{
		deps:      deps,
		opts:      opts,
		logger:    logger,
		semaphore: make(chan struct{}, opts.Workers),
	}
}

// Run generates the programs and analyzes each one. Item failures are
// recorded in the report and do not stop the run; the returned error is
// reserved for failures before any item starts.
func (p *Pipeline) Run(ctx context.Context, formatter output.Formatter, w io.Writer) (*models.BatchReport, error) {
	report := &models.BatchReport{
		RunID:     uuid.NewString(),
		OutputDir: p.opts.OutputDir,
		Mode:      p.opts.Mode,
		Backend:   p.opts.Backend,
		StartTime: time.Now(),
	}
	p.formatter = formatter
	logger := p.logger.WithFields(logging.Fields{"run_id": report.RunID})

	sources, err := p.deps.Programs.Generate(ctx, p.opts.OutputDir, p.opts.Count)
	if err != nil {
		report.Finalize(ctx.Err() != nil)
		report.Status = models.StatusFailed
		p.notifyError(err)
		return report, fmt.Errorf("failed to generate programs: %w", err)
	}
	logger.Info(ctx, "starting batch run", logging.Fields{"programs": len(sources), "workers": p.opts.Workers})

	if formatter != nil {
		formatter.Start(w, len(sources), p.opts.Workers)
	}

	report.Items = make([]models.BatchItemResult, len(sources))
	var wg sync.WaitGroup

	for i, src := range sources {
		// Acquire semaphore slot
		select {
		case p.semaphore <- struct{}{}:
		case <-ctx.Done():
		}
		if ctx.Err() != nil {
			for j := i; j < len(sources); j++ {
				report.Items[j] = models.BatchItemResult{
					Source:      sources[j],
					Status:      models.ItemFailed,
					FailedStage: StageCancelled,
					Error:       ctx.Err().Error(),
				}
			}
			break
		}

		wg.Add(1)
		go func(index int, source string) {
			defer wg.Done()
			defer func() { <-p.semaphore }()

			p.progress(output.ProgressUpdate{Type: "item_start", Source: source, CurrentItem: index + 1, TotalItems: len(sources)})
			item := p.processItem(ctx, index+1, source)
			report.Items[index] = *item

			if item.Status == models.ItemFailed {
				logger.Error(ctx, "item failed", errors.New(item.Error), logging.Fields{"source": source, "stage": item.FailedStage})
				p.progress(output.ProgressUpdate{
					Type:        "item_error",
					Source:      source,
					Stage:       item.FailedStage,
					CurrentItem: index + 1,
					TotalItems:  len(sources),
					Error:       errors.New(item.Error),
				})
			} else {
				p.progress(output.ProgressUpdate{Type: "item_complete", Source: source, CurrentItem: index + 1, TotalItems: len(sources)})
			}

			if p.deps.Recorder != nil {
				if _, err := p.deps.Recorder.SaveBatchResult(ctx, report.RunID, item); err != nil {
					logger.Warn(ctx, "failed to record batch result", logging.Fields{"source": source, "error": err.Error()})
				}
			}
		}(i, src)
	}

	// Wait for all workers to complete
	wg.Wait()

	report.Finalize(ctx.Err() != nil)
	logger.Info(ctx, "batch run finished", logging.Fields{"status": string(report.Status), "duration": report.Duration.String()})

	if formatter != nil {
		p.mu.Lock()
		formatter.Complete(report)
		p.mu.Unlock()
	}
	return report, nil
}

// itemRun carries one item through the stages
type itemRun struct {
	p      *Pipeline
	index  int
	result *models.BatchItemResult
}

func (r *itemRun) stage(name string) {
	r.p.progress(output.ProgressUpdate{Type: "item_stage", Source: r.result.Source, Stage: name, CurrentItem: r.index})
}

func (r *itemRun) fail(stage string, err error) *models.BatchItemResult {
	r.result.Status = models.ItemFailed
	r.result.FailedStage = stage
	r.result.Error = err.Error()
	return r.result
}

func (p *Pipeline) processItem(ctx context.Context, index int, src string) *models.BatchItemResult {
	start := time.Now()
	stem := strings.TrimSuffix(src, filepath.Ext(src))
	r := &itemRun{p: p, index: index, result: &models.BatchItemResult{Source: src}}
	defer func() { r.result.Duration = time.Since(start) }()

	r.stage(StageCompileOriginal)
	if _, err := p.deps.Compiler.Compile(ctx, src, stem, false); err != nil {
		return r.fail(StageCompileOriginal, err)
	}
	r.result.Binary = stem

	r.stage(StageAnalyze)
	answer, err := p.deps.Analyzer.Analyze(ctx, stem)
	if err != nil {
		return r.fail(StageAnalyze, err)
	}

	code, err := toolchain.ExtractCCode(answer)
	if err != nil {
		return r.fail(StageExtract, err)
	}

	decompiled := stem + "_decompiled.c"
	if _, err := p.deps.Backend.Write(ctx, decompiled, strings.NewReader(code)); err != nil {
		return r.fail(StageSave, err)
	}
	r.result.DecompiledSource = decompiled

	if p.deps.Graphs != nil {
		r.stage(StageCPG)
		original := p.deps.Graphs.Generate(ctx, src)
		candidate := p.deps.Graphs.Generate(ctx, decompiled)
		r.result.CPGComparison = cpg.Compare(ctx, original, candidate, p.opts.CPG)
	}

	r.stage(StageCompileDecompiled)
	decompiledBin := stem + "_decompiled"
	if _, err := p.deps.Compiler.Compile(ctx, decompiled, decompiledBin, false); err != nil {
		return r.fail(StageCompileDecompiled, err)
	}
	r.result.DecompiledBinary = decompiledBin

	r.stage(StageCompare)
	cmp, err := p.deps.Comparer.Compare(ctx, stem, decompiledBin)
	if err != nil {
		return r.fail(StageCompare, err)
	}
	r.result.BinaryComparison = cmp

	originalCode, err := p.readSource(ctx, src)
	if err != nil {
		return r.fail(StageDiff, err)
	}
	diff := toolchain.DiffSources(originalCode, code)
	r.result.SourceDiff = &diff

	if err := p.writeAnalysis(ctx, stem+"_cpg_analysis.json", r.result); err != nil {
		return r.fail(StageWriteAnalysis, err)
	}

	r.result.Status = models.ItemSucceeded
	return r.result
}

func (p *Pipeline) readSource(ctx context.Context, path string) (string, error) {
	rc, err := p.deps.Backend.Read(ctx, path)
	if err != nil {
		return "", err
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", path, err)
	}
	return string(data), nil
}

// writeAnalysis saves the per-program comparison next to the source
func (p *Pipeline) writeAnalysis(ctx context.Context, path string, item *models.BatchItemResult) error {
	doc := struct {
		CPGComparison    *models.CPGComparison    `json:"cpg_comparison"`
		BinaryComparison *models.ComparisonReport `json:"binary_comparison"`
		SourceDiff       *models.SourceDiff       `json:"source_diff"`
	}{item.CPGComparison, item.BinaryComparison, item.SourceDiff}

	var buf bytes.Buffer
	if err := output.WriteJSON(&buf, doc); err != nil {
		return err
	}
	if _, err := p.deps.Backend.Write(ctx, path, &buf); err != nil {
		return err
	}
	return nil
}

func (p *Pipeline) progress(update output.ProgressUpdate) {
	if p.formatter == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.formatter.Progress(update)
}

func (p *Pipeline) notifyError(err error) {
	if p.formatter == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.formatter.Error(err)
}
