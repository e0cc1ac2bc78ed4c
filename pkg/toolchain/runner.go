// Package toolchain wraps the external programs binsight drives: the C
// compiler, strings(1), csmith and the diffing of generated sources.
package toolchain

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"time"
)

// RunResult captures one finished process
type RunResult struct {
	Stdout   []byte
	Stderr   []byte
	ExitCode int
	Duration time.Duration
}

// Runner starts external programs. A non-zero exit is reported through
// RunResult.ExitCode; the error is reserved for processes that could not
// be started or were cancelled.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) (*RunResult, error)
}

// ExecRunner runs programs with os/exec
type ExecRunner struct {
	// Dir is the working directory (empty = current)
	Dir string
	// Timeout bounds each run (0 = only ctx)
	Timeout time.Duration
}

// NewExecRunner creates a runner with the given per-run timeout
func NewExecRunner(timeout time.Duration) *ExecRunner {
	return &ExecRunner{Timeout: timeout}
}

// Run executes name with args and captures both output streams
func (r *ExecRunner) Run(ctx context.Context, name string, args ...string) (*RunResult, error) {
	runCtx := ctx
	if r.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, r.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(runCtx, name, args...)
	cmd.Dir = r.Dir

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	result := &RunResult{
		Stdout:   stdout.Bytes(),
		Stderr:   stderr.Bytes(),
		Duration: time.Since(start),
	}

	if err != nil {
		if runCtx.Err() != nil {
			return result, fmt.Errorf("%s: %w", name, runCtx.Err())
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
			return result, nil
		}
		return result, fmt.Errorf("failed to start %s: %w", name, err)
	}

	return result, nil
}
