package toolchain

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/sdejongh/binsight/pkg/logging"
	"github.com/sdejongh/binsight/pkg/storage"
)

// ErrNoCode is returned when a model answer carries no C code block
var ErrNoCode = errors.New("no C code block found")

// CompileError is a compiler run that exited non-zero
type CompileError struct {
	Source   string
	ExitCode int
	Stderr   string
}

func (e *CompileError) Error() string {
	return fmt.Sprintf("compile %s: exit status %d: %s", e.Source, e.ExitCode, firstLines(e.Stderr, 5))
}

// CompileResult describes a successful compilation
type CompileResult struct {
	Source   string
	Binary   string
	Warnings string
}

// Compiler invokes the C compiler
type Compiler struct {
	runner      Runner
	path        string
	extraFlags  []string
	includeDirs []string
	logger      logging.Logger
}

// CompilerOption customizes a Compiler
type CompilerOption func(*Compiler)

// WithIncludeDirs adds -I directories (csmith headers for generated programs)
func WithIncludeDirs(dirs ...string) CompilerOption {
	return func(c *Compiler) {
		c.includeDirs = append(c.includeDirs, dirs...)
	}
}

// WithExtraFlags appends flags before the output argument
func WithExtraFlags(flags ...string) CompilerOption {
	return func(c *Compiler) {
		c.extraFlags = append(c.extraFlags, flags...)
	}
}

// NewCompiler creates a compiler invoker for the binary at path
func NewCompiler(runner Runner, path string, logger logging.Logger, opts ...CompilerOption) *Compiler {
	if path == "" {
		path = "gcc"
	}
	if logger == nil {
		logger = logging.NewNullLogger()
	}
	c := &Compiler{runner: runner, path: path, logger: logger}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Args returns the compiler argument list for src
func (c *Compiler) Args(src, out string, optimize bool) []string {
	opt := "-O0"
	if optimize {
		opt = "-O2"
	}
	args := []string{opt}
	for _, dir := range c.includeDirs {
		args = append(args, "-I"+dir)
	}
	args = append(args, c.extraFlags...)
	return append(args, "-o", out, src)
}

// Compile builds src into out. A non-zero compiler exit is a *CompileError
// carrying the captured stderr.
func (c *Compiler) Compile(ctx context.Context, src, out string, optimize bool) (*CompileResult, error) {
	args := c.Args(src, out, optimize)
	c.logger.Debug(ctx, "compiling", logging.Fields{"compiler": c.path, "args": strings.Join(args, " ")})

	res, err := c.runner.Run(ctx, c.path, args...)
	if err != nil {
		return nil, fmt.Errorf("compiler %s: %w", c.path, err)
	}
	if res.ExitCode != 0 {
		cerr := &CompileError{Source: src, ExitCode: res.ExitCode, Stderr: string(res.Stderr)}
		c.logger.Error(ctx, "compilation failed", cerr, logging.Fields{"source": src})
		return nil, cerr
	}

	c.logger.Info(ctx, "compiled binary", logging.Fields{"source": src, "binary": out})
	return &CompileResult{Source: src, Binary: out, Warnings: string(res.Stderr)}, nil
}

// CompileSource writes code to outBase+".c" and compiles it to outBase
func (c *Compiler) CompileSource(ctx context.Context, backend storage.Backend, code, outBase string, optimize bool) (*CompileResult, error) {
	outBase = strings.TrimSuffix(outBase, filepath.Ext(outBase))
	src := outBase + ".c"

	if _, err := backend.Write(ctx, src, strings.NewReader(code)); err != nil {
		return nil, fmt.Errorf("failed to write source: %w", err)
	}

	return c.Compile(ctx, src, outBase, optimize)
}

func firstLines(s string, n int) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	if len(lines) > n {
		lines = append(lines[:n], fmt.Sprintf("... (%d more lines)", len(lines)-n))
	}
	return strings.Join(lines, "\n")
}
