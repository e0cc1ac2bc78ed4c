package toolchain

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/sdejongh/binsight/pkg/logging"
	"github.com/sdejongh/binsight/pkg/storage"
)

// DefaultCsmithInclude is where distributions install csmith.h
const DefaultCsmithInclude = "/usr/include/csmith"

// Generator produces random C programs with csmith
type Generator struct {
	runner  Runner
	backend storage.Backend
	path    string
	logger  logging.Logger
}

// NewGenerator creates a csmith generator
func NewGenerator(runner Runner, backend storage.Backend, path string, logger logging.Logger) *Generator {
	if path == "" {
		path = "csmith"
	}
	if logger == nil {
		logger = logging.NewNullLogger()
	}
	return &Generator{runner: runner, backend: backend, path: path, logger: logger}
}

// Generate writes n programs named test_<i>.c into dir and returns their paths
func (g *Generator) Generate(ctx context.Context, dir string, n int) ([]string, error) {
	if n < 1 {
		return nil, fmt.Errorf("number of programs must be at least 1, got %d", n)
	}
	if err := g.backend.MkdirAll(ctx, dir); err != nil {
		return nil, err
	}

	files := make([]string, 0, n)
	for i := 0; i < n; i++ {
		out := filepath.Join(dir, fmt.Sprintf("test_%d.c", i))
		res, err := g.runner.Run(ctx, g.path, "--output", out)
		if err != nil {
			return files, fmt.Errorf("csmith: %w", err)
		}
		if res.ExitCode != 0 {
			return files, fmt.Errorf("csmith exited with status %d: %s", res.ExitCode, firstLines(string(res.Stderr), 5))
		}
		g.logger.Info(ctx, "generated C program", logging.Fields{"path": out})
		files = append(files, out)
	}
	return files, nil
}
