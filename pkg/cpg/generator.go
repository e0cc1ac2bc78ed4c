package cpg

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/sdejongh/binsight/pkg/logging"
	"github.com/sdejongh/binsight/pkg/storage"
	"github.com/sdejongh/binsight/pkg/toolchain"
	"golang.org/x/sync/errgroup"
)

// Generator turns C sources into graphs through joern-parse and
// joern-export
type Generator struct {
	runner     toolchain.Runner
	backend    storage.Backend
	parsePath  string
	exportPath string
	tempDir    string
	logger     logging.Logger
}

// NewGenerator creates a generator. Empty tool paths default to
// "joern-parse" and "joern-export".
func NewGenerator(runner toolchain.Runner, backend storage.Backend, parsePath, exportPath string, logger logging.Logger) *Generator {
	if parsePath == "" {
		parsePath = "joern-parse"
	}
	if exportPath == "" {
		exportPath = "joern-export"
	}
	if logger == nil {
		logger = logging.NewNullLogger()
	}
	return &Generator{
		runner:     runner,
		backend:    backend,
		parsePath:  parsePath,
		exportPath: exportPath,
		logger:     logger,
	}
}

// SetTempDir sets where export directories are created (default os.TempDir)
func (g *Generator) SetTempDir(dir string) {
	g.tempDir = dir
}

// Generate returns the CPG of cFile. Any failure is logged and yields an
// empty graph so a comparison can still run.
func (g *Generator) Generate(ctx context.Context, cFile string) *Graph {
	graph, err := g.generate(ctx, cFile)
	if err != nil {
		g.logger.Error(ctx, "CPG generation failed", err, logging.Fields{"source": cFile})
		return NewGraph()
	}
	g.logger.Info(ctx, "generated CPG", logging.Fields{
		"source": cFile,
		"nodes":  graph.NodeCount(),
		"edges":  graph.EdgeCount(),
	})
	return graph
}

// GeneratePair returns the CPGs of two sources, built concurrently unless
// both would share the same intermediate .cpg.bin
func (g *Generator) GeneratePair(ctx context.Context, a, b string) (*Graph, *Graph) {
	if cpgBinPath(a) == cpgBinPath(b) {
		return g.Generate(ctx, a), g.Generate(ctx, b)
	}

	var ga, gb *Graph
	eg, egCtx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		ga = g.Generate(egCtx, a)
		return nil
	})
	eg.Go(func() error {
		gb = g.Generate(egCtx, b)
		return nil
	})
	_ = eg.Wait()
	return ga, gb
}

func cpgBinPath(cFile string) string {
	return strings.TrimSuffix(cFile, filepath.Ext(cFile)) + ".cpg.bin"
}

func (g *Generator) generate(ctx context.Context, cFile string) (*Graph, error) {
	cpgBin := cpgBinPath(cFile)
	defer func() {
		if err := g.backend.Delete(ctx, cpgBin); err != nil {
			g.logger.Debug(ctx, "failed to remove CPG binary", logging.Fields{"path": cpgBin, "error": err.Error()})
		}
	}()

	if err := g.run(ctx, g.parsePath, "--output", cpgBin, "--language", "c", cFile); err != nil {
		return nil, err
	}

	exportDir, err := os.MkdirTemp(g.tempDir, "binsight-cpg-")
	if err != nil {
		return nil, fmt.Errorf("failed to create export directory: %w", err)
	}
	defer g.backend.Delete(ctx, exportDir)

	// joern-export refuses an existing output directory
	outDir := filepath.Join(exportDir, "out")
	if err := g.run(ctx, g.exportPath, "--repr", "all", "--format", "dot", cpgBin, "-o", outDir); err != nil {
		return nil, err
	}
	return g.readExport(ctx, outDir)
}

func (g *Generator) run(ctx context.Context, name string, args ...string) error {
	res, err := g.runner.Run(ctx, name, args...)
	if err != nil {
		return err
	}
	if res.ExitCode != 0 {
		return fmt.Errorf("%s exited with status %d: %s", name, res.ExitCode, strings.TrimSpace(string(res.Stderr)))
	}
	return nil
}

// readExport parses export.dot, or every *.dot when joern wrote one file
// per method
func (g *Generator) readExport(ctx context.Context, dir string) (*Graph, error) {
	files := []string{filepath.Join(dir, "export.dot")}
	if ok, _ := g.backend.Exists(ctx, files[0]); !ok {
		infos, err := g.backend.List(ctx, dir, "*.dot")
		if err != nil {
			return nil, err
		}
		if len(infos) == 0 {
			return nil, fmt.Errorf("no DOT files in %s", dir)
		}
		files = files[:0]
		for _, info := range infos {
			files = append(files, info.Path)
		}
	}

	graph := NewGraph()
	for _, path := range files {
		part, err := g.parseFile(ctx, path)
		if err != nil {
			return nil, err
		}
		graph.Merge(part)
	}
	return graph, nil
}

func (g *Generator) parseFile(ctx context.Context, path string) (*Graph, error) {
	rc, err := g.backend.Read(ctx, path)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	graph, err := ParseDOT(rc)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	return graph, nil
}
