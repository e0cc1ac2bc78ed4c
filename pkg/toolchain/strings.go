package toolchain

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os/exec"
	"strings"

	"github.com/sdejongh/binsight/pkg/logging"
	"github.com/sdejongh/binsight/pkg/models"
	"github.com/sdejongh/binsight/pkg/storage"
)

// DefaultMinStringLength matches the strings(1) default
const DefaultMinStringLength = 4

// StringExtractor pulls printable string tokens out of an artifact
type StringExtractor interface {
	Extract(ctx context.Context, path string) ([]string, error)
	Name() string
}

// ExtractSet runs extractor and converts any failure into an empty set.
// A missing extractor also yields an empty set. Failures are logged at
// debug level only.
func ExtractSet(ctx context.Context, extractor StringExtractor, path string, logger logging.Logger) models.StringSet {
	if extractor == nil {
		return models.StringSet{}
	}
	tokens, err := extractor.Extract(ctx, path)
	if err != nil {
		if logger != nil {
			logger.Debug(ctx, "string extraction failed, using empty set", logging.Fields{
				"path":      path,
				"extractor": extractor.Name(),
				"error":     err.Error(),
			})
		}
		return models.StringSet{}
	}
	return models.NewStringSet(tokens)
}

// NewStringExtractor picks the extractor for kind. The external utility is
// used when it can be found on PATH, otherwise the builtin scanner serves
// and the substitution is logged at debug level.
func NewStringExtractor(kind models.StringExtractorKind, runner Runner, backend storage.Backend, stringsPath string, logger logging.Logger) StringExtractor {
	if kind == models.ExtractorBuiltin {
		return NewBuiltinStrings(backend, DefaultMinStringLength)
	}
	if stringsPath == "" {
		stringsPath = "strings"
	}
	if _, err := exec.LookPath(stringsPath); err != nil {
		if logger != nil {
			logger.Debug(context.Background(), "strings utility not found, using builtin extractor", logging.Fields{
				"strings": stringsPath,
				"error":   err.Error(),
			})
		}
		return NewBuiltinStrings(backend, DefaultMinStringLength)
	}
	return NewExternalStrings(runner, stringsPath)
}

// ExternalStrings runs the strings utility, one token per output line
type ExternalStrings struct {
	runner Runner
	path   string
}

// NewExternalStrings creates an extractor for the strings binary at path
func NewExternalStrings(runner Runner, path string) *ExternalStrings {
	if path == "" {
		path = "strings"
	}
	return &ExternalStrings{runner: runner, path: path}
}

// Name returns the extractor name
func (e *ExternalStrings) Name() string {
	return "external"
}

// Extract runs strings on path
func (e *ExternalStrings) Extract(ctx context.Context, path string) ([]string, error) {
	res, err := e.runner.Run(ctx, e.path, path)
	if err != nil {
		return nil, err
	}
	if res.ExitCode != 0 {
		return nil, fmt.Errorf("%s exited with status %d: %s", e.path, res.ExitCode, strings.TrimSpace(string(res.Stderr)))
	}
	return splitLines(res.Stdout)
}

// maxStringLine bounds a single line of strings output
const maxStringLine = 1024 * 1024

func splitLines(out []byte) ([]string, error) {
	var lines []string
	scanner := bufio.NewScanner(bytes.NewReader(out))
	scanner.Buffer(make([]byte, 64*1024), maxStringLine)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read strings output: %w", err)
	}
	return lines, nil
}

// BuiltinStrings scans for runs of printable ASCII in-process
type BuiltinStrings struct {
	backend storage.Backend
	minLen  int
}

// NewBuiltinStrings creates an in-process extractor
func NewBuiltinStrings(backend storage.Backend, minLen int) *BuiltinStrings {
	if minLen <= 0 {
		minLen = DefaultMinStringLength
	}
	return &BuiltinStrings{backend: backend, minLen: minLen}
}

// Name returns the extractor name
func (b *BuiltinStrings) Name() string {
	return "builtin"
}

// Extract streams the file and collects printable runs of at least minLen
func (b *BuiltinStrings) Extract(ctx context.Context, path string) ([]string, error) {
	reader, err := b.backend.Read(ctx, path)
	if err != nil {
		return nil, err
	}
	defer reader.Close()
	return scanPrintable(ctx, bufio.NewReader(reader), b.minLen)
}

func scanPrintable(ctx context.Context, r io.ByteReader, minLen int) ([]string, error) {
	var tokens []string
	var run []byte
	flush := func() {
		if len(run) >= minLen {
			tokens = append(tokens, string(run))
		}
		run = run[:0]
	}

	for i := 0; ; i++ {
		if i%65536 == 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			default:
			}
		}
		c, err := r.ReadByte()
		if err == io.EOF {
			flush()
			return tokens, nil
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read file: %w", err)
		}
		if isPrintable(c) {
			run = append(run, c)
		} else {
			flush()
		}
	}
}

// isPrintable follows strings(1): graphic ASCII plus space and tab
func isPrintable(c byte) bool {
	return c == '\t' || (c >= 0x20 && c <= 0x7e)
}
