package r2

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/sdejongh/binsight/pkg/logging"
	"github.com/sdejongh/binsight/pkg/models"
)

// ErrSessionClosed is returned by operations on a closed session
var ErrSessionClosed = errors.New("r2 session closed")

// MaxReadSize bounds ReadMemory
const MaxReadSize = 64 * 1024

// analysisCommands maps modes to r2 auto-analysis levels
var analysisCommands = map[models.AnalysisMode]string{
	models.ModeQuick:    "aaa",
	models.ModeStandard: "aaaa",
	models.ModeDeep:     "aaaaa",
}

// alwaysUsed are kept by the used-only filter regardless of references
var alwaysUsed = map[string]bool{
	"entry0":   true,
	"main":     true,
	"sym.main": true,
}

// Options configures Open
type Options struct {
	// R2Path is the radare2 binary (default "r2")
	R2Path string
	Logger logging.Logger
}

// Session is an owned handle on one loaded binary. It is safe for
// sequential use by one conversation; the mutex only guards Close racing
// with an in-flight command.
type Session struct {
	mu     sync.Mutex
	pipe   Pipe
	path   string
	closed bool
	logger logging.Logger
}

// Open starts r2 on path
func Open(ctx context.Context, path string, opts Options) (*Session, error) {
	pipe, err := StartPipe(ctx, opts.R2Path, path)
	if err != nil {
		return nil, err
	}
	s := NewSession(pipe, path)
	if opts.Logger != nil {
		s.logger = opts.Logger
	}
	s.logger.Info(ctx, "opened binary", logging.Fields{"path": path})
	return s, nil
}

// NewSession wraps an existing pipe
func NewSession(pipe Pipe, path string) *Session {
	return &Session{pipe: pipe, path: path, logger: logging.NewNullLogger()}
}

// Path returns the loaded binary
func (s *Session) Path() string {
	return s.path
}

func (s *Session) cmd(ctx context.Context, command string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return "", ErrSessionClosed
	}
	out, err := s.pipe.Cmd(ctx, command)
	if err != nil {
		return "", fmt.Errorf("r2 %q: %w", command, err)
	}
	return out, nil
}

// Analyze runs the auto-analysis level for mode
func (s *Session) Analyze(ctx context.Context, mode models.AnalysisMode) error {
	command, ok := analysisCommands[mode]
	if !ok {
		return fmt.Errorf("unknown analysis mode %q", mode)
	}
	if _, err := s.cmd(ctx, command); err != nil {
		return err
	}
	s.logger.Info(ctx, "analysis complete", logging.Fields{"path": s.path, "mode": string(mode)})
	return nil
}

// Filter narrows ListFunctions
type Filter struct {
	// UsedOnly drops functions nothing references
	UsedOnly bool
	// NamePrefix keeps names starting with the prefix (e.g. "sym.")
	NamePrefix string
	// MinSize drops functions smaller than this many bytes
	MinSize int64
}

// ListFunctions returns the analysed functions
func (s *Session) ListFunctions(ctx context.Context, filter Filter) ([]Function, error) {
	out, err := s.cmd(ctx, "aflj")
	if err != nil {
		return nil, err
	}
	fns, ok := decodeList[Function](out)
	if !ok {
		s.logger.Debug(ctx, "aflj returned no JSON", logging.Fields{"output": truncate(out, 120)})
	}
	return filterFunctions(fns, filter), nil
}

// filterFunctions applies filter. A function counts as used when another
// function calls it, when code outside its own body references it, or
// when data references it. Self-calls do not count. Without codexrefs
// (older r2 output) indegree is used instead.
func filterFunctions(fns []Function, filter Filter) []Function {
	calledByOther := make(map[uint64]bool)
	for _, fn := range fns {
		for _, ref := range fn.CallRefs {
			if !fn.contains(ref.Addr) {
				calledByOther[ref.Addr] = true
			}
		}
	}

	kept := make([]Function, 0, len(fns))
	for _, fn := range fns {
		if filter.NamePrefix != "" && !strings.HasPrefix(fn.Name, filter.NamePrefix) {
			continue
		}
		if fn.Size < filter.MinSize {
			continue
		}
		if filter.UsedOnly && !isUsed(fn, calledByOther) {
			continue
		}
		kept = append(kept, fn)
	}
	return kept
}

func isUsed(fn Function, calledByOther map[uint64]bool) bool {
	if alwaysUsed[fn.Name] || calledByOther[fn.Address()] {
		return true
	}
	if len(fn.DataXrefs) > 0 {
		return true
	}
	if fn.CodeXrefs == nil {
		return fn.Indegree > 0
	}
	for _, ref := range fn.CodeXrefs {
		if !fn.contains(ref.Addr) {
			return true
		}
	}
	return false
}

// Decompile returns the pseudo-C of fn (`pdc @ fn`)
func (s *Session) Decompile(ctx context.Context, fn string) (string, error) {
	if err := validateArg("function", fn); err != nil {
		return "", err
	}
	return s.cmd(ctx, "pdc @ "+fn)
}

// SearchStrings returns the strings of the data sections
func (s *Session) SearchStrings(ctx context.Context) ([]StringEntry, error) {
	return list[StringEntry](ctx, s, "izj")
}

// Imports returns imported symbols
func (s *Session) Imports(ctx context.Context) ([]Import, error) {
	return list[Import](ctx, s, "iij")
}

// Exports returns exported symbols
func (s *Session) Exports(ctx context.Context) ([]Export, error) {
	return list[Export](ctx, s, "iEj")
}

func list[T any](ctx context.Context, s *Session, command string) ([]T, error) {
	out, err := s.cmd(ctx, command)
	if err != nil {
		return nil, err
	}
	items, ok := decodeList[T](out)
	if !ok {
		s.logger.Debug(ctx, "command returned no JSON", logging.Fields{"command": command})
	}
	return items, nil
}

// ReadMemory returns a hexdump of size bytes at addr (`px size @ addr`)
func (s *Session) ReadMemory(ctx context.Context, addr string, size int) (string, error) {
	if err := validateArg("address", addr); err != nil {
		return "", err
	}
	if size < 1 || size > MaxReadSize {
		return "", fmt.Errorf("size must be between 1 and %d, got %d", MaxReadSize, size)
	}
	return s.cmd(ctx, fmt.Sprintf("px %d @ %s", size, addr))
}

// Close ends the session; further calls return nil
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.pipe.Close()
}

// validateArg rejects characters r2 interprets as command separators,
// pipes, output redirects, shell escapes or line breaks
func validateArg(name, value string) error {
	value = strings.TrimSpace(value)
	if value == "" {
		return fmt.Errorf("%s is required", name)
	}
	if i := strings.IndexAny(value, ";|>!`\n\r\x00"); i >= 0 {
		return fmt.Errorf("%s contains forbidden character %q", name, value[i])
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
