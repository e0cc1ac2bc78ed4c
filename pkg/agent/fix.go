package agent

import (
	"context"
	"errors"
	"fmt"

	"github.com/sdejongh/binsight/pkg/logging"
	"github.com/sdejongh/binsight/pkg/toolchain"
)

// MaxFixAttempts bounds how often a failed compilation is sent back
const MaxFixAttempts = 2

// ErrGaveUp is returned when the code still fails after MaxFixAttempts
var ErrGaveUp = fmt.Errorf("giving up after %d fix attempts", MaxFixAttempts)

// Conversation is the part of Agent the fix loop needs
type Conversation interface {
	Run(ctx context.Context, input string) (*Result, error)
}

// CompileFunc compiles extracted C code
type CompileFunc func(ctx context.Context, code string) (*toolchain.CompileResult, error)

// FixResult is the outcome of a successful fix loop
type FixResult struct {
	Code     string
	Compile  *toolchain.CompileResult
	Answer   string
	Attempts int
}

// FixLoop extracts C code from an answer and compiles it. On a compile
// failure the compiler output goes back to the model for a corrected
// answer, at most MaxFixAttempts times.
type FixLoop struct {
	conv    Conversation
	compile CompileFunc
	logger  logging.Logger
}

// NewFixLoop creates a fix loop
func NewFixLoop(conv Conversation, compile CompileFunc, logger logging.Logger) *FixLoop {
	if logger == nil {
		logger = logging.NewNullLogger()
	}
	return &FixLoop{conv: conv, compile: compile, logger: logger}
}

// Run starts from answer. Compiler start failures are returned as is;
// only compile errors and missing code blocks trigger a retry.
func (f *FixLoop) Run(ctx context.Context, answer string) (*FixResult, error) {
	var lastErr error

	for attempt := 0; attempt <= MaxFixAttempts; attempt++ {
		if attempt > 0 {
			prompt := NoCodePrompt
			var cerr *toolchain.CompileError
			if errors.As(lastErr, &cerr) {
				prompt = FixPrompt(cerr.Stderr)
			}
			f.logger.Info(ctx, "asking model to fix code", logging.Fields{"attempt": attempt})

			res, err := f.conv.Run(ctx, prompt)
			if err != nil {
				return nil, fmt.Errorf("fix attempt %d: %w", attempt, err)
			}
			answer = res.Response
		}

		code, err := toolchain.ExtractCCode(answer)
		if err != nil {
			lastErr = err
			continue
		}

		compiled, err := f.compile(ctx, code)
		if err == nil {
			return &FixResult{Code: code, Compile: compiled, Answer: answer, Attempts: attempt}, nil
		}
		var cerr *toolchain.CompileError
		if !errors.As(err, &cerr) {
			return nil, err
		}
		lastErr = err
	}

	return nil, fmt.Errorf("%w: %v", ErrGaveUp, lastErr)
}
