package toolchain

import (
	"context"
	"strings"
	"sync"
)

// fakeRunner records invocations and replies from a canned table keyed by
// program name
type fakeRunner struct {
	mu      sync.Mutex
	calls   [][]string
	results map[string]*RunResult
	errs    map[string]error
	onRun   func(name string, args []string)
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{
		results: make(map[string]*RunResult),
		errs:    make(map[string]error),
	}
}

func (f *fakeRunner) Run(ctx context.Context, name string, args ...string) (*RunResult, error) {
	f.mu.Lock()
	f.calls = append(f.calls, append([]string{name}, args...))
	f.mu.Unlock()

	if f.onRun != nil {
		f.onRun(name, args)
	}
	if err, ok := f.errs[name]; ok {
		return nil, err
	}
	if res, ok := f.results[name]; ok {
		return res, nil
	}
	return &RunResult{}, nil
}

func (f *fakeRunner) lastCall() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.calls) == 0 {
		return ""
	}
	return strings.Join(f.calls[len(f.calls)-1], " ")
}
