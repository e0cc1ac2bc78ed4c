// Package r2 drives radare2 over its pipe protocol and exposes the
// analysis primitives the agent uses.
package r2

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"
	"time"
)

// Pipe sends one command and returns its complete output
type Pipe interface {
	Cmd(ctx context.Context, command string) (string, error)
	Close() error
}

// ErrPipeBroken is returned after a command was interrupted mid-read;
// the process is killed because its output stream is out of sync
var ErrPipeBroken = errors.New("r2 pipe broken")

// closeTimeout bounds how long Close waits for r2 to exit after q!
const closeTimeout = 5 * time.Second

// ProcessPipe runs `r2 -q0 <file>`. Every command output is terminated by
// a NUL byte, and one NUL is emitted once the file is loaded.
type ProcessPipe struct {
	mu     sync.Mutex
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout *bufio.Reader
	broken bool
	closed bool
	done   chan struct{}
}

// StartPipe launches r2 on path and waits for the initial prompt
func StartPipe(ctx context.Context, r2Path, path string) (*ProcessPipe, error) {
	if r2Path == "" {
		r2Path = "r2"
	}
	cmd := exec.Command(r2Path, "-q0", path)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("r2 stdin: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("r2 stdout: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start %s: %w", r2Path, err)
	}

	p := &ProcessPipe{
		cmd:    cmd,
		stdin:  stdin,
		stdout: bufio.NewReaderSize(stdout, 64*1024),
		done:   make(chan struct{}),
	}
	go func() {
		_ = cmd.Wait()
		close(p.done)
	}()

	if _, err := p.readFrame(ctx); err != nil {
		p.kill()
		return nil, fmt.Errorf("r2 did not load %s: %w", path, err)
	}
	return p, nil
}

// Cmd writes command and reads up to the NUL terminator
func (p *ProcessPipe) Cmd(ctx context.Context, command string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return "", ErrSessionClosed
	}
	if p.broken {
		return "", ErrPipeBroken
	}
	if _, err := io.WriteString(p.stdin, command+"\n"); err != nil {
		p.broken = true
		return "", fmt.Errorf("r2 write: %w", err)
	}
	return p.readFrame(ctx)
}

// readFrame reads one NUL-terminated frame. A cancelled ctx kills r2 since
// a half-read frame cannot be resynchronized.
func (p *ProcessPipe) readFrame(ctx context.Context) (string, error) {
	type frame struct {
		data []byte
		err  error
	}
	ch := make(chan frame, 1)
	go func() {
		data, err := p.stdout.ReadBytes(0)
		ch <- frame{data, err}
	}()

	select {
	case f := <-ch:
		if f.err != nil {
			p.broken = true
			return "", fmt.Errorf("r2 read: %w", f.err)
		}
		return strings.TrimRight(string(f.data[:len(f.data)-1]), "\n"), nil
	case <-ctx.Done():
		p.broken = true
		p.kill()
		return "", ctx.Err()
	}
}

// Close asks r2 to quit and waits; a second Close is a no-op
func (p *ProcessPipe) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}
	p.closed = true

	if !p.broken {
		_, _ = io.WriteString(p.stdin, "q!\n")
	}
	_ = p.stdin.Close()

	select {
	case <-p.done:
		return nil
	case <-time.After(closeTimeout):
		p.kill()
		return fmt.Errorf("r2 did not exit within %v", closeTimeout)
	}
}

func (p *ProcessPipe) kill() {
	if p.cmd.Process != nil {
		_ = p.cmd.Process.Kill()
	}
}
