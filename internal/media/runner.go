package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"
	"time"
)

const (
	stderrTail = 64 << 10
	waitDelay  = 10 * time.Second
)

// Exit is the outcome of a finished tool process.
type Exit struct {
	Code   int
	Stderr string
	Err    error
}

// Success reports a clean zero exit.
func (e Exit) Success() bool { return e.Err == nil && e.Code == 0 }

// Detail is the diagnostic text for a failed run.
func (e Exit) Detail() string {
	msg := strings.TrimSpace(e.Stderr)
	if msg != "" {
		return msg
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return fmt.Sprintf("exit status %d", e.Code)
}

// ToolError is a non-zero exit of the external tool.
type ToolError struct {
	Code   int
	Detail string
}

func (e *ToolError) Error() string {
	return fmt.Sprintf("ffmpeg exited with code %d: %s", e.Code, e.Detail)
}

// AsError returns nil for a successful exit.
func (e Exit) AsError() error {
	if e.Success() {
		return nil
	}
	return &ToolError{Code: e.Code, Detail: e.Detail()}
}

type Process interface {
	Stdout() io.Reader
	Kill()
	// Wait reaps the process. It must only be called after Stdout is drained
	// or the process has been killed.
	Wait() Exit
}

type Runner interface {
	Start(ctx context.Context, args []string) (Process, error)
}

type ExecRunner struct {
	Path string
}

func NewExecRunner(path string) *ExecRunner {
	if path == "" {
		path = "ffmpeg"
	}
	return &ExecRunner{Path: path}
}

func (r *ExecRunner) Start(ctx context.Context, args []string) (Process, error) {
	cmd := exec.CommandContext(ctx, r.Path, args...)
	// Orphaned children holding stderr open must not block Wait forever.
	cmd.WaitDelay = waitDelay

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	stderr := &tailBuffer{max: stderrTail}
	cmd.Stderr = stderr

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%s start: %w", r.Path, err)
	}

	return &execProcess{cmd: cmd, stdout: stdout, stderr: stderr}, nil
}

type execProcess struct {
	cmd    *exec.Cmd
	stdout io.Reader
	stderr *tailBuffer

	once sync.Once
	exit Exit
}

func (p *execProcess) Stdout() io.Reader { return p.stdout }

func (p *execProcess) Kill() {
	if p.cmd.Process != nil {
		_ = p.cmd.Process.Kill()
	}
}

func (p *execProcess) Wait() Exit {
	p.once.Do(func() {
		err := p.cmd.Wait()
		p.exit = Exit{Stderr: p.stderr.String()}
		if p.cmd.ProcessState != nil {
			p.exit.Code = p.cmd.ProcessState.ExitCode()
		}

		var exitErr *exec.ExitError
		if err != nil && !errors.As(err, &exitErr) {
			p.exit.Err = err
		}
		// Killed by a signal: ExitCode reports -1.
		if p.exit.Code < 0 && p.exit.Err == nil {
			p.exit.Err = err
		}
	})
	return p.exit
}

// tailBuffer keeps the last max bytes written to it.
type tailBuffer struct {
	mu  sync.Mutex
	max int
	buf []byte
}

func (b *tailBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buf = append(b.buf, p...)
	if over := len(b.buf) - b.max; over > 0 {
		b.buf = b.buf[over:]
	}
	return len(p), nil
}

func (b *tailBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return string(b.buf)
}
