package cmdexec

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"runtime"
	"sync"
	"time"
)

var (
	ErrUnsupportedOS = errors.New("unsupported OS")
	ErrNotFound      = errors.New("command not found")
	ErrTimeout       = errors.New("command timed out")
)

// waitDelay bounds how long Wait keeps the pipes open after the child is
// killed, in case a grandchild still holds them.
const waitDelay = 2 * time.Second

// Result is the outcome of a finished command.
type Result struct {
	Stdout   []byte
	Stderr   []byte
	ExitCode int
}

// Runner abstracts external command execution.
type Runner interface {
	Exists(name string) bool
	// Run executes the command to completion. A positive timeout bounds the
	// whole call; expiry returns ErrTimeout.
	Run(ctx context.Context, timeout time.Duration, name string, args ...string) (Result, error)
	// Stream starts a long-running command and exposes its stdout. The
	// process is killed when ctx is cancelled or Stop is called.
	Stream(ctx context.Context, name string, args ...string) (*Process, error)
}

type defaultRunner struct{}

// New returns the runner backed by os/exec.
func New() Runner {
	return defaultRunner{}
}

func (defaultRunner) Exists(name string) bool {
	_, err := exec.LookPath(name)
	return err == nil
}

func (defaultRunner) Run(ctx context.Context, timeout time.Duration, name string, args ...string) (Result, error) {
	if runtime.GOOS != "linux" {
		return Result{ExitCode: -1}, ErrUnsupportedOS
	}
	if _, err := exec.LookPath(name); err != nil {
		return Result{ExitCode: -1}, fmt.Errorf("%w: %s", ErrNotFound, name)
	}

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.WaitDelay = waitDelay

	err := cmd.Run()
	res := Result{Stdout: stdout.Bytes(), Stderr: stderr.Bytes(), ExitCode: -1}
	if cmd.ProcessState != nil {
		res.ExitCode = cmd.ProcessState.ExitCode()
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return res, fmt.Errorf("%w: %s after %s", ErrTimeout, name, timeout)
	}
	if err != nil {
		return res, fmt.Errorf("%s: %w", name, err)
	}

	return res, nil
}

func (defaultRunner) Stream(ctx context.Context, name string, args ...string) (*Process, error) {
	if _, err := exec.LookPath(name); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}

	ctx, cancel := context.WithCancel(ctx)
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.WaitDelay = waitDelay

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	if err := cmd.Start(); err != nil {
		cancel()
		return nil, fmt.Errorf("%s: %w", name, err)
	}

	return NewProcess(stdout, cmd.Process.Pid, cancel, cmd.Wait), nil
}

// Process is a running child started by Stream.
type Process struct {
	Stdout io.Reader

	pid    int
	cancel context.CancelFunc
	wait   func() error

	once sync.Once
	err  error
	done chan struct{}
}

// NewProcess wraps a started child. Runner fakes use it to hand out
// processes backed by pipes.
func NewProcess(stdout io.Reader, pid int, cancel context.CancelFunc, wait func() error) *Process {
	return &Process{
		Stdout: stdout,
		pid:    pid,
		cancel: cancel,
		wait:   wait,
		done:   make(chan struct{}),
	}
}

func (p *Process) Pid() int {
	return p.pid
}

// Wait blocks until the child exits. It is safe to call from several
// goroutines; the exit error is computed once.
func (p *Process) Wait() error {
	p.once.Do(func() {
		p.err = p.wait()
		p.cancel()
		close(p.done)
	})
	return p.err
}

// Done is closed once the child has been reaped.
func (p *Process) Done() <-chan struct{} {
	return p.done
}

// Stop kills the child and returns after it has been reaped.
func (p *Process) Stop() {
	p.cancel()
	_ = p.Wait()
}
