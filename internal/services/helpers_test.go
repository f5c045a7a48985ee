package services

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"pideck/internal/cmdexec"
)

type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func newManualClock() *manualClock {
	return &manualClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type runCall struct {
	name string
	args []string
}

// fakeRunner answers Run from a table keyed by command name and Stream from
// a callback.
type fakeRunner struct {
	mu      sync.Mutex
	results map[string]cmdexec.Result
	errs    map[string]error
	stream  func(ctx context.Context, name string, args ...string) (*cmdexec.Process, error)
	calls   []runCall
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{results: map[string]cmdexec.Result{}, errs: map[string]error{}}
}

func (f *fakeRunner) Exists(name string) bool {
	_, ok := f.results[name]
	return ok
}

func (f *fakeRunner) Run(_ context.Context, _ time.Duration, name string, args ...string) (cmdexec.Result, error) {
	f.mu.Lock()
	f.calls = append(f.calls, runCall{name: name, args: args})
	f.mu.Unlock()

	if err, ok := f.errs[name]; ok {
		return cmdexec.Result{}, err
	}
	if res, ok := f.results[name]; ok {
		return res, nil
	}
	return cmdexec.Result{}, fmt.Errorf("%w: %s", cmdexec.ErrNotFound, name)
}

func (f *fakeRunner) Stream(ctx context.Context, name string, args ...string) (*cmdexec.Process, error) {
	f.mu.Lock()
	f.calls = append(f.calls, runCall{name: name, args: args})
	f.mu.Unlock()

	if f.stream == nil {
		return nil, fmt.Errorf("%w: %s", cmdexec.ErrNotFound, name)
	}
	return f.stream(ctx, name, args...)
}

func (f *fakeRunner) lastCall() runCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.calls) == 0 {
		return runCall{}
	}
	return f.calls[len(f.calls)-1]
}

// finishedProcess emits out and exits with err.
func finishedProcess(out string, err error) *cmdexec.Process {
	return cmdexec.NewProcess(strings.NewReader(out), 1, func() {}, func() error { return err })
}

// pipeProcess is a child that runs until its context ends, at which point
// its stdout is closed.
type pipeProcess struct {
	proc   *cmdexec.Process
	writer *io.PipeWriter
	killed chan struct{}
}

func newPipeProcess(ctx context.Context) *pipeProcess {
	pr, pw := io.Pipe()
	ctx, cancel := context.WithCancel(ctx)
	killed := make(chan struct{})

	go func() {
		<-ctx.Done()
		pw.Close()
		close(killed)
	}()
	wait := func() error {
		<-killed
		return ctx.Err()
	}
	return &pipeProcess{
		proc:   cmdexec.NewProcess(pr, 4242, cancel, wait),
		writer: pw,
		killed: killed,
	}
}
