package cmdexec_test

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"pideck/internal/cmdexec"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunCapturesOutput(t *testing.T) {
	r := cmdexec.New()
	if !r.Exists("sh") {
		t.Skip("sh not available")
	}

	res, err := r.Run(context.Background(), time.Second, "sh", "-c", "echo out; echo err 1>&2; exit 0")
	if errors.Is(err, cmdexec.ErrUnsupportedOS) {
		t.Skip("exec is linux only")
	}
	require.NoError(t, err)
	assert.Equal(t, "out\n", string(res.Stdout))
	assert.Equal(t, "err\n", string(res.Stderr))
	assert.Equal(t, 0, res.ExitCode)
}

func TestRunTimeout(t *testing.T) {
	r := cmdexec.New()
	if !r.Exists("sleep") {
		t.Skip("sleep not available")
	}

	start := time.Now()
	_, err := r.Run(context.Background(), 50*time.Millisecond, "sleep", "5")
	require.Error(t, err)
	if errors.Is(err, cmdexec.ErrUnsupportedOS) {
		t.Skip("exec is linux only")
	}
	assert.ErrorIs(t, err, cmdexec.ErrTimeout)
	assert.Less(t, time.Since(start), 3*time.Second)
}

func TestRunMissingCommand(t *testing.T) {
	_, err := cmdexec.New().Run(context.Background(), time.Second, "pideck-no-such-binary")
	require.Error(t, err)
}

func TestStreamStopKillsChild(t *testing.T) {
	r := cmdexec.New()
	if !r.Exists("sleep") {
		t.Skip("sleep not available")
	}

	p, err := r.Stream(context.Background(), "sleep", "30")
	require.NoError(t, err)
	assert.Positive(t, p.Pid())

	stopped := make(chan struct{})
	go func() {
		p.Stop()
		close(stopped)
	}()

	select {
	case <-stopped:
	case <-time.After(5 * time.Second):
		t.Fatal("stop did not reap the child")
	}
	select {
	case <-p.Done():
	default:
		t.Fatal("done channel not closed after stop")
	}
}

func TestNewProcessWaitIsShared(t *testing.T) {
	pr, pw := io.Pipe()
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	p := cmdexec.NewProcess(pr, 42, cancel, func() error {
		calls++
		<-ctx.Done()
		pw.Close()
		return nil
	})

	go p.Stop()
	require.NoError(t, p.Wait())
	require.NoError(t, p.Wait())
	assert.Equal(t, 1, calls)
}
