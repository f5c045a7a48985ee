package controllers

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"pideck/internal/cmdexec"
	"pideck/internal/models"
	"pideck/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// streamRunner hands out processes built by start. Run always fails.
type streamRunner struct {
	start func(ctx context.Context) *cmdexec.Process
}

func (streamRunner) Exists(string) bool { return true }

func (streamRunner) Run(context.Context, time.Duration, string, ...string) (cmdexec.Result, error) {
	return cmdexec.Result{}, cmdexec.ErrNotFound
}

func (r streamRunner) Stream(ctx context.Context, _ string, _ ...string) (*cmdexec.Process, error) {
	return r.start(ctx), nil
}

type liveChild struct {
	writer *io.PipeWriter
	killed chan struct{}
}

// liveChildren makes every Stream call return a child that runs until its
// context ends.
func liveChildren() (streamRunner, <-chan liveChild) {
	started := make(chan liveChild, 4)
	return streamRunner{start: func(ctx context.Context) *cmdexec.Process {
		pr, pw := io.Pipe()
		ctx, cancel := context.WithCancel(ctx)
		killed := make(chan struct{})
		go func() {
			<-ctx.Done()
			pw.Close()
			close(killed)
		}()
		started <- liveChild{writer: pw, killed: killed}
		return cmdexec.NewProcess(pr, 7, cancel, func() error {
			<-killed
			return nil
		})
	}}, started
}

type logsFixture struct {
	router   *gin.Engine
	logs     *LogsController
	follower *services.LogFollower
}

func newLogsFixture(t *testing.T, runner cmdexec.Runner) logsFixture {
	t.Helper()

	dir, err := filepath.EvalSymlinks(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "app.log"), []byte("one\ntwo\nthree\n"), 0o644))

	catalog := services.NewLogCatalog(services.LogCatalogConfig{LogsDir: dir}, nil)
	tailer := services.NewLogTailer(services.LogTailConfig{}, catalog, runner, nil)
	follower := services.NewLogFollower(catalog, runner, 0, nil, nil)
	lc := NewLogsController(LogsControllerConfig{}, catalog, tailer, follower, nil, nil)

	r := gin.New()
	r.GET("/logs", lc.ListLogs)
	r.GET("/logs/:id", lc.GetLog)
	r.DELETE("/logs/follow/:session", lc.StopFollow)
	return logsFixture{router: r, logs: lc, follower: follower}
}

func get(r http.Handler, target string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, target, nil))
	return w
}

func TestLogsController_Tail(t *testing.T) {
	runner, _ := liveChildren()
	fx := newLogsFixture(t, runner)

	w := get(fx.router, "/logs/app.log?tail=2")
	require.Equal(t, http.StatusOK, w.Code)
	var res models.TailResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	assert.Equal(t, "two\nthree", res.Content)
	assert.Equal(t, 2, res.Lines)
	assert.Equal(t, "app.log", res.Entry.ID)

	w = get(fx.router, "/logs/app.log?grep=t&format=text")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/plain; charset=utf-8", w.Header().Get("Content-Type"))
	assert.Equal(t, "two\nthree", w.Body.String())

	w = get(fx.router, "/logs/missing.log")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.JSONEq(t, `{"error":"not found"}`, w.Body.String())

	w = get(fx.router, "/logs")
	require.Equal(t, http.StatusOK, w.Code)
	var entries []models.LogCatalogEntry
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &entries))
	require.Len(t, entries, 1)
	assert.Equal(t, "app.log", entries[0].ID)
}

func readUntil(t *testing.T, r *bufio.Reader, want string) {
	t.Helper()
	for {
		line, err := r.ReadString('\n')
		require.NoError(t, err, "stream ended before %q", want)
		if strings.Contains(line, want) {
			return
		}
	}
}

func TestLogsController_FollowDisconnectStopsChild(t *testing.T) {
	runner, started := liveChildren()
	fx := newLogsFixture(t, runner)
	srv := httptest.NewServer(fx.router)
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/logs/app.log?follow=1", nil)
	require.NoError(t, err)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))
	assert.NotEmpty(t, resp.Header.Get("X-Follow-Session"))

	child := <-started
	go func() { _, _ = child.writer.Write([]byte("hello\n")) }()
	readUntil(t, bufio.NewReader(resp.Body), `{"line":"hello"}`)
	assert.Equal(t, 1, fx.follower.Active())

	cancel()

	select {
	case <-child.killed:
	case <-time.After(2 * time.Second):
		t.Fatal("tail child survived client disconnect")
	}
	assert.Eventually(t, func() bool { return fx.follower.Active() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestLogsController_StopFollow(t *testing.T) {
	runner, started := liveChildren()
	fx := newLogsFixture(t, runner)
	srv := httptest.NewServer(fx.router)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/logs/app.log?follow=1")
	require.NoError(t, err)
	defer resp.Body.Close()
	session := resp.Header.Get("X-Follow-Session")
	child := <-started

	req := httptest.NewRequest(http.MethodDelete, fmt.Sprintf("/logs/follow/%s", session), nil)
	w := httptest.NewRecorder()
	fx.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNoContent, w.Code)

	<-child.killed
	_, err = io.ReadAll(resp.Body)
	assert.NoError(t, err)

	w = httptest.NewRecorder()
	fx.router.ServeHTTP(w, httptest.NewRequest(http.MethodDelete, "/logs/follow/"+session, nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestLogsController_FollowStreamError(t *testing.T) {
	runner := streamRunner{start: func(context.Context) *cmdexec.Process {
		return cmdexec.NewProcess(strings.NewReader("bye\n"), 7, func() {}, func() error {
			return errors.New("exit status 1")
		})
	}}
	fx := newLogsFixture(t, runner)

	w := get(fx.router, "/logs/app.log?follow=1")
	body := w.Body.String()
	assert.Contains(t, body, `{"line":"bye"}`)
	assert.Contains(t, body, "event:stream-error")
	assert.Contains(t, body, "exit status 1")
}

func TestLogErrorStatus(t *testing.T) {
	cases := []struct {
		desc string
		err  error
		want int
	}{
		{desc: "not found", err: fmt.Errorf("%w: x", services.ErrLogNotFound), want: http.StatusNotFound},
		{desc: "forbidden", err: services.ErrLogForbidden, want: http.StatusForbidden},
		{desc: "not accessible", err: services.ErrLogNotAccessible, want: http.StatusForbidden},
		{desc: "unavailable", err: services.ErrLogUnavailable, want: http.StatusServiceUnavailable},
		{desc: "anything else", err: errors.New("boom"), want: http.StatusInternalServerError},
	}

	for _, tc := range cases {
		t.Run(tc.desc, func(t *testing.T) {
			got, _ := logErrorStatus(tc.err)
			assert.Equal(t, tc.want, got)
		})
	}
}
