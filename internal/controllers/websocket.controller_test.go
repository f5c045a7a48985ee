package controllers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"pideck/internal/models"
	"pideck/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticLatest struct {
	snap models.SystemSnapshot
	ok   bool
}

func (s staticLatest) Latest() (models.SystemSnapshot, bool) { return s.snap, s.ok }

func wsURL(srv *httptest.Server, path string) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + path
}

func readMessage(t *testing.T, conn *websocket.Conn) services.WebSocketMessage {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg services.WebSocketMessage
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

func TestWebSocketController_LiveSnapshots(t *testing.T) {
	hub := services.NewWebSocketHub(func() []models.ActiveAlert { return []models.ActiveAlert{} }, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = hub.Run(ctx) }()

	latest := staticLatest{snap: models.SystemSnapshot{Hostname: "cached"}, ok: true}
	wc := NewWebSocketController(hub, latest, nil, nil, nil)
	r := gin.New()
	r.GET("/ws", wc.HandleWebSocket)
	srv := httptest.NewServer(r)
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv, "/ws"), nil)
	require.NoError(t, err)

	first := readMessage(t, conn)
	assert.Equal(t, "snapshot", first.Type)
	var snap models.SystemSnapshot
	require.NoError(t, json.Unmarshal(first.Data, &snap))
	assert.Equal(t, "cached", snap.Hostname)

	require.Eventually(t, func() bool { return hub.Clients() == 1 }, 2*time.Second, 10*time.Millisecond)
	hub.Publish(models.SystemSnapshot{Hostname: "fresh"})

	live := readMessage(t, conn)
	assert.Equal(t, "snapshot", live.Type)
	assert.Contains(t, string(live.Data), `"hostname":"fresh"`)
	assert.Equal(t, "alerts", readMessage(t, conn).Type)

	require.NoError(t, conn.Close())
	assert.Eventually(t, func() bool { return hub.Clients() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestWebSocketController_RejectsForeignOrigin(t *testing.T) {
	hub := services.NewWebSocketHub(nil, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = hub.Run(ctx) }()

	wc := NewWebSocketController(hub, staticLatest{}, []string{"http://dashboard.local"}, nil, nil)
	r := gin.New()
	r.GET("/ws", wc.HandleWebSocket)
	srv := httptest.NewServer(r)
	defer srv.Close()

	cases := []struct {
		desc   string
		origin string
		wantOK bool
	}{
		{desc: "configured origin", origin: "http://dashboard.local", wantOK: true},
		{desc: "same host", origin: srv.URL, wantOK: true},
		{desc: "foreign origin", origin: "http://evil.example", wantOK: false},
	}

	for _, tc := range cases {
		t.Run(tc.desc, func(t *testing.T) {
			header := http.Header{"Origin": []string{tc.origin}}
			conn, resp, err := websocket.DefaultDialer.Dial(wsURL(srv, "/ws"), header)
			if tc.wantOK {
				require.NoError(t, err)
				conn.Close()
				return
			}
			require.Error(t, err)
			require.NotNil(t, resp)
			assert.Equal(t, http.StatusForbidden, resp.StatusCode)
		})
	}
}

func TestLogsController_FollowWebSocket(t *testing.T) {
	runner, started := liveChildren()
	fx := newLogsFixture(t, runner)

	r := gin.New()
	r.GET("/logs/:id/ws", fx.logs.FollowWebSocket)
	srv := httptest.NewServer(r)
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv, "/logs/app.log/ws?grep=err"), nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var hello map[string]string
	require.NoError(t, conn.ReadJSON(&hello))
	assert.Equal(t, "session", hello["type"])
	assert.NotEmpty(t, hello["session"])

	child := <-started
	go func() { _, _ = child.writer.Write([]byte("ok\nERR disk\n")) }()

	var line map[string]string
	require.NoError(t, conn.ReadJSON(&line))
	assert.Equal(t, map[string]string{"type": "line", "line": "ERR disk"}, line)

	require.NoError(t, conn.WriteJSON(map[string]string{"type": "stop"}))
	select {
	case <-child.killed:
	case <-time.After(2 * time.Second):
		t.Fatal("tail child survived stop message")
	}
	assert.Eventually(t, func() bool { return fx.follower.Active() == 0 }, 2*time.Second, 10*time.Millisecond)
}
