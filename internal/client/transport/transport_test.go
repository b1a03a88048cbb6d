package transport_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odewan/examlink/internal/client/transport"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// testServer accepts WebSocket connections and hands each to serve.
func testServer(t *testing.T, serve func(conn *websocket.Conn)) (wsURL string, accepts *atomic.Int32) {
	t.Helper()
	accepts = &atomic.Int32{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		accepts.Add(1)
		serve(conn)
	}))
	t.Cleanup(srv.Close)
	return "ws://" + strings.TrimPrefix(srv.URL, "http://"), accepts
}

func keepOpen(conn *websocket.Conn) {
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func TestConnectIdempotent(t *testing.T) {
	url, accepts := testServer(t, keepOpen)

	tr := transport.New(url, time.Minute)
	t.Cleanup(tr.Close)

	require.NoError(t, tr.Connect(context.Background()))
	require.NoError(t, tr.Connect(context.Background()))
	require.NoError(t, tr.Connect(context.Background()))

	assert.True(t, tr.Connected())
	assert.Equal(t, int32(1), accepts.Load(), "repeat Connect must not redial")
}

func TestEmitTagsEventType(t *testing.T) {
	frames := make(chan []byte, 1)
	url, _ := testServer(t, func(conn *websocket.Conn) {
		_, data, err := conn.ReadMessage()
		if err == nil {
			frames <- data
		}
		keepOpen(conn)
	})

	tr := transport.New(url, time.Minute)
	t.Cleanup(tr.Close)
	require.NoError(t, tr.Connect(context.Background()))

	require.NoError(t, tr.Emit("join", map[string]string{"room": "exam-123", "role": "agent"}))

	select {
	case data := <-frames:
		var frame map[string]any
		require.NoError(t, json.Unmarshal(data, &frame))
		assert.Equal(t, "join", frame["type"])
		assert.Equal(t, "exam-123", frame["room"])
	case <-time.After(2 * time.Second):
		t.Fatal("server never received the frame")
	}
}

func TestEmitWhileDisconnected(t *testing.T) {
	tr := transport.New("ws://127.0.0.1:1/nowhere", time.Minute)
	err := tr.Emit("join", map[string]string{})
	assert.ErrorIs(t, err, transport.ErrNotConnected)
}

func TestHandlerReplacedNotDuplicated(t *testing.T) {
	url, _ := testServer(t, func(conn *websocket.Conn) {
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"peer-joined","role":"student"}`))
		keepOpen(conn)
	})

	tr := transport.New(url, time.Minute)
	t.Cleanup(tr.Close)

	var stale, active atomic.Int32
	tr.On("peer-joined", func([]byte) { stale.Add(1) })
	// Re-registration replaces: only the latest handler may ever run.
	tr.On("peer-joined", func([]byte) { active.Add(1) })

	require.NoError(t, tr.Connect(context.Background()))

	require.Eventually(t, func() bool { return active.Load() == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, int32(0), stale.Load(), "replaced handler must never fire")
}

func TestOffDeregisters(t *testing.T) {
	url, _ := testServer(t, func(conn *websocket.Conn) {
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"ice","candidate":"x"}`))
		keepOpen(conn)
	})

	tr := transport.New(url, time.Minute)
	t.Cleanup(tr.Close)

	var calls atomic.Int32
	tr.On("ice", func([]byte) { calls.Add(1) })
	tr.Off("ice")

	require.NoError(t, tr.Connect(context.Background()))

	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, int32(0), calls.Load())
}

func TestReconnectAfterServerDrop(t *testing.T) {
	var serves atomic.Int32
	url, _ := testServer(t, func(conn *websocket.Conn) {
		if serves.Add(1) == 1 {
			// First connection is dropped immediately to force a redial.
			_ = conn.Close()
			return
		}
		keepOpen(conn)
	})

	tr := transport.New(url, time.Minute)
	t.Cleanup(tr.Close)

	var downs, ups atomic.Int32
	tr.OnDown(func(error) { downs.Add(1) })
	tr.OnUp(func() { ups.Add(1) })

	require.NoError(t, tr.Connect(context.Background()))
	require.Equal(t, int32(1), ups.Load())

	require.Eventually(t, func() bool { return downs.Load() >= 1 }, 3*time.Second, 10*time.Millisecond,
		"transport must notice the drop")
	require.Eventually(t, func() bool { return ups.Load() >= 2 }, 5*time.Second, 10*time.Millisecond,
		"transport must redial and re-announce")
	assert.True(t, tr.Connected())
}
