package relay_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odewan/examlink/internal/config"
	"github.com/odewan/examlink/internal/relay"
)

func startRelay(t *testing.T) string {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	cfg := &config.Config{Mode: "release", ReadLimit: 32768, Secret: "test-secret"}
	ctl := relay.NewController(relay.NewRegistry(), cfg.ReadLimit)
	srv := httptest.NewServer(relay.SetupRouter(ctx, cfg, ctl))
	t.Cleanup(srv.Close)

	return "ws://" + strings.TrimPrefix(srv.URL, "http://") + "/api/ws/signal"
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

// dialWithToken presents a fixed client-token cookie, the stable identity a
// browser keeps across reconnects.
func dialWithToken(t *testing.T, url, token string) *websocket.Conn {
	t.Helper()
	header := http.Header{"Cookie": []string{"ct=" + token}}
	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(v))
}

func readFrame(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var frame map[string]any
	require.NoError(t, json.Unmarshal(data, &frame))
	return frame
}

func join(t *testing.T, conn *websocket.Conn, room, role string) {
	t.Helper()
	send(t, conn, map[string]string{"type": "join", "room": room, "role": role})
	ack := readFrame(t, conn)
	require.Equal(t, "joined", ack["type"])
	require.Equal(t, room, ack["room"])
}

func TestJoinAnnouncesBothWays(t *testing.T) {
	url := startRelay(t)

	agent := dial(t, url)
	join(t, agent, "exam-123", "agent")

	student := dial(t, url)
	join(t, student, "exam-123", "student")

	// The waiting agent learns of the student, the late student learns of
	// the waiting agent.
	onAgent := readFrame(t, agent)
	assert.Equal(t, "peer-joined", onAgent["type"])
	assert.Equal(t, "student", onAgent["role"])

	onStudent := readFrame(t, student)
	assert.Equal(t, "peer-joined", onStudent["type"])
	assert.Equal(t, "agent", onStudent["role"])
}

func TestNegotiationFramesForwardedVerbatim(t *testing.T) {
	url := startRelay(t)

	agent := dial(t, url)
	join(t, agent, "exam-7", "agent")
	student := dial(t, url)
	join(t, student, "exam-7", "student")
	readFrame(t, agent)   // peer-joined
	readFrame(t, student) // peer-joined

	send(t, agent, map[string]string{"type": "offer", "room": "exam-7", "sdp": "v=0 offer"})
	offer := readFrame(t, student)
	assert.Equal(t, "offer", offer["type"])
	assert.Equal(t, "v=0 offer", offer["sdp"])

	send(t, student, map[string]string{"type": "answer", "room": "exam-7", "sdp": "v=0 answer"})
	answer := readFrame(t, agent)
	assert.Equal(t, "answer", answer["type"])
	assert.Equal(t, "v=0 answer", answer["sdp"])

	// ICE flows any number of times, either direction.
	for i := 0; i < 3; i++ {
		send(t, agent, map[string]string{"type": "ice", "room": "exam-7", "candidate": "cand-a"})
	}
	send(t, student, map[string]string{"type": "ice", "room": "exam-7", "candidate": "cand-s"})

	for i := 0; i < 3; i++ {
		ice := readFrame(t, student)
		assert.Equal(t, "ice", ice["type"])
		assert.Equal(t, "cand-a", ice["candidate"])
	}
	ice := readFrame(t, agent)
	assert.Equal(t, "cand-s", ice["candidate"])
}

func TestControlCommandsReachStudent(t *testing.T) {
	url := startRelay(t)

	agent := dial(t, url)
	join(t, agent, "exam-9", "agent")
	student := dial(t, url)
	join(t, student, "exam-9", "student")
	readFrame(t, agent)
	readFrame(t, student)

	send(t, agent, map[string]any{"type": "change-section", "room": "exam-9", "section": 2})
	cmd := readFrame(t, student)
	assert.Equal(t, "change-section", cmd["type"])
	assert.Equal(t, float64(2), cmd["section"])

	send(t, agent, map[string]any{"type": "end-exam", "room": "exam-9"})
	cmd = readFrame(t, student)
	assert.Equal(t, "end-exam", cmd["type"])
}

func TestFrameWithoutCounterpartIsDropped(t *testing.T) {
	url := startRelay(t)

	agent := dial(t, url)
	join(t, agent, "exam-lonely", "agent")

	// No student in the room: fire-and-forget means no error reply either.
	send(t, agent, map[string]string{"type": "offer", "room": "exam-lonely", "sdp": "x"})

	require.NoError(t, agent.SetReadDeadline(time.Now().Add(300*time.Millisecond)))
	_, _, err := agent.ReadMessage()
	assert.Error(t, err, "nothing should come back")
}

func TestForwardBeforeJoinRejected(t *testing.T) {
	url := startRelay(t)

	conn := dial(t, url)
	send(t, conn, map[string]string{"type": "offer", "room": "exam-1", "sdp": "x"})

	frame := readFrame(t, conn)
	assert.Equal(t, "error", frame["type"])
}

func TestInvalidRoleRejected(t *testing.T) {
	url := startRelay(t)

	conn := dial(t, url)
	send(t, conn, map[string]string{"type": "join", "room": "exam-1", "role": "invigilator"})

	frame := readFrame(t, conn)
	assert.Equal(t, "error", frame["type"])
}

func TestPeerLeftOnDisconnect(t *testing.T) {
	url := startRelay(t)

	agent := dial(t, url)
	join(t, agent, "exam-5", "agent")
	student := dial(t, url)
	join(t, student, "exam-5", "student")
	readFrame(t, agent)
	readFrame(t, student)

	require.NoError(t, student.Close())

	left := readFrame(t, agent)
	assert.Equal(t, "peer-left", left["type"])
	assert.Equal(t, "student", left["role"])
}

func TestReconnectingRoleReplacesStaleOccupant(t *testing.T) {
	url := startRelay(t)

	agent := dial(t, url)
	join(t, agent, "exam-11", "agent")

	first := dial(t, url)
	join(t, first, "exam-11", "student")
	readFrame(t, agent) // peer-joined student
	readFrame(t, first) // peer-joined agent

	// The student reconnects (new socket, same role) without the old one
	// leaving cleanly.
	second := dial(t, url)
	join(t, second, "exam-11", "student")
	readFrame(t, agent)  // peer-joined student again
	readFrame(t, second) // peer-joined agent

	send(t, agent, map[string]string{"type": "offer", "room": "exam-11", "sdp": "fresh"})
	offer := readFrame(t, second)
	assert.Equal(t, "fresh", offer["sdp"], "frames must reach the fresh connection")
}

// A browser redial reuses the same client token while the old socket is
// still half-open. The old socket's teardown must not unbind the fresh
// session or announce a spurious peer-left.
func TestSameTokenReconnectSurvivesStaleTeardown(t *testing.T) {
	url := startRelay(t)

	agent := dial(t, url)
	join(t, agent, "exam-13", "agent")

	first := dialWithToken(t, url, "student-token")
	join(t, first, "exam-13", "student")
	readFrame(t, agent) // peer-joined student
	readFrame(t, first) // peer-joined agent

	second := dialWithToken(t, url, "student-token")
	join(t, second, "exam-13", "student")
	readFrame(t, agent)  // peer-joined student again
	readFrame(t, second) // peer-joined agent

	// The stale socket goes away after the replacement has been bound.
	_ = first.Close()
	time.Sleep(200 * time.Millisecond)

	send(t, agent, map[string]string{"type": "offer", "room": "exam-13", "sdp": "post-reconnect"})
	offer := readFrame(t, second)
	assert.Equal(t, "post-reconnect", offer["sdp"], "the fresh connection must stay bound")

	// No peer-left may have reached the agent from the stale teardown.
	require.NoError(t, agent.SetReadDeadline(time.Now().Add(300*time.Millisecond)))
	_, _, err := agent.ReadMessage()
	assert.Error(t, err, "the agent must not see a spurious peer-left")
}
