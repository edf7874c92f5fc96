package live

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	ws "github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/organvm-vi-koinonia/community-hub/internal/domain"
)

type harness struct {
	registry *Registry
	gateway  *Gateway
	server   *httptest.Server
}

// newHarness wires a registry and gateway behind a test WebSocket endpoint.
// Room and identity come from query parameters; an empty identity simulates
// the auth collaborator failing.
func newHarness(t *testing.T, clock clockwork.Clock, echoSender bool, maxPerRoom int, mutate func(*GatewayConfig)) *harness {
	t.Helper()

	cfg := GatewayConfig{
		MaxMessageBytes:  4096,
		MessageRate:      10,
		MessageBurst:     10,
		RateLimitStrikes: 3,
		SendBuffer:       16,
		WriteDeadline:    5 * time.Second,
	}
	if mutate != nil {
		mutate(&cfg)
	}

	registry := NewRegistry(clock, maxPerRoom, echoSender)
	gateway := NewGateway(registry, clock, cfg)

	upgrader := ws.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		socket, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade failed: %v", err)
			return
		}
		conn, err := gateway.Admit(socket, r.URL.Query().Get("room"), r.URL.Query().Get("identity"))
		if err != nil {
			return
		}
		gateway.Serve(conn)
	}))
	t.Cleanup(server.Close)

	return &harness{registry: registry, gateway: gateway, server: server}
}

func (h *harness) dial(t *testing.T, room, identity string) *ws.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(h.server.URL, "http") + "?room=" + room + "&identity=" + identity
	conn, _, err := ws.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

// readRecord reads and decodes the next data frame.
func readRecord(t *testing.T, conn *ws.Conn) domain.Message {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, payload, err := conn.ReadMessage()
	require.NoError(t, err)

	var msg domain.Message
	require.NoError(t, json.Unmarshal(payload, &msg))
	return msg
}

// readUntilType reads records until one of the wanted type arrives,
// returning everything seen along the way (wanted record last).
func readUntilType(t *testing.T, conn *ws.Conn, msgType string) []domain.Message {
	t.Helper()
	var seen []domain.Message
	for i := 0; i < 20; i++ {
		msg := readRecord(t, conn)
		seen = append(seen, msg)
		if msg.Type == msgType {
			return seen
		}
	}
	t.Fatalf("no %q record within 20 frames: %+v", msgType, seen)
	return nil
}

func expectClose(t *testing.T, conn *ws.Conn, code int) {
	t.Helper()
	for i := 0; i < 20; i++ {
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		_, _, err := conn.ReadMessage()
		if err == nil {
			continue
		}
		var closeErr *ws.CloseError
		require.ErrorAs(t, err, &closeErr)
		assert.Equal(t, code, closeErr.Code)
		return
	}
	t.Fatal("connection never closed")
}

func waitForCount(t *testing.T, h *harness, room string, n int) {
	t.Helper()
	require.Eventually(t, func() bool {
		return h.registry.ParticipantCount(room) == n
	}, 2*time.Second, 5*time.Millisecond)
}

func TestGateway_TwoParticipantScenario(t *testing.T) {
	h := newHarness(t, clockwork.NewRealClock(), true, 100, nil)

	alice := h.dial(t, "42", "alice")
	bob := h.dial(t, "42", "bob")
	waitForCount(t, h, "42", 2)

	require.NoError(t, alice.WriteMessage(ws.TextMessage, []byte("hello")))

	for _, conn := range []*ws.Conn{alice, bob} {
		seen := readUntilType(t, conn, "message")
		msg := seen[len(seen)-1]
		assert.Equal(t, "alice", msg.Sender)
		assert.Equal(t, "hello", msg.Text)
		assert.NotEmpty(t, msg.Timestamp)
	}

	// Bob disconnects; Alice sees the leave notice and keeps the room
	require.NoError(t, bob.Close())
	waitForCount(t, h, "42", 1)

	require.NoError(t, alice.WriteMessage(ws.TextMessage, []byte("still here")))
	seen := readUntilType(t, alice, "message")
	msg := seen[len(seen)-1]
	assert.Equal(t, "alice", msg.Sender)
	assert.Equal(t, "still here", msg.Text)
	assert.Equal(t, 1, h.registry.ParticipantCount("42"))
}

func TestGateway_JoinNoticesCarryCounts(t *testing.T) {
	h := newHarness(t, clockwork.NewRealClock(), true, 100, nil)

	alice := h.dial(t, "42", "alice")
	first := readRecord(t, alice)
	assert.Equal(t, "system", first.Type)
	assert.Equal(t, 1, first.Count)

	h.dial(t, "42", "bob")
	second := readRecord(t, alice)
	assert.Equal(t, "system", second.Type)
	assert.Equal(t, 2, second.Count)
}

func TestGateway_RoomsAreIsolated(t *testing.T) {
	h := newHarness(t, clockwork.NewRealClock(), true, 100, nil)

	alice := h.dial(t, "42", "alice")
	eve := h.dial(t, "99", "eve")
	waitForCount(t, h, "42", 1)
	waitForCount(t, h, "99", 1)

	require.NoError(t, alice.WriteMessage(ws.TextMessage, []byte("secret")))
	readUntilType(t, alice, "message")

	// Eve sees her own join notice and nothing else
	readRecord(t, eve)
	eve.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	_, _, err := eve.ReadMessage()
	assert.Error(t, err)
}

func TestGateway_SanitizesMarkup(t *testing.T) {
	h := newHarness(t, clockwork.NewRealClock(), true, 100, nil)

	alice := h.dial(t, "42", "alice")
	require.NoError(t, alice.WriteMessage(ws.TextMessage, []byte("<script>alert(1)</script>")))

	seen := readUntilType(t, alice, "message")
	msg := seen[len(seen)-1]
	assert.NotContains(t, msg.Text, "<script>")
	assert.Equal(t, "&lt;script&gt;alert(1)&lt;/script&gt;", msg.Text)
}

func TestGateway_AppPingAnsweredPrivately(t *testing.T) {
	h := newHarness(t, clockwork.NewRealClock(), true, 100, nil)

	alice := h.dial(t, "42", "alice")
	bob := h.dial(t, "42", "bob")
	waitForCount(t, h, "42", 2)

	require.NoError(t, alice.WriteMessage(ws.TextMessage, []byte("ping")))
	seen := readUntilType(t, alice, "pong")
	assert.Equal(t, "pong", seen[len(seen)-1].Type)

	// The pong is not broadcast; a follow-up message is the next thing Bob
	// sees after the join notices.
	require.NoError(t, alice.WriteMessage(ws.TextMessage, []byte("after")))
	for _, msg := range readUntilType(t, bob, "message") {
		assert.NotEqual(t, "pong", msg.Type)
	}
}

func TestGateway_EmptyMessagesDropped(t *testing.T) {
	h := newHarness(t, clockwork.NewRealClock(), true, 100, nil)

	alice := h.dial(t, "42", "alice")
	require.NoError(t, alice.WriteMessage(ws.TextMessage, []byte("   \t  ")))
	require.NoError(t, alice.WriteMessage(ws.TextMessage, []byte("real")))

	seen := readUntilType(t, alice, "message")
	assert.Equal(t, "real", seen[len(seen)-1].Text)
	for _, msg := range seen[:len(seen)-1] {
		assert.NotEqual(t, "message", msg.Type)
	}
}

func TestGateway_OversizedPayloadFatal(t *testing.T) {
	h := newHarness(t, clockwork.NewRealClock(), true, 100, nil)

	alice := h.dial(t, "42", "alice")
	waitForCount(t, h, "42", 1)

	require.NoError(t, alice.WriteMessage(ws.TextMessage, []byte(strings.Repeat("a", 5000))))
	expectClose(t, alice, ws.CloseMessageTooBig)
	waitForCount(t, h, "42", 0)
}

func TestGateway_BinaryFramesRejected(t *testing.T) {
	h := newHarness(t, clockwork.NewRealClock(), true, 100, nil)

	alice := h.dial(t, "42", "alice")
	require.NoError(t, alice.WriteMessage(ws.BinaryMessage, []byte{0x01}))
	expectClose(t, alice, ws.CloseUnsupportedData)
}

func TestGateway_RateLimitNoticeThenClose(t *testing.T) {
	// Fake time pinned to the present: the bucket never refills, so the
	// strike sequence is deterministic.
	clock := clockwork.NewFakeClockAt(time.Now())
	h := newHarness(t, clock, true, 100, func(cfg *GatewayConfig) {
		cfg.MessageBurst = 2
		cfg.MessageRate = 1
		cfg.RateLimitStrikes = 2
	})

	alice := h.dial(t, "42", "alice")
	waitForCount(t, h, "42", 1)

	for i := 0; i < 4; i++ {
		require.NoError(t, alice.WriteMessage(ws.TextMessage, []byte("flood")))
	}

	var errors, messages int
	sawClose := false
	for i := 0; i < 20 && !sawClose; i++ {
		alice.SetReadDeadline(time.Now().Add(2 * time.Second))
		_, payload, err := alice.ReadMessage()
		if err != nil {
			var closeErr *ws.CloseError
			require.ErrorAs(t, err, &closeErr)
			assert.Equal(t, ws.ClosePolicyViolation, closeErr.Code)
			sawClose = true
			break
		}
		var msg domain.Message
		require.NoError(t, json.Unmarshal(payload, &msg))
		switch msg.Type {
		case "message":
			messages++
		case "error":
			errors++
		}
	}

	assert.True(t, sawClose)
	assert.Equal(t, 2, messages)
	assert.Equal(t, 1, errors)
	waitForCount(t, h, "42", 0)
}

func TestGateway_UnauthenticatedRejected(t *testing.T) {
	h := newHarness(t, clockwork.NewRealClock(), true, 100, nil)

	conn := h.dial(t, "42", "")
	expectClose(t, conn, CloseAuthenticationRequired)
	assert.Equal(t, 0, h.registry.ParticipantCount("42"))
}

func TestGateway_MalformedRoomRejected(t *testing.T) {
	h := newHarness(t, clockwork.NewRealClock(), true, 100, nil)

	conn := h.dial(t, "", "alice")
	expectClose(t, conn, ws.ClosePolicyViolation)
}

func TestGateway_RoomFullRejected(t *testing.T) {
	h := newHarness(t, clockwork.NewRealClock(), true, 1, nil)

	h.dial(t, "42", "alice")
	waitForCount(t, h, "42", 1)

	second := h.dial(t, "42", "bob")
	expectClose(t, second, ws.CloseTryAgainLater)
	assert.Equal(t, 1, h.registry.ParticipantCount("42"))
}

func TestGateway_KeepaliveEvictsSilentPeer(t *testing.T) {
	clock := clockwork.NewRealClock()
	h := newHarness(t, clock, true, 100, nil)
	monitor := NewKeepaliveMonitor(h.registry, clock, 100*time.Millisecond, 250*time.Millisecond)
	monitor.Start()
	t.Cleanup(monitor.Stop)

	// Alice keeps reading: gorilla's default ping handler answers probes.
	alice := h.dial(t, "42", "alice")
	go func() {
		for {
			if _, _, err := alice.ReadMessage(); err != nil {
				return
			}
		}
	}()

	// Bob never reads, so he never pongs.
	h.dial(t, "42", "bob")
	waitForCount(t, h, "42", 2)

	waitForCount(t, h, "42", 1)
	time.Sleep(400 * time.Millisecond)
	assert.Equal(t, 1, h.registry.ParticipantCount("42"))
}
