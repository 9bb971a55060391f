package signal

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"lessonlive/internal/core/domain"
	"lessonlive/internal/core/ports"
	"lessonlive/internal/core/services"
	"lessonlive/internal/infrastructure/repositories/memory"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type harness struct {
	server     *WebSocketServer
	http       *httptest.Server
	auth       services.AuthService
	roles      ports.RoleStore
	moderation ports.ModerationStore
	coord      ports.Coordinator
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	logger := zap.NewNop().Sugar()
	auth := services.NewAuthService("test-secret", "lessonlive", time.Hour)

	srv := NewWebSocketServer(auth, Options{
		PingInterval:  time.Second,
		PongTimeout:   3 * time.Second,
		WriteTimeout:  time.Second,
		SendQueueSize: 64,
	}, nil, logger)

	roles := memory.NewMemoryRoleStore()
	moderation := memory.NewMemoryModerationStore()
	coord := services.NewCoordinator(services.CoordinatorDeps{
		Rooms:      memory.NewMemoryRoomRepository(),
		Moderation: moderation,
		Notes:      memory.NewMemoryNoteStore(),
		Roles:      roles,
		Sink:       srv,
		Logger:     logger,
	}, services.DefaultCoordinatorConfig())
	srv.Attach(coord)

	ts := httptest.NewServer(http.HandlerFunc(srv.HandleWebSocket))
	t.Cleanup(func() {
		ts.Close()
		_ = coord.Shutdown(context.Background())
	})
	return &harness{server: srv, http: ts, auth: auth, roles: roles, moderation: moderation, coord: coord}
}

func (h *harness) dial(t *testing.T, identity domain.Identity, roomID string) *websocket.Conn {
	t.Helper()
	token, err := h.auth.GenerateToken(identity, strings.ToUpper(string(identity)), false)
	require.NoError(t, err)

	url := "ws" + strings.TrimPrefix(h.http.URL, "http") + "/ws?room_id=" + roomID + "&token=" + token
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	resp.Body.Close()
	t.Cleanup(func() { conn.Close() })
	return conn
}

type frame struct {
	Type    string          `json:"type"`
	RoomID  string          `json:"room_id"`
	Payload json.RawMessage `json:"payload"`
}

func send(t *testing.T, conn *websocket.Conn, msgType string, payload interface{}) {
	t.Helper()
	msg := map[string]interface{}{"type": msgType}
	if payload != nil {
		msg["payload"] = payload
	}
	require.NoError(t, conn.WriteJSON(msg))
}

// expect reads frames until one of the wanted type arrives.
func expect(t *testing.T, conn *websocket.Conn, msgType string) frame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	for {
		var f frame
		require.NoError(t, conn.ReadJSON(&f), "waiting for %s", msgType)
		if f.Type == msgType {
			return f
		}
	}
}

func expectClosed(t *testing.T, conn *websocket.Conn) {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			var closeErr *websocket.CloseError
			if assert.ErrorAs(t, err, &closeErr) {
				assert.Equal(t, websocket.CloseNormalClosure, closeErr.Code)
			}
			return
		}
	}
}

func TestUpgradeRequiresToken(t *testing.T) {
	h := newHarness(t)

	resp, err := http.Get(h.http.URL + "/ws?room_id=algebra-101")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	token, err := h.auth.GenerateToken("alice", "Alice", false)
	require.NoError(t, err)
	resp, err = http.Get(h.http.URL + "/ws?room_id=bad%20room&token=" + token)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestJoinAndRosterUpdates(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.roles.Assign(context.Background(), "algebra-101", "teacher", domain.RoleHost))

	host := h.dial(t, "teacher", "algebra-101")
	send(t, host, TypeJoin, JoinPayload{DisplayName: "Ms. Frizzle", Role: domain.RoleParticipant})
	joined := expect(t, host, string(domain.EventJoined))

	var jp domain.JoinedPayload
	require.NoError(t, json.Unmarshal(joined.Payload, &jp))
	assert.Equal(t, domain.RoleHost, jp.Role, "role comes from the store, not the claim")
	require.Len(t, jp.Roster, 1)
	assert.Equal(t, "Ms. Frizzle", jp.Roster[0].DisplayName)
	expect(t, host, string(domain.EventParticipantsUpdate))

	student := h.dial(t, "bob", "algebra-101")
	send(t, student, TypeJoin, JoinPayload{DisplayName: "  "})
	joined = expect(t, student, string(domain.EventJoined))
	require.NoError(t, json.Unmarshal(joined.Payload, &jp))
	assert.Equal(t, domain.RoleParticipant, jp.Role)

	update := expect(t, host, string(domain.EventParticipantsUpdate))
	var roster domain.ParticipantsUpdatePayload
	require.NoError(t, json.Unmarshal(update.Payload, &roster))
	require.Len(t, roster.Roster, 2)
	assert.Equal(t, "BOB", roster.Roster[1].DisplayName, "blank display name falls back to the token's")

	assert.Equal(t, 2, h.server.ConnectionCount())
}

func TestMessagesBeforeJoinAreRefused(t *testing.T) {
	h := newHarness(t)
	conn := h.dial(t, "bob", "algebra-101")

	send(t, conn, TypeRaiseHand, nil)
	f := expect(t, conn, string(domain.EventError))
	var ep domain.ErrorPayload
	require.NoError(t, json.Unmarshal(f.Payload, &ep))
	assert.Equal(t, "not_joined", ep.Code)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{not json")))
	f = expect(t, conn, string(domain.EventError))
	require.NoError(t, json.Unmarshal(f.Payload, &ep))
	assert.Equal(t, "INVALID_INPUT", ep.Code)
}

func TestBannedJoinIsRejectedAndClosed(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.moderation.Put(context.Background(), &domain.ModerationRecord{
		RoomID: "algebra-101", Identity: "mallory", IssuedBy: "teacher", IssuedAt: time.Now(), IsPermanent: true,
	}))

	conn := h.dial(t, "mallory", "algebra-101")
	send(t, conn, TypeJoin, JoinPayload{})
	f := expect(t, conn, string(domain.EventJoinRejected))
	var rp domain.JoinRejectedPayload
	require.NoError(t, json.Unmarshal(f.Payload, &rp))
	assert.Equal(t, domain.RejectBanned, rp.Reason)
	expectClosed(t, conn)
}

func TestKickClosesTargetAfterNotice(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.roles.Assign(context.Background(), "algebra-101", "teacher", domain.RoleHost))

	host := h.dial(t, "teacher", "algebra-101")
	send(t, host, TypeJoin, nil)
	expect(t, host, string(domain.EventJoined))

	student := h.dial(t, "bob", "algebra-101")
	send(t, student, TypeJoin, nil)
	expect(t, student, string(domain.EventJoined))

	send(t, host, TypeModerate, domain.ModerationRequest{Target: "bob", Action: domain.ActionKick, Reason: "off topic"})

	f := expect(t, student, string(domain.EventKicked))
	var kp domain.KickedPayload
	require.NoError(t, json.Unmarshal(f.Payload, &kp))
	assert.False(t, kp.IsBanned)
	assert.Equal(t, "off topic", kp.Reason)
	expectClosed(t, student)

	require.Eventually(t, func() bool {
		roster, err := h.coord.GetRoster(context.Background(), "algebra-101")
		return err == nil && len(roster) == 1
	}, 3*time.Second, 20*time.Millisecond)

	again := h.dial(t, "bob", "algebra-101")
	send(t, again, TypeJoin, nil)
	f = expect(t, again, string(domain.EventJoinRejected))
	var rp domain.JoinRejectedPayload
	require.NoError(t, json.Unmarshal(f.Payload, &rp))
	assert.Equal(t, domain.RejectKicked, rp.Reason)
}

func TestParticipantCannotSeeHandQueue(t *testing.T) {
	h := newHarness(t)
	conn := h.dial(t, "bob", "algebra-101")
	send(t, conn, TypeJoin, nil)
	expect(t, conn, string(domain.EventJoined))

	send(t, conn, TypeHandQueue, nil)
	f := expect(t, conn, string(domain.EventError))
	var ep domain.ErrorPayload
	require.NoError(t, json.Unmarshal(f.Payload, &ep))
	assert.Equal(t, string(domain.RejectUnauthorized), ep.Code)
}

func TestDisconnectRemovesParticipant(t *testing.T) {
	h := newHarness(t)
	conn := h.dial(t, "bob", "algebra-101")
	send(t, conn, TypeJoin, nil)
	expect(t, conn, string(domain.EventJoined))

	conn.Close()
	require.Eventually(t, func() bool {
		roster, err := h.coord.GetRoster(context.Background(), "algebra-101")
		return err == nil && len(roster) == 0 && h.server.ConnectionCount() == 0
	}, 3*time.Second, 20*time.Millisecond)
}

func TestEnqueueOverflowAndClose(t *testing.T) {
	c := newClient(nil, 1)
	assert.True(t, c.enqueue(outbound{data: []byte("a")}))
	assert.False(t, c.enqueue(outbound{data: []byte("b")}), "full queue reports overflow")
	assert.True(t, c.enqueue(outbound{data: []byte("c")}), "closing client drops silently")
	assert.Len(t, c.queue, 1)

	c = newClient(nil, 4)
	assert.True(t, c.enqueue(outbound{close: true, reason: "bye"}))
	assert.True(t, c.enqueue(outbound{data: []byte("late")}))
	assert.Len(t, c.queue, 1, "nothing is queued after close")
}

func TestCheckOrigin(t *testing.T) {
	s := NewWebSocketServer(nil, Options{AllowedOrigins: []string{"app.school.example"}}, nil, zap.NewNop().Sugar())

	req := httptest.NewRequest(http.MethodGet, "/ws", nil)
	assert.True(t, s.checkOrigin(req), "non-browser clients send no origin")

	req.Header.Set("Origin", "https://app.school.example")
	assert.True(t, s.checkOrigin(req))

	req.Header.Set("Origin", "https://evil.example")
	assert.False(t, s.checkOrigin(req))
}
