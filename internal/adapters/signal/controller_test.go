package signal

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hallwayfm/hallway/internal/app"
	"github.com/hallwayfm/hallway/internal/auth"
	"github.com/hallwayfm/hallway/internal/core"
	"github.com/hallwayfm/hallway/internal/hallway"
	"github.com/hallwayfm/hallway/internal/metrics"
	"github.com/hallwayfm/hallway/internal/protocol"
	"github.com/hallwayfm/hallway/internal/rooms"
	"github.com/hallwayfm/hallway/internal/store"
)

// nopEngine satisfies core.MediaEngine for signal-plane tests; no media is
// negotiated here.
type nopEngine struct{}

func (nopEngine) RTPCapabilities() protocol.RTPCapabilities {
	return protocol.RTPCapabilities{Codecs: []string{"audio/opus"}}
}
func (nopEngine) CreateTransport(core.SessionID, protocol.TransportDirection) (*protocol.TransportParams, error) {
	return &protocol.TransportParams{TransportID: "t1"}, nil
}
func (nopEngine) ConnectTransport(context.Context, core.SessionID, string, protocol.DTLSParameters) error {
	return nil
}
func (nopEngine) Produce(context.Context, core.SessionID, string, protocol.RTPParameters) (string, error) {
	return "p1", nil
}
func (nopEngine) Consume(context.Context, core.SessionID, string, protocol.RTPCapabilities) (*protocol.ConsumerParams, error) {
	return &protocol.ConsumerParams{ConsumerID: "c1"}, nil
}
func (nopEngine) PauseProducer(core.SessionID, string) error  { return nil }
func (nopEngine) ResumeProducer(core.SessionID, string) error { return nil }
func (nopEngine) ProducerOf(core.SessionID) (protocol.ProducerInfo, bool) {
	return protocol.ProducerInfo{}, false
}
func (nopEngine) ProducerOwner(string) (core.SessionID, bool) { return "", false }
func (nopEngine) CloseSession(core.SessionID)                 {}

type signalHarness struct {
	srv    *httptest.Server
	mgr    *rooms.Manager
	secret string
}

func newSignalHarness(t *testing.T) *signalHarness {
	t.Helper()
	gin.SetMode(gin.TestMode)

	st, err := store.OpenSQLite(":memory:")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	registry := app.NewRegistry()

	// Self-referential wiring: the notifier resolves sessions from the same
	// registry the controller binds into.
	notifier := NewSessionNotifier(registry)
	hall := hallway.NewBroadcaster(notifier)
	mgr := rooms.NewManager(ctx, rooms.Deps{
		Store:    st,
		Engine:   nopEngine{},
		Notifier: notifier,
		Registry: registry,
		Hallway:  hall,
		Metrics:  metrics.NewNop(),
	})

	secret := "signal-test-secret"
	ctl := NewController(registry, mgr, nopEngine{}, hall, auth.NewVerifier(secret), Options{
		CallTimeout: 2 * time.Second,
	})

	router := gin.New()
	router.GET("/ws", func(c *gin.Context) {
		c.Set("client_token", uuid.NewString())
		ctl.HandleSignal(ctx, c)
	})

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return &signalHarness{srv: srv, mgr: mgr, secret: secret}
}

func (h *signalHarness) token(t *testing.T, subject string) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{Subject: subject})
	s, err := tok.SignedString([]byte(h.secret))
	require.NoError(t, err)
	return s
}

func (h *signalHarness) dial(t *testing.T, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(h.srv.URL, "http") + "/ws" + query
	conn, _, err := websocket.DefaultDialer.Dial(url, http.Header{})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func call(t *testing.T, conn *websocket.Conn, id uint64, method string, payload any) protocol.Envelope {
	t.Helper()
	data, err := json.Marshal(payload)
	require.NoError(t, err)
	env := protocol.NewRequest(id, method, data)
	b, err := json.Marshal(env)
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, b))

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
		_, raw, err := conn.ReadMessage()
		require.NoError(t, err)
		var resp protocol.Envelope
		require.NoError(t, json.Unmarshal(raw, &resp))
		if resp.Response && resp.ID == id {
			return resp
		}
		// Skip interleaved notifications.
	}
	t.Fatalf("no response for %s", method)
	return protocol.Envelope{}
}

func TestGuestRequestsRejectedNotDropped(t *testing.T) {
	h := newSignalHarness(t)
	conn := h.dial(t, "") // no token: guest session

	resp := call(t, conn, 1, protocol.MethodRoomJoin, protocol.JoinRequest{RoomID: "r1"})
	assert.False(t, resp.OK)
	assert.Equal(t, "AUTH_REQUIRED", resp.ErrorCode)

	// The guest connection survives the rejection and stays usable.
	resp = call(t, conn, 2, protocol.MethodRTPCapabilities, struct{}{})
	assert.False(t, resp.OK)
	assert.Equal(t, "AUTH_REQUIRED", resp.ErrorCode)
}

func TestAuthenticatedJoinOverWire(t *testing.T) {
	h := newSignalHarness(t)
	room, err := h.mgr.CreateRoom(context.Background(), "wired", "alice", 16, nil)
	require.NoError(t, err)

	conn := h.dial(t, "?token="+h.token(t, "alice")+"&username=alice")

	resp := call(t, conn, 1, protocol.MethodRoomJoin, protocol.JoinRequest{RoomID: string(room.ID)})
	require.True(t, resp.OK, "join rejected: %s %s", resp.ErrorCode, resp.ErrorReason)

	var join protocol.JoinResponse
	require.NoError(t, json.Unmarshal(resp.Data, &join))
	assert.Equal(t, "alice", join.UserID)
	require.Len(t, join.Participants, 1)
	assert.Equal(t, "owner", join.Participants[0].Role)
}

func TestJoinUnknownRoomOverWire(t *testing.T) {
	h := newSignalHarness(t)
	conn := h.dial(t, "?token="+h.token(t, "alice"))

	resp := call(t, conn, 1, protocol.MethodRoomJoin, protocol.JoinRequest{RoomID: "missing"})
	assert.False(t, resp.OK)
	assert.Equal(t, "ROOM_NOT_FOUND", resp.ErrorCode)
}

func TestUnknownMethodOverWire(t *testing.T) {
	h := newSignalHarness(t)
	conn := h.dial(t, "?token="+h.token(t, "alice"))

	resp := call(t, conn, 7, "room:frobnicate", struct{}{})
	assert.False(t, resp.OK)
	assert.Equal(t, "UNKNOWN_METHOD", resp.ErrorCode)
}

func TestJoinEventsReachOtherMember(t *testing.T) {
	h := newSignalHarness(t)
	room, err := h.mgr.CreateRoom(context.Background(), "wired", "alice", 16, nil)
	require.NoError(t, err)

	alice := h.dial(t, "?token="+h.token(t, "alice"))
	resp := call(t, alice, 1, protocol.MethodRoomJoin, protocol.JoinRequest{RoomID: string(room.ID)})
	require.True(t, resp.OK)

	bob := h.dial(t, "?token="+h.token(t, "bob"))
	resp = call(t, bob, 1, protocol.MethodRoomJoin, protocol.JoinRequest{RoomID: string(room.ID)})
	require.True(t, resp.OK)

	// Alice sees bob's join before the roster snapshot.
	var methods []string
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) && len(methods) < 2 {
		require.NoError(t, alice.SetReadDeadline(time.Now().Add(3*time.Second)))
		_, raw, err := alice.ReadMessage()
		require.NoError(t, err)
		var env protocol.Envelope
		require.NoError(t, json.Unmarshal(raw, &env))
		if env.Notification && strings.HasPrefix(env.Method, "room:") {
			methods = append(methods, env.Method)
		}
	}
	require.GreaterOrEqual(t, len(methods), 2)
	assert.Equal(t, protocol.EventUserJoined, methods[0])
	assert.Equal(t, protocol.EventParticipantsUpdated, methods[1])
}

var _ core.MediaEngine = nopEngine{}
