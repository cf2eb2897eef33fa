package rooms

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hallwayfm/hallway/internal/app"
	"github.com/hallwayfm/hallway/internal/core"
	"github.com/hallwayfm/hallway/internal/domain"
	"github.com/hallwayfm/hallway/internal/hallway"
	"github.com/hallwayfm/hallway/internal/metrics"
	"github.com/hallwayfm/hallway/internal/protocol"
	"github.com/hallwayfm/hallway/internal/store"
)

type sentEvent struct {
	sid     core.SessionID
	method  string
	payload any
}

// recordingNotifier captures every broadcast in delivery order and can
// simulate a dead receiver per session.
type recordingNotifier struct {
	mu     sync.Mutex
	events []sentEvent
	broken map[core.SessionID]bool
}

func newRecordingNotifier() *recordingNotifier {
	return &recordingNotifier{broken: make(map[core.SessionID]bool)}
}

func (n *recordingNotifier) Notify(sid core.SessionID, method string, payload any) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.broken[sid] {
		return errors.New("receiver gone")
	}
	n.events = append(n.events, sentEvent{sid: sid, method: method, payload: payload})
	return nil
}

func (n *recordingNotifier) breakSession(sid core.SessionID) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.broken[sid] = true
}

func (n *recordingNotifier) methodsFor(sid core.SessionID) []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []string
	for _, e := range n.events {
		if e.sid == sid {
			out = append(out, e.method)
		}
	}
	return out
}

func (n *recordingNotifier) count(sid core.SessionID, method string) int {
	c := 0
	for _, m := range n.methodsFor(sid) {
		if m == method {
			c++
		}
	}
	return c
}

func (n *recordingNotifier) lastPayload(sid core.SessionID, method string) any {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out any
	for _, e := range n.events {
		if e.sid == sid && e.method == method {
			out = e.payload
		}
	}
	return out
}

// fakeEngine records producer pause state and closed sessions; it hands out a
// canned producer per session on demand.
type fakeEngine struct {
	mu           sync.Mutex
	producers    map[core.SessionID]string
	paused       map[string]bool
	closed       map[core.SessionID]int
	closeEntered chan struct{}
	closeGate    chan struct{}
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{
		producers: make(map[core.SessionID]string),
		paused:    make(map[string]bool),
		closed:    make(map[core.SessionID]int),
	}
}

func (e *fakeEngine) setProducer(sid core.SessionID, id string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.producers[sid] = id
}

func (e *fakeEngine) RTPCapabilities() protocol.RTPCapabilities {
	return protocol.RTPCapabilities{Codecs: []string{"audio/opus"}}
}

func (e *fakeEngine) CreateTransport(core.SessionID, protocol.TransportDirection) (*protocol.TransportParams, error) {
	return &protocol.TransportParams{TransportID: "t1"}, nil
}

func (e *fakeEngine) ConnectTransport(context.Context, core.SessionID, string, protocol.DTLSParameters) error {
	return nil
}

func (e *fakeEngine) Produce(context.Context, core.SessionID, string, protocol.RTPParameters) (string, error) {
	return "p1", nil
}

func (e *fakeEngine) Consume(context.Context, core.SessionID, string, protocol.RTPCapabilities) (*protocol.ConsumerParams, error) {
	return &protocol.ConsumerParams{ConsumerID: "c1"}, nil
}

func (e *fakeEngine) PauseProducer(_ core.SessionID, id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.paused[id] = true
	return nil
}

func (e *fakeEngine) ResumeProducer(_ core.SessionID, id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.paused[id] = false
	return nil
}

func (e *fakeEngine) ProducerOf(sid core.SessionID) (protocol.ProducerInfo, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	id, ok := e.producers[sid]
	if !ok {
		return protocol.ProducerInfo{}, false
	}
	return protocol.ProducerInfo{ProducerID: id, Paused: e.paused[id]}, true
}

func (e *fakeEngine) ProducerOwner(producerID string) (core.SessionID, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for sid, id := range e.producers {
		if id == producerID {
			return sid, true
		}
	}
	return "", false
}

// stallNextClose arms a one-shot block inside the next CloseSession call:
// entered closes when the call starts, release lets it finish.
func (e *fakeEngine) stallNextClose() (entered <-chan struct{}, release func()) {
	in := make(chan struct{})
	gate := make(chan struct{})
	e.mu.Lock()
	e.closeEntered = in
	e.closeGate = gate
	e.mu.Unlock()
	return in, func() { close(gate) }
}

func (e *fakeEngine) CloseSession(sid core.SessionID) {
	e.mu.Lock()
	in, gate := e.closeEntered, e.closeGate
	e.closeEntered, e.closeGate = nil, nil
	e.mu.Unlock()
	if in != nil {
		close(in)
	}
	if gate != nil {
		<-gate
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed[sid]++
	delete(e.producers, sid)
}

func (e *fakeEngine) closedCount(sid core.SessionID) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closed[sid]
}

func (e *fakeEngine) isPaused(id string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.paused[id]
}

type testEnv struct {
	t        *testing.T
	ctx      context.Context
	mgr      *Manager
	store    store.RoomStore
	registry *app.Registry
	notifier *recordingNotifier
	engine   *fakeEngine
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	st, err := store.OpenSQLite(":memory:")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	notifier := newRecordingNotifier()
	registry := app.NewRegistry()
	engine := newFakeEngine()
	mgr := NewManager(ctx, Deps{
		Store:    st,
		Engine:   engine,
		Notifier: notifier,
		Registry: registry,
		Hallway:  hallway.NewBroadcaster(notifier),
		Metrics:  metrics.NewNop(),
	})
	return &testEnv{t: t, ctx: ctx, mgr: mgr, store: st, registry: registry, notifier: notifier, engine: engine}
}

func (env *testEnv) createRoom(owner domain.UserID, max int) *domain.Room {
	env.t.Helper()
	room, err := env.mgr.CreateRoom(env.ctx, "test room", owner, max, nil)
	require.NoError(env.t, err)
	return room
}

func (env *testEnv) bind(sid core.SessionID, uid domain.UserID) {
	env.registry.Bind(sid, &domain.User{ID: uid, Username: string(uid)}, false, nil, nil)
}

func (env *testEnv) join(sid core.SessionID, uid domain.UserID, roomID domain.RoomID) *protocol.JoinResponse {
	env.t.Helper()
	env.bind(sid, uid)
	resp, err := env.mgr.Join(env.ctx, sid, uid, string(uid), roomID)
	require.NoError(env.t, err)
	return resp
}

func TestJoinFirstMemberBecomesOwner(t *testing.T) {
	env := newTestEnv(t)
	room := env.createRoom("alice", 16)

	resp := env.join("s-alice", "alice", room.ID)

	assert.Equal(t, string(room.ID), resp.RoomID)
	assert.Equal(t, "alice", resp.UserID)
	require.Len(t, resp.Participants, 1)
	assert.Equal(t, string(domain.RoleOwner), resp.Participants[0].Role)
}

func TestJoinIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	room := env.createRoom("alice", 16)

	env.join("s-alice", "alice", room.ID)

	// Same user again, fresh session: no duplicate roster entry, no
	// duplicate join broadcast.
	resp := env.join("s-alice-2", "alice", room.ID)
	require.Len(t, resp.Participants, 1)
	assert.Zero(t, env.notifier.count("s-alice-2", protocol.EventUserJoined))

	ps, err := env.store.ListParticipants(env.ctx, room.ID)
	require.NoError(t, err)
	assert.Len(t, ps, 1)
}

func TestJoinFullRoom(t *testing.T) {
	env := newTestEnv(t)
	room := env.createRoom("alice", 1)

	env.join("s-alice", "alice", room.ID)
	env.bind("s-bob", "bob")
	_, err := env.mgr.Join(env.ctx, "s-bob", "bob", "bob", room.ID)
	assert.True(t, errors.Is(err, domain.ErrRoomFull))
}

func TestJoinUnknownRoom(t *testing.T) {
	env := newTestEnv(t)
	env.bind("s-alice", "alice")
	_, err := env.mgr.Join(env.ctx, "s-alice", "alice", "alice", "no-such-room")
	assert.True(t, errors.Is(err, domain.ErrRoomNotFound))
}

func TestSyncRequiresMembership(t *testing.T) {
	env := newTestEnv(t)
	room := env.createRoom("alice", 16)
	env.join("s-alice", "alice", room.ID)

	env.bind("s-bob", "bob")
	_, err := env.mgr.Sync(env.ctx, "s-bob", "bob", "bob", room.ID)
	assert.True(t, errors.Is(err, domain.ErrNotMember))
}

func TestSyncRebindsSessionWithoutSideEffects(t *testing.T) {
	env := newTestEnv(t)
	room := env.createRoom("alice", 16)
	env.join("s-alice", "alice", room.ID)
	env.join("s-bob", "bob", room.ID)
	before := env.notifier.count("s-alice", protocol.EventUserJoined)

	env.bind("s-alice-2", "alice")
	resp, err := env.mgr.Sync(env.ctx, "s-alice-2", "alice", "alice", room.ID)
	require.NoError(t, err)
	assert.Len(t, resp.Participants, 2)
	assert.Equal(t, before, env.notifier.count("s-alice", protocol.EventUserJoined))

	// Broadcasts now reach the new session.
	require.NoError(t, env.mgr.Mute(env.ctx, "bob", room.ID, true))
	assert.Equal(t, 1, env.notifier.count("s-alice-2", protocol.EventUserMuted))
}

func TestBroadcastOrderJoinBeforeRoster(t *testing.T) {
	env := newTestEnv(t)
	room := env.createRoom("alice", 16)
	env.join("s-alice", "alice", room.ID)
	env.join("s-bob", "bob", room.ID)

	methods := env.notifier.methodsFor("s-alice")
	joinIdx, rosterIdx := -1, -1
	for i, m := range methods {
		if m == protocol.EventUserJoined && joinIdx < 0 {
			joinIdx = i
		}
		if m == protocol.EventParticipantsUpdated && rosterIdx < 0 {
			rosterIdx = i
		}
	}
	require.GreaterOrEqual(t, joinIdx, 0)
	require.GreaterOrEqual(t, rosterIdx, 0)
	assert.Less(t, joinIdx, rosterIdx, "user-joined must precede the roster snapshot")
}

func TestLeavePromotesEarliestJoined(t *testing.T) {
	env := newTestEnv(t)
	room := env.createRoom("alice", 16)
	env.join("s-alice", "alice", room.ID)
	time.Sleep(5 * time.Millisecond)
	env.join("s-bob", "bob", room.ID)
	time.Sleep(5 * time.Millisecond)
	env.join("s-carol", "carol", room.ID)

	require.NoError(t, env.mgr.Leave(env.ctx, "alice", room.ID, "leave"))

	ev, ok := env.notifier.lastPayload("s-carol", protocol.EventOwnerChanged).(protocol.OwnerChangedEvent)
	require.True(t, ok)
	assert.Equal(t, "bob", ev.UserID)

	got, err := env.store.GetRoom(env.ctx, room.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.UserID("bob"), got.OwnerID)
}

func TestLeaveReleasesMediaBeforeUserLeft(t *testing.T) {
	env := newTestEnv(t)
	room := env.createRoom("alice", 16)
	env.join("s-alice", "alice", room.ID)
	env.join("s-bob", "bob", room.ID)

	require.NoError(t, env.mgr.Leave(env.ctx, "bob", room.ID, "leave"))

	assert.Equal(t, 1, env.engine.closedCount("s-bob"))
	assert.Equal(t, 1, env.notifier.count("s-alice", protocol.EventUserLeft))
}

func TestLastLeaveClosesRoom(t *testing.T) {
	env := newTestEnv(t)
	room := env.createRoom("alice", 16)
	env.join("s-alice", "alice", room.ID)

	require.NoError(t, env.mgr.Leave(env.ctx, "alice", room.ID, "leave"))

	got, err := env.store.GetRoom(env.ctx, room.ID)
	require.NoError(t, err)
	assert.False(t, got.Active)

	env.bind("s-bob", "bob")
	_, err = env.mgr.Join(env.ctx, "s-bob", "bob", "bob", room.ID)
	assert.True(t, errors.Is(err, domain.ErrRoomClosed))
}

func TestKickRequiresOwner(t *testing.T) {
	env := newTestEnv(t)
	room := env.createRoom("alice", 16)
	env.join("s-alice", "alice", room.ID)
	env.join("s-bob", "bob", room.ID)

	err := env.mgr.Kick(env.ctx, "bob", "alice", room.ID)
	assert.True(t, errors.Is(err, domain.ErrNotOwner))

	require.NoError(t, env.mgr.Kick(env.ctx, "alice", "bob", room.ID))
	ps, err := env.store.ListParticipants(env.ctx, room.ID)
	require.NoError(t, err)
	require.Len(t, ps, 1)
	assert.Equal(t, domain.UserID("alice"), ps[0].UserID)
}

func TestTransferOwnership(t *testing.T) {
	env := newTestEnv(t)
	room := env.createRoom("alice", 16)
	env.join("s-alice", "alice", room.ID)
	env.join("s-bob", "bob", room.ID)

	err := env.mgr.TransferOwnership(env.ctx, "bob", "alice", room.ID)
	assert.True(t, errors.Is(err, domain.ErrNotOwner))

	require.NoError(t, env.mgr.TransferOwnership(env.ctx, "alice", "bob", room.ID))

	ev, ok := env.notifier.lastPayload("s-alice", protocol.EventOwnerChanged).(protocol.OwnerChangedEvent)
	require.True(t, ok)
	assert.Equal(t, "bob", ev.UserID)

	// Exactly one owner remains.
	ps, err := env.store.ListParticipants(env.ctx, room.ID)
	require.NoError(t, err)
	owners := 0
	for _, p := range ps {
		if p.Role == domain.RoleOwner {
			owners++
			assert.Equal(t, domain.UserID("bob"), p.UserID)
		}
	}
	assert.Equal(t, 1, owners)
}

func TestTransferToNonMember(t *testing.T) {
	env := newTestEnv(t)
	room := env.createRoom("alice", 16)
	env.join("s-alice", "alice", room.ID)

	err := env.mgr.TransferOwnership(env.ctx, "alice", "ghost", room.ID)
	assert.True(t, errors.Is(err, domain.ErrNotMember))
}

func TestMutePausesProducerAndNotifiesOthersOnly(t *testing.T) {
	env := newTestEnv(t)
	room := env.createRoom("alice", 16)
	env.join("s-alice", "alice", room.ID)
	env.join("s-bob", "bob", room.ID)
	env.engine.setProducer("s-alice", "prod-a")

	require.NoError(t, env.mgr.Mute(env.ctx, "alice", room.ID, true))
	assert.True(t, env.engine.isPaused("prod-a"))
	assert.Equal(t, 1, env.notifier.count("s-bob", protocol.EventUserMuted))
	assert.Equal(t, 0, env.notifier.count("s-alice", protocol.EventUserMuted))

	require.NoError(t, env.mgr.Mute(env.ctx, "alice", room.ID, false))
	assert.False(t, env.engine.isPaused("prod-a"))
}

func TestActiveSpeakerIsLoudestUnmuted(t *testing.T) {
	env := newTestEnv(t)
	room := env.createRoom("alice", 16)
	env.join("s-alice", "alice", room.ID)
	env.join("s-bob", "bob", room.ID)

	env.mgr.OnAudioLevel("s-alice", 0.4)
	env.mgr.OnAudioLevel("s-bob", 0.7)

	require.Eventually(t, func() bool {
		ev, ok := env.notifier.lastPayload("s-alice", protocol.EventActiveSpeaker).(protocol.ActiveSpeakerEvent)
		return ok && ev.UserID == "bob"
	}, time.Second, 10*time.Millisecond)

	// Muting the speaker clears the slot immediately.
	require.NoError(t, env.mgr.Mute(env.ctx, "bob", room.ID, true))
	ev, ok := env.notifier.lastPayload("s-alice", protocol.EventActiveSpeaker).(protocol.ActiveSpeakerEvent)
	require.True(t, ok)
	assert.Equal(t, "", ev.UserID)
}

func TestNewProducerReachesOthersOnly(t *testing.T) {
	env := newTestEnv(t)
	room := env.createRoom("alice", 16)
	env.join("s-alice", "alice", room.ID)
	env.join("s-bob", "bob", room.ID)

	require.NoError(t, env.mgr.AnnounceProducer(env.ctx, "alice", room.ID, "prod-a"))
	assert.Equal(t, 1, env.notifier.count("s-bob", protocol.EventNewProducer))
	assert.Equal(t, 0, env.notifier.count("s-alice", protocol.EventNewProducer))
}

func TestCloseRoomEvictsEveryone(t *testing.T) {
	env := newTestEnv(t)
	room := env.createRoom("alice", 16)
	env.join("s-alice", "alice", room.ID)
	env.join("s-bob", "bob", room.ID)

	require.NoError(t, env.mgr.CloseRoom(env.ctx, room.ID, "owner closed"))

	assert.Equal(t, 1, env.notifier.count("s-alice", protocol.EventRoomClosed))
	assert.Equal(t, 1, env.notifier.count("s-bob", protocol.EventRoomClosed))
	assert.Equal(t, 1, env.engine.closedCount("s-alice"))
	assert.Equal(t, 1, env.engine.closedCount("s-bob"))

	got, err := env.store.GetRoom(env.ctx, room.ID)
	require.NoError(t, err)
	assert.False(t, got.Active)

	ps, err := env.store.ListParticipants(env.ctx, room.ID)
	require.NoError(t, err)
	assert.Empty(t, ps)
}

func TestSwitchRoomsLeavesPrevious(t *testing.T) {
	env := newTestEnv(t)
	r1 := env.createRoom("alice", 16)
	r2 := env.createRoom("alice", 16)

	env.join("s-alice", "alice", r1.ID)
	resp, err := env.mgr.Join(env.ctx, "s-alice", "alice", "alice", r2.ID)
	require.NoError(t, err)
	assert.Equal(t, string(r2.ID), resp.RoomID)

	// The emptied first room closed behind the switch.
	got, err := env.store.GetRoom(env.ctx, r1.ID)
	require.NoError(t, err)
	assert.False(t, got.Active)

	roomID, ok := env.registry.RoomOf("s-alice")
	require.True(t, ok)
	assert.Equal(t, r2.ID, roomID)
}

func TestDisconnectRunsLeavePath(t *testing.T) {
	env := newTestEnv(t)
	room := env.createRoom("alice", 16)
	env.join("s-alice", "alice", room.ID)
	env.join("s-bob", "bob", room.ID)

	env.mgr.DisconnectSession("s-bob")

	assert.Equal(t, 1, env.notifier.count("s-alice", protocol.EventUserLeft))
	ps, err := env.store.ListParticipants(env.ctx, room.ID)
	require.NoError(t, err)
	require.Len(t, ps, 1)
	assert.Equal(t, domain.UserID("alice"), ps[0].UserID)
}

func TestRejoinSurvivesStaleSessionDisconnect(t *testing.T) {
	env := newTestEnv(t)
	room := env.createRoom("alice", 16)
	env.join("s-alice", "alice", room.ID)
	env.join("s-bob", "bob", room.ID)

	// Alice rejoins on a fresh session, then the dead socket's disconnect
	// fires — the usual ordering for a dropped-then-rejoined client.
	env.join("s-alice-2", "alice", room.ID)

	// The rebind released the replaced session's room routing and media.
	_, ok := env.registry.RoomOf("s-alice")
	assert.False(t, ok)
	assert.Equal(t, 1, env.engine.closedCount("s-alice"))

	env.mgr.DisconnectSession("s-alice")

	// The reconnected member is untouched: no eviction, no ownership move.
	ps, err := env.store.ListParticipants(env.ctx, room.ID)
	require.NoError(t, err)
	ids := make([]domain.UserID, 0, len(ps))
	for _, p := range ps {
		ids = append(ids, p.UserID)
	}
	assert.ElementsMatch(t, []domain.UserID{"alice", "bob"}, ids)

	got, err := env.store.GetRoom(env.ctx, room.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.UserID("alice"), got.OwnerID)
	assert.Zero(t, env.notifier.count("s-bob", protocol.EventUserLeft))
	assert.Zero(t, env.notifier.count("s-bob", protocol.EventOwnerChanged))

	// The new session's media was never touched.
	assert.Zero(t, env.engine.closedCount("s-alice-2"))
}

func TestStaleDisconnectAfterSync(t *testing.T) {
	env := newTestEnv(t)
	room := env.createRoom("alice", 16)
	env.join("s-alice", "alice", room.ID)
	env.join("s-bob", "bob", room.ID)

	env.bind("s-alice-2", "alice")
	_, err := env.mgr.Sync(env.ctx, "s-alice-2", "alice", "alice", room.ID)
	require.NoError(t, err)

	env.mgr.DisconnectSession("s-alice")

	ps, err := env.store.ListParticipants(env.ctx, room.ID)
	require.NoError(t, err)
	assert.Len(t, ps, 2)
}

func TestCommandsQueuedBehindCloseAreRejected(t *testing.T) {
	env := newTestEnv(t)
	room := env.createRoom("alice", 16)
	env.join("s-alice", "alice", room.ID)
	env.join("s-bob", "bob", room.ID)

	a, ok := env.mgr.actor(room.ID)
	require.True(t, ok)

	// Stall the actor inside alice's leave so more commands pile up behind
	// the close.
	entered, release := env.engine.stallNextClose()
	leaveDone := make(chan error, 1)
	go func() { leaveDone <- env.mgr.Leave(env.ctx, "alice", room.ID, "leave") }()
	<-entered

	closeC := closeCmd{baseCmd: newBaseCmd(), reason: "force"}
	require.NoError(t, a.send(env.ctx, closeC))
	late := muteCmd{baseCmd: newBaseCmd(), userID: "bob", muted: true}
	require.NoError(t, a.send(env.ctx, late))

	release()
	require.NoError(t, <-leaveDone)

	// The command enqueued behind the closure gets a reply, not a stall.
	select {
	case r := <-late.out:
		assert.True(t, errors.Is(r.err, domain.ErrRoomClosed))
	case <-time.After(2 * time.Second):
		t.Fatal("command queued behind close was never answered")
	}
}

func TestSlowReceiverGetsKicked(t *testing.T) {
	env := newTestEnv(t)
	room := env.createRoom("alice", 16)
	env.join("s-alice", "alice", room.ID)
	env.join("s-bob", "bob", room.ID)

	env.notifier.breakSession("s-bob")
	env.join("s-carol", "carol", room.ID)

	require.Eventually(t, func() bool {
		ps, err := env.store.ListParticipants(env.ctx, room.ID)
		if err != nil {
			return false
		}
		for _, p := range ps {
			if p.UserID == "bob" {
				return false
			}
		}
		return len(ps) == 2
	}, time.Second, 10*time.Millisecond, "broken receiver should be evicted")
}

func TestListRoomsReportsLiveCounts(t *testing.T) {
	env := newTestEnv(t)
	room := env.createRoom("alice", 16)
	env.join("s-alice", "alice", room.ID)
	env.join("s-bob", "bob", room.ID)

	list, err := env.mgr.ListRooms(env.ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, 2, list[0].ParticipantCount)
	assert.Equal(t, 16, list[0].MaxParticipants)
}

func TestJoinResponseListsLiveProducers(t *testing.T) {
	env := newTestEnv(t)
	room := env.createRoom("alice", 16)
	env.join("s-alice", "alice", room.ID)
	env.engine.setProducer("s-alice", "prod-a")

	resp := env.join("s-bob", "bob", room.ID)
	require.Len(t, resp.Producers, 1)
	assert.Equal(t, "prod-a", resp.Producers[0].ProducerID)
	assert.Equal(t, "alice", resp.Producers[0].UserID)
}
