// Package rooms is the authoritative room session manager. One actor
// goroutine per room serializes that room's mutations; unrelated rooms never
// wait on each other.
package rooms

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/hallwayfm/hallway/internal/app"
	"github.com/hallwayfm/hallway/internal/core"
	"github.com/hallwayfm/hallway/internal/domain"
	"github.com/hallwayfm/hallway/internal/hallway"
	"github.com/hallwayfm/hallway/internal/metrics"
	"github.com/hallwayfm/hallway/internal/protocol"
	"github.com/hallwayfm/hallway/internal/store"
)

type Manager struct {
	ctx context.Context

	store    store.RoomStore
	engine   core.MediaEngine
	notifier core.Notifier
	registry *app.Registry
	hall     *hallway.Broadcaster
	policy   app.Policy
	metrics  *metrics.Metrics

	mu     sync.RWMutex
	actors map[domain.RoomID]*actor
}

type Deps struct {
	Store    store.RoomStore
	Engine   core.MediaEngine
	Notifier core.Notifier
	Registry *app.Registry
	Hallway  *hallway.Broadcaster
	Policy   app.Policy
	Metrics  *metrics.Metrics
}

func NewManager(ctx context.Context, d Deps) *Manager {
	policy := d.Policy
	if policy == nil {
		policy = app.SimplePolicy{}
	}
	return &Manager{
		ctx:      ctx,
		store:    d.Store,
		engine:   d.Engine,
		notifier: d.Notifier,
		registry: d.Registry,
		hall:     d.Hallway,
		policy:   policy,
		metrics:  d.Metrics,
		actors:   make(map[domain.RoomID]*actor),
	}
}

// CreateRoom persists a new active room and announces it in the hallway.
// The actor is spun up lazily on first join.
func (m *Manager) CreateRoom(ctx context.Context, name domain.RoomName, owner domain.UserID, maxParticipants int, languages []string) (*domain.Room, error) {
	room := &domain.Room{
		ID:              domain.RoomID(uuid.NewString()),
		Name:            name,
		OwnerID:         owner,
		MaxParticipants: maxParticipants,
		Active:          true,
		Languages:       languages,
	}
	if err := m.store.CreateRoom(ctx, room); err != nil {
		return nil, err
	}
	m.hall.RoomCreated(protocol.HallwayRoomEvent{
		RoomID:          string(room.ID),
		Name:            string(room.Name),
		MaxParticipants: room.MaxParticipants,
		Languages:       room.Languages,
	})
	log.Info().Str("module", "rooms").Str("room", string(room.ID)).Str("owner", string(owner)).Msg("room created")
	return room, nil
}

// Join inserts the user into the room (idempotent) and returns the roster
// plus every live producer. Callers must already be authenticated.
func (m *Manager) Join(ctx context.Context, sid core.SessionID, userID domain.UserID, username string, roomID domain.RoomID) (*protocol.JoinResponse, error) {
	return m.join(ctx, sid, userID, username, roomID, false)
}

// Sync is the reconnection path: same response shape as Join, but it requires
// existing membership and re-runs no join side effects.
func (m *Manager) Sync(ctx context.Context, sid core.SessionID, userID domain.UserID, username string, roomID domain.RoomID) (*protocol.JoinResponse, error) {
	return m.join(ctx, sid, userID, username, roomID, true)
}

func (m *Manager) join(ctx context.Context, sid core.SessionID, userID domain.UserID, username string, roomID domain.RoomID, sync bool) (*protocol.JoinResponse, error) {
	// Switching rooms leaves the old one first.
	if prev, ok := m.registry.RoomOf(sid); ok && prev != roomID {
		if err := m.Leave(ctx, userID, prev, "switch"); err != nil && !errors.Is(err, domain.ErrNotMember) {
			log.Warn().Str("module", "rooms").Err(err).Str("sid", string(sid)).Msg("leave before switch")
		}
	}

	a, err := m.actorFor(ctx, roomID)
	if err != nil {
		m.metrics.JoinFailures.WithLabelValues(domain.ErrorCode(err)).Inc()
		return nil, err
	}
	c := joinCmd{baseCmd: newBaseCmd(), sid: sid, userID: userID, username: username, sync: sync}
	if err := a.send(ctx, c); err != nil {
		return nil, err
	}
	select {
	case r := <-c.out:
		if r.err != nil {
			m.metrics.JoinFailures.WithLabelValues(domain.ErrorCode(r.err)).Inc()
		}
		return r.resp, r.err
	case <-a.done:
		// The actor stopped; the drain may still have replied.
		select {
		case r := <-c.out:
			return r.resp, r.err
		default:
			m.metrics.JoinFailures.WithLabelValues(domain.ErrorCode(domain.ErrRoomClosed)).Inc()
			return nil, domain.ErrRoomClosed
		}
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (m *Manager) Leave(ctx context.Context, userID domain.UserID, roomID domain.RoomID, reason string) error {
	a, ok := m.actor(roomID)
	if !ok {
		return domain.ErrRoomNotFound
	}
	c := leaveCmd{baseCmd: newBaseCmd(), userID: userID, reason: reason}
	return m.await(ctx, a, c, c.out)
}

func (m *Manager) Kick(ctx context.Context, caller, target domain.UserID, roomID domain.RoomID) error {
	a, ok := m.actor(roomID)
	if !ok {
		return domain.ErrRoomNotFound
	}
	c := kickCmd{baseCmd: newBaseCmd(), caller: caller, target: target}
	return m.await(ctx, a, c, c.out)
}

func (m *Manager) TransferOwnership(ctx context.Context, caller, target domain.UserID, roomID domain.RoomID) error {
	a, ok := m.actor(roomID)
	if !ok {
		return domain.ErrRoomNotFound
	}
	c := transferCmd{baseCmd: newBaseCmd(), caller: caller, target: target}
	return m.await(ctx, a, c, c.out)
}

// Mute pauses or resumes the member's producer and relays the change to the
// rest of the room. The notification itself is unacknowledged on the wire;
// this is the accepted inconsistency window.
func (m *Manager) Mute(ctx context.Context, userID domain.UserID, roomID domain.RoomID, muted bool) error {
	a, ok := m.actor(roomID)
	if !ok {
		return domain.ErrRoomNotFound
	}
	c := muteCmd{baseCmd: newBaseCmd(), userID: userID, muted: muted}
	return m.await(ctx, a, c, c.out)
}

// AnnounceProducer broadcasts a freshly live producer to the rest of the
// member's room.
func (m *Manager) AnnounceProducer(ctx context.Context, userID domain.UserID, roomID domain.RoomID, producerID string) error {
	a, ok := m.actor(roomID)
	if !ok {
		return domain.ErrRoomNotFound
	}
	c := producerCmd{baseCmd: newBaseCmd(), userID: userID, producerID: producerID}
	return m.await(ctx, a, c, c.out)
}

// CloseRoom force-closes a room; room-closed reaches the room and the lobby.
func (m *Manager) CloseRoom(ctx context.Context, roomID domain.RoomID, reason string) error {
	a, ok := m.actor(roomID)
	if !ok {
		return domain.ErrRoomNotFound
	}
	c := closeCmd{baseCmd: newBaseCmd(), reason: reason}
	return m.await(ctx, a, c, c.out)
}

// DisconnectSession runs the leave path for a session whose channel died.
// Safe to call for sessions that are in no room. The leave is scoped to the
// disconnecting session: if the user already rebound to a newer one, only the
// dead session's media is released.
func (m *Manager) DisconnectSession(sid core.SessionID) {
	defer m.engine.CloseSession(sid)

	roomID, ok := m.registry.RoomOf(sid)
	if !ok {
		return
	}
	sess, ok := m.registry.Get(sid)
	if !ok {
		return
	}
	a, ok := m.actor(roomID)
	if !ok {
		return
	}
	c := leaveCmd{baseCmd: newBaseCmd(), userID: sess.User.ID, sid: sid, reason: "disconnect"}
	err := m.await(m.ctx, a, c, c.out)
	if err != nil && !errors.Is(err, domain.ErrNotMember) && !errors.Is(err, domain.ErrRoomClosed) {
		log.Warn().Str("module", "rooms").Err(err).Str("sid", string(sid)).Msg("disconnect leave")
	}
}

// OnAudioLevel implements core.LevelSink; levels are routed into the session's
// room actor and dropped if the actor is busy — levels are advisory.
func (m *Manager) OnAudioLevel(sid core.SessionID, level float64) {
	roomID, ok := m.registry.RoomOf(sid)
	if !ok {
		return
	}
	sess, ok := m.registry.Get(sid)
	if !ok {
		return
	}
	a, ok := m.actor(roomID)
	if !ok {
		return
	}
	select {
	case a.cmds <- levelCmd{userID: sess.User.ID, level: level}:
	default:
	}
}

// ListRooms is the lobby view.
func (m *Manager) ListRooms(ctx context.Context) ([]protocol.HallwayRoomEvent, error) {
	rooms, err := m.store.ListActiveRooms(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]protocol.HallwayRoomEvent, 0, len(rooms))
	for _, r := range rooms {
		ev := protocol.HallwayRoomEvent{
			RoomID:          string(r.ID),
			Name:            string(r.Name),
			MaxParticipants: r.MaxParticipants,
			Languages:       r.Languages,
		}
		if a, ok := m.actor(r.ID); ok {
			ev.ParticipantCount = a.memberCount()
		}
		out = append(out, ev)
	}
	return out, nil
}

func (m *Manager) actor(roomID domain.RoomID) (*actor, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.actors[roomID]
	return a, ok
}

// actorFor returns the running actor, loading the room from the store and
// spinning the actor up on first touch.
func (m *Manager) actorFor(ctx context.Context, roomID domain.RoomID) (*actor, error) {
	if a, ok := m.actor(roomID); ok {
		return a, nil
	}

	room, err := m.store.GetRoom(ctx, roomID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, domain.ErrRoomNotFound
	}
	if err != nil {
		return nil, err
	}
	if !room.Active {
		return nil, domain.ErrRoomClosed
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if a, ok := m.actors[roomID]; ok {
		return a, nil
	}
	a := newActor(m, room)
	m.actors[roomID] = a
	m.metrics.ActiveRooms.Inc()
	go a.run(m.ctx)
	return a, nil
}

func (m *Manager) removeActor(roomID domain.RoomID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.actors, roomID)
}

func (m *Manager) await(ctx context.Context, a *actor, c command, out chan result) error {
	if err := a.send(ctx, c); err != nil {
		return err
	}
	select {
	case r := <-out:
		return r.err
	case <-a.done:
		select {
		case r := <-out:
			return r.err
		default:
			return domain.ErrRoomClosed
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}
