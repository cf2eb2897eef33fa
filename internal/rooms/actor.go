package rooms

import (
	"context"
	"fmt"
	"sort"
	"sync/atomic"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/hallwayfm/hallway/internal/app"
	"github.com/hallwayfm/hallway/internal/core"
	"github.com/hallwayfm/hallway/internal/domain"
	"github.com/hallwayfm/hallway/internal/protocol"
)

// actor owns one room's roster, ownership and producer bookkeeping
// exclusively. All mutations arrive as commands on a single channel, so every
// broadcast leaves in the same order the mutation happened — an observer can
// never see a leave for a user it never saw join.
type actor struct {
	m    *Manager
	room *domain.Room

	cmds chan command
	done chan struct{}

	state   domain.RoomState
	members map[domain.UserID]*member
	speaker domain.UserID
	count   atomic.Int32

	logger zerolog.Logger
}

// memberCount is safe to read from outside the actor goroutine.
func (a *actor) memberCount() int { return int(a.count.Load()) }

type member struct {
	sid         core.SessionID
	participant *domain.Participant
	username    string
	level       float64
}

type result struct {
	resp *protocol.JoinResponse
	err  error
}

type command interface{ reply(result) }

type baseCmd struct{ out chan result }

func newBaseCmd() baseCmd        { return baseCmd{out: make(chan result, 1)} }
func (c baseCmd) reply(r result) { c.out <- r }

type joinCmd struct {
	baseCmd
	sid      core.SessionID
	userID   domain.UserID
	username string
	sync     bool
}

type leaveCmd struct {
	baseCmd
	userID domain.UserID
	// sid, when set, restricts the leave to that session: a disconnect from a
	// session the member already replaced must not evict them.
	sid    core.SessionID
	reason string
}

type kickCmd struct {
	baseCmd
	caller domain.UserID
	target domain.UserID
}

type transferCmd struct {
	baseCmd
	caller domain.UserID
	target domain.UserID
}

type muteCmd struct {
	baseCmd
	userID domain.UserID
	muted  bool
}

type producerCmd struct {
	baseCmd
	userID     domain.UserID
	producerID string
}

type levelCmd struct {
	userID domain.UserID
	level  float64
}

func (levelCmd) reply(result) {}

type closeCmd struct {
	baseCmd
	reason string
}

func newActor(m *Manager, room *domain.Room) *actor {
	return &actor{
		m:       m,
		room:    room,
		cmds:    make(chan command, 64),
		done:    make(chan struct{}),
		state:   domain.RoomActive,
		members: make(map[domain.UserID]*member),
		logger:  log.With().Str("module", "rooms").Str("room", string(room.ID)).Logger(),
	}
}

func (a *actor) run(ctx context.Context) {
	defer a.drainCmds()
	defer close(a.done)
	for {
		select {
		case <-ctx.Done():
			a.closeRoom("shutdown")
			return
		case c := <-a.cmds:
			a.dispatch(ctx, c)
			if a.state == domain.RoomClosed {
				return
			}
		}
	}
}

func (a *actor) dispatch(ctx context.Context, c command) {
	switch c := c.(type) {
	case joinCmd:
		c.reply(a.handleJoin(ctx, c))
	case leaveCmd:
		c.reply(result{err: a.handleLeave(ctx, c.userID, c.sid, c.reason)})
	case kickCmd:
		c.reply(result{err: a.handleKick(ctx, c.caller, c.target)})
	case transferCmd:
		c.reply(result{err: a.handleTransfer(ctx, c.caller, c.target)})
	case muteCmd:
		c.reply(result{err: a.handleMute(ctx, c.userID, c.muted)})
	case producerCmd:
		a.handleNewProducer(c.userID, c.producerID)
		c.reply(result{})
	case levelCmd:
		a.handleLevel(c.userID, c.level)
	case closeCmd:
		a.closeRoom(c.reason)
		c.reply(result{})
	}
}

// drainCmds rejects every command that won the enqueue race against closure,
// so no caller stalls out waiting for a reply that will never come. Runs
// after done is closed, when new sends are already refused.
func (a *actor) drainCmds() {
	for {
		select {
		case c := <-a.cmds:
			c.reply(result{err: domain.ErrRoomClosed})
		default:
			return
		}
	}
}

// send delivers a command unless the actor already stopped.
func (a *actor) send(ctx context.Context, c command) error {
	select {
	case a.cmds <- c:
		return nil
	case <-a.done:
		return domain.ErrRoomClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (a *actor) handleJoin(ctx context.Context, c joinCmd) result {
	if a.state != domain.RoomActive {
		return result{err: domain.ErrRoomClosed}
	}

	existing, isMember := a.members[c.userID]
	if c.sync {
		// Reconnection path: membership is required, no join side effects.
		if !isMember {
			return result{err: domain.ErrNotMember}
		}
		a.rebind(existing, c.sid)
		a.logger.Info().Str("user", string(c.userID)).Msg("session resynced")
		return result{resp: a.joinResponse(c.userID)}
	}

	if isMember {
		// Repeated join is idempotent: rebind the session, no duplicate
		// roster entry, no duplicate broadcast.
		a.rebind(existing, c.sid)
		return result{resp: a.joinResponse(c.userID)}
	}

	if a.room.MaxParticipants > 0 && len(a.members) >= a.room.MaxParticipants {
		return result{err: domain.ErrRoomFull}
	}

	role := domain.RoleParticipant
	if c.userID == a.room.OwnerID || !a.hasOwner() {
		role = domain.RoleOwner
	}
	p := domain.NewParticipant(a.room.ID, c.userID, role)

	// Persist before any roster mutation so a store failure leaves nothing
	// half-joined.
	if err := a.m.store.UpsertParticipant(ctx, p); err != nil {
		a.logger.Error().Err(err).Str("user", string(c.userID)).Msg("persist join")
		return result{err: fmt.Errorf("%w: %v", domain.ErrJoinFailed, err)}
	}
	if role == domain.RoleOwner && a.room.OwnerID != c.userID {
		a.room.OwnerID = c.userID
		if err := a.m.store.SetRoomOwner(ctx, a.room.ID, c.userID); err != nil {
			a.logger.Error().Err(err).Msg("persist owner")
		}
	}

	a.members[c.userID] = &member{sid: c.sid, participant: p, username: c.username}
	a.count.Store(int32(len(a.members)))
	a.m.registry.SetRoom(c.sid, a.room.ID)
	a.m.metrics.Participants.Inc()

	a.logger.Info().Str("user", string(c.userID)).Str("role", string(role)).Msg("member joined")

	// The whole room gets both events, sender included; clients filter self.
	// The full snapshot lets anyone who missed an earlier event reconcile.
	a.broadcast(protocol.EventUserJoined, protocol.UserJoinedEvent{Participant: participantInfo(a.members[c.userID])})
	a.broadcast(protocol.EventParticipantsUpdated, protocol.ParticipantsUpdatedEvent{
		Participants: a.participantInfos(),
		Reason:       "join",
	})
	a.m.hall.RoomUpdated(a.summary())

	return result{resp: a.joinResponse(c.userID)}
}

// rebind points the member at a fresh session. The replaced session's media
// and room routing are released so its eventual disconnect is a no-op for the
// member.
func (a *actor) rebind(mb *member, sid core.SessionID) {
	if mb.sid != sid {
		a.m.engine.CloseSession(mb.sid)
		a.m.registry.ClearRoom(mb.sid)
	}
	mb.sid = sid
	a.m.registry.SetRoom(sid, a.room.ID)
}

func (a *actor) handleLeave(ctx context.Context, userID domain.UserID, sid core.SessionID, reason string) error {
	mb, ok := a.members[userID]
	if !ok {
		return domain.ErrNotMember
	}
	if sid != "" && mb.sid != sid {
		// Stale disconnect: the member already rebound to a newer session.
		a.logger.Info().Str("user", string(userID)).Str("sid", string(sid)).Msg("ignoring leave from replaced session")
		return nil
	}

	// Media first: the producer must be dead before anyone is told the user
	// left, so no consumer outlives its producer's roster entry.
	a.m.engine.CloseSession(mb.sid)

	a.broadcast(protocol.EventUserLeft, protocol.UserLeftEvent{UserID: string(userID)})

	wasOwner := mb.participant.Role == domain.RoleOwner
	delete(a.members, userID)
	a.count.Store(int32(len(a.members)))
	a.m.registry.ClearRoom(mb.sid)
	a.m.metrics.Participants.Dec()
	if err := a.m.store.RemoveParticipant(ctx, a.room.ID, userID); err != nil {
		a.logger.Error().Err(err).Str("user", string(userID)).Msg("persist leave")
	}

	if a.speaker == userID {
		a.speaker = ""
		a.broadcast(protocol.EventActiveSpeaker, protocol.ActiveSpeakerEvent{})
	}

	a.logger.Info().Str("user", string(userID)).Str("reason", reason).Msg("member left")

	if len(a.members) == 0 {
		a.closeRoom("emptied")
		return nil
	}

	if wasOwner {
		next := a.earliestJoined()
		a.promote(ctx, next)
	}

	a.broadcast(protocol.EventParticipantsUpdated, protocol.ParticipantsUpdatedEvent{
		Participants: a.participantInfos(),
		Reason:       reason,
	})
	a.m.hall.RoomUpdated(a.summary())
	return nil
}

func (a *actor) handleKick(ctx context.Context, caller, target domain.UserID) error {
	if err := a.requireOwner(caller); err != nil {
		return err
	}
	if _, ok := a.members[target]; !ok {
		return domain.ErrNotMember
	}
	return a.handleLeave(ctx, target, "", "kick")
}

func (a *actor) handleTransfer(ctx context.Context, caller, target domain.UserID) error {
	if err := a.requireOwner(caller); err != nil {
		return err
	}
	if _, ok := a.members[target]; !ok {
		return domain.ErrNotMember
	}
	if caller == target {
		return nil
	}

	if cur, ok := a.members[caller]; ok {
		cur.participant.Role = domain.RoleParticipant
		if err := a.m.store.SetParticipantRole(ctx, a.room.ID, caller, domain.RoleParticipant); err != nil {
			a.logger.Error().Err(err).Msg("persist demote")
		}
	}
	a.promote(ctx, target)
	a.broadcast(protocol.EventParticipantsUpdated, protocol.ParticipantsUpdatedEvent{
		Participants: a.participantInfos(),
		Reason:       "owner-changed",
	})
	return nil
}

func (a *actor) handleMute(ctx context.Context, userID domain.UserID, muted bool) error {
	mb, ok := a.members[userID]
	if !ok {
		return domain.ErrNotMember
	}

	if info, ok := a.m.engine.ProducerOf(mb.sid); ok {
		var err error
		if muted {
			err = a.m.engine.PauseProducer(mb.sid, info.ProducerID)
		} else {
			err = a.m.engine.ResumeProducer(mb.sid, info.ProducerID)
		}
		if err != nil {
			a.logger.Error().Err(err).Str("user", string(userID)).Msg("producer pause/resume")
		}
	}

	mb.participant.Muted = muted
	if err := a.m.store.SetParticipantMuted(ctx, a.room.ID, userID, muted); err != nil {
		a.logger.Error().Err(err).Msg("persist mute")
	}
	if muted && a.speaker == userID {
		a.speaker = ""
		a.broadcast(protocol.EventActiveSpeaker, protocol.ActiveSpeakerEvent{})
	}

	// Relayed to the rest of the room only; the sender already knows.
	a.broadcastExcept(userID, protocol.EventUserMuted, protocol.UserMutedEvent{
		UserID: string(userID),
		Muted:  muted,
	})
	return nil
}

// handleNewProducer tells everyone else a publisher went live. The producing
// client already holds the producer id from its own produce call.
func (a *actor) handleNewProducer(userID domain.UserID, producerID string) {
	if _, ok := a.members[userID]; !ok {
		return
	}
	a.broadcastExcept(userID, protocol.EventNewProducer, protocol.NewProducerEvent{
		UserID:     string(userID),
		ProducerID: producerID,
	})
}

func (a *actor) handleLevel(userID domain.UserID, level float64) {
	mb, ok := a.members[userID]
	if !ok {
		return
	}
	mb.level = level

	var loudest domain.UserID
	var max float64
	for id, m := range a.members {
		if m.participant.Muted || m.level <= 0 {
			continue
		}
		if m.level > max {
			max = m.level
			loudest = id
		}
	}
	if loudest != a.speaker {
		a.speaker = loudest
		a.broadcast(protocol.EventActiveSpeaker, protocol.ActiveSpeakerEvent{UserID: string(loudest)})
	}
}

// closeRoom is the terminal transition. Every remaining member's media is
// released, the closure reaches both the room and the lobby, and the roster
// decision is made atomically with the state change.
func (a *actor) closeRoom(reason string) {
	if a.state == domain.RoomClosed {
		return
	}
	a.state = domain.RoomClosing

	ev := protocol.RoomClosedEvent{RoomID: string(a.room.ID), Reason: reason}
	a.broadcast(protocol.EventRoomClosed, ev)
	for id, mb := range a.members {
		a.m.engine.CloseSession(mb.sid)
		a.m.registry.ClearRoom(mb.sid)
		a.m.metrics.Participants.Dec()
		if err := a.m.store.RemoveParticipant(context.Background(), a.room.ID, id); err != nil {
			a.logger.Error().Err(err).Str("user", string(id)).Msg("persist close")
		}
	}
	a.members = make(map[domain.UserID]*member)
	a.count.Store(0)

	if err := a.m.store.SetRoomActive(context.Background(), a.room.ID, false); err != nil {
		a.logger.Error().Err(err).Msg("persist room close")
	}
	a.m.hall.RoomClosed(a.summary())
	a.m.metrics.ActiveRooms.Dec()
	a.state = domain.RoomClosed
	a.m.removeActor(a.room.ID)
	a.logger.Info().Str("reason", reason).Msg("room closed")
}

func (a *actor) promote(ctx context.Context, userID domain.UserID) {
	mb, ok := a.members[userID]
	if !ok {
		return
	}
	mb.participant.Role = domain.RoleOwner
	a.room.OwnerID = userID
	if err := a.m.store.SetParticipantRole(ctx, a.room.ID, userID, domain.RoleOwner); err != nil {
		a.logger.Error().Err(err).Msg("persist promote")
	}
	if err := a.m.store.SetRoomOwner(ctx, a.room.ID, userID); err != nil {
		a.logger.Error().Err(err).Msg("persist owner")
	}
	a.broadcast(protocol.EventOwnerChanged, protocol.OwnerChangedEvent{UserID: string(userID)})
	a.logger.Info().Str("user", string(userID)).Msg("ownership transferred")
}

func (a *actor) requireOwner(userID domain.UserID) error {
	mb, ok := a.members[userID]
	if !ok {
		return domain.ErrNotMember
	}
	if mb.participant.Role != domain.RoleOwner {
		return domain.ErrNotOwner
	}
	return nil
}

func (a *actor) hasOwner() bool {
	for _, m := range a.members {
		if m.participant.Role == domain.RoleOwner {
			return true
		}
	}
	return false
}

func (a *actor) earliestJoined() domain.UserID {
	ids := make([]domain.UserID, 0, len(a.members))
	for id := range a.members {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		pi, pj := a.members[ids[i]].participant, a.members[ids[j]].participant
		if pi.JoinedAt.Equal(pj.JoinedAt) {
			return ids[i] < ids[j]
		}
		return pi.JoinedAt.Before(pj.JoinedAt)
	})
	if len(ids) == 0 {
		return ""
	}
	return ids[0]
}

func (a *actor) broadcast(method string, payload any) {
	a.broadcastExcept("", method, payload)
}

func (a *actor) broadcastExcept(skip domain.UserID, method string, payload any) {
	var slow []core.SessionID
	for id, mb := range a.members {
		if id == skip {
			continue
		}
		if err := a.m.notifier.Notify(mb.sid, method, payload); err != nil {
			a.logger.Warn().Err(err).Str("user", string(id)).Str("event", method).Msg("notify failed")
			if a.m.policy.OnBackPressure(mb.sid) == app.KickMember {
				slow = append(slow, mb.sid)
			}
		}
	}
	// Kicks are re-queued, never handled inline: the current command
	// finishes against a stable roster.
	for _, sid := range slow {
		go a.m.DisconnectSession(sid)
	}
}

func (a *actor) joinResponse(self domain.UserID) *protocol.JoinResponse {
	resp := &protocol.JoinResponse{
		RoomID:       string(a.room.ID),
		UserID:       string(self),
		Participants: a.participantInfos(),
		Producers:    []protocol.ProducerInfo{},
	}
	for id, mb := range a.members {
		if info, ok := a.m.engine.ProducerOf(mb.sid); ok {
			info.UserID = string(id)
			resp.Producers = append(resp.Producers, info)
		}
	}
	return resp
}

func (a *actor) participantInfos() []protocol.ParticipantInfo {
	out := make([]protocol.ParticipantInfo, 0, len(a.members))
	for _, mb := range a.members {
		out = append(out, participantInfo(mb))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].JoinedAt.Before(out[j].JoinedAt) })
	return out
}

func participantInfo(mb *member) protocol.ParticipantInfo {
	return protocol.ParticipantInfo{
		UserID:   string(mb.participant.UserID),
		Username: mb.username,
		Role:     string(mb.participant.Role),
		Muted:    mb.participant.Muted,
		JoinedAt: mb.participant.JoinedAt,
	}
}

func (a *actor) summary() protocol.HallwayRoomEvent {
	return protocol.HallwayRoomEvent{
		RoomID:           string(a.room.ID),
		Name:             string(a.room.Name),
		ParticipantCount: len(a.members),
		MaxParticipants:  a.room.MaxParticipants,
		Languages:        a.room.Languages,
	}
}
