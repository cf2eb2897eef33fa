package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/looplab/fsm"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/hallwayfm/hallway/internal/domain"
	"github.com/hallwayfm/hallway/internal/protocol"
)

// Coordinator session states.
const (
	StateDisconnected = "disconnected"
	StateConnecting   = "connecting"
	StateConnected    = "connected"
	StateReconnecting = "reconnecting"
	StateFailed       = "failed"
)

const (
	evConnect    = "connect"
	evConnected  = "connected"
	evDrop       = "drop"
	evDisconnect = "disconnect"
	evFail       = "fail"
)

const (
	maxReconnectAttempts = 5
	reconnectBaseDelay   = 500 * time.Millisecond
)

// RemoteParticipant is the client-side view of one other member. An entry
// exists exactly as long as a live consumer does.
type RemoteParticipant struct {
	UserID     string
	Username   string
	Role       string
	Muted      bool
	ProducerID string
	ConsumerID string
	TrackID    string
	Speaking   bool
}

// CoordinatorOptions wires a Coordinator. Channel and AcquireTrack are
// required. Every callback is optional, runs on an internal goroutine, and
// must not call back into the Coordinator.
type CoordinatorOptions struct {
	Channel      *Channel
	AcquireTrack TrackFactory
	RTCConfig    webrtc.Configuration

	OnState         func(state string)
	OnRoster        func(participants []protocol.ParticipantInfo)
	OnActiveSpeaker func(userID string)
	OnLocalVolume   func(level float64)
	OnLocalSpeaking func(speaking bool)
	OnRemoteTrack   func(track *webrtc.TrackRemote)
	OnHallway       func(event string, room protocol.HallwayRoomEvent)
	OnError         func(err error)
}

// Coordinator drives one media session end to end: join, negotiate both
// transports, publish, subscribe to every live producer, and survive channel
// drops by tearing everything down and rejoining. All public mutations are
// single-flight; overlapping joins and leaves serialize rather than interleave.
type Coordinator struct {
	ch      *Channel
	acquire TrackFactory
	opts    CoordinatorOptions
	machine *fsm.FSM
	notifs  chan notification

	mu       sync.Mutex
	roomID   string
	selfID   string
	deviceID string
	muted    bool
	caps     protocol.RTPCapabilities
	dev      *device
	local    *LocalAudioTrack
	monitor  *LevelMonitor
	producer string
	roster   []protocol.ParticipantInfo
	remotes  map[string]*RemoteParticipant
	speaker  string
}

type notification struct {
	method string
	data   json.RawMessage
}

func NewCoordinator(opts CoordinatorOptions) *Coordinator {
	c := &Coordinator{
		ch:      opts.Channel,
		acquire: opts.AcquireTrack,
		opts:    opts,
		notifs:  make(chan notification, 256),
		remotes: make(map[string]*RemoteParticipant),
	}
	c.machine = fsm.NewFSM(
		StateDisconnected,
		fsm.Events{
			{Name: evConnect, Src: []string{StateDisconnected, StateFailed}, Dst: StateConnecting},
			{Name: evConnected, Src: []string{StateConnecting, StateReconnecting}, Dst: StateConnected},
			{Name: evDrop, Src: []string{StateConnecting, StateConnected}, Dst: StateReconnecting},
			{Name: evDisconnect, Src: []string{StateConnecting, StateConnected, StateReconnecting}, Dst: StateDisconnected},
			{Name: evFail, Src: []string{StateConnecting, StateReconnecting}, Dst: StateFailed},
		},
		fsm.Callbacks{
			"enter_state": func(_ context.Context, e *fsm.Event) {
				log.Info().Str("module", "client").Str("from", e.Src).Str("to", e.Dst).Msg("session state")
				if opts.OnState != nil {
					opts.OnState(e.Dst)
				}
			},
		},
	)
	// Events are pumped off the channel's read goroutine: join broadcasts can
	// land before the join response, and a handler waiting on the coordinator
	// mutex there would stall the very read loop that delivers the response.
	c.ch.opts.OnNotification = func(method string, data json.RawMessage) {
		select {
		case c.notifs <- notification{method: method, data: data}:
		default:
			log.Warn().Str("module", "client").Str("method", method).Msg("event queue full, dropping")
		}
	}
	c.ch.opts.OnDisconnect = c.handleDisconnect
	go c.notifyPump()
	return c
}

func (c *Coordinator) notifyPump() {
	for n := range c.notifs {
		c.handleNotification(n.method, n.data)
	}
}

func (c *Coordinator) State() string { return c.machine.Current() }

// JoinRoom runs the full join sequence. Joining the room the session is
// already connected to is a no-op; joining a different room leaves the old one
// first. On any failure everything acquired so far is released before the
// error returns.
func (c *Coordinator) JoinRoom(ctx context.Context, roomID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.roomID == roomID && c.machine.Current() == StateConnected {
		return nil
	}
	if c.roomID != "" && c.roomID != roomID {
		c.leaveLocked(ctx)
	}

	if err := c.machine.Event(ctx, evConnect); err != nil {
		return fmt.Errorf("join %s: %w", roomID, err)
	}
	if err := c.joinLocked(ctx, roomID); err != nil {
		c.teardownLocked()
		c.roomID = ""
		_ = c.machine.Event(ctx, evDisconnect)
		return err
	}
	_ = c.machine.Event(ctx, evConnected)
	return nil
}

// LeaveRoom tears the session down. The server-side leave is best effort; the
// local teardown runs unconditionally, so a leave on a dead channel still
// releases every local resource.
func (c *Coordinator) LeaveRoom(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.roomID == "" {
		return nil
	}
	c.leaveLocked(ctx)
	return nil
}

// SetMuted flips the publish state. The producer is paused on the server, not
// closed; the level monitor keeps running so the UI still shows own input.
func (c *Coordinator) SetMuted(muted bool) {
	c.mu.Lock()
	changed := c.muted != muted
	c.muted = muted
	inRoom := c.roomID != ""
	c.mu.Unlock()

	if !changed || !inRoom {
		return
	}
	if err := c.ch.Notify(protocol.MethodRoomMute, protocol.MuteNotification{Muted: muted}); err != nil {
		log.Warn().Err(err).Str("module", "client").Msg("mute notify")
	}
}

// ToggleMute flips the mute state and reports the new one.
func (c *Coordinator) ToggleMute() bool {
	c.mu.Lock()
	muted := !c.muted
	c.mu.Unlock()
	c.SetMuted(muted)
	return muted
}

// Muted reports the local publish state.
func (c *Coordinator) Muted() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.muted
}

// SwitchAudioDevice swaps the capture device mid-session. The published track
// is replaced in place, so the producer and both transports survive; the level
// monitor restarts on the new source. Outside a session only the preference is
// recorded.
func (c *Coordinator) SwitchAudioDevice(ctx context.Context, deviceID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.deviceID = deviceID
	if c.dev == nil {
		return nil
	}

	next, err := c.acquire(ctx, deviceID)
	if err != nil {
		return fmt.Errorf("acquire device %q: %w", deviceID, err)
	}
	if err := c.dev.replaceTrack(next.Track); err != nil {
		next.Close()
		return fmt.Errorf("replace track: %w", err)
	}

	old := c.local
	c.local = next
	if c.monitor != nil {
		c.monitor.Stop()
		c.monitor.SetSource(next.Levels)
		c.monitor.Start()
	}
	if old != nil {
		old.Close()
	}
	log.Info().Str("module", "client").Str("device", deviceID).Msg("audio device switched")
	return nil
}

// Roster is a snapshot of the last known room roster.
func (c *Coordinator) Roster() []protocol.ParticipantInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]protocol.ParticipantInfo, len(c.roster))
	copy(out, c.roster)
	return out
}

// Remotes is a snapshot of the live consumers, one per subscribed producer.
func (c *Coordinator) Remotes() []RemoteParticipant {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]RemoteParticipant, 0, len(c.remotes))
	for _, r := range c.remotes {
		out = append(out, *r)
	}
	return out
}

// ActiveSpeaker reports the last announced speaker, "" when the room is
// silent.
func (c *Coordinator) ActiveSpeaker() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.speaker
}

// Close leaves any current room and shuts the channel down.
func (c *Coordinator) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), defaultCallTimeout)
	defer cancel()
	_ = c.LeaveRoom(ctx)
	c.ch.Close()
}

func (c *Coordinator) joinLocked(ctx context.Context, roomID string) error {
	if err := c.ch.Connect(ctx); err != nil {
		return fmt.Errorf("connect channel: %w", err)
	}

	var join protocol.JoinResponse
	if err := c.ch.Call(ctx, protocol.MethodRoomJoin, protocol.JoinRequest{RoomID: roomID}, &join); err != nil {
		return err
	}
	c.roomID = roomID
	c.selfID = join.UserID
	c.roster = join.Participants
	c.emitRoster(join.Participants)

	var caps protocol.RTPCapabilities
	if err := c.ch.Call(ctx, protocol.MethodRTPCapabilities, struct{}{}, &caps); err != nil {
		return err
	}
	if len(caps.Codecs) == 0 {
		return fmt.Errorf("%w: empty rtp capabilities", domain.ErrNegotiationFailed)
	}
	c.caps = caps

	local, err := c.acquire(ctx, c.deviceID)
	if err != nil {
		return fmt.Errorf("acquire audio: %w", err)
	}
	c.local = local
	c.dev = newDevice(c.opts.RTCConfig, c.opts.OnRemoteTrack)

	ingress, err := c.setupTransportLocked(ctx, protocol.TransportIngress)
	if err != nil {
		return err
	}
	if _, err := c.setupTransportLocked(ctx, protocol.TransportEgress); err != nil {
		return err
	}

	var produced protocol.ProduceResponse
	err = c.ch.Call(ctx, protocol.MethodProduce, protocol.ProduceRequest{
		TransportID: ingress,
		RTPParameters: protocol.RTPParameters{
			Codec:   caps.Codecs[0],
			TrackID: local.Track.ID(),
		},
	}, &produced)
	if err != nil {
		return err
	}
	c.producer = produced.ProducerID

	// A mute toggled while offline is reasserted once the producer is live.
	if c.muted {
		if err := c.ch.Notify(protocol.MethodRoomMute, protocol.MuteNotification{Muted: true}); err != nil {
			log.Warn().Err(err).Str("module", "client").Msg("reassert mute")
		}
	}

	c.monitor = NewLevelMonitor(local.Levels, c.opts.OnLocalVolume, c.opts.OnLocalSpeaking)
	c.monitor.Start()

	// One broken remote never blocks the rest of the room.
	for _, p := range join.Producers {
		if p.UserID == c.selfID {
			continue
		}
		if err := c.consumeLocked(ctx, p.UserID, p.ProducerID); err != nil {
			log.Warn().Err(err).Str("module", "client").Str("producer", p.ProducerID).Msg("consume failed, skipping")
			c.emitError(fmt.Errorf("consume %s: %w", p.ProducerID, err))
		}
	}

	log.Info().Str("module", "client").Str("room", roomID).Int("consumers", len(c.remotes)).Msg("joined room")
	return nil
}

// setupTransportLocked runs one create/answer/connect negotiation and returns
// the transport id.
func (c *Coordinator) setupTransportLocked(ctx context.Context, dir protocol.TransportDirection) (string, error) {
	var params protocol.TransportParams
	if err := c.ch.Call(ctx, protocol.MethodCreateTransport, protocol.CreateTransportRequest{Direction: dir}, &params); err != nil {
		return "", negotiationErr(err, dir, "create")
	}

	var (
		answer protocol.DTLSParameters
		err    error
	)
	if dir == protocol.TransportIngress {
		answer, err = c.dev.acceptIngress(params, c.local.Track)
	} else {
		answer, err = c.dev.acceptEgress(params)
	}
	if err != nil {
		return "", fmt.Errorf("%w: answer %s transport: %v", domain.ErrNegotiationFailed, dir, err)
	}

	err = c.ch.Call(ctx, protocol.MethodConnectTransport, protocol.ConnectTransportRequest{
		TransportID:    params.TransportID,
		DTLSParameters: answer,
	}, nil)
	if err != nil {
		return "", negotiationErr(err, dir, "connect")
	}
	return params.TransportID, nil
}

// negotiationErr upgrades a call timeout during transport negotiation to the
// negotiation-timeout sentinel; other failures pass through untouched.
func negotiationErr(err error, dir protocol.TransportDirection, stage string) error {
	if errors.Is(err, ErrCallTimeout) {
		return fmt.Errorf("%w: %s %s transport: %v", domain.ErrNegotiationTimeout, stage, dir, err)
	}
	return err
}

func (c *Coordinator) consumeLocked(ctx context.Context, userID, producerID string) error {
	var params protocol.ConsumerParams
	err := c.ch.Call(ctx, protocol.MethodConsume, protocol.ConsumeRequest{
		ProducerID:      producerID,
		RTPCapabilities: c.caps,
	}, &params)
	if err != nil {
		return err
	}
	if userID == "" {
		userID = params.UserID
	}
	r := &RemoteParticipant{
		UserID:     userID,
		ProducerID: producerID,
		ConsumerID: params.ConsumerID,
		TrackID:    params.TrackID,
	}
	if info, ok := c.rosterEntryLocked(userID); ok {
		r.Username = info.Username
		r.Role = info.Role
		r.Muted = info.Muted
	}
	c.remotes[userID] = r
	return nil
}

func (c *Coordinator) leaveLocked(ctx context.Context) {
	roomID := c.roomID
	if c.ch.Connected() {
		if err := c.ch.Call(ctx, protocol.MethodRoomLeave, protocol.JoinRequest{RoomID: roomID}, nil); err != nil {
			log.Warn().Err(err).Str("module", "client").Str("room", roomID).Msg("leave call failed, tearing down anyway")
		}
	}
	c.teardownLocked()
	c.roomID = ""
	c.selfID = ""
	_ = c.machine.Event(ctx, evDisconnect)
	log.Info().Str("module", "client").Str("room", roomID).Msg("left room")
}

// teardownLocked releases every local media resource. Unconditional and
// idempotent: it runs the same whether the session ended cleanly, dropped, or
// never fully came up.
func (c *Coordinator) teardownLocked() {
	if c.monitor != nil {
		c.monitor.Stop()
		c.monitor = nil
	}
	if c.local != nil {
		c.local.Close()
		c.local = nil
	}
	if c.dev != nil {
		c.dev.close()
		c.dev = nil
	}
	c.producer = ""
	c.remotes = make(map[string]*RemoteParticipant)
	c.roster = nil
	c.speaker = ""
}

func (c *Coordinator) handleDisconnect(err error) {
	c.mu.Lock()
	roomID := c.roomID
	c.mu.Unlock()

	log.Warn().Err(err).Str("module", "client").Str("room", roomID).Msg("channel dropped")
	if roomID == "" {
		_ = c.machine.Event(context.Background(), evDisconnect)
		return
	}
	if err := c.machine.Event(context.Background(), evDrop); err != nil {
		return
	}
	go c.reconnectLoop(roomID)
}

// reconnectLoop retries the full join sequence with a linear backoff. The
// budget is absolute: after maxReconnectAttempts consecutive failures the
// session is failed for good and a fresh JoinRoom is the only way back.
func (c *Coordinator) reconnectLoop(roomID string) {
	for attempt := 1; attempt <= maxReconnectAttempts; attempt++ {
		if c.machine.Current() != StateReconnecting {
			return
		}
		time.Sleep(time.Duration(attempt) * reconnectBaseDelay)

		ctx, cancel := context.WithTimeout(context.Background(), defaultCallTimeout)
		err := c.rejoin(ctx, roomID)
		cancel()
		if err == nil {
			_ = c.machine.Event(context.Background(), evConnected)
			log.Info().Str("module", "client").Str("room", roomID).Int("attempt", attempt).Msg("reconnected")
			return
		}
		log.Warn().Err(err).Str("module", "client").Int("attempt", attempt).Msg("reconnect failed")
		c.emitError(fmt.Errorf("reconnect attempt %d: %w", attempt, err))
	}

	c.mu.Lock()
	c.teardownLocked()
	c.roomID = ""
	c.mu.Unlock()
	_ = c.machine.Event(context.Background(), evFail)
	c.emitError(domain.ErrReconnectExhausted)
}

func (c *Coordinator) rejoin(ctx context.Context, roomID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	// Stale media from the dead connection is useless; start clean.
	c.teardownLocked()
	return c.joinLocked(ctx, roomID)
}

func (c *Coordinator) handleNotification(method string, data json.RawMessage) {
	switch method {
	case protocol.EventUserJoined:
		// Roster state rides on the participants-updated snapshot that
		// always follows; nothing to do here.

	case protocol.EventParticipantsUpdated:
		var ev protocol.ParticipantsUpdatedEvent
		if !decodeEvent(method, data, &ev) {
			return
		}
		c.mu.Lock()
		c.roster = ev.Participants
		for _, p := range ev.Participants {
			if r, ok := c.remotes[p.UserID]; ok {
				r.Username = p.Username
				r.Role = p.Role
				r.Muted = p.Muted
			}
		}
		c.mu.Unlock()
		c.emitRoster(ev.Participants)

	case protocol.EventNewProducer:
		var ev protocol.NewProducerEvent
		if !decodeEvent(method, data, &ev) {
			return
		}
		// Consuming makes calls of its own; keep the event pump free while
		// they are in flight.
		go c.consumeNewProducer(ev.UserID, ev.ProducerID)

	case protocol.EventUserLeft:
		var ev protocol.UserLeftEvent
		if !decodeEvent(method, data, &ev) {
			return
		}
		c.mu.Lock()
		if ev.UserID != "" && ev.UserID == c.selfID {
			// We are the one who left: the server evicted this session
			// (kick). Same teardown as a room closure.
			log.Info().Str("module", "client").Str("room", c.roomID).Msg("removed from room by server")
			c.teardownLocked()
			c.roomID = ""
			c.selfID = ""
			c.mu.Unlock()
			_ = c.machine.Event(context.Background(), evDisconnect)
			return
		}
		delete(c.remotes, ev.UserID)
		c.mu.Unlock()

	case protocol.EventUserMuted:
		var ev protocol.UserMutedEvent
		if !decodeEvent(method, data, &ev) {
			return
		}
		c.mu.Lock()
		if r, ok := c.remotes[ev.UserID]; ok {
			r.Muted = ev.Muted
		}
		c.mu.Unlock()

	case protocol.EventActiveSpeaker:
		var ev protocol.ActiveSpeakerEvent
		if !decodeEvent(method, data, &ev) {
			return
		}
		c.mu.Lock()
		c.speaker = ev.UserID
		for id, r := range c.remotes {
			r.Speaking = id == ev.UserID
		}
		c.mu.Unlock()
		if c.opts.OnActiveSpeaker != nil {
			c.opts.OnActiveSpeaker(ev.UserID)
		}

	case protocol.EventOwnerChanged:
		var ev protocol.OwnerChangedEvent
		if !decodeEvent(method, data, &ev) {
			return
		}
		c.mu.Lock()
		for id, r := range c.remotes {
			if id == ev.UserID {
				r.Role = string(domain.RoleOwner)
			} else if r.Role == string(domain.RoleOwner) {
				r.Role = string(domain.RoleParticipant)
			}
		}
		c.mu.Unlock()

	case protocol.EventRoomClosed:
		var ev protocol.RoomClosedEvent
		if !decodeEvent(method, data, &ev) {
			return
		}
		log.Info().Str("module", "client").Str("room", ev.RoomID).Str("reason", ev.Reason).Msg("room closed by server")
		c.mu.Lock()
		c.teardownLocked()
		c.roomID = ""
		c.selfID = ""
		c.mu.Unlock()
		_ = c.machine.Event(context.Background(), evDisconnect)

	case protocol.EventHallwayRoomCreated, protocol.EventHallwayRoomUpdated, protocol.EventHallwayRoomClosed:
		var ev protocol.HallwayRoomEvent
		if !decodeEvent(method, data, &ev) {
			return
		}
		if c.opts.OnHallway != nil {
			c.opts.OnHallway(method, ev)
		}

	default:
		log.Debug().Str("module", "client").Str("method", method).Msg("unhandled notification")
	}
}

func (c *Coordinator) consumeNewProducer(userID, producerID string) {
	ctx, cancel := context.WithTimeout(context.Background(), defaultCallTimeout)
	defer cancel()

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.roomID == "" || c.dev == nil {
		return
	}
	if err := c.consumeLocked(ctx, userID, producerID); err != nil {
		log.Warn().Err(err).Str("module", "client").Str("producer", producerID).Msg("consume new producer")
		c.emitError(fmt.Errorf("consume %s: %w", producerID, err))
	}
}

func (c *Coordinator) rosterEntryLocked(userID string) (protocol.ParticipantInfo, bool) {
	for _, p := range c.roster {
		if p.UserID == userID {
			return p, true
		}
	}
	return protocol.ParticipantInfo{}, false
}

func (c *Coordinator) emitRoster(participants []protocol.ParticipantInfo) {
	if c.opts.OnRoster != nil {
		c.opts.OnRoster(participants)
	}
}

func (c *Coordinator) emitError(err error) {
	if c.opts.OnError != nil && err != nil && !errors.Is(err, context.Canceled) {
		c.opts.OnError(err)
	}
}

func decodeEvent(method string, data json.RawMessage, out any) bool {
	if err := json.Unmarshal(data, out); err != nil {
		log.Error().Err(err).Str("module", "client").Str("method", method).Msg("bad event payload")
		return false
	}
	return true
}
