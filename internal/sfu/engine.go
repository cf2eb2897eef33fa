// Package sfu implements the media engine: transport negotiation and the
// producer/consumer lifecycle in front of the RTP relay plane.
package sfu

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/hallwayfm/hallway/internal/core"
	"github.com/hallwayfm/hallway/internal/domain"
	"github.com/hallwayfm/hallway/internal/metrics"
	"github.com/hallwayfm/hallway/internal/protocol"
)

const opusMimeType = webrtc.MimeTypeOpus

// audioLevelExtID is the extension id offered for the RFC 6464 level header.
const audioLevelExtID uint8 = 1

type producer struct {
	id      string
	sid     core.SessionID
	relay   *Relay
	paused  bool
	trackID string
	codec   string
}

type consumer struct {
	id         string
	producerID string
	relay      *Relay // source relay the out track is attached to
}

type mediaSession struct {
	transports   map[string]*Transport
	ingress      *Transport
	egress       *Transport
	producer     *producer
	pendingTrack *webrtc.TrackRemote
	consumers    map[string]*consumer
	cancel       context.CancelFunc
	ctx          context.Context
}

// Engine implements core.MediaEngine on pion. One mediaSession per
// event-channel session; at most one live producer per mediaSession.
type Engine struct {
	cfg     webrtc.Configuration
	ctx     context.Context
	sink    core.LevelSink
	metrics *metrics.Metrics

	mu        sync.RWMutex
	sessions  map[core.SessionID]*mediaSession
	producers map[string]core.SessionID // producer id -> owning session
}

func NewEngine(ctx context.Context, cfg webrtc.Configuration, m *metrics.Metrics) *Engine {
	if m == nil {
		m = metrics.NewNop()
	}
	return &Engine{
		cfg:       cfg,
		ctx:       ctx,
		metrics:   m,
		sessions:  make(map[core.SessionID]*mediaSession),
		producers: make(map[string]core.SessionID),
	}
}

// SetLevelSink wires the audio-level consumer; must be called before any
// producer goes live.
func (e *Engine) SetLevelSink(sink core.LevelSink) { e.sink = sink }

func (e *Engine) RTPCapabilities() protocol.RTPCapabilities {
	return protocol.RTPCapabilities{Codecs: []string{opusMimeType}}
}

func (e *Engine) CreateTransport(sid core.SessionID, dir protocol.TransportDirection) (*protocol.TransportParams, error) {
	if dir != protocol.TransportIngress && dir != protocol.TransportEgress {
		return nil, fmt.Errorf("%w: unknown direction %q", domain.ErrNegotiationFailed, dir)
	}

	t, err := newTransport(e.cfg, sid, dir)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrNegotiationFailed, err)
	}
	if dir == protocol.TransportIngress {
		t.onTrack = func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
			e.onIngressTrack(sid, track)
		}
	}
	t.onClosed = func() { e.CloseSession(sid) }

	offer, err := t.createOffer()
	if err != nil {
		t.close()
		return nil, fmt.Errorf("%w: %v", domain.ErrNegotiationFailed, err)
	}

	e.mu.Lock()
	ms := e.ensureSessionLocked(sid)
	// A second transport in the same direction replaces the first; the old
	// one is closed so nothing half-negotiated leaks.
	if dir == protocol.TransportIngress && ms.ingress != nil {
		e.dropTransportLocked(ms, ms.ingress)
	}
	if dir == protocol.TransportEgress && ms.egress != nil {
		e.dropTransportLocked(ms, ms.egress)
	}
	ms.transports[t.ID] = t
	if dir == protocol.TransportIngress {
		ms.ingress = t
	} else {
		ms.egress = t
	}
	e.mu.Unlock()

	return &protocol.TransportParams{
		TransportID: t.ID,
		Direction:   dir,
		OfferSDP:    offer,
	}, nil
}

func (e *Engine) ConnectTransport(_ context.Context, sid core.SessionID, transportID string, dtls protocol.DTLSParameters) error {
	e.mu.RLock()
	ms, ok := e.sessions[sid]
	var t *Transport
	if ok {
		t = ms.transports[transportID]
	}
	e.mu.RUnlock()
	if t == nil {
		return fmt.Errorf("%w: unknown transport %s", domain.ErrNegotiationFailed, transportID)
	}
	if err := t.applyAnswer(dtls.AnswerSDP); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrNegotiationFailed, err)
	}
	return nil
}

// Produce registers the session's publisher. A still-live previous producer is
// closed first, keeping at most one non-closed producer per session.
func (e *Engine) Produce(_ context.Context, sid core.SessionID, transportID string, rtp protocol.RTPParameters) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	ms, ok := e.sessions[sid]
	if !ok || ms.transports[transportID] == nil {
		return "", fmt.Errorf("%w: unknown transport %s", domain.ErrNegotiationFailed, transportID)
	}
	if ms.transports[transportID].Dir != protocol.TransportIngress {
		return "", fmt.Errorf("%w: produce requires an ingress transport", domain.ErrNegotiationFailed)
	}

	if ms.producer != nil {
		log.Info().Str("module", "sfu").Str("sid", string(sid)).Str("producer", ms.producer.id).Msg("replacing live producer")
		e.closeProducerLocked(ms)
	}

	p := &producer{
		id:      uuid.NewString(),
		sid:     sid,
		trackID: rtp.TrackID,
		codec:   rtp.Codec,
	}
	ms.producer = p
	e.producers[p.id] = sid
	e.metrics.Producers.Inc()

	// The remote track may have arrived before produce was called.
	if ms.pendingTrack != nil {
		e.startRelayLocked(ms, ms.pendingTrack)
		ms.pendingTrack = nil
	}
	return p.id, nil
}

func (e *Engine) onIngressTrack(sid core.SessionID, track *webrtc.TrackRemote) {
	e.mu.Lock()
	defer e.mu.Unlock()
	ms, ok := e.sessions[sid]
	if !ok {
		return
	}
	if ms.producer == nil {
		ms.pendingTrack = track
		return
	}
	e.startRelayLocked(ms, track)
}

func (e *Engine) startRelayLocked(ms *mediaSession, track *webrtc.TrackRemote) {
	p := ms.producer
	if p.relay != nil {
		p.relay.Stop()
	}
	relayCtx, cancel := context.WithCancel(ms.ctx)
	relay := NewRelay(track, cancel, p.sid, audioLevelExtID, e.sink)
	relay.SetPaused(p.paused)
	p.relay = relay

	logger := log.With().Str("module", "sfu.relay").Str("sid", string(p.sid)).Str("producer", p.id).Logger()
	logger.Info().Msg("starting relay loop")
	go relay.loop(relayCtx, &logger)
}

// Consume subscribes sid to one remote producer, yielding the params the
// client device needs to receive the track.
func (e *Engine) Consume(_ context.Context, sid core.SessionID, producerID string, caps protocol.RTPCapabilities) (*protocol.ConsumerParams, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	ownerSID, ok := e.producers[producerID]
	if !ok {
		return nil, fmt.Errorf("%w: unknown producer %s", domain.ErrNegotiationFailed, producerID)
	}
	owner := e.sessions[ownerSID]
	if owner == nil || owner.producer == nil || owner.producer.id != producerID {
		return nil, fmt.Errorf("%w: producer %s is closed", domain.ErrNegotiationFailed, producerID)
	}
	if len(caps.Codecs) > 0 && !slices.Contains(caps.Codecs, owner.producer.codec) {
		return nil, fmt.Errorf("%w: no codec overlap for producer %s", domain.ErrNegotiationFailed, producerID)
	}

	ms, ok := e.sessions[sid]
	if !ok || ms.egress == nil {
		return nil, fmt.Errorf("%w: no egress transport", domain.ErrNegotiationFailed)
	}
	if owner.producer.relay == nil {
		return nil, fmt.Errorf("%w: producer %s has no live track yet", domain.ErrNegotiationFailed, producerID)
	}

	c := &consumer{
		id:         uuid.NewString(),
		producerID: producerID,
		relay:      owner.producer.relay,
	}
	trackID := uuid.NewString()
	local, err := webrtc.NewTrackLocalStaticRTP(
		webrtc.RTPCodecCapability{MimeType: owner.producer.codec},
		trackID, string(sid),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrNegotiationFailed, err)
	}
	if _, err := ms.egress.addLocalTrack(local); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrNegotiationFailed, err)
	}

	ot := NewOutTrack(local)
	c.relay.AddOutTrack(c.id, ot)
	ms.consumers[c.id] = c

	return &protocol.ConsumerParams{
		ConsumerID: c.id,
		ProducerID: producerID,
		Codec:      owner.producer.codec,
		TrackID:    trackID,
	}, nil
}

func (e *Engine) PauseProducer(sid core.SessionID, producerID string) error {
	return e.setProducerPaused(sid, producerID, true)
}

func (e *Engine) ResumeProducer(sid core.SessionID, producerID string) error {
	return e.setProducerPaused(sid, producerID, false)
}

func (e *Engine) setProducerPaused(sid core.SessionID, producerID string, paused bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	ms, ok := e.sessions[sid]
	if !ok || ms.producer == nil || ms.producer.id != producerID {
		return fmt.Errorf("%w: unknown producer %s", domain.ErrNegotiationFailed, producerID)
	}
	ms.producer.paused = paused
	if ms.producer.relay != nil {
		ms.producer.relay.SetPaused(paused)
	}
	return nil
}

func (e *Engine) ProducerOf(sid core.SessionID) (protocol.ProducerInfo, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	ms, ok := e.sessions[sid]
	if !ok || ms.producer == nil {
		return protocol.ProducerInfo{}, false
	}
	return protocol.ProducerInfo{
		ProducerID: ms.producer.id,
		Paused:     ms.producer.paused,
	}, true
}

// ProducerOwner reports which session owns a live producer.
func (e *Engine) ProducerOwner(producerID string) (core.SessionID, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	sid, ok := e.producers[producerID]
	return sid, ok
}

// CloseSession releases everything the session holds: producer relay,
// consumer out tracks on other relays, and both transports. Idempotent.
func (e *Engine) CloseSession(sid core.SessionID) {
	e.mu.Lock()
	defer e.mu.Unlock()
	ms, ok := e.sessions[sid]
	if !ok {
		return
	}
	delete(e.sessions, sid)

	e.closeProducerLocked(ms)
	for _, c := range ms.consumers {
		c.relay.RemoveOutTrack(c.id)
	}
	for _, t := range ms.transports {
		t.close()
	}
	ms.cancel()
	log.Info().Str("module", "sfu").Str("sid", string(sid)).Msg("media session closed")
}

func (e *Engine) closeProducerLocked(ms *mediaSession) {
	p := ms.producer
	if p == nil {
		return
	}
	if p.relay != nil {
		p.relay.Stop()
	}
	delete(e.producers, p.id)
	ms.producer = nil
	e.metrics.Producers.Dec()
}

func (e *Engine) ensureSessionLocked(sid core.SessionID) *mediaSession {
	if ms, ok := e.sessions[sid]; ok {
		return ms
	}
	ctx, cancel := context.WithCancel(e.ctx)
	ms := &mediaSession{
		transports: make(map[string]*Transport),
		consumers:  make(map[string]*consumer),
		ctx:        ctx,
		cancel:     cancel,
	}
	e.sessions[sid] = ms
	return ms
}

func (e *Engine) dropTransportLocked(ms *mediaSession, t *Transport) {
	delete(ms.transports, t.ID)
	if ms.ingress == t {
		ms.ingress = nil
		e.closeProducerLocked(ms)
		ms.pendingTrack = nil
	}
	if ms.egress == t {
		ms.egress = nil
	}
	t.close()
}
