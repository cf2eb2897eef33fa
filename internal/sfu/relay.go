package sfu

import (
	"context"
	"maps"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"

	"github.com/hallwayfm/hallway/internal/core"
)

// Noise gate applied to RFC 6464 audio levels before they reach the sink.
const (
	noiseGateThreshold = 0.10
	levelReportEvery   = 200 * time.Millisecond
)

// Relay reads RTP from one producer's remote track and fans packets out to
// the consumers' OutTracks. It also extracts the audio-level header extension
// and feeds the noise-gated level to the sink.
type Relay struct {
	Src *webrtc.TrackRemote

	mu        sync.RWMutex
	outTracks map[string]*OutTrack // keyed by consumer id

	paused atomic.Bool
	cancel context.CancelFunc

	levelExtID   uint8
	sink         core.LevelSink
	sid          core.SessionID
	lastReport   time.Time
	lastReported float64
}

func NewRelay(src *webrtc.TrackRemote, cancel context.CancelFunc, sid core.SessionID, levelExtID uint8, sink core.LevelSink) *Relay {
	return &Relay{
		Src:        src,
		outTracks:  make(map[string]*OutTrack),
		cancel:     cancel,
		levelExtID: levelExtID,
		sink:       sink,
		sid:        sid,
	}
}

// loop reads RTP packets from the source track and forwards them.
func (r *Relay) loop(ctx context.Context, logger *zerolog.Logger) {
	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("relay ctx done, marking all out tracks for delete")
			r.markAllDelete()
			return
		default:
		}
		pkt, _, err := r.Src.ReadRTP()
		if err != nil {
			logger.Error().Err(err).Msg("relay read RTP error, stopping")
			r.markAllDelete()
			return
		}
		r.reportLevel(pkt)
		if r.paused.Load() {
			continue
		}
		r.forward(pkt, logger)
	}
}

// reportLevel parses the RFC 6464 extension, gates it and throttles reports.
// A paused relay reports silence so the active-speaker view clears.
func (r *Relay) reportLevel(pkt *rtp.Packet) {
	if r.sink == nil {
		return
	}
	now := time.Now()
	if now.Sub(r.lastReport) < levelReportEvery {
		return
	}

	level := 0.0
	if !r.paused.Load() {
		if raw := pkt.GetExtension(r.levelExtID); raw != nil {
			var ext rtp.AudioLevelExtension
			if err := ext.Unmarshal(raw); err == nil {
				// Level is dBov attenuation: 0 is loudest, 127 silence.
				level = 1.0 - float64(ext.Level)/127.0
			}
		}
	}
	if level <= noiseGateThreshold {
		level = 0
	} else {
		level = (level - noiseGateThreshold) / (1 - noiseGateThreshold)
	}

	if level == 0 && r.lastReported == 0 {
		return
	}
	r.lastReport = now
	r.lastReported = level
	r.sink.OnAudioLevel(r.sid, level)
}

func (r *Relay) forward(pkt *rtp.Packet, logger *zerolog.Logger) {
	r.mu.RLock()
	snapshot := make(map[string]*OutTrack, len(r.outTracks))
	maps.Copy(snapshot, r.outTracks)
	r.mu.RUnlock()

	dirty := make([]string, 0, len(snapshot))
	for consumerID, ot := range snapshot {
		switch ot.GetState() {
		case TrackStateDelete:
			dirty = append(dirty, consumerID)
		case TrackStateMuted:
		case TrackStateOk:
			if err := ot.Track.WriteRTP(pkt); err != nil {
				logger.Error().Err(err).Str("consumer", consumerID).Msg("relay write RTP error, dropping out track")
				ot.MarkDelete()
				dirty = append(dirty, consumerID)
			}
		}
	}

	// Cleanup is done outside the RLock.
	if len(dirty) > 0 {
		r.cleanupDeleted(dirty)
	}
}

func (r *Relay) cleanupDeleted(dirty []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range dirty {
		delete(r.outTracks, id)
	}
}

func (r *Relay) markAllDelete() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ot := range r.outTracks {
		ot.MarkDelete()
	}
}

func (r *Relay) AddOutTrack(consumerID string, ot *OutTrack) {
	r.mu.Lock()
	defer r.mu.Unlock()
	// A track attached while the producer is paused starts muted.
	if r.paused.Load() {
		ot.MarkMuted()
	}
	r.outTracks[consumerID] = ot
}

func (r *Relay) RemoveOutTrack(consumerID string) {
	r.mu.RLock()
	ot, ok := r.outTracks[consumerID]
	r.mu.RUnlock()
	if ok {
		ot.MarkDelete()
	}
}

// SetPaused flips the producer pause. The per-track states follow so each
// consumer copy carries the mute itself; resuming never resurrects a track
// already marked for delete.
func (r *Relay) SetPaused(paused bool) {
	r.paused.Store(paused)
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, ot := range r.outTracks {
		if paused {
			if ot.GetState() == TrackStateOk {
				ot.MarkMuted()
			}
		} else if ot.GetState() == TrackStateMuted {
			ot.MarkOk()
		}
	}
}

func (r *Relay) Stop() {
	if r.cancel != nil {
		r.cancel()
	}
	r.markAllDelete()
}
