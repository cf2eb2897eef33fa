package sfu

import (
	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/hallwayfm/hallway/internal/core"
	"github.com/hallwayfm/hallway/internal/protocol"
)

// Transport wraps one PeerConnection in a single direction. The server is the
// offerer: CreateTransport returns the gathered offer, ConnectTransport
// applies the client's answer.
type Transport struct {
	ID  string
	Dir protocol.TransportDirection

	pc  *webrtc.PeerConnection
	sid core.SessionID

	onTrack  func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver)
	onClosed func()
}

func DefaultWebRTCConfig() webrtc.Configuration {
	return webrtc.Configuration{
		ICEServers: []webrtc.ICEServer{
			{URLs: []string{"stun:stun.l.google.com:19302"}},
		},
	}
}

func newTransport(cfg webrtc.Configuration, sid core.SessionID, dir protocol.TransportDirection) (*Transport, error) {
	pc, err := webrtc.NewPeerConnection(cfg)
	if err != nil {
		return nil, err
	}
	t := &Transport{
		ID:  uuid.NewString(),
		Dir: dir,
		pc:  pc,
		sid: sid,
	}

	pc.OnICEConnectionStateChange(func(s webrtc.ICEConnectionState) {
		log.Info().Str("module", "sfu").Str("sid", string(sid)).Str("transport", t.ID).Str("ice_state", s.String()).Msg("ICE state")
	})
	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		log.Info().Str("module", "sfu").Str("sid", string(sid)).Str("transport", t.ID).Str("peer_state", s.String()).Msg("peer state")
		if s == webrtc.PeerConnectionStateFailed || s == webrtc.PeerConnectionStateClosed {
			if t.onClosed != nil {
				t.onClosed()
			}
		}
	})
	pc.OnTrack(func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
		log.Info().
			Str("module", "sfu").
			Str("sid", string(sid)).
			Str("kind", track.Kind().String()).
			Str("track_id", track.ID()).
			Msg("remote track")
		if t.onTrack != nil {
			t.onTrack(track, receiver)
		}
	})

	switch dir {
	case protocol.TransportIngress:
		if _, err := pc.AddTransceiverFromKind(webrtc.RTPCodecTypeAudio, webrtc.RTPTransceiverInit{
			Direction: webrtc.RTPTransceiverDirectionRecvonly,
		}); err != nil {
			pc.Close()
			return nil, err
		}
	case protocol.TransportEgress:
		// Consumer tracks are added after the initial negotiation. Offering a
		// pool of sendonly slots up front lets AddTrack reuse a negotiated
		// transceiver instead of forcing a renegotiation round trip.
		for i := 0; i < egressTrackSlots; i++ {
			if _, err := pc.AddTransceiverFromKind(webrtc.RTPCodecTypeAudio, webrtc.RTPTransceiverInit{
				Direction: webrtc.RTPTransceiverDirectionSendonly,
			}); err != nil {
				pc.Close()
				return nil, err
			}
		}
	}
	return t, nil
}

// egressTrackSlots bounds how many remote producers one egress transport can
// carry, matching the default room capacity.
const egressTrackSlots = 16

// createOffer produces the gathered local offer for the client to answer.
func (t *Transport) createOffer() (string, error) {
	offer, err := t.pc.CreateOffer(nil)
	if err != nil {
		return "", err
	}
	gatherComplete := webrtc.GatheringCompletePromise(t.pc)
	if err := t.pc.SetLocalDescription(offer); err != nil {
		return "", err
	}
	<-gatherComplete
	return t.pc.LocalDescription().SDP, nil
}

func (t *Transport) applyAnswer(sdp string) error {
	return t.pc.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeAnswer,
		SDP:  sdp,
	})
}

func (t *Transport) addLocalTrack(track *webrtc.TrackLocalStaticRTP) (*webrtc.RTPSender, error) {
	return t.pc.AddTrack(track)
}

func (t *Transport) close() {
	if err := t.pc.Close(); err != nil {
		log.Error().Err(err).Str("module", "sfu").Str("sid", string(t.sid)).Str("transport", t.ID).Msg("close error")
	}
}
