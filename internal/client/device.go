package client

import (
	"fmt"
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/hallwayfm/hallway/internal/protocol"
)

// device is the client half of the transport negotiation: it answers the
// server's offers and owns both peer connections for the duration of one room
// session.
type device struct {
	cfg     webrtc.Configuration
	onTrack func(track *webrtc.TrackRemote)

	mu      sync.Mutex
	ingress *webrtc.PeerConnection
	egress  *webrtc.PeerConnection
	sender  *webrtc.RTPSender
	closed  bool
}

func newDevice(cfg webrtc.Configuration, onTrack func(track *webrtc.TrackRemote)) *device {
	return &device{cfg: cfg, onTrack: onTrack}
}

// acceptIngress answers the server's publish-side offer with the local capture
// track attached. The remote description is applied first so the track lands
// on the offered transceiver instead of forcing a renegotiation.
func (d *device) acceptIngress(params protocol.TransportParams, track *webrtc.TrackLocalStaticSample) (protocol.DTLSParameters, error) {
	pc, err := webrtc.NewPeerConnection(d.cfg)
	if err != nil {
		return protocol.DTLSParameters{}, err
	}
	if err := pc.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeOffer,
		SDP:  params.OfferSDP,
	}); err != nil {
		pc.Close()
		return protocol.DTLSParameters{}, err
	}
	sender, err := pc.AddTrack(track)
	if err != nil {
		pc.Close()
		return protocol.DTLSParameters{}, err
	}
	answer, err := gatheredAnswer(pc)
	if err != nil {
		pc.Close()
		return protocol.DTLSParameters{}, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		pc.Close()
		return protocol.DTLSParameters{}, fmt.Errorf("device closed")
	}
	if d.ingress != nil {
		d.ingress.Close()
	}
	d.ingress = pc
	d.sender = sender
	return protocol.DTLSParameters{AnswerSDP: answer}, nil
}

// acceptEgress answers the server's subscribe-side offer. Consumer tracks
// arrive later through OnTrack as remote producers are consumed.
func (d *device) acceptEgress(params protocol.TransportParams) (protocol.DTLSParameters, error) {
	pc, err := webrtc.NewPeerConnection(d.cfg)
	if err != nil {
		return protocol.DTLSParameters{}, err
	}
	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		log.Info().Str("module", "client").Str("track_id", track.ID()).Msg("remote track")
		if d.onTrack != nil {
			d.onTrack(track)
		}
	})
	if err := pc.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeOffer,
		SDP:  params.OfferSDP,
	}); err != nil {
		pc.Close()
		return protocol.DTLSParameters{}, err
	}
	answer, err := gatheredAnswer(pc)
	if err != nil {
		pc.Close()
		return protocol.DTLSParameters{}, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		pc.Close()
		return protocol.DTLSParameters{}, fmt.Errorf("device closed")
	}
	if d.egress != nil {
		d.egress.Close()
	}
	d.egress = pc
	return protocol.DTLSParameters{AnswerSDP: answer}, nil
}

// replaceTrack swaps the published capture track in place; the producer and
// its negotiation are untouched.
func (d *device) replaceTrack(track *webrtc.TrackLocalStaticSample) error {
	d.mu.Lock()
	sender := d.sender
	d.mu.Unlock()
	if sender == nil {
		return fmt.Errorf("no live publish sender")
	}
	return sender.ReplaceTrack(track)
}

func (d *device) close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}
	d.closed = true
	if d.ingress != nil {
		d.ingress.Close()
		d.ingress = nil
	}
	if d.egress != nil {
		d.egress.Close()
		d.egress = nil
	}
	d.sender = nil
}

func gatheredAnswer(pc *webrtc.PeerConnection) (string, error) {
	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		return "", err
	}
	gatherComplete := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(answer); err != nil {
		return "", err
	}
	<-gatherComplete
	return pc.LocalDescription().SDP, nil
}
