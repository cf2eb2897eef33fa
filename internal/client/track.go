package client

import (
	"context"

	"github.com/pion/webrtc/v4"
)

// LocalAudioTrack bundles a publishable capture track with its level source.
// How samples get into the track is the capture pipeline's business; the
// coordinator only publishes it and watches its level.
type LocalAudioTrack struct {
	Track  *webrtc.TrackLocalStaticSample
	Levels LevelSource

	stop func()
}

func NewLocalAudioTrack(track *webrtc.TrackLocalStaticSample, levels LevelSource, stop func()) *LocalAudioTrack {
	return &LocalAudioTrack{Track: track, Levels: levels, stop: stop}
}

// Close stops the capture pipeline. Idempotent for nil-stop tracks; capture
// implementations must tolerate a second call.
func (t *LocalAudioTrack) Close() {
	if t.stop != nil {
		t.stop()
	}
}

// TrackFactory acquires a capture track for the given device id, "" meaning
// the system default.
type TrackFactory func(ctx context.Context, deviceID string) (*LocalAudioTrack, error)
