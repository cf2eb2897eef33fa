package core

import (
	"context"

	"github.com/hallwayfm/hallway/internal/protocol"
)

// MediaEngine is the opaque capability-negotiation service in front of the
// packet-forwarding plane. One media session per event-channel session.
//
// Invariant the engine enforces: at most one non-closed producer per session.
type MediaEngine interface {
	RTPCapabilities() protocol.RTPCapabilities

	CreateTransport(sid SessionID, dir protocol.TransportDirection) (*protocol.TransportParams, error)
	ConnectTransport(ctx context.Context, sid SessionID, transportID string, dtls protocol.DTLSParameters) error

	Produce(ctx context.Context, sid SessionID, transportID string, rtp protocol.RTPParameters) (string, error)
	Consume(ctx context.Context, sid SessionID, producerID string, caps protocol.RTPCapabilities) (*protocol.ConsumerParams, error)

	PauseProducer(sid SessionID, producerID string) error
	ResumeProducer(sid SessionID, producerID string) error

	// ProducerOf reports the session's live producer, if any.
	ProducerOf(sid SessionID) (protocol.ProducerInfo, bool)

	// ProducerOwner reports the session that owns a live producer.
	ProducerOwner(producerID string) (SessionID, bool)

	// CloseSession releases every transport, producer and consumer the
	// session holds. Idempotent.
	CloseSession(sid SessionID)
}

// LevelSink receives noise-gated audio levels extracted from a session's
// producer, normalized into [0,1].
type LevelSink interface {
	OnAudioLevel(sid SessionID, level float64)
}
