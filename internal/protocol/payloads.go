package protocol

import "time"

// ParticipantInfo is the single canonical roster entry on the wire.
type ParticipantInfo struct {
	UserID   string    `json:"userId"`
	Username string    `json:"username"`
	Role     string    `json:"role"`
	Muted    bool      `json:"muted"`
	JoinedAt time.Time `json:"joinedAt"`
}

// ProducerInfo describes one live publisher in a room.
type ProducerInfo struct {
	UserID     string `json:"userId"`
	ProducerID string `json:"producerId"`
	Paused     bool   `json:"paused"`
}

type JoinRequest struct {
	RoomID string `json:"roomId"`
}

// JoinResponse answers both room:join and room:sync. UserID echoes the
// caller's identity so a client can pick itself out of the roster.
type JoinResponse struct {
	RoomID       string            `json:"roomId"`
	UserID       string            `json:"userId"`
	Participants []ParticipantInfo `json:"participants"`
	Producers    []ProducerInfo    `json:"producers"`
}

type KickRequest struct {
	RoomID string `json:"roomId"`
	UserID string `json:"userId"`
}

type TransferOwnerRequest struct {
	RoomID string `json:"roomId"`
	UserID string `json:"userId"`
}

type MuteNotification struct {
	Muted bool `json:"muted"`
}

// Negotiation payloads. The engine is opaque to callers: params are produced
// by one engine and consumed by its peer device, never interpreted in between.

type RTPCapabilities struct {
	Codecs []string `json:"codecs"`
}

type TransportDirection string

const (
	TransportIngress TransportDirection = "ingress" // client publishes
	TransportEgress  TransportDirection = "egress"  // client subscribes
)

type CreateTransportRequest struct {
	Direction TransportDirection `json:"direction"`
}

// TransportParams is the server half of the transport negotiation.
type TransportParams struct {
	TransportID string             `json:"transportId"`
	Direction   TransportDirection `json:"direction"`
	OfferSDP    string             `json:"offerSdp"`
}

// DTLSParameters is the client half, completing the negotiation.
type DTLSParameters struct {
	AnswerSDP string `json:"answerSdp"`
}

type ConnectTransportRequest struct {
	TransportID    string         `json:"transportId"`
	DTLSParameters DTLSParameters `json:"dtlsParameters"`
}

type RTPParameters struct {
	Codec   string `json:"codec"`
	TrackID string `json:"trackId"`
}

type ProduceRequest struct {
	TransportID   string        `json:"transportId"`
	RTPParameters RTPParameters `json:"rtpParameters"`
}

type ProduceResponse struct {
	ProducerID string `json:"producerId"`
}

type ConsumeRequest struct {
	ProducerID      string          `json:"producerId"`
	RTPCapabilities RTPCapabilities `json:"rtpCapabilities"`
}

// ConsumerParams describes the subscription created for one remote producer.
type ConsumerParams struct {
	ConsumerID string `json:"consumerId"`
	ProducerID string `json:"producerId"`
	UserID     string `json:"userId"`
	Codec      string `json:"codec"`
	TrackID    string `json:"trackId"`
}

// Broadcast payloads.

type UserJoinedEvent struct {
	Participant ParticipantInfo `json:"participant"`
}

type ParticipantsUpdatedEvent struct {
	Participants []ParticipantInfo `json:"participants"`
	Reason       string            `json:"reason"`
}

// NewProducerEvent tells existing members a publisher went live so they can
// consume it.
type NewProducerEvent struct {
	UserID     string `json:"userId"`
	ProducerID string `json:"producerId"`
}

type UserLeftEvent struct {
	UserID string `json:"userId"`
}

type UserMutedEvent struct {
	UserID string `json:"userId"`
	Muted  bool   `json:"muted"`
}

// ActiveSpeakerEvent carries the loudest unmuted participant, empty when the
// room went silent.
type ActiveSpeakerEvent struct {
	UserID string `json:"userId"`
}

type OwnerChangedEvent struct {
	UserID string `json:"userId"`
}

type RoomClosedEvent struct {
	RoomID string `json:"roomId"`
	Reason string `json:"reason"`
}

// HallwayRoomEvent is the lobby summary of one room.
type HallwayRoomEvent struct {
	RoomID           string   `json:"roomId"`
	Name             string   `json:"name"`
	ParticipantCount int      `json:"participantCount"`
	MaxParticipants  int      `json:"maxParticipants"`
	Languages        []string `json:"languages,omitempty"`
}
