// Package core holds the interfaces the layers meet at. Implementations live
// in adapters (transport), sfu (media), rooms (coordination) and store.
package core

import "github.com/hallwayfm/hallway/internal/domain"

// Frame is a raw payload already encoded for the wire.
type Frame []byte

// SessionID identifies one event-channel connection. A user reconnecting gets
// a fresh SessionID; the UserID is what survives.
type SessionID string

// SignalConnection abstracts a system messaging transport.
// Owned by the adapter; the adapter must Close() it.
type SignalConnection interface {
	TrySend(Frame) error
	Close()
}

// Notifier delivers a one-way event to a single session. An error means the
// receiver is too slow or gone; senders never block on it.
type Notifier interface {
	Notify(sid SessionID, method string, payload any) error
}

// ParticipantSnapshot is a roster entry enriched with the session it is
// reachable at.
type ParticipantSnapshot struct {
	SID         SessionID
	Participant domain.Participant
	Username    string
}
