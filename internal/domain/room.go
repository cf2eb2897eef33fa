package domain

type (
	RoomName string
	RoomID   string
)

// RoomState is the room lifecycle: Active until emptied or explicitly
// closed, Closing while the final broadcasts drain, Closed is terminal.
type RoomState int32

const (
	RoomActive RoomState = iota
	RoomClosing
	RoomClosed
)

func (s RoomState) String() string {
	switch s {
	case RoomActive:
		return "active"
	case RoomClosing:
		return "closing"
	case RoomClosed:
		return "closed"
	}
	return "unknown"
}

type Room struct {
	ID              RoomID   `json:"id"`
	Name            RoomName `json:"name"`
	OwnerID         UserID   `json:"ownerId"`
	MaxParticipants int      `json:"maxParticipants"`
	Active          bool     `json:"active"`
	Languages       []string `json:"languages,omitempty"`
}
