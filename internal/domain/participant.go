package domain

import "time"

type Role string

const (
	RoleOwner       Role = "owner"
	RoleParticipant Role = "participant"
)

// Participant is a user's membership in one room. Keyed by (RoomID, UserID);
// inserted on join, removed on leave/kick, Role mutated on ownership transfer.
type Participant struct {
	RoomID   RoomID    `json:"roomId"`
	UserID   UserID    `json:"userId"`
	Role     Role      `json:"role"`
	Muted    bool      `json:"muted"`
	JoinedAt time.Time `json:"joinedAt"`
}

func NewParticipant(roomID RoomID, userID UserID, role Role) *Participant {
	return &Participant{
		RoomID:   roomID,
		UserID:   userID,
		Role:     role,
		JoinedAt: time.Now().UTC(),
	}
}
