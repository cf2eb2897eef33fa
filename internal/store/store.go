// Package store persists rooms and participants. The room manager consumes it
// as a plain CRUD service; all coordination state stays in memory.
package store

import (
	"context"
	"errors"

	"github.com/hallwayfm/hallway/internal/domain"
)

var ErrNotFound = errors.New("not found")

// RoomStore is the persistence service behind the room manager.
type RoomStore interface {
	GetRoom(ctx context.Context, id domain.RoomID) (*domain.Room, error)
	CreateRoom(ctx context.Context, room *domain.Room) error
	SetRoomActive(ctx context.Context, id domain.RoomID, active bool) error
	SetRoomOwner(ctx context.Context, id domain.RoomID, owner domain.UserID) error
	ListActiveRooms(ctx context.Context) ([]domain.Room, error)

	// UpsertParticipant inserts the participant if absent; a reconnecting
	// user keeps the original row (idempotent join).
	UpsertParticipant(ctx context.Context, p *domain.Participant) error
	RemoveParticipant(ctx context.Context, roomID domain.RoomID, userID domain.UserID) error
	SetParticipantRole(ctx context.Context, roomID domain.RoomID, userID domain.UserID, role domain.Role) error
	SetParticipantMuted(ctx context.Context, roomID domain.RoomID, userID domain.UserID, muted bool) error
	ListParticipants(ctx context.Context, roomID domain.RoomID) ([]domain.Participant, error)
}
