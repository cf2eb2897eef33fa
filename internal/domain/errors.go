package domain

import "errors"

// Error taxonomy shared by server handlers and the client coordinator.
// Wire errors carry Code; sentinel comparisons use errors.Is.
var (
	ErrAuthRequired       = errors.New("authentication required")
	ErrRoomNotFound       = errors.New("room not found")
	ErrRoomClosed         = errors.New("room closed")
	ErrRoomFull           = errors.New("room full")
	ErrJoinFailed         = errors.New("join failed")
	ErrNotOwner           = errors.New("not room owner")
	ErrNotMember          = errors.New("not a room member")
	ErrNegotiationTimeout = errors.New("negotiation timeout")
	ErrNegotiationFailed  = errors.New("negotiation failed")
	ErrReconnectExhausted = errors.New("reconnect attempts exhausted")
)

// ErrorCode maps a taxonomy error to its wire code.
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrAuthRequired):
		return "AUTH_REQUIRED"
	case errors.Is(err, ErrRoomNotFound):
		return "ROOM_NOT_FOUND"
	case errors.Is(err, ErrRoomClosed):
		return "ROOM_CLOSED"
	case errors.Is(err, ErrRoomFull):
		return "ROOM_FULL"
	case errors.Is(err, ErrNotOwner):
		return "NOT_OWNER"
	case errors.Is(err, ErrNotMember):
		return "NOT_MEMBER"
	case errors.Is(err, ErrNegotiationTimeout):
		return "NEGOTIATION_TIMEOUT"
	case errors.Is(err, ErrNegotiationFailed):
		return "NEGOTIATION_FAILED"
	case errors.Is(err, ErrReconnectExhausted):
		return "RECONNECT_EXHAUSTED"
	case err != nil:
		return "JOIN_FAILED"
	}
	return ""
}
