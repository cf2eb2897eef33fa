// Package protocol defines the wire format of the event channel: a protoo-style
// JSON envelope multiplexing request/response calls and one-way notifications
// over a single WebSocket.
package protocol

import "encoding/json"

// Envelope is the only frame shape on the wire.
//
// Requests carry Request=true, a caller-chosen ID and a Method; the response
// echoes the ID with Response=true and either OK plus Data or an ErrorCode and
// ErrorReason. Notifications carry Notification=true and no ID; they are never
// acknowledged.
type Envelope struct {
	Request      bool            `json:"request,omitempty"`
	Response     bool            `json:"response,omitempty"`
	Notification bool            `json:"notification,omitempty"`
	ID           uint64          `json:"id,omitempty"`
	Method       string          `json:"method,omitempty"`
	OK           bool            `json:"ok,omitempty"`
	ErrorCode    string          `json:"errorCode,omitempty"`
	ErrorReason  string          `json:"errorReason,omitempty"`
	Data         json.RawMessage `json:"data,omitempty"`
}

// Request methods (caller-enforced timeout).
const (
	MethodRoomJoin  = "room:join"
	MethodRoomSync  = "room:sync"
	MethodRoomLeave = "room:leave"
	MethodRoomKick  = "room:kick"
	MethodRoomOwner = "room:transfer-owner"

	MethodRTPCapabilities  = "voice:get-rtp-capabilities"
	MethodCreateTransport  = "voice:create-transport"
	MethodConnectTransport = "voice:connect-transport"
	MethodProduce          = "voice:produce"
	MethodConsume          = "voice:consume"
)

// Notification methods.
const (
	MethodRoomMute = "room:mute" // client -> server, fire-and-forget

	EventUserJoined          = "room:user-joined"
	EventNewProducer         = "room:new-producer"
	EventParticipantsUpdated = "room:participants-updated"
	EventUserLeft            = "room:user-left"
	EventUserMuted           = "room:user-muted"
	EventActiveSpeaker       = "room:active-speaker"
	EventOwnerChanged        = "room:owner-changed"
	EventRoomClosed          = "room:closed"

	EventHallwayRoomCreated = "hallway:room-created"
	EventHallwayRoomUpdated = "hallway:room-updated"
	EventHallwayRoomClosed  = "hallway:room-closed"
)

func NewRequest(id uint64, method string, data json.RawMessage) Envelope {
	return Envelope{Request: true, ID: id, Method: method, Data: data}
}

func NewResponse(id uint64, data json.RawMessage) Envelope {
	return Envelope{Response: true, ID: id, OK: true, Data: data}
}

func NewErrorResponse(id uint64, code, reason string) Envelope {
	return Envelope{Response: true, ID: id, ErrorCode: code, ErrorReason: reason}
}

func NewNotification(method string, data json.RawMessage) Envelope {
	return Envelope{Notification: true, Method: method, Data: data}
}
