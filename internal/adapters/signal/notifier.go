package signal

import (
	"encoding/json"
	"fmt"

	"github.com/hallwayfm/hallway/internal/app"
	"github.com/hallwayfm/hallway/internal/core"
	"github.com/hallwayfm/hallway/internal/protocol"
)

// SessionNotifier delivers one-way events to sessions through the registry.
// It is the core.Notifier the room manager and hallway broadcast with.
type SessionNotifier struct {
	Registry *app.Registry
}

func NewSessionNotifier(reg *app.Registry) *SessionNotifier {
	return &SessionNotifier{Registry: reg}
}

func (n *SessionNotifier) Notify(sid core.SessionID, method string, payload any) error {
	sess, ok := n.Registry.Get(sid)
	if !ok {
		return fmt.Errorf("no session %s", sid)
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", method, err)
	}
	frame, err := json.Marshal(protocol.NewNotification(method, data))
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}
	return sess.Signal.TrySend(frame)
}
