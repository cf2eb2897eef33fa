package hallway

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/hallwayfm/hallway/internal/core"
	"github.com/hallwayfm/hallway/internal/protocol"
)

type recordingNotifier struct {
	mu     sync.Mutex
	events map[core.SessionID][]string
}

func newRecordingNotifier() *recordingNotifier {
	return &recordingNotifier{events: make(map[core.SessionID][]string)}
}

func (n *recordingNotifier) Notify(sid core.SessionID, method string, _ any) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events[sid] = append(n.events[sid], method)
	return nil
}

func (n *recordingNotifier) eventsFor(sid core.SessionID) []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.events[sid]...)
}

func TestBroadcastReachesAllSubscribers(t *testing.T) {
	n := newRecordingNotifier()
	b := NewBroadcaster(n)
	b.Subscribe("s1")
	b.Subscribe("s2")

	b.RoomCreated(protocol.HallwayRoomEvent{RoomID: "r1", Name: "room"})

	assert.Equal(t, []string{protocol.EventHallwayRoomCreated}, n.eventsFor("s1"))
	assert.Equal(t, []string{protocol.EventHallwayRoomCreated}, n.eventsFor("s2"))
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	n := newRecordingNotifier()
	b := NewBroadcaster(n)
	b.Subscribe("s1")
	b.Subscribe("s2")
	b.Unsubscribe("s1")

	b.RoomUpdated(protocol.HallwayRoomEvent{RoomID: "r1"})
	b.RoomClosed(protocol.HallwayRoomEvent{RoomID: "r1"})

	assert.Empty(t, n.eventsFor("s1"))
	assert.Equal(t, []string{protocol.EventHallwayRoomUpdated, protocol.EventHallwayRoomClosed}, n.eventsFor("s2"))
}
