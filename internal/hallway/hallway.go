// Package hallway fans out room summary events to every subscribed session.
// Guests subscribe too; the hallway is the read-only discovery surface.
package hallway

import (
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/hallwayfm/hallway/internal/core"
	"github.com/hallwayfm/hallway/internal/protocol"
)

type Broadcaster struct {
	mu       sync.RWMutex
	subs     map[core.SessionID]struct{}
	notifier core.Notifier
}

func NewBroadcaster(notifier core.Notifier) *Broadcaster {
	return &Broadcaster{
		subs:     make(map[core.SessionID]struct{}),
		notifier: notifier,
	}
}

func (b *Broadcaster) Subscribe(sid core.SessionID) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[sid] = struct{}{}
}

func (b *Broadcaster) Unsubscribe(sid core.SessionID) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subs, sid)
}

func (b *Broadcaster) RoomCreated(ev protocol.HallwayRoomEvent) {
	b.publish(protocol.EventHallwayRoomCreated, ev)
}

func (b *Broadcaster) RoomUpdated(ev protocol.HallwayRoomEvent) {
	b.publish(protocol.EventHallwayRoomUpdated, ev)
}

func (b *Broadcaster) RoomClosed(ev protocol.HallwayRoomEvent) {
	b.publish(protocol.EventHallwayRoomClosed, ev)
}

func (b *Broadcaster) publish(method string, ev protocol.HallwayRoomEvent) {
	b.mu.RLock()
	sids := make([]core.SessionID, 0, len(b.subs))
	for sid := range b.subs {
		sids = append(sids, sid)
	}
	b.mu.RUnlock()

	for _, sid := range sids {
		if err := b.notifier.Notify(sid, method, ev); err != nil {
			log.Debug().Str("module", "hallway").Str("sid", string(sid)).Err(err).Msg("drop hallway event")
		}
	}
}
