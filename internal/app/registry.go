// Package app owns cross-cutting session state: which connection belongs to
// which user and which room it is currently routed to. The registry is
// constructed once and injected; nothing here is package-level.
package app

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/hallwayfm/hallway/internal/core"
	"github.com/hallwayfm/hallway/internal/domain"
)

type sessionEntry struct {
	User   *domain.User
	Guest  bool
	Signal core.SignalConnection
	RoomID domain.RoomID
	Cancel context.CancelFunc
}

// Session is a read-only snapshot of one bound connection.
type Session struct {
	SID    core.SessionID
	User   *domain.User
	Guest  bool
	Signal core.SignalConnection
	RoomID domain.RoomID
}

type Registry struct {
	mu       sync.RWMutex
	sessions map[core.SessionID]*sessionEntry
}

func NewRegistry() *Registry {
	return &Registry{sessions: make(map[core.SessionID]*sessionEntry)}
}

// Bind registers a freshly upgraded connection. Guest sessions carry a
// synthetic user and may only consume hallway broadcasts.
func (r *Registry) Bind(sid core.SessionID, user *domain.User, guest bool, conn core.SignalConnection, cancel context.CancelFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[sid] = &sessionEntry{User: user, Guest: guest, Signal: conn, Cancel: cancel}
	log.Info().Str("module", "app.registry").Str("sid", string(sid)).Str("user", string(user.ID)).Bool("guest", guest).Msg("bound session")
}

func (r *Registry) Unbind(sid core.SessionID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, sid)
	log.Info().Str("module", "app.registry").Str("sid", string(sid)).Msg("unbound session")
}

func (r *Registry) Get(sid core.SessionID) (Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.sessions[sid]
	if !ok {
		return Session{}, false
	}
	return Session{SID: sid, User: e.User, Guest: e.Guest, Signal: e.Signal, RoomID: e.RoomID}, true
}

func (r *Registry) SetRoom(sid core.SessionID, roomID domain.RoomID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.sessions[sid]
	if !ok {
		return false
	}
	e.RoomID = roomID
	return true
}

func (r *Registry) ClearRoom(sid core.SessionID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.sessions[sid]; ok {
		e.RoomID = ""
	}
}

// RoomOf reports the room this session is routed to, if any.
func (r *Registry) RoomOf(sid core.SessionID) (domain.RoomID, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.sessions[sid]
	if !ok || e.RoomID == "" {
		return "", false
	}
	return e.RoomID, true
}

// Cancel tears down the connection context, which unwinds both pumps.
func (r *Registry) Cancel(sid core.SessionID) bool {
	r.mu.RLock()
	e, ok := r.sessions[sid]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	if e.Cancel != nil {
		e.Cancel()
	}
	return true
}
