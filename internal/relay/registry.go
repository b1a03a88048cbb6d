// Package relay implements the room-scoped signaling relay: one exam room
// holds at most one agent and one student, and every offer/answer/ice or
// control frame is forwarded verbatim to the complementary role.
package relay

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/odewan/examlink/internal/domain"
)

// SessionID identifies one WebSocket connection (client token).
type SessionID string

type sessionEntry struct {
	Room   domain.RoomID
	Role   domain.Role
	Conn   *wsConn
	Cancel context.CancelFunc
}

// Registry tracks which connection occupies which role in which room.
type Registry struct {
	mu       sync.RWMutex
	sessions map[SessionID]*sessionEntry
}

func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[SessionID]*sessionEntry),
	}
}

// Bind registers sid's connection. The client token stays stable across
// reconnects, so a redial arrives under the same sid while the old socket
// may still be half-open; the stale connection is cancelled here and its
// later teardown must not touch the fresh entry (see Unbind).
func (r *Registry) Bind(sid SessionID, conn *wsConn, cancel context.CancelFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if old, ok := r.sessions[sid]; ok && old.Conn != conn {
		log.Info().Str("module", "relay.registry").Str("sid", string(sid)).Msg("replacing half-open session")
		if old.Cancel != nil {
			old.Cancel()
		}
		if old.Conn != nil {
			old.Conn.Close()
		}
	}
	r.sessions[sid] = &sessionEntry{Conn: conn, Cancel: cancel}
	log.Info().Str("module", "relay.registry").Str("sid", string(sid)).Msg("bound session")
}

// Join places sid into a room with a role. A reconnecting client replaces
// any stale occupant of the same role; the stale connection is cancelled.
func (r *Registry) Join(sid SessionID, room domain.RoomID, role domain.Role) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for otherSID, e := range r.sessions {
		if otherSID != sid && e.Room == room && e.Role == role {
			log.Info().Str("module", "relay.registry").
				Str("room", string(room)).Str("role", string(role)).
				Str("stale_sid", string(otherSID)).Msg("evicting stale role occupant")
			if e.Cancel != nil {
				e.Cancel()
			}
			if e.Conn != nil {
				e.Conn.Close()
			}
			delete(r.sessions, otherSID)
		}
	}

	entry, ok := r.sessions[sid]
	if !ok {
		return
	}
	entry.Room = room
	entry.Role = role
	log.Info().Str("module", "relay.registry").Str("sid", string(sid)).
		Str("room", string(room)).Str("role", string(role)).Msg("joined room")
}

// Counterpart returns the connection holding the complementary role in
// sid's room, if both sid has joined and the counterpart is present.
func (r *Registry) Counterpart(sid SessionID) (*wsConn, domain.Role, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, ok := r.sessions[sid]
	if !ok || entry.Room == "" {
		return nil, "", false
	}
	want := entry.Role.Complement()
	for otherSID, e := range r.sessions {
		if otherSID != sid && e.Room == entry.Room && e.Role == want {
			return e.Conn, e.Role, true
		}
	}
	return nil, "", false
}

// RoleOf returns sid's room and role, if joined.
func (r *Registry) RoleOf(sid SessionID) (domain.RoomID, domain.Role, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.sessions[sid]
	if !ok || entry.Room == "" {
		return "", "", false
	}
	return entry.Room, entry.Role, true
}

// Owns reports whether sid's registry entry still points at conn. False
// means the connection has been replaced by a same-token reconnect.
func (r *Registry) Owns(sid SessionID, conn *wsConn) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.sessions[sid]
	return ok && entry.Conn == conn
}

// Unbind removes sid's entry only while it still belongs to conn, so a
// stale socket tearing down after a reconnect cannot destroy the fresh
// session registered under the same client token.
func (r *Registry) Unbind(sid SessionID, conn *wsConn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.sessions[sid]
	if !ok || entry.Conn != conn {
		return
	}
	delete(r.sessions, sid)
	log.Info().Str("module", "relay.registry").Str("sid", string(sid)).Msg("unbind session")
}
