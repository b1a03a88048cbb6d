package relay

import (
	"encoding/json"

	"github.com/rs/zerolog/log"

	"github.com/odewan/examlink/internal/domain"
)

func (ctl *Controller) handleJoin(sid SessionID, conn *wsConn, data []byte) {
	var p domain.JoinPayload
	if err := json.Unmarshal(data, &p); err != nil {
		log.Error().Err(err).Str("module", "relay").Msg("bad join payload")
		ctl.sendJSON(conn, domain.ErrorPayload{Type: domain.EventError, Error: "bad_payload"})
		return
	}
	if p.Room == "" || !p.Role.Valid() {
		ctl.sendJSON(conn, domain.ErrorPayload{Type: domain.EventError, Error: "invalid room or role"})
		return
	}

	log.Info().Str("module", "relay").Str("sid", string(sid)).
		Str("room", string(p.Room)).Str("role", string(p.Role)).Msg("join")
	ctl.Registry.Join(sid, p.Room, p.Role)

	ctl.sendJSON(conn, domain.JoinPayload{Type: domain.EventJoined, Room: p.Room, Role: p.Role})

	// Announce both ways so a late joiner learns of a waiting counterpart.
	if peer, peerRole, ok := ctl.Registry.Counterpart(sid); ok {
		ctl.sendJSON(peer, domain.PeerPayload{Type: domain.EventPeerJoined, Role: p.Role})
		ctl.sendJSON(conn, domain.PeerPayload{Type: domain.EventPeerJoined, Role: peerRole})
	}
}

// forward relays a frame verbatim to the complementary role in sid's room.
// Per-connection write order is preserved by the single writePump; the
// relay adds no ordering of its own.
func (ctl *Controller) forward(sid SessionID, conn *wsConn, event string, data []byte) {
	if _, _, ok := ctl.Registry.RoleOf(sid); !ok {
		ctl.sendJSON(conn, domain.ErrorPayload{Type: domain.EventError, Error: "not in a room"})
		return
	}
	peer, _, ok := ctl.Registry.Counterpart(sid)
	if !ok {
		// Fire-and-forget semantics: a missing counterpart is not an error
		// worth a reply, the sender's UI stays optimistic.
		log.Warn().Str("module", "relay").Str("sid", string(sid)).
			Str("type", event).Msg("no counterpart, frame dropped")
		return
	}
	if err := peer.TrySend(data); err != nil {
		log.Warn().Err(err).Str("module", "relay").Str("type", event).Msg("forward dropped")
		peer.Close()
	}
}

func (ctl *Controller) handleLeave(sid SessionID, conn *wsConn) {
	// A same-token reconnect replaces the entry before the stale socket
	// tears down; the stale teardown must neither announce peer-left nor
	// unbind the fresh connection.
	if !ctl.Registry.Owns(sid, conn) {
		log.Debug().Str("module", "relay").Str("sid", string(sid)).Msg("stale connection left, session already replaced")
		return
	}
	room, role, joined := ctl.Registry.RoleOf(sid)
	if joined {
		if peer, _, ok := ctl.Registry.Counterpart(sid); ok {
			ctl.sendJSON(peer, domain.PeerPayload{Type: domain.EventPeerLeft, Role: role})
		}
		log.Info().Str("module", "relay").Str("sid", string(sid)).
			Str("room", string(room)).Msg("left room")
	}
	ctl.Registry.Unbind(sid, conn)
}
