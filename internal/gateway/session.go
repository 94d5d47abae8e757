package gateway

import (
	"sync"

	"github.com/gorilla/websocket"
)

// Session is the gateway's record of one accepted connection, matching
// the system's Session/room data model: connectionId, userId, tier, and
// the set of flows this connection has joined (tracked by internal/collab,
// not duplicated here).
type Session struct {
	ConnectionID string
	UserID       string
	Tier         string
	ConnectedAt  int64

	conn *websocket.Conn

	sendMu sync.Mutex
	send   chan Envelope
}

// writeJSON serializes and writes env directly, used by the send loop.
func (s *Session) writeJSON(env Envelope) error {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	return s.conn.WriteJSON(env)
}

// enqueue hands env to the session's buffered send loop. It never blocks
// the caller on a slow client: a full buffer drops the oldest undelivered
// frame rather than stalling the room broadcast that triggered it.
func (s *Session) enqueue(env Envelope) {
	select {
	case s.send <- env:
	default:
		select {
		case <-s.send:
		default:
		}
		select {
		case s.send <- env:
		default:
		}
	}
}
