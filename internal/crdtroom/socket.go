package crdtroom

import (
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/obsliveshare/relay/internal/wire"
)

// socket is one connected client of a document: the underlying websocket
// connection, a prioritized write pump, and the set of awareness-client-ids
// this socket has ever announced (so they can be withdrawn on disconnect).
type socket struct {
	id           string
	conn         *websocket.Conn
	pump         *wire.WritePump
	awarenessIDs map[uint32]struct{}
}

func newSocket(conn *websocket.Conn, pump *wire.WritePump) *socket {
	return &socket{
		id:           uuid.NewString(),
		conn:         conn,
		pump:         pump,
		awarenessIDs: make(map[uint32]struct{}),
	}
}

func (s *socket) recordAwarenessIDs(ids []uint32) {
	for _, id := range ids {
		s.awarenessIDs[id] = struct{}{}
	}
}

func (s *socket) allAwarenessIDs() []uint32 {
	ids := make([]uint32, 0, len(s.awarenessIDs))
	for id := range s.awarenessIDs {
		ids = append(ids, id)
	}
	return ids
}
