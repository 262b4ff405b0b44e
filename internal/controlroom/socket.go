// Package controlroom implements the control room engine (spec §4.4): a
// per-room JSON message router for presence, file-ops, approval, kick,
// summon, and focus.
package controlroom

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const controlWriteTimeout = 10 * time.Second

// socket is one connected client of a control room. Writes are serialized
// by mu since gorilla/websocket permits at most one concurrent writer per
// connection; control traffic has no high/low priority distinction so a
// plain mutex (rather than crdtroom's prioritized pump) is sufficient.
type socket struct {
	id          string
	conn        *websocket.Conn
	writeMu     sync.Mutex
	userID      string
	displayName string
	avatarURL   string
	isHost      bool
	approved    bool
	permission  string
}

func newSocket(conn *websocket.Conn, defaultPermission string, approved bool) *socket {
	return &socket{
		id:         uuid.NewString(),
		conn:       conn,
		approved:   approved,
		permission: defaultPermission,
	}
}

func (s *socket) send(payload []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := s.conn.SetWriteDeadline(time.Now().Add(controlWriteTimeout)); err != nil {
		return err
	}
	return s.conn.WriteMessage(websocket.TextMessage, payload)
}

func (s *socket) sendClose(code int, reason string) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(controlWriteTimeout))
	_ = s.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason))
	_ = s.conn.Close()
}
