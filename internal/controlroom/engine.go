package controlroom

import (
	"log/slog"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/obsliveshare/relay/internal/control"
	"github.com/obsliveshare/relay/internal/domain"
)

const maxControlFrameSize = 1 << 20 // 1 MiB, per spec §4.4

// Engine owns every live control room for the process. Entirely in-memory;
// no persistence, per spec §4.4.
type Engine struct {
	mu    sync.Mutex
	rooms map[string]*room
	log   *slog.Logger
}

// New returns an empty control engine.
func New(log *slog.Logger) *Engine {
	return &Engine{
		rooms: make(map[string]*room),
		log:   log,
	}
}

// RoomCount reports how many control rooms currently have at least one
// connected socket.
func (e *Engine) RoomCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.rooms)
}

// Participants returns the identified user ids currently connected to
// roomID's control channel, or nil if the room has no live connections.
func (e *Engine) Participants(roomID string) []string {
	e.mu.Lock()
	r, ok := e.rooms[roomID]
	e.mu.Unlock()
	if !ok {
		return nil
	}
	return r.participantIDs()
}

func (e *Engine) getOrCreateRoom(rm domain.Room) *room {
	e.mu.Lock()
	defer e.mu.Unlock()
	if r, ok := e.rooms[rm.ID]; ok {
		return r
	}
	r := newRoom(rm)
	e.rooms[rm.ID] = r
	return r
}

func (e *Engine) dropIfEmpty(r *room) {
	if !r.isEmpty() {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if cur, ok := e.rooms[r.id]; ok && cur == r && r.isEmpty() {
		delete(e.rooms, r.id)
	}
}

// HandleConnect takes ownership of an upgraded control connection scoped
// to rm, running its read loop until the socket closes.
func (e *Engine) HandleConnect(rm domain.Room, conn *websocket.Conn) {
	r := e.getOrCreateRoom(rm)
	defaultPermission := rm.EffectivePermission()
	approved := !rm.RequireApproval
	s := newSocket(conn, defaultPermission, approved)
	r.addSocket(s)

	conn.SetReadLimit(maxControlFrameSize + 64)

	e.readLoop(r, s)
}

func (e *Engine) readLoop(r *room, s *socket) {
	defer e.onDisconnect(r, s)

	for {
		msgType, data, err := s.conn.ReadMessage()
		if err != nil {
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}
		e.dispatch(r, s, data)
	}
}

func (e *Engine) dispatch(r *room, s *socket, data []byte) {
	env, err := control.Parse(data)
	if err != nil || !control.IsKnownType(env.Type) {
		return
	}
	switch env.Type {
	case control.TypeJoinRequest:
		e.handleJoinRequest(r, s, env)
	case control.TypeJoinResponse:
		e.handleJoinResponse(r, s, env)
	case control.TypeKick:
		e.handleKick(r, s, env)
	case control.TypeFileOp:
		e.handleFileOp(r, s, env)
	case control.TypeSummon:
		e.handleSummon(r, s, env)
	case control.TypePresenceUpdate:
		e.handlePresenceUpdate(r, s, env)
	case control.TypeFollowUpdate, control.TypeSessionEnd, control.TypeFocusRequest:
		e.broadcastIfApproved(r, s, env)
	}
}

func (e *Engine) handleJoinRequest(r *room, s *socket, env control.Envelope) {
	host, autoApprove := r.handleJoinRequest(s, env)
	if autoApprove {
		payload := control.JoinResponsePayload(true, s.permission)
		_ = s.send(payload)
		return
	}
	if host != nil {
		payload := control.JoinRequestPayload(env.UserID, env.DisplayName, env.AvatarURL)
		_ = host.send(payload)
	}
}

func (e *Engine) handleJoinResponse(r *room, s *socket, env control.Envelope) {
	if !s.isHost {
		return
	}
	approved := env.Approved != nil && *env.Approved
	guest := r.handleJoinResponse(env.TargetUserID, approved, env.Permission)
	if guest == nil {
		return
	}
	payload := control.JoinResponsePayload(approved, guest.permission)
	_ = guest.send(payload)
}

func (e *Engine) handleKick(r *room, s *socket, env control.Envelope) {
	if !s.isHost {
		return
	}
	targets := r.byUserID(env.TargetUserID)
	for _, t := range targets {
		_ = t.send(control.KickedPayload())
		t.sendClose(websocket.CloseNormalClosure, "kicked")
	}
}

func (e *Engine) handleFileOp(r *room, s *socket, env control.Envelope) {
	if !s.approved || s.permission == domain.PermissionReadOnly {
		return
	}
	e.broadcastRaw(r.approvedPeersExcept(s), env.Raw())
}

func (e *Engine) handleSummon(r *room, s *socket, env control.Envelope) {
	if !s.approved {
		return
	}
	if env.TargetUserID != "" && env.TargetUserID != control.TargetAll {
		targets := r.byUserID(env.TargetUserID)
		e.broadcastRaw(targets, env.Raw())
		return
	}
	e.broadcastRaw(r.approvedPeersExcept(s), env.Raw())
}

func (e *Engine) handlePresenceUpdate(r *room, s *socket, env control.Envelope) {
	if s.userID == "" && env.UserID != "" {
		r.determineHost(s, env.UserID)
		s.userID = env.UserID
	}
	if env.DisplayName != "" {
		s.displayName = env.DisplayName
	}
	e.broadcastIfApproved(r, s, env)
}

func (e *Engine) broadcastIfApproved(r *room, s *socket, env control.Envelope) {
	if !s.approved {
		return
	}
	e.broadcastRaw(r.approvedPeersExcept(s), env.Raw())
}

func (e *Engine) broadcastRaw(targets []*socket, payload []byte) {
	for _, t := range targets {
		_ = t.send(payload)
	}
}

func (e *Engine) onDisconnect(r *room, s *socket) {
	remaining, userID := r.removeSocket(s)
	if userID != "" {
		payload := control.PresenceLeavePayload(userID)
		e.broadcastRaw(remaining, payload)
	}
	e.dropIfEmpty(r)
}

// Shutdown closes every connected control socket. Control rooms carry no
// persisted state, so there is nothing to flush.
func (e *Engine) Shutdown() {
	e.mu.Lock()
	rooms := make([]*room, 0, len(e.rooms))
	for _, r := range e.rooms {
		rooms = append(rooms, r)
	}
	e.rooms = make(map[string]*room)
	e.mu.Unlock()

	for _, r := range rooms {
		r.mu.Lock()
		sockets := r.snapshotLocked(nil)
		r.mu.Unlock()
		for _, s := range sockets {
			s.sendClose(websocket.CloseNormalClosure, "server shutting down")
		}
	}
}
