package controlroom

import (
	"sync"

	"github.com/obsliveshare/relay/internal/control"
	"github.com/obsliveshare/relay/internal/domain"
)

// room owns one control room's connected sockets and pending-approval map.
// All mutation happens under mu with the same "snapshot under lock, send
// outside lock" discipline as crdtroom's document.
type room struct {
	id   string
	room domain.Room

	mu       sync.Mutex
	sockets  map[*socket]struct{}
	pending  map[string]*socket // userID -> guest socket awaiting a decision
	hasHost  bool
}

func newRoom(rm domain.Room) *room {
	return &room{
		id:      rm.ID,
		room:    rm,
		sockets: make(map[*socket]struct{}),
		pending: make(map[string]*socket),
	}
}

func (r *room) addSocket(s *socket) {
	r.mu.Lock()
	r.sockets[s] = struct{}{}
	r.mu.Unlock()
}

// removeSocket unregisters s and returns a snapshot of the remaining
// sockets plus the pending-approval entry withdrawn for s's user-id, if
// any.
func (r *room) removeSocket(s *socket) (remaining []*socket, hadUserID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sockets, s)
	if s.userID != "" {
		if p, ok := r.pending[s.userID]; ok && p == s {
			delete(r.pending, s.userID)
		}
		hadUserID = s.userID
	}
	remaining = r.snapshotLocked(nil)
	return remaining, hadUserID
}

func (r *room) isEmpty() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sockets) == 0
}

func (r *room) snapshotLocked(exclude *socket) []*socket {
	out := make([]*socket, 0, len(r.sockets))
	for s := range r.sockets {
		if s == exclude {
			continue
		}
		out = append(out, s)
	}
	return out
}

// approvedPeersExcept returns every approved socket other than origin.
func (r *room) approvedPeersExcept(origin *socket) []*socket {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*socket, 0, len(r.sockets))
	for s := range r.sockets {
		if s == origin || !s.approved {
			continue
		}
		out = append(out, s)
	}
	return out
}

func (r *room) findHost() *socket {
	r.mu.Lock()
	defer r.mu.Unlock()
	for s := range r.sockets {
		if s.isHost {
			return s
		}
	}
	return nil
}

func (r *room) byUserID(userID string) []*socket {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*socket
	for s := range r.sockets {
		if s.userID == userID {
			out = append(out, s)
		}
	}
	return out
}

// participantIDs returns the user ids of every identified socket currently
// connected to the room, for the optional participant list in spec §3's
// Room data model.
func (r *room) participantIDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.sockets))
	for s := range r.sockets {
		if s.userID != "" {
			out = append(out, s.userID)
		}
	}
	return out
}

// handleJoinRequest records the sender's identity and either auto-approves
// or queues a pending approval for the host, per spec §4.4.
func (r *room) handleJoinRequest(sender *socket, env control.Envelope) (hostToNotify *socket, autoApprove bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sender.userID = env.UserID
	sender.displayName = env.DisplayName
	sender.avatarURL = env.AvatarURL

	if !r.room.RequireApproval {
		sender.approved = true
		return nil, true
	}
	sender.approved = false
	r.pending[env.UserID] = sender
	for s := range r.sockets {
		if s.isHost {
			return s, false
		}
	}
	return nil, false
}

// handleJoinResponse resolves a pending approval. Returns the guest socket
// and whether the caller (host check already done) should proceed.
func (r *room) handleJoinResponse(targetUserID string, approved bool, permission string) *socket {
	r.mu.Lock()
	defer r.mu.Unlock()
	guest, ok := r.pending[targetUserID]
	if !ok {
		return nil
	}
	delete(r.pending, targetUserID)
	guest.approved = approved
	if permission != "" {
		guest.permission = permission
	}
	return guest
}

// determineHost applies the host-determination policy on a socket's first
// presence-update: a pinned hostUserId wins if present, otherwise the
// first socket to identify becomes host. Host status, once set, is never
// demoted.
func (r *room) determineHost(s *socket, userID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s.isHost {
		return
	}
	if r.room.HostUserID != "" {
		if userID == r.room.HostUserID {
			s.isHost = true
		}
		return
	}
	if !r.hasHost {
		s.isHost = true
		r.hasHost = true
	}
}
