// Package registry implements the room registry: creation, lookup,
// deletion, and token authentication of rooms, backed by a persistence
// store and populated from it at startup. No package-level mutable state —
// callers own a *Registry value, per the teacher's hub-struct idiom.
package registry

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/obsliveshare/relay/internal/auth"
	"github.com/obsliveshare/relay/internal/domain"
	"github.com/obsliveshare/relay/internal/store"
)

const (
	maxNameLen  = 100
	maxIdentLen = 128
)

// Registry is the in-memory roomId -> Room map, kept consistent with the
// persistence store.
type Registry struct {
	mu    sync.RWMutex
	rooms map[string]domain.Room
	store store.Store
	log   *slog.Logger
}

// New returns an empty registry backed by st.
func New(st store.Store, log *slog.Logger) *Registry {
	return &Registry{
		rooms: make(map[string]domain.Room),
		store: st,
		log:   log,
	}
}

// LoadFromStore populates the registry from persisted rooms, for use at
// startup.
func (r *Registry) LoadFromStore(ctx context.Context) error {
	rooms, err := r.store.LoadAllRooms(ctx)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, room := range rooms {
		r.rooms[room.ID] = room
	}
	return nil
}

// Create validates name and hostUserID, mints a room id and token, persists
// the room, and adds it to the registry.
func (r *Registry) Create(ctx context.Context, name, hostUserID, defaultPermission string) (domain.Room, error) {
	if err := ValidateText(name, maxNameLen); err != nil {
		return domain.Room{}, err
	}
	if hostUserID != "" {
		if err := ValidateText(hostUserID, maxIdentLen); err != nil {
			return domain.Room{}, err
		}
	}
	if defaultPermission != "" && defaultPermission != domain.PermissionReadWrite && defaultPermission != domain.PermissionReadOnly {
		return domain.Room{}, domain.ErrInvalidName
	}

	id, err := auth.GenerateRoomID()
	if err != nil {
		return domain.Room{}, err
	}
	token, err := auth.GenerateRoomToken()
	if err != nil {
		return domain.Room{}, err
	}

	room := domain.Room{
		ID:                id,
		Token:             token,
		Name:              name,
		HostUserID:        hostUserID,
		DefaultPermission: defaultPermission,
		CreatedAt:         time.Now().UTC(),
	}

	if err := r.store.SaveRoom(ctx, room); err != nil {
		return domain.Room{}, err
	}

	r.mu.Lock()
	r.rooms[room.ID] = room
	r.mu.Unlock()

	return room, nil
}

// Get returns the room by id.
func (r *Registry) Get(id string) (domain.Room, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	room, ok := r.rooms[id]
	return room, ok
}

// Authenticate looks up id and compares token in constant time, returning
// a *domain.RoomError wrapping ErrRoomNotFound or ErrTokenMismatch as
// appropriate. Used by both the join REST handler and the connection
// gateway's WS upgrade path.
func (r *Registry) Authenticate(id, token string) (domain.Room, error) {
	room, ok := r.Get(id)
	if !ok {
		return domain.Room{}, &domain.RoomError{RoomID: id, Op: "authenticate", Err: domain.ErrRoomNotFound}
	}
	if !auth.ConstantTimeEquals(room.Token, token) {
		return domain.Room{}, &domain.RoomError{RoomID: id, Op: "authenticate", Err: domain.ErrTokenMismatch}
	}
	return room, nil
}

// Delete removes a room after verifying token, from both the in-memory map
// and the store.
func (r *Registry) Delete(ctx context.Context, id, token string) error {
	if _, err := r.Authenticate(id, token); err != nil {
		return err
	}
	r.mu.Lock()
	delete(r.rooms, id)
	r.mu.Unlock()
	if err := r.store.DeleteRoom(ctx, id); err != nil {
		return &domain.RoomError{RoomID: id, Op: "delete", Err: err}
	}
	return nil
}

// Count returns the number of rooms currently registered.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms)
}

// ValidateText rejects control characters (0x00-0x1F and 0x7F) and
// over-length input.
func ValidateText(s string, maxLen int) error {
	if s == "" || len(s) > maxLen {
		return domain.ErrInvalidName
	}
	for i := 0; i < len(s); i++ {
		b := s[i]
		if b <= 0x1F || b == 0x7F {
			return domain.ErrInvalidName
		}
	}
	return nil
}

// SplitDocName splits a composite document name "<roomId>:<docKey>" into
// its room id and doc key at the first colon.
func SplitDocName(docName string) (roomID, docKey string, ok bool) {
	idx := strings.Index(docName, ":")
	if idx < 0 {
		return "", "", false
	}
	return docName[:idx], docName[idx+1:], true
}
