// Package memstore is a no-op in-memory implementation of store.Store,
// used by tests in place of the sqlite-backed store, per the teacher's
// pattern of threading a persistence handle through construction so tests
// can substitute a fake.
package memstore

import (
	"context"
	"sync"

	"github.com/obsliveshare/relay/internal/domain"
)

// Store is an in-memory, process-lifetime implementation of store.Store.
type Store struct {
	mu    sync.RWMutex
	docs  map[string][]byte
	rooms map[string]domain.Room
}

// New returns an empty in-memory store.
func New() *Store {
	return &Store{
		docs:  make(map[string][]byte),
		rooms: make(map[string]domain.Room),
	}
}

func (s *Store) LoadDoc(_ context.Context, name string) ([]byte, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.docs[name]
	if !ok {
		return nil, false, nil
	}
	out := make([]byte, len(data))
	copy(out, data)
	return out, true, nil
}

func (s *Store) PersistDoc(_ context.Context, name string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make([]byte, len(data))
	copy(cp, data)
	s.docs[name] = cp
	return nil
}

func (s *Store) LoadAllRooms(_ context.Context) ([]domain.Room, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Room, 0, len(s.rooms))
	for _, r := range s.rooms {
		out = append(out, r)
	}
	return out, nil
}

func (s *Store) SaveRoom(_ context.Context, room domain.Room) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rooms[room.ID] = room
	return nil
}

func (s *Store) DeleteRoom(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.rooms, id)
	return nil
}

func (s *Store) Close() error {
	return nil
}
