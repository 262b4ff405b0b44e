// Package store defines the persistence contract shared by the sqlite-backed
// implementation and the in-memory test double: two keyspaces in a single
// embedded ordered key-value store, doc:<name> and room:<id>. A missing key
// is a normal condition, not an error. Close is idempotent.
package store

import (
	"context"

	"github.com/obsliveshare/relay/internal/domain"
)

// Store is the persistence contract used by the room registry and the CRDT
// room engine.
type Store interface {
	// LoadDoc returns the persisted snapshot for name, or ok == false if
	// none exists.
	LoadDoc(ctx context.Context, name string) (data []byte, ok bool, err error)

	// PersistDoc overwrites the persisted snapshot for name.
	PersistDoc(ctx context.Context, name string, data []byte) error

	// LoadAllRooms returns every persisted room, for startup population of
	// the registry.
	LoadAllRooms(ctx context.Context) ([]domain.Room, error)

	// SaveRoom creates or overwrites a room's persisted metadata.
	SaveRoom(ctx context.Context, room domain.Room) error

	// DeleteRoom removes a room's persisted metadata. Deleting an unknown
	// id is not an error.
	DeleteRoom(ctx context.Context, id string) error

	// Close releases the store's resources. Must be called exactly once.
	Close() error
}
