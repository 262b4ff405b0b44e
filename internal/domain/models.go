// Package domain defines the core data types shared across the relay's
// engines, store, and wire protocol layers.
package domain

import "time"

// Permission values for a room's default or per-participant effective
// permission.
const (
	PermissionReadWrite = "read-write"
	PermissionReadOnly  = "read-only"
)

// Room is the unit of authentication: the same token authorizes both the
// CRDT documents scoped under it and its control channel.
type Room struct {
	ID                string
	Token             string
	Name              string
	HostUserID        string
	RequireApproval   bool
	DefaultPermission string
	CreatedAt         time.Time

	// Participants is the room's currently connected control-channel user
	// ids. It is derived from the control room engine's live socket set,
	// never persisted, and empty on a Room loaded straight from the store.
	Participants []string
}

// EffectivePermission returns the room's default permission, falling back
// to read-write when unset.
func (r Room) EffectivePermission() string {
	if r.DefaultPermission == PermissionReadOnly {
		return PermissionReadOnly
	}
	return PermissionReadWrite
}

// DocName joins a room id and a doc key into the composite document name
// "<roomId>:<docKey>". The doc key may itself contain colons; only the
// first separator is significant when the name is split again.
func DocName(roomID, docKey string) string {
	return roomID + ":" + docKey
}
