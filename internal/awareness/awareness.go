// Package awareness tracks ephemeral per-client presence state distributed
// alongside a document's CRDT replica but never persisted with it.
package awareness

import (
	"encoding/json"
	"sync"
)

// Entry is one awareness-client-id's state as carried on the wire. A nil
// State marks the id as withdrawn.
type Entry struct {
	ClientID uint32          `json:"clientID"`
	Clock    int             `json:"clock"`
	State    json.RawMessage `json:"state,omitempty"`
}

type record struct {
	clock int
	state json.RawMessage
}

// State is the awareness map for one document: awareness-client-id to
// opaque state blob, with a per-entry logical clock so stale updates (an
// update bearing a clock no higher than the one already recorded) are
// dropped.
type State struct {
	mu      sync.Mutex
	entries map[uint32]record
}

// NewState returns an empty awareness state.
func NewState() *State {
	return &State{entries: make(map[uint32]record)}
}

// ApplyUpdate decodes a JSON-encoded batch of entries and applies each
// whose clock is newer than what is already recorded. It returns the ids
// added, updated, and removed (state == null) by this call, for the
// caller to fold into an outbound diff and into the originating socket's
// awareness-id set.
func (s *State) ApplyUpdate(update []byte) (added, updated, removed []uint32, err error) {
	var entries []Entry
	if len(update) > 0 {
		if err := json.Unmarshal(update, &entries); err != nil {
			return nil, nil, nil, err
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range entries {
		existing, had := s.entries[e.ClientID]
		if had && e.Clock <= existing.clock {
			continue
		}
		if e.State == nil {
			delete(s.entries, e.ClientID)
			removed = append(removed, e.ClientID)
			continue
		}
		s.entries[e.ClientID] = record{clock: e.Clock, state: e.State}
		if had {
			updated = append(updated, e.ClientID)
		} else {
			added = append(added, e.ClientID)
		}
	}
	return added, updated, removed, nil
}

// Remove withdraws the given ids unconditionally (used on socket
// disconnect and document destruction) and returns the ones that were
// actually present.
func (s *State) Remove(ids []uint32) []uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := make([]uint32, 0, len(ids))
	for _, id := range ids {
		if _, ok := s.entries[id]; ok {
			delete(s.entries, id)
			removed = append(removed, id)
		}
	}
	return removed
}

// EncodeDiff returns a wire update carrying the current state of exactly
// the given ids (omitting any no longer present).
func (s *State) EncodeDiff(ids []uint32) ([]byte, error) {
	s.mu.Lock()
	entries := make([]Entry, 0, len(ids))
	for _, id := range ids {
		if rec, ok := s.entries[id]; ok {
			entries = append(entries, Entry{ClientID: id, Clock: rec.clock, State: rec.state})
		}
	}
	s.mu.Unlock()
	return json.Marshal(entries)
}

// EncodeAll returns a wire update carrying every known id's current state,
// for a newly connected socket.
func (s *State) EncodeAll() ([]byte, error) {
	s.mu.Lock()
	entries := make([]Entry, 0, len(s.entries))
	for id, rec := range s.entries {
		entries = append(entries, Entry{ClientID: id, Clock: rec.clock, State: rec.state})
	}
	s.mu.Unlock()
	return json.Marshal(entries)
}

// Len reports the number of known awareness-client-ids.
func (s *State) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}
