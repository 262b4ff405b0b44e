// Package crdt implements a small conflict-free replicated text sequence.
// The relay treats update bytes as opaque wire payloads (per the sync
// protocol in package wire); this package exists so the server's test
// suite can construct a real, convergent replica instead of asserting on
// meaningless bytes.
//
// Characters are ordered by a fractional position path (an LSEQ-style
// sequence of uint32 digits) so concurrent inserts at the same location
// resolve deterministically without coordination, and identified by
// (peerID, clock) so concurrent operations commute.
package crdt

import (
	"bytes"
	"crypto/rand"
	"encoding/binary"
	"encoding/json"
	"math"
	"sort"
	"sync"
)

// CharID uniquely identifies a character insertion across all replicas.
type CharID struct {
	Clock  int    `json:"clock"`
	PeerID string `json:"peerID"`
}

// Position is a fractional index path used to order characters between
// their neighbors without renumbering existing characters.
type Position []uint32

// Compare returns -1, 0, or 1 as p sorts before, equal to, or after o.
func (p Position) Compare(o Position) int {
	for i := 0; i < len(p) && i < len(o); i++ {
		if p[i] < o[i] {
			return -1
		}
		if p[i] > o[i] {
			return 1
		}
	}
	switch {
	case len(p) < len(o):
		return -1
	case len(p) > len(o):
		return 1
	default:
		return 0
	}
}

// Char is a single character insertion, alive unless Deleted.
type Char struct {
	ID       CharID   `json:"id"`
	Value    string   `json:"value"`
	Position Position `json:"position"`
	Deleted  bool     `json:"deleted,omitempty"`
}

// Op is a single CRDT operation as carried on the wire: an insertion of a
// new character, or a tombstoning of one already known.
type Op struct {
	Action string `json:"action"` // "insert" or "delete"
	Char   Char   `json:"char"`
}

// Replica holds one document's converged character sequence.
type Replica struct {
	mu       sync.Mutex
	chars    []Char // kept sorted by Position
	byID     map[CharID]int
	maxClock map[string]int // highest clock seen per peer
}

// NewReplica returns an empty replica.
func NewReplica() *Replica {
	return &Replica{
		byID:     make(map[CharID]int),
		maxClock: make(map[string]int),
	}
}

// ApplyUpdate decodes a JSON-encoded batch of Ops and applies each
// idempotently: a duplicate insert or delete is a no-op.
func (r *Replica) ApplyUpdate(update []byte) error {
	if len(update) == 0 {
		return nil
	}
	var ops []Op
	if err := json.Unmarshal(update, &ops); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, op := range ops {
		r.applyLocked(op)
	}
	return nil
}

func (r *Replica) applyLocked(op Op) {
	switch op.Action {
	case "insert":
		if _, exists := r.byID[op.Char.ID]; exists {
			return
		}
		idx := sort.Search(len(r.chars), func(i int) bool {
			return r.chars[i].Position.Compare(op.Char.Position) >= 0
		})
		r.chars = append(r.chars, Char{})
		copy(r.chars[idx+1:], r.chars[idx:])
		r.chars[idx] = op.Char
		r.reindexFrom(idx)
		if op.Char.ID.Clock > r.maxClock[op.Char.ID.PeerID] {
			r.maxClock[op.Char.ID.PeerID] = op.Char.ID.Clock
		}
	case "delete":
		if idx, ok := r.byID[op.Char.ID]; ok {
			r.chars[idx].Deleted = true
		}
	}
}

func (r *Replica) reindexFrom(start int) {
	for i := start; i < len(r.chars); i++ {
		r.byID[r.chars[i].ID] = i
	}
}

// InsertText applies a local insertion of text at rune index and returns
// the wire update encoding the resulting ops, for use by callers acting as
// a CRDT client (tests, or a same-process editor stub).
func (r *Replica) InsertText(peerID string, index int, text string) ([]byte, error) {
	r.mu.Lock()
	before, after := r.neighborsLocked(index)
	clock := r.maxClock[peerID]
	ops := make([]Op, 0, len(text))
	for _, ch := range text {
		clock++
		pos, err := between(before, after)
		if err != nil {
			r.mu.Unlock()
			return nil, err
		}
		c := Char{ID: CharID{Clock: clock, PeerID: peerID}, Value: string(ch), Position: pos}
		ops = append(ops, Op{Action: "insert", Char: c})
		before = pos
	}
	r.maxClock[peerID] = clock
	for _, op := range ops {
		r.applyLocked(op)
	}
	r.mu.Unlock()
	return json.Marshal(ops)
}

// DeleteRange applies a local deletion of length runes starting at rune
// index and returns the wire update encoding the resulting tombstone ops.
func (r *Replica) DeleteRange(index, length int) ([]byte, error) {
	r.mu.Lock()
	live := r.liveIndexLocked()
	if index < 0 || index+length > len(live) {
		r.mu.Unlock()
		return json.Marshal([]Op{})
	}
	ops := make([]Op, 0, length)
	for i := index; i < index+length; i++ {
		c := r.chars[live[i]]
		ops = append(ops, Op{Action: "delete", Char: c})
	}
	for _, op := range ops {
		r.applyLocked(op)
	}
	r.mu.Unlock()
	return json.Marshal(ops)
}

// neighborsLocked returns the positions immediately before and after the
// given live-text rune index. Callers must hold r.mu.
func (r *Replica) neighborsLocked(index int) (Position, Position) {
	live := r.liveIndexLocked()
	var before, after Position
	if index > 0 && index-1 < len(live) {
		before = r.chars[live[index-1]].Position
	}
	if index < len(live) {
		after = r.chars[live[index]].Position
	}
	return before, after
}

func (r *Replica) liveIndexLocked() []int {
	live := make([]int, 0, len(r.chars))
	for i, c := range r.chars {
		if !c.Deleted {
			live = append(live, i)
		}
	}
	return live
}

// Text returns the current live text, in position order.
func (r *Replica) Text() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var buf bytes.Buffer
	for _, c := range r.chars {
		if !c.Deleted {
			buf.WriteString(c.Value)
		}
	}
	return buf.String()
}

// StateVector encodes the highest clock seen per peer, for the sync
// protocol's step-1 query.
func (r *Replica) StateVector() []byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, _ := json.Marshal(r.maxClock)
	return b
}

// EncodeStateAsUpdate returns every op the caller is missing given its
// state vector, for the sync protocol's step-2 reply. A state vector does
// not record deletions, so every tombstone is included.
func (r *Replica) EncodeStateAsUpdate(stateVector []byte) ([]byte, error) {
	remote := map[string]int{}
	if len(stateVector) > 0 {
		if err := json.Unmarshal(stateVector, &remote); err != nil {
			return nil, err
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	ops := make([]Op, 0)
	for _, c := range r.chars {
		if c.ID.Clock > remote[c.ID.PeerID] {
			action := "insert"
			cc := c
			cc.Deleted = false
			ops = append(ops, Op{Action: action, Char: cc})
			if c.Deleted {
				ops = append(ops, Op{Action: "delete", Char: c})
			}
		} else if c.Deleted {
			ops = append(ops, Op{Action: "delete", Char: c})
		}
	}
	return json.Marshal(ops)
}

// Snapshot serializes the full replica state for persistence, independent
// of any peer's state vector.
func (r *Replica) Snapshot() ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ops := make([]Op, 0, len(r.chars))
	for _, c := range r.chars {
		ops = append(ops, Op{Action: "insert", Char: c})
	}
	return json.Marshal(ops)
}

// LoadSnapshot restores a replica from bytes previously produced by
// Snapshot, or from an empty/nil snapshot for a fresh document.
func (r *Replica) LoadSnapshot(data []byte) error {
	if len(data) == 0 {
		return nil
	}
	return r.ApplyUpdate(data)
}

// Destroy releases the replica's in-memory state.
func (r *Replica) Destroy() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.chars = nil
	r.byID = make(map[CharID]int)
	r.maxClock = make(map[string]int)
}

// between returns a Position strictly ordered after lo and before hi. A nil
// lo is treated as negative infinity, a nil hi as positive infinity.
func between(lo, hi Position) (Position, error) {
	var out Position
	i := 0
	for {
		var lv uint32
		if i < len(lo) {
			lv = lo[i]
		}
		hv := uint32(math.MaxUint32)
		if i < len(hi) {
			hv = hi[i]
		}
		if hv-lv > 1 {
			mid, err := randomUint32Between(lv+1, hv)
			if err != nil {
				return nil, err
			}
			out = append(out, mid)
			return out, nil
		}
		out = append(out, lv)
		i++
	}
}

func randomUint32Between(lo, hi uint32) (uint32, error) {
	if hi <= lo {
		return lo, nil
	}
	span := hi - lo
	var b [4]byte
	if _, err := rand.Read(b[:]); err != nil {
		return 0, err
	}
	return lo + binary.BigEndian.Uint32(b[:])%span, nil
}
