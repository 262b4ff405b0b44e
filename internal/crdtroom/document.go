package crdtroom

import (
	"context"
	"sync"
	"time"

	"github.com/obsliveshare/relay/internal/awareness"
	"github.com/obsliveshare/relay/internal/crdt"
)

// document owns one CRDT document's authoritative state: the replica, its
// awareness map, the connected socket set, and the idle/persist timers.
// Every mutation of these five things happens under mu, held across
// "apply update -> capture emitted events" so at most one update is
// mid-flight per document.
type document struct {
	name    string
	engine  *Engine
	mu      sync.Mutex
	replica *crdt.Replica
	aware   *awareness.State
	sockets map[*socket]struct{}

	idleTimer    *time.Timer
	persistTimer *time.Timer
	destroyed    bool
}

func newDocument(name string, engine *Engine, snapshot []byte) (*document, error) {
	replica := crdt.NewReplica()
	if err := replica.LoadSnapshot(snapshot); err != nil {
		return nil, err
	}
	return &document{
		name:    name,
		engine:  engine,
		replica: replica,
		aware:   awareness.NewState(),
		sockets: make(map[*socket]struct{}),
	}, nil
}

// addSocket registers s and cancels any pending idle-destroy timer.
func (d *document) addSocket(s *socket) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sockets[s] = struct{}{}
	d.cancelIdleTimerLocked()
}

// removeSocket unregisters s, withdraws its awareness ids, and — if the
// document is now empty — starts the idle-destroy timer. It returns the
// withdrawn ids and the sockets to notify of their removal (a snapshot
// taken under lock, per the "snapshot then release" broadcast discipline).
func (d *document) removeSocket(s *socket) (withdrawn []uint32, peers []*socket) {
	d.mu.Lock()
	delete(d.sockets, s)
	withdrawn = d.aware.Remove(s.allAwarenessIDs())
	peers = d.snapshotSocketsLocked()
	if len(d.sockets) == 0 && !d.destroyed {
		d.startIdleTimerLocked()
	}
	d.mu.Unlock()
	return withdrawn, peers
}

func (d *document) snapshotSocketsLocked() []*socket {
	out := make([]*socket, 0, len(d.sockets))
	for s := range d.sockets {
		out = append(out, s)
	}
	return out
}

func (d *document) socketCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.sockets)
}

func (d *document) cancelIdleTimerLocked() {
	if d.idleTimer != nil {
		d.idleTimer.Stop()
		d.idleTimer = nil
	}
}

func (d *document) startIdleTimerLocked() {
	d.cancelIdleTimerLocked()
	d.idleTimer = time.AfterFunc(d.engine.idleGrace, func() {
		d.engine.expireIfIdle(d)
	})
}

// schedulePersist (re)starts the single-shot persist-debounce timer.
func (d *document) schedulePersist() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.destroyed {
		return
	}
	if d.persistTimer != nil {
		d.persistTimer.Stop()
	}
	d.persistTimer = time.AfterFunc(d.engine.persistDebounce, func() {
		d.engine.persistNow(d)
	})
}

func (d *document) cancelPersistTimerLocked() {
	if d.persistTimer != nil {
		d.persistTimer.Stop()
		d.persistTimer = nil
	}
}

// persistSnapshot serializes the current replica state and writes it to
// the store. Errors are logged by the caller; they never affect in-memory
// state.
func (d *document) persistSnapshot(ctx context.Context) error {
	snap, err := d.replica.Snapshot()
	if err != nil {
		return err
	}
	return d.engine.store.PersistDoc(ctx, d.name, snap)
}

// applySync applies an update to the replica under the document lock and
// returns the connected sockets other than origin, for the caller to fan
// the update out to (with the lock released).
func (d *document) applySync(origin *socket, update []byte) (peers []*socket, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.replica.ApplyUpdate(update); err != nil {
		return nil, err
	}
	for s := range d.sockets {
		if s != origin {
			peers = append(peers, s)
		}
	}
	return peers, nil
}

// step2Reply computes the update the caller is missing given its state
// vector.
func (d *document) step2Reply(stateVector []byte) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.replica.EncodeStateAsUpdate(stateVector)
}

func (d *document) stateVector() []byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.replica.StateVector()
}

// applyAwareness applies an awareness update under the document lock and
// returns the ids that changed and every currently connected socket, for
// the caller to broadcast the diff to (awareness is sent to all sockets,
// including the origin).
func (d *document) applyAwareness(origin *socket, update []byte) (changed []uint32, all []*socket, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	added, updated, removed, err := d.aware.ApplyUpdate(update)
	if err != nil {
		return nil, nil, err
	}
	origin.recordAwarenessIDs(append(append([]uint32{}, added...), updated...))
	changed = append(append(added, updated...), removed...)
	all = d.snapshotSocketsLocked()
	return changed, all, nil
}

func (d *document) encodeAwarenessAll() ([]byte, error) {
	return d.aware.EncodeAll()
}

func (d *document) encodeAwarenessDiff(ids []uint32) ([]byte, error) {
	return d.aware.EncodeDiff(ids)
}

// destroy tears down the document's in-memory state. Callers must have
// already removed it from the engine's document map.
func (d *document) destroy() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cancelIdleTimerLocked()
	d.cancelPersistTimerLocked()
	d.replica.Destroy()
	d.destroyed = true
}

func broadcast(peers []*socket, frame []byte, highPriority bool) {
	for _, s := range peers {
		if highPriority {
			_ = s.pump.WriteHighPriority(frame)
		} else {
			_ = s.pump.WriteBulk(frame)
		}
	}
}
