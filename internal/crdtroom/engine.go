// Package crdtroom implements the CRDT room engine (spec §4.3): per-document
// state that applies the binary sync protocol, fans out updates, tracks
// awareness, debounces persistence, and destroys idle documents.
package crdtroom

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/obsliveshare/relay/internal/domain"
	"github.com/obsliveshare/relay/internal/store"
	"github.com/obsliveshare/relay/internal/wire"
)

const (
	writeTimeout  = 10 * time.Second
	highWriteCap  = 8
	lowWriteCap   = 64
	wsReadTimeout = 0 // no per-message read deadline; slow clients backpressure the transport
)

// Engine owns every live document for the process.
type Engine struct {
	mu   sync.RWMutex
	docs map[string]*document

	// creating serializes concurrent first-connects to the same document
	// name: the first arrival installs a channel and builds the document;
	// simultaneous arrivals wait on that channel instead of racing to
	// construct their own replica.
	creating map[string]chan struct{}
	credMu   sync.Mutex

	store           store.Store
	log             *slog.Logger
	idleGrace       time.Duration
	persistDebounce time.Duration
}

// New returns an engine backed by st.
func New(st store.Store, log *slog.Logger, idleGrace, persistDebounce time.Duration) *Engine {
	return &Engine{
		docs:            make(map[string]*document),
		creating:        make(map[string]chan struct{}),
		store:           st,
		log:             log,
		idleGrace:       idleGrace,
		persistDebounce: persistDebounce,
	}
}

// DocCount reports how many documents currently have in-memory state.
func (e *Engine) DocCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.docs)
}

// HandleConnect takes ownership of an upgraded connection scoped to
// docName, running its read loop until the socket closes.
func (e *Engine) HandleConnect(ctx context.Context, docName string, conn *websocket.Conn) {
	doc, err := e.getOrCreateDoc(ctx, docName)
	if err != nil {
		e.log.Error("failed to create document", "doc", docName, "err", err)
		_ = conn.Close()
		return
	}

	conn.SetReadLimit(wire.MaxCRDTFrameSize + 64)
	pump := wire.NewWritePump(conn, writeTimeout, highWriteCap, lowWriteCap)
	s := newSocket(conn, pump)
	doc.addSocket(s)

	sv := doc.stateVector()
	step1 := wire.EncodeFrame(wire.FrameSync, wire.EncodeSync(wire.SyncStep1, sv))
	_ = s.pump.WriteHighPriority(step1)

	if all, err := doc.encodeAwarenessAll(); err == nil && string(all) != "[]" {
		awFrame := wire.EncodeFrame(wire.FrameAwareness, all)
		_ = s.pump.WriteHighPriority(awFrame)
	}

	e.readLoop(ctx, doc, s)
}

func (e *Engine) getOrCreateDoc(ctx context.Context, name string) (*document, error) {
	e.mu.RLock()
	doc, ok := e.docs[name]
	e.mu.RUnlock()
	if ok {
		return doc, nil
	}

	e.credMu.Lock()
	if doc, ok := e.docs[name]; ok {
		e.credMu.Unlock()
		return doc, nil
	}
	if wait, inFlight := e.creating[name]; inFlight {
		e.credMu.Unlock()
		<-wait
		e.mu.RLock()
		doc, ok := e.docs[name]
		e.mu.RUnlock()
		if !ok {
			return nil, errors.New("document creation failed on another connection")
		}
		return doc, nil
	}
	done := make(chan struct{})
	e.creating[name] = done
	e.credMu.Unlock()

	defer func() {
		e.credMu.Lock()
		delete(e.creating, name)
		e.credMu.Unlock()
		close(done)
	}()

	snapshot, _, err := e.store.LoadDoc(ctx, name)
	if err != nil {
		return nil, &domain.DocError{DocName: name, Op: "load", Err: err}
	}
	newDoc, err := newDocument(name, e, snapshot)
	if err != nil {
		return nil, &domain.DocError{DocName: name, Op: "create", Err: err}
	}

	e.mu.Lock()
	e.docs[name] = newDoc
	e.mu.Unlock()
	return newDoc, nil
}

func (e *Engine) readLoop(ctx context.Context, doc *document, s *socket) {
	defer e.onDisconnect(doc, s)

	for {
		msgType, data, err := s.conn.ReadMessage()
		if err != nil {
			return
		}
		if msgType != websocket.BinaryMessage {
			continue
		}
		e.dispatch(ctx, doc, s, data)
	}
}

func (e *Engine) dispatch(ctx context.Context, doc *document, s *socket, data []byte) {
	frameType, body, _, err := wire.DecodeFrame(data)
	if err != nil {
		return
	}
	switch frameType {
	case wire.FrameSync:
		e.handleSync(ctx, doc, s, body)
	case wire.FrameAwareness:
		e.handleAwareness(doc, s, body)
	case wire.FrameFileOp:
		e.handleFileOp(doc, s, body)
	default:
		// Unknown types are silently dropped.
	}
}

func (e *Engine) handleSync(ctx context.Context, doc *document, origin *socket, body []byte) {
	sync, err := wire.DecodeSync(body)
	if err != nil {
		return
	}
	switch sync.Step {
	case wire.SyncStep1:
		reply, err := doc.step2Reply(sync.Payload)
		if err != nil {
			e.log.Error("sync step-2 encode failed", "doc", doc.name, "err", err)
			return
		}
		frame := wire.EncodeFrame(wire.FrameSync, wire.EncodeSync(wire.SyncStep2, reply))
		_ = origin.pump.WriteHighPriority(frame)
	case wire.SyncStep2, wire.SyncUpdate:
		peers, err := doc.applySync(origin, sync.Payload)
		if err != nil {
			e.log.Error("sync update apply failed", "doc", doc.name, "err", err)
			return
		}
		if len(sync.Payload) == 0 {
			return
		}
		frame := wire.EncodeFrame(wire.FrameSync, wire.EncodeSync(wire.SyncUpdate, sync.Payload))
		broadcast(peers, frame, false)
		doc.schedulePersist()
	}
}

func (e *Engine) handleAwareness(doc *document, origin *socket, body []byte) {
	changed, all, err := doc.applyAwareness(origin, body)
	if err != nil || len(changed) == 0 {
		return
	}
	diff, err := doc.encodeAwarenessDiff(changed)
	if err != nil {
		return
	}
	frame := wire.EncodeFrame(wire.FrameAwareness, diff)
	broadcast(all, frame, true)
}

func (e *Engine) handleFileOp(doc *document, origin *socket, body []byte) {
	doc.mu.Lock()
	peers := doc.snapshotSocketsLocked()
	doc.mu.Unlock()
	frame := wire.EncodeFrame(wire.FrameFileOp, body)
	for _, s := range peers {
		if s == origin {
			continue
		}
		_ = s.pump.WriteBulk(frame)
	}
}

func (e *Engine) onDisconnect(doc *document, s *socket) {
	s.pump.Close()
	withdrawn, peers := doc.removeSocket(s)
	if len(withdrawn) > 0 {
		diff, err := doc.encodeAwarenessDiff(withdrawn)
		if err == nil {
			frame := wire.EncodeFrame(wire.FrameAwareness, diff)
			broadcast(peers, frame, true)
		}
	}
}

// expireIfIdle is the idle-destroy timer's callback: if the document is
// still empty, persist once more, tear down its state, and drop it from
// the engine.
func (e *Engine) expireIfIdle(doc *document) {
	if doc.socketCount() > 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := doc.persistSnapshot(ctx); err != nil {
		docErr := &domain.DocError{DocName: doc.name, Op: "idle-destroy persist", Err: err}
		e.log.Error("final persist before idle destroy failed", "err", docErr)
	}
	doc.destroy()
	e.mu.Lock()
	delete(e.docs, doc.name)
	e.mu.Unlock()
}

// persistNow is the persist-debounce timer's callback.
func (e *Engine) persistNow(doc *document) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := doc.persistSnapshot(ctx); err != nil {
		docErr := &domain.DocError{DocName: doc.name, Op: "debounced persist", Err: err}
		e.log.Error("debounced persist failed", "err", docErr)
	}
}

// Shutdown persists and closes every live document, in preparation for
// process exit. It does not close the store; the caller does that once
// every engine has been shut down.
func (e *Engine) Shutdown(ctx context.Context) {
	e.mu.Lock()
	docs := make([]*document, 0, len(e.docs))
	for _, d := range e.docs {
		docs = append(docs, d)
	}
	e.docs = make(map[string]*document)
	e.mu.Unlock()

	for _, doc := range docs {
		if err := doc.persistSnapshot(ctx); err != nil {
			docErr := &domain.DocError{DocName: doc.name, Op: "shutdown persist", Err: err}
			e.log.Error("shutdown persist failed", "err", docErr)
		}
		doc.mu.Lock()
		peers := doc.snapshotSocketsLocked()
		doc.mu.Unlock()
		for _, s := range peers {
			_ = s.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, "server shutting down"),
				time.Now().Add(time.Second))
			_ = s.conn.Close()
		}
		doc.destroy()
	}
}
