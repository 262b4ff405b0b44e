// Package gateway implements the connection gateway (spec §4.5): HTTP
// upgrade path parsing, per-connection token and identity-token
// validation, and dispatch to the CRDT and control room engines. It also
// owns the REST surface (spec §4.6) on the same listener.
package gateway

import (
	"context"
	"log/slog"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/obsliveshare/relay/internal/auth"
	"github.com/obsliveshare/relay/internal/controlroom"
	"github.com/obsliveshare/relay/internal/crdtroom"
	"github.com/obsliveshare/relay/internal/registry"
)

var (
	docPathRe  = regexp.MustCompile(`^/ws/(.+)$`)
	roomPathRe = regexp.MustCompile(`^/control/(.+)$`)
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Gateway wires the room registry and the two room engines to an HTTP
// mux, enforcing token and identity auth on every upgrade.
type Gateway struct {
	reg         *registry.Registry
	crdt        *crdtroom.Engine
	control     *controlroom.Engine
	identity    *auth.IdentityVerifier
	requireAuth bool
	startedAt   time.Time
	log         *slog.Logger

	github      GitHubOAuthConfig
	stateSecret []byte
}

// New returns a gateway. identity may be nil when identity auth is not
// required; requireAuth must not be true when identity is nil.
func New(reg *registry.Registry, crdtEngine *crdtroom.Engine, controlEngine *controlroom.Engine, identity *auth.IdentityVerifier, requireAuth bool, github GitHubOAuthConfig, stateSecret []byte, log *slog.Logger) *Gateway {
	return &Gateway{
		reg:         reg,
		crdt:        crdtEngine,
		control:     controlEngine,
		identity:    identity,
		requireAuth: requireAuth,
		startedAt:   time.Now(),
		github:      github,
		stateSecret: stateSecret,
		log:         log,
	}
}

// ServeWS handles a WebSocket upgrade request for either the CRDT or
// control path, per spec §4.5's path-parsing rules.
func (g *Gateway) ServeWS(w http.ResponseWriter, r *http.Request) {
	if m := docPathRe.FindStringSubmatch(r.URL.Path); m != nil {
		g.serveDoc(w, r, m[1])
		return
	}
	if m := roomPathRe.FindStringSubmatch(r.URL.Path); m != nil {
		g.serveControl(w, r, m[1])
		return
	}
	http.NotFound(w, r)
}

func (g *Gateway) serveDoc(w http.ResponseWriter, r *http.Request, docName string) {
	roomID, _, ok := registry.SplitDocName(docName)
	if !ok {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	if !g.authenticate(w, r, roomID) {
		return
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	go g.crdt.HandleConnect(r.Context(), docName, conn)
}

func (g *Gateway) serveControl(w http.ResponseWriter, r *http.Request, roomID string) {
	if !g.authenticate(w, r, roomID) {
		return
	}
	room, ok := g.reg.Get(roomID)
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	go g.control.HandleConnect(room, conn)
}

// authenticate verifies the room token and, if required, the identity
// token, writing an error response and returning false on failure.
func (g *Gateway) authenticate(w http.ResponseWriter, r *http.Request, roomID string) bool {
	token := r.URL.Query().Get("token")
	if _, err := g.reg.Authenticate(roomID, token); err != nil {
		w.WriteHeader(http.StatusForbidden)
		return false
	}
	if g.requireAuth {
		jwt := r.URL.Query().Get("jwt")
		if jwt == "" {
			w.WriteHeader(http.StatusUnauthorized)
			return false
		}
		if _, err := g.identity.Verify(jwt); err != nil {
			w.WriteHeader(http.StatusUnauthorized)
			return false
		}
	}
	return true
}

// Stats reports process-wide counters for the health probe. connections is
// the number of live CRDT documents plus the number of live control rooms;
// individual sockets are not counted.
func (g *Gateway) Stats() (uptime time.Duration, rooms, connections int) {
	return time.Since(g.startedAt), g.reg.Count(), g.crdt.DocCount() + g.control.RoomCount()
}

// Shutdown tears down both room engines, in the order spec §4.3 and §4.4
// describe for graceful shutdown.
func (g *Gateway) Shutdown(ctx context.Context) {
	g.control.Shutdown()
	g.crdt.Shutdown(ctx)
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if idx := strings.IndexByte(fwd, ','); idx >= 0 {
			return strings.TrimSpace(fwd[:idx])
		}
		return strings.TrimSpace(fwd)
	}
	host := r.RemoteAddr
	if idx := strings.LastIndexByte(host, ':'); idx >= 0 {
		return host[:idx]
	}
	return host
}
