package controlroom

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/obsliveshare/relay/internal/domain"
)

func newTestRoom(requireApproval bool, hostUserID string) domain.Room {
	return domain.Room{
		ID:              "room1",
		Token:           "tok",
		Name:            "Room",
		RequireApproval: requireApproval,
		HostUserID:      hostUserID,
	}
}

func newControlServer(t *testing.T, e *Engine, rm domain.Room) string {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		e.HandleConnect(rm, conn)
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func controlDial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readJSON(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatal(err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatal(err)
	}
	return m
}

func sendJSON(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatal(err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
		t.Fatal(err)
	}
}

func TestJoinRequestAutoApprovedWithoutApproval(t *testing.T) {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	e := New(log)
	url := newControlServer(t, e, newTestRoom(false, ""))
	conn := controlDial(t, url)

	sendJSON(t, conn, map[string]any{"type": "join-request", "userId": "u1", "displayName": "Alice"})

	msg := readJSON(t, conn)
	if msg["type"] != "join-response" {
		t.Fatalf("type = %v, want join-response", msg["type"])
	}
	if msg["approved"] != true {
		t.Fatalf("approved = %v, want true", msg["approved"])
	}
}

func TestJoinRequestQueuedForHostWhenApprovalRequired(t *testing.T) {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	e := New(log)
	url := newControlServer(t, e, newTestRoom(true, "host1"))

	host := controlDial(t, url)
	sendJSON(t, host, map[string]any{"type": "presence-update", "userId": "host1", "displayName": "Host"})
	time.Sleep(20 * time.Millisecond) // let the host's presence-update register before the guest joins

	guest := controlDial(t, url)
	sendJSON(t, guest, map[string]any{"type": "join-request", "userId": "u2", "displayName": "Guest"})

	msg := readJSON(t, host)
	if msg["type"] != "join-request" || msg["userId"] != "u2" {
		t.Fatalf("host did not receive join-request: %+v", msg)
	}

	sendJSON(t, host, map[string]any{"type": "join-response", "targetUserId": "u2", "approved": true, "permission": "read-write"})
	msg = readJSON(t, guest)
	if msg["type"] != "join-response" || msg["approved"] != true {
		t.Fatalf("guest did not receive approval: %+v", msg)
	}
}

func TestFileOpRejectedUntilApproved(t *testing.T) {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	e := New(log)
	url := newControlServer(t, e, newTestRoom(true, ""))

	guest := controlDial(t, url)
	peer := controlDial(t, url)

	sendJSON(t, guest, map[string]any{"type": "join-request", "userId": "u1"})
	sendJSON(t, guest, map[string]any{"type": "file-op", "path": "a.txt"})

	peer.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
	if _, _, err := peer.ReadMessage(); err == nil {
		t.Fatal("unapproved sender's file-op should not be relayed")
	}
}

func TestKickClosesTargetSocket(t *testing.T) {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	e := New(log)
	url := newControlServer(t, e, newTestRoom(false, "host1"))

	host := controlDial(t, url)
	sendJSON(t, host, map[string]any{"type": "presence-update", "userId": "host1"})

	guest := controlDial(t, url)
	sendJSON(t, guest, map[string]any{"type": "presence-update", "userId": "u2"})

	sendJSON(t, host, map[string]any{"type": "kick", "targetUserId": "u2"})

	msg := readJSON(t, guest)
	if msg["type"] != "kicked" {
		t.Fatalf("type = %v, want kicked", msg["type"])
	}
	guest.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	if _, _, err := guest.ReadMessage(); err == nil {
		t.Fatal("expected close after kick")
	}
}

func TestNonHostCannotKick(t *testing.T) {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	e := New(log)
	url := newControlServer(t, e, newTestRoom(false, "host1"))

	host := controlDial(t, url)
	sendJSON(t, host, map[string]any{"type": "presence-update", "userId": "host1"})

	guestA := controlDial(t, url)
	sendJSON(t, guestA, map[string]any{"type": "presence-update", "userId": "u2"})
	guestB := controlDial(t, url)
	sendJSON(t, guestB, map[string]any{"type": "presence-update", "userId": "u3"})

	sendJSON(t, guestA, map[string]any{"type": "kick", "targetUserId": "u3"})

	guestB.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
	if _, _, err := guestB.ReadMessage(); err == nil {
		t.Fatal("non-host kick should have no effect")
	}
}

func TestPresenceLeaveBroadcastOnDisconnect(t *testing.T) {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	e := New(log)
	url := newControlServer(t, e, newTestRoom(false, ""))

	connA := controlDial(t, url)
	sendJSON(t, connA, map[string]any{"type": "presence-update", "userId": "u1"})

	connB := controlDial(t, url)
	sendJSON(t, connB, map[string]any{"type": "presence-update", "userId": "u2"})

	_ = readJSON(t, connA) // connB's own presence-update, broadcast to connA

	connB.Close()

	msg := readJSON(t, connA)
	if msg["type"] != "presence-leave" || msg["userId"] != "u2" {
		t.Fatalf("expected presence-leave for u2, got %+v", msg)
	}
}

func TestRoomDroppedWhenEmpty(t *testing.T) {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	e := New(log)
	url := newControlServer(t, e, newTestRoom(false, ""))

	conn := controlDial(t, url)
	sendJSON(t, conn, map[string]any{"type": "presence-update", "userId": "u1"})
	time.Sleep(20 * time.Millisecond)
	if e.RoomCount() != 1 {
		t.Fatalf("RoomCount() = %d, want 1", e.RoomCount())
	}

	conn.Close()

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if e.RoomCount() == 0 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("room should have been dropped once empty")
}
