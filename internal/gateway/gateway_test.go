package gateway

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/obsliveshare/relay/internal/controlroom"
	"github.com/obsliveshare/relay/internal/crdtroom"
	"github.com/obsliveshare/relay/internal/registry"
	"github.com/obsliveshare/relay/internal/store/memstore"
)

func newTestGateway(t *testing.T) (*Gateway, *registry.RateLimiter) {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	st := memstore.New()
	reg := registry.New(st, log)
	crdtEngine := crdtroom.New(st, log, 0, 0)
	controlEngine := controlroom.New(log)
	gw := New(reg, crdtEngine, controlEngine, nil, false, GitHubOAuthConfig{}, []byte("state-secret"), log)
	return gw, registry.NewRateLimiter()
}

func TestCreateRoomAndGetRoom(t *testing.T) {
	gw, rl := newTestGateway(t)
	srv := httptest.NewServer(gw.Router(rl, ""))
	defer srv.Close()

	body, _ := json.Marshal(map[string]string{"name": "My Room"})
	resp, err := http.Post(srv.URL+"/rooms", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d, want 201", resp.StatusCode)
	}
	var created map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		t.Fatal(err)
	}
	if created["id"] == "" || created["token"] == "" {
		t.Fatalf("created = %+v, want id and token", created)
	}

	getResp, err := http.Get(srv.URL + "/rooms/" + created["id"])
	if err != nil {
		t.Fatal(err)
	}
	defer getResp.Body.Close()
	if getResp.StatusCode != http.StatusOK {
		t.Fatalf("GET status = %d, want 200", getResp.StatusCode)
	}
}

func TestGetUnknownRoomReturns404(t *testing.T) {
	gw, rl := newTestGateway(t)
	srv := httptest.NewServer(gw.Router(rl, ""))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/rooms/does-not-exist")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
}

func TestJoinRoomWrongTokenForbidden(t *testing.T) {
	gw, rl := newTestGateway(t)
	srv := httptest.NewServer(gw.Router(rl, ""))
	defer srv.Close()

	body, _ := json.Marshal(map[string]string{"name": "Room"})
	createResp, err := http.Post(srv.URL+"/rooms", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	var created map[string]string
	json.NewDecoder(createResp.Body).Decode(&created)
	createResp.Body.Close()

	joinBody, _ := json.Marshal(map[string]string{"token": "wrong"})
	joinResp, err := http.Post(srv.URL+"/rooms/"+created["id"]+"/join", "application/json", bytes.NewReader(joinBody))
	if err != nil {
		t.Fatal(err)
	}
	defer joinResp.Body.Close()
	if joinResp.StatusCode != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", joinResp.StatusCode)
	}
}

func TestDeleteRoomRequiresBearerToken(t *testing.T) {
	gw, rl := newTestGateway(t)
	srv := httptest.NewServer(gw.Router(rl, ""))
	defer srv.Close()

	body, _ := json.Marshal(map[string]string{"name": "Room"})
	createResp, err := http.Post(srv.URL+"/rooms", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	var created map[string]string
	json.NewDecoder(createResp.Body).Decode(&created)
	createResp.Body.Close()

	req, _ := http.NewRequest(http.MethodDelete, srv.URL+"/rooms/"+created["id"], nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status without bearer = %d, want 401", resp.StatusCode)
	}

	req2, _ := http.NewRequest(http.MethodDelete, srv.URL+"/rooms/"+created["id"], nil)
	req2.Header.Set("Authorization", "Bearer "+created["token"])
	resp2, err := http.DefaultClient.Do(req2)
	if err != nil {
		t.Fatal(err)
	}
	defer resp2.Body.Close()
	if resp2.StatusCode != http.StatusOK {
		t.Fatalf("status with bearer = %d, want 200", resp2.StatusCode)
	}
}

func TestHealthzReportsOK(t *testing.T) {
	gw, rl := newTestGateway(t)
	srv := httptest.NewServer(gw.Router(rl, ""))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var body map[string]any
	json.NewDecoder(resp.Body).Decode(&body)
	if body["ok"] != true {
		t.Fatalf("body = %+v, want ok = true", body)
	}
}

func TestWSUpgradeWithoutTokenIsForbidden(t *testing.T) {
	gw, rl := newTestGateway(t)
	srv := httptest.NewServer(gw.Router(rl, ""))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/ws/room1:doc1")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", resp.StatusCode)
	}
}

func TestRateLimitMiddlewareExhaustsBucket(t *testing.T) {
	gw, rl := newTestGateway(t)
	srv := httptest.NewServer(gw.Router(rl, ""))
	defer srv.Close()

	var lastStatus int
	for i := 0; i < 11; i++ {
		body, _ := json.Marshal(map[string]string{"name": "Room"})
		resp, err := http.Post(srv.URL+"/rooms", "application/json", bytes.NewReader(body))
		if err != nil {
			t.Fatal(err)
		}
		lastStatus = resp.StatusCode
		resp.Body.Close()
	}
	if lastStatus != http.StatusTooManyRequests {
		t.Fatalf("final status = %d, want 429 after exhausting burst", lastStatus)
	}
}
