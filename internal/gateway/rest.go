package gateway

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/obsliveshare/relay/internal/domain"
	"github.com/obsliveshare/relay/internal/registry"
)

// Router builds the gorilla/mux router serving both REST and WebSocket
// traffic on one listener, per spec §4.6.
func (g *Gateway) Router(rateLimiter *registry.RateLimiter, corsOrigin string) *mux.Router {
	r := mux.NewRouter()
	r.Use(corsMiddleware(corsOrigin))

	rooms := r.PathPrefix("/rooms").Subrouter()
	rooms.Use(rateLimitMiddleware(rateLimiter))
	rooms.HandleFunc("", g.handleCreateRoom).Methods(http.MethodPost)
	rooms.HandleFunc("/{id}/join", g.handleJoinRoom).Methods(http.MethodPost)
	rooms.HandleFunc("/{id}", g.handleGetRoom).Methods(http.MethodGet)
	rooms.HandleFunc("/{id}", g.handleDeleteRoom).Methods(http.MethodDelete)

	r.HandleFunc("/healthz", g.handleHealthz).Methods(http.MethodGet)
	r.HandleFunc("/auth/github", g.handleGitHubAuth).Methods(http.MethodGet)
	r.HandleFunc("/auth/github/callback", g.handleGitHubCallback).Methods(http.MethodGet)

	r.PathPrefix("/ws/").HandlerFunc(g.ServeWS)
	r.PathPrefix("/control/").HandlerFunc(g.ServeWS)

	return r
}

func corsMiddleware(origin string) mux.MiddlewareFunc {
	if origin == "" {
		origin = "*"
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func rateLimitMiddleware(rl *registry.RateLimiter) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := clientIP(r)
			allowed, remaining := rl.Allow(ip)
			w.Header().Set("X-RateLimit-Limit", "30")
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
			if !allowed {
				w.WriteHeader(http.StatusTooManyRequests)
				_ = json.NewEncoder(w).Encode(map[string]string{"error": "rate limit exceeded"})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

type createRoomRequest struct {
	Name       string `json:"name"`
	HostUserID string `json:"hostUserId"`
}

func (g *Gateway) handleCreateRoom(w http.ResponseWriter, r *http.Request) {
	var req createRoomRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	room, err := g.reg.Create(r.Context(), req.Name, req.HostUserID, "")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{
		"id":    room.ID,
		"token": room.Token,
		"name":  room.Name,
	})
}

func (g *Gateway) handleJoinRoom(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var req struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	room, err := g.reg.Authenticate(id, req.Token)
	if err != nil {
		if errors.Is(err, domain.ErrRoomNotFound) {
			writeError(w, http.StatusNotFound, "room not found")
		} else {
			writeError(w, http.StatusForbidden, "token mismatch")
		}
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"id":    room.ID,
		"name":  room.Name,
		"wsUrl": "/ws/" + room.ID,
	})
}

func (g *Gateway) handleGetRoom(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	room, ok := g.reg.Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, "room not found")
		return
	}
	participants := g.control.Participants(id)
	writeJSON(w, http.StatusOK, map[string]any{
		"name":         room.Name,
		"createdAt":    room.CreatedAt.Format(time.RFC3339),
		"participants": participants,
	})
}

func (g *Gateway) handleDeleteRoom(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	token, ok := bearerToken(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing bearer token")
		return
	}
	if err := g.reg.Delete(r.Context(), id, token); err != nil {
		switch {
		case errors.Is(err, domain.ErrRoomNotFound):
			writeError(w, http.StatusNotFound, "room not found")
		case errors.Is(err, domain.ErrTokenMismatch):
			writeError(w, http.StatusForbidden, "token mismatch")
		default:
			writeError(w, http.StatusInternalServerError, "delete failed")
		}
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (g *Gateway) handleHealthz(w http.ResponseWriter, r *http.Request) {
	uptime, rooms, connections := g.Stats()
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":          true,
		"uptime":      uptime.Seconds(),
		"rooms":       rooms,
		"connections": connections,
	})
}

func bearerToken(r *http.Request) (string, bool) {
	const prefix = "Bearer "
	h := r.Header.Get("Authorization")
	if len(h) <= len(prefix) || h[:len(prefix)] != prefix {
		return "", false
	}
	return h[len(prefix):], true
}
