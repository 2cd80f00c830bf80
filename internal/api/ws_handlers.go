package api

import (
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/visionguard/visionguard/internal/hub"
	"github.com/visionguard/visionguard/internal/middleware"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // CORS policy is enforced by the HTTP middleware
	},
}

type AlertWSHandler struct {
	Hub    *hub.Hub
	Tokens middleware.TokenValidator
}

func NewAlertWSHandler(h *hub.Hub, tokens middleware.TokenValidator) *AlertWSHandler {
	return &AlertWSHandler{Hub: h, Tokens: tokens}
}

// HandleAlerts implements GET /ws/alerts/{user_id}?token=<bearer>.
// Auth failures close the upgraded socket with code 4401.
func (h *AlertWSHandler) HandleAlerts(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "user_id")
	if userID == "" {
		userID = r.PathValue("user_id")
	}
	token := r.URL.Query().Get("token")

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[WS] Upgrade failed for user %s: %v", userID, err)
		return
	}

	claims, err := h.Tokens.ValidateToken(token)
	if err != nil || claims.UserID != userID {
		conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(hub.CloseUnauthorized, "unauthorized"))
		conn.Close()
		return
	}

	h.Hub.Attach(userID, conn)
}

// GetConnections implements GET /ws/connections.
func (h *AlertWSHandler) GetConnections(w http.ResponseWriter, r *http.Request) {
	stats := h.Hub.StatsAll()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"connections": stats,
		"total":       len(stats),
	})
}

// GetUserConnection implements GET /ws/connections/{user_id}.
func (h *AlertWSHandler) GetUserConnection(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "user_id")
	if userID == "" {
		userID = r.PathValue("user_id")
	}

	stats, ok := h.Hub.Stats(userID)
	if !ok {
		http.Error(w, "no connection for user", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(stats)
}
