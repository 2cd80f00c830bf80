package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/visionguard/visionguard/internal/middleware"
	"github.com/visionguard/visionguard/internal/rtc"
	"github.com/visionguard/visionguard/internal/stream"
)

type StreamHandler struct {
	Registry *stream.Registry
	Service  *rtc.Service
}

func NewStreamHandler(registry *stream.Registry, svc *rtc.Service) *StreamHandler {
	return &StreamHandler{Registry: registry, Service: svc}
}

type streamInfo struct {
	StreamID  string       `json:"stream_id"`
	ShopID    string       `json:"shop_id"`
	Location  string       `json:"location,omitempty"`
	CreatedAt time.Time    `json:"created_at"`
	Stats     stream.Stats `json:"stats"`
}

func pathUserID(r *http.Request) string {
	if id := chi.URLParam(r, "user_id"); id != "" {
		return id
	}
	return r.PathValue("user_id")
}

// ListStreams implements GET /users/{user_id}/streams.
func (h *StreamHandler) ListStreams(w http.ResponseWriter, r *http.Request) {
	ac, ok := middleware.GetAuthContext(r.Context())
	if !ok {
		http.Error(w, "no auth context", http.StatusUnauthorized)
		return
	}
	userID := pathUserID(r)
	if userID != ac.UserID {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	handles := h.Registry.List(userID)
	out := make([]streamInfo, 0, len(handles))
	for _, hd := range handles {
		out = append(out, streamInfo{
			StreamID:  hd.StreamID,
			ShopID:    hd.ShopID,
			Location:  hd.Location,
			CreatedAt: hd.CreatedAt,
			Stats:     hd.Processor.Stats(),
		})
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"user_id": userID,
		"streams": out,
	})
}

// DeleteStream implements DELETE /users/{user_id}/streams/{stream_id}.
func (h *StreamHandler) DeleteStream(w http.ResponseWriter, r *http.Request) {
	ac, ok := middleware.GetAuthContext(r.Context())
	if !ok {
		http.Error(w, "no auth context", http.StatusUnauthorized)
		return
	}
	userID := pathUserID(r)
	if userID != ac.UserID {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	streamID := chi.URLParam(r, "stream_id")
	if streamID == "" {
		streamID = r.PathValue("stream_id")
	}

	if hd, found := h.Registry.Get(streamID); !found || hd.UserID != userID {
		http.Error(w, "stream not found", http.StatusNotFound)
		return
	}
	h.Service.Teardown(streamID)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "stopped", "stream_id": streamID})
}

// DeleteUserStreams implements DELETE /users/{user_id}.
func (h *StreamHandler) DeleteUserStreams(w http.ResponseWriter, r *http.Request) {
	ac, ok := middleware.GetAuthContext(r.Context())
	if !ok {
		http.Error(w, "no auth context", http.StatusUnauthorized)
		return
	}
	userID := pathUserID(r)
	if userID != ac.UserID {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	stopped := h.Service.TeardownUser(userID)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"status": "stopped", "count": stopped})
}

// ListUsers implements GET /users: active users with stream counts.
func (h *StreamHandler) ListUsers(w http.ResponseWriter, r *http.Request) {
	users := h.Registry.Users()
	type userInfo struct {
		UserID      string `json:"user_id"`
		StreamCount int    `json:"stream_count"`
	}
	out := make([]userInfo, 0, len(users))
	for id, n := range users {
		out = append(out, userInfo{UserID: id, StreamCount: n})
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"users": out, "total": len(out)})
}
