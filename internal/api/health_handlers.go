package api

import (
	"encoding/json"
	"net/http"

	"github.com/visionguard/visionguard/internal/hub"
	"github.com/visionguard/visionguard/internal/stream"
)

type HealthHandler struct {
	Registry *stream.Registry
	Hub      *hub.Hub
}

func NewHealthHandler(registry *stream.Registry, h *hub.Hub) *HealthHandler {
	return &HealthHandler{Registry: registry, Hub: h}
}

// GetHealth implements GET /healthz.
func (h *HealthHandler) GetHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"status":          "ok",
		"active_streams":  h.Registry.Count(),
		"hub_connections": len(h.Hub.StatsAll()),
	})
}
