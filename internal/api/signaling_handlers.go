package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/visionguard/visionguard/internal/middleware"
	"github.com/visionguard/visionguard/internal/rtc"
)

type SignalingHandler struct {
	Service *rtc.Service
}

func NewSignalingHandler(svc *rtc.Service) *SignalingHandler {
	return &SignalingHandler{Service: svc}
}

// HandleOffer implements POST /offer.
func (h *SignalingHandler) HandleOffer(w http.ResponseWriter, r *http.Request) {
	ac, ok := middleware.GetAuthContext(r.Context())
	if !ok {
		http.Error(w, "no auth context", http.StatusUnauthorized)
		return
	}

	var req rtc.OfferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	resp, err := h.Service.Offer(r.Context(), ac.UserID, ac.Role, req)
	if err != nil {
		switch {
		case errors.Is(err, rtc.ErrBadOffer):
			http.Error(w, "bad offer", http.StatusBadRequest)
		case errors.Is(err, rtc.ErrForbidden):
			http.Error(w, "forbidden", http.StatusForbidden)
		case errors.Is(err, rtc.ErrTimeout):
			http.Error(w, "signaling timeout", http.StatusGatewayTimeout)
		default:
			http.Error(w, "failed to establish stream", http.StatusInternalServerError)
		}
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}
