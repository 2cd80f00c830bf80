package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/visionguard/visionguard/internal/middleware"
)

type RouterDeps struct {
	Signaling *SignalingHandler
	Streams   *StreamHandler
	AlertWS   *AlertWSHandler
	Health    *HealthHandler

	JWT            *middleware.JWTAuth
	OfferLimit     func(http.Handler) http.Handler
	AllowedOrigins []string
}

// NewRouter assembles the HTTP surface. The WebSocket route carries its
// token in the query string, so it sits outside the bearer-auth group.
func NewRouter(deps RouterDeps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.CORS(deps.AllowedOrigins))
	r.Use(middleware.RequestLogger)
	r.Use(middleware.HTTPMetrics)

	r.Get("/healthz", deps.Health.GetHealth)
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/ws/alerts/{user_id}", deps.AlertWS.HandleAlerts)

	r.Group(func(r chi.Router) {
		r.Use(deps.JWT.Middleware)

		if deps.OfferLimit != nil {
			r.With(deps.OfferLimit).Post("/offer", deps.Signaling.HandleOffer)
		} else {
			r.Post("/offer", deps.Signaling.HandleOffer)
		}

		r.Get("/users", deps.Streams.ListUsers)
		r.Get("/users/{user_id}/streams", deps.Streams.ListStreams)
		r.Delete("/users/{user_id}/streams/{stream_id}", deps.Streams.DeleteStream)
		r.Delete("/users/{user_id}", deps.Streams.DeleteUserStreams)

		r.Get("/ws/connections", deps.AlertWS.GetConnections)
		r.Get("/ws/connections/{user_id}", deps.AlertWS.GetUserConnection)
	})

	return r
}
