package http

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/quotewise/callbridge/internal/core/port"
	"github.com/quotewise/callbridge/internal/core/service"
)

type Handler struct {
	Signaling *service.SignalingService
	Registry  port.RoomRegistry
}

func NewHandler(signaling *service.SignalingService, registry port.RoomRegistry) *Handler {
	return &Handler{
		Signaling: signaling,
		Registry:  registry,
	}
}

func (h *Handler) NewRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", h.Health)
	r.Get("/api/socketio", h.ServeWS)

	return r
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"status": "ok",
		"rooms":  h.Registry.RoomCount(),
	})
}
