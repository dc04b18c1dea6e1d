// Package api serves the certify and verification endpoints over HTTP.
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// NewRouter mounts h on a chi router with request IDs, real client IPs,
// access logging and panic recovery.
func NewRouter(h *Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", h.Health)
	r.Route("/v1", func(api chi.Router) {
		api.Post("/run", h.Run)
		api.Post("/canon", h.Canon)
		api.Post("/cid", h.CID)
		api.Route("/verify", func(v chi.Router) {
			v.Post("/card", h.VerifyCard)
			v.Post("/log", h.VerifyLog)
			v.Post("/sirp", h.VerifySIRP)
		})
		api.Post("/objects", h.PutObject)
		api.Get("/objects/{cid}", h.GetObject)
		api.Head("/objects/{cid}", h.HasObject)
	})
	return r
}
