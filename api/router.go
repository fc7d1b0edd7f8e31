// Package api exposes the alarm engine over HTTP.
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"

	mwlogger "bsid.es/diana/api/middleware/logger"
	"bsid.es/diana/pkg/logger"
)

func NewRouter(h *Handler, log *logger.Logger, corsOpts cors.Options) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(mwlogger.New(log))
	r.Use(middleware.Recoverer)
	r.Use(cors.New(corsOpts).Handler)

	r.Get("/healthz", h.Health)
	r.Get("/alarms.ics", h.Export)

	r.Route("/alarms", func(r chi.Router) {
		r.Get("/", h.List)
		r.Post("/", h.Create)

		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", h.Get)
			r.Patch("/", h.Edit)
			r.Delete("/", h.Delete)
			r.Post("/toggle", h.Toggle)
			r.Post("/interact", h.Interact)
		})
	})

	return r
}
