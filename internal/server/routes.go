package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Routes builds the API router
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	if s.metrics != nil {
		r.Use(s.metrics.Middleware)
	}

	r.Get("/healthz", s.handleHealth)
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics.Handler())
	}

	r.Route("/api", func(r chi.Router) {
		r.Get("/controllers", s.handleListControllers)
		r.Get("/controllers/{address}/snapshot", s.handleSnapshot)

		r.Get("/devices", s.handleListDevices)
		r.Get("/devices/{id}", s.handleGetDevice)
		r.Get("/devices/{id}/capabilities/{capability}", s.handleGetCapability)
		r.Post("/devices/{id}/capabilities/{capability}", s.handleSetCapability)
		r.Put("/devices/{id}/capabilities/{capability}", s.handleSetCapability)

		r.Get("/stream", s.stream.ServeHTTP)
	})

	return r
}
