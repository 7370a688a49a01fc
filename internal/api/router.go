package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// setupRouter creates and configures the chi router with all routes.
func (s *Server) setupRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(requestLogger(s.config.Verbose))
	r.Use(recoverer)
	r.Use(prometheusMiddleware)

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/events", s.submitEvent)

		r.Route("/incidents", func(r chi.Router) {
			r.Get("/", s.listIncidents)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.getIncident)
				r.Post("/ack", s.ackIncident)
				r.Post("/escalate", s.escalateIncident)
				r.Post("/process", s.processIncident)
			})
		})

		r.Route("/rules", func(r chi.Router) {
			r.Get("/", s.listRules)
			r.Post("/{id}/enable", s.setRuleEnabled(true))
			r.Post("/{id}/disable", s.setRuleEnabled(false))
		})

		r.Route("/approvals", func(r chi.Router) {
			r.Post("/{id}/approve", s.approveAction)
			r.Post("/{id}/cancel", s.cancelAction)
		})

		r.Get("/stats", s.getStats)
	})

	// Health check (public)
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		OK(w, map[string]string{"status": "ok"})
	})

	return r
}
