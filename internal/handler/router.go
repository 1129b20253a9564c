package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// NewRouter mounts the API. corsOrigin is sent as Access-Control-Allow-Origin.
func NewRouter(h *HTTPHandler, corsOrigin string) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(CORSMiddleware(corsOrigin))

	r.Get("/health", HealthCheck)
	if h.telemetry != nil {
		r.Method(http.MethodGet, "/metrics", h.telemetry.Handler())
	}

	r.Route("/api", func(r chi.Router) {
		r.Post("/events", h.HandleEvents)
		r.Get("/metrics", h.HandleMetrics)
		r.Get("/issues", h.HandleIssues)
		r.Get("/rules", h.HandleRules)
		r.Put("/rules/{ruleId}/thresholds/{key}", h.HandleUpdateThreshold)
		r.Post("/feedback", h.HandleFeedback)
		r.Get("/stream", h.HandleStream)
	})
	return r
}

func CORSMiddleware(origin string) func(http.Handler) http.Handler {
	if origin == "" {
		origin = "*"
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusOK)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
