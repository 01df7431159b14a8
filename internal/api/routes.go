package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/wgomg/pulsegen/internal/utils"
)

// NewRouter mounts the service endpoints. metrics may be nil.
func NewRouter(handler *Handler, logger *utils.Logger, corsOrigins []string, metrics http.Handler) http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RealIP)
	r.Use(RequestID)
	r.Use(AccessLog(logger))
	r.Use(chimw.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: corsOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", requestIDHeader},
		ExposedHeaders: []string{requestIDHeader},
	}))

	r.Get("/", handler.HandleHealth)
	r.Get("/health", handler.HandleHealth)
	r.Post("/analyze", handler.HandleAnalyze)
	r.Post("/analyze/csv", handler.HandleAnalyzeCSV)
	if metrics != nil {
		r.Method(http.MethodGet, "/metrics", metrics)
	}

	return r
}
