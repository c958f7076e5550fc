// Package statusapi exposes a small debug HTTP surface over a running
// pipeline: a health probe and a stats snapshot. It is operational
// tooling, not part of the synchronization API.
package statusapi

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hazyhaar/viewsync/pipeline"
)

// NewRouter builds the debug router for a pipeline.
func NewRouter(p *pipeline.Pipeline, logger *slog.Logger) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			logger.Debug("statusapi: request", "method", req.Method, "path", req.URL.Path)
			next.ServeHTTP(w, req)
		})
	})

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Get("/stats", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, p.Stats())
	})

	r.Get("/frames/latest", func(w http.ResponseWriter, _ *http.Request) {
		f := p.LatestFrame()
		if f == nil {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "no frame available"})
			return
		}
		writeJSON(w, http.StatusOK, f)
	})

	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
