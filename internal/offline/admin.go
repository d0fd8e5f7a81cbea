package offline

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/hlog"
)

// AdminHandler exposes status, cache management and metrics.
func (s *Service) AdminHandler() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)
	r.Use(hlog.NewHandler(s.log))
	r.Use(hlog.AccessHandler(func(r *http.Request, status, size int, duration time.Duration) {
		hlog.FromRequest(r).Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", status).
			Dur("took", duration).
			Msg("admin request")
	}))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/status", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, s.reg.Status())
	})
	r.Post("/caches/clear", func(w http.ResponseWriter, r *http.Request) {
		n, err := s.reg.Clear(r.Context())
		if err != nil {
			hlog.FromRequest(r).Error().Err(err).Msg("clear caches")
			writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error(), "deleted": n})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"deleted": n})
	})
	r.Delete("/caches/{name}", func(w http.ResponseWriter, r *http.Request) {
		name := chi.URLParam(r, "name")
		ok, err := s.reg.DeleteCache(name)
		switch {
		case err != nil:
			hlog.FromRequest(r).Error().Err(err).Str("name", name).Msg("delete cache")
			writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error()})
		case !ok:
			writeJSON(w, http.StatusNotFound, map[string]any{"error": ErrCacheNotFound.Error()})
		default:
			w.WriteHeader(http.StatusNoContent)
		}
	})
	r.Method(http.MethodGet, "/metrics", s.metrics.Handler())
	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
