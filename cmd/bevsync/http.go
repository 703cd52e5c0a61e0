package main

import (
	"net/http"

	"github.com/rs/zerolog"

	"bevsync/internal/middleware"
	"bevsync/internal/ws"
)

// newMux mounts the websocket channels. The viewer and control channels sit
// behind JWT auth when validator is non-nil; ingest authenticates per camera.
func newMux(h *ws.Handler, validator middleware.TokenValidator, logger zerolog.Logger) http.Handler {
	protect := middleware.AuthMiddleware(validator)

	mux := http.NewServeMux()
	mux.Handle("GET /ws", protect(http.HandlerFunc(h.ServeViewer)))
	mux.Handle("GET /ui", protect(http.HandlerFunc(h.ServeControl)))
	mux.HandleFunc("GET /ingest/{cam_id}", h.ServeIngest)

	return logRequests(logger)(mux)
}

// logRequests logs each request line. It does not wrap the ResponseWriter,
// which must stay hijackable for websocket upgrades.
func logRequests(logger zerolog.Logger) func(http.Handler) http.Handler {
	log := logger.With().Str("component", "http").Logger()
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			log.Debug().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Str("remote", r.RemoteAddr).
				Msg("request")
			next.ServeHTTP(w, r)
		})
	}
}
