// Package http assembles the development backend's HTTP surface: health
// probes, the reservations read API and the conversation websocket.
package http

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"voice-reservation-assistant/internal/reservations"
)

// NewRouter constructs the HTTP router. ws handles websocket upgrades at
// /ws; store backs the reservations API.
func NewRouter(store reservations.Store, ws http.Handler, log zerolog.Logger) http.Handler {
	r := chi.NewRouter()

	// Basic middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(log))

	// Health endpoints
	r.Get("/v1/liveness", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/v1/readiness", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})

	// API routes
	r.Route("/v1", func(r chi.Router) {
		r.Get("/reservations", listReservations(store))
	})

	if ws != nil {
		r.Handle("/ws", ws)
	}

	return r
}

// requestLogger logs each request with its status and duration.
func requestLogger(log zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			log.Info().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", ww.Status()).
				Dur("duration", time.Since(start)).
				Msg("http request")
		})
	}
}

func listReservations(store reservations.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if store == nil {
			http.Error(w, `{"error": "reservation store unavailable"}`, http.StatusServiceUnavailable)
			return
		}

		date := r.URL.Query().Get("date")
		if date != "" {
			normalized, err := reservations.NormalizeDate(date)
			if err != nil {
				http.Error(w, `{"error": "unrecognized date filter"}`, http.StatusBadRequest)
				return
			}
			date = normalized
		}

		list, err := store.ListReservations(r.Context(), date)
		if err != nil {
			http.Error(w, `{"error": "could not list reservations"}`, http.StatusInternalServerError)
			return
		}
		if list == nil {
			list = []reservations.Reservation{}
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(list)
	}
}
