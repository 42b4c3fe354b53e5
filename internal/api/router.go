// Slipmetrics - Slippi Replay Statistics and Match Analytics
// Copyright 2026 Slipmetrics Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/slipmetrics/slipmetrics

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/slipmetrics/slipmetrics/internal/logging"
)

// NewRouter assembles the HTTP routes. timeout bounds each request.
func NewRouter(h *Handlers, timeout time.Duration) http.Handler {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(requestLogger)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Timeout(timeout))

	r.Get("/health", h.Health)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/matches", func(r chi.Router) {
			r.Get("/", h.ListMatches)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", h.GetMatch)
				r.Delete("/", h.DeleteMatch)
				r.Get("/players", h.GetMatchPlayers)
				r.Get("/conversions", h.GetMatchConversions)
			})
		})
		r.Get("/players/{tag}/aggregate", h.PlayerAggregate)
	})

	return r
}

// requestLogger emits one debug line per request with status and latency.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		logging.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("duration", time.Since(start)).
			Str("request_id", chimiddleware.GetReqID(r.Context())).
			Msg("Request handled")
	})
}
