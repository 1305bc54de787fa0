// Package main provides the API router setup.
package main

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/tomehub/tomehub/cmd/tomehub-api/handlers"
	"github.com/tomehub/tomehub/cmd/tomehub-api/middleware"
	"github.com/tomehub/tomehub/internal/config"
	"github.com/tomehub/tomehub/internal/observability"
)

// NewRouter assembles the HTTP surface: health probes, the REST routes
// and the Connect procedures, all behind the shared middleware stack.
func NewRouter(logger *observability.Logger, cfg *config.Config, app *App) http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Correlation)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORS([]string{"*"}))
	r.Use(chimiddleware.Timeout(cfg.Server.WriteTimeout))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"healthy","service":"tomehub"}`))
	})

	r.Get("/ready", func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := app.Ping(req.Context()); err != nil {
			logger.Warn().Err(err).Msg("readiness probe failed")
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"status":"unavailable"}`))
			return
		}
		w.Write([]byte(`{"status":"ready"}`))
	})

	searchHandler := handlers.NewSearchHandler(logger, app.RPC)
	answerHandler := handlers.NewAnswerHandler(logger, app.RPC)
	statsHandler := handlers.NewStatsHandler(logger, app.Store)

	r.Group(func(r chi.Router) {
		r.Use(middleware.APIKey(middleware.AuthConfig{
			Enabled: cfg.Auth.Enabled,
			APIKey:  cfg.Auth.APIKey,
		}))

		r.Route("/v1", func(r chi.Router) {
			r.Post("/search", searchHandler.Search)
			r.Post("/answer", answerHandler.Answer)
			r.Get("/stats", statsHandler.Recent)
		})

		for procedure, handler := range app.RPC.Handlers() {
			r.Handle(procedure, handler)
		}
	})

	return r
}
