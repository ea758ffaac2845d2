// Package api exposes the collector's HTTP surface: the websocket endpoint
// clients connect to and a small read-only JSON API over live sessions and
// stored telemetry.
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/kafly/skymetrics/internal/collector"
	"github.com/kafly/skymetrics/internal/config"
	"github.com/kafly/skymetrics/internal/storage/sqlite"
	"github.com/kafly/skymetrics/pkg/logger"
)

// Router builds the HTTP routes for the collector.
type Router struct {
	handler   *Handler
	collector *collector.Server
	logger    *logger.Logger
}

// NewRouter creates the API router.
func NewRouter(
	collectorServer *collector.Server,
	sessionStorage *sqlite.SessionStorage,
	telemetryStorage *sqlite.TelemetryStorage,
	commandStorage *sqlite.CommandStorage,
	cfg *config.Config,
	log *logger.Logger,
) *Router {
	return &Router{
		handler:   NewHandler(collectorServer.Registry(), collectorServer.Gate(), sessionStorage, telemetryStorage, commandStorage, cfg, log),
		collector: collectorServer,
		logger:    log.Named("api-router"),
	}
}

// Routes returns the assembled handler.
func (rt *Router) Routes() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/ws", rt.collector.HandleConnection)

		r.Get("/status", rt.handler.GetStatus)
		r.Get("/pilots", rt.handler.GetPilots)
		r.Get("/sessions", rt.handler.GetSessions)
		r.Get("/sessions/{id}/telemetry", rt.handler.GetSessionTelemetry)
		r.Get("/sessions/{id}/commands", rt.handler.GetSessionCommands)
	})

	return r
}
