package api

import (
	"encoding/json"
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kafly/skymetrics/internal/collector"
	"github.com/kafly/skymetrics/internal/config"
	"github.com/kafly/skymetrics/internal/storage/sqlite"
	"github.com/kafly/skymetrics/pkg/logger"
)

// Handler contains the API handlers.
type Handler struct {
	registry  *collector.Registry
	gate      *collector.Gate
	sessions  *sqlite.SessionStorage
	telemetry *sqlite.TelemetryStorage
	commands  *sqlite.CommandStorage
	config    *config.Config
	logger    *logger.Logger
	startedAt time.Time
}

// NewHandler creates a new API handler.
func NewHandler(
	registry *collector.Registry,
	gate *collector.Gate,
	sessions *sqlite.SessionStorage,
	telemetry *sqlite.TelemetryStorage,
	commands *sqlite.CommandStorage,
	cfg *config.Config,
	log *logger.Logger,
) *Handler {
	return &Handler{
		registry:  registry,
		gate:      gate,
		sessions:  sessions,
		telemetry: telemetry,
		commands:  commands,
		config:    cfg,
		logger:    log.Named("api-handler"),
		startedAt: time.Now(),
	}
}

// GetStatus returns collector liveness information.
func (h *Handler) GetStatus(w http.ResponseWriter, r *http.Request) {
	status := map[string]any{
		"status":         "ok",
		"uptime_seconds": int(time.Since(h.startedAt).Seconds()),
		"connections":    h.registry.Count(),
	}
	if h.gate != nil {
		sweeps, last := h.gate.SweepStats()
		status["presence_sweeps"] = sweeps
		if !last.IsZero() {
			status["last_sweep"] = last
		}
	}
	h.respondJSON(w, http.StatusOK, status)
}

// GetPilots returns the currently connected, identified pilots.
func (h *Handler) GetPilots(w http.ResponseWriter, r *http.Request) {
	sessions := h.registry.Identified()
	infos := make([]collector.SessionInfo, 0, len(sessions))
	for _, s := range sessions {
		infos = append(infos, s.Info())
	}
	sort.Slice(infos, func(i, j int) bool {
		return infos[i].ConnectedAt.Before(infos[j].ConnectedAt)
	})

	h.respondJSON(w, http.StatusOK, map[string]any{
		"count":  len(infos),
		"pilots": infos,
	})
}

// GetSessions returns the stored session history, newest first.
func (h *Handler) GetSessions(w http.ResponseWriter, r *http.Request) {
	records, err := h.sessions.ListSessions(100)
	if err != nil {
		h.logger.Error("Failed to list sessions", logger.Error(err))
		h.respondError(w, http.StatusInternalServerError, "failed to list sessions")
		return
	}
	if records == nil {
		records = []sqlite.SessionRecord{}
	}

	h.respondJSON(w, http.StatusOK, map[string]any{
		"count":    len(records),
		"sessions": records,
	})
}

// GetSessionTelemetry returns the stored telemetry of one session, capped at
// the configured limit, newest first.
func (h *Handler) GetSessionTelemetry(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "id")
	records, err := h.telemetry.GetSessionTelemetry(sessionID)
	if err != nil {
		h.logger.Error("Failed to get session telemetry",
			logger.String("session_id", sessionID),
			logger.Error(err))
		h.respondError(w, http.StatusInternalServerError, "failed to get telemetry")
		return
	}
	if records == nil {
		records = []sqlite.TelemetryRecord{}
	}

	h.respondJSON(w, http.StatusOK, map[string]any{
		"session_id": sessionID,
		"count":      len(records),
		"telemetry":  records,
	})
}

// GetSessionCommands returns the control commands issued to one session.
func (h *Handler) GetSessionCommands(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "id")
	records, err := h.commands.GetSessionCommands(sessionID)
	if err != nil {
		h.logger.Error("Failed to get session commands",
			logger.String("session_id", sessionID),
			logger.Error(err))
		h.respondError(w, http.StatusInternalServerError, "failed to get commands")
		return
	}
	if records == nil {
		records = []sqlite.CommandRecord{}
	}

	h.respondJSON(w, http.StatusOK, map[string]any{
		"session_id": sessionID,
		"count":      len(records),
		"commands":   records,
	})
}

func (h *Handler) respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		h.logger.Error("Failed to encode response", logger.Error(err))
	}
}

func (h *Handler) respondError(w http.ResponseWriter, status int, message string) {
	h.respondJSON(w, status, map[string]string{"error": message})
}
