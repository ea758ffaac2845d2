// Package collector implements the server side of the telemetry pipeline:
// it accepts websocket connections from clients, tracks identified pilot
// sessions, persists received telemetry and gates transmission on online
// network presence.
package collector

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/kafly/skymetrics/internal/protocol"
	"github.com/kafly/skymetrics/internal/storage/sqlite"
	"github.com/kafly/skymetrics/pkg/logger"
)

// SessionStore persists session lifecycle records.
type SessionStore interface {
	CreateSession(rec *sqlite.SessionRecord) error
	CloseSession(id string, disconnectedAt time.Time, packets, bytes int64) error
}

// TelemetryStore persists received telemetry messages.
type TelemetryStore interface {
	StoreTelemetry(rec *sqlite.TelemetryRecord) (int64, error)
}

// Server accepts and runs client websocket connections.
type Server struct {
	registry  *Registry
	gate      *Gate
	sessions  SessionStore
	telemetry TelemetryStore
	upgrader  websocket.Upgrader
	logger    *logger.Logger
}

// NewServer creates the collector websocket server.
func NewServer(registry *Registry, gate *Gate, sessions SessionStore, telemetry TelemetryStore, log *logger.Logger) *Server {
	return &Server{
		registry:  registry,
		gate:      gate,
		sessions:  sessions,
		telemetry: telemetry,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true // Allow all origins
			},
		},
		logger: log.Named("collector"),
	}
}

// Registry exposes the live session registry (used by the API).
func (s *Server) Registry() *Registry {
	return s.registry
}

// Gate exposes the presence gate (used by the API for sweep stats).
func (s *Server) Gate() *Gate {
	return s.gate
}

// HandleConnection upgrades the request and runs the connection until the
// client disconnects or the gate closes it.
func (s *Server) HandleConnection(w http.ResponseWriter, r *http.Request) {
	s.logger.Info("Handling new client connection",
		logger.String("remote_addr", r.RemoteAddr))

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("Failed to upgrade connection",
			logger.Error(err),
			logger.String("remote_addr", r.RemoteAddr))
		return
	}

	sess := newSession(uuid.NewString(), conn)
	s.registry.Add(sess)

	defer func() {
		s.registry.Remove(sess.ID)
		sess.Close()

		if sess.Identified() {
			packets, bytes := sess.Counters()
			if err := s.sessions.CloseSession(sess.ID, time.Now(), packets, bytes); err != nil {
				s.logger.Warn("Failed to close session record",
					logger.String("session_id", sess.ID),
					logger.Error(err))
			}
			s.logger.Info("Session ended",
				logger.String("session_id", sess.ID),
				logger.String("pilot", sess.PilotName()),
				logger.Int64("packets_received", packets),
				logger.Int64("bytes_received", bytes))
		}
	}()

	s.readLoop(r, conn, sess)
}

// readLoop consumes the connection. The first message must be the client's
// identification; everything after it is telemetry.
func (s *Server) readLoop(r *http.Request, conn *websocket.Conn, sess *Session) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				s.logger.Debug("Connection read error",
					logger.String("session_id", sess.ID),
					logger.Error(err))
			}
			return
		}

		if !sess.Identified() {
			if !s.handleIdentification(r, sess, data) {
				return
			}
			continue
		}

		s.handleTelemetry(sess, data)
	}
}

func (s *Server) handleIdentification(r *http.Request, sess *Session, data []byte) bool {
	var ident protocol.Identification
	if err := json.Unmarshal(data, &ident); err != nil || ident.PilotName == "" {
		s.logger.Warn("Invalid identification message, closing connection",
			logger.String("session_id", sess.ID))
		return false
	}

	sess.Identify(ident)

	if err := s.sessions.CreateSession(&sqlite.SessionRecord{
		ID:          sess.ID,
		PilotName:   ident.PilotName,
		VatsimID:    ident.VatsimID,
		IvaoID:      ident.IvaoID,
		DepartureID: ident.DepartureID,
		ArrivalID:   ident.ArrivalID,
		ConnectedAt: time.Now(),
	}); err != nil {
		s.logger.Warn("Failed to persist session",
			logger.String("session_id", sess.ID),
			logger.Error(err))
	}

	s.logger.Info("Client identified",
		logger.String("session_id", sess.ID),
		logger.String("pilot", ident.PilotName),
		logger.String("vatsim_id", ident.VatsimID),
		logger.String("ivao_id", ident.IvaoID))

	// Presence decision happens inline: a rejected session is closed here
	// and the next read unwinds the loop.
	s.gate.Admit(r.Context(), sess)
	return true
}

func (s *Server) handleTelemetry(sess *Session, data []byte) {
	var t protocol.Telemetry
	if err := json.Unmarshal(data, &t); err != nil {
		s.logger.Debug("Discarding malformed telemetry",
			logger.String("session_id", sess.ID),
			logger.Error(err))
		return
	}

	sess.RecordTelemetry(&t, len(data))

	if _, err := s.telemetry.StoreTelemetry(&sqlite.TelemetryRecord{
		SessionID:     sess.ID,
		CreatedAt:     time.Now(),
		AltIndicated:  t.AltIndicated,
		VerticalSpeed: t.VerticalSpeed,
		GS:            t.GS,
		AGL:           t.AGL,
		OnGround:      t.OnGround,
		Lat:           t.Lat,
		Lng:           t.Lng,
		RawJSON:       string(data),
	}); err != nil {
		s.logger.Warn("Failed to persist telemetry",
			logger.String("session_id", sess.ID),
			logger.Error(err))
	}
}
