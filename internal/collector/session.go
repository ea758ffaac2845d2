package collector

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/kafly/skymetrics/internal/presence"
	"github.com/kafly/skymetrics/internal/protocol"
)

// Session is one client connection. It is anonymous until the client's
// identification message arrives; only identified sessions are visible to the
// presence gate and the API.
type Session struct {
	ID          string
	conn        *websocket.Conn
	connectedAt time.Time

	// wmu serializes websocket writes: control commands may come from the
	// gate's sweep goroutine and the connection handler concurrently.
	wmu sync.Mutex

	mu              sync.Mutex
	identified      bool
	pilotName       string
	identity        presence.Identity
	departureID     string
	arrivalID       string
	authorized      bool
	commandSent     bool
	lastCheckedAt   time.Time
	packetsReceived int64
	bytesReceived   int64
	lastTelemetry   *protocol.Telemetry
	lastReceived    time.Time
	closed          bool
}

// SessionInfo is the read-only view of a session exposed by the API.
type SessionInfo struct {
	ID              string              `json:"id"`
	PilotName       string              `json:"pilot_name"`
	VatsimID        string              `json:"vatsim_id"`
	IvaoID          string              `json:"ivao_id"`
	DepartureID     string              `json:"departure_id,omitempty"`
	ArrivalID       string              `json:"arrival_id,omitempty"`
	Authorized      bool                `json:"authorized"`
	ConnectedAt     time.Time           `json:"connected_at"`
	LastCheckedAt   *time.Time          `json:"last_checked_at,omitempty"`
	PacketsReceived int64               `json:"packets_received"`
	BytesReceived   int64               `json:"bytes_received"`
	LastReceived    *time.Time          `json:"last_received,omitempty"`
	LastTelemetry   *protocol.Telemetry `json:"last_telemetry,omitempty"`
}

// SessionID implements the gate's Member view.
func (s *Session) SessionID() string { return s.ID }

func newSession(id string, conn *websocket.Conn) *Session {
	return &Session{
		ID:          id,
		conn:        conn,
		connectedAt: time.Now(),
	}
}

// Identify records the client's identification message. It succeeds once;
// repeated identification messages are ignored.
func (s *Session) Identify(ident protocol.Identification) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.identified {
		return false
	}
	s.identified = true
	s.pilotName = ident.PilotName
	s.identity = presence.Identity{VatsimID: ident.VatsimID, IvaoID: ident.IvaoID}
	s.departureID = ident.DepartureID
	s.arrivalID = ident.ArrivalID
	return true
}

// Identified reports whether the identification message has arrived.
func (s *Session) Identified() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.identified
}

// Identity returns the announced network member IDs.
func (s *Session) Identity() presence.Identity {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.identity
}

// PilotName returns the announced pilot name.
func (s *Session) PilotName() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pilotName
}

// Authorized reports whether transmission is currently authorized.
func (s *Session) Authorized() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.authorized
}

// CommandSent reports whether the start command has already been issued on
// this connection. It is sent at most once; re-authorization requires a new
// connection.
func (s *Session) CommandSent() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.commandSent
}

// Authorize marks the session authorized and the one-shot command consumed.
func (s *Session) Authorize() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.authorized = true
	s.commandSent = true
}

// Revoke clears the authorization flag.
func (s *Session) Revoke() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.authorized = false
}

// MarkChecked records when the gate last ran a presence check for this
// session, whatever the outcome.
func (s *Session) MarkChecked(at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastCheckedAt = at
}

// RecordTelemetry updates the live counters with one received message.
func (s *Session) RecordTelemetry(t *protocol.Telemetry, size int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.packetsReceived++
	s.bytesReceived += int64(size)
	s.lastTelemetry = t
	s.lastReceived = time.Now()
}

// Counters returns the received packet and byte totals.
func (s *Session) Counters() (packets, bytes int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.packetsReceived, s.bytesReceived
}

// SendControl writes one control command to the client.
func (s *Session) SendControl(command string) error {
	payload, err := json.Marshal(protocol.Control{Command: command})
	if err != nil {
		return err
	}
	s.wmu.Lock()
	defer s.wmu.Unlock()
	return s.conn.WriteMessage(websocket.TextMessage, payload)
}

// Close closes the underlying connection exactly once.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()
	s.conn.Close()
}

// Info returns a point-in-time copy for the API.
func (s *Session) Info() SessionInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	info := SessionInfo{
		ID:              s.ID,
		PilotName:       s.pilotName,
		VatsimID:        s.identity.VatsimID,
		IvaoID:          s.identity.IvaoID,
		DepartureID:     s.departureID,
		ArrivalID:       s.arrivalID,
		Authorized:      s.authorized,
		ConnectedAt:     s.connectedAt,
		PacketsReceived: s.packetsReceived,
		BytesReceived:   s.bytesReceived,
		LastTelemetry:   s.lastTelemetry,
	}
	if !s.lastReceived.IsZero() {
		t := s.lastReceived
		info.LastReceived = &t
	}
	if !s.lastCheckedAt.IsZero() {
		t := s.lastCheckedAt
		info.LastCheckedAt = &t
	}
	return info
}
