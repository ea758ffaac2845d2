// Package monitor runs the client side of the telemetry pipeline: it polls
// the simulator source, feeds the flight-phase detector, and streams changed
// snapshots to the collector over a websocket link that survives drops.
package monitor

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/kafly/skymetrics/internal/flightlog"
	"github.com/kafly/skymetrics/internal/protocol"
	"github.com/kafly/skymetrics/internal/simdata"
	"github.com/kafly/skymetrics/internal/telemetry"
	"github.com/kafly/skymetrics/pkg/logger"
)

// Config contains the link timing settings.
type Config struct {
	ServerURL         string
	PollInterval      time.Duration
	ReconnectDelay    time.Duration
	HeartbeatInterval time.Duration
}

// Pilot identifies who the link transmits for.
type Pilot struct {
	Name        string
	VatsimID    string
	IvaoID      string
	DepartureID string
	ArrivalID   string
}

// Link owns the websocket connection to the collector and the poll loop that
// drives it. Detection runs on every poll cycle; transmission happens only
// while the collector has authorized it.
type Link struct {
	cfg      Config
	pilot    Pilot
	provider simdata.Provider
	detector *flightlog.Detector
	logger   *logger.Logger
	dialer   *websocket.Dialer

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	mu           sync.Mutex
	authorized   bool
	lastSent     *telemetry.Snapshot
	lastSendTime time.Time
	lastObserved telemetry.Snapshot
	packetsSent  int
	bytesSent    int64
	reconnects   int
	sourceLost   bool
}

// NewLink creates a telemetry link. Defaults are applied for any zero timing
// value.
func NewLink(cfg Config, pilot Pilot, provider simdata.Provider, detector *flightlog.Detector, log *logger.Logger) *Link {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 100 * time.Millisecond
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = 5 * time.Second
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = 30 * time.Second
	}
	return &Link{
		cfg:      cfg,
		pilot:    pilot,
		provider: provider,
		detector: detector,
		logger:   log.Named("telemetry-link"),
		dialer:   &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		stopCh:   make(chan struct{}),
	}
}

// Start launches the connection-management goroutine.
func (l *Link) Start(ctx context.Context) error {
	l.logger.Info("Starting telemetry link",
		logger.String("server_url", l.cfg.ServerURL),
		logger.String("source", l.provider.Status()),
		logger.Duration("poll_interval", l.cfg.PollInterval))

	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		l.run(ctx)
	}()
	return nil
}

// Stop terminates the link, releases the simulator source and gives the
// detector its chance to flush an in-progress flight. Idempotent.
func (l *Link) Stop() {
	l.stopOnce.Do(func() {
		close(l.stopCh)
		l.wg.Wait()

		if err := l.provider.Close(); err != nil {
			l.logger.Warn("Error closing simulator source", logger.Error(err))
		}

		l.mu.Lock()
		last := l.lastObserved
		l.mu.Unlock()
		l.detector.HandleSessionEnd(last)

		l.logger.Info("Telemetry link stopped",
			logger.Int("packets_sent", l.packetsSent),
			logger.Int("reconnects", l.reconnects))
	})
}

// run is the connect/poll/reconnect cycle. Every pass dials once, pumps until
// the connection drops, then waits the reconnect delay. Delta state resets on
// every new connection so the first snapshot is always transmitted in full.
func (l *Link) run(ctx context.Context) {
	for {
		select {
		case <-l.stopCh:
			return
		case <-ctx.Done():
			return
		default:
		}

		conn, _, err := l.dialer.DialContext(ctx, l.cfg.ServerURL, nil)
		if err != nil {
			l.logger.Warn("Collector connection failed",
				logger.String("server_url", l.cfg.ServerURL),
				logger.Error(err))
			if !l.sleepInterruptible(ctx, l.cfg.ReconnectDelay) {
				return
			}
			continue
		}

		l.logger.Info("Connected to collector", logger.String("server_url", l.cfg.ServerURL))

		if err := l.sendIdentification(conn); err != nil {
			l.logger.Warn("Failed to send identification", logger.Error(err))
			conn.Close()
			if !l.sleepInterruptible(ctx, l.cfg.ReconnectDelay) {
				return
			}
			continue
		}

		// done is closed by the read pump when the connection dies.
		done := make(chan struct{})
		go l.readPump(conn, done)

		l.emitLoop(ctx, conn, done)
		conn.Close()

		// The collector's authorization does not survive the connection, and
		// neither does the delta baseline.
		l.mu.Lock()
		l.authorized = false
		l.lastSent = nil
		l.reconnects++
		l.mu.Unlock()

		select {
		case <-l.stopCh:
			return
		case <-ctx.Done():
			return
		default:
		}

		l.logger.Info("Connection lost, reconnecting",
			logger.Duration("delay", l.cfg.ReconnectDelay))
		if !l.sleepInterruptible(ctx, l.cfg.ReconnectDelay) {
			return
		}
	}
}

// emitLoop runs the fixed-cadence poll cycle until the link stops or the
// connection drops.
func (l *Link) emitLoop(ctx context.Context, conn *websocket.Conn, done chan struct{}) {
	ticker := time.NewTicker(l.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-l.stopCh:
			return
		case <-ctx.Done():
			return
		case <-done:
			return
		case <-ticker.C:
			if err := l.pollOnce(conn); err != nil {
				l.logger.Warn("Telemetry send failed", logger.Error(err))
				return
			}
		}
	}
}

// pollOnce executes one poll cycle: fetch, detect, and conditionally send.
// A returned error means the websocket write failed and the connection must
// be torn down; source errors are absorbed here.
func (l *Link) pollOnce(conn *websocket.Conn) error {
	raw, err := l.provider.Fetch()
	if err != nil {
		if errors.Is(err, simdata.ErrSourceUnavailable) {
			l.handleSourceLost()
		} else {
			l.logger.Debug("Transient snapshot read error", logger.Error(err))
		}
		return nil
	}

	snap := raw.Round()

	l.mu.Lock()
	if l.sourceLost {
		l.sourceLost = false
		l.logger.Info("Simulator source restored")
	}
	l.lastObserved = snap
	l.mu.Unlock()

	// Phase detection is unconditional: authorization gates transmission,
	// never observation.
	l.detector.Observe(snap)

	l.mu.Lock()
	authorized := l.authorized
	due := snap.ChangedFrom(l.lastSent) ||
		time.Since(l.lastSendTime) >= l.cfg.HeartbeatInterval
	l.mu.Unlock()

	if !authorized || !due {
		return nil
	}
	return l.send(conn, snap)
}

func (l *Link) handleSourceLost() {
	l.mu.Lock()
	if l.sourceLost {
		l.mu.Unlock()
		return
	}
	l.sourceLost = true
	last := l.lastObserved
	l.mu.Unlock()

	l.logger.Warn("Simulator source lost")
	l.detector.HandleSessionEnd(last)
}

// send transmits one telemetry message and advances the delta baseline. The
// packet counter covers the message being sent; the byte counter trails by
// one message because its size is only known after marshalling.
func (l *Link) send(conn *websocket.Conn, snap telemetry.Snapshot) error {
	l.mu.Lock()
	l.packetsSent++
	msg := protocol.Telemetry{
		Snapshot:    snap,
		PilotName:   l.pilot.Name,
		PacketsSent: l.packetsSent,
		MBSent:      roundMB(l.bytesSent),
	}
	l.mu.Unlock()

	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		return err
	}

	l.mu.Lock()
	l.bytesSent += int64(len(payload))
	l.lastSent = &snap
	l.lastSendTime = time.Now()
	l.mu.Unlock()
	return nil
}

func (l *Link) sendIdentification(conn *websocket.Conn) error {
	l.mu.Lock()
	ident := protocol.Identification{
		PilotName:   l.pilot.Name,
		VatsimID:    l.pilot.VatsimID,
		IvaoID:      l.pilot.IvaoID,
		DepartureID: l.pilot.DepartureID,
		ArrivalID:   l.pilot.ArrivalID,
		PacketsSent: l.packetsSent,
		MBSent:      roundMB(l.bytesSent),
	}
	l.mu.Unlock()
	return conn.WriteJSON(ident)
}

// readPump consumes control messages until the connection errors out, then
// closes done so the emit loop unwinds.
func (l *Link) readPump(conn *websocket.Conn, done chan struct{}) {
	defer close(done)
	for {
		var ctrl protocol.Control
		if err := conn.ReadJSON(&ctrl); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				l.logger.Warn("Collector connection closed unexpectedly", logger.Error(err))
			}
			return
		}

		switch ctrl.Command {
		case protocol.CommandStartTransmission:
			l.mu.Lock()
			l.authorized = true
			l.mu.Unlock()
			l.logger.Info("Transmission authorized by collector")
		case protocol.CommandStopTransmission:
			l.mu.Lock()
			l.authorized = false
			l.mu.Unlock()
			l.logger.Info("Transmission stopped by collector")
		default:
			// Unknown commands are ignored, not fatal.
			l.logger.Debug("Ignoring unknown control command",
				logger.String("command", ctrl.Command))
		}
	}
}

// Authorized reports whether the collector currently allows transmission.
func (l *Link) Authorized() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.authorized
}

// sleepInterruptible waits d, returning false if the link was stopped.
func (l *Link) sleepInterruptible(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-l.stopCh:
		return false
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func roundMB(bytes int64) float64 {
	return math.Round(float64(bytes)/1024/1024*100) / 100
}
