package monitor

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kafly/skymetrics/internal/flightlog"
	"github.com/kafly/skymetrics/internal/protocol"
	"github.com/kafly/skymetrics/internal/telemetry"
	"github.com/kafly/skymetrics/pkg/logger"
)

// scriptedProvider returns whatever snapshot the test sets.
type scriptedProvider struct {
	mu      sync.Mutex
	snap    telemetry.Snapshot
	err     error
	autoInc bool
}

func (p *scriptedProvider) Fetch() (*telemetry.Snapshot, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return nil, p.err
	}
	if p.autoInc {
		p.snap.AltIndicated++
	}
	c := p.snap
	return &c, nil
}

func (p *scriptedProvider) Status() string { return "TEST" }
func (p *scriptedProvider) Close() error   { return nil }

func (p *scriptedProvider) set(snap telemetry.Snapshot) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.snap = snap
}

// captureSink collects detected event names.
type captureSink struct {
	mu     sync.Mutex
	events []string
}

func (s *captureSink) Append(rec flightlog.EventRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, rec.Event)
}
func (s *captureSink) Flush()      {}
func (s *captureSink) SessionEnd() {}
func (s *captureSink) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}
func (s *captureSink) names() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.events...)
}

// wsHarness is a fake collector endpoint handing accepted connections to the
// test.
type wsHarness struct {
	server *httptest.Server
	conns  chan *websocket.Conn
}

func newWSHarness(t *testing.T) *wsHarness {
	t.Helper()
	h := &wsHarness{conns: make(chan *websocket.Conn, 4)}
	upgrader := websocket.Upgrader{}
	h.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		h.conns <- conn
	}))
	t.Cleanup(h.server.Close)
	return h
}

func (h *wsHarness) url() string {
	return "ws" + strings.TrimPrefix(h.server.URL, "http")
}

func (h *wsHarness) accept(t *testing.T) *websocket.Conn {
	t.Helper()
	select {
	case conn := <-h.conns:
		return conn
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for client connection")
		return nil
	}
}

func readWithin(conn *websocket.Conn, v any, timeout time.Duration) error {
	conn.SetReadDeadline(time.Now().Add(timeout))
	return conn.ReadJSON(v)
}

func newTestLink(t *testing.T, h *wsHarness, provider *scriptedProvider, cfg Config) (*Link, *captureSink) {
	t.Helper()
	sink := &captureSink{}
	detector := flightlog.NewDetector(flightlog.DefaultThresholds(),
		flightlog.Identity{UserID: "1234567"}, sink, logger.NewNop())

	cfg.ServerURL = h.url()
	link := NewLink(cfg, Pilot{
		Name:        "Test Pilot",
		VatsimID:    "1234567",
		IvaoID:      "0",
		DepartureID: "CYYZ",
		ArrivalID:   "CYOW",
	}, provider, detector, logger.NewNop())

	require.NoError(t, link.Start(context.Background()))
	t.Cleanup(link.Stop)
	return link, sink
}

func TestLinkIdentifiesOnConnect(t *testing.T) {
	h := newWSHarness(t)
	provider := &scriptedProvider{}
	newTestLink(t, h, provider, Config{
		PollInterval:      5 * time.Millisecond,
		ReconnectDelay:    10 * time.Millisecond,
		HeartbeatInterval: 10 * time.Second,
	})

	conn := h.accept(t)
	var ident protocol.Identification
	require.NoError(t, readWithin(conn, &ident, 2*time.Second))

	assert.Equal(t, "Test Pilot", ident.PilotName)
	assert.Equal(t, "1234567", ident.VatsimID)
	assert.Equal(t, "CYYZ", ident.DepartureID)
	assert.Equal(t, 0, ident.PacketsSent)
}

func TestLinkSendsNothingUntilAuthorized(t *testing.T) {
	h := newWSHarness(t)
	provider := &scriptedProvider{autoInc: true}
	provider.set(telemetry.Snapshot{OnGround: 1, EngineCombustion: 1, TotalFuel: 3100})

	_, sink := newTestLink(t, h, provider, Config{
		PollInterval:      5 * time.Millisecond,
		ReconnectDelay:    10 * time.Millisecond,
		HeartbeatInterval: 20 * time.Millisecond,
	})

	conn := h.accept(t)
	var ident protocol.Identification
	require.NoError(t, readWithin(conn, &ident, 2*time.Second))

	// No start command sent: every changing snapshot must be suppressed.
	var msg protocol.Telemetry
	err := readWithin(conn, &msg, 150*time.Millisecond)
	assert.Error(t, err, "telemetry must not flow before authorization")

	// Detection ran the whole time regardless.
	assert.Contains(t, sink.names(), flightlog.EventEngineStart)
}

func TestLinkSuppressesUnchangedSnapshots(t *testing.T) {
	h := newWSHarness(t)
	provider := &scriptedProvider{}
	provider.set(telemetry.Snapshot{OnGround: 1, TotalFuel: 3100})

	newTestLink(t, h, provider, Config{
		PollInterval:      5 * time.Millisecond,
		ReconnectDelay:    10 * time.Millisecond,
		HeartbeatInterval: 10 * time.Second,
	})

	conn := h.accept(t)
	var ident protocol.Identification
	require.NoError(t, readWithin(conn, &ident, 2*time.Second))

	require.NoError(t, conn.WriteJSON(protocol.Control{Command: protocol.CommandStartTransmission}))

	// The first authorized poll establishes the baseline.
	var first protocol.Telemetry
	require.NoError(t, readWithin(conn, &first, 2*time.Second))
	assert.Equal(t, 1, first.PacketsSent)

	// Identical snapshots afterwards: nothing until the heartbeat, which is
	// far away.
	var msg protocol.Telemetry
	err := readWithin(conn, &msg, 150*time.Millisecond)
	assert.Error(t, err, "unchanged snapshots must be suppressed")

	// A material change goes out promptly.
	provider.set(telemetry.Snapshot{OnGround: 1, TotalFuel: 3050})
	require.NoError(t, readWithin(conn, &msg, 2*time.Second))
	assert.Equal(t, 3050.0, msg.TotalFuel)
	assert.Equal(t, 2, msg.PacketsSent)
}

func TestLinkHeartbeatResendsUnchangedSnapshot(t *testing.T) {
	h := newWSHarness(t)
	provider := &scriptedProvider{}
	provider.set(telemetry.Snapshot{OnGround: 1, TotalFuel: 3100})

	newTestLink(t, h, provider, Config{
		PollInterval:      5 * time.Millisecond,
		ReconnectDelay:    10 * time.Millisecond,
		HeartbeatInterval: 50 * time.Millisecond,
	})

	conn := h.accept(t)
	var ident protocol.Identification
	require.NoError(t, readWithin(conn, &ident, 2*time.Second))
	require.NoError(t, conn.WriteJSON(protocol.Control{Command: protocol.CommandStartTransmission}))

	var first, second protocol.Telemetry
	require.NoError(t, readWithin(conn, &first, 2*time.Second))
	require.NoError(t, readWithin(conn, &second, 2*time.Second))

	assert.Equal(t, first.TotalFuel, second.TotalFuel)
	assert.Equal(t, first.PacketsSent+1, second.PacketsSent)
}

func TestLinkStopCommandHaltsTransmission(t *testing.T) {
	h := newWSHarness(t)
	provider := &scriptedProvider{autoInc: true}
	provider.set(telemetry.Snapshot{OnGround: 1})

	newTestLink(t, h, provider, Config{
		PollInterval:      5 * time.Millisecond,
		ReconnectDelay:    10 * time.Millisecond,
		HeartbeatInterval: 10 * time.Second,
	})

	conn := h.accept(t)
	var ident protocol.Identification
	require.NoError(t, readWithin(conn, &ident, 2*time.Second))
	require.NoError(t, conn.WriteJSON(protocol.Control{Command: protocol.CommandStartTransmission}))

	var msg protocol.Telemetry
	require.NoError(t, readWithin(conn, &msg, 2*time.Second))

	require.NoError(t, conn.WriteJSON(protocol.Control{Command: protocol.CommandStopTransmission}))

	// Drain anything already in flight, then expect silence even though the
	// snapshots keep changing.
	for {
		if err := readWithin(conn, &msg, 100*time.Millisecond); err != nil {
			break
		}
	}
	err := readWithin(conn, &msg, 150*time.Millisecond)
	assert.Error(t, err, "telemetry must stop after the stop command")
}

func TestLinkReconnectsAndResendsBaseline(t *testing.T) {
	h := newWSHarness(t)
	provider := &scriptedProvider{}
	provider.set(telemetry.Snapshot{OnGround: 1, TotalFuel: 3100})

	newTestLink(t, h, provider, Config{
		PollInterval:      5 * time.Millisecond,
		ReconnectDelay:    10 * time.Millisecond,
		HeartbeatInterval: 10 * time.Second,
	})

	conn := h.accept(t)
	var ident protocol.Identification
	require.NoError(t, readWithin(conn, &ident, 2*time.Second))
	require.NoError(t, conn.WriteJSON(protocol.Control{Command: protocol.CommandStartTransmission}))

	var msg protocol.Telemetry
	require.NoError(t, readWithin(conn, &msg, 2*time.Second))

	// Kill the connection server-side; the client must redial and identify
	// again.
	conn.Close()
	conn2 := h.accept(t)

	var ident2 protocol.Identification
	require.NoError(t, readWithin(conn2, &ident2, 2*time.Second))
	assert.Equal(t, "Test Pilot", ident2.PilotName)
	assert.GreaterOrEqual(t, ident2.PacketsSent, 1, "counters survive reconnects")

	// Authorization did not survive the drop: silence until a new start.
	err := readWithin(conn2, &msg, 150*time.Millisecond)
	assert.Error(t, err)

	// After re-authorization the unchanged snapshot is sent again: the
	// delta baseline was reset with the connection.
	require.NoError(t, conn2.WriteJSON(protocol.Control{Command: protocol.CommandStartTransmission}))
	require.NoError(t, readWithin(conn2, &msg, 2*time.Second))
	assert.Equal(t, 3100.0, msg.TotalFuel)
}
