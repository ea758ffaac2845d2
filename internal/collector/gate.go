package collector

import (
	"context"
	"sync"
	"time"

	"github.com/kafly/skymetrics/internal/presence"
	"github.com/kafly/skymetrics/internal/protocol"
	"github.com/kafly/skymetrics/pkg/logger"
)

// Member is the gate's view of an identified session.
type Member interface {
	SessionID() string
	PilotName() string
	Identity() presence.Identity
	Authorized() bool
	CommandSent() bool
	Authorize()
	Revoke()
	MarkChecked(at time.Time)
	SendControl(command string) error
	Close()
}

// Roster lists the identified sessions the gate supervises.
type Roster interface {
	Members() []Member
}

// Checker decides whether a pilot is present on an online network.
type Checker interface {
	Check(ctx context.Context, ident presence.Identity) presence.Result
}

// CommandRecorder persists the audit trail of issued control commands.
type CommandRecorder interface {
	StoreCommand(sessionID, command string, sentAt time.Time) error
}

// Gate enforces the presence policy: a session may transmit only while its
// pilot is connected to one of the online networks. The start command is
// issued at most once per connection; a pilot confirmed absent afterwards has
// the connection closed and must reconnect to be re-admitted.
type Gate struct {
	checker  Checker
	roster   Roster
	commands CommandRecorder
	interval time.Duration
	logger   *logger.Logger

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	mu        sync.Mutex
	lastSweep time.Time
	sweeps    int
	now       func() time.Time
}

// NewGate creates a presence gate sweeping at the given interval.
func NewGate(checker Checker, roster Roster, commands CommandRecorder, interval time.Duration, log *logger.Logger) *Gate {
	if interval <= 0 {
		interval = 120 * time.Second
	}
	return &Gate{
		checker:  checker,
		roster:   roster,
		commands: commands,
		interval: interval,
		logger:   log.Named("presence-gate"),
		stopCh:   make(chan struct{}),
		now:      time.Now,
	}
}

// Start launches the periodic sweep. The loop ticks every second but a sweep
// only runs when sessions exist and the interval has elapsed since the last
// one, so an empty collector does not poll the rosters.
func (g *Gate) Start(ctx context.Context) error {
	g.logger.Info("Starting presence gate",
		logger.Duration("interval", g.interval))

	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		ticker := time.NewTicker(1 * time.Second)
		defer ticker.Stop()

		for {
			select {
			case <-g.stopCh:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				members := g.roster.Members()
				if len(members) == 0 {
					continue
				}
				g.mu.Lock()
				due := g.now().Sub(g.lastSweep) >= g.interval
				g.mu.Unlock()
				if !due {
					continue
				}
				g.Sweep(ctx, members)
			}
		}
	}()
	return nil
}

// Stop terminates the sweep loop. Idempotent.
func (g *Gate) Stop() {
	g.stopOnce.Do(func() {
		close(g.stopCh)
		g.wg.Wait()
	})
}

// SweepStats reports the number of completed sweeps and when the last one
// ran (zero time if none yet).
func (g *Gate) SweepStats() (count int, last time.Time) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.sweeps, g.lastSweep
}

// Admit runs the presence decision for a freshly identified session. There
// is no prior authorization state to preserve, so anything short of a
// confirmed sighting rejects the connection; the client's reconnect loop
// retries naturally.
func (g *Gate) Admit(ctx context.Context, m Member) {
	result := g.checker.Check(ctx, m.Identity())
	m.MarkChecked(g.now())
	switch result {
	case presence.Found:
		g.authorize(m)
	case presence.Absent:
		g.logger.Info("Rejecting session: pilot not found on any network",
			logger.String("session_id", m.SessionID()),
			logger.String("pilot", m.PilotName()))
		m.Close()
	case presence.Unknown:
		g.logger.Warn("Rejecting session: presence could not be determined",
			logger.String("session_id", m.SessionID()),
			logger.String("pilot", m.PilotName()))
		m.Close()
	}
}

// Sweep re-verifies every identified session. Confirmed absence closes the
// connection; an indeterminate roster read keeps the current authorization
// so a flaky network API cannot disconnect a legitimate pilot.
func (g *Gate) Sweep(ctx context.Context, members []Member) {
	g.mu.Lock()
	g.lastSweep = g.now()
	g.sweeps++
	g.mu.Unlock()

	g.logger.Debug("Sweeping sessions", logger.Int("count", len(members)))

	for _, m := range members {
		select {
		case <-g.stopCh:
			return
		case <-ctx.Done():
			return
		default:
		}

		result := g.checker.Check(ctx, m.Identity())
		m.MarkChecked(g.now())
		switch result {
		case presence.Found:
			if !m.CommandSent() {
				g.authorize(m)
			}
		case presence.Absent:
			g.logger.Info("Pilot no longer present on any network, closing session",
				logger.String("session_id", m.SessionID()),
				logger.String("pilot", m.PilotName()))
			m.Revoke()
			m.Close()
		case presence.Unknown:
			g.logger.Warn("Presence indeterminate, keeping current authorization",
				logger.String("session_id", m.SessionID()),
				logger.String("pilot", m.PilotName()),
				logger.Bool("authorized", m.Authorized()))
		}
	}
}

func (g *Gate) authorize(m Member) {
	m.Authorize()
	if err := m.SendControl(protocol.CommandStartTransmission); err != nil {
		g.logger.Warn("Failed to send start command",
			logger.String("session_id", m.SessionID()),
			logger.Error(err))
		m.Close()
		return
	}

	g.logger.Info("Transmission authorized",
		logger.String("session_id", m.SessionID()),
		logger.String("pilot", m.PilotName()))

	if g.commands != nil {
		if err := g.commands.StoreCommand(m.SessionID(), protocol.CommandStartTransmission, g.now()); err != nil {
			g.logger.Warn("Failed to record command", logger.Error(err))
		}
	}
}
