// Package driver is the public face of the FlexCAN driver: a Manager that
// brings the peripherals up and down and the Group handle used to send,
// receive, wait and reprogram filters.
package driver

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/kstaniek/go-flexcan/internal/can"
	"github.com/kstaniek/go-flexcan/internal/flexcan"
	"github.com/kstaniek/go-flexcan/internal/logging"
	"github.com/kstaniek/go-flexcan/internal/metrics"
	"github.com/kstaniek/go-flexcan/internal/rxqueue"
	"github.com/kstaniek/go-flexcan/internal/timing"
)

// resetPolls bounds the check that a timer reset took effect.
const resetPolls = 1000

// Manager owns the lifecycle of the single interface group of a platform.
type Manager struct {
	mu     sync.Mutex
	p      Platform
	cfg    Config
	logger *slog.Logger
	group  *Group
}

// NewManager validates p and cfg and returns a stopped manager.
func NewManager(p Platform, cfg Config) (*Manager, error) {
	if err := p.validate(); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	l := cfg.Logger
	if l == nil {
		l = logging.L()
	}
	return &Manager{p: p, cfg: cfg, logger: l.With("component", "flexcan")}, nil
}

// MaxFrameFilters returns the number of acceptance filters each instance
// holds.
func (m *Manager) MaxFrameFilters() int { return flexcan.FilterCount }

// Start brings up the clock tree, the reference timer and every instance,
// installs filters and returns the group handle. filters[j] is bound to
// receive slot j+2 of every instance. A failure part-way disables the
// instances already brought up and stops the reference timer; Start may be
// retried.
func (m *Manager) Start(filters []can.Filter) (*Group, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.group != nil {
		return nil, countErr(ErrAlreadyStarted)
	}
	if len(filters) > flexcan.FilterCount {
		return nil, countErr(fmt.Errorf("%w: %d filters, max %d", ErrBadArgument, len(filters), flexcan.FilterCount))
	}
	hz, err := m.p.Clocks.Init()
	if err != nil {
		return nil, countErr(fmt.Errorf("clock tree: %w: %w", ErrFailure, err))
	}

	g, err := m.startTimer(hz)
	if err != nil {
		metrics.IncError(metrics.ErrTimerInit)
		m.logger.Error("timer_start_failed", "error", err)
		if terr := m.stopTimer(); terr != nil {
			m.logger.Error("timer_stop_failed", "error", terr)
		}
		return nil, err
	}
	for i, regs := range m.p.CAN {
		in, err := m.startInstance(g, i, regs, filters)
		if err != nil {
			m.logger.Error("flexcan_start_failed", "instance", i, "error", err)
			// The failing instance may be half configured; take it down too.
			failed := &instance{id: i, regs: regs, state: stateFaulted}
			if terr := m.teardown(g, append(g.inst, failed)); terr != nil {
				m.logger.Error("flexcan_start_rollback_failed", "error", terr)
			}
			g.inst = nil
			return nil, countErr(fmt.Errorf("instance %d: %w", i, err))
		}
		g.inst = append(g.inst, in)
	}
	g.started.Store(true)
	m.group = g
	metrics.SetGroupStarted(true)
	m.logger.Info("flexcan_started",
		"instances", len(g.inst),
		"filters", len(filters),
		"nominal_bps", m.cfg.Bus.Nominal.Bitrate(hz),
		"data_bps", m.cfg.Bus.Data.Bitrate(hz),
	)
	return g, nil
}

// startTimer brings up the reference clock on the chained low/high channels
// and the two wait channels, and checks the reference is counting.
func (m *Manager) startTimer(hz uint32) (*Group, error) {
	m.p.Clocks.GateTimer(true)
	t := m.p.Timer
	t.Enable()
	lo, hi := t.Channel(timing.ChannelRefLow), t.Channel(timing.ChannelRefHigh)
	lo.Load(timing.CounterMax)
	hi.Load(timing.CounterMax)
	t.Chain(timing.ChannelRefHigh)
	lo.Start()
	hi.Start()

	handshake := timing.NewWaiter(t.Channel(timing.ChannelHandshake), hz)
	handshake.Timeout = m.cfg.HandshakeTimeout
	sel := timing.NewWaiter(t.Channel(timing.ChannelSelect), hz)
	sel.Timeout = m.cfg.HandshakeTimeout

	if err := handshake.Wait(handshake.Timeout, func() bool { return lo.Value() != timing.CounterMax }); err != nil {
		return nil, fmt.Errorf("reference timer not counting: %w: %w", ErrFailure, err)
	}
	return &Group{
		prog:      flexcan.NewProgrammer(handshake),
		handshake: handshake,
		sel:       sel,
		clock:     timing.NewClock(lo, hi, hz, m.cfg.TimestampHz),
		logger:    m.logger,
	}, nil
}

func (m *Manager) startInstance(g *Group, i int, regs flexcan.Registers, filters []can.Filter) (*instance, error) {
	m.p.Clocks.GateFlexCAN(i, true)
	prod, cons := rxqueue.New(m.cfg.QueueCapacity)
	in := &instance{id: i, regs: regs, rx: cons, state: stateFrozen}
	if err := g.prog.Configure(regs, m.cfg.Bus, filters); err != nil {
		return nil, err
	}
	line := m.p.irqLine(i)
	m.p.IRQ.Register(line, flexcan.NewPipeline(i, regs, g.clock, prod).Handle)
	m.p.IRQ.Enable(line)
	if err := g.prog.Unfreeze(regs); err != nil {
		return nil, err
	}
	in.state = stateOperating
	m.logger.Debug("flexcan_instance_up", "instance", i, "irq", line)
	return in, nil
}

// Stop disables every instance, waiting for low-power acknowledge before
// gating its clock, then resets and gates the reference timer. The group is
// unusable afterwards, even when an error is returned; the first error is
// returned after every step has been attempted.
func (m *Manager) Stop(g *Group) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if g == nil || g != m.group {
		return countErr(ErrNotStarted)
	}
	g.started.Store(false)
	m.group = nil
	metrics.SetGroupStarted(false)

	if err := m.teardown(g, g.inst); err != nil {
		return countErr(err)
	}
	m.logger.Info("flexcan_stopped", "instances", len(g.inst))
	return nil
}

// teardown masks the interrupt line of each instance in insts, disables it
// and gates its clock once low power is acknowledged, then stops the
// reference timer. Every step is attempted; the first error is returned.
func (m *Manager) teardown(g *Group, insts []*instance) error {
	var firstErr error
	for _, in := range insts {
		m.p.IRQ.Disable(m.p.irqLine(in.id))
		if err := g.prog.Disable(in.regs); err != nil {
			in.state = stateFaulted
			m.logger.Error("flexcan_disable_failed", "instance", in.id, "error", err)
			if firstErr == nil {
				firstErr = fmt.Errorf("instance %d: %w", in.id, err)
			}
			continue
		}
		m.p.Clocks.GateFlexCAN(in.id, false)
	}
	if err := m.stopTimer(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

// stopTimer resets the timer module, checks the reset took effect and gates
// its clock.
func (m *Manager) stopTimer() error {
	t := m.p.Timer
	t.Reset()
	lo := t.Channel(timing.ChannelRefLow)
	for i := 0; i < resetPolls; i++ {
		if lo.Value() == timing.CounterMax {
			t.Disable()
			m.p.Clocks.GateTimer(false)
			return nil
		}
	}
	return fmt.Errorf("timer reset: %w", ErrFailure)
}
