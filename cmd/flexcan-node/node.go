package main

import (
	"fmt"
	"log/slog"

	"github.com/kstaniek/go-flexcan/internal/can"
	"github.com/kstaniek/go-flexcan/internal/driver"
	"github.com/kstaniek/go-flexcan/internal/sim"
)

// nodeMask selects the 20 identifier bits the demo nodes filter on.
const nodeMask = 0xFFFFF

// nodeRole names a bounce endpoint: frames addressed to self are accepted,
// replies go to peer.
type nodeRole struct {
	name       string
	self, peer uint32
	kickstart  bool
}

var (
	roleA = nodeRole{name: "a", self: 0xC0C0A, peer: 0xC0FFE, kickstart: true}
	roleB = nodeRole{name: "b", self: 0xC0FFE, peer: 0xC0C0A}
)

// rolesFor returns the nodes run by this process. In pair mode B comes first
// so it is listening before A kick-starts.
func rolesFor(role string) []nodeRole {
	switch role {
	case "a":
		return []nodeRole{roleA}
	case "b":
		return []nodeRole{roleB}
	}
	return []nodeRole{roleB, roleA}
}

// node is one simulated board running the driver with a single instance on
// the shared bus.
type node struct {
	role     nodeRole
	board    *sim.Board
	mgr      *driver.Manager
	group    *driver.Group
	instance int
	logger   *slog.Logger
}

func driverConfig(cfg *appConfig, l *slog.Logger) driver.Config {
	dc := driver.DefaultConfig()
	dc.Bus = cfg.bus
	dc.HandshakeTimeout = cfg.handshakeTO
	dc.QueueCapacity = cfg.queueCapacity
	dc.Logger = l
	return dc
}

// startNode builds a board, connects the bounce instance to bus and starts
// the interface group with the configured filters, or an exact match on the
// node's own identifier when none are configured.
func startNode(r nodeRole, cfg *appConfig, bus *sim.Bus, clk sim.Clock, l *slog.Logger) (*node, error) {
	l = l.With("node", r.name)
	b := sim.NewBoard(cfg.instances, clk)
	b.CAN[cfg.instance].Connect(bus)
	p := driver.Platform{Clocks: b.Clocks, Timer: b.Timer, IRQ: b.NVIC, CAN: b.Registers()}
	m, err := driver.NewManager(p, driverConfig(cfg, l))
	if err != nil {
		return nil, fmt.Errorf("node %s: %w", r.name, err)
	}
	filters := cfg.filters
	if len(filters) == 0 {
		filters = []can.Filter{{ID: r.self, Mask: nodeMask}}
	}
	g, err := m.Start(filters)
	if err != nil {
		return nil, fmt.Errorf("node %s start: %w", r.name, err)
	}
	l.Info("node_started", "self", fmt.Sprintf("0x%X", r.self), "peer", fmt.Sprintf("0x%X", r.peer),
		"instance", cfg.instance, "filters", len(filters), "max_filters", m.MaxFrameFilters())
	return &node{role: r, board: b, mgr: m, group: g, instance: cfg.instance, logger: l}, nil
}

func (n *node) stop() error {
	if err := n.mgr.Stop(n.group); err != nil {
		return fmt.Errorf("node %s stop: %w", n.role.name, err)
	}
	n.logger.Info("node_stopped")
	return nil
}
