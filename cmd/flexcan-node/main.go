package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"

	"github.com/kstaniek/go-flexcan/internal/metrics"
	"github.com/kstaniek/go-flexcan/internal/sim"
)

func main() {
	cfg, showVersion := parseFlags()
	if showVersion {
		fmt.Printf("flexcan-node %s (commit %s, built %s)\n", version, commit, date)
		return
	}
	if cfg == nil {
		os.Exit(2)
	}
	l, logCloser := setupLogger(cfg)
	defer func() { _ = logCloser.Close() }()
	l.Info("build_info", "version", version, "commit", commit, "date", date)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var wg sync.WaitGroup
	startMetricsLogger(ctx, cfg.logMetricsEvery, l, &wg)

	bus := sim.NewBus()
	cleanup, err := initBackend(ctx, cfg, bus, l, &wg)
	if err != nil {
		l.Error("backend_init_error", "error", err)
		return
	}

	nodes, err := startNodes(cfg, bus, l)
	if err != nil {
		l.Error("node_start_error", "error", err)
		cleanup()
		bus.Close()
		return
	}
	var running atomic.Int32
	for _, n := range nodes {
		running.Add(1)
		wg.Add(1)
		go func(n *node) {
			defer wg.Done()
			defer running.Add(-1)
			if err := n.bounce(ctx, cfg.progressEvery, nil); err != nil {
				n.logger.Error("bounce_stopped", "error", err)
			}
		}(n)
	}

	metrics.SetReadinessFunc(func() bool {
		return ctx.Err() == nil && int(running.Load()) == len(nodes)
	})
	if cfg.metricsAddr != "" {
		metrics.InitBuildInfo(version, commit, date)
		srvHTTP := metrics.StartHTTP(cfg.metricsAddr)
		defer func() { _ = srvHTTP.Shutdown(context.Background()) }()
		if port := portOf(cfg.metricsAddr); port > 0 {
			cleanupMDNS, err := startMDNS(ctx, cfg, port)
			if err != nil {
				l.Warn("mdns_start_failed", "error", err)
			} else {
				if cfg.mdnsEnable {
					l.Info("mdns_started", "service", mdnsServiceType, "name", cfg.mdnsName, "port", port)
				}
				defer cleanupMDNS()
			}
		}
	}

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	s := <-sigCh
	l.Info("shutdown_signal", "signal", s.String())
	cancel()
	cleanup()
	wg.Wait()
	stopNodes(nodes, l)
	bus.Close()
}

// startNodes starts every node of the configured role, stopping those
// already started if one fails.
func startNodes(cfg *appConfig, bus *sim.Bus, l *slog.Logger) ([]*node, error) {
	clk := sim.NewRealClock()
	var nodes []*node
	for _, r := range rolesFor(cfg.role) {
		n, err := startNode(r, cfg, bus, clk, l)
		if err != nil {
			stopNodes(nodes, l)
			return nil, err
		}
		nodes = append(nodes, n)
	}
	return nodes, nil
}

func stopNodes(nodes []*node, l *slog.Logger) {
	for _, n := range nodes {
		if err := n.stop(); err != nil {
			l.Error("node_stop_error", "error", err)
		}
	}
}
