//go:build linux

package main

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/kstaniek/go-flexcan/internal/can"
	"github.com/kstaniek/go-flexcan/internal/sim"
	"github.com/kstaniek/go-flexcan/internal/socketcan"
)

// openSocketCANDevice is a hook for tests.
var openSocketCANDevice = func(iface string) (socketcan.Dev, error) { return socketcan.Open(iface) }

// initSocketCANBackend bridges the bus to a CAN-FD capable interface.
func initSocketCANBackend(ctx context.Context, cfg *appConfig, bus *sim.Bus, l *slog.Logger, wg *sync.WaitGroup) (func(), error) {
	dev, err := openSocketCANDevice(cfg.canIf)
	if err != nil {
		return func() {}, fmt.Errorf("socketcan open %s: %w", cfg.canIf, err)
	}
	l.Info("socketcan_open", "if", cfg.canIf)
	tw := socketcan.NewTXWriter(ctx, dev, txQueueSize)
	read := func(ctx context.Context, out func(can.Frame)) error { return socketcan.ReadLoop(ctx, dev, out) }
	stop := bridge(ctx, "socketcan", bus, tw, read, l, wg)
	return func() { _ = dev.Close(); stop() }, nil
}
