package main

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/kstaniek/go-flexcan/internal/can"
	"github.com/kstaniek/go-flexcan/internal/serial"
	"github.com/kstaniek/go-flexcan/internal/sim"
)

// openSerialPort is a hook for tests.
var openSerialPort = serial.Open

// initSerialBackend bridges the bus to a USB-CAN adapter. The adapter is
// classic CAN, so longer frames are counted as malformed and not sent.
func initSerialBackend(ctx context.Context, cfg *appConfig, bus *sim.Bus, l *slog.Logger, wg *sync.WaitGroup) (func(), error) {
	sp, err := openSerialPort(cfg.serialDev, cfg.baud, cfg.serialReadTO)
	if err != nil {
		return func() {}, fmt.Errorf("open serial: %w", err)
	}
	l.Info("serial_open", "device", cfg.serialDev, "baud", cfg.baud)
	w := serial.NewTXWriter(ctx, sp, txQueueSize)
	read := func(ctx context.Context, out func(can.Frame)) error { return serial.ReadLoop(ctx, sp, out) }
	stop := bridge(ctx, "serial", bus, w, read, l, wg)
	return func() { _ = sp.Close(); stop() }, nil
}
