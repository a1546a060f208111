package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/kstaniek/go-flexcan/internal/can"
	"github.com/kstaniek/go-flexcan/internal/sim"
	"github.com/kstaniek/go-flexcan/internal/transport"
)

// sleepFn allows tests to intercept backoff sleeps.
var sleepFn = time.Sleep

// initBackend bridges the simulated bus to an external link. It returns a
// cleanup function and no error for backend "none".
func initBackend(ctx context.Context, cfg *appConfig, bus *sim.Bus, l *slog.Logger, wg *sync.WaitGroup) (func(), error) {
	switch cfg.backend {
	case "none":
		return func() {}, nil
	case "serial":
		return initSerialBackend(ctx, cfg, bus, l, wg)
	case "socketcan":
		return initSocketCANBackend(ctx, cfg, bus, l, wg)
	default:
		return func() {}, fmt.Errorf("unknown backend %q (use none|serial|socketcan)", cfg.backend)
	}
}

// bridge attaches link to bus and runs readLoop, feeding received frames to
// the bus, until ctx is done or the device is gone. Failed reads restart the
// loop after an exponential backoff.
func bridge(ctx context.Context, name string, bus *sim.Bus, link transport.Link, readLoop func(context.Context, func(can.Frame)) error, l *slog.Logger, wg *sync.WaitGroup) func() {
	port := bus.Attach(func(fr can.Frame) { _ = link.SendFrame(fr) })
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer l.Info(name + "_rx_end")
		backoff := rxBackoffMin
		for {
			err := readLoop(ctx, func(fr can.Frame) {
				bus.Broadcast(port, fr)
				backoff = rxBackoffMin
			})
			if ctx.Err() != nil || err == nil {
				return
			}
			var perr *os.PathError
			if errors.As(err, &perr) {
				l.Error(name+"_device_gone", "error", err)
				return
			}
			l.Warn(name+"_read_error", "error", err, "backoff", backoff)
			sleepFn(backoff)
			backoff *= 2
			if backoff > rxBackoffMax {
				backoff = rxBackoffMax
			}
		}
	}()
	return func() {
		bus.Remove(port)
		link.Close()
		st := link.Stats()
		l.Info(name+"_link_closed", "written", st.Written, "failed", st.Failed,
			"dropped", st.Dropped, "rejected", st.Rejected, "high_water", st.HighWater)
	}
}
