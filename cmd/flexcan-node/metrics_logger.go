package main

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/kstaniek/go-flexcan/internal/metrics"
)

func startMetricsLogger(ctx context.Context, interval time.Duration, l *slog.Logger, wg *sync.WaitGroup) {
	if interval <= 0 {
		return
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-t.C:
				snap := metrics.Snap()
				l.Info("metrics_snapshot",
					"tx", snap.Tx,
					"rx", snap.Rx,
					"rx_discarded", snap.Discarded,
					"rx_ignored", snap.Ignored,
					"filter_reconfigs", snap.Reconfigs,
					"bus_drops", snap.BusDrops,
					"link_rx", snap.LinkRx,
					"link_tx", snap.LinkTx,
					"malformed", snap.Malformed,
					"errors", snap.Errors,
				)
			case <-ctx.Done():
				return
			}
		}
	}()
}
