//go:build !linux

package main

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/kstaniek/go-flexcan/internal/sim"
)

func initSocketCANBackend(ctx context.Context, cfg *appConfig, bus *sim.Bus, l *slog.Logger, wg *sync.WaitGroup) (func(), error) {
	return func() {}, fmt.Errorf("socketcan backend unsupported on this platform")
}
