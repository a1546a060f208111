package main

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kstaniek/go-flexcan/internal/can"
	"github.com/kstaniek/go-flexcan/internal/logging"
	"github.com/kstaniek/go-flexcan/internal/sim"
)

func TestBounceAdd(t *testing.T) {
	fr := bounceFrame(0xC0FFE, 0x00000000FFFFFFFF)
	bounceAdd(&fr)
	if got := bounceCounter(&fr); got != 0x0000000100000000 {
		t.Fatalf("counter %#x", got)
	}
	if fr.Data[59] != 1 || fr.Data[60] != 0 {
		t.Fatalf("carry not big-endian: % X", fr.Data[56:])
	}
	if fr.Len != can.MaxDataLen || fr.ID != 0xC0FFE {
		t.Fatalf("frame %+v", fr)
	}
}

func TestBounceAddWidensShortFrame(t *testing.T) {
	fr, _ := can.NewFrame(1, []byte{1, 2})
	bounceAdd(&fr)
	if fr.Len != can.MaxDataLen || bounceCounter(&fr) != 1 || fr.Data[0] != 1 {
		t.Fatalf("frame %+v", fr)
	}
}

func TestRolesFor(t *testing.T) {
	if r := rolesFor("a"); len(r) != 1 || !r[0].kickstart || r[0].peer != roleB.self {
		t.Fatalf("role a %+v", r)
	}
	if r := rolesFor("b"); len(r) != 1 || r[0].kickstart || r[0].peer != roleA.self {
		t.Fatalf("role b %+v", r)
	}
	if r := rolesFor("pair"); len(r) != 2 || r[0].name != "b" {
		t.Fatalf("pair %+v", r)
	}
}

func TestPairBounces(t *testing.T) {
	cfg := defaultConfig()
	cfg.progressEvery = 5
	bus := sim.NewBus()
	l := logging.Discard()
	nodes, err := startNodes(cfg, bus, l)
	if err != nil {
		t.Fatalf("startNodes: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	var highest atomic.Uint64
	var wg sync.WaitGroup
	errs := make(chan error, len(nodes))
	for _, n := range nodes {
		wg.Add(1)
		go func(n *node) {
			defer wg.Done()
			errs <- n.bounce(ctx, cfg.progressEvery, func(c uint64) {
				if c > highest.Load() {
					highest.Store(c)
				}
			})
		}(n)
	}
	deadline := time.Now().Add(5 * time.Second)
	for highest.Load() < 20 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("bounce: %v", err)
		}
	}
	stopNodes(nodes, l)
	bus.Close()
	if got := highest.Load(); got < 20 {
		t.Fatalf("counter reached %d, want >= 20", got)
	}
	// Every node runs only its own instance on the bus.
	for _, n := range nodes {
		for i, f := range n.board.CAN {
			if i != cfg.instance && len(f.Sent()) != 0 {
				t.Fatalf("node %s instance %d transmitted", n.role.name, i)
			}
		}
	}
}
