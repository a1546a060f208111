package sim

import (
	"sync"

	"github.com/kstaniek/go-flexcan/internal/can"
	"github.com/kstaniek/go-flexcan/internal/logging"
	"github.com/kstaniek/go-flexcan/internal/metrics"
)

// DefaultPortBuffer is the per-port queue depth of a Bus.
const DefaultPortBuffer = 256

// Port is one attachment to the bus: a simulated controller or an external
// link. Frames broadcast by other ports arrive on Out.
type Port struct {
	Out       chan can.Frame
	Closed    chan struct{}
	closeOnce sync.Once
}

// Close signals the port is closed (idempotent).
func (p *Port) Close() {
	p.closeOnce.Do(func() {
		close(p.Closed)
	})
}

// Bus is a broadcast medium between ports. A slow port drops frames instead
// of stalling the sender, like a controller that misses frames on overload.
type Bus struct {
	mu      sync.RWMutex
	ports   map[*Port]struct{}
	wg      sync.WaitGroup
	OutSize int
}

// NewBus creates an empty bus.
func NewBus() *Bus { return &Bus{ports: make(map[*Port]struct{}), OutSize: DefaultPortBuffer} }

// Add registers a port with the bus.
func (b *Bus) Add(p *Port) {
	b.mu.Lock()
	b.ports[p] = struct{}{}
	n := len(b.ports)
	b.mu.Unlock()
	metrics.SetBusPorts(n)
}

// Remove unregisters and closes a port; safe to call multiple times.
func (b *Bus) Remove(p *Port) {
	b.mu.Lock()
	delete(b.ports, p)
	n := len(b.ports)
	b.mu.Unlock()
	p.Close()
	metrics.SetBusPorts(n)
}

// Attach adds a port and starts a goroutine handing every frame it receives
// to deliver, until the port is removed.
func (b *Bus) Attach(deliver func(can.Frame)) *Port {
	p := &Port{Out: make(chan can.Frame, b.OutSize), Closed: make(chan struct{})}
	b.Add(p)
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		for {
			select {
			case fr := <-p.Out:
				deliver(fr)
			case <-p.Closed:
				return
			}
		}
	}()
	return p
}

// Broadcast offers fr to every port except from.
func (b *Bus) Broadcast(from *Port, fr can.Frame) {
	ports := b.Snapshot()
	fanout, max, sum := 0, 0, 0
	for _, p := range ports {
		if p == from {
			continue
		}
		fanout++
		l := len(p.Out)
		if l > max {
			max = l
		}
		sum += l
		select {
		case p.Out <- fr:
		case <-p.Closed:
		default:
			metrics.IncBusDrop()
		}
	}
	metrics.SetBroadcastFanout(fanout)
	if fanout > 0 {
		metrics.SetQueueDepth(max, sum/fanout)
	}
}

// Snapshot returns a copy of the attached ports.
func (b *Bus) Snapshot() []*Port {
	b.mu.RLock()
	ports := make([]*Port, 0, len(b.ports))
	for p := range b.ports {
		ports = append(ports, p)
	}
	b.mu.RUnlock()
	return ports
}

// Count returns the number of attached ports.
func (b *Bus) Count() int { b.mu.RLock(); n := len(b.ports); b.mu.RUnlock(); return n }

// Close removes every port and waits for the delivery goroutines to exit.
func (b *Bus) Close() {
	for _, p := range b.Snapshot() {
		b.Remove(p)
	}
	b.wg.Wait()
	logging.L().Debug("bus_closed")
}
