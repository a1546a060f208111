package sim

import "sync"

// NVIC models the interrupt controller. A handler never runs concurrently
// with itself, matching a single-priority interrupt line.
type NVIC struct {
	mu    sync.Mutex
	lines map[int]*irqLine
}

type irqLine struct {
	mu      sync.Mutex
	handler func()
	enabled bool
}

// NewNVIC returns a controller with every line disabled.
func NewNVIC() *NVIC { return &NVIC{lines: make(map[int]*irqLine)} }

func (n *NVIC) line(irq int) *irqLine {
	n.mu.Lock()
	defer n.mu.Unlock()
	l, ok := n.lines[irq]
	if !ok {
		l = &irqLine{}
		n.lines[irq] = l
	}
	return l
}

// Register installs handler for irq, replacing any previous one.
func (n *NVIC) Register(irq int, handler func()) {
	l := n.line(irq)
	l.mu.Lock()
	l.handler = handler
	l.mu.Unlock()
}

func (n *NVIC) Enable(irq int) {
	l := n.line(irq)
	l.mu.Lock()
	l.enabled = true
	l.mu.Unlock()
}

func (n *NVIC) Disable(irq int) {
	l := n.line(irq)
	l.mu.Lock()
	l.enabled = false
	l.mu.Unlock()
}

// Enabled reports whether irq is enabled.
func (n *NVIC) Enabled(irq int) bool {
	l := n.line(irq)
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.enabled
}

// Raise runs the handler of irq in the caller's goroutine if the line is
// enabled. It reports whether a handler ran.
func (n *NVIC) Raise(irq int) bool {
	l := n.line(irq)
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.enabled || l.handler == nil {
		return false
	}
	l.handler()
	return true
}
