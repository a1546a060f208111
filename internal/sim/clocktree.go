package sim

import "sync"

// DefaultRefHz is the peripheral clock the clock tree reports once running.
const DefaultRefHz = 80_000_000

// ClockTree models the system clock generator and the peripheral clock gates.
type ClockTree struct {
	mu          sync.Mutex
	Hz          uint32
	initialized bool
	timer       bool
	flexcan     map[int]bool

	// InitErr, when set, is returned by Init.
	InitErr error
}

// NewClockTree returns an uninitialized clock tree running at DefaultRefHz.
func NewClockTree() *ClockTree { return &ClockTree{Hz: DefaultRefHz, flexcan: make(map[int]bool)} }

// Init brings up the oscillators and returns the peripheral clock rate.
func (c *ClockTree) Init() (uint32, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.InitErr != nil {
		return 0, c.InitErr
	}
	c.initialized = true
	return c.Hz, nil
}

func (c *ClockTree) GateTimer(on bool) { c.mu.Lock(); c.timer = on; c.mu.Unlock() }

func (c *ClockTree) GateFlexCAN(instance int, on bool) {
	c.mu.Lock()
	c.flexcan[instance] = on
	c.mu.Unlock()
}

// TimerGated reports whether the timer clock gate is open.
func (c *ClockTree) TimerGated() bool { c.mu.Lock(); defer c.mu.Unlock(); return c.timer }

// FlexCANGated reports whether the clock gate of instance is open.
func (c *ClockTree) FlexCANGated(instance int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.flexcan[instance]
}

// Initialized reports whether Init succeeded.
func (c *ClockTree) Initialized() bool { c.mu.Lock(); defer c.mu.Unlock(); return c.initialized }
