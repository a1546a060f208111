// Package transport holds the plumbing shared by the external bus links.
package transport

import "github.com/kstaniek/go-flexcan/internal/can"

// FrameSink is a CAN frame transmission target.
type FrameSink interface {
	SendFrame(can.Frame) error
}

// Link is an external connection that frames from the simulated bus are
// forwarded to.
type Link interface {
	FrameSink
	Stats() Stats
	Close()
}
