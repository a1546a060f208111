package flexcan

import "errors"

var (
	// ErrBadArgument reports an argument outside what the hardware can hold.
	ErrBadArgument = errors.New("bad argument")
	// ErrFailure reports a hardware handshake that did not complete.
	ErrFailure = errors.New("hardware failure")
)
