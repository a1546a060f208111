package driver

import (
	"errors"

	"github.com/kstaniek/go-flexcan/internal/flexcan"
	"github.com/kstaniek/go-flexcan/internal/metrics"
	"github.com/kstaniek/go-flexcan/internal/timing"
)

// Errors returned by the driver. Classify with errors.Is; a handshake timeout
// matches both ErrFailure and ErrTimeout.
var (
	ErrBadArgument    = flexcan.ErrBadArgument
	ErrBufferFull     = errors.New("no free transmit buffer")
	ErrTimeout        = timing.ErrTimeout
	ErrFailure        = flexcan.ErrFailure
	ErrNotStarted     = errors.New("interface group not started")
	ErrAlreadyStarted = errors.New("interface group already started")
)

// errorLabel maps a driver error to its metrics label.
func errorLabel(err error) string {
	switch {
	case errors.Is(err, ErrBadArgument):
		return metrics.ErrBadArgument
	case errors.Is(err, ErrNotStarted), errors.Is(err, ErrAlreadyStarted):
		return metrics.ErrNotStarted
	case errors.Is(err, ErrBufferFull):
		return metrics.ErrTxBufferFull
	}
	return metrics.ErrHandshake
}

func countErr(err error) error {
	if err != nil {
		metrics.IncError(errorLabel(err))
	}
	return err
}
