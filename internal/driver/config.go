package driver

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/kstaniek/go-flexcan/internal/flexcan"
	"github.com/kstaniek/go-flexcan/internal/rxqueue"
	"github.com/kstaniek/go-flexcan/internal/timing"
)

// Config tunes the driver. The zero value is not usable; start from
// DefaultConfig.
type Config struct {
	// HandshakeTimeout bounds every mode transition and transmit completion.
	HandshakeTimeout time.Duration
	// QueueCapacity is the reception queue depth per instance.
	QueueCapacity int
	// TimestampHz is the rate of the peripheral timestamp counter; 0 means
	// it runs at the reference clock rate.
	TimestampHz uint32
	// Bus is the bit timing and transceiver delay compensation.
	Bus flexcan.Config
	// Logger receives lifecycle events; nil uses the global logger.
	Logger *slog.Logger
}

// DefaultConfig returns the settings of the reference board.
func DefaultConfig() Config {
	return Config{
		HandshakeTimeout: timing.DefaultTimeout,
		QueueCapacity:    rxqueue.DefaultCapacity,
		Bus:              flexcan.DefaultConfig(),
	}
}

func (c Config) validate() error {
	if c.HandshakeTimeout <= 0 {
		return fmt.Errorf("%w: handshake timeout %v", ErrBadArgument, c.HandshakeTimeout)
	}
	if c.QueueCapacity <= 0 {
		return fmt.Errorf("%w: queue capacity %d", ErrBadArgument, c.QueueCapacity)
	}
	if !c.Bus.Nominal.Valid() || !c.Bus.Data.Valid() {
		return fmt.Errorf("%w: bit timing out of range", ErrBadArgument)
	}
	return nil
}
