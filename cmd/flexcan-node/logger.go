package main

import (
	"io"
	"log/slog"
	"os"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/kstaniek/go-flexcan/internal/logging"
)

// setupLogger installs the global logger. With cfg.logFile set, records are
// also written to a size-rotated file; the returned closer flushes it.
func setupLogger(cfg *appConfig) (*slog.Logger, io.Closer) {
	lvl, err := logging.ParseLevel(cfg.logLevel)
	if err != nil {
		lvl = slog.LevelInfo
	}
	var w io.Writer = os.Stderr
	var closer io.Closer = nopCloser{}
	if cfg.logFile != "" {
		rotator := &lumberjack.Logger{
			Filename:   cfg.logFile,
			MaxSize:    cfg.logMaxSizeMB,
			MaxBackups: cfg.logMaxBackups,
			Compress:   true,
		}
		w = io.MultiWriter(os.Stderr, rotator)
		closer = rotator
	}
	l := logging.New(cfg.logFormat, lvl, w).With("app", "flexcan-node")
	logging.Set(l)
	return l, closer
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
