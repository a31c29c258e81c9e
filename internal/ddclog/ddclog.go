// Package ddclog wires the engine's logging policy: the core library
// logs only through an injected zerolog.Logger
// (default: silent), while the CLI builds a real one writing to
// stderr, with optional rotated file output for daemon use: an
// io.MultiWriter of a lumberjack file sink plus stderr, feeding
// zerolog.New(...).With().Timestamp().Logger().
package ddclog

import (
	"io"
	"os"

	"github.com/rs/zerolog"
	lumberjack "gopkg.in/natefinch/lumberjack.v2"
)

// Silent is the core library's default logger: every event is
// discarded. Library consumers who never call WithLogger see nothing,
// matching "thin adapter over an explicit context" note.
var Silent = zerolog.New(io.Discard)

// Options configures New.
type Options struct {
	// Verbose raises the minimum level to zerolog.DebugLevel; the
	// default is zerolog.InfoLevel. ddccore logs every failed
	// operation, fatal or retries-exhausted, at ErrorLevel, so those
	// show at either level; it logs nothing for ordinary successes.
	Verbose bool
	// LogFile, if set, additionally writes to a lumberjack-rotated
	// file at this path (ddcctl detect --daemon --log-file=...).
	LogFile string
	// MaxSizeMB caps the rotated log file's size; lumberjack's own
	// default (100) applies when zero.
	MaxSizeMB int
	// MaxBackups caps the number of rotated files kept; unlimited
	// when zero.
	MaxBackups int
}

// New builds the CLI's real logger: stderr, plus a rotated file sink
// when Options.LogFile is set.
func New(opts Options) zerolog.Logger {
	writers := []io.Writer{os.Stderr}

	if opts.LogFile != "" {
		writers = append(writers, &lumberjack.Logger{
			Filename:   opts.LogFile,
			MaxSize:    opts.MaxSizeMB,
			MaxBackups: opts.MaxBackups,
		})
	}

	level := zerolog.InfoLevel
	if opts.Verbose {
		level = zerolog.DebugLevel
	}

	var out io.Writer
	if len(writers) == 1 {
		out = writers[0]
	} else {
		out = io.MultiWriter(writers...)
	}

	return zerolog.New(out).Level(level).With().Timestamp().Logger()
}
