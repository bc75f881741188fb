// Package logging builds the zerolog loggers the commands hand to every
// component. The TUI owns the terminal, so its diagnostics go to a file.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
)

type Options struct {
	// Path is the JSON log file. Empty means no file.
	Path string
	// Level falls back to info when empty or unknown.
	Level string
	// Console, when set, also receives human-readable output.
	Console   io.Writer
	Component string
}

// New returns a logger and a closer for the file it writes to.
func New(opts Options) (zerolog.Logger, io.Closer, error) {
	level, err := zerolog.ParseLevel(opts.Level)
	if err != nil || opts.Level == "" {
		level = zerolog.InfoLevel
	}

	var writers []io.Writer
	var closer io.Closer = nopCloser{}
	if opts.Path != "" {
		if err := os.MkdirAll(filepath.Dir(opts.Path), 0o755); err != nil {
			return zerolog.Nop(), nil, fmt.Errorf("create log dir: %w", err)
		}
		f, err := os.OpenFile(opts.Path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return zerolog.Nop(), nil, fmt.Errorf("open log file: %w", err)
		}
		writers = append(writers, f)
		closer = f
	}
	if opts.Console != nil {
		writers = append(writers, zerolog.ConsoleWriter{Out: opts.Console, TimeFormat: time.RFC3339})
	}
	if len(writers) == 0 {
		return zerolog.Nop(), closer, nil
	}

	ctx := zerolog.New(zerolog.MultiLevelWriter(writers...)).Level(level).With().Timestamp()
	if opts.Component != "" {
		ctx = ctx.Str("component", opts.Component)
	}
	return ctx.Logger(), closer, nil
}

// Nop discards everything.
func Nop() zerolog.Logger {
	return zerolog.Nop()
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
