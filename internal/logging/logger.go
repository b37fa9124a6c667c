package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Logger couples a zerolog logger with the log file it appends to, so
// users can inspect a migration after the terminal output scrolled away.
type Logger struct {
	zerolog.Logger
	file *os.File
}

// Options controls where log output goes.
type Options struct {
	// Console receives human-readable output. Nil disables the console.
	Console io.Writer
	// File receives JSON lines. Empty disables file logging.
	File  string
	Level zerolog.Level
	// NoColor disables ANSI colors on the console.
	NoColor bool
}

// New builds the process logger and installs it as the global zerolog
// logger.
func New(app string, opts Options) (*Logger, error) {
	var writers []io.Writer
	if opts.Console != nil {
		writers = append(writers, zerolog.ConsoleWriter{
			Out:        opts.Console,
			TimeFormat: time.RFC3339,
			NoColor:    opts.NoColor,
		})
	}
	l := &Logger{}
	if opts.File != "" {
		if err := os.MkdirAll(filepath.Dir(opts.File), 0o755); err != nil {
			return nil, fmt.Errorf("logging: ensure log dir: %w", err)
		}
		f, err := os.OpenFile(opts.File, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, fmt.Errorf("logging: open log file: %w", err)
		}
		l.file = f
		writers = append(writers, f)
	}
	if len(writers) == 0 {
		l.Logger = zerolog.Nop()
		return l, nil
	}
	l.Logger = zerolog.New(zerolog.MultiLevelWriter(writers...)).
		Level(opts.Level).
		With().Timestamp().Str("app", app).
		Logger()
	log.Logger = l.Logger
	return l, nil
}

// Close releases the file handle.
func (l *Logger) Close() error {
	if l == nil || l.file == nil {
		return nil
	}
	return l.file.Close()
}
