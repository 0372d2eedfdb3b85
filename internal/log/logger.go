package log

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

// FileOptions configures a rotating log file.
type FileOptions struct {
	Path       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// Loggers bundles the main logger with the user activity logger.
type Loggers struct {
	Main     *zerolog.Logger
	Activity *zerolog.Logger

	closers []io.Closer
}

// Close flushes and closes any log files.
func (l *Loggers) Close() error {
	var first error
	for _, c := range l.closers {
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// New builds a zerolog logger with the given level string (debug, info, warn, error).
func New(level string) *zerolog.Logger {
	logger := newLogger(consoleWriter(os.Stdout), level)
	return &logger
}

// Setup builds the main logger, tee'd to file when set, and the activity
// logger. Activity goes to activityFile when set, otherwise to the main logger
// tagged component=activity.
func Setup(level string, file, activityFile FileOptions) *Loggers {
	out := &Loggers{}

	var w io.Writer = consoleWriter(os.Stdout)
	if file.Path != "" {
		rot := rotating(file)
		out.closers = append(out.closers, rot)
		w = zerolog.MultiLevelWriter(w, rot)
	}
	main := newLogger(w, level)
	out.Main = &main

	if activityFile.Path != "" {
		rot := rotating(activityFile)
		out.closers = append(out.closers, rot)
		activity := zerolog.New(rot).With().Timestamp().Str("component", "activity").Logger()
		out.Activity = &activity
	} else {
		activity := main.With().Str("component", "activity").Logger()
		out.Activity = &activity
	}
	return out
}

func consoleWriter(w io.Writer) zerolog.ConsoleWriter {
	return zerolog.ConsoleWriter{
		Out:        w,
		TimeFormat: time.RFC3339,
	}
}

func newLogger(w io.Writer, level string) zerolog.Logger {
	zerolog.TimeFieldFormat = time.RFC3339Nano
	return zerolog.New(w).Level(parseLevel(level)).With().Timestamp().Logger()
}

func rotating(opts FileOptions) *lumberjack.Logger {
	return &lumberjack.Logger{
		Filename:   opts.Path,
		MaxSize:    opts.MaxSizeMB,
		MaxBackups: opts.MaxBackups,
		MaxAge:     opts.MaxAgeDays,
	}
}

func parseLevel(level string) zerolog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}
