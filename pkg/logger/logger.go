package logger

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

// LogMode selects the level and console format.
type LogMode string

const (
	LogModeDebug  LogMode = "debug"
	LogModePretty LogMode = "pretty"
	LogModeInfo   LogMode = "info"
	LogModeProd   LogMode = "prod"
	LogModeTest   LogMode = "test"
)

// Config describes the console and file sinks.
type Config struct {
	Mode       LogMode
	File       string // empty disables the file sink
	MaxSizeMB  int
	MaxAgeDays int
	Console    io.Writer
}

// New builds a logger writing to the console and, when configured, to a rotated
// JSON log file. The returned closer flushes and closes the file sink and must be
// called at shutdown.
func New(cfg Config) (zerolog.Logger, io.Closer, error) {
	console := cfg.Console
	if console == nil {
		console = os.Stdout
	}

	var consoleWriter io.Writer
	switch cfg.Mode {
	case LogModeProd:
		consoleWriter = console
	case LogModeTest:
		consoleWriter = io.Discard
	default:
		consoleWriter = newConsoleWriter(console)
	}

	writers := []io.Writer{consoleWriter}
	var closer io.Closer = nopCloser{}
	if cfg.File != "" {
		maxSize := cfg.MaxSizeMB
		if maxSize <= 0 {
			maxSize = 2
		}
		maxAge := cfg.MaxAgeDays
		if maxAge <= 0 {
			maxAge = 10
		}
		file := &lumberjack.Logger{
			Filename: cfg.File,
			MaxSize:  maxSize,
			MaxAge:   maxAge,
		}
		writers = append(writers, file)
		closer = file
	}

	zerolog.TimeFieldFormat = time.RFC3339
	log := zerolog.New(zerolog.MultiLevelWriter(writers...)).
		Level(levelFor(cfg.Mode)).
		With().Timestamp().Logger()
	return log, closer, nil
}

// Nop returns a logger that discards everything.
func Nop() zerolog.Logger { return zerolog.Nop() }

// WithComponent tags every event with the emitting component.
func WithComponent(log zerolog.Logger, component string) zerolog.Logger {
	return log.With().Str("component", component).Logger()
}

func levelFor(mode LogMode) zerolog.Level {
	switch mode {
	case LogModeDebug:
		return zerolog.DebugLevel
	case LogModeTest:
		return zerolog.Disabled
	case LogModeInfo, LogModeProd, LogModePretty:
		return zerolog.InfoLevel
	default:
		return zerolog.InfoLevel
	}
}

func newConsoleWriter(out io.Writer) zerolog.ConsoleWriter {
	return zerolog.ConsoleWriter{
		Out:        out,
		TimeFormat: "2006-01-02 15:04:05",
		NoColor:    false,
		FormatLevel: func(i interface{}) string {
			s, _ := i.(string)
			return colorizeLevel(s)
		},
		FormatMessage: func(i interface{}) string {
			s, _ := i.(string)
			return colorize(s, cyan)
		},
		FormatFieldName: func(i interface{}) string {
			return colorize(fmt.Sprint(i)+":", gray)
		},
		FormatFieldValue: func(i interface{}) string {
			switch v := i.(type) {
			case string:
				return colorize(v, blue)
			case json.Number:
				return colorize(v.String(), blue)
			default:
				return colorize(fmt.Sprint(v), blue)
			}
		},
	}
}

// ANSI color codes
const (
	gray  = "\x1b[37m"
	blue  = "\x1b[34m"
	cyan  = "\x1b[36m"
	red   = "\x1b[31m"
	reset = "\x1b[0m"
)

func colorize(s, color string) string {
	return color + s + reset
}

func colorizeLevel(level string) string {
	switch level {
	case "debug":
		return colorize("DBG", gray)
	case "info":
		return colorize("INF", blue)
	case "warn":
		return colorize("WRN", cyan)
	case "error":
		return colorize("ERR", red)
	default:
		return colorize(level, blue)
	}
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
