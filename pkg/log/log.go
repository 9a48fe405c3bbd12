package log

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

var (
	// Logger is the global logger instance.
	Logger zerolog.Logger

	// Heartbeat is a child logger for the high-frequency heartbeat and
	// election-timer log lines, filtered independently of Logger so
	// operators can silence replication chatter without losing everything
	// else (--heartbeat-log-level).
	Heartbeat zerolog.Logger
)

// Level represents a log level.
type Level string

const (
	DebugLevel Level = "debug"
	InfoLevel  Level = "info"
	WarnLevel  Level = "warn"
	ErrorLevel Level = "error"
)

// Config holds logging configuration.
type Config struct {
	Level          Level
	HeartbeatLevel Level
	JSONOutput     bool
	Output         io.Writer
}

func zerologLevel(l Level) zerolog.Level {
	switch l {
	case DebugLevel:
		return zerolog.DebugLevel
	case InfoLevel:
		return zerolog.InfoLevel
	case WarnLevel:
		return zerolog.WarnLevel
	case ErrorLevel:
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// Init initializes the global and heartbeat loggers.
func Init(cfg Config) {
	output := cfg.Output
	if output == nil {
		output = os.Stdout
	}

	var base zerolog.Context
	if cfg.JSONOutput {
		base = zerolog.New(output).With().Timestamp()
	} else {
		base = zerolog.New(zerolog.ConsoleWriter{
			Out:        output,
			TimeFormat: time.RFC3339,
		}).With().Timestamp()
	}

	Logger = base.Logger().Level(zerologLevel(cfg.Level))

	hbLevel := cfg.HeartbeatLevel
	if hbLevel == "" {
		hbLevel = cfg.Level
	}
	Heartbeat = base.Str("component", "heartbeat").Logger().Level(zerologLevel(hbLevel))
}

// WithComponent creates a child logger tagged with a component name.
func WithComponent(component string) zerolog.Logger {
	return Logger.With().Str("component", component).Logger()
}

// WithServerID creates a child logger tagged with this server's id.
func WithServerID(serverID string) zerolog.Logger {
	return Logger.With().Str("server_id", serverID).Logger()
}

// WithTerm creates a child logger tagged with the current election term.
func WithTerm(term uint64) zerolog.Logger {
	return Logger.With().Uint64("term", term).Logger()
}

// WithPeer creates a child logger tagged with a peer server id.
func WithPeer(peerID string) zerolog.Logger {
	return Logger.With().Str("peer", peerID).Logger()
}

// Helper functions for common logging patterns.
func Info(msg string) {
	Logger.Info().Msg(msg)
}

func Debug(msg string) {
	Logger.Debug().Msg(msg)
}

func Warn(msg string) {
	Logger.Warn().Msg(msg)
}

func Error(msg string) {
	Logger.Error().Msg(msg)
}

func Errorf(format string, err error) {
	Logger.Error().Err(err).Msg(format)
}

func Fatal(msg string) {
	Logger.Fatal().Msg(msg)
}
