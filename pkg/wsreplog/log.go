package wsreplog

import (
	"io"
	"os"

	"github.com/rs/zerolog"
)

// Logger is the global logger instance used by components that do not carry
// their own injected sink.
var Logger zerolog.Logger

// Level is a logging severity, matching the core's log_message(level, msg)
// contract exposed to the server service.
type Level string

const (
	DebugLevel Level = "debug"
	InfoLevel  Level = "info"
	WarnLevel  Level = "warn"
	ErrorLevel Level = "error"
)

// Config holds logging configuration.
type Config struct {
	Level      Level
	JSONOutput bool
	Output     io.Writer
}

// Init initializes the global logger.
func Init(cfg Config) {
	var level zerolog.Level
	switch cfg.Level {
	case DebugLevel:
		level = zerolog.DebugLevel
	case InfoLevel:
		level = zerolog.InfoLevel
	case WarnLevel:
		level = zerolog.WarnLevel
	case ErrorLevel:
		level = zerolog.ErrorLevel
	default:
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	output := cfg.Output
	if output == nil {
		output = os.Stdout
	}

	if cfg.JSONOutput {
		Logger = zerolog.New(output).With().Timestamp().Logger()
	} else {
		Logger = zerolog.New(zerolog.ConsoleWriter{Out: output}).With().Timestamp().Logger()
	}
}

func init() {
	Init(Config{Level: InfoLevel})
}

// WithComponent returns a child logger tagged with a component name, e.g.
// "txn", "server", "dispatcher".
func WithComponent(component string) zerolog.Logger {
	return Logger.With().Str("component", component).Logger()
}

// WithServer tags a child logger with the owning server's id.
func WithServer(serverID string) zerolog.Logger {
	return Logger.With().Str("server_id", serverID).Logger()
}

// WithClient tags a child logger with a client id.
func WithClient(clientID uint64) zerolog.Logger {
	return Logger.With().Uint64("client_id", clientID).Logger()
}

// WithTransaction tags a child logger with a transaction id.
func WithTransaction(txID uint64) zerolog.Logger {
	return Logger.With().Uint64("trx_id", txID).Logger()
}

// Sink is the narrow logging capability the core's components depend on,
// so a DBMS integration can redirect log_message/log_state_change into its
// own logger instead of the package-global one.
type Sink interface {
	Logf(level Level, format string, args ...any)
}

// defaultSink logs through the package-global Logger.
type defaultSink struct {
	logger zerolog.Logger
}

// NewSink wraps a zerolog.Logger as a Sink.
func NewSink(logger zerolog.Logger) Sink {
	return &defaultSink{logger: logger}
}

// DefaultSink returns a Sink backed by the global Logger.
func DefaultSink() Sink {
	return &defaultSink{logger: Logger}
}

func (s *defaultSink) Logf(level Level, format string, args ...any) {
	var event *zerolog.Event
	switch level {
	case DebugLevel:
		event = s.logger.Debug()
	case WarnLevel:
		event = s.logger.Warn()
	case ErrorLevel:
		event = s.logger.Error()
	default:
		event = s.logger.Info()
	}
	event.Msgf(format, args...)
}
