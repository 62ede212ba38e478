package asyncflow

import (
	"os"
	"sync"

	"github.com/rs/zerolog"
)

// Logger is the logging collaborator (spec §6). It is deliberately narrow:
// Info, Error, Debug and Warn methods each accepting alternating key/value
// pairs, so that any existing structured logger can be adapted with a thin
// wrapper.
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(err error, msg string, keysAndValues ...interface{})
	Debug(msg string, keysAndValues ...interface{})
	Warn(msg string, keysAndValues ...interface{})
}

// Recognized logger names (spec §6). NewLogger returns a named sub-logger
// of the process-wide default for any of them.
const (
	LoggerStartable        = "STARTABLE"
	LoggerStartableChain   = "STARTABLE.CHAIN"
	LoggerAOP              = "AOP"
	LoggerAOPPeriodic      = "AOP.PERIODIC"
	LoggerAOPBackground    = "AOP.BACKGROUND"
	LoggerAOPNop           = "AOP.NOP"
	LoggerAOPDelayed       = "AOP.DELAYED"
	LoggerAOPTimed         = "AOP.TIMED"
	LoggerAOPSeq           = "AOP.SEQ"
	LoggerAOPConcur        = "AOP.CONCUR"
	LoggerAOPOnFault       = "AOP.ON_FAULT"
	LoggerAsyncRunnable    = "ASYNC.RUNNABLE"
	LoggerScheduler        = "SCHEDULER"
	LoggerVarSimple        = "VAR.SIMPLE"
	LoggerVarSupport       = "VAR.SUPPORT"
)

var (
	baseLoggerOnce sync.Once
	baseLogger     zerolog.Logger
)

func zerologBase() zerolog.Logger {
	baseLoggerOnce.Do(func() {
		baseLogger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
			With().Timestamp().Logger()
	})
	return baseLogger
}

// zlogger is the default Logger implementation, a new instance per
// NewLogger call, backed by zerolog (spec §6 level usage: debug for
// transitions, info for terminal outcomes, warn for ignored listener errors
// or reconciliation timeouts).
type zlogger struct {
	name string
	l    zerolog.Logger
}

// NewLogger returns the default, zerolog-backed Logger for one of the
// recognized component names. Passing an unrecognized name still works --
// it simply labels the "component" field with that string.
func NewLogger(name string) Logger {
	return &zlogger{name: name, l: zerologBase().With().Str("component", name).Logger()}
}

func withFields(e *zerolog.Event, keysAndValues ...interface{}) *zerolog.Event {
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		key, ok := keysAndValues[i].(string)
		if !ok {
			continue
		}
		e = e.Interface(key, keysAndValues[i+1])
	}
	return e
}

func (z *zlogger) Info(msg string, keysAndValues ...interface{}) {
	withFields(z.l.Info(), keysAndValues...).Msg(msg)
}

func (z *zlogger) Debug(msg string, keysAndValues ...interface{}) {
	withFields(z.l.Debug(), keysAndValues...).Msg(msg)
}

func (z *zlogger) Warn(msg string, keysAndValues ...interface{}) {
	withFields(z.l.Warn(), keysAndValues...).Msg(msg)
}

func (z *zlogger) Error(err error, msg string, keysAndValues ...interface{}) {
	withFields(z.l.Error().Err(err), keysAndValues...).Msg(msg)
}

// noopLogger discards everything. A nil Logger in options selects the
// zerolog-backed NewLogger default, not noopLogger.
type noopLogger struct{}

func (noopLogger) Info(string, ...interface{})         {}
func (noopLogger) Debug(string, ...interface{})        {}
func (noopLogger) Warn(string, ...interface{})         {}
func (noopLogger) Error(error, string, ...interface{}) {}
