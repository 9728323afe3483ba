package godb

import (
	"os"

	"github.com/rs/zerolog"
)

// baseLogger is the process-wide zerolog sink every component logger
// writes through. Console-formatted to stderr; SetLogLevel adjusts its
// level, which affects component loggers created after the call.
var baseLogger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"}).
	With().Timestamp().Logger()

// SetLogLevel adjusts the minimum level baseLogger emits.
func SetLogLevel(level zerolog.Level) {
	baseLogger = baseLogger.Level(level)
}

// logger is a thin, component-tagged handle onto baseLogger. Kept as its
// own type (rather than passing zerolog.Logger around directly) so call
// sites read `bp.log.Warnf(...)` in the teacher's printf-style idiom
// instead of zerolog's structured builder chain.
type logger struct {
	z zerolog.Logger
}

func newLogger(component string) logger {
	return logger{z: baseLogger.With().Str("component", component).Logger()}
}

func (l logger) Debugf(format string, args ...any) {
	l.z.Debug().Msgf(format, args...)
}

func (l logger) Infof(format string, args ...any) {
	l.z.Info().Msgf(format, args...)
}

func (l logger) Warnf(format string, args ...any) {
	l.z.Warn().Msgf(format, args...)
}

func (l logger) Errorf(format string, args ...any) {
	l.z.Error().Msgf(format, args...)
}
